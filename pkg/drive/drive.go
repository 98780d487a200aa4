// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
	"github.com/yalue/native_endian"
)

// FrameSize is the size of one raw audio sector.
const FrameSize = sgio.FrameSize

// Interface is the kernel path a drive is reached through.
type Interface int

const (
	InterfaceAuto Interface = iota
	CookedIoctl
	GenericSCSI
	SGIO
	SGIOBuggy
	Test
)

var interfaceNames = [...]string{
	InterfaceAuto: "auto",
	CookedIoctl:   "cooked",
	GenericSCSI:   "generic-scsi",
	SGIO:          "sgio",
	SGIOBuggy:     "sgio-buggy",
	Test:          "test",
}

func (i Interface) String() string {
	if i < 0 || int(i) >= len(interfaceNames) {
		return fmt.Sprintf("Interface(%d)", int(i))
	}
	return interfaceNames[i]
}

// ParseInterface returns the interface named s.
func ParseInterface(s string) (Interface, error) {
	for i, n := range interfaceNames {
		if n == s {
			return Interface(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInterfaceNotSupported, s)
}

// ByteOrder is the order of the two bytes of each audio sample.
type ByteOrder int

const (
	OrderUnknown ByteOrder = iota
	OrderLittle
	OrderBig
)

func (o ByteOrder) String() string {
	switch o {
	case OrderLittle:
		return "little-endian"
	case OrderBig:
		return "big-endian"
	}
	return "unknown"
}

func orderOf(big bool) ByteOrder {
	if big {
		return OrderBig
	}
	return OrderLittle
}

func hostOrder() ByteOrder {
	return orderOf(native_endian.NativeEndian().Uint16([]byte{0, 1}) == 1)
}

type Identity struct {
	Interface string
	Vendor    string
	Product   string
	Revision  string
	ATAPI     bool
	MMC       bool
}

func (i *Identity) String() string {
	return fmt.Sprintf("Interface=%s, Vendor=%s, Product=%s, Revision=%s, ATAPI=%v, MMC=%v",
		i.Interface, i.Vendor, i.Product, i.Revision, i.ATAPI, i.MMC)
}

// backend is the operation set a transport binds once at open.
type backend interface {
	// init identifies the drive, reads the TOC and settles on a working
	// read command.
	init() error
	enable(on bool) error
	// read reads up to sectors frames at begin into p, or only verifies
	// them when p is nil.
	read(p []byte, begin, sectors int) (int, error)
	setSpeed(speed int) error
	close() error
}

// Drive is an open CD drive. It is not safe for concurrent use.
type Drive struct {
	device string
	iface  Interface
	model  string
	id     Identity
	opts   options

	msg  *logSink
	errs *logSink

	b        backend
	toc      TOC
	order    ByteOrder
	nsectors int
	opened   bool
	sessions bool

	errorRetry bool
	reportAll  bool

	// last transport data transaction, negative when unmeasured
	elapsed time.Duration
}

func newDrive(device string, iface Interface, opts []Option) *Drive {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Drive{
		device:  device,
		iface:   iface,
		opts:    o,
		msg:     newLogSink(o.msgMode, o.logger),
		errs:    newLogSink(o.errMode, o.logger),
		elapsed: -1,
	}
	d.id.Interface = iface.String()
	return d
}

// open runs the backend initializer and enables audio mode.
func (d *Drive) open(b backend) error {
	d.b = b
	if err := b.init(); err != nil {
		d.opened = false
		return err
	}
	if d.order == OrderUnknown {
		b.enable(true) //nolint:errcheck
		d.order = d.detectByteOrder()
		b.enable(false) //nolint:errcheck
	}
	if err := b.enable(true); err != nil {
		d.opened = false
		return err
	}
	d.opened = true
	return nil
}

// setTOC installs a freshly read table of contents after checking it.
func (d *Drive) setTOC(t TOC) error {
	if err := t.Validate(); err != nil {
		return d.fail(ErrIllegalTOC, nil)
	}
	d.toc = t
	return nil
}

func (d *Drive) Device() string {
	return d.device
}

func (d *Drive) Interface() Interface {
	return d.iface
}

// Model is the identity string quirks are matched against.
func (d *Drive) Model() string {
	return d.model
}

func (d *Drive) Identify() (*Identity, error) {
	if d.b == nil {
		return nil, ErrNotOpen
	}
	id := d.id
	return &id, nil
}

// trimSessions adjusts the table of contents for a disc whose last session
// starts at lastSession.
func (d *Drive) trimSessions(lastSession int) {
	if d.toc.TrimSessions(lastSession) {
		d.sessions = true
		d.messagef("\tMultisession disc, last session at sector %d", lastSession)
	}
}

// Multisession reports whether the disc carries more than one session, as
// enhanced CDs with a trailing data session do.
func (d *Drive) Multisession() bool {
	return d.sessions
}

// TOC returns a copy of the table of contents.
func (d *Drive) TOC() TOC {
	return append(TOC(nil), d.toc...)
}

// ApplyOffset shifts the drive's table of contents by bias sectors.
func (d *Drive) ApplyOffset(bias int) {
	d.toc.ApplyOffset(bias)
}

// NSectors is the largest number of frames a single read transfers.
func (d *Drive) NSectors() int {
	return d.nsectors
}

// ByteOrder is the drive's native sample order.
func (d *Drive) ByteOrder() ByteOrder {
	return d.order
}

func (d *Drive) BigEndian() bool {
	return d.order == OrderBig
}

// LastMilliseconds returns the duration of the last transport data
// transaction, or -1 if it was not measured.
func (d *Drive) LastMilliseconds() int {
	if d.elapsed < 0 {
		return -1
	}
	return int(d.elapsed.Milliseconds())
}

// ReadAudio reads up to sectors frames starting at begin into p and
// returns how many were read. A nil p verifies the sectors without
// returning them. Fewer frames than requested, or none at all at the end
// of the readable area, are not an error.
func (d *Drive) ReadAudio(p []byte, begin, sectors int) (int, error) {
	if !d.opened {
		return 0, d.fail(ErrNotOpen, nil)
	}
	if p != nil && len(p) < sectors*FrameSize {
		sectors = len(p) / FrameSize
	}
	if sectors <= 0 {
		return 0, nil
	}
	d.elapsed = -1

	n, err := d.b.read(p, begin, sectors)
	if err != nil {
		var se *SectorError
		if errors.As(err, &se) {
			d.opts.metrics.sectorError(d)
		}
		return 0, err
	}
	if n > 0 {
		d.opts.metrics.sectorsRead(d, n)
		if d.order == OrderUnknown {
			d.order = d.detectByteOrder()
		}
		if p != nil && d.opts.hostOrder && d.order != hostOrder() {
			swap16(p[:n*FrameSize])
		}
	}
	return n, nil
}

// SetSpeed selects a read speed as a multiple of audio playback speed; -1
// selects the fastest.
func (d *Drive) SetSpeed(speed int) error {
	if d.b == nil {
		return d.fail(ErrNotOpen, nil)
	}
	if err := d.b.setSpeed(speed); err != nil {
		return d.fail(ErrNotSupported, err)
	}
	return nil
}

// Close leaves audio mode and releases the device.
func (d *Drive) Close() error {
	if d.b == nil {
		return nil
	}
	if d.opened {
		d.b.enable(false) //nolint:errcheck
		d.opened = false
	}
	return d.b.close()
}

func swap16(b []byte) {
	for i := 0; i+1 < len(b); i += 2 {
		b[i], b[i+1] = b[i+1], b[i]
	}
}

// label trims fixed-width INQUIRY fields.
func label(b []byte) string {
	return strings.TrimRight(strings.TrimRight(string(b), "\x00"), " ")
}
