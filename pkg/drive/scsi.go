// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
)

const (
	// Default cap on a single transfer.
	maxTransfer = 64 * 1024

	peripheralWORM = 0x04
	peripheralROM  = 0x05
)

var scsiPolicy = policy{
	backoff:    backoffHalve,
	verifyFill: true,
	reset:      true,
}

type scsiBackend struct {
	d      *Drive
	host   sgio.Host
	dev    *sgio.Device
	closer io.Closer

	atapi bool
	mmc   bool

	density     byte
	enableMode  Enable
	cmd         sgio.ReadCommand
	fua         bool
	origDensity byte
	origSize    int
	// multiplier for TOC addresses reported in sub-2048 byte blocks
	adjust int
	ims    bool
}

// OpenSCSI opens a drive reachable through a SCSI generic host. The
// interface defaults to SGIO and may be set to GenericSCSI or SGIOBuggy
// with WithInterface. closer, if not nil, is closed with the drive.
func OpenSCSI(device string, h sgio.Host, closer io.Closer, opts ...Option) (*Drive, error) {
	d := newDrive(device, SGIO, opts)
	switch d.opts.iface {
	case InterfaceAuto, SGIO:
	case GenericSCSI, SGIOBuggy:
		d.iface = d.opts.iface
		d.id.Interface = d.iface.String()
	default:
		return nil, d.fail(ErrInterfaceNotSupported, nil)
	}

	if l, ok := h.(*sgio.Legacy); ok {
		l.Logf = d.messagef
	}

	s := &scsiBackend{
		d:      d,
		host:   h,
		dev:    sgio.NewDevice(h, 256),
		closer: closer,
		adjust: 1,
	}
	if err := d.open(s); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *scsiBackend) init() error {
	d := s.d

	inq, err := s.dev.Inquiry()
	if err != nil {
		return d.fail(ErrIdentify, err)
	}
	if t := inq.Peripheral & 0x1f; t != peripheralROM && t != peripheralWORM {
		d.errorf("\t\tDevice is neither a CDROM nor a WORM device")
		return d.fail(ErrIdentify, nil)
	}
	d.model = inq.Model()
	d.id.Vendor = label(inq.VendorIdent[:])
	d.id.Product = label(inq.ProductIdent[:])
	d.id.Revision = label(inq.ProductRev[:])
	d.messagef("\tCDROM model sensed: %s", d.model)

	s.checkATAPI()
	s.checkMMC()

	s.density = 0
	s.enableMode = EnableDummy
	s.cmd = sgio.ReadD8
	s.fua = false
	if s.atapi {
		s.dev.LUN = 0
	}

	switch {
	case s.mmc:
		s.cmd = sgio.ReadMMC2B
		d.order = OrderLittle
		s.applyQuirk(QuirksMMC)
	case s.atapi:
		// Not MMC, but READ CD may still work.
		s.cmd = sgio.ReadMMC2B
		d.order = OrderLittle
		s.applyQuirk(QuirksATAPI)
	default:
		s.applyQuirk(QuirksSCSI)
	}

	s.ims = strings.HasPrefix(d.model, "IMS") && !s.atapi

	size := s.origSectorSize()
	if !s.atapi && size > 0 && size < 2048 && s.dev.ModeSelect(s.origDensity, 2048) != nil {
		s.adjust = 2048 / size
	}

	toc, err := s.readTOC()
	if err != nil {
		return err
	}
	if err := d.setTOC(toc); err != nil {
		return err
	}
	if !s.ims {
		if _, start, err := s.dev.ReadSessionInfo(); err == nil {
			d.trimSessions(int(start) * s.adjust)
		}
	}

	if err := s.tweakBuffer(); err != nil {
		return err
	}

	if err := s.verify(); err != nil {
		return err
	}
	s.checkCache()

	d.errorRetry = true
	d.reportAll = true
	return nil
}

func (s *scsiBackend) applyQuirk(l QuirkList) {
	q, ok := s.d.lookupQuirk(l)
	if !ok {
		return
	}
	if q.Density != 0 {
		s.density = q.Density
	}
	if q.Enable != EnableDefault {
		s.enableMode = q.Enable
	}
	if q.Read != nil {
		s.cmd = *q.Read
	}
	if q.BigEndian != nil {
		s.d.order = orderOf(*q.BigEndian)
	}
}

func (s *scsiBackend) checkATAPI() {
	d := s.d
	d.messagef("\nChecking for SCSI emulation...")
	atapi, err := s.host.EmulatedHost()
	if err != nil {
		d.errorf("\tSG_EMULATED_HOST ioctl() failed!")
		return
	}
	if !atapi {
		d.messagef("\tDrive is SCSI")
		return
	}
	switch d.iface {
	case SGIO:
		d.messagef("\tDrive is ATAPI (using SG_IO host adaptor emulation)")
	case SGIOBuggy:
		d.messagef("\tDrive is ATAPI (using SG_IO host adaptor emulation with workarounds)")
	default:
		d.messagef("\tDrive is ATAPI (using SCSI host adaptor emulation)")
		// Bypass the kernel's own ATAPI command translation.
		if err := s.host.SetTransform(false); err != nil {
			d.errorf("\tCouldn't disable kernel command translation layer")
		}
	}
	s.atapi = true
	s.dev.ATAPI = true
	d.id.ATAPI = true
}

func (s *scsiBackend) checkMMC() {
	d := s.d
	d.messagef("\nChecking for MMC style command set...")
	b, err := s.dev.ModeSense(22, 0x2a)
	if err == nil {
		off := int(b[3]) + 4
		if off+6 <= len(b) && b[off]&0x3f == 0x2a {
			page := b[off:]
			s.mmc = true
			d.id.MMC = true
			d.messagef("\tDrive is MMC style")
			if page[1] >= 4 {
				if page[5]&1 != 0 {
					d.messagef("\tDrive supports MMC CDDA")
				} else {
					d.messagef("\tDrive does not have MMC CDDA support")
				}
			}
			return
		}
	}
	d.messagef("\tDrive does not have MMC CDDA support")
}

// origSectorSize records the density code and block length the drive was
// found with, so they can be restored when audio mode is left.
func (s *scsiBackend) origSectorSize() int {
	s.origSize = 2048
	b, err := s.dev.ModeSense(12, 0x01)
	if err != nil {
		return -1
	}
	s.origDensity = b[4]
	s.origSize = int(binary.BigEndian.Uint16(b[10:12]))
	return s.origSize
}

func (s *scsiBackend) enable(on bool) error {
	if s.enableMode != EnableModeSelect {
		return nil
	}
	var err error
	if on {
		err = s.dev.ModeSelect(s.density, FrameSize)
	} else {
		err = s.dev.ModeSelect(s.origDensity, s.origSize)
	}
	if err != nil {
		if s.d.errorRetry {
			s.d.errorf("%v", ErrSetReadAudioMode)
		}
		return codeError(ErrSetReadAudioMode, err)
	}
	return nil
}

func (s *scsiBackend) readTOC() (TOC, error) {
	if s.ims {
		return s.readTOCIMS()
	}
	d := s.d

	first, last, err := s.dev.ReadTOCHeader()
	if err != nil {
		return nil, d.fail(ErrTOCHeader, err)
	}
	tracks := last - first + 1
	if tracks > MaxTracks || tracks < 0 {
		return nil, d.fail(ErrTrackCount, nil)
	}

	toc := make(TOC, 0, tracks+1)
	for i := first; i <= last; i++ {
		flags, start, err := s.dev.ReadTOCEntry(byte(i))
		if err != nil {
			return nil, d.fail(ErrTOCEntry, err)
		}
		toc = append(toc, Track{Number: i, Start: int(start) * s.adjust, Flags: flags})
	}

	flags, start, err := s.dev.ReadTOCEntry(sgio.TOCLeadOut)
	if err != nil {
		return nil, d.fail(ErrTOCLeadOut, err)
	}
	toc = append(toc, Track{Number: LeadOut, Start: int(start) * s.adjust, Flags: flags})
	return toc, nil
}

// readTOCIMS reads the per-track records of the 0xE5 dialect. The lead-out
// is where the last track ends.
func (s *scsiBackend) readTOCIMS() (TOC, error) {
	d := s.d

	hdr, err := s.dev.ReadTOCIMS(1)
	if err != nil {
		return nil, d.fail(ErrTOCHeader, err)
	}
	if hdr.Tracks > MaxTracks {
		return nil, d.fail(ErrTrackCount, nil)
	}

	toc := make(TOC, 0, hdr.Tracks+1)
	var rec sgio.IMSTrack
	for i := 1; i <= hdr.Tracks; i++ {
		rec, err = s.dev.ReadTOCIMS(byte(i))
		if err != nil {
			return nil, d.fail(ErrTOCEntry, err)
		}
		toc = append(toc, Track{Number: i, Start: int(rec.Start) * s.adjust, Flags: rec.Flags})
	}
	toc = append(toc, Track{Number: LeadOut, Start: int(rec.Start+rec.Length) * s.adjust})
	return toc, nil
}

// tweakBuffer walks the reserved transfer size up until the kernel refuses
// it, then derives the sectors per read from what was granted.
func (s *scsiBackend) tweakBuffer() error {
	d := s.d
	for cur := 2; cur*512 < 1<<30; cur <<= 1 {
		if err := s.host.SetReservedSize(cur * 512); err != nil {
			break
		}
	}
	reserved, err := s.host.ReservedSize()
	if err != nil {
		reserved = maxTransfer
	}
	table, err := s.host.TableSize()
	if err != nil {
		table = 1
	}
	d.messagef("\tDMA scatter/gather table entries: %d\n\t"+
		"table entry size: %d bytes\n\t"+
		"maximum theoretical transfer: %d sectors",
		table, reserved, table*(reserved/FrameSize))

	cur := reserved
	if !d.opts.ignoreBufLimit {
		cur = min(cur, maxTransfer)
	} else {
		d.messagef("\tEnvironment variable %s set,\n\t\tforcing maximum possible sector size.  This can break\n\t\tspectacularly; use with caution!",
			EnvIgnoreBufferLimit)
	}
	d.nsectors = cur / FrameSize
	if d.nsectors == 0 {
		d.errorf("\tTransfer buffer of %d bytes is smaller than one sector", cur)
		return d.fail(ErrKernelMemory, nil)
	}
	d.messagef("\tSetting default read size to %d sectors (%d bytes).\n", d.nsectors, d.nsectors*FrameSize)
	s.dev.Grow(d.nsectors * FrameSize)
	return nil
}

func (s *scsiBackend) attempt(p []byte, begin, sectors int) error {
	err := s.dev.ReadAudio(s.cmd, begin, sectors, s.fua)
	s.d.timed(s.host.Elapsed())
	if err != nil {
		return err
	}
	if p != nil {
		copy(p, s.dev.Buf[:sectors*FrameSize])
	}
	return nil
}

func (s *scsiBackend) read(p []byte, begin, sectors int) (int, error) {
	return s.d.recoverRead(scsiPolicy, s, p, begin, sectors)
}

// busReset resets the SCSI bus and waits for the drive to settle.
func (s *scsiBackend) busReset() {
	d := s.d
	s.enable(false) //nolint:errcheck

	if err := s.host.Reset(); err != nil {
		d.messagef("sending SG SCSI reset... FAILED: EBUSY")
	} else {
		d.messagef("sending SG SCSI reset... OK")
	}
	for i := 0; i < d.opts.resetPolls; i++ {
		if !sgio.BecomingReady(s.dev.TestUnitReady()) {
			break
		}
		time.Sleep(10 * time.Microsecond)
	}

	s.enable(true) //nolint:errcheck
}

func (s *scsiBackend) setSpeed(speed int) error {
	err := s.dev.SetSpeed(speed)
	if errors.Is(err, sgio.ErrIllegalRequest) {
		return ErrNotSupported
	}
	return err
}

func (s *scsiBackend) close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
