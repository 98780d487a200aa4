// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// Block device majors that need special handling on the cooked path.
const (
	IDE0Major        = 3
	IDE1Major        = 22
	IDE2Major        = 33
	IDE3Major        = 34
	Matsushita0Major = 25
	Matsushita3Major = 28
)

const (
	cookedDefaultSectors = 40
	cookedIDESectors     = 8
)

var cookedPolicy = policy{
	backoff: backoffThreeQuarters,
	benign:  []unix.Errno{unix.ENXIO, unix.EBADF, unix.ENOMEDIUM},
}

// CookedDevice is a CD-ROM driven through the kernel's own audio ioctls.
type CookedDevice interface {
	// Model names the drive, if the platform can tell.
	Model() string
	ReadTOCHeader() (first, last int, err error)
	// ReadTOCEntry returns the flags and LBA start of track, LeadOut
	// included.
	ReadTOCEntry(track int) (flags byte, start int, err error)
	// ReadAudio reads sectors raw frames at begin into p.
	ReadAudio(p []byte, begin, sectors int) error
	SelectSpeed(speed int) error
	// SetAudioBufSize asks the driver to buffer frames sectors. A zero
	// result means the driver refused.
	SetAudioBufSize(frames int) (int, error)
	// MultisessionStart returns the start of the last session, zero for a
	// single session disc.
	MultisessionStart() (int, error)
	Close() error
}

type cookedBackend struct {
	d       *Drive
	dev     CookedDevice
	major   uint32
	scratch []byte
}

// OpenCooked opens a drive through the kernel CD-ROM ioctls. major is the
// block device major of the node, which selects driver specific defaults.
func OpenCooked(device string, dev CookedDevice, major uint32, opts ...Option) (*Drive, error) {
	d := newDrive(device, CookedIoctl, opts)
	c := &cookedBackend{d: d, dev: dev, major: major}
	if err := d.open(c); err != nil {
		return nil, err
	}
	return d, nil
}

func (c *cookedBackend) init() error {
	d := c.d
	d.model = c.dev.Model()
	if d.model == "" {
		d.model = "ATAPI compatible"
	}
	d.id.Product = d.model
	d.messagef("\tCDROM model sensed: %s", d.model)

	switch {
	case c.major >= Matsushita0Major && c.major <= Matsushita3Major:
		d.nsectors = cookedIDESectors
		for {
			// The driver answers zero when it cannot honour the size.
			if n, err := c.dev.SetAudioBufSize(d.nsectors); err == nil && n != 0 {
				break
			}
			d.nsectors >>= 1
			if d.nsectors == 0 {
				d.nsectors = cookedIDESectors
				d.messagef("\tTrouble setting buffer size in defaults; using %d...", d.nsectors)
				break
			}
		}
	case c.major == IDE0Major || c.major == IDE1Major || c.major == IDE2Major || c.major == IDE3Major:
		d.nsectors = cookedIDESectors
		d.id.ATAPI = true
		if q, ok := d.lookupQuirk(QuirksATAPI); ok && q.BigEndian != nil {
			d.order = orderOf(*q.BigEndian)
		}
	default:
		d.nsectors = cookedDefaultSectors
	}

	toc, err := c.readTOC()
	if err != nil {
		return err
	}
	if err := d.setTOC(toc); err != nil {
		return err
	}
	if start, err := c.dev.MultisessionStart(); err == nil {
		d.trimSessions(start)
	}

	if err := c.verify(); err != nil {
		return err
	}
	d.errorRetry = true
	d.reportAll = true
	return nil
}

func (c *cookedBackend) readTOC() (TOC, error) {
	d := c.d
	first, last, err := c.dev.ReadTOCHeader()
	if err != nil {
		if errors.Is(err, unix.EPERM) {
			return nil, d.fail(ErrPermissionDenied, err)
		}
		return nil, d.fail(ErrTOCHeader, err)
	}
	tracks := last - first + 1
	if tracks > MaxTracks || tracks < 0 {
		return nil, d.fail(ErrTrackCount, nil)
	}

	toc := make(TOC, 0, tracks+1)
	for i := first; i <= last; i++ {
		flags, start, err := c.dev.ReadTOCEntry(i)
		if err != nil {
			return nil, d.fail(ErrTOCEntry, err)
		}
		toc = append(toc, Track{Number: i, Start: start, Flags: flags})
	}
	flags, start, err := c.dev.ReadTOCEntry(LeadOut)
	if err != nil {
		return nil, d.fail(ErrTOCLeadOut, err)
	}
	return append(toc, Track{Number: LeadOut, Start: start, Flags: flags}), nil
}

// verify checks that at least one audio track gives up a frame.
func (c *cookedBackend) verify() error {
	d := c.d
	d.messagef("Verifying drive can read CDDA...")

	audio := d.toc.AudioTracks()
	for _, t := range audio {
		if n, err := c.read(nil, d.midpoint(t), 1); err == nil && n > 0 {
			d.messagef("\tExpected command set reads OK.")
			return nil
		}
	}
	if len(audio) == 0 {
		d.errorf("\tThe CDROM has no audio tracks to probe with")
		return d.fail(ErrNoAudioTracks, nil)
	}
	d.errorf("\tUnable to read any data;\n\tdrive probably not CDDA capable.")
	return d.fail(ErrNoData, nil)
}

func (c *cookedBackend) enable(bool) error {
	return nil
}

func (c *cookedBackend) attempt(p []byte, begin, sectors int) error {
	if p == nil {
		if n := sectors * FrameSize; len(c.scratch) < n {
			c.scratch = make([]byte, n)
		}
		p = c.scratch
	}
	start := time.Now()
	err := c.dev.ReadAudio(p[:sectors*FrameSize], begin, sectors)
	c.d.timed(time.Since(start))
	return err
}

func (c *cookedBackend) read(p []byte, begin, sectors int) (int, error) {
	return c.d.recoverRead(cookedPolicy, c, p, begin, sectors)
}

func (c *cookedBackend) setSpeed(speed int) error {
	return c.dev.SelectSpeed(speed)
}

func (c *cookedBackend) close() error {
	return c.dev.Close()
}
