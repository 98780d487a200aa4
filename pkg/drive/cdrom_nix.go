// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"runtime"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"
	"golang.org/x/sys/unix"
)

// Defined in <linux/cdrom.h>
const (
	CDROMREADTOCHDR    = 0x5305
	CDROMREADTOCENTRY  = 0x5306
	CDROMREADAUDIO     = 0x530e
	CDROMMULTISESSION  = 0x5310
	CDROM_SELECT_SPEED = 0x5322
	CDROMAUDIOBUFSIZ   = 0x5382

	CDROM_LBA = 0x01
)

type cdromTochdr struct {
	trk0 uint8
	trk1 uint8
}

type cdromTocentry struct {
	track    uint8
	adrCtrl  uint8 // adr in the low nibble, ctrl in the high
	format   uint8
	_        uint8
	addr     int32
	datamode uint8 //nolint:structcheck,unused
	_        [3]uint8
}

type cdromReadAudio struct {
	addr    int32
	format  uint8
	_       [3]uint8
	nframes int32
	buf     unsafe.Pointer
}

type cdromMultisession struct {
	addr       int32
	xaFlag     uint8
	addrFormat uint8
	_          [2]uint8
}

// cdromIoctl passes arg, and data if any, pinned to the driver.
func cdromIoctl[T any](fd FdIntf, req uintptr, arg *T, data []byte) error {
	var pin runtime.Pinner
	defer pin.Unpin()
	pin.Pin(arg)
	if len(data) > 0 {
		pin.Pin(&data[0])
	}
	err := ioctl.Ioctl(fd.Fd(), req, uintptr(unsafe.Pointer(arg)))
	runtime.KeepAlive(fd)
	return err
}

// cdromDevice is a CD-ROM block device node.
type cdromDevice struct {
	fd    FdIntf
	model string
}

var _ CookedDevice = (*cdromDevice)(nil)

func (c *cdromDevice) Model() string {
	return c.model
}

func (c *cdromDevice) ReadTOCHeader() (int, int, error) {
	hdr := new(cdromTochdr)
	err := cdromIoctl(c.fd, CDROMREADTOCHDR, hdr, nil)
	return int(hdr.trk0), int(hdr.trk1), err
}

func (c *cdromDevice) ReadTOCEntry(track int) (byte, int, error) {
	e := &cdromTocentry{track: uint8(track), format: CDROM_LBA}
	err := cdromIoctl(c.fd, CDROMREADTOCENTRY, e, nil)
	if err != nil {
		return 0, 0, err
	}
	adr, ctrl := e.adrCtrl&0x0f, e.adrCtrl>>4
	return adr<<4 | ctrl, int(e.addr), nil
}

func (c *cdromDevice) ReadAudio(p []byte, begin, sectors int) error {
	arg := &cdromReadAudio{
		addr:    int32(begin),
		format:  CDROM_LBA,
		nframes: int32(sectors),
		buf:     unsafe.Pointer(&p[0]),
	}
	return cdromIoctl(c.fd, CDROMREADAUDIO, arg, p)
}

func (c *cdromDevice) MultisessionStart() (int, error) {
	ms := &cdromMultisession{addrFormat: CDROM_LBA}
	if err := cdromIoctl(c.fd, CDROMMULTISESSION, ms, nil); err != nil {
		return 0, err
	}
	if ms.xaFlag == 0 {
		return 0, nil
	}
	return int(ms.addr), nil
}

func (c *cdromDevice) SelectSpeed(speed int) error {
	if speed < 0 {
		speed = 0
	}
	err := unix.IoctlSetInt(int(c.fd.Fd()), CDROM_SELECT_SPEED, speed)
	runtime.KeepAlive(c.fd)
	return err
}

func (c *cdromDevice) SetAudioBufSize(frames int) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, c.fd.Fd(), CDROMAUDIOBUFSIZ, uintptr(frames))
	runtime.KeepAlive(c.fd)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

func (c *cdromDevice) Close() error {
	return c.fd.Close()
}
