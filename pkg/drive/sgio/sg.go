// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Copyright 2021 Christian Svensson. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// SCSI generic IO functions.

package sgio

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"
	"golang.org/x/sys/unix"
)

type CDBDirection int32

const (
	CDBNone         CDBDirection = -1
	CDBToDevice     CDBDirection = -2
	CDBFromDevice   CDBDirection = -3
	CDBToFromDevice CDBDirection = -4

	SG_IO = 0x2285

	SG_FLAG_DIRECT_IO = 0x1

	// Controller timeout of a single SG_IO call in milliseconds. Some drives
	// retry soft errors internally for a long time before answering.
	SGIO_TIMEOUT = 50000
)

// SCSI CDB types
type (
	CDB6  [6]byte
	CDB10 [10]byte
	CDB12 [12]byte
)

// SCSI generic ioctl header, defined as sg_io_hdr_t in <scsi/sg.h>
type sgIoHdr struct {
	interface_id    int32          // 'S' for SCSI generic (required)
	dxfer_direction CDBDirection   // data transfer direction
	cmd_len         uint8          // SCSI command length (<= 16 bytes)
	mx_sb_len       uint8          // max length to write to sbp
	iovec_count     uint16         //nolint:structcheck,unused // 0 implies no scatter gather
	dxfer_len       uint32         // byte count of data transfer
	dxferp          unsafe.Pointer // points to data transfer memory or scatter gather list
	cmdp            unsafe.Pointer // points to command to perform
	sbp             unsafe.Pointer // points to sense_buffer memory
	timeout         uint32         // MAX_UINT -> no timeout (unit: millisec)
	flags           uint32         // 0 -> default, see SG_FLAG...
	pack_id         int32          //nolint:structcheck,unused // unused internally (normally)
	usr_ptr         uintptr        //nolint:structcheck,unused // unused internally
	status          uint8          // SCSI status
	masked_status   uint8          //nolint:structcheck,unused // shifted, masked scsi status
	msg_status      uint8          //nolint:structcheck,unused // messaging level data (optional)
	sb_len_wr       uint8          //nolint:structcheck,unused // byte count actually written to sbp
	host_status     uint16         //nolint:structcheck,unused // errors from host adapter
	driver_status   uint16         //nolint:structcheck,unused // errors from software driver
	resid           int32          //nolint:structcheck,unused // dxfer_len - actual_transferred
	duration        uint32         //nolint:structcheck,unused // time taken by cmd (unit: millisec)
	info            uint32         //nolint:structcheck,unused // auxiliary information
}

// ioctlFunc issues one ioctl whose argument is a pointer into Go memory.
type ioctlFunc func(fd, req uintptr, arg unsafe.Pointer) error

func sysIoctl(fd, req uintptr, arg unsafe.Pointer) error {
	return ioctl.Ioctl(fd, req, uintptr(arg))
}

// SGIO is the unified SG_IO passthrough transport. It works on sg character
// devices as well as on SCSI and ATAPI block devices.
type SGIO struct {
	adapter

	// Buggy maps bidirectional transfers to from-device only, for
	// controllers that mishandle duplex framing.
	buggy   bool
	elapsed time.Duration
}

// NewSGIO returns a transport issuing SG_IO on fd.
func NewSGIO(fd uintptr, buggy bool) *SGIO {
	return &SGIO{adapter: adapter{fd: fd, ioctl: sysIoctl}, buggy: buggy}
}

func (s *SGIO) Elapsed() time.Duration {
	return s.elapsed
}

func (s *SGIO) Exec(buf, cdb, in []byte, out int, fill byte, check bool) error {
	if len(buf) < len(in) || len(buf) < out {
		return &Error{Status: StatusOverrun, Errno: unix.EINVAL}
	}
	copy(buf, in)
	if check && out > len(in) {
		fillRange(buf[len(in):out], fill)
	}

	// Everything the kernel dereferences stays pinned until Exec returns.
	sense := new(Sense)
	hdr := &sgIoHdr{
		interface_id: 'S',
		cmd_len:      uint8(len(cdb)),
		mx_sb_len:    uint8(len(sense)),
		timeout:      SGIO_TIMEOUT,
		flags:        SG_FLAG_DIRECT_IO,
		cmdp:         unsafe.Pointer(&cdb[0]),
		sbp:          unsafe.Pointer(&sense[0]),
	}
	var pin runtime.Pinner
	defer pin.Unpin()
	pin.Pin(hdr)
	pin.Pin(sense)
	pin.Pin(&cdb[0])
	if len(buf) > 0 {
		hdr.dxferp = unsafe.Pointer(&buf[0])
		pin.Pin(&buf[0])
	}

	if len(in) > 0 {
		hdr.dxfer_len = uint32(len(in))
		hdr.dxfer_direction = CDBToDevice
		err := s.ioctl(s.fd, SG_IO, unsafe.Pointer(hdr))
		if err == nil && hdr.status != 0 {
			if serr := classify(hdr.status, *sense); serr != nil {
				return serr
			}
		}
		if err != nil {
			return &Error{Status: StatusWrite, Errno: errnoOf(err)}
		}
	}

	if len(in) == 0 || out > 0 {
		hdr.dxfer_len = uint32(out)
		switch {
		case out == 0:
			hdr.dxfer_direction = CDBNone
		case check && !s.buggy:
			// The kernel copies the prefilled buffer in first, so an
			// untouched region survives a failed transfer.
			hdr.dxfer_direction = CDBToFromDevice
		default:
			hdr.dxfer_direction = CDBFromDevice
		}

		start := time.Now()
		err := s.ioctl(s.fd, SG_IO, unsafe.Pointer(hdr))
		s.elapsed = time.Since(start)
		if err == nil && hdr.status != 0 {
			if serr := classify(hdr.status, *sense); serr != nil {
				return serr
			}
		}
		if err != nil {
			return &Error{Status: StatusRead, Errno: errnoOf(err)}
		}
	}

	if check && len(in) < out && untouched(buf[len(in):out], fill) {
		return &Error{Status: StatusIllegal, Errno: unix.EINVAL}
	}
	return nil
}
