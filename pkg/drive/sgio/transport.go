// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sgio

import (
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"github.com/dswarbrick/smart/ioctl"
	"golang.org/x/sys/unix"
)

const (
	SG_EMULATED_HOST      = 0x2203
	SG_SET_TRANSFORM      = 0x2204
	SG_GET_RESERVED_SIZE  = 0x2272
	SG_SET_RESERVED_SIZE  = 0x2275
	SG_GET_SG_TABLESIZE   = 0x227F
	SG_SCSI_RESET         = 0x2284
	SG_SCSI_RESET_NOTHING = 0
	SG_SCSI_RESET_DEVICE  = 1
	SG_SCSI_RESET_BUS     = 2
)

var (
	ErrIllegalRequest = errors.New("illegal SCSI request")
)

// Transport performs one synchronous command/response transaction.
type Transport interface {
	// Exec sends cdb followed by the payload in, and reads out bytes of
	// response into buf. buf is the caller's scratch buffer and is
	// overwritten. When check is set, buf[len(in):out] is filled with fill
	// before the command is issued and a response that leaves it untouched
	// is reported as StatusIllegal.
	Exec(buf, cdb, in []byte, out int, fill byte, check bool) error
	// Elapsed is the wall time of the last data transaction, negative if
	// it could not be measured.
	Elapsed() time.Duration
}

// Adapter exposes the sg host adaptor ioctls.
type Adapter interface {
	EmulatedHost() (bool, error)
	SetTransform(on bool) error
	SetReservedSize(n int) error
	ReservedSize() (int, error)
	TableSize() (int, error)
	Reset() error
}

// Host is a SCSI generic handle: a transport plus its adaptor controls.
type Host interface {
	Transport
	Adapter
}

// Status is the transport-level classification of a failed transaction.
type Status int

const (
	StatusOK Status = iota
	StatusWrite
	StatusRead
	StatusUnderrun
	StatusOverrun
	StatusIllegal
	StatusMedium
	StatusBusy
	StatusNotReady
	StatusFault
	StatusUnknown
	StatusStreaming
)

var statusText = [...]string{
	StatusOK:        "Success",
	StatusWrite:     "Error writing packet command to device",
	StatusRead:      "Error reading command from device",
	StatusUnderrun:  "SCSI packet data underrun (too little data)",
	StatusOverrun:   "SCSI packet data overrun (too much data)",
	StatusIllegal:   "Illegal SCSI request (rejected by target)",
	StatusMedium:    "Medium reading data from medium",
	StatusBusy:      "Device busy",
	StatusNotReady:  "Device not ready",
	StatusFault:     "Target hardware fault",
	StatusUnknown:   "Unspecified error",
	StatusStreaming: "Drive lost streaming",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusText) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusText[s]
}

// Error is a classified transport failure.
type Error struct {
	Status Status
	Errno  unix.Errno
	// Sense holds the target's sense data, all zero if the failure was
	// detected by the host.
	Sense Sense
}

func (e *Error) Error() string {
	if e.Sense.Valid() {
		return fmt.Sprintf("%s: sense key %#x, ASC %#02x, ASCQ %#02x",
			e.Status, e.Sense.Key(), e.Sense.ASC(), e.Sense.ASCQ())
	}
	if e.Errno != 0 {
		return fmt.Sprintf("%s: %v", e.Status, e.Errno)
	}
	return e.Status.String()
}

func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// Is matches ErrIllegalRequest only when the target itself rejected the
// command. A fill byte mismatch is classified illegal as well but carries no
// sense data.
func (e *Error) Is(target error) bool {
	return target == ErrIllegalRequest && e.Status == StatusIllegal && e.Sense.Valid()
}

// BecomingReady reports whether err is the "logical unit is in process of
// becoming ready" condition.
func BecomingReady(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Sense.Key() == SenseNotReady && e.Sense.ASC() == 0x04 && e.Sense.ASCQ() == 0x01
}

func errnoOf(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

func fillRange(b []byte, fill byte) {
	for i := range b {
		b[i] = fill
	}
}

func untouched(b []byte, fill byte) bool {
	for _, c := range b {
		if c != fill {
			return false
		}
	}
	return true
}

type adapter struct {
	fd    uintptr
	ioctl ioctlFunc
}

// call passes v to the driver, pinned for the duration of the ioctl.
func (a *adapter) call(req uintptr, v *int32) error {
	var pin runtime.Pinner
	defer pin.Unpin()
	pin.Pin(v)
	return a.ioctl(a.fd, req, unsafe.Pointer(v))
}

func (a *adapter) getInt(req uintptr) (int, error) {
	v := new(int32)
	err := a.call(req, v)
	return int(*v), err
}

func (a *adapter) EmulatedHost() (bool, error) {
	v, err := a.getInt(SG_EMULATED_HOST)
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// SetTransform takes its argument by value.
func (a *adapter) SetTransform(on bool) error {
	var v uintptr
	if on {
		v = 1
	}
	return ioctl.Ioctl(a.fd, SG_SET_TRANSFORM, v)
}

func (a *adapter) SetReservedSize(n int) error {
	v := new(int32)
	*v = int32(n)
	return a.call(SG_SET_RESERVED_SIZE, v)
}

func (a *adapter) ReservedSize() (int, error) {
	return a.getInt(SG_GET_RESERVED_SIZE)
}

func (a *adapter) TableSize() (int, error) {
	return a.getInt(SG_GET_SG_TABLESIZE)
}

func (a *adapter) Reset() error {
	v := new(int32)
	*v = SG_SCSI_RESET_BUS
	return a.call(SG_SCSI_RESET, v)
}
