// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sgio

import (
	"golang.org/x/sys/unix"
)

const (
	SenseNoSense        = 0x0
	SenseRecoveredError = 0x1
	SenseNotReady       = 0x2
	SenseMediumError    = 0x3
	SenseHardwareError  = 0x4
	SenseIllegalRequest = 0x5

	// SCSI status byte
	StatusGood           = 0x00
	StatusCheckCondition = 0x02
	StatusBusyTarget     = 0x08
)

// Sense is a raw sense data buffer in fixed (0x70/0x71) or descriptor
// (0x72/0x73) format.
type Sense [32]byte

func (s Sense) Valid() bool {
	return s[0] != 0
}

func (s Sense) descriptor() bool {
	return s[0]&0x7e == 0x72
}

func (s Sense) Key() byte {
	if s.descriptor() {
		return s[1] & 0x0f
	}
	return s[2] & 0x0f
}

func (s Sense) ASC() byte {
	if s.descriptor() {
		return s[2]
	}
	return s[12]
}

func (s Sense) ASCQ() byte {
	if s.descriptor() {
		return s[3]
	}
	return s[13]
}

// classify maps a SCSI status byte and its sense data onto a transport
// error. A non-zero status without sense data passes as success, as does a
// recovered error.
func classify(status byte, sense Sense) error {
	if status == StatusGood {
		return nil
	}
	if status == StatusBusyTarget {
		return &Error{Status: StatusBusy, Errno: unix.EBUSY, Sense: sense}
	}
	if !sense.Valid() {
		return nil
	}

	switch sense.Key() {
	case SenseNoSense:
		return &Error{Status: StatusUnknown, Errno: unix.EIO, Sense: sense}
	case SenseRecoveredError:
		return nil
	case SenseNotReady:
		return &Error{Status: StatusNotReady, Errno: unix.ENOMEDIUM, Sense: sense}
	case SenseMediumError:
		if sense.ASC() == 0x0c && sense.ASCQ() == 0x09 {
			return &Error{Status: StatusStreaming, Errno: unix.EIO, Sense: sense}
		}
		return &Error{Status: StatusMedium, Errno: unix.EIO, Sense: sense}
	case SenseHardwareError:
		return &Error{Status: StatusFault, Errno: unix.EIO, Sense: sense}
	case SenseIllegalRequest:
		return &Error{Status: StatusIllegal, Errno: unix.EINVAL, Sense: sense}
	default:
		return &Error{Status: StatusUnknown, Errno: unix.EIO, Sense: sense}
	}
}
