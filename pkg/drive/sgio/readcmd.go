// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sgio

import (
	"fmt"
)

// ReadCommand selects one of the audio read encodings drives have
// historically understood.
type ReadCommand int

const (
	Read28 ReadCommand = iota
	ReadA8
	ReadD4_10
	ReadD4_12
	ReadD5
	ReadD8
	ReadMMC
	ReadMMCB
	ReadMMC2
	ReadMMC2B
	ReadMMC3
	ReadMMC3B
	ReadMSF
	ReadMSF2
	ReadMSF3
)

type addressing int

const (
	// LBA in bytes 3-5, vendor sector count byte, FUA and LUN in byte 1
	addrVendor addressing = iota
	// READ CD (0xBE): LBA in bytes 3-5, count in byte 8
	addrMMC
	// READ CD MSF (0xB9): start and end MSF in bytes 3-8
	addrMSF
)

type readEncoding struct {
	name   string
	opcode byte
	length int
	addr   addressing
	sub    byte // byte 1
	filter byte // byte 9, sector type and header selection
	count  int  // index of the sector count byte
}

var readEncodings = [...]readEncoding{
	Read28:    {"28", 0x28, 10, addrVendor, 0, 0, 8},
	ReadA8:    {"A8", 0xa8, 12, addrVendor, 0, 0, 9},
	ReadD4_10: {"D4_10", 0xd4, 10, addrVendor, 0, 0, 8},
	ReadD4_12: {"D4_12", 0xd4, 12, addrVendor, 0, 0, 9},
	ReadD5:    {"D5", 0xd5, 10, addrVendor, 0, 0, 8},
	ReadD8:    {"D8", 0xd8, 12, addrVendor, 0, 0, 9},
	ReadMMC:   {"mmc", 0xbe, 12, addrMMC, 0x02, 0x10, 8},
	ReadMMCB:  {"mmcB", 0xbe, 12, addrMMC, 0x00, 0x10, 8},
	ReadMMC2:  {"mmc2", 0xbe, 12, addrMMC, 0x02, 0xf8, 8},
	ReadMMC2B: {"mmc2B", 0xbe, 12, addrMMC, 0x00, 0xf8, 8},
	ReadMMC3:  {"mmc3", 0xbe, 12, addrMMC, 0x06, 0xf8, 8},
	ReadMMC3B: {"mmc3B", 0xbe, 12, addrMMC, 0x04, 0xf8, 8},
	ReadMSF:   {"msf", 0xb9, 12, addrMSF, 0x00, 0x10, 0},
	ReadMSF2:  {"msf2", 0xb9, 12, addrMSF, 0x00, 0xf8, 0},
	ReadMSF3:  {"msf3", 0xb9, 12, addrMSF, 0x04, 0xf8, 0},
}

func (c ReadCommand) valid() bool {
	return c >= 0 && int(c) < len(readEncodings)
}

func (c ReadCommand) String() string {
	if !c.valid() {
		return fmt.Sprintf("ReadCommand(%d)", int(c))
	}
	return readEncodings[c].name
}

// Label describes the command frame, e.g. "be 00,f8" or "d4(10)".
func (c ReadCommand) Label() string {
	e := readEncodings[c]
	if e.addr == addrVendor {
		return fmt.Sprintf("%02x(%d)", e.opcode, e.length)
	}
	return fmt.Sprintf("%02x %02x,%02x", e.opcode, e.sub, e.filter)
}

// IsMMC reports whether c is one of the READ CD (0xBE) forms.
func (c ReadCommand) IsMMC() bool {
	return readEncodings[c].addr == addrMMC
}

// TakesDensity reports whether c relies on the density code set by MODE
// SELECT. READ CD and READ CD MSF carry their sector type in the frame.
func (c ReadCommand) TakesDensity() bool {
	return readEncodings[c].addr == addrVendor
}

// ParseReadCommand returns the command with the given name.
func ParseReadCommand(name string) (ReadCommand, error) {
	for i, e := range readEncodings {
		if e.name == name {
			return ReadCommand(i), nil
		}
	}
	return 0, fmt.Errorf("unknown read command %q", name)
}

func (c ReadCommand) MarshalText() ([]byte, error) {
	if !c.valid() {
		return nil, fmt.Errorf("invalid read command %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *ReadCommand) UnmarshalText(b []byte) error {
	v, err := ParseReadCommand(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// CDB builds the command frame reading sectors frames starting at begin.
func (c ReadCommand) CDB(begin, sectors int, lun byte, fua bool) []byte {
	e := readEncodings[c]
	cdb := make([]byte, e.length)
	cdb[0] = e.opcode

	switch e.addr {
	case addrVendor:
		if fua {
			cdb[1] = 0x08
		}
		cdb[1] |= lun << 5
		putLBA(cdb[3:6], begin)
		cdb[e.count] = byte(sectors)
	case addrMMC:
		cdb[1] = e.sub
		putLBA(cdb[3:6], begin)
		cdb[e.count] = byte(sectors)
		cdb[9] = e.filter
	case addrMSF:
		cdb[1] = e.sub
		cdb[3], cdb[4], cdb[5] = LBAToMSF(begin)
		cdb[6], cdb[7], cdb[8] = LBAToMSF(begin + sectors)
		cdb[9] = e.filter
	}
	return cdb
}

func putLBA(b []byte, lba int) {
	b[0] = byte(lba >> 16)
	b[1] = byte(lba >> 8)
	b[2] = byte(lba)
}

// LBAToMSF converts a logical block address to minutes, seconds and frames
// with the 150 frame lead-in bias. Addresses before -150 use a bias of
// 450150 so the arithmetic stays non-negative.
func LBAToMSF(lba int) (m, s, f byte) {
	bias := 150
	if lba < -150 {
		bias = 450150
	}
	m = byte((lba + bias) / (60 * 75))
	lba -= int(m) * 60 * 75
	s = byte((lba + bias) / 75)
	lba -= int(s) * 75
	f = byte(lba + bias)
	return m, s, f
}
