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

package sgio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	SCSI_TEST_UNIT_READY = 0x00
	SCSI_INQUIRY         = 0x12
	SCSI_MODE_SELECT_6   = 0x15
	SCSI_MODE_SENSE_6    = 0x1a
	SCSI_READ_TOC        = 0x43
	SCSI_MODE_SELECT_10  = 0x55
	SCSI_MODE_SENSE_10   = 0x5a
	SCSI_SET_CD_SPEED    = 0xbb
	SCSI_READ_TOC_IMS    = 0xe5

	// CD_FRAMESIZE_RAW
	FrameSize = 2352

	TOCLeadOut = 0xaa

	// Fill patterns used to detect untouched response buffers.
	FillAudio byte = 0x7f
	FillMeta  byte = 0xff

	inquiryLen = 56
)

var (
	ErrModeSenseTooLarge = errors.New("mode sense response exceeds 256 bytes")
)

// SCSI INQUIRY response
type InquiryResponse struct {
	Peripheral   byte // peripheral qualifier, device type
	_            byte
	Version      byte
	_            [5]byte
	VendorIdent  [8]byte
	ProductIdent [16]byte
	ProductRev   [4]byte
}

func (inq InquiryResponse) String() string {
	return fmt.Sprintf("Type=0x%x, Vendor=%s, Product=%s, Revision=%s",
		inq.Peripheral,
		strings.TrimSpace(string(inq.VendorIdent[:])),
		strings.TrimSpace(string(inq.ProductIdent[:])),
		strings.TrimSpace(string(inq.ProductRev[:])))
}

// Model is the identity string drive quirks are matched against: vendor,
// product and revision, each trimmed and followed by a single space.
func (inq InquiryResponse) Model() string {
	var b strings.Builder
	for _, f := range [][]byte{inq.VendorIdent[:], inq.ProductIdent[:], inq.ProductRev[:]} {
		b.WriteString(strings.TrimRight(string(bytes.TrimRight(f, "\x00")), " "))
		b.WriteByte(' ')
	}
	return b.String()
}

// Device issues commands through a Transport. Every response lands in Buf,
// which is owned by the device and grows on demand.
type Device struct {
	T     Transport
	Buf   []byte
	LUN   byte
	ATAPI bool
}

func NewDevice(t Transport, size int) *Device {
	return &Device{T: t, Buf: make([]byte, size)}
}

// Grow makes sure Buf holds at least n bytes.
func (d *Device) Grow(n int) {
	if len(d.Buf) < n {
		b := make([]byte, n)
		copy(b, d.Buf)
		d.Buf = b
	}
}

func (d *Device) exec(cdb, in []byte, out int, fill byte, check bool) error {
	d.Grow(max(len(in), out))
	return d.T.Exec(d.Buf, cdb, in, out, fill, check)
}

// TEST UNIT READY
func (d *Device) TestUnitReady() error {
	cdb := CDB6{SCSI_TEST_UNIT_READY}
	return d.exec(cdb[:], nil, inquiryLen, 0, false)
}

// INQUIRY - Returns parsed inquiry data.
func (d *Device) Inquiry() (InquiryResponse, error) {
	var resp InquiryResponse

	cdb := CDB6{SCSI_INQUIRY, 0, 0, 0, inquiryLen, 0}
	if err := d.exec(cdb[:], nil, inquiryLen, FillMeta, true); err != nil {
		return resp, err
	}

	binary.Read(bytes.NewReader(d.Buf[:inquiryLen]), binary.BigEndian, &resp) //nolint:errcheck
	return resp, nil
}

// MODE SENSE - Returns size bytes of the page in 6-byte header layout. ATAPI
// devices only speak the 10-byte form, whose header is rewritten.
func (d *Device) ModeSense(size int, page byte) ([]byte, error) {
	if !d.ATAPI {
		cdb := CDB6{SCSI_MODE_SENSE_6}
		cdb[1] = d.LUN << 5
		cdb[2] = page & 0x3f
		cdb[4] = byte(size)
		if err := d.exec(cdb[:], nil, size, FillMeta, true); err != nil {
			return nil, err
		}
		return d.Buf[:size], nil
	}

	cdb := CDB10{SCSI_MODE_SENSE_10}
	cdb[1] = d.LUN << 5
	cdb[2] = page & 0x3f
	cdb[8] = byte(size + 4)
	if err := d.exec(cdb[:], nil, size+4, FillMeta, true); err != nil {
		return nil, err
	}

	b := d.Buf
	if b[0] != 0 || b[6] != 0 {
		return nil, ErrModeSenseTooLarge
	}
	b[0] = b[1] - 3
	b[1] = b[2]
	b[2] = b[3]
	b[3] = b[7]
	copy(b[4:], b[8:size+4])
	return b[:size], nil
}

// MODE SELECT - Sets the density code and block length of the single block
// descriptor. The current page is not saved.
func (d *Device) ModeSelect(density byte, blockLen int) error {
	if d.ATAPI {
		cdb := CDB10{SCSI_MODE_SELECT_10, 0x10}
		cdb[8] = 16
		mode := make([]byte, 16)
		mode[7] = 8 // block descriptor length
		mode[8] = density
		binary.BigEndian.PutUint16(mode[14:], uint16(blockLen))
		return d.exec(cdb[:], mode, 0, 0, false)
	}

	cdb := CDB6{SCSI_MODE_SELECT_6, 0x10}
	cdb[4] = 12
	mode := make([]byte, 12)
	mode[3] = 8 // block descriptor length
	mode[4] = density
	binary.BigEndian.PutUint16(mode[10:], uint16(blockLen))
	return d.exec(cdb[:], mode, 0, 0, false)
}

// READ TOC header - Returns the first and last track number.
func (d *Device) ReadTOCHeader() (int, int, error) {
	cdb := CDB10{SCSI_READ_TOC}
	cdb[1] = d.LUN << 5
	cdb[6] = 1
	cdb[8] = 12
	if err := d.exec(cdb[:], nil, 12, FillMeta, true); err != nil {
		return 0, 0, err
	}
	return int(d.Buf[2]), int(d.Buf[3]), nil
}

// READ TOC entry - Returns the control/ADR byte and the start LBA of track.
func (d *Device) ReadTOCEntry(track byte) (byte, int32, error) {
	cdb := CDB10{SCSI_READ_TOC}
	cdb[1] = d.LUN << 5
	cdb[6] = track
	cdb[8] = 12
	if err := d.exec(cdb[:], nil, 12, FillMeta, true); err != nil {
		return 0, 0, err
	}
	entry := d.Buf[4:12]
	return entry[1], int32(binary.BigEndian.Uint32(entry[4:])), nil
}

// READ TOC, session format - Returns the first track of the last session
// and its start LBA.
func (d *Device) ReadSessionInfo() (int, int32, error) {
	cdb := CDB10{SCSI_READ_TOC}
	cdb[1] = d.LUN << 5
	cdb[2] = 1
	cdb[8] = 12
	if err := d.exec(cdb[:], nil, 12, FillMeta, true); err != nil {
		return 0, 0, err
	}
	entry := d.Buf[4:12]
	return int(entry[2]), int32(binary.BigEndian.Uint32(entry[4:])), nil
}

// IMSTrack is one record of the vendor "read all at once" TOC dialect.
type IMSTrack struct {
	Tracks int
	Flags  byte
	Start  int32
	Length int32
}

// READ TOC (IMS dialect, opcode 0xE5)
func (d *Device) ReadTOCIMS(track byte) (IMSTrack, error) {
	cdb := CDB10{SCSI_READ_TOC_IMS}
	cdb[5] = track
	cdb[8] = 255
	if err := d.exec(cdb[:], nil, 256, FillMeta, true); err != nil {
		return IMSTrack{}, err
	}
	b := d.Buf
	return IMSTrack{
		Tracks: int(b[1]),
		Start:  int32(binary.BigEndian.Uint32(b[2:])),
		Length: int32(binary.BigEndian.Uint32(b[6:])),
		Flags:  b[10],
	}, nil
}

// SET CD SPEED - speed is a multiple of single speed audio, -1 selects the
// fastest speed the drive supports.
func (d *Device) SetSpeed(speed int) error {
	cdb := CDB12{SCSI_SET_CD_SPEED}
	v := 0xffff
	if speed >= 0 {
		v = speed * 44100 * 4 / 1024
	}
	binary.BigEndian.PutUint16(cdb[2:], uint16(v))
	cdb[4] = 0xff
	cdb[5] = 0xff
	return d.exec(cdb[:], nil, 0, 0, false)
}

// ReadAudio reads sectors frames starting at begin into Buf.
func (d *Device) ReadAudio(cmd ReadCommand, begin, sectors int, fua bool) error {
	cdb := cmd.CDB(begin, sectors, d.LUN, fua)
	return d.exec(cdb, nil, sectors*FrameSize, FillAudio, true)
}

// ReceivedBytes reports how much of the first frame in Buf was written by
// the last read: the offset past the last non-fill byte, rounded up to a
// whole sample pair.
func (d *Device) ReceivedBytes() int {
	for i := FrameSize - 1; i >= 0; i-- {
		if d.Buf[i] != FillAudio {
			return ((i + 3) >> 2) << 2
		}
	}
	return 0
}
