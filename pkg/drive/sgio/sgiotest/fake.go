// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sgiotest provides a simulated SCSI or ATAPI CD drive that speaks
// the sgio transport interfaces.
package sgiotest

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
	"golang.org/x/sys/unix"
)

type Track struct {
	Start int
	Flags byte
}

// Drive is an in-memory drive. Its fields may be changed freely before the
// drive is handed to the code under test.
type Drive struct {
	Vendor, Product, Revision string

	ATAPI bool
	// MMC makes the drive answer MODE SENSE for the capabilities page.
	MMC  bool
	CDDA bool

	// Accept lists the read encodings the drive understands. Commands
	// that rely on a density code only work once the block length has
	// been switched to 2352.
	Accept map[sgio.ReadCommand]bool
	// Density, if non-negative, is the only density code under which
	// vendor read commands work.
	Density int
	// RejectFUA refuses vendor reads that carry the FUA bit.
	RejectFUA bool

	Tracks  []Track
	LeadOut int
	// IMS answers the 0xE5 table of contents dialect.
	IMS bool

	OrigDensity byte
	OrigBlock   int
	// Reject2048 refuses MODE SELECT to a 2048 byte block length.
	Reject2048 bool
	// RejectModeSelect refuses every MODE SELECT.
	RejectModeSelect bool

	MaxReserved int
	// SettlePolls is the number of TEST UNIT READY calls answered with
	// "becoming ready" after a bus reset.
	SettlePolls int

	NoMedium  bool
	NoSpeed   bool
	BigEndian bool
	// Lie makes rejected reads report success without moving any data.
	Lie bool
	// LastSession is the first track of a second session, zero for a
	// single session disc. NoSessions rejects the session TOC format.
	LastSession int
	NoSessions  bool

	// Fail is consulted before every read with the number of reads seen so
	// far. A non-nil result is returned instead of executing the read.
	Fail func(n int, begin, sectors int) error
	// Short, if positive, caps how many sectors a read delivers.
	Short int

	// Per-sector latency reported through Elapsed.
	Latency time.Duration

	CDBs       [][]byte
	Reads      int
	Resets     int
	Speed      int
	Transform  bool
	EmulateErr error

	density  byte
	block    int
	reserved int
	settling int
	elapsed  time.Duration
}

var _ sgio.Host = (*Drive)(nil)

// New returns a three track SCSI audio disc drive that only understands
// READ CD.
func New() *Drive {
	return &Drive{
		Vendor:   "FAKE",
		Product:  "CD-ROM",
		Revision: "1.00",
		MMC:      true,
		CDDA:     true,
		Accept: map[sgio.ReadCommand]bool{
			sgio.ReadMMC2B: true,
		},
		Density:     -1,
		Tracks:      []Track{{Start: 0}, {Start: 12000}, {Start: 30000}},
		LeadOut:     45000,
		OrigBlock:   2048,
		MaxReserved: 128 * 1024,
		Latency:     time.Millisecond,
	}
}

// Mode returns the current density code and block length.
func (d *Drive) Mode() (byte, int) {
	if d.block == 0 {
		return d.OrigDensity, d.OrigBlock
	}
	return d.density, d.block
}

// Sample returns the 16-bit sample value the drive produces at position i
// of sector lba, for channel 0 or 1.
func Sample(lba, i, channel int) int16 {
	t := float64(lba*588+i) / 100
	if channel == 1 {
		return int16(6000 * math.Cos(2*math.Pi*t))
	}
	return int16(8000 * math.Sin(2*math.Pi*t))
}

func (d *Drive) Elapsed() time.Duration {
	return d.elapsed
}

func senseError(status sgio.Status, errno unix.Errno, key, asc, ascq byte) error {
	var s sgio.Sense
	s[0] = 0x70
	s[2] = key
	s[7] = 10
	s[12] = asc
	s[13] = ascq
	return &sgio.Error{Status: status, Errno: errno, Sense: s}
}

func illegal() error {
	return senseError(sgio.StatusIllegal, unix.EINVAL, sgio.SenseIllegalRequest, 0x20, 0)
}

func (d *Drive) Exec(buf, cdb, in []byte, out int, fill byte, check bool) error {
	d.CDBs = append(d.CDBs, append([]byte(nil), cdb...))
	if d.block == 0 {
		d.density, d.block = d.OrigDensity, d.OrigBlock
	}
	if len(buf) < len(in) || len(buf) < out {
		return &sgio.Error{Status: sgio.StatusOverrun, Errno: unix.EINVAL}
	}
	copy(buf, in)
	if check && out > len(in) {
		for i := len(in); i < out; i++ {
			buf[i] = fill
		}
	}
	d.elapsed = 0

	err := d.exec(buf[:out], cdb, in)
	if err != nil {
		return err
	}
	if check && len(in) < out {
		for _, c := range buf[len(in):out] {
			if c != fill {
				return nil
			}
		}
		return &sgio.Error{Status: sgio.StatusIllegal, Errno: unix.EINVAL}
	}
	return nil
}

func (d *Drive) exec(buf, cdb, in []byte) error {
	switch cdb[0] {
	case sgio.SCSI_TEST_UNIT_READY:
		if d.settling > 0 {
			d.settling--
			return senseError(sgio.StatusNotReady, unix.ENOMEDIUM, sgio.SenseNotReady, 0x04, 0x01)
		}
		if d.NoMedium {
			return senseError(sgio.StatusNotReady, unix.ENOMEDIUM, sgio.SenseNotReady, 0x3a, 0)
		}
		return nil
	case sgio.SCSI_INQUIRY:
		d.inquiry(buf)
		return nil
	case sgio.SCSI_MODE_SENSE_6:
		if d.ATAPI {
			return illegal()
		}
		return d.modeSense(buf, cdb[2]&0x3f, false)
	case sgio.SCSI_MODE_SENSE_10:
		if !d.ATAPI {
			return illegal()
		}
		return d.modeSense(buf, cdb[2]&0x3f, true)
	case sgio.SCSI_MODE_SELECT_6:
		if d.ATAPI || len(in) < 12 {
			return illegal()
		}
		return d.modeSelect(in[4], int(binary.BigEndian.Uint16(in[10:])))
	case sgio.SCSI_MODE_SELECT_10:
		if !d.ATAPI || len(in) < 16 {
			return illegal()
		}
		return d.modeSelect(in[8], int(binary.BigEndian.Uint16(in[14:])))
	case sgio.SCSI_READ_TOC:
		if cdb[2]&0x0f == 1 {
			return d.readSessionInfo(buf)
		}
		return d.readTOC(buf, cdb[6])
	case sgio.SCSI_READ_TOC_IMS:
		if !d.IMS {
			return illegal()
		}
		return d.readTOCIMS(buf, int(cdb[5]))
	case sgio.SCSI_SET_CD_SPEED:
		if d.NoSpeed {
			return illegal()
		}
		d.Speed = int(binary.BigEndian.Uint16(cdb[2:]))
		return nil
	}

	cmd, ok := Identify(cdb)
	if !ok {
		return illegal()
	}
	return d.read(buf, cmd, cdb)
}

func pad(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func (d *Drive) inquiry(buf []byte) {
	clear(buf)
	buf[0] = 0x05
	buf[2] = 0x05
	copy(buf[8:16], pad(d.Vendor, 8))
	copy(buf[16:32], pad(d.Product, 16))
	copy(buf[32:36], pad(d.Revision, 4))
}

func (d *Drive) modeSense(buf []byte, page byte, ten bool) error {
	six := make([]byte, 32)
	six[3] = 8
	six[4] = d.density
	binary.BigEndian.PutUint16(six[10:], uint16(d.block))
	switch page {
	case 0x01:
		six[12] = 0x01
		six[13] = 0x0a
	case 0x2a:
		if !d.MMC {
			return illegal()
		}
		six[12] = 0x2a
		six[13] = 0x14
		if d.CDDA {
			six[17] = 0x01
		}
	default:
		return illegal()
	}
	six[0] = byte(len(six) - 1)

	resp := six
	if ten {
		resp = make([]byte, len(six)+4)
		resp[1] = six[0] + 3
		resp[2] = six[1]
		resp[3] = six[2]
		resp[7] = six[3]
		copy(resp[8:], six[4:])
	}
	copy(buf, resp)
	return nil
}

func (d *Drive) modeSelect(density byte, block int) error {
	if d.RejectModeSelect || (block == 2048 && d.Reject2048) {
		return illegal()
	}
	d.density, d.block = density, block
	return nil
}

// toLBA scales a start sector to the units the drive reports in while its
// block length is below 2048 bytes.
func (d *Drive) toLBA(start int) int {
	if d.block > 0 && d.block < 2048 {
		return start / (2048 / d.block)
	}
	return start
}

func (d *Drive) readTOC(buf []byte, track byte) error {
	clear(buf)
	buf[1] = 10
	buf[2] = 1
	buf[3] = byte(len(d.Tracks))

	var start int
	var flags byte
	switch {
	case track == sgio.TOCLeadOut:
		start = d.LeadOut
	case track >= 1 && int(track) <= len(d.Tracks):
		start = d.Tracks[track-1].Start
		flags = d.Tracks[track-1].Flags
	default:
		return illegal()
	}
	buf[5] = 0x10 | flags&0x0f
	buf[6] = track
	binary.BigEndian.PutUint32(buf[8:], uint32(int32(d.toLBA(start))))
	return nil
}

func (d *Drive) readSessionInfo(buf []byte) error {
	if d.NoSessions {
		return illegal()
	}
	clear(buf)
	buf[1] = 10
	buf[2] = 1
	buf[3] = 1
	track := 1
	if d.LastSession > 0 {
		buf[3] = 2
		track = d.LastSession
	}
	t := d.Tracks[track-1]
	buf[5] = 0x10 | t.Flags&0x0f
	buf[6] = byte(track)
	binary.BigEndian.PutUint32(buf[8:], uint32(int32(d.toLBA(t.Start))))
	return nil
}

func (d *Drive) readTOCIMS(buf []byte, track int) error {
	if track < 1 || track > len(d.Tracks) {
		return illegal()
	}
	clear(buf)
	end := d.LeadOut
	if track < len(d.Tracks) {
		end = d.Tracks[track].Start
	}
	t := d.Tracks[track-1]
	buf[1] = byte(len(d.Tracks))
	binary.BigEndian.PutUint32(buf[2:], uint32(int32(d.toLBA(t.Start))))
	binary.BigEndian.PutUint32(buf[6:], uint32(int32(d.toLBA(end-t.Start))))
	buf[10] = t.Flags
	return nil
}

// Identify returns the read encoding cdb was built from.
func Identify(cdb []byte) (sgio.ReadCommand, bool) {
	for c := sgio.Read28; c <= sgio.ReadMSF3; c++ {
		t := c.CDB(0, 0, 0, false)
		if len(t) != len(cdb) || t[0] != cdb[0] {
			continue
		}
		if !c.TakesDensity() && (t[1] != cdb[1] || t[9] != cdb[9]) {
			continue
		}
		return c, true
	}
	return 0, false
}

func msfToLBA(b []byte) int {
	return (int(b[0])*60+int(b[1]))*75 + int(b[2]) - 150
}

func (d *Drive) read(buf []byte, cmd sgio.ReadCommand, cdb []byte) error {
	var begin, sectors int
	switch {
	case cmd >= sgio.ReadMSF:
		begin = msfToLBA(cdb[3:6])
		sectors = msfToLBA(cdb[6:9]) - begin
	case cmd.IsMMC():
		begin = int(cdb[3])<<16 | int(cdb[4])<<8 | int(cdb[5])
		sectors = int(cdb[8])
	case len(cdb) == 10:
		begin = int(cdb[3])<<16 | int(cdb[4])<<8 | int(cdb[5])
		sectors = int(cdb[8])
	default:
		begin = int(cdb[3])<<16 | int(cdb[4])<<8 | int(cdb[5])
		sectors = int(cdb[9])
	}

	n := d.Reads
	d.Reads++
	if d.Fail != nil {
		if err := d.Fail(n, begin, sectors); err != nil {
			return err
		}
	}

	accepted := d.Accept[cmd]
	if accepted && cmd.TakesDensity() {
		accepted = d.block == sgio.FrameSize && (d.Density < 0 || int(d.density) == d.Density)
		if d.RejectFUA && cdb[1]&0x08 != 0 {
			accepted = false
		}
	}
	if !accepted {
		if d.Lie {
			return nil
		}
		return illegal()
	}
	if begin < 0 || begin+sectors > d.LeadOut {
		return senseError(sgio.StatusIllegal, unix.EINVAL, sgio.SenseIllegalRequest, 0x21, 0)
	}
	if d.NoMedium {
		return senseError(sgio.StatusNotReady, unix.ENOMEDIUM, sgio.SenseNotReady, 0x3a, 0)
	}

	deliver := sectors
	if d.Short > 0 && deliver > d.Short {
		deliver = d.Short
	}
	for s := 0; s < deliver && (s+1)*sgio.FrameSize <= len(buf); s++ {
		d.frame(buf[s*sgio.FrameSize:(s+1)*sgio.FrameSize], begin+s)
	}
	d.elapsed = time.Duration(sectors) * d.Latency
	return nil
}

func (d *Drive) frame(b []byte, lba int) {
	var order binary.ByteOrder = binary.LittleEndian
	if d.BigEndian {
		order = binary.BigEndian
	}
	for i := 0; i < sgio.FrameSize/4; i++ {
		order.PutUint16(b[i*4:], uint16(Sample(lba, i, 0)))
		order.PutUint16(b[i*4+2:], uint16(Sample(lba, i, 1)))
	}
}

func (d *Drive) EmulatedHost() (bool, error) {
	if d.EmulateErr != nil {
		return false, d.EmulateErr
	}
	return d.ATAPI, nil
}

func (d *Drive) SetTransform(on bool) error {
	d.Transform = on
	return nil
}

func (d *Drive) SetReservedSize(n int) error {
	if n > d.MaxReserved {
		return unix.ENOMEM
	}
	d.reserved = n
	return nil
}

func (d *Drive) ReservedSize() (int, error) {
	return d.reserved, nil
}

func (d *Drive) TableSize() (int, error) {
	return 128, nil
}

func (d *Drive) Reset() error {
	d.Resets++
	d.settling = d.SettlePolls
	return nil
}
