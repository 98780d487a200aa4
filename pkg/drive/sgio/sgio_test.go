// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sgio

import (
	"bytes"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLBAToMSF(t *testing.T) {
	tests := []struct {
		lba     int
		m, s, f byte
	}{
		{0, 0, 2, 0},
		{-150, 0, 0, 0},
		{-151, 99, 59, 74},
		{1, 0, 2, 1},
		{4350, 1, 0, 0},
		{449849, 99, 59, 74},
	}
	for _, tc := range tests {
		m, s, f := LBAToMSF(tc.lba)
		if m != tc.m || s != tc.s || f != tc.f {
			t.Errorf("LBAToMSF(%d) = %d:%d:%d, want %d:%d:%d", tc.lba, m, s, f, tc.m, tc.s, tc.f)
		}
	}
}

func TestReadCommandCDB(t *testing.T) {
	tests := []struct {
		name string
		cmd  ReadCommand
		lun  byte
		fua  bool
		want []byte
	}{
		{"28", Read28, 0, false, []byte{0x28, 0, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0}},
		{"28 fua lun", Read28, 1, true, []byte{0x28, 0x28, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0}},
		{"A8", ReadA8, 0, false, []byte{0xa8, 0, 0, 0x01, 0x02, 0x03, 0, 0, 0, 5, 0, 0}},
		{"D4_10", ReadD4_10, 0, false, []byte{0xd4, 0, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0}},
		{"D5", ReadD5, 0, true, []byte{0xd5, 0x08, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0}},
		{"D8", ReadD8, 0, false, []byte{0xd8, 0, 0, 0x01, 0x02, 0x03, 0, 0, 0, 5, 0, 0}},
		{"mmc", ReadMMC, 0, false, []byte{0xbe, 0x02, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0x10, 0, 0}},
		{"mmc2B", ReadMMC2B, 2, true, []byte{0xbe, 0x00, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0xf8, 0, 0}},
		{"mmc3", ReadMMC3, 0, false, []byte{0xbe, 0x06, 0, 0x01, 0x02, 0x03, 0, 0, 5, 0xf8, 0, 0}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cmd.CDB(0x010203, 5, tc.lun, tc.fua)
			if !bytes.Equal(got, tc.want) {
				t.Errorf("CDB = % x, want % x", got, tc.want)
			}
		})
	}
}

func TestReadCommandMSF(t *testing.T) {
	got := ReadMSF3.CDB(0, 75, 0, true)
	want := []byte{0xb9, 0x04, 0, 0, 2, 0, 0, 3, 0, 0xf8, 0, 0}
	assert.Equal(t, want, got)

	got = ReadMSF.CDB(-150, 1, 0, false)
	want = []byte{0xb9, 0, 0, 0, 0, 0, 0, 0, 1, 0x10, 0, 0}
	assert.Equal(t, want, got)
}

func TestParseReadCommand(t *testing.T) {
	for c := Read28; c <= ReadMSF3; c++ {
		got, err := ParseReadCommand(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseReadCommand("BE")
	assert.Error(t, err)

	assert.True(t, ReadMMC3B.IsMMC())
	assert.False(t, ReadMSF2.IsMMC())
	assert.True(t, ReadD4_12.TakesDensity())
	assert.False(t, ReadMSF.TakesDensity())
	assert.Equal(t, "be 00,f8", ReadMMC2B.Label())
	assert.Equal(t, "d4(12)", ReadD4_12.Label())
}

func fixedSense(key, asc, ascq byte) Sense {
	var s Sense
	s[0] = 0x70
	s[2] = key
	s[12] = asc
	s[13] = ascq
	return s
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status byte
		sense  Sense
		want   Status
		errno  unix.Errno
	}{
		{"good", StatusGood, Sense{}, StatusOK, 0},
		{"busy", StatusBusyTarget, Sense{}, StatusBusy, unix.EBUSY},
		{"no sense data", StatusCheckCondition, Sense{}, StatusOK, 0},
		{"no sense", StatusCheckCondition, fixedSense(SenseNoSense, 0, 0), StatusUnknown, unix.EIO},
		{"recovered", StatusCheckCondition, fixedSense(SenseRecoveredError, 0x17, 0), StatusOK, 0},
		{"not ready", StatusCheckCondition, fixedSense(SenseNotReady, 0x3a, 0), StatusNotReady, unix.ENOMEDIUM},
		{"medium", StatusCheckCondition, fixedSense(SenseMediumError, 0x11, 0), StatusMedium, unix.EIO},
		{"streaming", StatusCheckCondition, fixedSense(SenseMediumError, 0x0c, 0x09), StatusStreaming, unix.EIO},
		{"fault", StatusCheckCondition, fixedSense(SenseHardwareError, 0, 0), StatusFault, unix.EIO},
		{"illegal", StatusCheckCondition, fixedSense(SenseIllegalRequest, 0x20, 0), StatusIllegal, unix.EINVAL},
		{"unit attention", StatusCheckCondition, fixedSense(0x6, 0x28, 0), StatusUnknown, unix.EIO},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.status, tc.sense)
			if tc.want == StatusOK {
				assert.NoError(t, err)
				return
			}
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tc.want, e.Status)
			assert.ErrorIs(t, err, tc.errno)
		})
	}
}

func TestDescriptorSense(t *testing.T) {
	var s Sense
	s[0] = 0x72
	s[1] = SenseNotReady
	s[2] = 0x04
	s[3] = 0x01
	assert.True(t, BecomingReady(&Error{Status: StatusNotReady, Sense: s}))
	assert.False(t, BecomingReady(unix.EIO))
}

func TestIllegalRequestMatchesSenseOnly(t *testing.T) {
	rejected := &Error{Status: StatusIllegal, Errno: unix.EINVAL, Sense: fixedSense(SenseIllegalRequest, 0x20, 0)}
	lie := &Error{Status: StatusIllegal, Errno: unix.EINVAL}
	assert.ErrorIs(t, rejected, ErrIllegalRequest)
	assert.False(t, errors.Is(lie, ErrIllegalRequest))
	assert.ErrorIs(t, lie, unix.EINVAL)
}

// fakeSG stands in for the SG_IO ioctl. It writes n bytes of payload, or
// fails with err. With grow set it deepens the goroutine stack first, the
// way a blocking call may before the kernel touches the buffers.
type fakeSG struct {
	n    int
	err  error
	grow bool
	dirs []CDBDirection
}

//go:noinline
func growStack(n int) byte {
	var pad [1024]byte
	pad[n%len(pad)] = byte(n)
	if n == 0 {
		return pad[0]
	}
	return growStack(n-1) + pad[n%len(pad)]
}

func (f *fakeSG) ioctl(fd, req uintptr, arg unsafe.Pointer) error {
	if f.grow {
		growStack(256)
	}
	hdr := (*sgIoHdr)(arg)
	f.dirs = append(f.dirs, hdr.dxfer_direction)
	if f.err != nil {
		return f.err
	}
	if hdr.dxfer_direction == CDBToDevice {
		return nil
	}
	buf := unsafe.Slice((*byte)(hdr.dxferp), hdr.dxfer_len)
	for i := 0; i < f.n && i < len(buf); i++ {
		buf[i] = byte(i%250) + 1
	}
	return nil
}

func TestSGIOFillDetection(t *testing.T) {
	tests := []struct {
		name    string
		written int
		check   bool
		wantErr bool
	}{
		{"untouched", 0, true, true},
		{"partial", 100, true, false},
		{"full", FrameSize, true, false},
		{"unchecked", 0, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeSG{n: tc.written}
			s := &SGIO{adapter: adapter{ioctl: f.ioctl}}
			buf := make([]byte, FrameSize)
			cdb := ReadMMC2B.CDB(0, 1, 0, false)
			err := s.Exec(buf, cdb, nil, FrameSize, FillAudio, tc.check)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, StatusIllegal, e.Status)
			assert.Equal(t, unix.EINVAL, e.Errno)
			assert.False(t, e.Sense.Valid())
		})
	}
}

func TestSGIODirections(t *testing.T) {
	f := &fakeSG{n: FrameSize}
	s := &SGIO{adapter: adapter{ioctl: f.ioctl}}
	buf := make([]byte, FrameSize)

	require.NoError(t, s.Exec(buf, make([]byte, 10), nil, FrameSize, FillAudio, true))
	require.NoError(t, s.Exec(buf, make([]byte, 6), nil, 0, 0, false))
	require.NoError(t, s.Exec(buf, make([]byte, 6), make([]byte, 12), 0, 0, false))
	assert.Equal(t, []CDBDirection{CDBToFromDevice, CDBNone, CDBToDevice}, f.dirs)

	f.dirs = nil
	s.buggy = true
	require.NoError(t, s.Exec(buf, make([]byte, 10), nil, FrameSize, FillAudio, true))
	assert.Equal(t, []CDBDirection{CDBFromDevice}, f.dirs)
	assert.GreaterOrEqual(t, s.Elapsed(), time.Duration(0))
}

func TestSGIOBufferSurvivesStackGrowth(t *testing.T) {
	tests := []struct {
		name    string
		written int
		check   bool
	}{
		{"partial", 100, true},
		{"full", FrameSize, true},
		{"unchecked", FrameSize, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeSG{n: tc.written, grow: true}
			s := &SGIO{adapter: adapter{ioctl: f.ioctl}}
			buf := make([]byte, FrameSize)
			cdb := ReadMMC2B.CDB(0, 1, 0, false)
			require.NoError(t, s.Exec(buf, cdb, nil, FrameSize, FillAudio, tc.check))
			assert.Equal(t, byte(1), buf[0])
			assert.Equal(t, byte((tc.written-1)%250)+1, buf[tc.written-1])
		})
	}
}

// fakeAdapter answers the integer adaptor ioctls from a table.
type fakeAdapter struct {
	vals map[uintptr]int32
	set  map[uintptr]int32
}

func (f *fakeAdapter) ioctl(fd, req uintptr, arg unsafe.Pointer) error {
	growStack(64)
	v := (*int32)(arg)
	if x, ok := f.vals[req]; ok {
		*v = x
		return nil
	}
	f.set[req] = *v
	return nil
}

func TestAdapterIoctls(t *testing.T) {
	f := &fakeAdapter{
		vals: map[uintptr]int32{SG_EMULATED_HOST: 1, SG_GET_RESERVED_SIZE: 65536, SG_GET_SG_TABLESIZE: 128},
		set:  map[uintptr]int32{},
	}
	a := &adapter{ioctl: f.ioctl}

	emulated, err := a.EmulatedHost()
	require.NoError(t, err)
	assert.True(t, emulated)

	tests := []struct {
		name string
		get  func() (int, error)
		want int
	}{
		{"reserved size", a.ReservedSize, 65536},
		{"table size", a.TableSize, 128},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.get()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	require.NoError(t, a.SetReservedSize(32768))
	require.NoError(t, a.Reset())
	assert.Equal(t, map[uintptr]int32{SG_SET_RESERVED_SIZE: 32768, SG_SCSI_RESET: SG_SCSI_RESET_BUS}, f.set)
}

func TestSGIOIoctlFailure(t *testing.T) {
	f := &fakeSG{err: unix.ENOMEM}
	s := &SGIO{adapter: adapter{ioctl: f.ioctl}}
	err := s.Exec(make([]byte, FrameSize), make([]byte, 10), nil, FrameSize, FillAudio, true)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, StatusRead, e.Status)
	assert.ErrorIs(t, err, unix.ENOMEM)
}

// scripted is a Transport that answers every command with resp.
type scripted struct {
	resp []byte
	cdbs [][]byte
	in   [][]byte
}

func (s *scripted) Exec(buf, cdb, in []byte, out int, fill byte, check bool) error {
	s.cdbs = append(s.cdbs, cdb)
	s.in = append(s.in, append([]byte(nil), in...))
	copy(buf, s.resp)
	return nil
}

func (s *scripted) Elapsed() time.Duration { return 0 }

func TestModeSenseATAPI(t *testing.T) {
	resp := []byte{0, 21, 0x05, 0x00, 0, 0, 0, 8,
		0x00, 0, 0, 0, 0, 0, 0x08, 0x00,
		0x2a, 0x14, 0, 0, 0, 0x01}
	tr := &scripted{resp: resp}
	d := NewDevice(tr, 64)
	d.ATAPI = true

	b, err := d.ModeSense(22, 0x2a)
	require.NoError(t, err)
	require.Len(t, b, 22)
	assert.Equal(t, byte(18), b[0])
	assert.Equal(t, byte(0x05), b[1])
	assert.Equal(t, byte(8), b[3])
	assert.Equal(t, uint16(0x0800), uint16(b[10])<<8|uint16(b[11]))
	assert.Equal(t, byte(0x2a), b[12])
	assert.Equal(t, byte(0x01), b[17])
	assert.Equal(t, byte(SCSI_MODE_SENSE_10), tr.cdbs[0][0])

	tr.resp = []byte{1, 0}
	_, err = d.ModeSense(22, 0x2a)
	assert.ErrorIs(t, err, ErrModeSenseTooLarge)
}

func TestModeSelect(t *testing.T) {
	tr := &scripted{}
	d := NewDevice(tr, 64)
	require.NoError(t, d.ModeSelect(0x82, 2352))
	assert.Equal(t, byte(SCSI_MODE_SELECT_6), tr.cdbs[0][0])
	assert.Equal(t, byte(0x82), tr.in[0][4])
	assert.Equal(t, []byte{0x09, 0x30}, tr.in[0][10:12])

	d.ATAPI = true
	require.NoError(t, d.ModeSelect(0, 2048))
	assert.Equal(t, byte(SCSI_MODE_SELECT_10), tr.cdbs[1][0])
	assert.Equal(t, []byte{0x08, 0x00}, tr.in[1][14:16])
}

func TestInquiryModel(t *testing.T) {
	resp := make([]byte, inquiryLen)
	resp[0] = 5
	copy(resp[8:], "SAMSUNG ")
	copy(resp[16:], "SCR-830 REV 2.09")
	copy(resp[32:], "2.09")
	d := NewDevice(&scripted{resp: resp}, 64)

	inq, err := d.Inquiry()
	require.NoError(t, err)
	assert.Equal(t, "SAMSUNG SCR-830 REV 2.09 2.09 ", inq.Model())
	assert.Equal(t, byte(5), inq.Peripheral)
}

func TestReceivedBytes(t *testing.T) {
	d := NewDevice(&scripted{}, FrameSize)
	fillRange(d.Buf, FillAudio)
	assert.Equal(t, 0, d.ReceivedBytes())

	d.Buf[0] = 0
	assert.Equal(t, 0, d.ReceivedBytes())
	d.Buf[1] = 0
	assert.Equal(t, 4, d.ReceivedBytes())

	d.Buf[FrameSize-1] = 1
	assert.Equal(t, FrameSize, d.ReceivedBytes())
}
