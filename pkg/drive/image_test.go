// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio/sgiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// audioImage renders sectors frames of test audio in the given order.
func audioImage(sectors int, order binary.ByteOrder) []byte {
	b := make([]byte, sectors*FrameSize)
	for s := 0; s < sectors; s++ {
		f := b[s*FrameSize:]
		for i := 0; i < FrameSize/4; i++ {
			order.PutUint16(f[i*4:], uint16(sgiotest.Sample(s, i, 0)))
			order.PutUint16(f[i*4+2:], uint16(sgiotest.Sample(s, i, 1)))
		}
	}
	return b
}

func openImage(t *testing.T, img []byte, opts ...Option) *Drive {
	t.Helper()
	d, err := OpenImage("test.raw", bytes.NewReader(img), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpenImage(t *testing.T) {
	d := openImage(t, audioImage(100, binary.LittleEndian))

	assert.Equal(t, Test, d.Interface())
	assert.Equal(t, 13, d.NSectors())
	assert.Equal(t, OrderLittle, d.ByteOrder())

	toc := d.TOC()
	require.Equal(t, 1, toc.Tracks())
	assert.Equal(t, 37, toc[0].Start)
	assert.Equal(t, 137, toc.LeadOut().Start)
	assert.Equal(t, byte(FlagData), toc.LeadOut().Flags)
}

func TestImageTiming(t *testing.T) {
	d := openImage(t, audioImage(100, binary.LittleEndian))
	p := make([]byte, 13*FrameSize)

	n, err := d.ReadAudio(p, 120, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, 10, d.LastMilliseconds())

	_, err = d.ReadAudio(p, 40, 5)
	require.NoError(t, err)
	assert.Equal(t, 20, d.LastMilliseconds())

	// past the end of the image
	n, err = d.ReadAudio(p, 130, 13)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestImageBigEndian(t *testing.T) {
	img := audioImage(100, binary.BigEndian)

	d := openImage(t, img)
	assert.Equal(t, OrderBig, d.ByteOrder())
	assert.True(t, d.BigEndian())

	p := make([]byte, FrameSize)
	_, err := d.ReadAudio(p, 37, 1)
	require.NoError(t, err)
	assert.Equal(t, img[:FrameSize], p)

	d = openImage(t, img, WithHostByteOrder())
	_, err = d.ReadAudio(p, 37, 1)
	require.NoError(t, err)
	if hostOrder() == OrderLittle {
		assert.Equal(t, audioImage(1, binary.LittleEndian), p)
	} else {
		assert.Equal(t, img[:FrameSize], p)
	}
}

func TestImageSilence(t *testing.T) {
	d := openImage(t, make([]byte, 50*FrameSize), WithMessages(LogModeBuffer))
	assert.Equal(t, hostOrder(), d.ByteOrder())
	assert.Contains(t, d.Messages(), "Cannot determine CDROM drive endianness.")
}

func TestReader(t *testing.T) {
	img := audioImage(100, binary.LittleEndian)
	d := openImage(t, img)

	r, err := NewTrackReader(d, 1)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	off, err := r.Seek(5*FrameSize+100, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(5*FrameSize+100), off)
	assert.Equal(t, 42, r.Sector())

	b := make([]byte, 50)
	n, err := r.Read(b)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	assert.Equal(t, img[5*FrameSize+100:5*FrameSize+150], b)

	off, err = r.Seek(-FrameSize, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(99*FrameSize), off)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, img[99*FrameSize:], rest)

	_, err = r.Seek(-1, io.SeekStart)
	assert.Error(t, err)

	_, err = NewTrackReader(d, 2)
	assert.True(t, errors.Is(err, ErrInvalidTrack))
}

func TestReaderSkipsBadSector(t *testing.T) {
	f := sgiotest.New()
	d := openFake(t, f)
	f.Fail = func(_, begin, sectors int) error {
		if begin <= 50 && 50 < begin+sectors {
			return mediumError()
		}
		return nil
	}

	r, err := NewReader(d, 0, 99)
	require.NoError(t, err)

	var (
		out     bytes.Buffer
		skipped int
	)
	b := make([]byte, 4096)
	for {
		n, err := r.Read(b)
		out.Write(b[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		var se *SectorError
		if errors.As(err, &se) {
			assert.Equal(t, 50, se.Sector)
			skipped++
			r.Skip()
			continue
		}
		require.NoError(t, err)
	}
	assert.Equal(t, 1, skipped)
	require.Equal(t, 100*FrameSize, out.Len())
	assert.Equal(t, make([]byte, FrameSize), out.Bytes()[50*FrameSize:51*FrameSize])
	assert.NotEqual(t, make([]byte, FrameSize), out.Bytes()[51*FrameSize:52*FrameSize])
}

func TestReaderFillsTail(t *testing.T) {
	tests := []struct {
		name        string
		first, last int
		lastFill    int
	}{
		{"several fills", 100, 129, 4},
		{"exact fill", 100, 112, 13},
		{"single sector", 100, 100, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := audioImage(100, binary.LittleEndian)
			d := openImage(t, img)

			r, err := NewReader(d, tc.first, tc.last)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, img[(tc.first-imageTrackStart)*FrameSize:(tc.last-imageTrackStart+1)*FrameSize], got)
			// forward image reads take one millisecond per sector
			assert.Equal(t, tc.lastFill, d.LastMilliseconds())
		})
	}
}

func TestImageScratchedSector(t *testing.T) {
	img := audioImage(100, binary.LittleEndian)
	d := openImage(t, img, WithImageFaults(ImageFaults{Scratched: []int{50}}),
		WithMessages(LogModeBuffer), WithErrors(LogModeBuffer))

	r, err := NewTrackReader(d, 1)
	require.NoError(t, err)
	var (
		out     bytes.Buffer
		skipped []int
	)
	b := make([]byte, 4096)
	for {
		n, err := r.Read(b)
		out.Write(b[:n])
		if errors.Is(err, io.EOF) {
			break
		}
		var se *SectorError
		if errors.As(err, &se) {
			skipped = append(skipped, se.Sector)
			r.Skip()
			continue
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []int{50}, skipped)
	require.Equal(t, len(img), out.Len())
	bad := (50 - imageTrackStart) * FrameSize
	assert.Equal(t, img[:bad], out.Bytes()[:bad])
	assert.Equal(t, make([]byte, FrameSize), out.Bytes()[bad:bad+FrameSize])
	assert.Equal(t, img[bad+FrameSize:], out.Bytes()[bad+FrameSize:])
	assert.Contains(t, d.Messages(), "scsi_read error: sector=50 length=1")
	assert.Contains(t, d.Errors(), "Unable to access sector 50")
}

func TestImageUnderrun(t *testing.T) {
	img := audioImage(100, binary.LittleEndian)
	d := openImage(t, img, WithImageFaults(ImageFaults{Underrun: 1}),
		WithMessages(LogModeBuffer), WithErrors(LogModeBuffer))
	d.Messages()

	p := make([]byte, 13*FrameSize)
	n, err := d.ReadAudio(p, 40, 13)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	off := (40 - imageTrackStart) * FrameSize
	assert.Equal(t, img[off:off+12*FrameSize], p[:12*FrameSize])
	assert.Contains(t, d.Messages(), "scsi_read underrun: pos=40 len=13 read=12 retry=0")
}

// shiftOf finds how many bytes away from off the image data in p was read.
func shiftOf(img, p []byte, off, limit int) (int, bool) {
	for k := -limit; k <= limit; k += 4 {
		if off+k < 0 || off+k+len(p) > len(img) {
			continue
		}
		if bytes.Equal(img[off+k:off+k+len(p)], p) {
			return k, true
		}
	}
	return 0, false
}

func TestImageJitter(t *testing.T) {
	tests := []struct {
		name   string
		faults ImageFaults
	}{
		{"jitter", ImageFaults{Seed: 7, Jitter: 64}},
		{"seek jitter with fragments", ImageFaults{Seed: 3, Jitter: 256, SeekJitter: true, Fragment: 1000}},
		{"fragments only", ImageFaults{Fragment: 588}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := audioImage(100, binary.LittleEndian)
			d := openImage(t, img, WithImageFaults(tc.faults), WithMessages(LogModeBuffer))

			p := make([]byte, 3*FrameSize)
			n, err := d.ReadAudio(p, 50, 3)
			require.NoError(t, err)
			require.Equal(t, 3, n)

			off := (50 - imageTrackStart) * FrameSize
			k, ok := shiftOf(img, p, off, tc.faults.Jitter)
			require.True(t, ok, "data does not match any shifted window")
			assert.LessOrEqual(t, k, tc.faults.Jitter)
			assert.GreaterOrEqual(t, k, -tc.faults.Jitter)
			assert.Zero(t, k%4)
		})
	}
}
