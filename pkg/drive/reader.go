// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"fmt"
	"io"
)

// Reader streams the raw audio of a sector range as bytes.
type Reader struct {
	d     *Drive
	first int
	size  int64

	off      int64
	buf      []byte
	bufStart int
	bufLen   int
}

var _ io.ReadSeeker = (*Reader)(nil)

// NewReader returns a reader over sectors first through last inclusive.
func NewReader(d *Drive, first, last int) (*Reader, error) {
	if last < first {
		return nil, fmt.Errorf("%w: empty sector range %d-%d", ErrInvalidTrack, first, last)
	}
	return &Reader{
		d:     d,
		first: first,
		size:  int64(last-first+1) * FrameSize,
		buf:   make([]byte, max(1, d.NSectors())*FrameSize),
	}, nil
}

// NewTrackReader returns a reader over track n of the disc.
func NewTrackReader(d *Drive, n int) (*Reader, error) {
	first, err := d.toc.FirstSector(n)
	if err != nil {
		return nil, err
	}
	last, err := d.toc.LastSector(n)
	if err != nil {
		return nil, err
	}
	return NewReader(d, first, last)
}

// Read implements io.Reader. A sector that stays unreadable is returned as a
// *SectorError; call Skip to move past it.
func (r *Reader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}
	sector := r.first + int(r.off/FrameSize)
	if sector < r.bufStart || sector >= r.bufStart+r.bufLen {
		if err := r.fill(sector); err != nil {
			return 0, err
		}
	}
	start := int(r.off) - (r.bufStart-r.first)*FrameSize
	end := min(r.bufLen*FrameSize, start+int(r.size-r.off))
	n := copy(p, r.buf[start:end])
	r.off += int64(n)
	return n, nil
}

func (r *Reader) fill(sector int) error {
	remaining := int(r.size/FrameSize) - (sector - r.first)
	want := min(remaining, len(r.buf)/FrameSize)
	n, err := r.d.ReadAudio(r.buf, sector, want)
	if err != nil {
		r.bufLen = 0
		return err
	}
	if n == 0 {
		r.bufLen = 0
		return io.ErrUnexpectedEOF
	}
	r.bufStart, r.bufLen = sector, n
	return nil
}

// Skip replaces the sector at the current position with silence, the usual
// answer to a *SectorError. The next Read returns the zeroed remainder of
// that sector.
func (r *Reader) Skip() {
	if r.off >= r.size {
		return
	}
	clear(r.buf[:FrameSize])
	r.bufStart, r.bufLen = r.Sector(), 1
}

// Seek implements io.Seeker over the byte offset within the range.
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, errors.New("drive.Reader.Seek: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("drive.Reader.Seek: negative position")
	}
	r.off = abs
	return abs, nil
}

// Sector returns the sector holding the current position.
func (r *Reader) Sector() int {
	return r.first + int(r.off/FrameSize)
}
