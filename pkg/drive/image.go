// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"io"
	"math/rand"
	"slices"
	"time"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
	"golang.org/x/sys/unix"
)

const (
	// first sector of the single track of an image
	imageTrackStart = 37
	imageSectors    = 13

	imageSeekTime = 20 * time.Millisecond
)

// Image is raw 16-bit stereo audio laid out as consecutive frames.
// *bytes.Reader and *os.File (through NewImageFile) satisfy it.
type Image interface {
	io.ReaderAt
	Size() int64
}

// ImageFaults makes an image misbehave like a worn disc in a marginal drive.
// The zero value reads the image exactly.
type ImageFaults struct {
	// Seed of the pseudo random faults, so a run can be repeated.
	Seed int64
	// Jitter is the largest distance in bytes a read may land away from the
	// sector it asked for. Reads stay sample aligned.
	Jitter int
	// SeekJitter limits jitter to reads that do not continue the previous
	// one.
	SeekJitter bool
	// Fragment splits every read into pieces of at most this many bytes,
	// each positioned on its own.
	Fragment int
	// Underrun is the probability that a read delivers one sector less
	// than requested.
	Underrun float64
	// Scratched sectors always fail with a medium error.
	Scratched []int
}

// WithImageFaults injects faults into reads of an image opened with
// OpenImage.
func WithImageFaults(f ImageFaults) Option {
	return func(o *options) {
		o.faults = &f
	}
}

type imageBackend struct {
	d       *Drive
	img     Image
	last    int
	faults  *ImageFaults
	rnd     *rand.Rand
	pol     policy
	scratch []byte
}

// OpenImage opens an audio image as a single track disc. Reads take as many
// milliseconds as they transfer sectors, plus a fixed cost when they seek
// backwards, so that timing based callers can be exercised without a
// drive. If img is an io.Closer it is closed with the drive.
func OpenImage(name string, img Image, opts ...Option) (*Drive, error) {
	d := newDrive(name, Test, opts)
	d.model = "Test image"
	d.id.Product = d.model
	b := &imageBackend{d: d, img: img, last: -1, faults: d.opts.faults}
	if b.faults != nil {
		b.rnd = rand.New(rand.NewSource(b.faults.Seed))
		b.pol = policy{backoff: backoffHalve, verifyFill: b.faults.Underrun > 0}
	}
	if err := d.open(b); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *imageBackend) init() error {
	d := b.d
	sectors := int(b.img.Size() / FrameSize)
	d.nsectors = imageSectors
	toc := TOC{
		{Number: 1, Start: imageTrackStart},
		{Number: LeadOut, Start: sectors + imageTrackStart, Flags: FlagData},
	}
	if err := d.setTOC(toc); err != nil {
		return err
	}
	d.errorRetry = true
	d.reportAll = true
	return nil
}

func (b *imageBackend) enable(bool) error {
	return nil
}

func (b *imageBackend) timed(begin, sectors int) {
	elapsed := time.Duration(sectors) * time.Millisecond
	if begin < b.last {
		elapsed = imageSeekTime
	}
	b.d.timed(elapsed)
}

func (b *imageBackend) read(p []byte, begin, sectors int) (int, error) {
	d := b.d
	sectors = min(sectors, d.nsectors)
	avail := imageTrackStart + int(b.img.Size()/FrameSize) - begin
	if begin < imageTrackStart || avail <= 0 {
		b.timed(begin, sectors)
		b.last = begin + sectors
		return 0, nil
	}
	sectors = min(sectors, avail)
	if b.faults == nil {
		if err := b.attempt(p, begin, sectors); err != nil {
			return 0, err
		}
		return sectors, nil
	}
	return d.recoverRead(b.pol, b, p, begin, sectors)
}

func (b *imageBackend) attempt(p []byte, begin, sectors int) error {
	b.timed(begin, sectors)
	seek := begin != b.last
	b.last = begin + sectors

	if p == nil {
		if n := sectors * FrameSize; len(b.scratch) < n {
			b.scratch = make([]byte, n)
		}
		p = b.scratch
	}
	p = p[:sectors*FrameSize]
	off := int64(begin-imageTrackStart) * FrameSize

	f := b.faults
	if f == nil {
		return b.readAt(p, off)
	}
	if f.scratched(begin, sectors) {
		var sense sgio.Sense
		sense[0] = 0x70
		sense[2] = sgio.SenseMediumError
		sense[12] = 0x11 // unrecovered read error
		return &sgio.Error{Status: sgio.StatusMedium, Errno: unix.EIO, Sense: sense}
	}
	if f.Underrun > 0 && b.rnd.Float64() < f.Underrun {
		fillRange(p[(sectors-1)*FrameSize:], sgio.FillAudio)
		p = p[:(sectors-1)*FrameSize]
	}

	piece := len(p)
	if f.Fragment > 0 {
		piece = f.Fragment
	}
	jitter := 0
	for done := 0; done < len(p); done += piece {
		if f.Jitter > 0 && (!f.SeekJitter || (seek && done == 0)) {
			jitter = 4 * (b.rnd.Intn(2*(f.Jitter/4)+1) - f.Jitter/4)
		}
		at := max(0, off+int64(done+jitter))
		if err := b.readAt(p[done:min(len(p), done+piece)], at); err != nil {
			return err
		}
	}
	return nil
}

func (b *imageBackend) readAt(p []byte, off int64) error {
	n, err := b.img.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return b.d.fail(ErrReadUnknown, err)
	}
	// A jittered read may run off the end of the image.
	clear(p[n:])
	return nil
}

func fillRange(b []byte, fill byte) {
	for i := range b {
		b[i] = fill
	}
}

// scratched reports whether any sector in [begin, begin+sectors) is marked
// unreadable.
func (f *ImageFaults) scratched(begin, sectors int) bool {
	return slices.ContainsFunc(f.Scratched, func(s int) bool {
		return s >= begin && s < begin+sectors
	})
}

func (b *imageBackend) setSpeed(int) error {
	return nil
}

func (b *imageBackend) close() error {
	if c, ok := b.img.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
