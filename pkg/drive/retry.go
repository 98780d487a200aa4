// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"time"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
	"golang.org/x/sys/unix"
)

// Attempts at single sector granularity before a sector is given up on.
const maxRetries = 8

type backoff int

const (
	// halve the request after every failure
	backoffHalve backoff = iota
	// shrink the request by a quarter once five attempts have failed
	backoffThreeQuarters
)

// policy tunes the recovery ladder to a backend.
type policy struct {
	backoff backoff
	// verifyFill counts the delivered frames by scanning for the fill
	// pattern.
	verifyFill bool
	// reset issues a bus reset after an underrun or a failed multi-sector
	// read.
	reset bool
	// benign errors end a read with zero frames and no error.
	benign []unix.Errno
}

// attempter is one raw, unretried read.
type attempter interface {
	attempt(p []byte, begin, sectors int) error
	enable(on bool) error
}

// resetter is implemented by backends that can reset the bus.
type resetter interface {
	busReset()
}

func (p policy) isBenign(err error) bool {
	for _, e := range p.benign {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// filledSectors counts the frames at the start of p that are not entirely
// fill bytes, judged by the last sample pair that was written.
func filledSectors(p []byte, sectors int) int {
	i := sectors * FrameSize
	for ; i > 1; i -= 2 {
		if p[i-1] != sgio.FillAudio || p[i-2] != sgio.FillAudio {
			break
		}
	}
	return i / FrameSize
}

// recoverRead reads up to sectors frames at begin through a, shrinking the
// request and resetting the drive until an attempt succeeds or the retry
// budget is spent.
func (d *Drive) recoverRead(pol policy, a attempter, p []byte, begin, sectors int) (int, error) {
	sectors = max(1, min(sectors, d.nsectors))
	retry := 0

	for {
		err := a.attempt(p, begin, sectors)
		if err == nil {
			if p == nil || !pol.verifyFill {
				return sectors, nil
			}
			n := filledSectors(p, sectors)
			if n != sectors {
				if d.reportAll {
					d.messagef("scsi_read underrun: pos=%d len=%d read=%d retry=%d",
						begin, sectors, n, retry)
				}
				if pol.reset {
					d.busReset(a)
				}
			}
			if n > 0 || !d.errorRetry {
				return n, nil
			}
		} else {
			d.opts.metrics.retry(d)
			if d.reportAll {
				d.reportReadError(err, begin, sectors, retry)
			}

			switch {
			case errors.Is(err, unix.EINTR):
				time.Sleep(100 * time.Microsecond)
				continue
			case errors.Is(err, unix.ENOMEM):
				if sectors == 1 {
					return 0, d.fail(ErrKernelMemory, err)
				}
				if d.reportAll {
					d.messagef("scsi_read: kernel couldn't alloc %d bytes.  backing off...",
						sectors*FrameSize)
				}
				sectors /= 2
				continue
			case pol.isBenign(err):
				return 0, nil
			case errors.Is(err, unix.ENOMEDIUM):
				return 0, d.fail(ErrNoMedium, err)
			case !d.errorRetry:
				// Still probing; failures are expected.
				return 0, codeError(ErrReadUnknown, err)
			case errors.Is(err, sgio.ErrIllegalRequest):
				// The target refused the command itself; a smaller
				// request will not change its mind.
				return 0, d.fail(ErrReadUnknown, err)
			}
			if sectors == 1 {
				if retry > maxRetries-1 {
					d.errorf("%v %d", ErrSectorSkip, begin)
					return 0, &SectorError{Sector: begin, Err: err}
				}
			} else if pol.reset {
				d.busReset(a)
			}
		}

		if pol.backoff == backoffThreeQuarters && retry > 4 && sectors > 1 {
			sectors = sectors * 3 / 4
		}
		retry++
		if retry > maxRetries && (sectors == 1 || pol.backoff == backoffThreeQuarters) {
			return 0, d.fail(ErrReadUnknown, err)
		}
		if pol.backoff == backoffHalve && sectors > 1 {
			sectors /= 2
		}
		a.enable(false) //nolint:errcheck
		a.enable(true)  //nolint:errcheck
	}
}

func (d *Drive) busReset(a attempter) {
	if r, ok := a.(resetter); ok {
		r.busReset()
		d.opts.metrics.busReset(d)
	}
}

func (d *Drive) reportReadError(err error, begin, sectors, retry int) {
	d.messagef("scsi_read error: sector=%d length=%d retry=%d", begin, sectors, retry)
	var e *sgio.Error
	if errors.As(err, &e) {
		d.messagef("                 Sense key: %x ASC: %x ASCQ: %x",
			e.Sense.Key(), e.Sense.ASC(), e.Sense.ASCQ())
		d.messagef("                 Transport error: %s", e.Status)
		d.messagef("                 System error: %s", e.Errno.Error())
		return
	}
	d.messagef("                 System error: %v", err)
}
