// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sgio

import (
	"errors"
	"runtime"
	"time"
	"unsafe"

	"github.com/yalue/native_endian"
	"golang.org/x/sys/unix"
)

const (
	// sizeof(struct sg_header) from <scsi/sg.h>
	SG_OFF       = 36
	SG_MAX_SENSE = 16

	// Wait for the device to accept a request or produce a reply. Drives
	// are allowed to work through rough spots on their own for this long.
	LEGACY_TIMEOUT = 60 * time.Second
)

var errTimeout = errors.New("timeout")

// Legacy is the original sg driver transport: a request is written to the
// sg character device as one struct sg_header followed by the command and
// its payload, and the reply is read back the same way.
type Legacy struct {
	adapter

	// Logf receives transport diagnostics, if set.
	Logf func(format string, args ...any)

	hd      []byte
	sigs    unix.Sigset_t
	elapsed time.Duration
}

// NewLegacy returns a write/read transport on the sg device fd.
func NewLegacy(fd uintptr) *Legacy {
	l := &Legacy{adapter: adapter{fd: fd, ioctl: sysIoctl}}
	for _, sig := range []unix.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGQUIT, unix.SIGHUP, unix.SIGPIPE} {
		sigaddset(&l.sigs, sig)
	}
	return l
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	set.Val[uint(sig-1)/bits] |= 1 << (uint(sig-1) % bits)
}

func (l *Legacy) Elapsed() time.Duration {
	return l.elapsed
}

func (l *Legacy) logf(format string, args ...any) {
	if l.Logf != nil {
		l.Logf(format, args...)
	}
}

func (l *Legacy) grow(n int) []byte {
	if cap(l.hd) < n {
		l.hd = make([]byte, n)
	}
	return l.hd[:n]
}

// clearGarbage drains replies left over from earlier, abandoned requests.
func (l *Legacy) clearGarbage() {
	flag := false
	hd := l.grow(SG_OFF)
	for {
		var set unix.FdSet
		set.Set(int(l.fd))
		tv := unix.Timeval{}
		n, err := unix.Select(int(l.fd)+1, &set, nil, nil, &tv)
		if err != nil || n != 1 {
			return
		}
		clear(hd)
		native_endian.NativeEndian().PutUint32(hd[4:], SG_OFF)
		_, _ = unix.Read(int(l.fd), hd[:1])
		if !flag {
			l.logf("Clearing previously returned data from SCSI buffer")
		}
		flag = true
	}
}

// wait blocks until the device is writable, or readable when read is set.
// Interrupted waits resume with the remaining time.
func (l *Legacy) wait(read bool) error {
	tv := unix.NsecToTimeval(LEGACY_TIMEOUT.Nanoseconds())
	for {
		var set unix.FdSet
		set.Set(int(l.fd))
		var (
			n   int
			err error
		)
		if read {
			n, err = unix.Select(int(l.fd)+1, &set, nil, nil, &tv)
		} else {
			n, err = unix.Select(int(l.fd)+1, nil, &set, nil, &tv)
		}
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			// Let the following read or write report the failure.
			return nil
		case n == 0:
			return errTimeout
		case read && !set.IsSet(int(l.fd)):
			return unix.EIO
		}
		return nil
	}
}

func (l *Legacy) Exec(buf, cdb, in []byte, out int, fill byte, check bool) error {
	l.elapsed = -1
	if len(buf) < len(in) || len(buf) < out {
		return &Error{Status: StatusOverrun, Errno: unix.EINVAL}
	}
	order := native_endian.NativeEndian()

	l.clearGarbage()

	writeLen := SG_OFF + len(cdb) + len(in)
	size := writeLen
	if out > len(in) {
		size += out - len(in)
	}
	if SG_OFF+out > size {
		size = SG_OFF + out
	}
	hd := l.grow(size)
	clear(hd[:SG_OFF])
	order.PutUint32(hd[4:], uint32(SG_OFF+out))
	if len(cdb) == 12 {
		// twelve_byte is bit 0 of the bitfield word
		order.PutUint32(hd[16:], 1)
	}
	copy(hd[SG_OFF:], cdb)
	copy(hd[SG_OFF+len(cdb):], in)

	// The sg driver hands back its uninitialized kernel buffer when a
	// command fails. Writing a known pattern through makes that visible.
	if check && out > len(in) {
		fillRange(hd[SG_OFF+len(cdb)+len(in):SG_OFF+len(cdb)+out], fill)
		writeLen += out - len(in)
	}

	if err := l.wait(false); err != nil {
		l.logf("SCSI transport error: timeout waiting to write packet")
		return &Error{Status: StatusWrite, Errno: unix.ETIMEDOUT}
	}

	// Keep termination signals from splitting the write from its read.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var old unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &l.sigs, &old); err == nil {
		defer unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil) //nolint:errcheck
	}

	start := time.Now()
	n, err := unix.Write(int(l.fd), hd[:writeLen])
	if err != nil || n != writeLen {
		l.elapsed = time.Since(start)
		return &Error{Status: StatusWrite, Errno: errnoOrEIO(err)}
	}

	err = l.wait(true)
	l.elapsed = time.Since(start)
	if err != nil {
		if err == errTimeout {
			l.logf("SCSI transport error: timeout waiting to read packet")
			return &Error{Status: StatusRead, Errno: unix.ETIMEDOUT}
		}
		l.logf("SCSI transport: error reading packet")
		return &Error{Status: StatusRead, Errno: unix.EIO}
	}

	n, err = unix.Read(int(l.fd), hd[:SG_OFF+out])
	var sense Sense
	copy(sense[:], hd[20:20+SG_MAX_SENSE])
	if err != nil {
		return &Error{Status: StatusRead, Errno: errnoOrEIO(err), Sense: sense}
	}
	result := order.Uint32(hd[12:])
	if n != SG_OFF+out || result != 0 {
		errno := unix.Errno(result)
		if errno == 0 {
			errno = unix.EIO
		}
		return &Error{Status: StatusRead, Errno: errno, Sense: sense}
	}

	bits := order.Uint32(hd[16:])
	if err := classify(byte(bits>>1)&0x1f, sense); err != nil {
		return err
	}
	copy(buf[:out], hd[SG_OFF:SG_OFF+out])

	// Failed or partial DMA transfers occasionally get through with no
	// indication anything went wrong.
	if check && len(in)+len(cdb) < out && untouched(buf[len(in):out], fill) {
		return &Error{Status: StatusIllegal, Errno: unix.EINVAL}
	}

	return nil
}

func errnoOrEIO(err error) unix.Errno {
	if err == nil {
		return unix.EIO
	}
	return errnoOf(err)
}
