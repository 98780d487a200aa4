// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"log"
	"os"
)

const (
	// Lifts the 64 KiB cap on SCSI transfers when set to any value.
	EnvIgnoreBufferLimit = "CDDA_IGNORE_BUFSIZE_LIMIT"

	defaultResetPolls = 1000
)

type options struct {
	iface          Interface
	msgMode        LogMode
	errMode        LogMode
	logger         *log.Logger
	metrics        *Metrics
	ignoreBufLimit bool
	hostOrder      bool
	quirks         *Quirks
	resetPolls     int
	faults         *ImageFaults
}

func defaultOptions() options {
	_, ignore := os.LookupEnv(EnvIgnoreBufferLimit)
	return options{
		msgMode:        LogModeSilent,
		errMode:        LogModeStdErr,
		ignoreBufLimit: ignore,
		resetPolls:     defaultResetPolls,
	}
}

type Option func(o *options)

// WithInterface forces the transport instead of sniffing the device.
func WithInterface(i Interface) Option {
	return func(o *options) {
		o.iface = i
	}
}

func WithMessages(m LogMode) Option {
	return func(o *options) {
		o.msgMode = m
	}
}

func WithErrors(m LogMode) Option {
	return func(o *options) {
		o.errMode = m
	}
}

// WithLogger sets the logger used by LogModeStdErr.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIgnoreBufferLimit lets SCSI transfers use the whole reserved buffer
// the kernel grants rather than at most 64 KiB.
func WithIgnoreBufferLimit() Option {
	return func(o *options) {
		o.ignoreBufLimit = true
	}
}

// WithHostByteOrder makes ReadAudio return samples in host byte order.
func WithHostByteOrder() Option {
	return func(o *options) {
		o.hostOrder = true
	}
}

// WithQuirks adds quirks that take precedence over the built-in table.
func WithQuirks(q *Quirks) Option {
	return func(o *options) {
		o.quirks = q
	}
}

// WithReset bounds how many TEST UNIT READY polls a bus reset waits for the
// drive to settle.
func WithReset(polls int) Option {
	return func(o *options) {
		o.resetPolls = polls
	}
}
