// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LogMode selects where drive messages and errors go.
type LogMode int

const (
	LogModeSilent LogMode = iota // discard
	LogModeStdErr                // print through the handle's log.Logger, stderr by default
	LogModeBuffer                // keep until drained with Messages or Errors
)

type logSink struct {
	mode   LogMode
	logger *log.Logger
	buf    strings.Builder
}

func newLogSink(mode LogMode, l *log.Logger) *logSink {
	if l == nil {
		l = log.New(os.Stderr, "", 0)
	}
	return &logSink{mode: mode, logger: l}
}

func (s *logSink) printf(format string, args ...any) {
	switch s.mode {
	case LogModeStdErr:
		s.logger.Printf(format, args...)
	case LogModeBuffer:
		fmt.Fprintf(&s.buf, format, args...)
		if !strings.HasSuffix(format, "\n") {
			s.buf.WriteByte('\n')
		}
	}
}

func (s *logSink) drain() string {
	r := s.buf.String()
	s.buf.Reset()
	return r
}

// Messages returns and clears the buffered informational output.
func (d *Drive) Messages() string {
	return d.msg.drain()
}

// Errors returns and clears the buffered error output.
func (d *Drive) Errors() string {
	return d.errs.drain()
}

func (d *Drive) messagef(format string, args ...any) {
	d.msg.printf(format, args...)
}

func (d *Drive) errorf(format string, args ...any) {
	d.errs.printf(format, args...)
}

// fail records c in the error log and returns it wrapped around cause.
func (d *Drive) fail(c Code, cause error) error {
	d.errorf("%v", c)
	return codeError(c, cause)
}
