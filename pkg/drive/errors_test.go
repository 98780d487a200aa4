// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestCodeError(t *testing.T) {
	assert.Equal(t, "006: Could not read any data from drive", ErrNoData.Error())
	assert.Equal(t, "300: Kernel memory error", ErrKernelMemory.Error())
	assert.Equal(t, "999: unknown error", Code(999).Error())

	err := codeError(ErrReadUnknown, unix.EIO)
	assert.True(t, errors.Is(err, ErrReadUnknown))
	assert.True(t, errors.Is(err, unix.EIO))
	assert.Equal(t, ErrTOCHeader, codeError(ErrTOCHeader, nil))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrPermissionDenied, KindConfiguration},
		{ErrTOCEntry, KindProtocol},
		{ErrNoData, KindCapability},
		{codeError(ErrReadUnknown, unix.EIO), KindTransient},
		{&SectorError{Sector: 7, Err: unix.EIO}, KindMedia},
		{fmt.Errorf("open: %w", ErrNoMedium), KindFatal},
		{unix.EIO, KindUnknown},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.err), func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestSectorError(t *testing.T) {
	err := error(&SectorError{Sector: 1234, Err: unix.EIO})
	assert.Equal(t, "010: Unable to access sector 1234: input/output error", err.Error())
	assert.True(t, errors.Is(err, ErrSectorSkip))
	assert.True(t, errors.Is(err, unix.EIO))

	bare := &SectorError{Sector: 5}
	assert.Equal(t, "010: Unable to access sector 5", bare.Error())
}

func TestParseInterface(t *testing.T) {
	for _, i := range []Interface{InterfaceAuto, CookedIoctl, GenericSCSI, SGIO, SGIOBuggy, Test} {
		got, err := ParseInterface(i.String())
		assert.NoError(t, err)
		assert.Equal(t, i, got)
	}
	_, err := ParseInterface("parallel")
	assert.True(t, errors.Is(err, ErrInterfaceNotSupported))
}

func TestLogModes(t *testing.T) {
	d := newDrive("/dev/null", Test, []Option{WithMessages(LogModeBuffer), WithErrors(LogModeSilent)})
	d.messagef("one %d", 1)
	d.messagef("two\n")
	d.errorf("dropped")

	assert.Equal(t, "one 1\ntwo\n", d.Messages())
	assert.Empty(t, d.Messages())
	assert.Empty(t, d.Errors())
}
