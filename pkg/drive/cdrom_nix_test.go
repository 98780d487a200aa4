// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// The ioctl argument structs mirror <linux/cdrom.h> on 64-bit hosts.
func TestCDROMStructLayout(t *testing.T) {
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"tochdr size", unsafe.Sizeof(cdromTochdr{}), 2},
		{"tocentry size", unsafe.Sizeof(cdromTocentry{}), 12},
		{"tocentry addr", unsafe.Offsetof(cdromTocentry{}.addr), 4},
		{"read audio nframes", unsafe.Offsetof(cdromReadAudio{}.nframes), 8},
		{"read audio buf", unsafe.Offsetof(cdromReadAudio{}.buf), 16},
		{"read audio size", unsafe.Sizeof(cdromReadAudio{}), 24},
		{"multisession size", unsafe.Sizeof(cdromMultisession{}), 8},
		{"multisession format", unsafe.Offsetof(cdromMultisession{}.addrFormat), 5},
	}
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layout checked on 64-bit hosts only")
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.got)
		})
	}
}
