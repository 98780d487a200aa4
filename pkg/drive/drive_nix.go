// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
	"golang.org/x/sys/unix"
)

// Character major of the SCSI generic driver.
const SCSIGenericMajor = 21

// FdIntf is an open device node. *os.File satisfies it.
type FdIntf interface {
	Fd() uintptr
	Close() error
}

// Open opens the CD drive at device, picking the interface from the kind
// of node unless WithInterface forces one. With the Test interface device
// names an audio image file.
func Open(device string, opts ...Option) (*Drive, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.iface == Test {
		f, err := os.Open(device)
		if err != nil {
			return nil, openError(err)
		}
		img, err := NewImageFile(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return OpenImage(device, img, opts...)
	}

	f, err := os.OpenFile(device, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		f, err = os.OpenFile(device, os.O_RDONLY|unix.O_NONBLOCK, 0)
	}
	if err != nil {
		return nil, openError(err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		f.Close()
		return nil, openError(err)
	}
	major, minor := unix.Major(uint64(st.Rdev)), unix.Minor(uint64(st.Rdev))

	iface := o.iface
	if iface == InterfaceAuto {
		switch {
		case speaksSGIO(f):
			iface = SGIO
		case major == SCSIGenericMajor:
			iface = GenericSCSI
		default:
			iface = CookedIoctl
		}
	}

	var d *Drive
	switch iface {
	case SGIO, SGIOBuggy:
		opts = append(opts, WithInterface(iface))
		d, err = OpenSCSI(device, sgio.NewSGIO(f.Fd(), iface == SGIOBuggy), f, opts...)
	case GenericSCSI:
		opts = append(opts, WithInterface(iface))
		d, err = OpenSCSI(device, sgio.NewLegacy(f.Fd()), f, opts...)
	case CookedIoctl:
		dev := &cdromDevice{fd: f, model: sysfsModel(major, minor)}
		d, err = OpenCooked(device, dev, major, opts...)
	default:
		err = fmt.Errorf("%w: %s", ErrInterfaceNotSupported, iface)
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// speaksSGIO reports whether the node answers an SG_IO INQUIRY.
func speaksSGIO(f FdIntf) bool {
	dev := sgio.NewDevice(sgio.NewSGIO(f.Fd(), false), 64)
	_, err := dev.Inquiry()
	return err == nil
}

func openError(err error) error {
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return codeError(ErrPermissionDenied, err)
	}
	return codeError(ErrIdentify, err)
}

// sysfsModel names a block device from the vendor and model sysfs
// attributes.
func sysfsModel(major, minor uint32) string {
	dir := fmt.Sprintf("/sys/dev/block/%d:%d/device/", major, minor)
	var parts []string
	for _, attr := range []string{"vendor", "model"} {
		if b, err := os.ReadFile(dir + attr); err == nil {
			if s := strings.TrimSpace(string(b)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

type imageFile struct {
	*os.File
	size int64
}

func (f *imageFile) Size() int64 {
	return f.size
}

// NewImageFile wraps an open file as an Image.
func NewImageFile(f *os.File) (Image, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &imageFile{File: f, size: fi.Size()}, nil
}
