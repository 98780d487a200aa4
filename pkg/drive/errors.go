// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"errors"
	"fmt"
)

// Code is a drive failure identified by its historical numeric code.
type Code int

const (
	ErrSetReadAudioMode      Code = 1
	ErrTOCLeadOut            Code = 2
	ErrTrackCount            Code = 3
	ErrTOCHeader             Code = 4
	ErrTOCEntry              Code = 5
	ErrNoData                Code = 6
	ErrReadUnknown           Code = 7
	ErrIdentify              Code = 8
	ErrIllegalTOC            Code = 9
	ErrSectorSkip            Code = 10
	ErrInterfaceNotSupported Code = 100
	ErrPermissionDenied      Code = 102
	ErrKernelMemory          Code = 300
	ErrNotOpen               Code = 400
	ErrInvalidTrack          Code = 401
	ErrNoAudioTracks         Code = 403
	ErrNoMedium              Code = 404
	ErrNotSupported          Code = 405
)

var codeText = map[Code]string{
	ErrSetReadAudioMode:      "Unable to set CDROM to read audio mode",
	ErrTOCLeadOut:            "Unable to read table of contents lead-out",
	ErrTrackCount:            "CDROM reporting illegal number of tracks",
	ErrTOCHeader:             "Unable to read table of contents header",
	ErrTOCEntry:              "Unable to read table of contents entry",
	ErrNoData:                "Could not read any data from drive",
	ErrReadUnknown:           "Unknown, unrecoverable error reading data",
	ErrIdentify:              "Unable to identify CDROM model",
	ErrIllegalTOC:            "CDROM reporting illegal table of contents",
	ErrSectorSkip:            "Unable to access sector",
	ErrInterfaceNotSupported: "Interface not supported",
	ErrPermissionDenied:      "Permission denied on cdrom (ioctl) device",
	ErrKernelMemory:          "Kernel memory error",
	ErrNotOpen:               "Device not open",
	ErrInvalidTrack:          "Invalid track number",
	ErrNoAudioTracks:         "No audio tracks on disc",
	ErrNoMedium:              "No medium present",
	ErrNotSupported:          "Option not supported by drive",
}

func (c Code) Error() string {
	if s, ok := codeText[c]; ok {
		return fmt.Sprintf("%03d: %s", int(c), s)
	}
	return fmt.Sprintf("%03d: unknown error", int(c))
}

// Kind groups failures by how a caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// Device inaccessible or unsupported; fatal at open.
	KindConfiguration
	// Malformed table of contents; fatal at open.
	KindProtocol
	// No working audio read command exists.
	KindCapability
	// Retried below; surfaces only once the retry budget is spent.
	KindTransient
	// A single sector could not be read and may be skipped.
	KindMedia
	// No further retries anywhere.
	KindFatal
)

var kindText = [...]string{
	KindUnknown:       "unknown",
	KindConfiguration: "configuration",
	KindProtocol:      "protocol",
	KindCapability:    "capability",
	KindTransient:     "transient",
	KindMedia:         "media",
	KindFatal:         "fatal",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindText) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindText[k]
}

func (c Code) Kind() Kind {
	switch c {
	case ErrInterfaceNotSupported, ErrPermissionDenied, ErrIdentify, ErrNotOpen,
		ErrInvalidTrack, ErrNotSupported, ErrSetReadAudioMode:
		return KindConfiguration
	case ErrTOCLeadOut, ErrTrackCount, ErrTOCHeader, ErrTOCEntry, ErrIllegalTOC:
		return KindProtocol
	case ErrNoData, ErrNoAudioTracks:
		return KindCapability
	case ErrReadUnknown:
		return KindTransient
	case ErrSectorSkip:
		return KindMedia
	case ErrKernelMemory, ErrNoMedium:
		return KindFatal
	}
	return KindUnknown
}

// KindOf returns the kind of the first Code found in err's chain.
func KindOf(err error) Kind {
	var c Code
	if errors.As(err, &c) {
		return c.Kind()
	}
	return KindUnknown
}

// SectorError reports a sector that stayed unreadable after every retry.
// It matches ErrSectorSkip.
type SectorError struct {
	Sector int
	Err    error
}

func (e *SectorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v %d", ErrSectorSkip, e.Sector)
	}
	return fmt.Sprintf("%v %d: %v", ErrSectorSkip, e.Sector, e.Err)
}

func (e *SectorError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSectorSkip}
	}
	return []error{ErrSectorSkip, e.Err}
}

// codeError attaches the underlying cause to a Code.
func codeError(c Code, cause error) error {
	if cause == nil {
		return c
	}
	return fmt.Errorf("%w: %w", c, cause)
}
