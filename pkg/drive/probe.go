// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"bytes"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
)

type densityMode struct {
	label   string
	density byte
	enable  Enable
}

// Densities tried by the exhaustive probe, in order. The first row leaves
// the drive's mode pages alone.
var probeDensities = []densityMode{
	{"none    ", 0x00, EnableDummy},
	{"yes/0x00", 0x00, EnableModeSelect},
	{"yes/0x04", 0x04, EnableModeSelect},
	{"yes/0x82", 0x82, EnableModeSelect},
	{"yes/0x81", 0x81, EnableModeSelect},
}

var (
	probeCommandsPlain = []sgio.ReadCommand{
		sgio.Read28, sgio.ReadA8,
		sgio.ReadMMCB, sgio.ReadMMC2B, sgio.ReadMMC3B,
		sgio.ReadMMC, sgio.ReadMMC2, sgio.ReadMMC3,
		sgio.ReadMSF, sgio.ReadMSF2, sgio.ReadMSF3,
		sgio.ReadD4_10, sgio.ReadD4_12, sgio.ReadD5, sgio.ReadD8,
	}
	// Only vendor commands honour a density code.
	probeCommandsDensity = []sgio.ReadCommand{
		sgio.Read28, sgio.ReadA8,
		sgio.ReadD4_10, sgio.ReadD4_12, sgio.ReadD5, sgio.ReadD8,
	}
)

// filledBytes counts the bytes of p that precede the trailing fill pattern.
func filledBytes(p []byte) int {
	i := len(p)
	for ; i > 1; i -= 2 {
		if p[i-1] != sgio.FillAudio || p[i-2] != sgio.FillAudio {
			break
		}
	}
	return i
}

// probeRead reads a single frame at sector with the current command and
// reports how many bytes the drive actually returned.
func (s *scsiBackend) probeRead(p []byte, sector int) (int, error) {
	n, err := s.d.recoverRead(policy{backoff: backoffHalve}, s, p, sector, 1)
	if err != nil || n <= 0 {
		return 0, err
	}
	return filledBytes(p[:FrameSize]), nil
}

// verify confirms the read command chosen from the defaults and quirk
// table works, and falls back to trying every known combination of density
// and read command.
func (s *scsiBackend) verify() error {
	d := s.d
	audio := d.toc.AudioTracks()
	p := make([]byte, FrameSize)

	d.messagef("Verifying CDDA command set...")
	if s.enable(true) == nil {
		for _, t := range audio {
			n, err := s.probeRead(p, d.midpoint(t))
			if err == nil && n == FrameSize {
				d.messagef("\tExpected command set reads OK.")
				s.enable(false) //nolint:errcheck
				return nil
			}
		}
		s.enable(false) //nolint:errcheck
	}

	if len(audio) == 0 {
		d.errorf("\tThe CDROM has no audio tracks to probe with")
		return d.fail(ErrNoAudioTracks, nil)
	}

	d.messagef("\tExpected command set FAILED!\n\tPerforming full probe...")
	if d.reportAll {
		d.messagef("\tProbing %d audio tracks", len(audio))
	}

	density, enable, cmd, order := s.density, s.enableMode, s.cmd, d.order
	d.order = OrderUnknown

	for row, dm := range probeDensities {
		cmds := probeCommandsDensity
		if row == 0 {
			cmds = probeCommandsPlain
		}
		s.density = dm.density
		s.enableMode = dm.enable

		for _, c := range cmds {
			s.cmd = c
			if s.tryCombination(dm.label, audio, p) {
				return nil
			}
		}
	}

	s.density, s.enableMode, s.cmd, d.order = density, enable, cmd, order
	d.errorf("Unable to find any suitable command set from probe;\n" +
		"drive probably not CDDA capable.")
	return d.fail(ErrNoData, nil)
}

// tryCombination tests the current density and read command against every
// audio track and reports whether one returned a full frame of audio.
func (s *scsiBackend) tryCombination(densityLabel string, audio []int, p []byte) bool {
	d := s.d
	var densityRejected bool
	var rejected, zero, length int

	d.messagef("\ttest -> density: [%s]  command: [%s]", densityLabel, s.cmd.Label())

	if s.enable(true) != nil {
		densityRejected = true
	} else {
		for _, t := range audio {
			n, err := s.probeRead(p, d.midpoint(t))
			if err != nil || n <= 0 {
				rejected++
				break
			}
			if n == FrameSize && !allZero(p) {
				d.messagef("\t\tCommand set FOUND!")
				s.enable(false) //nolint:errcheck
				return true
			}
			if n != FrameSize {
				length = n
			} else {
				zero++
			}
		}
		s.enable(false) //nolint:errcheck
	}

	if densityRejected {
		d.messagef("\t\tDrive rejected density set")
	}
	if rejected > 0 {
		d.messagef("\t\tDrive rejected read command packet(s)")
	}
	if length > 0 {
		d.messagef("\t\tDrive returned at least one packet, but with\n\t\tincorrect size (%d)", length)
	}
	if zero > 0 {
		d.messagef("\t\tDrive returned %d packet(s), but contents\n\t\twere entirely zero", zero)
	}
	return false
}

// checkCache finds out whether the drive honours the Force Unit Access bit
// on the chosen read command, which keeps it from serving cached data.
func (s *scsiBackend) checkCache() {
	d := s.d
	if !s.cmd.TakesDensity() {
		return
	}
	d.messagef("This command set may use a Force Unit Access bit.")
	d.messagef("\nChecking drive for FUA bit support...")

	p := make([]byte, FrameSize)
	s.enable(true) //nolint:errcheck
	s.fua = true
	for _, t := range d.toc.AudioTracks() {
		if n, err := s.probeRead(p, d.midpoint(t)); err == nil && n > 0 {
			d.messagef("\tDrive accepted FUA bit.")
			s.enable(false) //nolint:errcheck
			return
		}
	}
	s.enable(false) //nolint:errcheck
	s.fua = false
	d.messagef("\tDrive rejected FUA bit.")
}

// midpoint returns the middle sector of a track known to exist.
func (d *Drive) midpoint(track int) int {
	m, _ := d.toc.Midpoint(track)
	return m
}

func allZero(p []byte) bool {
	return bytes.Count(p, []byte{0}) == len(p)
}
