// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"fmt"
	"strings"
)

// LeadOut is the track number of the synthetic entry that closes a TOC.
const LeadOut = 0xaa

// MaxTracks is the largest track count a disc may report.
const MaxTracks = 100

// Track control flags
const (
	FlagPreEmphasis = 0x01
	FlagCopy        = 0x02
	FlagData        = 0x04
	FlagFourChannel = 0x08
)

type Track struct {
	Number int
	Start  int
	Flags  byte
}

func (t Track) Audio() bool {
	return t.Flags&FlagData == 0
}

func (t Track) CopyPermitted() bool {
	return t.Flags&FlagCopy != 0
}

func (t Track) PreEmphasis() bool {
	return t.Flags&FlagPreEmphasis != 0
}

func (t Track) Channels() int {
	if t.Flags&FlagFourChannel != 0 {
		return 4
	}
	return 2
}

// TOC lists the tracks of a disc in ascending order, terminated by the
// lead-out entry.
type TOC []Track

// Tracks returns the number of tracks, not counting the lead-out.
func (t TOC) Tracks() int {
	if len(t) == 0 {
		return 0
	}
	return len(t) - 1
}

func (t TOC) LeadOut() Track {
	if len(t) == 0 {
		return Track{Number: LeadOut}
	}
	return t[len(t)-1]
}

// Track returns track n, counted from 1.
func (t TOC) Track(n int) (Track, error) {
	if n < 1 || n > t.Tracks() {
		return Track{}, ErrInvalidTrack
	}
	return t[n-1], nil
}

// FirstSector returns the first sector of track n. Track 0 is the hidden
// pregap before the first track, which exists only if that track does not
// start at sector 0.
func (t TOC) FirstSector(n int) (int, error) {
	if n == 0 {
		if len(t) == 0 || t[0].Start == 0 {
			return 0, ErrInvalidTrack
		}
		return 0, nil
	}
	if n < 0 || n > t.Tracks() {
		return 0, ErrInvalidTrack
	}
	return t[n-1].Start, nil
}

// LastSector returns the last sector of track n.
func (t TOC) LastSector(n int) (int, error) {
	if n == 0 {
		if len(t) == 0 || t[0].Start == 0 {
			return 0, ErrInvalidTrack
		}
		return t[0].Start - 1, nil
	}
	if n < 0 || n > t.Tracks() {
		return 0, ErrInvalidTrack
	}
	return t[n].Start - 1, nil
}

// Midpoint returns the sector halfway through track n.
func (t TOC) Midpoint(n int) (int, error) {
	first, err := t.FirstSector(n)
	if err != nil {
		return 0, err
	}
	last, err := t.LastSector(n)
	if err != nil {
		return 0, err
	}
	return (first + last) >> 1, nil
}

// TrackOf returns the track containing sector, 0 for the pregap.
func (t TOC) TrackOf(sector int) (int, error) {
	if len(t) == 0 {
		return 0, ErrInvalidTrack
	}
	if sector < t[0].Start {
		return 0, nil
	}
	for i := 0; i < t.Tracks(); i++ {
		if t[i].Start <= sector && t[i+1].Start > sector {
			return i + 1, nil
		}
	}
	return 0, ErrInvalidTrack
}

// AudioTracks returns the numbers of the audio tracks.
func (t TOC) AudioTracks() []int {
	var r []int
	for i := 0; i < t.Tracks(); i++ {
		if t[i].Audio() {
			r = append(r, i+1)
		}
	}
	return r
}

// FirstAudioSector returns the first sector of the first audio track.
func (t TOC) FirstAudioSector() (int, error) {
	a := t.AudioTracks()
	if len(a) == 0 {
		return 0, ErrNoAudioTracks
	}
	return t.FirstSector(a[0])
}

// LastAudioSector returns the last sector of the last audio track.
func (t TOC) LastAudioSector() (int, error) {
	a := t.AudioTracks()
	if len(a) == 0 {
		return 0, ErrNoAudioTracks
	}
	return t.LastSector(a[len(a)-1])
}

// ApplyOffset shifts every entry, the lead-out included, by bias sectors.
func (t TOC) ApplyOffset(bias int) {
	for i := range t {
		t[i].Start += bias
	}
}

// sessionGap is the lead-out and lead-in between two sessions plus the
// pregap of the next one.
const sessionGap = 11400

// TrimSessions handles multisession discs such as enhanced CDs, where
// lastSession is the start of the last session. The last audio track before
// a data track is cut short so it does not run into the session gap. It
// reports whether the disc has more than one session.
func (t TOC) TrimSessions(lastSession int) bool {
	if lastSession <= 100 {
		return false
	}
	end := lastSession - sessionGap
	for j := len(t) - 1; j > 0; j-- {
		if !t[j].Audio() && t[j-1].Audio() {
			if t[j].Start > end && end > t[j-1].Start {
				t[j].Start = end
			}
			break
		}
	}
	return true
}

// Validate rejects tables some drives report when no disc is present:
// negative starts, tracks followed by a zero start, or starts that do not
// ascend.
func (t TOC) Validate() error {
	if t.Tracks() < 1 {
		return ErrIllegalTOC
	}
	for i := 0; i < t.Tracks(); i++ {
		if t[i].Start < 0 || t[i+1].Start == 0 || t[i+1].Start <= t[i].Start {
			return ErrIllegalTOC
		}
	}
	return nil
}

func (t TOC) String() string {
	var b strings.Builder
	b.WriteString("track        length               begin        copy pre ch\n")
	b.WriteString("===========================================================\n")
	total := 0
	for i := 0; i < t.Tracks(); i++ {
		tr := t[i]
		length := t[i+1].Start - tr.Start
		if !tr.Audio() {
			fmt.Fprintf(&b, "%3d. %7d [%s] %7d [%s] [data]\n",
				tr.Number, length, timestamp(length), tr.Start, timestamp(tr.Start))
			continue
		}
		fmt.Fprintf(&b, "%3d. %7d [%s] %7d [%s] %4s %3s %2d\n",
			tr.Number, length, timestamp(length), tr.Start, timestamp(tr.Start),
			yesNo(tr.CopyPermitted()), yesNo(tr.PreEmphasis()), tr.Channels())
		total += length
	}
	fmt.Fprintf(&b, "TOTAL %7d [%s]    (audio only)\n", total, timestamp(total))
	return b.String()
}

// timestamp formats a sector count as mm:ss.ff.
func timestamp(sectors int) string {
	return fmt.Sprintf("%02d:%02d.%02d", sectors/(60*75), (sectors/75)%60, sectors%75)
}

func yesNo(b bool) string {
	if b {
		return "OK"
	}
	return "no"
}
