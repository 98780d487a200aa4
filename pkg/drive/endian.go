// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	"encoding/binary"
)

const (
	endianTracks  = 5
	endianSectors = 10
)

// detectByteOrder guesses the drive's sample order from audio data. Real
// audio changes slowly between samples of one channel, so the order that
// yields the smaller sample-to-sample differences wins each track's vote.
func (d *Drive) detectByteOrder() ByteOrder {
	d.messagef("\nAttempting to determine drive endianness from data...")

	p := make([]byte, endianSectors*FrameSize)
	var little, big int

	tracks := d.toc.AudioTracks()
	if len(tracks) > endianTracks {
		tracks = tracks[:endianTracks]
	}
	for _, t := range tracks {
		first, _ := d.toc.FirstSector(t)
		last, _ := d.toc.LastSector(t)
		begin := max(first, d.midpoint(t)-endianSectors/2)
		want := min(endianSectors, last-begin+1)

		got := 0
		for got < want {
			n, err := d.b.read(p[got*FrameSize:], begin+got, want-got)
			if err != nil || n <= 0 {
				break
			}
			got += n
		}
		if got == 0 {
			continue
		}

		l, b := sampleDeltas(p[:got*FrameSize])
		switch {
		case l < b:
			little++
		case b < l:
			big++
		}
	}

	switch {
	case big > little:
		d.messagef("\tData appears to be coming back big endian.")
		return OrderBig
	case little > big:
		d.messagef("\tData appears to be coming back little endian.")
		return OrderLittle
	}
	d.messagef("\tCannot determine CDROM drive endianness.")
	return hostOrder()
}

// sampleDeltas sums the absolute differences between consecutive samples of
// each channel, reading p once as little and once as big endian.
func sampleDeltas(p []byte) (little, big uint64) {
	var prevL, prevB [2]int
	for i := 0; i+3 < len(p); i += 4 {
		for ch := 0; ch < 2; ch++ {
			s := p[i+2*ch:]
			l := int(int16(binary.LittleEndian.Uint16(s)))
			b := int(int16(binary.BigEndian.Uint16(s)))
			if i > 0 {
				little += uint64(abs(l - prevL[ch]))
				big += uint64(abs(b - prevB[ch]))
			}
			prevL[ch], prevB[ch] = l, b
		}
	}
	return little, big
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
