package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/open-source-firmware/go-cdda/pkg/drive"
	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio/sgiotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"
)

func openTestImage(t *testing.T, sectors int, opts ...drive.Option) (*drive.Drive, []byte) {
	t.Helper()
	img := make([]byte, sectors*drive.FrameSize)
	for s := 0; s < sectors; s++ {
		f := img[s*drive.FrameSize:]
		for i := 0; i < drive.FrameSize/4; i++ {
			binary.LittleEndian.PutUint16(f[i*4:], uint16(sgiotest.Sample(s, i, 0)))
			binary.LittleEndian.PutUint16(f[i*4+2:], uint16(sgiotest.Sample(s, i, 1)))
		}
	}
	d, err := drive.OpenImage("test.raw", bytes.NewReader(img), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d, img
}

func TestCopyAudio(t *testing.T) {
	d, img := openTestImage(t, 30)

	tests := []struct {
		name  string
		track int
	}{
		{"whole disc", 0},
		{"track 1", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := audioReader(d, tc.track)
			require.NoError(t, err)
			var out bytes.Buffer
			skipped, err := copyAudio(&out, r)
			require.NoError(t, err)
			assert.Zero(t, skipped)
			assert.Equal(t, img, out.Bytes())
		})
	}

	_, err := audioReader(d, 2)
	assert.ErrorIs(t, err, drive.ErrInvalidTrack)
}

func TestTrackDigest(t *testing.T) {
	d, img := openTestImage(t, 20)

	sum, err := trackDigest(d, 1)
	require.NoError(t, err)
	want := blake2b.Sum256(img)
	assert.Equal(t, want[:], sum)
}

func TestWriteTOC(t *testing.T) {
	toc := drive.TOC{
		{Number: 1, Start: 0, Flags: drive.FlagCopy},
		{Number: 2, Start: 1000, Flags: drive.FlagData},
		{Number: drive.LeadOut, Start: 3000},
	}
	var out bytes.Buffer
	require.NoError(t, writeTOC(&out, toc))
	assert.Equal(t, "1\t0\t1000\ttrue\ttrue\tfalse\t2\n2\t1000\t2000\tfalse\tfalse\tfalse\t2\n", out.String())
}

func TestOutputMetrics(t *testing.T) {
	m := drive.NewMetrics()
	d, _ := openTestImage(t, 20, drive.WithMetrics(m))

	require.NoError(t, verifySectors(d, 750))

	var out bytes.Buffer
	outputMetrics(&out, d, m)
	text := out.String()
	assert.Contains(t, text, `cdda_drive_info{byte_order="little-endian",device="test.raw",interface="test",model="Test image"} 1`)
	assert.Contains(t, text, `cdda_disc_tracks{device="test.raw",kind="audio"} 1`)
	assert.Contains(t, text, `cdda_disc_audio_sectors{device="test.raw"} 20`)
	assert.Contains(t, text, `cdda_drive_sectors_per_read{device="test.raw"} 13`)
	assert.Contains(t, text, `cdda_read_sectors_total{device="test.raw",interface="test"} 20`)
}
