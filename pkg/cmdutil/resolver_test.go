package cmdutil

import (
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindDevice(t *testing.T) {
	nodes := map[string][]string{
		"/dev/sr*":  {"/dev/sr1", "/dev/sr0"},
		"/dev/hd?":  {"/dev/hdc"},
		"/dev/scd*": nil,
	}
	glob := func(p string) ([]string, error) {
		return nodes[p], nil
	}

	tests := []struct {
		name     string
		patterns []string
		want     string
	}{
		{"sorted", []string{"/dev/cdrom", "/dev/sr*"}, "/dev/sr0"},
		{"first match wins", []string{"/dev/hd?", "/dev/sr*"}, "/dev/hdc"},
		{"skips empty", []string{"/dev/scd*", "/dev/hd?"}, "/dev/hdc"},
		{"none", []string{"/dev/scd*"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, findDevice(tc.patterns, glob))
		})
	}
}

func TestDriveEmbedFlags(t *testing.T) {
	var cli struct {
		DriveEmbed `embed:""`
	}
	p, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = p.Parse([]string{"-d", "/tmp/disc.raw", "-i", "test", "-v"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/disc.raw", cli.Device)
	assert.Equal(t, "test", cli.Interface)
	assert.True(t, cli.Verbose)

	var bad struct {
		DriveEmbed `embed:""`
	}
	p, err = kong.New(&bad)
	require.NoError(t, err)
	_, err = p.Parse([]string{"-i", "parallel"})
	assert.Error(t, err)
}

func TestDriveEmbedOpenWithoutDevice(t *testing.T) {
	e := DriveEmbed{Interface: "auto"}
	_, err := e.Open()
	assert.Error(t, err)
}
