package cmdutil

import (
	"fmt"
	"log"
	"os"

	"github.com/open-source-firmware/go-cdda/pkg/drive"
)

type DriveEmbed struct {
	Device    string `optional:"" short:"d" env:"CDDA_DEVICE" type:"device" help:"CD drive device node, or an audio image with --interface=test"`
	Interface string `optional:"" short:"i" env:"CDDA_INTERFACE" default:"auto" enum:"auto,cooked,generic-scsi,sgio,sgio-buggy,test" help:"Kernel interface used to reach the drive"`
	Quirks    string `optional:"" env:"CDDA_QUIRKS" type:"existingfile" help:"YAML file of drive quirks taking precedence over the built-in table"`
	Verbose   bool   `optional:"" short:"v" help:"Print drive identification and probe messages"`
}

// Open opens the selected drive. Probe messages go to stderr when Verbose
// is set.
func (t *DriveEmbed) Open(extra ...drive.Option) (*drive.Drive, error) {
	if t.Device == "" {
		return nil, fmt.Errorf("no CD drive given and none found")
	}
	iface, err := drive.ParseInterface(t.Interface)
	if err != nil {
		return nil, err
	}

	opts := []drive.Option{
		drive.WithInterface(iface),
		drive.WithLogger(log.New(os.Stderr, "", 0)),
	}
	if t.Verbose {
		opts = append(opts, drive.WithMessages(drive.LogModeStdErr))
	}
	if t.Quirks != "" {
		q, err := drive.LoadQuirks(t.Quirks)
		if err != nil {
			return nil, err
		}
		opts = append(opts, drive.WithQuirks(q))
	}
	opts = append(opts, extra...)

	d, err := drive.Open(t.Device, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive.Open(%s) failed: %w", t.Device, err)
	}
	return d, nil
}
