package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/open-source-firmware/go-cdda/pkg/cmdutil"
	"github.com/open-source-firmware/go-cdda/pkg/drive"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/term"
)

// context is the context struct required by kong command line parser
type context struct{}

type tocCmd struct {
	cmdutil.DriveEmbed `embed:""`
	Offset             int `optional:"" help:"Shift every track by this many sectors"`
}

type probeCmd struct {
	cmdutil.DriveEmbed `embed:""`
	Dump               bool `optional:"" help:"Dump drive identity and table of contents"`
}

type readCmd struct {
	cmdutil.DriveEmbed `embed:""`
	Track              int    `optional:"" short:"t" help:"Track to read, all audio tracks when zero"`
	Output             string `optional:"" short:"o" default:"-" help:"Output file, - for stdout"`
	Speed              int    `optional:"" short:"s" default:"-1" help:"Read speed, -1 for the fastest"`
	HostOrder          bool   `optional:"" help:"Write samples in host byte order instead of drive order"`
}

type checksumCmd struct {
	cmdutil.DriveEmbed `embed:""`
	Track              int `optional:"" short:"t" help:"Track to hash, all audio tracks when zero"`
}

type speedCmd struct {
	cmdutil.DriveEmbed `embed:""`
	Speed              int `arg:"" help:"Read speed as a multiple of playback speed, -1 for the fastest"`
}

type metricsCmd struct {
	cmdutil.DriveEmbed `embed:""`
	Sectors            int `optional:"" default:"750" help:"Number of sectors to verify before reporting"`
}

// cli is the main command line interface struct required by kong command line parser
var cli struct {
	Toc      tocCmd      `cmd:"" help:"Print the table of contents"`
	Probe    probeCmd    `cmd:"" help:"Identify the drive and report the read command found"`
	Read     readCmd     `cmd:"" help:"Read raw audio to a file"`
	Checksum checksumCmd `cmd:"" help:"Print a BLAKE2b-256 digest of each audio track"`
	Speed    speedCmd    `cmd:"" help:"Set the drive read speed"`
	Metrics  metricsCmd  `cmd:"" help:"Verify sectors and print read metrics in OpenMetrics text format"`
}

func (t *tocCmd) Run(ctx *context) error {
	d, err := t.Open()
	if err != nil {
		return err
	}
	defer d.Close()

	if t.Offset != 0 {
		d.ApplyOffset(t.Offset)
	}
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(d.TOC().String())
		return nil
	}
	return writeTOC(os.Stdout, d.TOC())
}

// writeTOC prints one tab separated line per track for scripts.
func writeTOC(w io.Writer, toc drive.TOC) error {
	for i := 0; i < toc.Tracks(); i++ {
		tr := toc[i]
		last, err := toc.LastSector(tr.Number)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%t\t%t\t%d\n", tr.Number, tr.Start, last-tr.Start+1,
			tr.Audio(), tr.CopyPermitted(), tr.PreEmphasis(), tr.Channels()); err != nil {
			return err
		}
	}
	return nil
}

func (t *probeCmd) Run(ctx *context) error {
	d, err := t.Open(drive.WithMessages(drive.LogModeStdErr))
	if err != nil {
		return err
	}
	defer d.Close()

	id, err := d.Identify()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Device:\t%s\n", d.Device())
	fmt.Fprintf(w, "Model:\t%s\n", d.Model())
	fmt.Fprintf(w, "Interface:\t%s\n", d.Interface())
	fmt.Fprintf(w, "Sectors per read:\t%d\n", d.NSectors())
	fmt.Fprintf(w, "Byte order:\t%s\n", d.ByteOrder())
	fmt.Fprintf(w, "Multisession:\t%t\n", d.Multisession())
	w.Flush()

	if t.Dump {
		spew.Dump(id, d.TOC())
	}
	return nil
}

func (t *readCmd) Run(ctx *context) error {
	var opts []drive.Option
	if t.HostOrder {
		opts = append(opts, drive.WithHostByteOrder())
	}
	d, err := t.Open(opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.SetSpeed(t.Speed); err != nil && !errors.Is(err, drive.ErrNotSupported) {
		return err
	}
	r, err := audioReader(d, t.Track)
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if t.Output != "-" {
		f, err := os.Create(t.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	skipped, err := copyAudio(out, r)
	if err != nil {
		return err
	}
	if skipped > 0 {
		log.Printf("%d unreadable sectors replaced with silence", skipped)
	}
	return nil
}

func (t *checksumCmd) Run(ctx *context) error {
	d, err := t.Open()
	if err != nil {
		return err
	}
	defer d.Close()

	toc := d.TOC()
	tracks := toc.AudioTracks()
	if t.Track != 0 {
		tracks = []int{t.Track}
	}
	for _, n := range tracks {
		sum, err := trackDigest(d, n)
		if err != nil {
			return fmt.Errorf("track %d: %w", n, err)
		}
		fmt.Printf("%2d  %x\n", n, sum)
	}
	return nil
}

func (t *speedCmd) Run(ctx *context) error {
	d, err := t.Open()
	if err != nil {
		return err
	}
	defer d.Close()
	return d.SetSpeed(t.Speed)
}

func (t *metricsCmd) Run(ctx *context) error {
	m := drive.NewMetrics()
	d, err := t.Open(drive.WithMetrics(m))
	if err != nil {
		return err
	}
	defer d.Close()

	if err := verifySectors(d, t.Sectors); err != nil {
		log.Printf("Verify stopped early: %v", err)
	}
	outputMetrics(os.Stdout, d, m)
	return nil
}

// audioReader covers track n, or every audio sector of the disc when n is
// zero.
func audioReader(d *drive.Drive, n int) (*drive.Reader, error) {
	if n != 0 {
		return drive.NewTrackReader(d, n)
	}
	toc := d.TOC()
	first, err := toc.FirstAudioSector()
	if err != nil {
		return nil, err
	}
	last, err := toc.LastAudioSector()
	if err != nil {
		return nil, err
	}
	return drive.NewReader(d, first, last)
}

// copyAudio copies r to w, writing silence for sectors that cannot be read.
func copyAudio(w io.Writer, r *drive.Reader) (int, error) {
	buf := make([]byte, 32*drive.FrameSize)
	skipped := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return skipped, err
			}
		}
		var se *drive.SectorError
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return skipped, nil
		case errors.As(err, &se):
			log.Printf("Skipping sector %d: %v", se.Sector, err)
			r.Skip()
			skipped++
		default:
			return skipped, err
		}
	}
}

func trackDigest(d *drive.Drive, n int) ([]byte, error) {
	r, err := drive.NewTrackReader(d, n)
	if err != nil {
		return nil, err
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := copyAudio(h, r); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// verifySectors reads up to count sectors from the start of the audio area
// without keeping the data.
func verifySectors(d *drive.Drive, count int) error {
	toc := d.TOC()
	begin, err := toc.FirstAudioSector()
	if err != nil {
		return err
	}
	last, err := toc.LastAudioSector()
	if err != nil {
		return err
	}
	end := min(last+1, begin+count)
	for begin < end {
		n, err := d.ReadAudio(nil, begin, min(d.NSectors(), end-begin))
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		begin += n
	}
	return nil
}
