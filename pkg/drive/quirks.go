// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package drive

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/open-source-firmware/go-cdda/pkg/drive/sgio"
	"gopkg.in/yaml.v2"
)

//go:embed quirks.yaml
var builtinQuirks []byte

// Enable selects how a drive is switched into audio mode.
type Enable int

const (
	EnableDefault    Enable = iota // keep whatever the backend chose
	EnableDummy                    // leave the drive mode alone
	EnableModeSelect               // MODE SELECT a 2352 byte block length
)

func (e Enable) String() string {
	switch e {
	case EnableDummy:
		return "dummy"
	case EnableModeSelect:
		return "modeselect"
	}
	return "default"
}

// Quirk overrides the defaults for drives whose model starts with Model.
type Quirk struct {
	Model     string
	Density   byte
	Enable    Enable
	Read      *sgio.ReadCommand
	BigEndian *bool
}

// QuirkList names the table consulted for a kind of drive.
type QuirkList int

const (
	QuirksATAPI QuirkList = iota
	QuirksMMC
	QuirksSCSI
)

type Quirks struct {
	ATAPI []Quirk
	MMC   []Quirk
	SCSI  []Quirk
}

type quirkRecord struct {
	Model     string `yaml:"model"`
	Density   uint8  `yaml:"density"`
	Enable    string `yaml:"enable"`
	Read      string `yaml:"read"`
	BigEndian *bool  `yaml:"bigendian"`
}

type quirkFile struct {
	ATAPI []quirkRecord `yaml:"atapi"`
	MMC   []quirkRecord `yaml:"mmc"`
	SCSI  []quirkRecord `yaml:"scsi"`
}

func (r quirkRecord) quirk() (Quirk, error) {
	if r.Model == "" {
		return Quirk{}, fmt.Errorf("quirk without model")
	}
	q := Quirk{Model: r.Model, Density: r.Density, BigEndian: r.BigEndian}
	switch r.Enable {
	case "":
	case "dummy":
		q.Enable = EnableDummy
	case "modeselect":
		q.Enable = EnableModeSelect
	default:
		return Quirk{}, fmt.Errorf("%s: unknown enable method %q", r.Model, r.Enable)
	}
	if r.Read != "" {
		c, err := sgio.ParseReadCommand(r.Read)
		if err != nil {
			return Quirk{}, fmt.Errorf("%s: %v", r.Model, err)
		}
		q.Read = &c
	}
	return q, nil
}

func convertQuirks(rs []quirkRecord) ([]Quirk, error) {
	var qs []Quirk
	for _, r := range rs {
		q, err := r.quirk()
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

// ParseQuirks reads a YAML quirk document.
func ParseQuirks(b []byte) (*Quirks, error) {
	var f quirkFile
	if err := yaml.UnmarshalStrict(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse quirks: %v", err)
	}
	var (
		q   Quirks
		err error
	)
	if q.ATAPI, err = convertQuirks(f.ATAPI); err != nil {
		return nil, err
	}
	if q.MMC, err = convertQuirks(f.MMC); err != nil {
		return nil, err
	}
	if q.SCSI, err = convertQuirks(f.SCSI); err != nil {
		return nil, err
	}
	return &q, nil
}

// LoadQuirks reads a YAML quirk file.
func LoadQuirks(path string) (*Quirks, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseQuirks(b)
}

var defaultQuirks = sync.OnceValue(func() *Quirks {
	q, err := ParseQuirks(builtinQuirks)
	if err != nil {
		panic(err)
	}
	return q
})

// DefaultQuirks returns the built-in quirk table.
func DefaultQuirks() *Quirks {
	return defaultQuirks()
}

func (q *Quirks) list(l QuirkList) []Quirk {
	if q == nil {
		return nil
	}
	switch l {
	case QuirksATAPI:
		return q.ATAPI
	case QuirksMMC:
		return q.MMC
	default:
		return q.SCSI
	}
}

// Lookup returns the first quirk in list whose model prefixes model.
func (q *Quirks) Lookup(l QuirkList, model string) (Quirk, bool) {
	for _, e := range q.list(l) {
		if strings.HasPrefix(model, e.Model) {
			return e, true
		}
	}
	return Quirk{}, false
}

// lookupQuirk consults the caller's table before the built-in one.
func (d *Drive) lookupQuirk(l QuirkList) (Quirk, bool) {
	if q, ok := d.opts.quirks.Lookup(l, d.model); ok {
		return q, true
	}
	return DefaultQuirks().Lookup(l, d.model)
}
