package cmdutil

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"github.com/alecthomas/kong"
	"golang.org/x/term"
)

// Device nodes tried, in order, when no drive is named.
var deviceCandidates = []string{"/dev/cdrom", "/dev/cdroms/cdrom*", "/dev/sr*", "/dev/scd*", "/dev/hd?"}

// ResolveDevice returns a kong.Resolver that fills an empty 'device' flag
// with the first CD drive found on the system.
func ResolveDevice() kong.Resolver {
	return kong.ResolverFunc(func(ctx *kong.Context, parent *kong.Path, flag *kong.Flag) (interface{}, error) {
		if flag.Tag.Type != "device" || flag.Value.Set && !flag.Value.Target.IsZero() {
			return nil, nil
		}
		if flag.Target.Kind() != reflect.String {
			return nil, fmt.Errorf(`'device' type must be applied to a string not %s`, flag.Target.Type())
		}

		dev := findDevice(deviceCandidates, filepath.Glob)
		if dev == "" {
			return nil, nil
		}
		if term.IsTerminal(int(os.Stderr.Fd())) {
			fmt.Fprintf(os.Stderr, "Using %s for `%s`.\n", dev, flag.ShortSummary())
		}
		return dev, nil
	})
}

func findDevice(patterns []string, glob func(string) ([]string, error)) string {
	for _, p := range patterns {
		m, err := glob(p)
		if err != nil || len(m) == 0 {
			continue
		}
		sort.Strings(m)
		return m[0]
	}
	return ""
}
