package main

import (
	"github.com/alecthomas/kong"
	"github.com/davecgh/go-spew/spew"
	"github.com/open-source-firmware/go-cdda/pkg/cmdutil"
)

const (
	programName = "cddainfo"
	programDesc = "Inspect and read audio CDs"
)

func main() {
	spew.Config.Indent = "  "

	// Parse kong flags and sub-commands
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.Resolvers(cmdutil.ResolveDevice()),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	// Run the command
	err := ctx.Run(&context{})
	ctx.FatalIfErrorf(err)
}
