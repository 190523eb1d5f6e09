package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/seantiz/stepwise/internal/commands"
)

// version is populated at build time via -ldflags.
var version = "dev"

func buildVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if mv := info.Main.Version; mv != "" && mv != "(devel)" {
			return mv
		}
	}
	return version
}

func main() {
	app := commands.NewApp(buildVersion())
	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
