package main

import (
	"fmt"
	"os"

	app "github.com/valter-silva-au/gwq/internal"
	"github.com/valter-silva-au/gwq/internal/cli"
	"github.com/valter-silva-au/gwq/internal/core"
)

// Set by goreleaser ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	basePath := core.ResolveBasePath()

	application, err := app.NewApp(basePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing gwq: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = application.Close() }()

	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
