// Package main is the entry point for the vidsentry CLI and server.
package main

import (
	"context"
	"os"

	"github.com/3leaps/vidsentry/internal/cmd"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute(context.Background()))
}
