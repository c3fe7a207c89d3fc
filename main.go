package main

import (
	"os"

	"github.com/tphakala/feedercam/cmd"
)

// Set with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	rootCmd := cmd.RootCommand(version, buildDate)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
