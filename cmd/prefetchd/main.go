// Package main provides the CLI entry point for prefetchd, the adaptive
// page-cache prefetch daemon.
package main

import (
	"fmt"
	"os"

	"github.com/harrison/prefetchd/internal/cmd"
)

// Version is the current version of prefetchd, overridable at build time
// via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cmd.Version = Version
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
