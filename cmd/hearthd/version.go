package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hearthd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hearthd %s (%s)\n", version, commit)
	},
}
