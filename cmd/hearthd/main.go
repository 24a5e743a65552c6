// hearthd is the Hearth household assistant daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hearthd",
	Short: "Local-first household assistant daemon",
	Long: "hearthd runs the Hearth assistant on a home device: chat, scheduled jobs,\n" +
		"agenda reminders, and channel adapters, with all state stored locally.",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
