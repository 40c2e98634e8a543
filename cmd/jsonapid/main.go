package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jsonapid",
		Short: "Development server for the jsonapi resource engine",
		Long: `jsonapid serves a demo blog resource graph over JSON:API endpoints.
It loads jsonapi.yml from the working directory, opens the configured
database and mounts generated CRUD routes for every demo resource.`,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
