// Package main provides the mpharvest command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mpharvest",
	Short: "WeChat official account article harvester",
	Long: `mpharvest logs in to the MP console, lists an official account's published
articles and extracts their bodies, caching every response so repeated runs stay
gentle on the platform.

Configuration can be loaded from a JSON or YAML file using --config. Environment
variables (MPH_*) override the file; command-line flags override both.`,
	SilenceUsage: true,
}

var (
	configPath string
	verbose    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
