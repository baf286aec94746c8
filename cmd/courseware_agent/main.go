// Package main provides the entry point for the courseware pipeline CLI and HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "courseware_agent",
	Short: "Courseware document intelligence pipeline",
	Long: `Routes a request and its attached documents to a courseware pipeline, extracts the
fields that pipeline needs, verifies them and hands a structured record to the
document generators. Runs from the command line or as a REST API.`,
	SilenceUsage: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
