// Package cli implements the apitool command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "apitool",
	Short: "Execute declarative outbound API calls with retries",
	Long: `apitool runs outbound API calls described by a small configuration
(protocol, url, method, headers, payload, timeout, retry policy) and returns
a normalized result envelope.

Get started:
  apitool exec -f call.yaml     Run a single call and print the envelope
  apitool serve -c apitool.yaml Serve POST /v1/tools/api/execute`,
	Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// SetVersion sets the version info
func SetVersion(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}
