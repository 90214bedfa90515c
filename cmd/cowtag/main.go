package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "cowtag",
	Short: "Livestock collar telemetry gateway",
	Long: `Gateway and tooling for BLE livestock collars:

- host: provision collars over a connection, then log their periodic telemetry
- sim: run a simulated collar against the host on an in-process radio
- decode: print a captured 186-byte telemetry frame

Frames are appended to a CSV log; the header is written only when the log is new.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("cowtag {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(simCmd)
	rootCmd.AddCommand(decodeCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-file", "", "CSV telemetry log (overrides config)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
