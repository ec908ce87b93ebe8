package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/hexkit/device"
	"github.com/joshuapare/hexkit/internal/config"
	"github.com/joshuapare/hexkit/internal/logger"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configFile string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hexctl",
	Short: "Inspect, search and patch binary files",
	Long: `hexctl is a tool for inspecting, searching and patching binary files
of any size. Edits are applied through an undoable overlay and written back
in place when possible, or through a temporary file otherwise.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "Config file (default ~/.hexkit/hexkit.yaml)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and starts logging.
func setup() error {
	c, err := config.Load(config.Options{File: configFile})
	if err != nil {
		return err
	}
	cfg = c

	opts := cfg.LoggerOptions()
	if verbose {
		opts = logger.Options{Enabled: true, Writer: os.Stderr, Level: slog.LevelDebug}
	}
	return logger.Init(opts)
}

// settings returns the loaded configuration, or the defaults when a command
// runs without the root command.
func settings() *config.Config {
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg
}

func newOpener() *device.Opener {
	return device.NewOpener(settings().OpenerOptions(nil))
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// parseOffset accepts decimal, 0x hex, 0o octal and 0b binary offsets.
func parseOffset(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid offset %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("offset %q is negative", s)
	}
	return n, nil
}
