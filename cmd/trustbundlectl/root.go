package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var debug bool

// logLevel controls the global slog level at runtime.
var logLevel = new(slog.LevelVar)

// exitFunc can be overridden in tests to capture exit calls.
var exitFunc = os.Exit

var rootCmd = &cobra.Command{
	Use:   "trustbundlectl",
	Short: "Inspect SPIFFE trust bundle maps",
	Long: `trustbundlectl checks SPIFFE trust-bundle-map files the same way the
validator's hot-reload path does, so a file can be linted before it is
dropped into place.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogging() {
	logLevel.Set(slog.LevelInfo)
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
