// Package cmd implements the permit operator CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "permit",
	Short: "permit - authorization configuration and decision tool",
	Long: `permit validates, converts and applies grant configurations, answers
single authorization checks against them and serves the check API.

Config files are picked by extension: .yaml/.yml, .json, .cbor, .permit/.dsl.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
	rootCmd.AddCommand(validateCmd, statsCmd, convertCmd, checkCmd, migrateCmd, seedCmd, serveCmd)
}

func cliLogger() permit.Logger {
	if !verbose {
		return logger.NewNullLogger()
	}
	return logger.NewSLogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// loadConfig reads path, applies PERMIT_* overrides and validates.
func loadConfig(path string) (*permit.Config, error) {
	cfg, err := permit.NewConfigLoader().LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
