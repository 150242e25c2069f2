// Reasond is an agent reasoning runtime.
//
// Each task is processed in rounds: parallel decision evaluators, action
// selection, conscience validation, and dispatch of exactly one action per
// thought. Providers for reasoning, memory, communication, tools and
// guidance sit behind priority-ordered buses with circuit breakers.
//
// Usage:
//
//	# Serve the runtime with the HTTP API and NATS ingest
//	reasond serve
//
//	# Process one task in the foreground
//	reasond run "summarize today's alerts"
//
//	# Show registered providers
//	reasond providers
package main

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/reasond/internal/config"
	"github.com/fyrsmithlabs/reasond/internal/logging"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reasond",
		Short: "Agent reasoning runtime",
		Long: `reasond runs tasks through a bounded pipeline of decision evaluators,
action selection, conscience checks and action dispatch.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/reasond/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newProvidersCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reasond by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// loadConfig loads the config file and builds the process logger.
// defaultLevel applies when neither --log-level nor the file sets one.
func loadConfig(defaultLevel string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	settings := cfg.Logging
	switch {
	case logLevel != "":
		settings.Level = logLevel
	case defaultLevel != "" && settings.Level == config.Default().Logging.Level:
		settings.Level = defaultLevel
	}
	logCfg, err := logging.NewConfigFrom(settings)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
