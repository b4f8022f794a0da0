// Package cmd provides the CLI commands for DocuChat.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ivansantander-hub/docuchat/internal/logging"
	"github.com/ivansantander-hub/docuchat/pkg/version"
)

var (
	dataDir   string
	debugMode bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the docuchat CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docuchat",
		Short: "Chat with your documents, locally",
		Long: `DocuChat indexes your documents into per-user vector stores and answers
questions about them with a local language model.

Ingest files with 'docuchat ingest', then ask questions with
'docuchat query' or run the HTTP API with 'docuchat serve'.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SetVersionTemplate("docuchat version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.docuchat)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.docuchat/logs/")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStoresCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging installs the process logger. Debug mode also logs to file.
func setupLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}

	cfg := logging.DefaultConfig()
	cfg.Level = "debug"
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.Debug("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
