package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest documents for a user",
		Long: `Ingest splits each file into chunks, embeds them, and indexes them into
the user's document store and combined store. Re-ingesting a file replaces
its previous contents.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}

				result, err := app.pipeline.Ingest(cmd.Context(), user, filepath.Base(path), string(data))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ingested %s: %d chunks into %d stores\n",
					result.Document, result.ChunkCount, len(result.Stores))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User the documents belong to")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
