package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var user string
	var storeName string
	var chatID string

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a question against one of your stores",
		Long: `Query retrieves the most relevant chunks from the store, asks the
completion model for a grounded answer, and appends the turn to the chat
session. Pass --chat to continue an earlier conversation.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			question := strings.Join(args, " ")
			answer, err := app.orch.Ask(cmd.Context(), user, storeName, chatID, question)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, answer.Answer)
			if len(answer.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for _, src := range answer.Sources {
					fmt.Fprintf(out, "  %s (chunk %d, score %.2f)\n", src.Document, src.ChunkIndex, src.Score)
				}
			}
			fmt.Fprintf(out, "\nchat: %s\n", answer.ChatID)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "User asking the question")
	cmd.Flags().StringVar(&storeName, "store", "", "Store to query (e.g. alice_policy or combined)")
	cmd.Flags().StringVar(&chatID, "chat", "", "Chat session to continue (default: new session)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}
