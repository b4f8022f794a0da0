package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and manage chat sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			metas, err := app.sessions.List(user)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHAT\tSTORE\tNAME\tTURNS\tLAST ACTIVITY")
			for _, meta := range metas {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					meta.ChatID, meta.StoreName, meta.DisplayName, meta.TurnCount,
					meta.LastActivityAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "List sessions of this user")
	_ = cmd.MarkFlagRequired("user")

	cmd.AddCommand(newSessionsRenameCmd())
	cmd.AddCommand(newSessionsClearCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

// sessionFlags are the flags shared by the session mutation subcommands.
type sessionFlags struct {
	user      string
	storeName string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "Owner of the session")
	cmd.Flags().StringVar(&f.storeName, "store", "", "Store the session belongs to")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("store")
}

func newSessionsRenameCmd() *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "rename [chat-id] [new-name]",
		Short: "Rename a chat session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return app.sessions.Rename(flags.user, flags.storeName, args[0], args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func newSessionsClearCmd() *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "clear [chat-id]",
		Short: "Clear the history of a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return app.sessions.ClearHistory(flags.user, flags.storeName, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func newSessionsDeleteCmd() *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "delete [chat-id]",
		Short: "Delete a chat session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			return app.sessions.DeleteSession(flags.user, flags.storeName, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}
