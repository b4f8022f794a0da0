package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ivansantander-hub/docuchat/internal/retrieval"
)

func newStoresCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "stores",
		Short: "List and manage vector stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			descs, err := app.registry.ListFor(user)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSCOPE\tDOCUMENTS\tCHUNKS\tUPDATED")
			for _, desc := range descs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					desc.Name, desc.Scope, len(desc.Documents), desc.ChunkCount(),
					desc.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Show stores visible to this user")
	_ = cmd.MarkFlagRequired("user")

	cmd.AddCommand(newStoresDeleteCmd())
	return cmd
}

func newStoresDeleteCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete one of your stores",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.Close()

			key := retrieval.ResolveStoreKey(user, args[0])
			if err := app.registry.Delete(key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted store %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner of the store")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
