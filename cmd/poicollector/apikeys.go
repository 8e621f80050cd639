package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAPIKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikeys",
		Short: "Manage provider API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stored API key (masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := svc.GetAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			for platform, views := range keys {
				for _, v := range views {
					fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-6d %-20s %s active=%v quota_exhausted=%v\n",
						platform, v.ID, v.Name, v.Masked, v.IsActive, v.QuotaExhausted)
				}
			}
			return nil
		},
	})

	var name string
	addCmd := &cobra.Command{
		Use:   "add <platform> <secret>",
		Short: "Register a new API key for a platform",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := svc.AddAPIKey(cmd.Context(), args[0], args[1], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added key id=%d\n", id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "a human-readable label for this key")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return svc.DeleteAPIKey(cmd.Context(), id)
		},
	})

	return cmd
}
