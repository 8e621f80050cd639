package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var platform, mode string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored POI records by name/address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := svc.SearchPOI(cmd.Context(), args[0], platform, mode, limit)
			if err != nil {
				return err
			}
			for _, v := range views {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-24s %.6f,%.6f %s\n", v.Platform, v.Name, v.Lon, v.Lat, v.Address)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d result(s)\n", len(views))
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "restrict to one platform (default: all)")
	cmd.Flags().StringVar(&mode, "mode", "contains", "match mode: exact, prefix, contains, smart")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}
