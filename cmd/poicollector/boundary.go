package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBoundaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boundary",
		Short: "Fetch and cache administrative region boundaries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <code>",
		Short: "Fetch a region's boundary GeoJSON and bounding box",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := svc.GetRegionBoundary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "bounds: N=%.4f S=%.4f E=%.4f W=%.4f\n",
				view.Bounds.North, view.Bounds.South, view.Bounds.East, view.Bounds.West)
			fmt.Fprintln(cmd.OutOrStdout(), view.GeoJSON)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear-cache",
		Short: "Drop every cached boundary lookup",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc.ClearBoundaryCache()
			return nil
		},
	})

	return cmd
}
