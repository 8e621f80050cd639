package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chenqi92/poi-collector/internal/surface"
)

func newRegionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regions",
		Short: "Browse the administrative region hierarchy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every province",
		RunE: func(cmd *cobra.Command, args []string) error {
			printRegions(cmd, svc.GetProvinces())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "List every region at every level (provinces, cities, districts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			printRegions(cmd, svc.GetRegions())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "children <parent_code>",
		Short: "List a region's direct children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printRegions(cmd, svc.GetRegionChildren(args[0]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy-search region names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printRegions(cmd, svc.SearchRegions(args[0]))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "districts <code>",
		Short: "List every district code under a province or city",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(svc.GetDistrictCodesForRegion(args[0]), "\n"))
			return nil
		},
	})

	return cmd
}

func printRegions(cmd *cobra.Command, views []surface.RegionView) {
	for _, r := range views {
		fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-6s %s\n", r.Code, r.Level, r.Name)
	}
}
