package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var platform, format string

	cmd := &cobra.Command{
		Use:   "export <path>",
		Short: "Export stored POI records to a file (json, excel, or mysql)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := svc.ExportPOIToFile(cmd.Context(), args[0], format, platform)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d record(s) to %s\n", count, args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "restrict export to one platform")
	cmd.Flags().StringVar(&format, "format", "json", "export format: json, excel, mysql")
	cmd.AddCommand(newExportListCmd())
	return cmd
}

func newExportListCmd() *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored POI records without writing a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			views, err := svc.GetAllPOIData(cmd.Context(), platform)
			if err != nil {
				return err
			}
			for _, v := range views {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%.6f,%.6f\n", v.ID, v.Platform, v.Name, v.Lat, v.Lon)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "restrict to one platform")
	return cmd
}
