package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the built-in POI collection categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range svc.GetCategories() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-10s %s\n", c.ID, c.Name, strings.Join(c.Keywords, ","))
			}
			return nil
		},
	}
}
