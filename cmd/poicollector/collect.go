package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newCollectCmd runs a collector to completion or until interrupted,
// mirroring the teacher's cmdGenerate signal-handling shape: a context
// cancelled when the command returns, with the collector's own cooperative
// stop flag (collector.Engine.Stop) set from the signal handler, which also
// records the paused phase in the platform's status. The collector loop
// checks both its stop flag and ctx before every category, keyword and page.
func newCollectCmd() *cobra.Command {
	var categories []string
	var regions []string

	cmd := &cobra.Command{
		Use:   "collect <platform>",
		Short: "Run POI collection for one platform until it finishes or is interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform := args[0]
			if len(regions) == 0 {
				return fmt.Errorf("--regions is required (one or more administrative region codes)")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				for line := range svc.CollectorLog {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}()

			if err := svc.StartCollector(ctx, platform, categories, regions); err != nil {
				return fmt.Errorf("start collector: %w", err)
			}

			poll := time.NewTicker(200 * time.Millisecond)
			defer poll.Stop()

			for {
				select {
				case sig := <-sigCh:
					fmt.Fprintf(cmd.OutOrStdout(), "received %s, stopping %s collector\n", sig, platform)
					svc.StopCollector(platform)
					return nil
				case <-ctx.Done():
					return nil
				case <-poll.C:
					statuses := svc.GetCollectorStatuses()
					st, ok := statuses[platform]
					if !ok || (st.Phase != "completed" && st.Phase != "error") {
						continue
					}
					if st.Phase == "error" {
						return fmt.Errorf("collector stopped with an error: %s", st.ErrorMessage)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: collected %d POIs across %s\n",
						platform, st.TotalCollected, strings.Join(st.CompletedCategories, ", "))
					return nil
				}
			}
		},
	}

	cmd.Flags().StringSliceVar(&categories, "categories", nil, "category ids to collect (default: all)")
	cmd.Flags().StringSliceVar(&regions, "regions", nil, "administrative region codes to scope collection to")
	return cmd
}
