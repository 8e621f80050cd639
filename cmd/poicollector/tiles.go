package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/chenqi92/poi-collector/internal/s3sync"
	"github.com/chenqi92/poi-collector/internal/surface"
	"github.com/chenqi92/poi-collector/internal/tile"
	"github.com/chenqi92/poi-collector/internal/tilestorage"
)

func newTilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Create, run, and manage tile download tasks",
	}
	cmd.AddCommand(
		newTilesCreateCmd(),
		newTilesListCmd(),
		newTilesStartCmd(),
		newTilesPauseCmd(),
		newTilesCancelCmd(),
		newTilesRetryCmd(),
		newTilesDeleteCmd(),
		newTilesConvertCmd(),
		newTilesEstimateCmd(),
		newTilesPlatformsCmd(),
		newTilesVerifyCmd(),
		newTilesPushCmd(),
	)
	return cmd
}

func parseBoundsFlags(cmd *cobra.Command) (tile.Bounds, error) {
	n, _ := cmd.Flags().GetFloat64("north")
	s, _ := cmd.Flags().GetFloat64("south")
	e, _ := cmd.Flags().GetFloat64("east")
	w, _ := cmd.Flags().GetFloat64("west")
	b := tile.Bounds{North: n, South: s, East: e, West: w}
	if b.North <= b.South || b.East <= b.West {
		return b, fmt.Errorf("invalid bounds: north/south/east/west must form a non-empty box")
	}
	return b, nil
}

func addBoundsFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("north", 0, "north bound (WGS84 degrees)")
	cmd.Flags().Float64("south", 0, "south bound (WGS84 degrees)")
	cmd.Flags().Float64("east", 0, "east bound (WGS84 degrees)")
	cmd.Flags().Float64("west", 0, "west bound (WGS84 degrees)")
}

func newTilesEstimateCmd() *cobra.Command {
	var zooms []int
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate tile count and size for a bounding box and zoom levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			bounds, err := parseBoundsFlags(cmd)
			if err != nil {
				return err
			}
			view := svc.CalculateTilesCount(surface.CalculateTilesRequest{Bounds: bounds, ZoomLevels: toUint32s(zooms)})
			fmt.Fprintf(cmd.OutOrStdout(), "total=%d estimated_mb=%.1f\n", view.Total, view.EstimatedMB)
			for _, l := range view.PerLevel {
				fmt.Fprintf(cmd.OutOrStdout(), "  z%-3d %d tiles\n", l.Zoom, l.Count)
			}
			return nil
		},
	}
	addBoundsFlags(cmd)
	cmd.Flags().IntSliceVar(&zooms, "zoom", nil, "zoom levels to estimate (repeatable)")
	return cmd
}

func newTilesPlatformsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platforms",
		Short: "List supported tile platforms",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range svc.GetTilePlatforms() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-16s zoom=%d-%d key=%v\n", p.ID, p.Name, p.MinZoom, p.MaxZoom, p.RequiresKey)
			}
			return nil
		},
	}
}

func newTilesCreateCmd() *cobra.Command {
	var name, platform, mapType, outputPath, outputFormat, apiKey string
	var zooms []int
	var threadCount, retryCount int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Enumerate tiles for a bounding box and persist a new download task",
		RunE: func(cmd *cobra.Command, args []string) error {
			bounds, err := parseBoundsFlags(cmd)
			if err != nil {
				return err
			}
			id, err := svc.CreateTileTask(cmd.Context(), surface.CreateTileTaskRequest{
				Name: name, Platform: platform, MapType: mapType, Bounds: bounds,
				ZoomLevels: toUint32s(zooms), OutputPath: outputPath, OutputFormat: outputFormat,
				ThreadCount: uint32(threadCount), RetryCount: uint32(retryCount), APIKey: apiKey,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	addBoundsFlags(cmd)
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&platform, "platform", "osm", "tile platform id")
	cmd.Flags().StringVar(&mapType, "map-type", "street", "map rendering style")
	cmd.Flags().IntSliceVar(&zooms, "zoom", nil, "zoom levels to download (repeatable)")
	cmd.Flags().StringVar(&outputPath, "output", "", "output path (directory, .zip, or .mbtiles)")
	cmd.Flags().StringVar(&outputFormat, "output-format", "folder", "output format: folder, archive, tiledb")
	cmd.Flags().IntVar(&threadCount, "threads", 8, "concurrent download workers")
	cmd.Flags().IntVar(&retryCount, "retries", 3, "per-tile retry attempts")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for platforms that require one")
	return cmd
}

func newTilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tile download task",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := svc.GetTileTasks(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-12s %-8s %d/%d completed (%d failed)\n",
					t.ID, t.Name, t.Status, t.CompletedTiles, t.TotalTiles, t.FailedTiles)
			}
			return nil
		},
	}
}

// newTilesStartCmd drives a task to completion in the foreground, rendering
// a progressbar/v3 bar off Engine.Progress events — the CLI-side home for
// progress rendering the tiledownload engine itself deliberately stays free
// of, since the engine doesn't own a terminal.
func newTilesStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <task_id>",
		Short: "Start (or resume) a tile download task and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]

			task, ok, err := svc.GetTileTask(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %s not found", taskID)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				fmt.Fprintln(cmd.OutOrStdout(), "received interrupt, pausing task")
				svc.PauseTileDownload(ctx, taskID)
				cancel()
			}()

			if err := svc.StartTileDownload(ctx, taskID); err != nil {
				return fmt.Errorf("start tile download: %w", err)
			}

			bar := progressbar.NewOptions64(int64(task.TotalTiles),
				progressbar.OptionSetDescription(task.Name),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(cmd.OutOrStdout()),
			)

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case ev := <-svc.TileProgress:
					if ev.TaskID != taskID {
						continue
					}
					bar.Set64(int64(ev.Completed + ev.Failed))
					if ev.Status == "completed" {
						bar.Finish()
						fmt.Fprintln(cmd.OutOrStdout(), ev.Message)
						return nil
					}
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					view, _, err := svc.GetTileTask(cmd.Context(), taskID)
					if err == nil && (view.Status == "completed" || view.Status == "cancelled") {
						bar.Set64(int64(view.CompletedTiles + view.FailedTiles))
						return nil
					}
				}
			}
		},
	}
}

func newTilesPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task_id>",
		Short: "Pause a running tile download task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !svc.PauseTileDownload(cmd.Context(), args[0]) {
				return fmt.Errorf("task %s is not running", args[0])
			}
			return nil
		},
	}
}

func newTilesCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a tile download task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc.CancelTileDownload(cmd.Context(), args[0])
			return nil
		},
	}
}

func newTilesRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task_id>",
		Short: "Reset a task's failed tiles back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := svc.RetryFailedTiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d tile(s) to pending\n", n)
			return nil
		},
	}
}

func newTilesDeleteCmd() *cobra.Command {
	var deleteFiles bool
	cmd := &cobra.Command{
		Use:   "delete <task_id>",
		Short: "Delete a tile download task and its progress records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok, err := svc.GetTileTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outputPath := ""
			if ok {
				outputPath = task.OutputPath
			}
			return svc.DeleteTileTask(cmd.Context(), args[0], outputPath, deleteFiles)
		},
	}
	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "also remove the task's output files")
	return cmd
}

func newTilesConvertCmd() *cobra.Command {
	var srcFormat, dstFormat string
	cmd := &cobra.Command{
		Use:   "convert <src> <dst>",
		Short: "Convert a tile output between folder/archive/tiledb formats",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := svc.ConvertTileFile(args[0], srcFormat, args[1], dstFormat)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "converted %d tile(s)\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&srcFormat, "from", "folder", "source format: folder, archive, tiledb")
	cmd.Flags().StringVar(&dstFormat, "to", "archive", "destination format: folder, archive, tiledb")
	return cmd
}

func toUint32s(in []int) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

func newTilesVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <task_id>",
		Short: "Check a finished task's output against its zoom levels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok, err := svc.GetTileTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %s not found", args[0])
			}
			report, err := tilestorage.Verify(task.OutputPath, tile.OutputFormat(task.OutputFormat), task.ZoomLevels)
			if err != nil {
				return fmt.Errorf("verify %s: %w", task.OutputPath, err)
			}
			if report.OK {
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %d zoom level(s) covered\n", len(report.ZoomStats))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "FAILED: missing zoom levels %v\n", report.MissingZooms)
			}
			for _, z := range task.ZoomLevels {
				if st, ok := report.ZoomStats[z]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "  z%-3d %6d tiles  x=%d-%d y=%d-%d\n",
						z, st.TileCount, st.MinX, st.MaxX, st.MinY, st.MaxY)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "  z%-3d MISSING\n", z)
				}
			}
			if !report.OK {
				return fmt.Errorf("tile verification failed for task %s", args[0])
			}
			return nil
		},
	}
	return cmd
}

// newTilesPushCmd optionally pushes a finished folder-format task output to
// an S3-compatible bucket — the cmd layer owns this decision (and the
// credentials), per DESIGN.md's note that internal/tiledownload stays free
// of any upload concern.
func newTilesPushCmd() *cobra.Command {
	var endpoint, region, bucket, prefix, accessKey, secretKey, publicBaseURL string
	cmd := &cobra.Command{
		Use:   "push <task_id>",
		Short: "Upload a finished task's folder output to an S3-compatible bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, ok, err := svc.GetTileTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %s not found", args[0])
			}
			if task.OutputFormat != "folder" {
				return fmt.Errorf("push only supports folder-format output, task is %q", task.OutputFormat)
			}
			client, err := s3sync.New(cmd.Context(), s3sync.Config{
				Endpoint: endpoint, Region: region, Bucket: bucket,
				AccessKeyID: accessKey, SecretAccessKey: secretKey, PublicBaseURL: publicBaseURL,
			})
			if err != nil {
				return fmt.Errorf("create s3 client: %w", err)
			}
			if prefix == "" {
				prefix = task.ID
			}
			files, bytesSent, err := client.PushDirectory(cmd.Context(), task.OutputPath, prefix)
			if err != nil {
				return fmt.Errorf("push task output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d file(s), %d byte(s) to %s/%s\n", files, bytesSent, bucket, prefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().StringVar(&region, "region", "auto", "bucket region")
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket name")
	cmd.Flags().StringVar(&prefix, "prefix", "", "key prefix (default: the task id)")
	cmd.Flags().StringVar(&accessKey, "access-key", "", "access key id")
	cmd.Flags().StringVar(&secretKey, "secret-key", "", "secret access key")
	cmd.Flags().StringVar(&publicBaseURL, "public-base-url", "", "public URL prefix for pushed objects")
	return cmd
}
