package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chenqi92/poi-collector/internal/tile"
)

func newTestTileStore(t *testing.T) *TileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.db")
	s, err := OpenTileStore(path)
	if err != nil {
		t.Fatalf("OpenTileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestZoomLevelsRoundTrip(t *testing.T) {
	zooms := []uint32{10, 11, 12, 14}
	got := parseZoomLevels(zoomLevelsToString(zooms))
	if len(got) != len(zooms) {
		t.Fatalf("got %v, want %v", got, zooms)
	}
	for i := range zooms {
		if got[i] != zooms[i] {
			t.Errorf("index %d: got %d, want %d", i, got[i], zooms[i])
		}
	}
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestTileStore(t)
	ctx := context.Background()

	task := Task{
		ID:           "task-1",
		Name:         "Beijing street",
		Platform:     "google",
		MapType:      "street",
		Bounds:       tile.Bounds{North: 40, South: 39, East: 117, West: 116},
		ZoomLevels:   []uint32{10, 11},
		TotalTiles:   42,
		OutputPath:   "/tmp/out",
		OutputFormat: "folder",
		ThreadCount:  8,
		RetryCount:   3,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, ok, err := s.GetTask(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("GetTask: ok=%v err=%v", ok, err)
	}
	if got.Status != TaskPending {
		t.Errorf("default status = %q, want pending", got.Status)
	}
	if got.TotalTiles != 42 || len(got.ZoomLevels) != 2 {
		t.Errorf("got %+v", got)
	}
	if got.Bounds.North != 40 || got.Bounds.West != 116 {
		t.Errorf("bounds not round-tripped: %+v", got.Bounds)
	}

	_, ok, err = s.GetTask(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("GetTask missing: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing task")
	}
}

// TestS5PauseResume is scenario S5: progress persists across pause/resume,
// and only pending tiles are handed back out.
func TestS5PauseResume(t *testing.T) {
	s := newTestTileStore(t)
	ctx := context.Background()

	task := Task{ID: "task-2", Name: "n", Platform: "osm", MapType: "street", OutputPath: "/tmp", OutputFormat: "folder"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	coords := []tile.Coord{{Z: 10, X: 1, Y: 1}, {Z: 10, X: 1, Y: 2}, {Z: 10, X: 1, Y: 3}}
	if err := s.InitTileProgress(ctx, "task-2", coords); err != nil {
		t.Fatalf("InitTileProgress: %v", err)
	}

	if err := s.MarkTileCompleted(ctx, "task-2", coords[0]); err != nil {
		t.Fatalf("MarkTileCompleted: %v", err)
	}
	if err := s.UpdateTaskStatus(ctx, "task-2", TaskPaused); err != nil {
		t.Fatalf("UpdateTaskStatus(paused): %v", err)
	}

	pending, err := s.PendingTiles(ctx, "task-2", 0)
	if err != nil {
		t.Fatalf("PendingTiles: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tiles after one completion, got %d", len(pending))
	}

	if err := s.UpdateTaskStatus(ctx, "task-2", TaskRunning); err != nil {
		t.Fatalf("UpdateTaskStatus(running): %v", err)
	}
	for _, c := range pending {
		if err := s.MarkTileCompleted(ctx, "task-2", c); err != nil {
			t.Fatalf("MarkTileCompleted resumed %+v: %v", c, err)
		}
	}

	pendingAfter, completed, _, err := s.TileStats(ctx, "task-2")
	if err != nil {
		t.Fatalf("TileStats: %v", err)
	}
	if pendingAfter != 0 || completed != 3 {
		t.Errorf("after resume: pending=%d completed=%d, want 0,3", pendingAfter, completed)
	}
}

// TestResetFailedTilesIsIdempotent is property 8: resetting failed tiles
// twice in a row is a no-op the second time.
func TestResetFailedTilesIsIdempotent(t *testing.T) {
	s := newTestTileStore(t)
	ctx := context.Background()

	task := Task{ID: "task-3", Name: "n", Platform: "osm", MapType: "street", OutputPath: "/tmp", OutputFormat: "folder"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	coords := []tile.Coord{{Z: 1, X: 0, Y: 0}, {Z: 1, X: 1, Y: 0}}
	if err := s.InitTileProgress(ctx, "task-3", coords); err != nil {
		t.Fatalf("InitTileProgress: %v", err)
	}
	for _, c := range coords {
		if err := s.MarkTileFailed(ctx, "task-3", c, "network error"); err != nil {
			t.Fatalf("MarkTileFailed: %v", err)
		}
	}

	n, err := s.ResetFailedTiles(ctx, "task-3")
	if err != nil {
		t.Fatalf("ResetFailedTiles: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 tiles reset, got %d", n)
	}

	n, err = s.ResetFailedTiles(ctx, "task-3")
	if err != nil {
		t.Fatalf("ResetFailedTiles second call: %v", err)
	}
	if n != 0 {
		t.Errorf("expected idempotent second reset to affect 0 rows, got %d", n)
	}

	failed, err := s.FailedTiles(ctx, "task-3")
	if err != nil {
		t.Fatalf("FailedTiles: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected no failed tiles remaining, got %d", len(failed))
	}
}

func TestDeleteTaskRemovesProgress(t *testing.T) {
	s := newTestTileStore(t)
	ctx := context.Background()

	task := Task{ID: "task-4", Name: "n", Platform: "osm", MapType: "street", OutputPath: "/tmp", OutputFormat: "folder"}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := s.InitTileProgress(ctx, "task-4", []tile.Coord{{Z: 1, X: 0, Y: 0}}); err != nil {
		t.Fatalf("InitTileProgress: %v", err)
	}
	if err := s.DeleteTask(ctx, "task-4"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	_, ok, err := s.GetTask(ctx, "task-4")
	if err != nil {
		t.Fatalf("GetTask after delete: %v", err)
	}
	if ok {
		t.Error("expected task gone after delete")
	}
	pending, err := s.PendingTiles(ctx, "task-4", 0)
	if err != nil {
		t.Fatalf("PendingTiles after delete: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected progress rows gone after delete, got %d", len(pending))
	}
}
