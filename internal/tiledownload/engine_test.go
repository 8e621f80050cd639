package tiledownload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chenqi92/poi-collector/internal/tile"
	"github.com/chenqi92/poi-collector/internal/tileprovider"
	"github.com/chenqi92/poi-collector/internal/tilestorage"
	"github.com/chenqi92/poi-collector/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.TileStore) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tiles.db")
	db, err := store.OpenTileStore(path)
	if err != nil {
		t.Fatalf("OpenTileStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

// fakePlatform always resolves to srv's URL and never rejects a map type.
type fakePlatform struct {
	srv *httptest.Server
}

func (p *fakePlatform) ID() string   { return "fake" }
func (p *fakePlatform) Name() string { return "Fake" }
func (p *fakePlatform) TileURL(z, x, y uint32, _ tile.MapType) (string, bool) {
	return fmt.Sprintf("%s/%d/%d/%d.png", p.srv.URL, z, x, y), true
}
func (p *fakePlatform) MinZoom() uint32                   { return 0 }
func (p *fakePlatform) MaxZoom() uint32                   { return 20 }
func (p *fakePlatform) SupportedMapTypes() []tile.MapType { return []tile.MapType{tile.MapTypeStreet} }
func (p *fakePlatform) RequiresAPIKey() bool              { return false }
func (p *fakePlatform) SetAPIKey(string)                  {}
func (p *fakePlatform) Headers() map[string]string        { return nil }
func (p *fakePlatform) Subdomain(uint32, uint32) string    { return "" }
func (p *fakePlatform) Info() tileprovider.Info            { return tileprovider.Info{ID: "fake"} }

// memWriter records saved tiles in memory instead of touching the filesystem.
type memWriter struct {
	mu        sync.Mutex
	saved     map[tile.Coord][]byte
	finalized bool
}

func (w *memWriter) Init(string, tile.Bounds, []uint32) error {
	w.saved = make(map[tile.Coord][]byte)
	return nil
}
func (w *memWriter) SaveTile(c tile.Coord, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.saved[c] = data
	return nil
}
func (w *memWriter) Finalize() error { w.finalized = true; return nil }
func (w *memWriter) Type() string    { return "mem" }

func (w *memWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.saved)
}

func newFakeServer(t *testing.T, failPaths map[string]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(wr http.ResponseWriter, r *http.Request) {
		if failPaths != nil {
			if code, ok := failPaths[r.URL.Path]; ok {
				wr.WriteHeader(code)
				return
			}
		}
		wr.Write([]byte("tile-bytes"))
	}))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestCreateTaskEnumeratesTiles(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name:         "test area",
		Platform:     "fake",
		MapType:      string(tile.MapTypeStreet),
		Bounds:       tile.Bounds{North: 1, South: 0, East: 1, West: 0},
		ZoomLevels:   []uint32{1, 2},
		OutputPath:   t.TempDir(),
		OutputFormat: string(tile.OutputFolder),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty task id")
	}

	task, ok, err := e.db.GetTask(ctx, id)
	if err != nil || !ok {
		t.Fatalf("GetTask: ok=%v err=%v", ok, err)
	}
	if task.TotalTiles == 0 {
		t.Error("expected TotalTiles > 0")
	}

	pending, err := e.db.PendingTiles(ctx, id, 0)
	if err != nil {
		t.Fatalf("PendingTiles: %v", err)
	}
	if uint64(len(pending)) != task.TotalTiles {
		t.Errorf("expected %d pending rows seeded, got %d", task.TotalTiles, len(pending))
	}
}

func TestCreateTaskRejectsInvalidBounds(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateTask(context.Background(), CreateTaskRequest{
		Name: "bad", Bounds: tile.Bounds{North: 0, South: 1, East: 1, West: 0}, ZoomLevels: []uint32{1},
	})
	if err == nil {
		t.Fatal("expected error for inverted bounds")
	}
}

func TestStartDownloadsAllTilesAndCompletes(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	srv := newFakeServer(t, nil)
	t.Cleanup(srv.Close)

	writer := &memWriter{}
	e.newPlatform = func(string, string) tileprovider.Platform { return &fakePlatform{srv: srv} }
	e.newWriter = func(tile.OutputFormat) tilestorage.Writer { return writer }

	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name: "t", Platform: "fake", MapType: string(tile.MapTypeStreet),
		Bounds: tile.Bounds{North: 1, South: 0, East: 1, West: 0}, ZoomLevels: []uint32{0},
		OutputPath: t.TempDir(), OutputFormat: "mem", ThreadCount: 4,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := e.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		task, _, _ := e.db.GetTask(ctx, id)
		return task.Status == store.TaskCompleted
	})

	task, _, _ := e.db.GetTask(ctx, id)
	if task.CompletedTiles != task.TotalTiles {
		t.Errorf("completed=%d total=%d", task.CompletedTiles, task.TotalTiles)
	}
	if writer.count() == 0 {
		t.Error("expected tiles saved to the writer")
	}
	if !writer.finalized {
		t.Error("expected writer.Finalize to have been called")
	}
}

// TestPauseResumePreservesProgress is scenario S5: pausing mid-download and
// resuming continues from where it left off rather than restarting.
func TestPauseResumePreservesProgress(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	srv := newFakeServer(t, nil)
	t.Cleanup(srv.Close)

	writer := &memWriter{}
	e.newPlatform = func(string, string) tileprovider.Platform { return &fakePlatform{srv: srv} }
	e.newWriter = func(tile.OutputFormat) tilestorage.Writer { return writer }

	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name: "t", Platform: "fake", MapType: string(tile.MapTypeStreet),
		Bounds: tile.Bounds{North: 5, South: 0, East: 5, West: 0}, ZoomLevels: []uint32{0, 1, 2},
		OutputPath: t.TempDir(), OutputFormat: "mem", ThreadCount: 1,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := e.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitUntil(t, time.Second, func() bool {
		_, completed, _, _ := e.db.TileStats(ctx, id)
		return completed > 0
	})
	if !e.Pause(ctx, id) {
		t.Fatal("expected Pause to succeed on a running task")
	}

	_, pausedCompleted, _, _ := e.db.TileStats(ctx, id)
	time.Sleep(30 * time.Millisecond)
	_, stillCompleted, _, _ := e.db.TileStats(ctx, id)
	if stillCompleted < pausedCompleted {
		t.Fatal("completed count should not decrease while paused")
	}

	if err := e.Start(ctx, id); err != nil {
		t.Fatalf("resume via Start: %v", err)
	}

	waitUntil(t, 3*time.Second, func() bool {
		task, _, _ := e.db.GetTask(ctx, id)
		return task.Status == store.TaskCompleted
	})

	task, _, _ := e.db.GetTask(ctx, id)
	if task.CompletedTiles != task.TotalTiles {
		t.Errorf("expected all tiles completed after resume, got %d/%d", task.CompletedTiles, task.TotalTiles)
	}
}

func TestStartTwiceWithoutPauseErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	srv := newFakeServer(t, nil)
	t.Cleanup(srv.Close)

	writer := &memWriter{}
	e.newPlatform = func(string, string) tileprovider.Platform { return &fakePlatform{srv: srv} }
	e.newWriter = func(tile.OutputFormat) tilestorage.Writer { return writer }

	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name: "t", Platform: "fake", MapType: string(tile.MapTypeStreet),
		Bounds: tile.Bounds{North: 10, South: 0, East: 10, West: 0}, ZoomLevels: []uint32{0, 1, 2, 3},
		OutputPath: t.TempDir(), OutputFormat: "mem", ThreadCount: 1,
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := e.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx, id); err == nil {
		t.Fatal("expected error starting an already-running task")
	}
	e.Cancel(ctx, id)
}

func TestSetThreadCountClamps(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name: "t", Bounds: tile.Bounds{North: 1, South: 0, East: 1, West: 0}, ZoomLevels: []uint32{0},
		OutputPath: t.TempDir(), OutputFormat: string(tile.OutputFolder),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	e.SetThreadCount(ctx, id, 999)
	task, _, _ := e.db.GetTask(ctx, id)
	if task.ThreadCount != 32 {
		t.Errorf("expected thread count clamped to 32, got %d", task.ThreadCount)
	}

	e.SetThreadCount(ctx, id, 0)
	task, _, _ = e.db.GetTask(ctx, id)
	if task.ThreadCount != 1 {
		t.Errorf("expected thread count clamped to 1, got %d", task.ThreadCount)
	}
}

func TestRetryFailedResetsFailedTiles(t *testing.T) {
	e, db := newTestEngine(t)
	ctx := context.Background()
	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name: "t", Bounds: tile.Bounds{North: 1, South: 0, East: 1, West: 0}, ZoomLevels: []uint32{0},
		OutputPath: t.TempDir(), OutputFormat: string(tile.OutputFolder),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	pending, _ := db.PendingTiles(ctx, id, 0)
	for _, c := range pending {
		db.MarkTileFailed(ctx, id, c, "boom")
	}

	n, err := e.RetryFailed(ctx, id)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if n != uint64(len(pending)) {
		t.Errorf("expected %d tiles reset, got %d", len(pending), n)
	}

	task, _, _ := db.GetTask(ctx, id)
	if task.Status != store.TaskPending {
		t.Errorf("expected task status pending after retry, got %q", task.Status)
	}
}

func TestDownloadOneDoesNotRetryOn4xx(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	writer := &memWriter{}
	writer.Init("", tile.Bounds{}, nil)
	state := newTaskState(1)
	state.writer = writer

	task := store.Task{ID: "x", RetryCount: 3}
	platform := &fakePlatform{srv: srv}
	e.downloadOne(ctx, task, platform, tile.MapTypeStreet, state, tile.Coord{Z: 0, X: 0, Y: 0})

	if hits != 1 {
		t.Errorf("expected exactly 1 attempt for a 4xx response, got %d", hits)
	}
	if state.failed.Load() != 1 {
		t.Errorf("expected the tile to be recorded as failed")
	}
}

func TestFetchTileProxiesOneOffRequest(t *testing.T) {
	e, _ := newTestEngine(t)
	srv := newFakeServer(t, nil)
	t.Cleanup(srv.Close)
	e.newPlatform = func(string, string) tileprovider.Platform { return &fakePlatform{srv: srv} }

	data, err := e.FetchTile(context.Background(), "fake", "", tile.MapTypeStreet, 1, 2, 3)
	if err != nil {
		t.Fatalf("FetchTile: %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("FetchTile returned %q", data)
	}
}

func TestGetTaskAndAllTasksOverlayLiveState(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id, err := e.CreateTask(ctx, CreateTaskRequest{
		Name: "t", Bounds: tile.Bounds{North: 1, South: 0, East: 1, West: 0}, ZoomLevels: []uint32{0},
		OutputPath: t.TempDir(), OutputFormat: string(tile.OutputFolder),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, ok, err := e.GetTask(ctx, id)
	if err != nil || !ok || got.ID != id {
		t.Fatalf("GetTask = %+v, %v, %v", got, ok, err)
	}

	all, err := e.AllTasks(ctx)
	if err != nil {
		t.Fatalf("AllTasks: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 task, got %d", len(all))
	}
}

func TestEstimateTiles(t *testing.T) {
	est := EstimateTiles(tile.Bounds{North: 1, South: 0, East: 1, West: 0}, []uint32{0, 1})
	if est.TotalTiles == 0 {
		t.Error("expected a non-zero tile estimate")
	}
}
