package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chenqi92/poi-collector/internal/tile"
)

// TaskStatus enumerates tile_download_tasks.status values.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// TileProgressStatus enumerates tile_progress.status values.
type TileProgressStatus string

const (
	ProgressPending   TileProgressStatus = "pending"
	ProgressCompleted TileProgressStatus = "completed"
	ProgressFailed    TileProgressStatus = "failed"
)

// Task mirrors a tile_download_tasks row.
type Task struct {
	ID             string
	Name           string
	Platform       string
	MapType        string
	Bounds         tile.Bounds
	ZoomLevels     []uint32
	Status         TaskStatus
	TotalTiles     uint64
	CompletedTiles uint64
	FailedTiles    uint64
	OutputPath     string
	OutputFormat   string
	ThreadCount    uint32
	RetryCount     uint32
	APIKey         string
	CreatedAt      string
	UpdatedAt      string
	CompletedAt    string
	ErrorMessage   string
}

// TileStore wraps the tiles.db file: tile_download_tasks + tile_progress.
type TileStore struct {
	db *sql.DB
}

// OpenTileStore opens (creating if absent) the tile store at path and applies
// the WAL pragmas and schema.
func OpenTileStore(path string) (*TileStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open tile store: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set tile store pragmas: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &TileStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *TileStore) Close() error { return s.db.Close() }

func (s *TileStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS tile_download_tasks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    platform TEXT NOT NULL,
    map_type TEXT NOT NULL,
    bounds_north REAL NOT NULL,
    bounds_south REAL NOT NULL,
    bounds_east REAL NOT NULL,
    bounds_west REAL NOT NULL,
    zoom_levels TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    total_tiles INTEGER NOT NULL DEFAULT 0,
    completed_tiles INTEGER NOT NULL DEFAULT 0,
    failed_tiles INTEGER NOT NULL DEFAULT 0,
    output_path TEXT NOT NULL,
    output_format TEXT NOT NULL,
    thread_count INTEGER NOT NULL DEFAULT 8,
    retry_count INTEGER NOT NULL DEFAULT 3,
    api_key TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
    completed_at TEXT,
    error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_tile_task_status ON tile_download_tasks(status);

CREATE TABLE IF NOT EXISTS tile_progress (
    task_id TEXT NOT NULL,
    z INTEGER NOT NULL,
    x INTEGER NOT NULL,
    y INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    downloaded_at TEXT,
    PRIMARY KEY (task_id, z, x, y)
);
CREATE INDEX IF NOT EXISTS idx_tile_progress_task ON tile_progress(task_id);
CREATE INDEX IF NOT EXISTS idx_tile_progress_status ON tile_progress(task_id, status);
`)
	if err != nil {
		return fmt.Errorf("create tile schema: %w", err)
	}
	return nil
}

func zoomLevelsToString(zooms []uint32) string {
	parts := make([]string, len(zooms))
	for i, z := range zooms {
		parts[i] = strconv.FormatUint(uint64(z), 10)
	}
	return strings.Join(parts, ",")
}

func parseZoomLevels(s string) []uint32 {
	fields := strings.Split(s, ",")
	out := make([]uint32, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
}

// CreateTask inserts a new task row.
func (s *TileStore) CreateTask(ctx context.Context, t Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tile_download_tasks
		 (id, name, platform, map_type, bounds_north, bounds_south, bounds_east, bounds_west,
		  zoom_levels, total_tiles, output_path, output_format, thread_count, retry_count, api_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Platform, t.MapType,
		t.Bounds.North, t.Bounds.South, t.Bounds.East, t.Bounds.West,
		zoomLevelsToString(t.ZoomLevels), int64(t.TotalTiles), t.OutputPath, t.OutputFormat,
		t.ThreadCount, t.RetryCount, nullIfEmpty(t.APIKey),
	)
	if err != nil {
		return fmt.Errorf("create tile task %s: %w", t.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const taskColumns = `id, name, platform, map_type, bounds_north, bounds_south, bounds_east, bounds_west,
	zoom_levels, status, total_tiles, completed_tiles, failed_tiles, output_path,
	output_format, thread_count, retry_count, api_key, created_at, updated_at, completed_at, error_message`

func scanTask(row interface {
	Scan(dest ...any) error
}) (Task, error) {
	var (
		t                                    Task
		zoomStr                              string
		status                               string
		apiKey, completedAt, errorMessage    sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Platform, &t.MapType,
		&t.Bounds.North, &t.Bounds.South, &t.Bounds.East, &t.Bounds.West,
		&zoomStr, &status, &t.TotalTiles, &t.CompletedTiles, &t.FailedTiles,
		&t.OutputPath, &t.OutputFormat, &t.ThreadCount, &t.RetryCount,
		&apiKey, &t.CreatedAt, &t.UpdatedAt, &completedAt, &errorMessage,
	)
	if err != nil {
		return Task{}, err
	}
	t.ZoomLevels = parseZoomLevels(zoomStr)
	t.Status = TaskStatus(status)
	t.APIKey = apiKey.String
	t.CompletedAt = completedAt.String
	t.ErrorMessage = errorMessage.String
	return t, nil
}

// AllTasks returns every task, newest first.
func (s *TileStore) AllTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tile_download_tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tile tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tile task row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask returns a single task, or ok=false if it doesn't exist.
func (s *TileStore) GetTask(ctx context.Context, id string) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tile_download_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("get tile task %s: %w", id, err)
	}
	return t, true, nil
}

// UpdateTaskStatus sets status and bumps updated_at.
func (s *TileStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tile_download_tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("update tile task status %s: %w", id, err)
	}
	return nil
}

// UpdateTaskProgress sets completed/failed tile counts.
func (s *TileStore) UpdateTaskProgress(ctx context.Context, id string, completed, failed uint64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tile_download_tasks SET completed_tiles = ?, failed_tiles = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		int64(completed), int64(failed), id,
	)
	if err != nil {
		return fmt.Errorf("update tile task progress %s: %w", id, err)
	}
	return nil
}

// SetTaskCompleted marks a task completed and stamps completed_at.
func (s *TileStore) SetTaskCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tile_download_tasks SET status = 'completed', updated_at = CURRENT_TIMESTAMP, completed_at = CURRENT_TIMESTAMP WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("set tile task completed %s: %w", id, err)
	}
	return nil
}

// SetTaskFailed marks a task failed with the given error message.
func (s *TileStore) SetTaskFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tile_download_tasks SET status = 'failed', error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		errMsg, id,
	)
	if err != nil {
		return fmt.Errorf("set tile task failed %s: %w", id, err)
	}
	return nil
}

// UpdateThreadCount changes the worker-pool size for a task.
func (s *TileStore) UpdateThreadCount(ctx context.Context, id string, count uint32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tile_download_tasks SET thread_count = ? WHERE id = ?`, count, id)
	if err != nil {
		return fmt.Errorf("update thread count %s: %w", id, err)
	}
	return nil
}

// DeleteTask removes a task and all of its progress rows.
func (s *TileStore) DeleteTask(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tile task %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tile_progress WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("delete tile progress for %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tile_download_tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete tile task %s: %w", id, err)
	}
	return tx.Commit()
}

// InitTileProgress replaces the progress rows for a task with one pending
// row per tile, in a single transaction.
func (s *TileStore) InitTileProgress(ctx context.Context, taskID string, tiles []tile.Coord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin init tile progress %s: %w", taskID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tile_progress WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear tile progress %s: %w", taskID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tile_progress (task_id, z, x, y, status) VALUES (?, ?, ?, ?, 'pending')`)
	if err != nil {
		return fmt.Errorf("prepare tile progress insert %s: %w", taskID, err)
	}
	defer stmt.Close()

	for _, c := range tiles {
		if _, err := stmt.ExecContext(ctx, taskID, c.Z, c.X, c.Y); err != nil {
			return fmt.Errorf("insert tile progress %s %+v: %w", taskID, c, err)
		}
	}
	return tx.Commit()
}

func (s *TileStore) tilesByStatus(ctx context.Context, taskID string, status TileProgressStatus, limit int) ([]tile.Coord, error) {
	query := `SELECT z, x, y FROM tile_progress WHERE task_id = ? AND status = ?`
	args := []any{taskID, status}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s tiles for %s: %w", status, taskID, err)
	}
	defer rows.Close()

	var out []tile.Coord
	for rows.Next() {
		var c tile.Coord
		if err := rows.Scan(&c.Z, &c.X, &c.Y); err != nil {
			return nil, fmt.Errorf("scan tile progress row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PendingTiles returns up to limit pending tiles for a task (limit<=0 means
// unbounded). Used by the engine both for initial dispatch and for resume.
func (s *TileStore) PendingTiles(ctx context.Context, taskID string, limit int) ([]tile.Coord, error) {
	return s.tilesByStatus(ctx, taskID, ProgressPending, limit)
}

// FailedTiles returns every failed tile for a task.
func (s *TileStore) FailedTiles(ctx context.Context, taskID string) ([]tile.Coord, error) {
	return s.tilesByStatus(ctx, taskID, ProgressFailed, 0)
}

// MarkTileCompleted flips a tile to completed and stamps downloaded_at.
func (s *TileStore) MarkTileCompleted(ctx context.Context, taskID string, c tile.Coord) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tile_progress SET status = 'completed', downloaded_at = CURRENT_TIMESTAMP WHERE task_id = ? AND z = ? AND x = ? AND y = ?`,
		taskID, c.Z, c.X, c.Y,
	)
	if err != nil {
		return fmt.Errorf("mark tile completed %s %+v: %w", taskID, c, err)
	}
	return nil
}

// MarkTileFailed flips a tile to failed, records the error, and bumps retry_count.
func (s *TileStore) MarkTileFailed(ctx context.Context, taskID string, c tile.Coord, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tile_progress SET status = 'failed', error_message = ?, retry_count = retry_count + 1 WHERE task_id = ? AND z = ? AND x = ? AND y = ?`,
		errMsg, taskID, c.Z, c.X, c.Y,
	)
	if err != nil {
		return fmt.Errorf("mark tile failed %s %+v: %w", taskID, c, err)
	}
	return nil
}

// ResetFailedTiles flips every failed tile for a task back to pending,
// returning the number of rows affected.
func (s *TileStore) ResetFailedTiles(ctx context.Context, taskID string) (uint64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tile_progress SET status = 'pending', error_message = NULL WHERE task_id = ? AND status = 'failed'`,
		taskID,
	)
	if err != nil {
		return 0, fmt.Errorf("reset failed tiles %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed tiles %s: %w", taskID, err)
	}
	return uint64(n), nil
}

// TileStats returns (pending, completed, failed) counts for a task.
func (s *TileStore) TileStats(ctx context.Context, taskID string) (pending, completed, failed uint64, err error) {
	for status, dst := range map[TileProgressStatus]*uint64{
		ProgressPending:   &pending,
		ProgressCompleted: &completed,
		ProgressFailed:    &failed,
	} {
		var n int64
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tile_progress WHERE task_id = ? AND status = ?`, taskID, status,
		).Scan(&n); err != nil {
			return 0, 0, 0, fmt.Errorf("tile stats %s (%s): %w", taskID, status, err)
		}
		*dst = uint64(n)
	}
	return pending, completed, failed, nil
}
