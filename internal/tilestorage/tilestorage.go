// Package tilestorage implements the three tile output encodings from
// SPEC_FULL.md §4.5: a directory tree, a deflate-compressed archive, and an
// embedded indexed tile database. Grounded on
// original_source/src-tauri/src/tile_downloader/storage/{folder,zip_storage,
// mbtiles}.rs, with the Writer interface shaped after sfomuseum-go-tilepacks'
// tilepack.TileOutputter (other_examples).
package tilestorage

import (
	"archive/zip"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chenqi92/poi-collector/internal/tile"
)

// Writer is the common contract for all three output encodings. The engine
// serializes all calls through a single mutex per task; writers need not be
// internally thread-safe.
type Writer interface {
	Init(path string, bounds tile.Bounds, zoomLevels []uint32) error
	SaveTile(coord tile.Coord, data []byte) error
	Finalize() error
	Type() string
}

// Create returns the writer for the requested output format, defaulting to
// folder for unrecognized formats (matching the original's create_storage
// fallback).
func Create(format tile.OutputFormat) Writer {
	switch format {
	case tile.OutputTiledb:
		return &TiledbWriter{}
	case tile.OutputArchive:
		return &ArchiveWriter{}
	default:
		return &FolderWriter{}
	}
}

// --- Folder writer ---

// FolderWriter lays tiles out as path/{z}/{x}/{y}.png. Overwrites are
// idempotent.
type FolderWriter struct {
	basePath string
}

func (w *FolderWriter) Init(path string, _ tile.Bounds, _ []uint32) error {
	w.basePath = path
	if err := os.MkdirAll(w.basePath, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return nil
}

func (w *FolderWriter) SaveTile(coord tile.Coord, data []byte) error {
	dir := filepath.Join(w.basePath, strconv.FormatUint(uint64(coord.Z), 10), strconv.FormatUint(uint64(coord.X), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tile directory: %w", err)
	}
	path := filepath.Join(dir, strconv.FormatUint(uint64(coord.Y), 10)+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write tile: %w", err)
	}
	return nil
}

func (w *FolderWriter) Finalize() error { return nil }
func (w *FolderWriter) Type() string    { return "folder" }

// --- Archive writer ---

// ArchiveWriter streams a single deflate-level-6 zip archive, one entry per
// tile at "{z}/{x}/{y}.png". Writes must be sequential; the engine must not
// re-submit a completed tile.
type ArchiveWriter struct {
	file   *os.File
	writer *zip.Writer
}

func (w *ArchiveWriter) Init(path string, _ tile.Bounds, _ []uint32) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	w.file = f
	w.writer = zip.NewWriter(f)
	w.writer.RegisterCompressor(zip.Deflate, deflateLevel6)
	return nil
}

func (w *ArchiveWriter) SaveTile(coord tile.Coord, data []byte) error {
	name := fmt.Sprintf("%d/%d/%d.png", coord.Z, coord.X, coord.Y)
	hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
	entry, err := w.writer.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("create archive entry: %w", err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("write archive entry: %w", err)
	}
	return nil
}

func (w *ArchiveWriter) Finalize() error {
	var errs []error
	if w.writer != nil {
		if err := w.writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("finalize archive: %v", errs)
	}
	return nil
}

func (w *ArchiveWriter) Type() string { return "archive" }

// --- Tiledb writer ---

// TiledbWriter writes an embedded indexed tile database: a metadata table
// and a tiles(zoom_level, tile_column, tile_row, tile_data) table, Y stored
// TMS-flipped.
type TiledbWriter struct {
	db *sql.DB
}

func (w *TiledbWriter) Init(path string, bounds tile.Bounds, zoomLevels []uint32) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open tile database: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS metadata (name TEXT PRIMARY KEY, value TEXT);
CREATE TABLE IF NOT EXISTS tiles (
    zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB,
    PRIMARY KEY (zoom_level, tile_column, tile_row)
);
CREATE INDEX IF NOT EXISTS idx_tiles ON tiles (zoom_level, tile_column, tile_row);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}
	w.db = db

	minZoom, maxZoom := minMax(zoomLevels)
	centerLon := (bounds.West + bounds.East) / 2.0
	centerLat := (bounds.South + bounds.North) / 2.0
	meta := map[string]string{
		"name":        "Tile Download",
		"type":        "baselayer",
		"version":     "1.0",
		"description": "Downloaded tiles",
		"format":      "png",
		"bounds":      fmt.Sprintf("%v,%v,%v,%v", bounds.West, bounds.South, bounds.East, bounds.North),
		"center":      fmt.Sprintf("%v,%v,%d", centerLon, centerLat, minZoom),
		"minzoom":     strconv.FormatUint(uint64(minZoom), 10),
		"maxzoom":     strconv.FormatUint(uint64(maxZoom), 10),
	}
	for name, value := range meta {
		if _, err := db.Exec(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`, name, value); err != nil {
			return fmt.Errorf("insert metadata %q: %w", name, err)
		}
	}
	return nil
}

func (w *TiledbWriter) SaveTile(coord tile.Coord, data []byte) error {
	tmsY := tile.TMSFlip(coord.Z, coord.Y)
	_, err := w.db.Exec(
		`INSERT OR REPLACE INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (?, ?, ?, ?)`,
		coord.Z, coord.X, tmsY, data,
	)
	if err != nil {
		return fmt.Errorf("save tile: %w", err)
	}
	return nil
}

func (w *TiledbWriter) Finalize() error {
	if w.db == nil {
		return nil
	}
	if _, err := w.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum tile database: %w", err)
	}
	return w.db.Close()
}

func (w *TiledbWriter) Type() string { return "tiledb" }

func minMax(zooms []uint32) (min, max uint32) {
	if len(zooms) == 0 {
		return 0, 18
	}
	min, max = zooms[0], zooms[0]
	for _, z := range zooms[1:] {
		if z < min {
			min = z
		}
		if z > max {
			max = z
		}
	}
	return min, max
}

// ZoomStats is the per-zoom-level tally a Report carries, grounded on the
// teacher's ZoomStats (verify.go) and narrowed from .pbf vector tiles to this
// package's raster tiles.
type ZoomStats struct {
	Zoom      uint32
	TileCount int
	TotalSize int64
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// Report is the result of Verify: whether every requested zoom level produced
// at least one tile, plus per-zoom coverage stats.
type Report struct {
	OK           bool
	MissingZooms []uint32
	ZoomStats    map[uint32]*ZoomStats
}

// Verify checks a finished folder or tiledb output against the zoom levels a
// task was supposed to cover, backing the tiles verify subcommand. Archive
// outputs are verified by first listing the zip's entries; folder and tiledb
// each get their own walk, since a zip reader, a directory walk, and a SQL
// query don't share a common "list what's there" primitive.
func Verify(path string, format tile.OutputFormat, zoomLevels []uint32) (*Report, error) {
	switch format {
	case tile.OutputTiledb:
		return verifyTiledb(path, zoomLevels)
	case tile.OutputArchive:
		return verifyArchive(path, zoomLevels)
	default:
		return verifyFolder(path, zoomLevels)
	}
}

func newReport() *Report {
	return &Report{ZoomStats: make(map[uint32]*ZoomStats), OK: true}
}

func (r *Report) record(z, x, y uint32, size int64) {
	st, ok := r.ZoomStats[z]
	if !ok {
		st = &ZoomStats{Zoom: z, MinX: x, MaxX: x, MinY: y, MaxY: y}
		r.ZoomStats[z] = st
	}
	st.TileCount++
	st.TotalSize += size
	if x < st.MinX {
		st.MinX = x
	}
	if x > st.MaxX {
		st.MaxX = x
	}
	if y < st.MinY {
		st.MinY = y
	}
	if y > st.MaxY {
		st.MaxY = y
	}
}

func (r *Report) finish(zoomLevels []uint32) {
	for _, z := range zoomLevels {
		if _, ok := r.ZoomStats[z]; !ok {
			r.MissingZooms = append(r.MissingZooms, z)
		}
	}
	r.OK = len(r.MissingZooms) == 0
}

func verifyFolder(dir string, zoomLevels []uint32) (*Report, error) {
	report := newReport()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".png" {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		z, err1 := strconv.ParseUint(parts[0], 10, 32)
		x, err2 := strconv.ParseUint(parts[1], 10, 32)
		y, err3 := strconv.ParseUint(strings.TrimSuffix(parts[2], ".png"), 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil
		}
		report.record(uint32(z), uint32(x), uint32(y), info.Size())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk tile directory: %w", err)
	}
	report.finish(zoomLevels)
	return report, nil
}

func verifyArchive(path string, zoomLevels []uint32) (*Report, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	report := newReport()
	for _, f := range zr.File {
		if filepath.Ext(f.Name) != ".png" {
			continue
		}
		parts := strings.Split(f.Name, "/")
		if len(parts) != 3 {
			continue
		}
		z, err1 := strconv.ParseUint(parts[0], 10, 32)
		x, err2 := strconv.ParseUint(parts[1], 10, 32)
		y, err3 := strconv.ParseUint(strings.TrimSuffix(parts[2], ".png"), 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		report.record(uint32(z), uint32(x), uint32(y), int64(f.UncompressedSize64))
	}
	report.finish(zoomLevels)
	return report, nil
}

func verifyTiledb(path string, zoomLevels []uint32) (*Report, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open tiledb: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT zoom_level, tile_column, tile_row, length(tile_data) FROM tiles`)
	if err != nil {
		return nil, fmt.Errorf("query tiles: %w", err)
	}
	defer rows.Close()

	report := newReport()
	for rows.Next() {
		var z, x, y uint32
		var size int64
		if err := rows.Scan(&z, &x, &y, &size); err != nil {
			return nil, fmt.Errorf("scan tile row: %w", err)
		}
		report.record(z, x, y, size)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	report.finish(zoomLevels)
	return report, nil
}
