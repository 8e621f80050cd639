// Package convert implements offline transcoding between the three tile
// output encodings (folder, archive/zip, tiledb/mbtiles), independent of any
// download task. Grounded on
// original_source/src-tauri/src/tile_downloader/commands.rs::convert_tile_file,
// generalized from its four source/destination combinations to all pairs
// since every encoding already has both a reader and (via internal/tilestorage)
// a writer.
package convert

import (
	"archive/zip"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chenqi92/poi-collector/internal/tile"
	"github.com/chenqi92/poi-collector/internal/tilestorage"
)

// tileSource enumerates the zoom levels present in a source and streams its
// tiles in whatever order is cheapest to read.
type tileSource interface {
	ZoomLevels() []uint32
	ForEach(func(tile.Coord, []byte) error) error
	Close() error
}

// ConvertFile reads every tile from srcPath (in srcFormat) and writes it to
// dstPath (in dstFormat). Reports the number of tiles converted.
func ConvertFile(srcPath string, srcFormat tile.OutputFormat, dstPath string, dstFormat tile.OutputFormat) (int, error) {
	src, err := openSource(srcPath, srcFormat)
	if err != nil {
		return 0, fmt.Errorf("open source %s: %w", srcPath, err)
	}
	defer src.Close()

	writer := tilestorage.Create(dstFormat)
	if err := writer.Init(dstPath, tile.Bounds{}, src.ZoomLevels()); err != nil {
		return 0, fmt.Errorf("init destination %s: %w", dstPath, err)
	}

	count := 0
	err = src.ForEach(func(c tile.Coord, data []byte) error {
		if err := writer.SaveTile(c, data); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("convert tile: %w", err)
	}
	if err := writer.Finalize(); err != nil {
		return count, fmt.Errorf("finalize destination %s: %w", dstPath, err)
	}
	return count, nil
}

func openSource(path string, format tile.OutputFormat) (tileSource, error) {
	switch format {
	case tile.OutputArchive:
		return openZipSource(path)
	case tile.OutputTiledb:
		return openTiledbSource(path)
	case tile.OutputFolder:
		return openFolderSource(path)
	default:
		return nil, fmt.Errorf("unsupported source format %q", format)
	}
}

// parseTileName parses a "{z}/{x}/{y}.png"-shaped path (zip entry name or
// folder-relative path) into a tile coordinate.
func parseTileName(name string) (tile.Coord, bool) {
	name = filepath.ToSlash(name)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return tile.Coord{}, false
	}
	z, err1 := strconv.ParseUint(parts[0], 10, 32)
	x, err2 := strconv.ParseUint(parts[1], 10, 32)
	y, err3 := strconv.ParseUint(parts[2], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return tile.Coord{}, false
	}
	return tile.Coord{Z: uint32(z), X: uint32(x), Y: uint32(y)}, true
}

// --- zip source ---

type zipSource struct {
	r *zip.ReadCloser
}

func openZipSource(path string) (*zipSource, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &zipSource{r: r}, nil
}

func (s *zipSource) ZoomLevels() []uint32 {
	seen := map[uint32]bool{}
	var zooms []uint32
	for _, f := range s.r.File {
		if c, ok := parseTileName(f.Name); ok && !seen[c.Z] {
			seen[c.Z] = true
			zooms = append(zooms, c.Z)
		}
	}
	return zooms
}

func (s *zipSource) ForEach(fn func(tile.Coord, []byte) error) error {
	for _, f := range s.r.File {
		c, ok := parseTileName(f.Name)
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read entry %s: %w", f.Name, err)
		}
		if err := fn(c, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *zipSource) Close() error { return s.r.Close() }

// --- mbtiles (tiledb) source ---

// tiledbSource reads a tiles(zoom_level, tile_column, tile_row, tile_data)
// table written TMS-flipped (tilestorage.TiledbWriter's convention) and
// un-flips tile_row back to XYZ on the way out. TMSFlip is its own inverse,
// so the read path reuses the exact function the writer used to flip it.
type tiledbSource struct {
	db *sql.DB
}

func openTiledbSource(path string) (*tiledbSource, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	return &tiledbSource{db: db}, nil
}

func (s *tiledbSource) ZoomLevels() []uint32 {
	rows, err := s.db.Query(`SELECT DISTINCT zoom_level FROM tiles ORDER BY zoom_level`)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var zooms []uint32
	for rows.Next() {
		var z uint32
		if rows.Scan(&z) == nil {
			zooms = append(zooms, z)
		}
	}
	return zooms
}

func (s *tiledbSource) ForEach(fn func(tile.Coord, []byte) error) error {
	rows, err := s.db.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles`)
	if err != nil {
		return fmt.Errorf("query tiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var z, x, tmsY uint32
		var data []byte
		if err := rows.Scan(&z, &x, &tmsY, &data); err != nil {
			return fmt.Errorf("scan tile row: %w", err)
		}
		y := tile.TMSFlip(z, tmsY)
		if err := fn(tile.Coord{Z: z, X: x, Y: y}, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *tiledbSource) Close() error { return s.db.Close() }

// --- folder source ---

type folderSource struct {
	root string
}

func openFolderSource(path string) (*folderSource, error) {
	return &folderSource{root: path}, nil
}

func (s *folderSource) walk(fn func(tile.Coord, string) error) error {
	return filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return nil
		}
		if c, ok := parseTileName(rel); ok {
			return fn(c, p)
		}
		return nil
	})
}

func (s *folderSource) ZoomLevels() []uint32 {
	seen := map[uint32]bool{}
	var zooms []uint32
	s.walk(func(c tile.Coord, _ string) error {
		if !seen[c.Z] {
			seen[c.Z] = true
			zooms = append(zooms, c.Z)
		}
		return nil
	})
	return zooms
}

func (s *folderSource) ForEach(fn func(tile.Coord, []byte) error) error {
	return s.walk(func(c tile.Coord, p string) error {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read tile %s: %w", p, err)
		}
		return fn(c, data)
	})
}

func (s *folderSource) Close() error { return nil }
