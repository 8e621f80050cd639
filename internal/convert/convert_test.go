package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chenqi92/poi-collector/internal/tile"
)

func writeSampleFolder(t *testing.T, root string) map[tile.Coord]string {
	t.Helper()
	tiles := map[tile.Coord]string{
		{Z: 0, X: 0, Y: 0}: "tile-0-0-0",
		{Z: 1, X: 0, Y: 0}: "tile-1-0-0",
		{Z: 1, X: 1, Y: 1}: "tile-1-1-1",
	}
	for c, data := range tiles {
		dir := filepath.Join(root, itoa(c.Z), itoa(c.X))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		path := filepath.Join(dir, itoa(c.Y)+".png")
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return tiles
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func readBack(t *testing.T, src tileSource) map[tile.Coord]string {
	t.Helper()
	got := map[tile.Coord]string{}
	if err := src.ForEach(func(c tile.Coord, data []byte) error {
		got[c] = string(data)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	return got
}

func assertTilesEqual(t *testing.T, want, got map[tile.Coord]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d tiles, got %d (%v)", len(want), len(got), got)
	}
	for c, data := range want {
		if got[c] != data {
			t.Errorf("tile %+v = %q, want %q", c, got[c], data)
		}
	}
}

func TestConvertFolderToArchive(t *testing.T) {
	src := t.TempDir()
	want := writeSampleFolder(t, src)

	dst := filepath.Join(t.TempDir(), "out.zip")
	n, err := ConvertFile(src, tile.OutputFolder, dst, tile.OutputArchive)
	if err != nil {
		t.Fatalf("ConvertFile: %v", err)
	}
	if n != len(want) {
		t.Errorf("converted %d tiles, want %d", n, len(want))
	}

	zs, err := openZipSource(dst)
	if err != nil {
		t.Fatalf("openZipSource: %v", err)
	}
	defer zs.Close()
	assertTilesEqual(t, want, readBack(t, zs))
}

func TestConvertFolderToMbtilesRoundTrip(t *testing.T) {
	src := t.TempDir()
	want := writeSampleFolder(t, src)

	mbtiles := filepath.Join(t.TempDir(), "out.mbtiles")
	if _, err := ConvertFile(src, tile.OutputFolder, mbtiles, tile.OutputTiledb); err != nil {
		t.Fatalf("ConvertFile folder->mbtiles: %v", err)
	}

	// Round-trip mbtiles back to a folder; this exercises the TMS-flip/
	// unflip pair (writer flips on save, source unflips on read).
	outFolder := t.TempDir()
	n, err := ConvertFile(mbtiles, tile.OutputTiledb, outFolder, tile.OutputFolder)
	if err != nil {
		t.Fatalf("ConvertFile mbtiles->folder: %v", err)
	}
	if n != len(want) {
		t.Errorf("converted %d tiles, want %d", n, len(want))
	}

	fs, err := openFolderSource(outFolder)
	if err != nil {
		t.Fatalf("openFolderSource: %v", err)
	}
	defer fs.Close()
	assertTilesEqual(t, want, readBack(t, fs))
}

func TestParseTileNameRejectsMalformed(t *testing.T) {
	cases := []string{"not-a-tile.png", "1/2.png", "a/b/c.png"}
	for _, name := range cases {
		if _, ok := parseTileName(name); ok {
			t.Errorf("parseTileName(%q) should have failed", name)
		}
	}
	c, ok := parseTileName("3/4/5.png")
	if !ok || c != (tile.Coord{Z: 3, X: 4, Y: 5}) {
		t.Errorf("parseTileName(3/4/5.png) = %+v, %v", c, ok)
	}
}

func TestConvertUnsupportedSourceFormat(t *testing.T) {
	if _, err := ConvertFile(t.TempDir(), tile.OutputFormat("bogus"), t.TempDir(), tile.OutputFolder); err == nil {
		t.Fatal("expected error for unsupported source format")
	}
}
