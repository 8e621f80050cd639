package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chenqi92/poi-collector/internal/store"
	"github.com/chenqi92/poi-collector/internal/surface"
)

// setupTestService points the package-level svc/poiStore/tileStore at fresh
// tempdir-backed stores, bypassing root.go's PersistentPreRunE so individual
// leaf commands can be exercised without a real config file or network
// access — the same scoping internal/surface's own tests use.
func setupTestService(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	p, err := store.OpenPoiStore(filepath.Join(dir, "poi.db"))
	if err != nil {
		t.Fatalf("open poi store: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	tl, err := store.OpenTileStore(filepath.Join(dir, "tiles.db"))
	if err != nil {
		t.Fatalf("open tile store: %v", err)
	}
	t.Cleanup(func() { tl.Close() })

	poiStore, tileStore = p, tl
	svc = surface.New(p, tl)
	t.Cleanup(func() { svc = nil; poiStore = nil; tileStore = nil })
}

func TestCategoriesCmdListsBuiltins(t *testing.T) {
	setupTestService(t)

	cmd := newCategoriesCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty category listing")
	}
}

func TestAPIKeysCmdAddListDelete(t *testing.T) {
	setupTestService(t)

	add := newAPIKeysCmd()
	var addOut bytes.Buffer
	add.SetOut(&addOut)
	add.SetArgs([]string{"add", "gaode", "secret-value", "--name", "primary"})
	if err := add.Execute(); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !strings.Contains(addOut.String(), "added key id=") {
		t.Fatalf("unexpected add output: %q", addOut.String())
	}

	list := newAPIKeysCmd()
	var listOut bytes.Buffer
	list.SetOut(&listOut)
	list.SetArgs([]string{"list"})
	if err := list.Execute(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(listOut.String(), "gaode") {
		t.Fatalf("expected listed key to mention platform, got %q", listOut.String())
	}

	del := newAPIKeysCmd()
	del.SetArgs([]string{"delete", "1"})
	if err := del.Execute(); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRegionsCmdList(t *testing.T) {
	setupTestService(t)

	cmd := newRegionsCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"list"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestSearchCmdOnEmptyStore(t *testing.T) {
	setupTestService(t)

	cmd := newSearchCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"coffee"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestExportCmdWritesEmptyJSON(t *testing.T) {
	setupTestService(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.json")

	cmd := newExportCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{out, "--format", "json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "exported 0 record(s)") {
		t.Fatalf("unexpected export output: %q", buf.String())
	}
}

func TestTilesCreateListAndDelete(t *testing.T) {
	setupTestService(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "tiles-out")

	create := newTilesCmd()
	var createOut bytes.Buffer
	create.SetOut(&createOut)
	create.SetArgs([]string{
		"create", "--name", "test-area", "--platform", "osm",
		"--north", "40.1", "--south", "40.0", "--east", "116.5", "--west", "116.4",
		"--zoom", "10", "--output", out,
	})
	if err := create.Execute(); err != nil {
		t.Fatalf("create: %v", err)
	}
	taskID := strings.TrimSpace(createOut.String())
	if taskID == "" {
		t.Fatal("expected a task id to be printed")
	}

	list := newTilesCmd()
	var listOut bytes.Buffer
	list.SetOut(&listOut)
	list.SetArgs([]string{"list"})
	if err := list.Execute(); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(listOut.String(), taskID) {
		t.Fatalf("expected task %s in listing, got %q", taskID, listOut.String())
	}

	del := newTilesCmd()
	del.SetArgs([]string{"delete", taskID})
	if err := del.Execute(); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestTilesEstimateCmd(t *testing.T) {
	setupTestService(t)

	cmd := newTilesCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{
		"estimate",
		"--north", "40.1", "--south", "40.0", "--east", "116.5", "--west", "116.4",
		"--zoom", "10", "--zoom", "12",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(buf.String(), "total=") {
		t.Fatalf("unexpected estimate output: %q", buf.String())
	}
}

func TestTilesPlatformsCmd(t *testing.T) {
	setupTestService(t)

	cmd := newTilesCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"platforms"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected at least one tile platform listed")
	}
}

func TestBoundaryClearCacheIsSafe(t *testing.T) {
	setupTestService(t)

	cmd := newBoundaryCmd()
	cmd.SetArgs([]string{"clear-cache"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
