package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"shortkey": "shortkey",
		"abcdefghij":     "abcd****ghij",
		"0123456789abcd": "0123****abcd",
	}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationDropsStaleSchemaMissingCategoryID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poi.db")

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec(`
CREATE TABLE poi_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    name TEXT NOT NULL,
    lon REAL NOT NULL,
    lat REAL NOT NULL,
    address TEXT,
    category TEXT,
    raw_data TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(platform, name, lon, lat)
);`); err != nil {
		t.Fatalf("seed stale schema: %v", err)
	}
	if _, err := raw.Exec(`INSERT INTO poi_data (platform, name, lon, lat) VALUES ('amap','stale poi',1,1)`); err != nil {
		t.Fatalf("seed stale row: %v", err)
	}
	raw.Close()

	s, err := OpenPoiStore(path)
	if err != nil {
		t.Fatalf("OpenPoiStore: %v", err)
	}
	defer s.Close()

	hasCol, err := s.columnExists("poi_data", "category_id")
	if err != nil {
		t.Fatalf("columnExists: %v", err)
	}
	if !hasCol {
		t.Fatal("expected category_id column to exist after migration")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM poi_data`).Scan(&count); err != nil {
		t.Fatalf("count poi_data: %v", err)
	}
	if count != 0 {
		t.Errorf("expected the stale table to be dropped (0 rows), got %d", count)
	}
}

func TestMigrationBackfillsRegionCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poi.db")

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := raw.Exec(`
CREATE TABLE poi_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    name TEXT NOT NULL,
    lon REAL NOT NULL,
    lat REAL NOT NULL,
    address TEXT,
    category TEXT,
    category_id TEXT,
    raw_data TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(platform, name, lon, lat)
);`); err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	if _, err := raw.Exec(
		`INSERT INTO poi_data (platform, name, lon, lat, address) VALUES ('amap','Tower',1,1,'北京市朝阳区')`,
	); err != nil {
		t.Fatalf("seed row: %v", err)
	}
	raw.Close()

	s, err := OpenPoiStore(path)
	if err != nil {
		t.Fatalf("OpenPoiStore: %v", err)
	}
	defer s.Close()

	var region string
	if err := s.db.QueryRow(`SELECT region_code FROM poi_data WHERE name = 'Tower'`).Scan(&region); err != nil {
		t.Fatalf("query region_code: %v", err)
	}
	if region != "110000" {
		t.Errorf("region_code = %q, want 110000", region)
	}
}

// TestS4POIDedup is scenario S4 / property 6: re-inserting the same
// (platform, name, lon, lat) is a no-op.
func TestS4POIDedup(t *testing.T) {
	s := newTestPoiStore(t)
	ctx := context.Background()

	p := POI{Platform: "baidu", Name: "Cafe", Lon: 116.4, Lat: 39.9, Address: "addr"}
	for i := 0; i < 3; i++ {
		inserted, err := s.InsertPOI(ctx, p)
		if err != nil {
			t.Fatalf("InsertPOI iteration %d: %v", i, err)
		}
		if i == 0 && !inserted {
			t.Errorf("expected first insert to report new row")
		}
		if i > 0 && inserted {
			t.Errorf("expected repeat insert %d to report duplicate", i)
		}
	}

	st, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Total != 1 {
		t.Errorf("expected exactly 1 stored row after repeated insert, got %d", st.Total)
	}
}

func TestSearchPOIModes(t *testing.T) {
	s := newTestPoiStore(t)
	ctx := context.Background()

	pois := []POI{
		{Platform: "amap", Name: "Central Park Cafe", Lon: 1, Lat: 1},
		{Platform: "amap", Name: "Central Library", Lon: 2, Lat: 2},
		{Platform: "baidu", Name: "North Cafe", Lon: 3, Lat: 3},
	}
	for _, p := range pois {
		if _, err := s.InsertPOI(ctx, p); err != nil {
			t.Fatalf("InsertPOI(%s): %v", p.Name, err)
		}
	}

	got, err := s.SearchPOI(ctx, "Central", "", SearchPrefix, 10)
	if err != nil {
		t.Fatalf("SearchPOI prefix: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("prefix search: got %d results, want 2", len(got))
	}

	got, err = s.SearchPOI(ctx, "Cafe", "", SearchContains, 10)
	if err != nil {
		t.Fatalf("SearchPOI contains: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("contains search: got %d results, want 2", len(got))
	}

	got, err = s.SearchPOI(ctx, "Cafe", "baidu", SearchContains, 10)
	if err != nil {
		t.Fatalf("SearchPOI contains+platform: %v", err)
	}
	if len(got) != 1 || got[0].Name != "North Cafe" {
		t.Errorf("platform-scoped search: got %+v", got)
	}

	got, err = s.SearchPOI(ctx, "Central Library", "", SearchExact, 10)
	if err != nil {
		t.Fatalf("SearchPOI exact: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("exact search: got %d results, want 1", len(got))
	}
}

func TestAPIKeyCRUDAndMasking(t *testing.T) {
	s := newTestPoiStore(t)
	ctx := context.Background()

	id, err := s.AddAPIKey(ctx, "tianditu", "0123456789abcdef", "primary")
	if err != nil {
		t.Fatalf("AddAPIKey: %v", err)
	}

	all, err := s.AllAPIKeys(ctx)
	if err != nil {
		t.Fatalf("AllAPIKeys: %v", err)
	}
	keys := all["tianditu"]
	if len(keys) != 1 {
		t.Fatalf("expected 1 tianditu key, got %d", len(keys))
	}
	if keys[0].Masked != "0123****cdef" {
		t.Errorf("masked key = %q, want 0123****cdef", keys[0].Masked)
	}
	if keys[0].RawKey != "" {
		t.Errorf("expected raw key scrubbed from AllAPIKeys result")
	}

	key, ok, err := s.ActiveKeyFor(ctx, "tianditu")
	if err != nil || !ok || key != "0123456789abcdef" {
		t.Errorf("ActiveKeyFor = (%q,%v,%v), want full raw key", key, ok, err)
	}

	if err := s.SetQuotaExhausted(ctx, id, true); err != nil {
		t.Fatalf("SetQuotaExhausted: %v", err)
	}
	_, ok, err = s.ActiveKeyFor(ctx, "tianditu")
	if err != nil {
		t.Fatalf("ActiveKeyFor after exhaustion: %v", err)
	}
	if ok {
		t.Error("expected no active key once quota_exhausted is set")
	}

	if err := s.DeleteAPIKey(ctx, id); err != nil {
		t.Fatalf("DeleteAPIKey: %v", err)
	}
	all, err = s.AllAPIKeys(ctx)
	if err != nil {
		t.Fatalf("AllAPIKeys after delete: %v", err)
	}
	if len(all["tianditu"]) != 0 {
		t.Errorf("expected key gone after delete, got %d", len(all["tianditu"]))
	}
}

func TestAllPOIScopesByPlatform(t *testing.T) {
	s := newTestPoiStore(t)
	ctx := context.Background()

	for _, p := range []POI{
		{Platform: "amap", Name: "A", Lon: 1, Lat: 1},
		{Platform: "amap", Name: "B", Lon: 2, Lat: 2},
		{Platform: "baidu", Name: "C", Lon: 3, Lat: 3},
	} {
		if _, err := s.InsertPOI(ctx, p); err != nil {
			t.Fatalf("InsertPOI(%s): %v", p.Name, err)
		}
	}

	all, err := s.AllPOI(ctx, "")
	if err != nil {
		t.Fatalf("AllPOI: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 rows unscoped, got %d", len(all))
	}

	amap, err := s.AllPOI(ctx, "amap")
	if err != nil {
		t.Fatalf("AllPOI(amap): %v", err)
	}
	if len(amap) != 2 {
		t.Errorf("expected 2 rows for amap, got %d", len(amap))
	}
}

func newTestPoiStore(t *testing.T) *PoiStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poi.db")
	s, err := OpenPoiStore(path)
	if err != nil {
		t.Fatalf("OpenPoiStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
