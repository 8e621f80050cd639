// Package store implements the embedded SQLite-WAL persistence layer from
// SPEC_FULL.md §4.2. Two independent files are opened through this package:
// PoiStore (api_keys, poi_data) and TileStore (tile_download_tasks,
// tile_progress). Grounded on the teacher's database.go connection-pool and
// %w-wrapped-error idioms, adapted to SQLite's placeholder style and WAL
// pragmas, with schema and query shape ported from
// original_source/src-tauri/src/database.rs.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// APIKey mirrors an api_keys row. RawKey is never populated by read paths
// that return masked results; Masked is, via maskKey.
type APIKey struct {
	ID              int64
	Platform        string
	RawKey          string
	Masked          string
	Name            string
	IsActive        bool
	QuotaExhausted  bool
	CreatedAt       string
}

// POI mirrors a poi_data row. OriginalLon/OriginalLat preserve the
// provider's native-datum coordinate verbatim alongside the WGS84 Lon/Lat.
type POI struct {
	ID          int64
	Platform    string
	Name        string
	Lon         float64
	Lat         float64
	OriginalLon float64
	OriginalLat float64
	Address     string
	Phone       string
	Category    string
	CategoryID  string
	RegionCode  string
	RawData     string
	CreatedAt   string
}

// Stats is the aggregate shape returned by GetStats.
type Stats struct {
	Total      int64
	ByPlatform map[string]int64
	ByCategory map[string]int64
}

// SearchMode selects how SearchPOI matches the query against name/address.
type SearchMode string

const (
	SearchExact    SearchMode = "exact"
	SearchPrefix   SearchMode = "prefix"
	SearchContains SearchMode = "contains"
)

// regionAllowList backs the region_code backfill migration: a short list of
// administrative-region names whose appearance as an address substring
// assigns the corresponding code. Real deployments widen this via
// internal/region; this is the seed set needed to satisfy the migration
// contract without a network call.
var regionAllowList = []struct {
	code, name string
}{
	{"110000", "北京"},
	{"310000", "上海"},
	{"440100", "广州"},
	{"440300", "深圳"},
	{"330100", "杭州"},
	{"320100", "南京"},
	{"510100", "成都"},
	{"420100", "武汉"},
}

// PoiStore wraps the poi.db file: api_keys + poi_data.
type PoiStore struct {
	db *sql.DB
}

// OpenPoiStore opens (creating if absent) the POI store at path, applies the
// WAL pragmas, runs schema creation, and executes the migration contract.
func OpenPoiStore(path string) (*PoiStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open poi store: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set poi store pragmas: %w", err)
	}
	// SQLite allows exactly one writer; pin the pool so concurrent callers
	// queue on the driver rather than racing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PoiStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PoiStore) Close() error { return s.db.Close() }

func (s *PoiStore) migrate() error {
	if _, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS api_keys (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    api_key TEXT NOT NULL,
    name TEXT,
    is_active INTEGER DEFAULT 1,
    quota_exhausted INTEGER DEFAULT 0,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP
);
`); err != nil {
		return fmt.Errorf("create api_keys: %w", err)
	}

	hasTable, err := s.tableExists("poi_data")
	if err != nil {
		return err
	}
	if hasTable {
		hasCategoryID, err := s.columnExists("poi_data", "category_id")
		if err != nil {
			return err
		}
		if !hasCategoryID {
			// Prior schema predates category_id; destructive drop is
			// acceptable since no production data carries it.
			if _, err := s.db.Exec(`DROP TABLE poi_data`); err != nil {
				return fmt.Errorf("drop stale poi_data: %w", err)
			}
			hasTable = false
		}
	}

	if !hasTable {
		if _, err := s.db.Exec(`
CREATE TABLE poi_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    platform TEXT NOT NULL,
    name TEXT NOT NULL,
    lon REAL NOT NULL,
    lat REAL NOT NULL,
    original_lon REAL,
    original_lat REAL,
    address TEXT,
    phone TEXT,
    category TEXT,
    category_id TEXT,
    region_code TEXT,
    raw_data TEXT,
    created_at TEXT DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(platform, name, lon, lat)
);
CREATE INDEX IF NOT EXISTS idx_poi_name ON poi_data(name);
CREATE INDEX IF NOT EXISTS idx_poi_platform ON poi_data(platform);
CREATE INDEX IF NOT EXISTS idx_poi_category ON poi_data(category);
CREATE INDEX IF NOT EXISTS idx_poi_region_code ON poi_data(region_code);
`); err != nil {
			return fmt.Errorf("create poi_data: %w", err)
		}
		return nil
	}

	hasRegionCode, err := s.columnExists("poi_data", "region_code")
	if err != nil {
		return err
	}
	if !hasRegionCode {
		if _, err := s.db.Exec(`ALTER TABLE poi_data ADD COLUMN region_code TEXT`); err != nil {
			return fmt.Errorf("add region_code: %w", err)
		}
		if err := s.backfillRegionCode(); err != nil {
			return err
		}
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_poi_region_code ON poi_data(region_code)`); err != nil {
		return fmt.Errorf("create idx_poi_region_code: %w", err)
	}

	hasOriginalLon, err := s.columnExists("poi_data", "original_lon")
	if err != nil {
		return err
	}
	if !hasOriginalLon {
		if _, err := s.db.Exec(`ALTER TABLE poi_data ADD COLUMN original_lon REAL`); err != nil {
			return fmt.Errorf("add original_lon: %w", err)
		}
		if _, err := s.db.Exec(`ALTER TABLE poi_data ADD COLUMN original_lat REAL`); err != nil {
			return fmt.Errorf("add original_lat: %w", err)
		}
	}

	hasPhone, err := s.columnExists("poi_data", "phone")
	if err != nil {
		return err
	}
	if !hasPhone {
		if _, err := s.db.Exec(`ALTER TABLE poi_data ADD COLUMN phone TEXT`); err != nil {
			return fmt.Errorf("add phone: %w", err)
		}
	}
	return nil
}

func (s *PoiStore) backfillRegionCode() error {
	for _, r := range regionAllowList {
		if _, err := s.db.Exec(
			`UPDATE poi_data SET region_code = ? WHERE region_code IS NULL AND address LIKE ?`,
			r.code, "%"+r.name+"%",
		); err != nil {
			return fmt.Errorf("backfill region_code for %s: %w", r.name, err)
		}
	}
	return nil
}

func (s *PoiStore) tableExists(name string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *PoiStore) columnExists(table, column string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("scan table_info row: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// maskKey reproduces the original's mask_key: "abcd****wxyz" for keys longer
// than 8 characters, unmasked otherwise.
func maskKey(key string) string {
	if len(key) > 8 {
		return key[:4] + "****" + key[len(key)-4:]
	}
	return key
}

// AddAPIKey inserts a new key for platform.
func (s *PoiStore) AddAPIKey(ctx context.Context, platform, key, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (platform, api_key, name) VALUES (?, ?, ?)`,
		platform, key, name,
	)
	if err != nil {
		return 0, fmt.Errorf("add api key: %w", err)
	}
	return res.LastInsertId()
}

// DeleteAPIKey removes a key by id.
func (s *PoiStore) DeleteAPIKey(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete api key %d: %w", id, err)
	}
	return nil
}

// SetQuotaExhausted marks a key as quota-exhausted so the collector skips it.
func (s *PoiStore) SetQuotaExhausted(ctx context.Context, id int64, exhausted bool) error {
	v := 0
	if exhausted {
		v = 1
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET quota_exhausted = ? WHERE id = ?`, v, id); err != nil {
		return fmt.Errorf("set quota_exhausted for key %d: %w", id, err)
	}
	return nil
}

// AllAPIKeys returns every key grouped by platform, masked.
func (s *PoiStore) AllAPIKeys(ctx context.Context) (map[string][]APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, api_key, name, is_active, quota_exhausted, created_at FROM api_keys ORDER BY platform, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]APIKey)
	for rows.Next() {
		var (
			k             APIKey
			name          sql.NullString
			isActive, qe  int
		)
		if err := rows.Scan(&k.ID, &k.Platform, &k.RawKey, &name, &isActive, &qe, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key row: %w", err)
		}
		k.Name = name.String
		k.IsActive = isActive != 0
		k.QuotaExhausted = qe != 0
		k.Masked = maskKey(k.RawKey)
		k.RawKey = ""
		out[k.Platform] = append(out[k.Platform], k)
	}
	return out, rows.Err()
}

// ActiveKeyFor returns the first active, non-exhausted key for platform, if any.
func (s *PoiStore) ActiveKeyFor(ctx context.Context, platform string) (string, bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM api_keys WHERE platform = ? AND is_active = 1 AND quota_exhausted = 0 ORDER BY id LIMIT 1`,
		platform,
	).Scan(&key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup active key for %s: %w", platform, err)
	}
	return key, true, nil
}

// InsertPOI inserts a record, silently ignoring a duplicate
// (platform, name, lon, lat) per the UNIQUE constraint. Reports whether the
// row was genuinely new.
func (s *PoiStore) InsertPOI(ctx context.Context, p POI) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO poi_data (platform, name, lon, lat, original_lon, original_lat, address, phone, category, category_id, region_code, raw_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Platform, p.Name, p.Lon, p.Lat, p.OriginalLon, p.OriginalLat, p.Address, p.Phone, p.Category, p.CategoryID, p.RegionCode, p.RawData,
	)
	if err != nil {
		return false, fmt.Errorf("insert poi %q: %w", p.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert poi %q: %w", p.Name, err)
	}
	return n > 0, nil
}

// SearchPOI matches name/address against query under the given mode,
// optionally scoped to a platform, limited to limit rows.
func (s *PoiStore) SearchPOI(ctx context.Context, query, platform string, mode SearchMode, limit int) ([]POI, error) {
	var pattern string
	switch mode {
	case SearchExact:
		pattern = query
	case SearchPrefix:
		pattern = query + "%"
	default: // contains, and unrecognized modes fall back to contains
		pattern = "%" + query + "%"
	}

	var b strings.Builder
	b.WriteString(`SELECT id, platform, name, lon, lat, original_lon, original_lat, address, phone, category, category_id, region_code, raw_data, created_at
		FROM poi_data WHERE (name `)
	if mode == SearchExact {
		b.WriteString("= ?")
	} else {
		b.WriteString("LIKE ?")
	}
	b.WriteString(" OR address ")
	if mode == SearchExact {
		b.WriteString("= ?")
	} else {
		b.WriteString("LIKE ?")
	}
	b.WriteString(")")

	args := []any{pattern, pattern}
	if platform != "" {
		b.WriteString(" AND platform = ?")
		args = append(args, platform)
	}
	b.WriteString(" LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search poi: %w", err)
	}
	defer rows.Close()

	var out []POI
	for rows.Next() {
		var (
			p                              POI
			originalLon, originalLat       sql.NullFloat64
			address, phone                 sql.NullString
			category, categoryID           sql.NullString
			regionCode, rawData            sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Platform, &p.Name, &p.Lon, &p.Lat, &originalLon, &originalLat, &address, &phone, &category, &categoryID, &regionCode, &rawData, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan poi row: %w", err)
		}
		p.OriginalLon, p.OriginalLat = originalLon.Float64, originalLat.Float64
		p.Address, p.Phone = address.String, phone.String
		p.Category, p.CategoryID = category.String, categoryID.String
		p.RegionCode, p.RawData = regionCode.String, rawData.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// AllPOI returns every stored POI, optionally scoped to platform, backing
// the get_all_poi_data/export_poi_to_file command-surface operations.
func (s *PoiStore) AllPOI(ctx context.Context, platform string) ([]POI, error) {
	query := `SELECT id, platform, name, lon, lat, original_lon, original_lat, address, phone, category, category_id, region_code, raw_data, created_at FROM poi_data`
	var args []any
	if platform != "" {
		query += ` WHERE platform = ?`
		args = append(args, platform)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list all poi: %w", err)
	}
	defer rows.Close()

	var out []POI
	for rows.Next() {
		var (
			p                         POI
			originalLon, originalLat  sql.NullFloat64
			address, phone            sql.NullString
			category, categoryID      sql.NullString
			regionCode, rawData       sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Platform, &p.Name, &p.Lon, &p.Lat, &originalLon, &originalLat, &address, &phone, &category, &categoryID, &regionCode, &rawData, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan poi row: %w", err)
		}
		p.OriginalLon, p.OriginalLat = originalLon.Float64, originalLat.Float64
		p.Address, p.Phone = address.String, phone.String
		p.Category, p.CategoryID = category.String, categoryID.String
		p.RegionCode, p.RawData = regionCode.String, rawData.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetStats aggregates totals by platform and by category.
func (s *PoiStore) GetStats(ctx context.Context) (Stats, error) {
	st := Stats{ByPlatform: map[string]int64{}, ByCategory: map[string]int64{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM poi_data`).Scan(&st.Total); err != nil {
		return st, fmt.Errorf("count poi_data: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM poi_data GROUP BY platform`)
	if err != nil {
		return st, fmt.Errorf("group by platform: %w", err)
	}
	for rows.Next() {
		var platform string
		var n int64
		if err := rows.Scan(&platform, &n); err != nil {
			rows.Close()
			return st, fmt.Errorf("scan platform group row: %w", err)
		}
		st.ByPlatform[platform] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT COALESCE(category,''), COUNT(*) FROM poi_data GROUP BY category`)
	if err != nil {
		return st, fmt.Errorf("group by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int64
		if err := rows.Scan(&category, &n); err != nil {
			return st, fmt.Errorf("scan category group row: %w", err)
		}
		st.ByCategory[category] = n
	}
	return st, rows.Err()
}
