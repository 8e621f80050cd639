// Package surface is the command-surface dispatch layer consumed by the
// shell: one method per operation in SPEC_FULL.md §6, JSON-tagged
// request/response types, (T, error) returns, and a recover() around every
// method that returns an error, so a bug downstream surfaces as that error
// instead of panicking the host process. Grounded on
// original_source/src-tauri/src/commands.rs, which plays the same role
// (a flat list of #[tauri::command] functions fronting the engines), adapted
// from Tauri's IPC command registration to plain exported Go methods a
// cmd/poicollector HTTP or CLI layer can call directly.
package surface

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/chenqi92/poi-collector/internal/boundary"
	"github.com/chenqi92/poi-collector/internal/collector"
	"github.com/chenqi92/poi-collector/internal/convert"
	"github.com/chenqi92/poi-collector/internal/coords"
	"github.com/chenqi92/poi-collector/internal/poiprovider"
	"github.com/chenqi92/poi-collector/internal/region"
	"github.com/chenqi92/poi-collector/internal/store"
	"github.com/chenqi92/poi-collector/internal/tile"
	"github.com/chenqi92/poi-collector/internal/tiledownload"
	"github.com/chenqi92/poi-collector/internal/tileprovider"
)

// Service wires the engines together behind the command surface. Construct
// one per process; it owns no goroutines of its own beyond what New on its
// member engines already started.
type Service struct {
	poi        *store.PoiStore
	tiles      *store.TileStore
	collector  *collector.Engine
	downloads  *tiledownload.Engine
	boundaries *boundary.Service

	// CollectorLog and TileProgress mirror the original's app.emit events;
	// callers select on these directly rather than polling a command.
	CollectorLog chan string
	TileProgress chan tiledownload.ProgressEvent
}

func New(poi *store.PoiStore, tiles *store.TileStore) *Service {
	col := collector.New(poi)
	dl := tiledownload.New(tiles)
	return &Service{
		poi:          poi,
		tiles:        tiles,
		collector:    col,
		downloads:    dl,
		boundaries:   boundary.New(),
		CollectorLog: col.LogCh,
		TileProgress: dl.Progress,
	}
}

// recoverTo converts a panic in fn into an error, matching §7's "command
// surface calls never panic" requirement.
func recoverTo(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("command surface panic: %v", r)
	}
}

// --- stats / api keys ---

type StatsView struct {
	Total      int64            `json:"total"`
	ByPlatform map[string]int64 `json:"by_platform"`
	ByCategory map[string]int64 `json:"by_category"`
}

func (s *Service) GetStats(ctx context.Context) (view StatsView, err error) {
	defer recoverTo(&err)
	st, err := s.poi.GetStats(ctx)
	if err != nil {
		return StatsView{}, err
	}
	return StatsView{Total: st.Total, ByPlatform: st.ByPlatform, ByCategory: st.ByCategory}, nil
}

type APIKeyView struct {
	ID             int64  `json:"id"`
	Platform       string `json:"platform"`
	Masked         string `json:"masked_key"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	QuotaExhausted bool   `json:"quota_exhausted"`
	CreatedAt      string `json:"created_at"`
}

func (s *Service) GetAPIKeys(ctx context.Context) (view map[string][]APIKeyView, err error) {
	defer recoverTo(&err)
	all, err := s.poi.AllAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	view = make(map[string][]APIKeyView, len(all))
	for platform, keys := range all {
		for _, k := range keys {
			view[platform] = append(view[platform], APIKeyView{
				ID: k.ID, Platform: k.Platform, Masked: k.Masked, Name: k.Name,
				IsActive: k.IsActive, QuotaExhausted: k.QuotaExhausted, CreatedAt: k.CreatedAt,
			})
		}
	}
	return view, nil
}

func (s *Service) AddAPIKey(ctx context.Context, platform, secret, name string) (id int64, err error) {
	defer recoverTo(&err)
	return s.poi.AddAPIKey(ctx, platform, secret, name)
}

func (s *Service) DeleteAPIKey(ctx context.Context, id int64) (err error) {
	defer recoverTo(&err)
	return s.poi.DeleteAPIKey(ctx, id)
}

// --- categories / collector lifecycle ---

type CategoryView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

func (s *Service) GetCategories() (views []CategoryView) {
	for _, c := range collector.DefaultCategories() {
		views = append(views, CategoryView{ID: c.ID, Name: c.Name, Keywords: c.Keywords})
	}
	return views
}

type CollectorStatusView struct {
	Platform            string   `json:"platform"`
	Phase               string   `json:"phase"`
	TotalCollected      int64    `json:"total_collected"`
	CompletedCategories []string `json:"completed_categories"`
	CurrentCategoryID   string   `json:"current_category_id"`
	ErrorMessage        string   `json:"error_message"`
}

func (s *Service) GetCollectorStatuses() map[string]CollectorStatusView {
	out := make(map[string]CollectorStatusView)
	for platform, st := range s.collector.AllStatuses() {
		out[platform] = CollectorStatusView{
			Platform: st.Platform, Phase: st.Phase, TotalCollected: st.TotalCollected,
			CompletedCategories: st.CompletedCategories, CurrentCategoryID: st.CurrentCategoryID,
			ErrorMessage: st.ErrorMessage,
		}
	}
	return out
}

// StartCollector resolves region_codes into a single poiprovider.Region by
// unioning each code's cached/fetched boundary box, per the original's
// behavior of collapsing a region selection down to one bounding box plus a
// provider-specific city hint.
func (s *Service) StartCollector(ctx context.Context, platform string, categoryIDs, regionCodes []string) (err error) {
	defer recoverTo(&err)
	reg, err := s.resolveRegion(ctx, regionCodes)
	if err != nil {
		return err
	}
	return s.collector.Start(ctx, platform, categoryIDs, reg)
}

func (s *Service) resolveRegion(ctx context.Context, regionCodes []string) (poiprovider.Region, error) {
	if len(regionCodes) == 0 {
		return poiprovider.Region{}, fmt.Errorf("no region selected")
	}

	var names []string
	var cityCode string
	var ring orb.Ring
	b := coords.Bounds{North: -90, South: 90, East: -180, West: 180}
	for _, code := range regionCodes {
		if r, ok := region.ByCode(code); ok {
			names = append(names, r.Name)
			if cityCode == "" && (r.Level == region.LevelCity || r.Level == region.LevelDistrict) {
				cityCode = code
			}
		}
		result, err := s.boundaries.GetRegionBoundary(ctx, code)
		if err != nil {
			continue // boundary lookup is best-effort; region filtering still applies provider-side
		}
		if result.Bounds.North > b.North {
			b.North = result.Bounds.North
		}
		if result.Bounds.South < b.South {
			b.South = result.Bounds.South
		}
		if result.Bounds.East > b.East {
			b.East = result.Bounds.East
		}
		if result.Bounds.West < b.West {
			b.West = result.Bounds.West
		}
		// A single selected region gets the tighter polygon filter; unioning
		// rings across several codes wouldn't express "inside any of them"
		// without a multi-ring contains test, so multi-code selections stay
		// on the bounding-box union alone.
		if len(regionCodes) == 1 {
			if r, err := boundary.Polygon(result.GeoJSON); err == nil {
				ring = r
			}
		}
	}
	if cityCode == "" {
		cityCode = regionCodes[0]
	}
	if !b.Valid() {
		// No boundary could be fetched for any code (offline/stubbed test
		// environment): fall back to the whole-country envelope, matching the
		// "rely on provider filtering" open question in spec.md §9.
		b = coords.Bounds{North: 54, South: 18, East: 135, West: 73}
		ring = nil
	}
	return poiprovider.Region{Name: strings.Join(names, ","), CityCode: cityCode, Bounds: b, Polygon: ring}, nil
}

func (s *Service) StopCollector(platform string) {
	s.collector.Stop(platform)
}

func (s *Service) ResetCollector(platform string) {
	s.collector.Reset(platform)
}

// --- search ---

type POIView struct {
	ID          int64   `json:"id"`
	Platform    string  `json:"platform"`
	Name        string  `json:"name"`
	Lon         float64 `json:"lon"`
	Lat         float64 `json:"lat"`
	OriginalLon float64 `json:"original_lon"`
	OriginalLat float64 `json:"original_lat"`
	Address     string  `json:"address"`
	Phone       string  `json:"phone"`
	Category    string  `json:"category"`
	CategoryID  string  `json:"category_id"`
	RegionCode  string  `json:"region_code"`
	CreatedAt   string  `json:"created_at"`
}

func poiToView(p store.POI) POIView {
	return POIView{
		ID: p.ID, Platform: p.Platform, Name: p.Name, Lon: p.Lon, Lat: p.Lat,
		OriginalLon: p.OriginalLon, OriginalLat: p.OriginalLat,
		Address: p.Address, Phone: p.Phone, Category: p.Category, CategoryID: p.CategoryID,
		RegionCode: p.RegionCode, CreatedAt: p.CreatedAt,
	}
}

// SearchPOI translates the "smart" mode mentioned in spec.md §6 to contains:
// store.SearchPOI already falls any unrecognized mode through to a contains
// match, and no further heuristic is specified for what "smart" should add
// over plain substring search.
func (s *Service) SearchPOI(ctx context.Context, query, platform, mode string, limit int) (views []POIView, err error) {
	defer recoverTo(&err)
	if limit <= 0 {
		limit = 100
	}
	pois, err := s.poi.SearchPOI(ctx, query, platform, store.SearchMode(mode), limit)
	if err != nil {
		return nil, err
	}
	for _, p := range pois {
		views = append(views, poiToView(p))
	}
	return views, nil
}

// --- region queries ---

type RegionView struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Level      string `json:"level"`
	ParentCode string `json:"parent_code"`
}

func regionToView(r region.Region) RegionView {
	return RegionView{Code: r.Code, Name: r.Name, Level: string(r.Level), ParentCode: r.ParentCode}
}

func regionsToViews(rs []region.Region) []RegionView {
	out := make([]RegionView, 0, len(rs))
	for _, r := range rs {
		out = append(out, regionToView(r))
	}
	return out
}

func (s *Service) GetRegions() []RegionView { return regionsToViews(region.AllRegions()) }

func (s *Service) GetProvinces() []RegionView { return regionsToViews(region.Provinces()) }

func (s *Service) GetRegionChildren(parentCode string) []RegionView {
	return regionsToViews(region.Children(parentCode))
}

func (s *Service) SearchRegions(query string) []RegionView {
	return regionsToViews(region.Search(query))
}

func (s *Service) GetDistrictCodesForRegion(code string) []string {
	return region.AllDistrictCodes(code)
}

// --- export ---

func (s *Service) GetAllPOIData(ctx context.Context, platform string) (views []POIView, err error) {
	defer recoverTo(&err)
	pois, err := s.poi.AllPOI(ctx, platform)
	if err != nil {
		return nil, err
	}
	for _, p := range pois {
		views = append(views, poiToView(p))
	}
	return views, nil
}

func (s *Service) ExportPOIToFile(ctx context.Context, path, format, platform string) (count int, err error) {
	defer recoverTo(&err)
	pois, err := s.poi.AllPOI(ctx, platform)
	if err != nil {
		return 0, err
	}
	switch format {
	case "json":
		err = writeJSONExport(path, pois)
	case "excel":
		err = writeCSVExport(path, pois)
	case "mysql":
		err = writeMySQLExport(path, pois)
	default:
		return 0, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return 0, err
	}
	return len(pois), nil
}

// --- tile platforms / estimate ---

func (s *Service) GetTilePlatforms() []tileprovider.Info {
	return tileprovider.All()
}

type CalculateTilesRequest struct {
	Bounds     tile.Bounds `json:"bounds"`
	ZoomLevels []uint32    `json:"zoom_levels"`
}

type CalculateTilesView struct {
	Total       uint64            `json:"total"`
	PerLevel    []tile.LevelCount `json:"per_level"`
	EstimatedMB float64           `json:"estimated_mb"`
}

func (s *Service) CalculateTilesCount(req CalculateTilesRequest) CalculateTilesView {
	est := tiledownload.EstimateTiles(req.Bounds, req.ZoomLevels)
	return CalculateTilesView{
		Total:       est.TotalTiles,
		PerLevel:    est.TilesPerLevel,
		EstimatedMB: est.EstimatedSizeMB,
	}
}

// --- tile tasks ---

type CreateTileTaskRequest struct {
	Name         string      `json:"name"`
	Platform     string      `json:"platform"`
	MapType      string      `json:"map_type"`
	Bounds       tile.Bounds `json:"bounds"`
	ZoomLevels   []uint32    `json:"zoom_levels"`
	OutputPath   string      `json:"output_path"`
	OutputFormat string      `json:"output_format"`
	ThreadCount  uint32      `json:"thread_count"`
	RetryCount   uint32      `json:"retry_count"`
	APIKey       string      `json:"api_key"`
}

func (s *Service) CreateTileTask(ctx context.Context, req CreateTileTaskRequest) (taskID string, err error) {
	defer recoverTo(&err)
	return s.downloads.CreateTask(ctx, tiledownload.CreateTaskRequest{
		Name: req.Name, Platform: req.Platform, MapType: req.MapType, Bounds: req.Bounds,
		ZoomLevels: req.ZoomLevels, OutputPath: req.OutputPath, OutputFormat: req.OutputFormat,
		ThreadCount: req.ThreadCount, RetryCount: req.RetryCount, APIKey: req.APIKey,
	})
}

type TileTaskView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Platform       string   `json:"platform"`
	MapType        string   `json:"map_type"`
	Bounds         tile.Bounds `json:"bounds"`
	ZoomLevels     []uint32 `json:"zoom_levels"`
	Status         string   `json:"status"`
	TotalTiles     uint64   `json:"total_tiles"`
	CompletedTiles uint64   `json:"completed_tiles"`
	FailedTiles    uint64   `json:"failed_tiles"`
	OutputPath     string   `json:"output_path"`
	OutputFormat   string   `json:"output_format"`
	ThreadCount    uint32   `json:"thread_count"`
	ErrorMessage   string   `json:"error_message"`
}

func taskToView(t store.Task) TileTaskView {
	return TileTaskView{
		ID: t.ID, Name: t.Name, Platform: t.Platform, MapType: t.MapType, Bounds: t.Bounds,
		ZoomLevels: t.ZoomLevels, Status: string(t.Status), TotalTiles: t.TotalTiles,
		CompletedTiles: t.CompletedTiles, FailedTiles: t.FailedTiles, OutputPath: t.OutputPath,
		OutputFormat: t.OutputFormat, ThreadCount: t.ThreadCount, ErrorMessage: t.ErrorMessage,
	}
}

func (s *Service) GetTileTasks(ctx context.Context) (views []TileTaskView, err error) {
	defer recoverTo(&err)
	tasks, err := s.downloads.AllTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		views = append(views, taskToView(t))
	}
	return views, nil
}

func (s *Service) GetTileTask(ctx context.Context, id string) (view TileTaskView, ok bool, err error) {
	defer recoverTo(&err)
	task, ok, err := s.downloads.GetTask(ctx, id)
	if err != nil || !ok {
		return TileTaskView{}, ok, err
	}
	return taskToView(task), true, nil
}

func (s *Service) StartTileDownload(ctx context.Context, id string) (err error) {
	defer recoverTo(&err)
	return s.downloads.Start(ctx, id)
}

func (s *Service) PauseTileDownload(ctx context.Context, id string) bool {
	return s.downloads.Pause(ctx, id)
}

func (s *Service) CancelTileDownload(ctx context.Context, id string) {
	s.downloads.Cancel(ctx, id)
}

func (s *Service) DeleteTileTask(ctx context.Context, id, outputPath string, deleteFiles bool) (err error) {
	defer recoverTo(&err)
	return s.downloads.DeleteTask(ctx, id, outputPath, deleteFiles)
}

func (s *Service) SetTileThreadCount(ctx context.Context, id string, count uint32) bool {
	return s.downloads.SetThreadCount(ctx, id, count)
}

func (s *Service) RetryFailedTiles(ctx context.Context, id string) (resetCount uint64, err error) {
	defer recoverTo(&err)
	return s.downloads.RetryFailed(ctx, id)
}

func (s *Service) ProxyTileRequest(ctx context.Context, platform, apiKey string, mapType tile.MapType, z, x, y uint32) (data []byte, err error) {
	defer recoverTo(&err)
	return s.downloads.FetchTile(ctx, platform, apiKey, mapType, z, x, y)
}

// ConvertTileFile reformats a finished tile output between folder/archive/
// tiledb representations, backing convert_tile_file.
func (s *Service) ConvertTileFile(srcPath, srcFormat, dstPath, dstFormat string) (tileCount int, err error) {
	defer recoverTo(&err)
	return convert.ConvertFile(srcPath, tile.OutputFormat(srcFormat), dstPath, tile.OutputFormat(dstFormat))
}

// --- boundary ---

type BoundaryView struct {
	GeoJSON string      `json:"geojson"`
	Bounds  tile.Bounds `json:"bounds"`
}

func (s *Service) GetRegionBoundary(ctx context.Context, code string) (view BoundaryView, err error) {
	defer recoverTo(&err)
	result, err := s.boundaries.GetRegionBoundary(ctx, code)
	if err != nil {
		return BoundaryView{}, err
	}
	return BoundaryView{
		GeoJSON: string(result.GeoJSON),
		Bounds:  tile.Bounds{North: result.Bounds.North, South: result.Bounds.South, East: result.Bounds.East, West: result.Bounds.West},
	}, nil
}

func (s *Service) ClearBoundaryCache() {
	s.boundaries.ClearCache()
}
