// Package boundary fetches and caches administrative-region polygons from
// Alibaba's DataV.GeoAtlas service, grounded on
// original_source/src-tauri/src/tile_downloader/boundaries.rs.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/chenqi92/poi-collector/internal/coords"
)

const baseURL = "https://geo.datav.aliyun.com/areas_v3/bound/"

// testBaseURL lets tests redirect to a local httptest server.
var testBaseURL string

func resolveBaseURL() string {
	if testBaseURL != "" {
		return testBaseURL
	}
	return baseURL
}

// Result is a region's raw GeoJSON plus its derived WGS84 bounding box.
type Result struct {
	GeoJSON json.RawMessage
	Bounds  coords.Bounds
}

// Service fetches and caches region boundary GeoJSON by administrative code.
// Safe for concurrent use.
type Service struct {
	client *http.Client
	mu     sync.RWMutex
	cache  map[string]json.RawMessage
}

func New() *Service {
	return &Service{
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[string]json.RawMessage),
	}
}

// GetRegionBoundary returns the boundary for regionCode, serving from cache
// when present. Codes of length <= 4 (province/city level) use the
// "_full.json" variant; longer (district/county) codes use the plain file.
func (s *Service) GetRegionBoundary(ctx context.Context, regionCode string) (Result, error) {
	s.mu.RLock()
	cached, ok := s.cache[regionCode]
	s.mu.RUnlock()
	if ok {
		return Result{GeoJSON: cached, Bounds: extractBounds(cached)}, nil
	}

	url := resolveBaseURL() + regionCode + ".json"
	if len(regionCode) <= 4 {
		url = resolveBaseURL() + regionCode + "_full.json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build boundary request for %s: %w", regionCode, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch boundary for %s: %w", regionCode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("fetch boundary for %s: HTTP %d", regionCode, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("decode boundary for %s: %w", regionCode, err)
	}

	s.mu.Lock()
	s.cache[regionCode] = raw
	s.mu.Unlock()

	return Result{GeoJSON: raw, Bounds: extractBounds(raw)}, nil
}

// ClearCache evicts every cached boundary.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]json.RawMessage)
}

// extractBounds recursively walks arbitrary GeoJSON, collecting [lon,lat]
// coordinate pairs wherever they occur (inside features/geometry/coordinates
// keys, or bare nested arrays) and reduces them to a bounding box.
func extractBounds(raw json.RawMessage) coords.Bounds {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return coords.Bounds{}
	}

	minLon, maxLon := 180.0, -180.0
	minLat, maxLat := 90.0, -90.0

	extractCoords(v, func(lon, lat float64) {
		if lon < minLon {
			minLon = lon
		}
		if lon > maxLon {
			maxLon = lon
		}
		if lat < minLat {
			minLat = lat
		}
		if lat > maxLat {
			maxLat = lat
		}
	})

	return coords.Bounds{North: maxLat, South: minLat, East: maxLon, West: minLon}
}

func extractCoords(v any, emit func(lon, lat float64)) {
	switch x := v.(type) {
	case []any:
		if len(x) == 2 {
			lon, lonOK := x[0].(float64)
			lat, latOK := x[1].(float64)
			if lonOK && latOK && lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90 {
				emit(lon, lat)
				return
			}
		}
		for _, item := range x {
			extractCoords(item, emit)
		}
	case map[string]any:
		if features, ok := x["features"]; ok {
			extractCoords(features, emit)
		}
		if geometry, ok := x["geometry"]; ok {
			extractCoords(geometry, emit)
		}
		if coordinates, ok := x["coordinates"]; ok {
			extractCoords(coordinates, emit)
		}
	}
}

// Polygon collects every coordinate ring in a region's GeoJSON and returns
// the one with the most vertices as an orb.Ring suitable for point-in-polygon
// tests. Multi-polygon regions (provinces with island exclaves) are reduced
// to that single ring; the other rings are not tested.
func Polygon(raw json.RawMessage) (orb.Ring, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal geojson: %w", err)
	}

	var rings []orb.Ring
	collectRings(v, &rings)
	if len(rings) == 0 {
		return nil, fmt.Errorf("no rings found in geojson")
	}

	best := rings[0]
	for _, r := range rings[1:] {
		if len(r) > len(best) {
			best = r
		}
	}
	return best, nil
}

func collectRings(v any, out *[]orb.Ring) {
	switch x := v.(type) {
	case []any:
		if ring, ok := asRing(x); ok {
			*out = append(*out, ring)
			return
		}
		for _, item := range x {
			collectRings(item, out)
		}
	case map[string]any:
		if features, ok := x["features"]; ok {
			collectRings(features, out)
		}
		if geometry, ok := x["geometry"]; ok {
			collectRings(geometry, out)
		}
		if coordinates, ok := x["coordinates"]; ok {
			collectRings(coordinates, out)
		}
	}
}

// asRing reports whether arr is a flat array of [lon,lat] pairs (a single
// linear ring), as opposed to a deeper nesting that needs more recursion.
func asRing(arr []any) (orb.Ring, bool) {
	ring := make(orb.Ring, 0, len(arr))
	for _, item := range arr {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, false
		}
		lon, lonOK := pair[0].(float64)
		lat, latOK := pair[1].(float64)
		if !lonOK || !latOK {
			return nil, false
		}
		ring = append(ring, orb.Point{lon, lat})
	}
	if len(ring) < 3 {
		return nil, false
	}
	return ring, true
}

// Contains reports whether (lon, lat) lies within the polygon ring.
func Contains(ring orb.Ring, lon, lat float64) bool {
	return planar.RingContains(ring, orb.Point{lon, lat})
}
