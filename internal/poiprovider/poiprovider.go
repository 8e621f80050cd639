// Package poiprovider implements the four POI search adapters from
// SPEC_FULL.md §4.3 (Tianditu, Amap, Baidu, OSM/Overpass). Grounded
// file-for-file on original_source/src-tauri/src/collectors/{tianditu,amap,
// baidu,osm}.rs.
package poiprovider

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/chenqi92/poi-collector/internal/boundary"
	"github.com/chenqi92/poi-collector/internal/coords"
)

// Kind classifies a provider-level failure so callers can decide whether to
// retry, rotate keys, or abort the run.
type Kind int

const (
	KindOther Kind = iota
	KindNetwork
	KindDecode
	KindQuota
	KindRateLimited
)

// ProviderError is returned by Adapter.Search for any non-success path.
type ProviderError struct {
	Platform string
	Kind     Kind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Platform, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newErr(platform string, kind Kind, format string, args ...any) *ProviderError {
	return &ProviderError{Platform: platform, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Region scopes a collection run: a bounding box plus provider-specific
// hints (Amap wants a city code, Tianditu folds the name into the keyword,
// Baidu passes it as its region parameter; OSM queries by bounding box only).
// Polygon, when set, narrows acceptance from the bounding box down to the
// region's actual administrative outline (populated only when exactly one
// region code was selected — a union of rings across several codes wouldn't
// mean "inside any of them" without a multi-ring contains test, so
// multi-code selections fall back to the bounding box alone).
type Region struct {
	Name     string
	CityCode string
	Bounds   coords.Bounds
	Polygon  orb.Ring
}

// Accepts reports whether (lon, lat) falls inside the region: first the
// bounding box (an empty/invalid Bounds accepts everything, matching the
// "rely on provider filtering" fallback), then, when Polygon is set, the
// tighter point-in-polygon test against the administrative outline.
func (r Region) Accepts(lon, lat float64) bool {
	if r.Bounds.Valid() && !r.Bounds.Contains(lon, lat) {
		return false
	}
	if len(r.Polygon) > 0 && !boundary.Contains(r.Polygon, lon, lat) {
		return false
	}
	return true
}

// POI is a single parsed result, independent of originating datum — Lon/Lat
// are always WGS84; OriginalLon/OriginalLat preserve what the provider sent
// before conversion (GCJ02 for amap, BD09 for baidu, already-WGS84 for
// tianditu/osm).
type POI struct {
	Platform     string
	Name         string
	Lon, Lat     float64
	OriginalLon  float64
	OriginalLat  float64
	Category     string
	CategoryID   string
	Address      string
	Phone        string
	RawData      string
}

// Adapter is the common contract for all four providers.
type Adapter interface {
	Platform() string
	SetAPIKey(key string)
	SetRegion(r Region)
	Search(ctx context.Context, keyword string, page int, categoryName, categoryID string) (records []POI, hasMore bool, err error)
}

// Create returns the adapter for platform, or nil if unknown.
func Create(platform string) Adapter {
	switch platform {
	case "tianditu":
		return NewTianditu()
	case "amap":
		return NewAmap()
	case "baidu":
		return NewBaidu()
	case "osm":
		return NewOSM()
	default:
		return nil
	}
}
