// Package tileprovider implements the tile-URL adapters for the eight
// supported map platforms (SPEC_FULL.md §4.4), grounded file-for-file on
// original_source/src-tauri/src/tile_downloader/platforms/*.rs.
package tileprovider

import (
	"fmt"

	"github.com/chenqi92/poi-collector/internal/tile"
)

// Info describes a platform for the get_tile_platforms command-surface call.
type Info struct {
	ID           string
	Name         string
	Enabled      bool
	MinZoom      uint32
	MaxZoom      uint32
	MapTypes     []tile.MapType
	RequiresKey  bool
}

// Platform is the common contract every tile-URL adapter satisfies.
type Platform interface {
	ID() string
	Name() string
	TileURL(z, x, y uint32, mapType tile.MapType) (string, bool)
	MinZoom() uint32
	MaxZoom() uint32
	SupportedMapTypes() []tile.MapType
	RequiresAPIKey() bool
	SetAPIKey(key string)
	Headers() map[string]string
	Subdomain(x, y uint32) string
	Info() Info
}

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// base centralizes the shared Headers/Subdomain/Info behavior so each
// platform only supplies its own URL template and zoom/map-type table.
type base struct {
	id, name    string
	minZoom     uint32
	maxZoom     uint32
	mapTypes    []tile.MapType
	requiresKey bool
	subdomains  []string
	apiKey      string
}

func (b *base) ID() string                         { return b.id }
func (b *base) Name() string                       { return b.name }
func (b *base) MinZoom() uint32                    { return b.minZoom }
func (b *base) MaxZoom() uint32                    { return b.maxZoom }
func (b *base) SupportedMapTypes() []tile.MapType  { return b.mapTypes }
func (b *base) RequiresAPIKey() bool                { return b.requiresKey }
func (b *base) SetAPIKey(key string)                { b.apiKey = key }

func (b *base) Headers() map[string]string {
	return map[string]string{"User-Agent": browserUserAgent}
}

func (b *base) Subdomain(x, y uint32) string {
	if len(b.subdomains) == 0 {
		return ""
	}
	return b.subdomains[(x+y)%uint32(len(b.subdomains))]
}

func (b *base) Info() Info {
	return Info{
		ID:          b.id,
		Name:        b.name,
		Enabled:     true,
		MinZoom:     b.minZoom,
		MaxZoom:     b.maxZoom,
		MapTypes:    b.mapTypes,
		RequiresKey: b.requiresKey,
	}
}

// Create returns the platform adapter for the given platform id, defaulting
// to OSM for unknown ids (matching the original's create_platform fallback).
func Create(platform string, apiKey string) Platform {
	var p Platform
	switch platform {
	case "google":
		p = NewGoogle()
	case "baidu":
		p = NewBaidu()
	case "amap":
		p = NewAmap()
	case "tencent":
		p = NewTencent()
	case "tianditu":
		p = NewTianditu()
	case "arcgis":
		p = NewArcGis()
	case "bing":
		p = NewBing()
	case "osm":
		p = NewOSM()
	default:
		p = NewOSM()
	}
	if apiKey != "" {
		p.SetAPIKey(apiKey)
	}
	return p
}

// All returns every platform's Info, for get_tile_platforms.
func All() []Info {
	return []Info{
		NewGoogle().Info(),
		NewBaidu().Info(),
		NewAmap().Info(),
		NewTencent().Info(),
		NewTianditu().Info(),
		NewOSM().Info(),
		NewArcGis().Info(),
		NewBing().Info(),
	}
}

// --- Google ---

type googlePlatform struct{ base }

func NewGoogle() *googlePlatform {
	return &googlePlatform{base{
		id: "google", name: "Google Maps",
		minZoom: 0, maxZoom: 21,
		mapTypes:   []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeHybrid, tile.MapTypeTerrain},
		subdomains: []string{"0", "1", "2", "3"},
	}}
}

func (p *googlePlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	var lyrs string
	switch mapType {
	case tile.MapTypeStreet:
		lyrs = "m"
	case tile.MapTypeSatellite:
		lyrs = "s"
	case tile.MapTypeHybrid:
		lyrs = "y"
	case tile.MapTypeTerrain:
		lyrs = "t"
	default:
		return "", false
	}
	s := p.Subdomain(x, y)
	return fmt.Sprintf("https://mt%s.google.com/vt/lyrs=%s&x=%d&y=%d&z=%d", s, lyrs, x, y, z), true
}

// --- Amap ---

type amapPlatform struct{ base }

func NewAmap() *amapPlatform {
	return &amapPlatform{base{
		id: "amap", name: "Amap",
		minZoom: 1, maxZoom: 18,
		mapTypes:   []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeRoadnet},
		subdomains: []string{"1", "2", "3", "4"},
	}}
}

func (p *amapPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	s := p.Subdomain(x, y)
	switch mapType {
	case tile.MapTypeStreet:
		return fmt.Sprintf("http://webrd0%s.is.autonavi.com/appmaptile?lang=zh_cn&size=1&scale=1&style=8&x=%d&y=%d&z=%d", s, x, y, z), true
	case tile.MapTypeSatellite:
		return fmt.Sprintf("http://webst0%s.is.autonavi.com/appmaptile?style=6&x=%d&y=%d&z=%d", s, x, y, z), true
	case tile.MapTypeRoadnet:
		return fmt.Sprintf("http://webst0%s.is.autonavi.com/appmaptile?style=8&x=%d&y=%d&z=%d", s, x, y, z), true
	default:
		return "", false
	}
}

// --- Tencent ---

type tencentPlatform struct{ base }

func NewTencent() *tencentPlatform {
	return &tencentPlatform{base{
		id: "tencent", name: "Tencent Maps",
		minZoom: 1, maxZoom: 18,
		mapTypes:   []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeTerrain},
		subdomains: []string{"0", "1", "2", "3"},
	}}
}

func (p *tencentPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	s := p.Subdomain(x, y)
	flippedY := tile.TMSFlip(z, y)
	switch mapType {
	case tile.MapTypeStreet:
		return fmt.Sprintf("http://rt%s.map.gtimg.com/realtimerender?z=%d&x=%d&y=%d&type=vector&style=0", s, z, x, flippedY), true
	case tile.MapTypeSatellite:
		sx := x >> 4
		sy := flippedY >> 4
		return fmt.Sprintf("http://p%s.map.gtimg.com/sateTiles/%d/%d/%d/%d_%d.jpg", s, z, sx, sy, x, flippedY), true
	case tile.MapTypeTerrain:
		return fmt.Sprintf("http://rt%s.map.gtimg.com/realtimerender?z=%d&x=%d&y=%d&type=vector&style=4", s, z, x, flippedY), true
	default:
		return "", false
	}
}

// --- Tianditu ---

type tiandituPlatform struct{ base }

func NewTianditu() *tiandituPlatform {
	return &tiandituPlatform{base{
		id: "tianditu", name: "Tianditu",
		minZoom: 1, maxZoom: 18, requiresKey: true,
		mapTypes:   []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeTerrain, tile.MapTypeAnnotation},
		subdomains: []string{"0", "1", "2", "3", "4", "5", "6", "7"},
	}}
}

func (p *tiandituPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	if p.apiKey == "" {
		return "", false
	}
	var layer string
	switch mapType {
	case tile.MapTypeStreet:
		layer = "vec"
	case tile.MapTypeSatellite:
		layer = "img"
	case tile.MapTypeTerrain:
		layer = "ter"
	case tile.MapTypeAnnotation:
		layer = "cva"
	default:
		return "", false
	}
	s := p.Subdomain(x, y)
	const style = "default"
	return fmt.Sprintf(
		"http://t%s.tianditu.gov.cn/%s_w/wmts?SERVICE=WMTS&REQUEST=GetTile&VERSION=1.0.0&LAYER=%s&STYLE=%s&TILEMATRIXSET=w&FORMAT=tiles&TILECOL=%d&TILEROW=%d&TILEMATRIX=%d&tk=%s",
		s, layer, layer, style, x, y, z, p.apiKey,
	), true
}

// --- OSM ---

type osmPlatform struct{ base }

func NewOSM() *osmPlatform {
	return &osmPlatform{base{
		id: "osm", name: "OpenStreetMap",
		minZoom: 0, maxZoom: 19,
		mapTypes:   []tile.MapType{tile.MapTypeStreet},
		subdomains: []string{"a", "b", "c"},
	}}
}

func (p *osmPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	if mapType != tile.MapTypeStreet {
		return "", false
	}
	s := p.Subdomain(x, y)
	return fmt.Sprintf("https://%s.tile.openstreetmap.org/%d/%d/%d.png", s, z, x, y), true
}

// --- ArcGIS ---

type arcgisPlatform struct{ base }

func NewArcGis() *arcgisPlatform {
	return &arcgisPlatform{base{
		id: "arcgis", name: "ArcGIS",
		minZoom: 0, maxZoom: 19,
		mapTypes: []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeTerrain},
	}}
}

func (p *arcgisPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	var service string
	switch mapType {
	case tile.MapTypeStreet:
		service = "World_Street_Map"
	case tile.MapTypeSatellite:
		service = "World_Imagery"
	case tile.MapTypeTerrain:
		service = "World_Topo_Map"
	default:
		return "", false
	}
	return fmt.Sprintf("https://server.arcgisonline.com/ArcGIS/rest/services/%s/MapServer/tile/%d/%d/%d", service, z, y, x), true
}

// --- Bing ---

type bingPlatform struct{ base }

func NewBing() *bingPlatform {
	return &bingPlatform{base{
		id: "bing", name: "Bing Maps",
		minZoom: 1, maxZoom: 19,
		mapTypes:   []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeHybrid},
		subdomains: []string{"0", "1", "2", "3"},
	}}
}

func (p *bingPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	s := p.Subdomain(x, y)
	quadkey := tile.Quadkey(z, x, y)
	var urlType, suffix string
	switch mapType {
	case tile.MapTypeStreet:
		urlType, suffix = "r", "png"
	case tile.MapTypeSatellite:
		urlType, suffix = "a", "jpeg"
	case tile.MapTypeHybrid:
		urlType, suffix = "h", "jpeg"
	default:
		return "", false
	}
	return fmt.Sprintf("http://ecn.t%s.tiles.virtualearth.net/tiles/%s%s.%s?g=587", s, urlType, quadkey, suffix), true
}

// --- Baidu ---

type baiduPlatform struct{ base }

func NewBaidu() *baiduPlatform {
	return &baiduPlatform{base{
		id: "baidu", name: "Baidu Maps",
		minZoom: 3, maxZoom: 19,
		mapTypes:   []tile.MapType{tile.MapTypeStreet, tile.MapTypeSatellite, tile.MapTypeRoadnet},
		subdomains: []string{"0", "1", "2", "3"},
	}}
}

func (p *baiduPlatform) TileURL(z, x, y uint32, mapType tile.MapType) (string, bool) {
	s := p.Subdomain(x, y)
	bx, by := tile.ProprietaryOrigin(z, x, y)
	switch mapType {
	case tile.MapTypeStreet:
		return fmt.Sprintf("http://online%s.map.bdimg.com/onlinelabel/?qt=tile&x=%d&y=%d&z=%d&styles=pl&udt=20200101&scaler=1&p=1", s, bx, by, z), true
	case tile.MapTypeSatellite:
		return fmt.Sprintf("http://shangetu%s.map.bdimg.com/it/u=x=%d;y=%d;z=%d;v=009;type=sate&fm=46", s, bx, by, z), true
	case tile.MapTypeRoadnet:
		return fmt.Sprintf("http://online%s.map.bdimg.com/tile/?qt=tile&x=%d&y=%d&z=%d&styles=sl", s, bx, by, z), true
	default:
		return "", false
	}
}
