// Package tile holds the shared Web-Mercator tile types and math used by
// the tile provider adapters, storage writers, and the download engine:
// Coord, zoom-level enumeration (SPEC_FULL.md §4.8), TMS Y-flip, and
// quadkey encoding (§4.4).
package tile

import "math"

// Coord is a Web-Mercator XYZ tile coordinate. x, y are in [0, 2^z).
type Coord struct {
	Z, X, Y uint32
}

// MapType is the rendering style requested from a tile platform.
type MapType string

const (
	MapTypeStreet     MapType = "street"
	MapTypeSatellite  MapType = "satellite"
	MapTypeHybrid     MapType = "hybrid"
	MapTypeTerrain    MapType = "terrain"
	MapTypeRoadnet    MapType = "roadnet"
	MapTypeAnnotation MapType = "annotation"
)

// OutputFormat selects a tilestorage.Writer implementation.
type OutputFormat string

const (
	OutputFolder  OutputFormat = "folder"
	OutputTiledb  OutputFormat = "tiledb"
	OutputArchive OutputFormat = "archive"
)

// Bounds is a WGS84 bounding box (duplicated in shape from coords.Bounds so
// this leaf package has no dependency on internal/coords).
type Bounds struct {
	North, South, East, West float64
}

// Range is the inclusive [min,max] tile index range for one axis at one zoom.
type Range struct {
	Min, Max uint32
}

// EnumerateZoom returns every tile coordinate covering b at zoom z, per the
// formula in SPEC_FULL.md §4.8.
func EnumerateZoom(b Bounds, z uint32) []Coord {
	xMin, xMax, yMin, yMax := rangesForZoom(b, z)
	coords := make([]Coord, 0, int(xMax-xMin+1)*int(yMax-yMin+1))
	for x := xMin; x <= xMax; x++ {
		for y := yMin; y <= yMax; y++ {
			coords = append(coords, Coord{Z: z, X: x, Y: y})
		}
	}
	return coords
}

// Enumerate returns every tile coordinate covering b across all of zooms.
func Enumerate(b Bounds, zooms []uint32) []Coord {
	var all []Coord
	for _, z := range zooms {
		all = append(all, EnumerateZoom(b, z)...)
	}
	return all
}

// CountZoom returns the tile count at zoom z without allocating the slice.
func CountZoom(b Bounds, z uint32) uint64 {
	xMin, xMax, yMin, yMax := rangesForZoom(b, z)
	return uint64(xMax-xMin+1) * uint64(yMax-yMin+1)
}

func rangesForZoom(b Bounds, z uint32) (xMin, xMax, yMin, yMax uint32) {
	n := float64(uint64(1) << z)
	clamp := func(v float64) uint32 {
		if v < 0 {
			return 0
		}
		max := uint32(n) - 1
		if v > float64(max) {
			return max
		}
		return uint32(v)
	}
	xMin = clamp(math.Floor((b.West + 180.0) / 360.0 * n))
	xMax = clamp(math.Floor((b.East + 180.0) / 360.0 * n))
	yMin = clamp(math.Floor((1 - math.Asinh(math.Tan(rad(b.North)))/math.Pi) / 2 * n))
	yMax = clamp(math.Floor((1 - math.Asinh(math.Tan(rad(b.South)))/math.Pi) / 2 * n))
	return
}

func rad(deg float64) float64 { return deg * math.Pi / 180.0 }

// TMSFlip converts between XYZ and TMS Y indexing at zoom z; it is its own
// inverse.
func TMSFlip(z, y uint32) uint32 {
	return (uint32(1)<<z - 1) - y
}

// ProprietaryOrigin converts an XYZ tile coordinate to the equator/prime-
// meridian-origin coordinate system used by one tile platform (§4.4).
func ProprietaryOrigin(z, x, y uint32) (int64, int64) {
	half := int64(1) << (z - 1)
	return int64(x) - half, half - 1 - int64(y)
}

// Quadkey encodes (z,x,y) as a base-4 string, MSB to LSB, bit i contributing
// (x_bit?1:0) + (y_bit?2:0) (§4.4).
func Quadkey(z, x, y uint32) string {
	buf := make([]byte, z)
	for i := uint32(0); i < z; i++ {
		shift := z - 1 - i
		var digit byte
		if (x>>shift)&1 != 0 {
			digit++
		}
		if (y>>shift)&1 != 0 {
			digit += 2
		}
		buf[i] = '0' + digit
	}
	return string(buf)
}

// QuadkeyDecode is the inverse of Quadkey.
func QuadkeyDecode(qk string) (z, x, y uint32) {
	z = uint32(len(qk))
	for i := 0; i < len(qk); i++ {
		digit := qk[i] - '0'
		x <<= 1
		y <<= 1
		if digit&1 != 0 {
			x |= 1
		}
		if digit&2 != 0 {
			y |= 1
		}
	}
	return z, x, y
}

// Estimate summarizes a tile-count calculation for calculate_tiles_count.
type Estimate struct {
	TotalTiles      uint64
	TilesPerLevel   []LevelCount
	EstimatedSizeMB float64
}

// LevelCount pairs a zoom level with its tile count.
type LevelCount struct {
	Zoom  uint32
	Count uint64
}

// EstimateTiles implements calculate_tiles_count (§6): estimated size is
// total*20/1024 (an average-tile-size heuristic carried from the original).
func EstimateTiles(b Bounds, zooms []uint32) Estimate {
	var total uint64
	perLevel := make([]LevelCount, 0, len(zooms))
	for _, z := range zooms {
		c := CountZoom(b, z)
		total += c
		perLevel = append(perLevel, LevelCount{Zoom: z, Count: c})
	}
	return Estimate{
		TotalTiles:      total,
		TilesPerLevel:   perLevel,
		EstimatedSizeMB: float64(total) * 20.0 / 1024.0,
	}
}
