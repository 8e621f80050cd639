package poiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	overpass "github.com/MeKo-Christian/go-overpass"
)

// osmEndpoints mirrors the original's mirror-failover order: try each in
// turn, falling through on non-2xx or transport error.
var osmEndpoints = []string{
	"https://overpass.kumi.systems/api/interpreter",
	"https://maps.mail.ru/osm/tools/overpass/api/interpreter",
	"https://overpass-api.de/api/interpreter",
	"https://overpass.openstreetmap.ru/api/interpreter",
}

// osmCategoryKeys is the tag precedence used to derive a single category
// string from an OSM element's tags, matching get_osm_category in osm.rs.
var osmCategoryKeys = []string{"amenity", "shop", "tourism", "leisure", "building", "landuse", "highway"}

// OSMAdapter is grounded on collectors/osm.rs, re-expressed against
// github.com/MeKo-Christian/go-overpass instead of hand-rolled HTTP+JSON.
// OSM needs no API key and returns all results on page 1; every later page
// request is answered with an empty, no-more-pages result.
type OSMAdapter struct {
	region Region
}

func NewOSM() *OSMAdapter { return &OSMAdapter{} }

func (a *OSMAdapter) Platform() string   { return "osm" }
func (a *OSMAdapter) SetAPIKey(string)   {}
func (a *OSMAdapter) SetRegion(r Region) { a.region = r }

func (a *OSMAdapter) Search(ctx context.Context, keyword string, page int, categoryName, categoryID string) ([]POI, bool, error) {
	if !a.region.Bounds.Valid() {
		return nil, false, newErr(a.Platform(), KindOther, "region not set")
	}
	if page > 1 {
		return nil, false, nil
	}
	b := a.region.Bounds

	safeKeyword := strings.ReplaceAll(keyword, `"`, "")
	query := fmt.Sprintf(
		`[out:json][timeout:30];
(
  node["name"~"%s",i](%v,%v,%v,%v);
  way["name"~"%s",i](%v,%v,%v,%v);
  relation["name"~"%s",i](%v,%v,%v,%v);
);
out center body;
`,
		safeKeyword, b.South, b.West, b.North, b.East,
		safeKeyword, b.South, b.West, b.North, b.East,
		safeKeyword, b.South, b.West, b.North, b.East,
	)

	var (
		result overpass.Result
		err    error
		lastErr error
	)
	for _, endpoint := range osmEndpoints {
		retry := overpass.DefaultRetryConfig()
		client := overpass.NewWithRetry(endpoint, 2, http.DefaultClient, retry)
		result, err = client.Query(query)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = fmt.Errorf("%s: %w", endpoint, err)
	}
	if lastErr != nil {
		return nil, false, newErr(a.Platform(), KindNetwork, "all overpass mirrors failed: %w", lastErr)
	}

	var pois []POI
	for _, n := range result.Nodes {
		if p, ok := a.parseElement("node", n.ID, n.Lat, n.Lon, n.Tags, categoryName, categoryID); ok {
			pois = append(pois, p)
		}
	}
	for _, w := range result.Ways {
		lat, lon, ok := wayCentroid(w)
		if !ok {
			continue
		}
		if p, ok := a.parseElement("way", w.ID, lat, lon, w.Tags, categoryName, categoryID); ok {
			pois = append(pois, p)
		}
	}
	for _, r := range result.Relations {
		lat, lon, ok := relationCentroid(r)
		if !ok {
			continue
		}
		if p, ok := a.parseElement("relation", r.ID, lat, lon, r.Tags, categoryName, categoryID); ok {
			pois = append(pois, p)
		}
	}

	return pois, false, nil
}

func wayCentroid(w *overpass.Way) (lat, lon float64, ok bool) {
	if len(w.Nodes) == 0 {
		return 0, 0, false
	}
	var sumLat, sumLon float64
	for _, n := range w.Nodes {
		sumLat += n.Lat
		sumLon += n.Lon
	}
	n := float64(len(w.Nodes))
	return sumLat / n, sumLon / n, true
}

func relationCentroid(r *overpass.Relation) (lat, lon float64, ok bool) {
	var sumLat, sumLon float64
	var count int
	for _, m := range r.Members {
		switch {
		case m.Node != nil:
			sumLat += m.Node.Lat
			sumLon += m.Node.Lon
			count++
		case m.Way != nil:
			if wLat, wLon, wOK := wayCentroid(m.Way); wOK {
				sumLat += wLat
				sumLon += wLon
				count++
			}
		}
	}
	if count == 0 {
		return 0, 0, false
	}
	return sumLat / float64(count), sumLon / float64(count), true
}

func (a *OSMAdapter) parseElement(elemType string, id int64, lat, lon float64, tags map[string]string, categoryName, categoryID string) (POI, bool) {
	name := strings.TrimSpace(tags["name"])
	if name == "" {
		return POI{}, false
	}
	if !a.region.Accepts(lon, lat) {
		return POI{}, false
	}

	address := a.buildAddress(tags)
	phone := tags["phone"]
	if phone == "" {
		phone = tags["contact:phone"]
	}
	osmCategory := osmCategory(tags)

	raw, _ := json.Marshal(map[string]any{"id": id, "type": elemType, "osm_category": osmCategory})

	return POI{
		Platform:    a.Platform(),
		Name:        name,
		Lon:         lon,
		Lat:         lat,
		OriginalLon: lon,
		OriginalLat: lat,
		Category:    categoryName,
		CategoryID:  categoryID,
		Address:     address,
		Phone:       phone,
		RawData:     string(raw),
	}, true
}

func (a *OSMAdapter) buildAddress(tags map[string]string) string {
	var parts []string
	parts = append(parts, a.region.Name)

	if street, ok := tags["addr:street"]; ok {
		if housenumber, ok := tags["addr:housenumber"]; ok {
			parts = append(parts, street+housenumber)
		} else {
			parts = append(parts, street)
		}
	}

	if full, ok := tags["addr:full"]; ok {
		already := false
		for _, p := range parts {
			if strings.Contains(full, p) {
				already = true
				break
			}
		}
		if !already {
			parts = append(parts, full)
		}
	}

	return strings.Join(parts, "")
}

func osmCategory(tags map[string]string) string {
	for _, key := range osmCategoryKeys {
		if v, ok := tags[key]; ok {
			return key + "=" + v
		}
	}
	return "unknown"
}
