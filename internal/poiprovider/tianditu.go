package poiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	tiandituAPIURL   = "http://api.tianditu.gov.cn/v2/search"
	tiandituPageSize = 100
	tiandituLevel    = 12
)

// overrideTiandituURL lets tests redirect to a local httptest server.
var overrideTiandituURL string

func tiandituURL() string {
	if overrideTiandituURL != "" {
		return overrideTiandituURL
	}
	return tiandituAPIURL
}

type tiandituSearchParams struct {
	Keyword  string `json:"keyWord"`
	Level    int    `json:"level"`
	MapBound string `json:"mapBound"`
	QueryType int   `json:"queryType"`
	Start    int    `json:"start"`
	Count    int    `json:"count"`
}

// TiandituAdapter is grounded on collectors/tianditu.rs.
type TiandituAdapter struct {
	apiKey string
	region Region
	client *http.Client
}

func NewTianditu() *TiandituAdapter {
	return &TiandituAdapter{client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *TiandituAdapter) Platform() string     { return "tianditu" }
func (a *TiandituAdapter) SetAPIKey(key string) { a.apiKey = key }
func (a *TiandituAdapter) SetRegion(r Region)   { a.region = r }

func (a *TiandituAdapter) Search(ctx context.Context, keyword string, page int, categoryName, categoryID string) ([]POI, bool, error) {
	if !a.region.Bounds.Valid() {
		return nil, false, newErr(a.Platform(), KindOther, "region not set")
	}
	b := a.region.Bounds

	params := tiandituSearchParams{
		Keyword:   a.region.Name + " " + keyword,
		Level:     tiandituLevel,
		MapBound:  fmt.Sprintf("%v,%v,%v,%v", b.West, b.South, b.East, b.North),
		QueryType: 1,
		Start:     (page - 1) * tiandituPageSize,
		Count:     tiandituPageSize,
	}
	postStr, err := json.Marshal(params)
	if err != nil {
		return nil, false, newErr(a.Platform(), KindOther, "marshal params: %w", err)
	}

	q := url.Values{}
	q.Set("postStr", string(postStr))
	q.Set("type", "query")
	q.Set("tk", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tiandituURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, newErr(a.Platform(), KindOther, "build request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, false, newErr(a.Platform(), KindNetwork, "request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, false, newErr(a.Platform(), KindRateLimited, "rate limited (429)")
	}

	var data struct {
		Status struct {
			Infocode int `json:"infocode"`
		} `json:"status"`
		Pois []map[string]any `json:"pois"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, false, newErr(a.Platform(), KindDecode, "decode response: %w", err)
	}

	if data.Status.Infocode != 1000 {
		if isTiandituQuotaError(data.Status.Infocode) {
			return nil, false, newErr(a.Platform(), KindQuota, "quota exhausted (infocode %d)", data.Status.Infocode)
		}
		return nil, false, nil
	}

	var parsed []POI
	for _, raw := range data.Pois {
		if p, ok := a.parsePOI(raw, categoryName, categoryID); ok {
			parsed = append(parsed, p)
		}
	}

	hasMore := len(data.Pois) >= tiandituPageSize
	return parsed, hasMore, nil
}

func isTiandituQuotaError(infocode int) bool {
	switch infocode {
	case 10001, 10002, 10003:
		return true
	default:
		return false
	}
}

func (a *TiandituAdapter) parsePOI(raw map[string]any, category, categoryID string) (POI, bool) {
	lonlat, _ := raw["lonlat"].(string)
	parts := strings.SplitN(lonlat, ",", 2)
	if len(parts) != 2 {
		return POI{}, false
	}
	lon, err1 := strconv.ParseFloat(parts[0], 64)
	lat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return POI{}, false
	}

	if !a.region.Accepts(lon, lat) {
		return POI{}, false
	}

	name, _ := raw["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return POI{}, false
	}

	address, _ := raw["address"].(string)
	phone, _ := raw["phone"].(string)
	rawJSON, _ := json.Marshal(raw)

	return POI{
		Platform:    a.Platform(),
		Name:        name,
		Lon:         lon,
		Lat:         lat,
		OriginalLon: lon,
		OriginalLat: lat,
		Category:    category,
		CategoryID:  categoryID,
		Address:     address,
		Phone:       phone,
		RawData:     string(rawJSON),
	}, true
}
