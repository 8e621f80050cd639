package poiprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chenqi92/poi-collector/internal/coords"
)

const (
	baiduAPIURL   = "https://api.map.baidu.com/place/v2/search"
	baiduPageSize = 20
)

// overrideBaiduURL lets tests redirect to a local httptest server.
var overrideBaiduURL string

func baiduURL() string {
	if overrideBaiduURL != "" {
		return overrideBaiduURL
	}
	return baiduAPIURL
}

// BaiduAdapter is grounded on collectors/baidu.rs.
type BaiduAdapter struct {
	apiKey string
	region Region
	client *http.Client
}

func NewBaidu() *BaiduAdapter {
	return &BaiduAdapter{client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *BaiduAdapter) Platform() string     { return "baidu" }
func (a *BaiduAdapter) SetAPIKey(key string) { a.apiKey = key }
func (a *BaiduAdapter) SetRegion(r Region)   { a.region = r }

func (a *BaiduAdapter) Search(ctx context.Context, keyword string, page int, categoryName, categoryID string) ([]POI, bool, error) {
	if a.region.Name == "" {
		return nil, false, newErr(a.Platform(), KindOther, "region not set")
	}

	q := url.Values{}
	q.Set("ak", a.apiKey)
	q.Set("query", keyword)
	q.Set("region", a.region.Name)
	q.Set("city_limit", "true")
	q.Set("output", "json")
	q.Set("page_size", strconv.Itoa(baiduPageSize))
	q.Set("page_num", strconv.Itoa(page-1))
	q.Set("scope", "2")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baiduURL()+"?"+q.Encode(), nil)
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
		Status  int              `json:"status"`
		Total   int64            `json:"total"`
		Results []map[string]any `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, false, newErr(a.Platform(), KindDecode, "decode response: %w", err)
	}

	if data.Status != 0 {
		if isBaiduQuotaError(data.Status) {
			return nil, false, newErr(a.Platform(), KindQuota, "quota exhausted (status %d)", data.Status)
		}
		return nil, false, nil
	}

	var parsed []POI
	for _, raw := range data.Results {
		if p, ok := a.parsePOI(raw, categoryName, categoryID); ok {
			parsed = append(parsed, p)
		}
	}

	hasMore := int64(page)*baiduPageSize < data.Total && len(data.Results) >= baiduPageSize
	return parsed, hasMore, nil
}

func isBaiduQuotaError(status int) bool {
	switch status {
	case 302, 401, 402, 4:
		return true
	default:
		return false
	}
}

func (a *BaiduAdapter) parsePOI(raw map[string]any, category, categoryID string) (POI, bool) {
	loc, _ := raw["location"].(map[string]any)
	if loc == nil {
		return POI{}, false
	}
	bdLon, okLon := loc["lng"].(float64)
	bdLat, okLat := loc["lat"].(float64)
	if !okLon || !okLat {
		return POI{}, false
	}
	if bdLon == 0 || bdLat == 0 {
		return POI{}, false
	}

	wgsLon, wgsLat := coords.BD09ToWGS84(bdLon, bdLat)
	if !a.region.Accepts(wgsLon, wgsLat) {
		return POI{}, false
	}

	name, _ := raw["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return POI{}, false
	}

	address, _ := raw["address"].(string)
	phone, _ := raw["telephone"].(string)
	rawJSON, _ := json.Marshal(raw)

	return POI{
		Platform:    a.Platform(),
		Name:        name,
		Lon:         wgsLon,
		Lat:         wgsLat,
		OriginalLon: bdLon,
		OriginalLat: bdLat,
		Category:    category,
		CategoryID:  categoryID,
		Address:     address,
		Phone:       phone,
		RawData:     string(rawJSON),
	}, true
}
