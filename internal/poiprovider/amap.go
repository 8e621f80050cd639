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
	amapAPIURL   = "https://restapi.amap.com/v3/place/text"
	amapPageSize = 25
)

// overrideAmapURL lets tests redirect to a local httptest server.
var overrideAmapURL string

func amapURL() string {
	if overrideAmapURL != "" {
		return overrideAmapURL
	}
	return amapAPIURL
}

// AmapAdapter is grounded on collectors/amap.rs.
type AmapAdapter struct {
	apiKey string
	region Region
	client *http.Client
}

func NewAmap() *AmapAdapter {
	return &AmapAdapter{client: &http.Client{Timeout: 30 * time.Second}}
}

func (a *AmapAdapter) Platform() string      { return "amap" }
func (a *AmapAdapter) SetAPIKey(key string)  { a.apiKey = key }
func (a *AmapAdapter) SetRegion(r Region)    { a.region = r }

func (a *AmapAdapter) Search(ctx context.Context, keyword string, page int, categoryName, categoryID string) ([]POI, bool, error) {
	if a.region.CityCode == "" && a.region.Name == "" {
		return nil, false, newErr(a.Platform(), KindOther, "region not set")
	}

	q := url.Values{}
	q.Set("key", a.apiKey)
	q.Set("keywords", keyword)
	q.Set("city", a.region.CityCode)
	q.Set("citylimit", "true")
	q.Set("offset", strconv.Itoa(amapPageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("extensions", "all")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, amapURL()+"?"+q.Encode(), nil)
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
		Status   string `json:"status"`
		Infocode string `json:"infocode"`
		Count    string `json:"count"`
		Pois     []map[string]any `json:"pois"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, false, newErr(a.Platform(), KindDecode, "decode response: %w", err)
	}

	if data.Status != "1" {
		if isAmapQuotaError(data.Infocode) {
			return nil, false, newErr(a.Platform(), KindQuota, "quota exhausted (infocode %s)", data.Infocode)
		}
		return nil, false, nil
	}

	total, _ := strconv.ParseInt(data.Count, 10, 64)

	var parsed []POI
	for _, raw := range data.Pois {
		if p, ok := a.parsePOI(raw, categoryName, categoryID); ok {
			parsed = append(parsed, p)
		}
	}

	hasMore := int64(page)*amapPageSize < total && len(data.Pois) >= amapPageSize
	return parsed, hasMore, nil
}

func isAmapQuotaError(infocode string) bool {
	switch infocode {
	case "10003", "10004", "10005", "10009", "10044":
		return true
	default:
		return false
	}
}

func (a *AmapAdapter) parsePOI(raw map[string]any, category, categoryID string) (POI, bool) {
	loc, _ := raw["location"].(string)
	parts := strings.SplitN(loc, ",", 2)
	if len(parts) != 2 {
		return POI{}, false
	}
	gcjLon, err1 := strconv.ParseFloat(parts[0], 64)
	gcjLat, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return POI{}, false
	}

	wgsLon, wgsLat := coords.AmapToWGS84(gcjLon, gcjLat)
	if !a.region.Accepts(wgsLon, wgsLat) {
		return POI{}, false
	}

	name, _ := raw["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return POI{}, false
	}

	address, _ := raw["address"].(string)
	phone, _ := raw["tel"].(string)
	rawJSON, _ := json.Marshal(raw)

	return POI{
		Platform:    a.Platform(),
		Name:        name,
		Lon:         wgsLon,
		Lat:         wgsLat,
		OriginalLon: gcjLon,
		OriginalLat: gcjLat,
		Category:    category,
		CategoryID:  categoryID,
		Address:     address,
		Phone:       phone,
		RawData:     string(rawJSON),
	}, true
}
