// Package region serves the administrative-region hierarchy backing the
// region-query command-surface operations (SPEC_FULL.md §9.1 supplement):
// list provinces/cities/districts, walk parent/child relationships, resolve
// a province or city down to its district codes for collection scoping, and
// fuzzy name search. Grounded on
// original_source/src-tauri/src/regions.rs, with the original's
// include_str!+serde_json-at-startup JSON load replaced by a literal Go seed
// table — the original's full gazetteer (resources/regions.json) ships as a
// data file outside original_source's code/build filter and is, per spec.md
// §1, explicitly out of scope; this seed covers the handful of
// municipalities/provinces the rest of the module already references
// (internal/store's region_code backfill allow-list).
package region

import "strings"

// Level mirrors regions.rs's level field: province, city, or district.
type Level string

const (
	LevelProvince Level = "province"
	LevelCity     Level = "city"
	LevelDistrict Level = "district"
)

// Region is one row of the administrative hierarchy.
type Region struct {
	Code       string
	Name       string
	Level      Level
	ParentCode string // empty for a top-level province
}

var seed = []Region{
	{Code: "110000", Name: "北京市", Level: LevelProvince},
	{Code: "110100", Name: "北京市", Level: LevelCity, ParentCode: "110000"},
	{Code: "110101", Name: "东城区", Level: LevelDistrict, ParentCode: "110100"},
	{Code: "110105", Name: "朝阳区", Level: LevelDistrict, ParentCode: "110100"},
	{Code: "110108", Name: "海淀区", Level: LevelDistrict, ParentCode: "110100"},

	{Code: "310000", Name: "上海市", Level: LevelProvince},
	{Code: "310100", Name: "上海市", Level: LevelCity, ParentCode: "310000"},
	{Code: "310104", Name: "徐汇区", Level: LevelDistrict, ParentCode: "310100"},
	{Code: "310115", Name: "浦东新区", Level: LevelDistrict, ParentCode: "310100"},

	{Code: "440000", Name: "广东省", Level: LevelProvince},
	{Code: "440100", Name: "广州市", Level: LevelCity, ParentCode: "440000"},
	{Code: "440106", Name: "天河区", Level: LevelDistrict, ParentCode: "440100"},
	{Code: "440300", Name: "深圳市", Level: LevelCity, ParentCode: "440000"},
	{Code: "440304", Name: "福田区", Level: LevelDistrict, ParentCode: "440300"},
	{Code: "440305", Name: "南山区", Level: LevelDistrict, ParentCode: "440300"},

	{Code: "330000", Name: "浙江省", Level: LevelProvince},
	{Code: "330100", Name: "杭州市", Level: LevelCity, ParentCode: "330000"},
	{Code: "330106", Name: "西湖区", Level: LevelDistrict, ParentCode: "330100"},

	{Code: "320000", Name: "江苏省", Level: LevelProvince},
	{Code: "320100", Name: "南京市", Level: LevelCity, ParentCode: "320000"},
	{Code: "320104", Name: "玄武区", Level: LevelDistrict, ParentCode: "320100"},

	{Code: "510000", Name: "四川省", Level: LevelProvince},
	{Code: "510100", Name: "成都市", Level: LevelCity, ParentCode: "510000"},
	{Code: "510104", Name: "锦江区", Level: LevelDistrict, ParentCode: "510100"},

	{Code: "420000", Name: "湖北省", Level: LevelProvince},
	{Code: "420100", Name: "武汉市", Level: LevelCity, ParentCode: "420000"},
	{Code: "420102", Name: "江岸区", Level: LevelDistrict, ParentCode: "420100"},
}

var (
	byCode        map[string]Region
	childrenByPar map[string][]Region
)

func init() {
	byCode = make(map[string]Region, len(seed))
	childrenByPar = make(map[string][]Region)
	for _, r := range seed {
		byCode[r.Code] = r
		if r.ParentCode != "" {
			childrenByPar[r.ParentCode] = append(childrenByPar[r.ParentCode], r)
		}
	}
}

// AllRegions returns the full seed hierarchy.
func AllRegions() []Region { return seed }

// ByCode looks up one region by its code.
func ByCode(code string) (Region, bool) {
	r, ok := byCode[code]
	return r, ok
}

// Children returns parentCode's direct children, in seed order.
func Children(parentCode string) []Region {
	return childrenByPar[parentCode]
}

func byLevel(level Level) []Region {
	var out []Region
	for _, r := range seed {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

func Provinces() []Region { return byLevel(LevelProvince) }
func Cities() []Region    { return byLevel(LevelCity) }
func Districts() []Region { return byLevel(LevelDistrict) }

// AllDistrictCodes resolves code down to the district codes it covers: a
// district resolves to itself, a city to its district children, a province
// to every district under each of its cities.
func AllDistrictCodes(code string) []string {
	r, ok := ByCode(code)
	if !ok {
		return nil
	}
	switch r.Level {
	case LevelDistrict:
		return []string{code}
	case LevelCity:
		var out []string
		for _, child := range Children(code) {
			if child.Level == LevelDistrict {
				out = append(out, child.Code)
			}
		}
		return out
	case LevelProvince:
		var out []string
		for _, city := range Children(code) {
			if city.Level != LevelCity {
				continue
			}
			for _, district := range Children(city.Code) {
				if district.Level == LevelDistrict {
					out = append(out, district.Code)
				}
			}
		}
		return out
	default:
		return nil
	}
}

const searchLimit = 50

// Search fuzzy-matches region names by substring, capped at searchLimit
// results, matching the original's take(50).
func Search(query string) []Region {
	var out []Region
	for _, r := range seed {
		if strings.Contains(r.Name, query) {
			out = append(out, r)
			if len(out) >= searchLimit {
				break
			}
		}
	}
	return out
}
