package region

import "testing"

func TestAllRegionsNonEmpty(t *testing.T) {
	if len(AllRegions()) == 0 {
		t.Fatal("expected a non-empty seed hierarchy")
	}
}

func TestByCode(t *testing.T) {
	r, ok := ByCode("110000")
	if !ok || r.Name != "北京市" || r.Level != LevelProvince {
		t.Fatalf("ByCode(110000) = %+v, %v", r, ok)
	}
	if _, ok := ByCode("999999"); ok {
		t.Error("expected unknown code to miss")
	}
}

func TestChildrenAndLevelFilters(t *testing.T) {
	children := Children("110000")
	if len(children) != 1 || children[0].Code != "110100" {
		t.Errorf("Children(110000) = %+v, want [110100]", children)
	}

	districts := Children("110100")
	if len(districts) != 3 {
		t.Errorf("expected 3 districts under Beijing city, got %d", len(districts))
	}

	if p := Provinces(); len(p) == 0 {
		t.Error("expected at least one province")
	}
	if c := Cities(); len(c) == 0 {
		t.Error("expected at least one city")
	}
	if d := Districts(); len(d) == 0 {
		t.Error("expected at least one district")
	}
	for _, r := range Provinces() {
		if r.Level != LevelProvince {
			t.Errorf("Provinces() returned non-province %+v", r)
		}
	}
}

func TestAllDistrictCodesByLevel(t *testing.T) {
	if got := AllDistrictCodes("110105"); len(got) != 1 || got[0] != "110105" {
		t.Errorf("district self-resolve = %v, want [110105]", got)
	}

	cityDistricts := AllDistrictCodes("440300") // 深圳市
	if len(cityDistricts) != 2 {
		t.Errorf("expected 2 districts under Shenzhen, got %v", cityDistricts)
	}

	provinceDistricts := AllDistrictCodes("440000") // 广东省
	if len(provinceDistricts) != 3 {
		t.Errorf("expected 3 districts across Guangdong's cities, got %v", provinceDistricts)
	}

	if got := AllDistrictCodes("not-a-real-code"); got != nil {
		t.Errorf("expected nil for unknown code, got %v", got)
	}
}

func TestSearchIsSubstringAndCapped(t *testing.T) {
	got := Search("区")
	if len(got) == 0 {
		t.Fatal("expected at least one district name containing 区")
	}
	if len(got) > searchLimit {
		t.Errorf("got %d results, want at most %d", len(got), searchLimit)
	}
	for _, r := range got {
		if r.Level != LevelDistrict {
			t.Errorf("expected only district-level matches for 区, got %+v", r)
		}
	}

	if got := Search("这个名字不存在"); got != nil {
		t.Errorf("expected nil for a query with no matches, got %v", got)
	}
}
