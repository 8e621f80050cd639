package boundary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sampleGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {},
      "geometry": {
        "type": "Polygon",
        "coordinates": [[[116.0,39.0],[117.0,39.0],[117.0,40.0],[116.0,40.0],[116.0,39.0]]]
      }
    }
  ]
}`

func TestGetRegionBoundaryUsesFullSuffixForShortCodes(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(sampleGeoJSON))
	}))
	defer srv.Close()

	s := New()
	s.client = srv.Client()
	overrideBaseURL(t, srv.URL+"/")

	if _, err := s.GetRegionBoundary(context.Background(), "1100"); err != nil {
		t.Fatalf("GetRegionBoundary: %v", err)
	}
	if !strings.HasSuffix(gotPath, "1100_full.json") {
		t.Errorf("expected _full.json suffix for 4-char code, got %q", gotPath)
	}

	if _, err := s.GetRegionBoundary(context.Background(), "110105"); err != nil {
		t.Fatalf("GetRegionBoundary: %v", err)
	}
	if !strings.HasSuffix(gotPath, "110105.json") || strings.Contains(gotPath, "_full") {
		t.Errorf("expected plain .json suffix for 6-char code, got %q", gotPath)
	}
}

func TestGetRegionBoundaryCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(sampleGeoJSON))
	}))
	defer srv.Close()

	s := New()
	s.client = srv.Client()
	overrideBaseURL(t, srv.URL+"/")

	for i := 0; i < 3; i++ {
		if _, err := s.GetRegionBoundary(context.Background(), "1100"); err != nil {
			t.Fatalf("GetRegionBoundary iteration %d: %v", i, err)
		}
	}
	if hits != 1 {
		t.Errorf("expected exactly 1 upstream fetch due to caching, got %d", hits)
	}

	s.ClearCache()
	if _, err := s.GetRegionBoundary(context.Background(), "1100"); err != nil {
		t.Fatalf("GetRegionBoundary after ClearCache: %v", err)
	}
	if hits != 2 {
		t.Errorf("expected a re-fetch after ClearCache, got %d hits", hits)
	}
}

func TestExtractBoundsFromFeatureCollection(t *testing.T) {
	b := extractBounds([]byte(sampleGeoJSON))
	if b.North != 40 || b.South != 39 || b.East != 117 || b.West != 116 {
		t.Errorf("got %+v, want N40 S39 E117 W116", b)
	}
}

func TestPolygonContains(t *testing.T) {
	ring, err := Polygon([]byte(sampleGeoJSON))
	if err != nil {
		t.Fatalf("Polygon: %v", err)
	}
	if !Contains(ring, 116.5, 39.5) {
		t.Error("expected point inside the square ring to be contained")
	}
	if Contains(ring, 200, 200) {
		t.Error("expected far-outside point to be rejected")
	}
}

// overrideBaseURL swaps testBaseURL for the duration of a test.
func overrideBaseURL(t *testing.T, url string) {
	t.Helper()
	prev := testBaseURL
	testBaseURL = url
	t.Cleanup(func() { testBaseURL = prev })
}
