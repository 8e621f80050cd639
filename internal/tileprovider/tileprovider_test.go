package tileprovider

import (
	"strings"
	"testing"

	"github.com/chenqi92/poi-collector/internal/tile"
)

func TestTiandituRequiresKey(t *testing.T) {
	p := NewTianditu()
	if _, ok := p.TileURL(5, 1, 1, tile.MapTypeStreet); ok {
		t.Errorf("expected no URL without an API key")
	}
	p.SetAPIKey("secret")
	url, ok := p.TileURL(5, 1, 1, tile.MapTypeStreet)
	if !ok || !strings.Contains(url, "tk=secret") {
		t.Errorf("expected URL containing tk=secret, got %q ok=%v", url, ok)
	}
}

func TestTencentFlipsY(t *testing.T) {
	p := NewTencent()
	url, ok := p.TileURL(10, 5, 5, tile.MapTypeStreet)
	if !ok {
		t.Fatal("expected a URL")
	}
	wantY := tile.TMSFlip(10, 5)
	if !strings.Contains(url, "y="+itoa(wantY)) {
		t.Errorf("expected flipped y=%d in %q", wantY, url)
	}
}

func TestBingQuadkeyInURL(t *testing.T) {
	p := NewBing()
	url, ok := p.TileURL(3, 3, 5, tile.MapTypeStreet)
	if !ok {
		t.Fatal("expected a URL")
	}
	qk := tile.Quadkey(3, 3, 5)
	if !strings.Contains(url, qk) {
		t.Errorf("expected quadkey %q in %q", qk, url)
	}
}

func TestUnsupportedMapTypeReturnsNone(t *testing.T) {
	p := NewOSM()
	if _, ok := p.TileURL(5, 1, 1, tile.MapTypeSatellite); ok {
		t.Errorf("OSM does not support satellite, expected ok=false")
	}
}

func TestCreateUnknownDefaultsToOSM(t *testing.T) {
	p := Create("does-not-exist", "")
	if p.ID() != "osm" {
		t.Errorf("expected osm fallback, got %q", p.ID())
	}
}

func TestAllListsEightPlatforms(t *testing.T) {
	if got := len(All()); got != 8 {
		t.Errorf("expected 8 platforms, got %d", got)
	}
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
