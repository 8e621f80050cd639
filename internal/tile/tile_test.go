package tile

import "testing"

func TestEnumerateCompleteness(t *testing.T) {
	b := Bounds{North: 39.95, South: 39.90, East: 116.45, West: 116.40}
	for z := uint32(1); z <= 16; z++ {
		coords := EnumerateZoom(b, z)
		xMin, xMax, yMin, yMax := rangesForZoom(b, z)
		want := int(xMax-xMin+1) * int(yMax-yMin+1)
		if len(coords) != want {
			t.Fatalf("z=%d: got %d tiles, want %d", z, len(coords), want)
		}
		n := uint32(1) << z
		for _, c := range coords {
			if c.X >= n || c.Y >= n {
				t.Fatalf("z=%d: coord %+v out of range [0,%d)", z, c, n)
			}
		}
	}
}

// TestS1TileEnumeration is scenario S1 from SPEC_FULL.md §8.
func TestS1TileEnumeration(t *testing.T) {
	b := Bounds{North: 39.95, South: 39.90, East: 116.45, West: 116.40}
	coords := EnumerateZoom(b, 14)
	if len(coords) != 12 {
		t.Fatalf("got %d tiles, want 12", len(coords))
	}
	seen := map[Coord]bool{}
	for _, c := range coords {
		seen[c] = true
	}
	// x spans 13489..13491 and y spans 6205..6208 at z=14.
	for x := uint32(13489); x <= 13491; x++ {
		for y := uint32(6205); y <= 6208; y++ {
			if want := (Coord{Z: 14, X: x, Y: y}); !seen[want] {
				t.Errorf("missing expected tile %+v", want)
			}
		}
	}
}

func TestQuadkeyRoundTrip(t *testing.T) {
	for z := uint32(1); z <= 20; z++ {
		n := uint32(1) << z
		xs := []uint32{0, n / 2, n - 1}
		ys := []uint32{0, n / 3, n - 1}
		for _, x := range xs {
			for _, y := range ys {
				qk := Quadkey(z, x, y)
				gz, gx, gy := QuadkeyDecode(qk)
				if gz != z || gx != x || gy != y {
					t.Errorf("quadkey round trip failed for (%d,%d,%d): got (%d,%d,%d)", z, x, y, gz, gx, gy)
				}
			}
		}
	}
}

func TestTMSFlipRoundTrip(t *testing.T) {
	for z := uint32(1); z <= 18; z++ {
		n := uint32(1) << z
		for _, y := range []uint32{0, n / 2, n - 1} {
			if got := TMSFlip(z, TMSFlip(z, y)); got != y {
				t.Errorf("z=%d y=%d: TMSFlip(TMSFlip(y)) = %d", z, y, got)
			}
		}
	}
}

// TestS3TiledbYFlip is scenario S3 from SPEC_FULL.md §8.
func TestS3TiledbYFlip(t *testing.T) {
	if got := TMSFlip(10, 300); got != 723 {
		t.Errorf("TMSFlip(10,300) = %d, want 723", got)
	}
}

func TestProprietaryOrigin(t *testing.T) {
	z := uint32(10)
	half := int64(1) << (z - 1)
	x, y := ProprietaryOrigin(z, uint32(half), uint32(half))
	if x != 0 || y != -1 {
		t.Errorf("ProprietaryOrigin at center = (%d,%d), want (0,-1)", x, y)
	}
}

func TestEstimateTiles(t *testing.T) {
	b := Bounds{North: 39.95, South: 39.90, East: 116.45, West: 116.40}
	est := EstimateTiles(b, []uint32{14})
	if est.TotalTiles != 12 {
		t.Fatalf("got %d total tiles, want 12", est.TotalTiles)
	}
	wantMB := float64(12) * 20.0 / 1024.0
	if est.EstimatedSizeMB != wantMB {
		t.Errorf("got %v MB, want %v", est.EstimatedSizeMB, wantMB)
	}
}
