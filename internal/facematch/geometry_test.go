package facematch

import "testing"

func TestBoxFromCorners(t *testing.T) {
	tests := []struct {
		name   string
		bbox   []float64
		want   Box
		wantOK bool
	}{
		{"valid", []float64{10, 20, 60, 100}, Box{X: 10, Y: 20, W: 50, H: 80}, true},
		{"too short", []float64{10, 20, 60}, Box{}, false},
		{"empty", nil, Box{}, false},
		{"zero width", []float64{10, 20, 10, 100}, Box{}, false},
		{"inverted", []float64{60, 100, 10, 20}, Box{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BoxFromCorners(tt.bbox)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBoxCenterAndArea(t *testing.T) {
	b := Box{X: 10, Y: 20, W: 40, H: 60}
	cx, cy := b.Center()
	if cx != 30 || cy != 50 {
		t.Errorf("Center = (%v, %v), want (30, 50)", cx, cy)
	}
	if b.Area() != 2400 {
		t.Errorf("Area = %v, want 2400", b.Area())
	}
}

func TestCellKey(t *testing.T) {
	tests := []struct {
		name string
		x, y float64
		cell float64
		want string
	}{
		{"origin", 0, 0, 50, "0_0"},
		{"inside first cell", 49.9, 49.9, 50, "0_0"},
		{"cell boundary", 50, 50, 50, "1_1"},
		{"negative floors down", -1, -1, 50, "-1_-1"},
		{"zero cell falls back", 3.7, 2.2, 0, "3_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CellKey(tt.x, tt.y, tt.cell); got != tt.want {
				t.Errorf("CellKey(%v, %v, %v) = %q, want %q", tt.x, tt.y, tt.cell, got, tt.want)
			}
		})
	}
}

func TestCenterKey_SameCellForNearbyBoxes(t *testing.T) {
	a := Box{X: 100, Y: 100, W: 40, H: 40} // center 120,120
	b := Box{X: 105, Y: 110, W: 30, H: 30} // center 120,125
	if a.CenterKey(50) != b.CenterKey(50) {
		t.Errorf("expected same key, got %q and %q", a.CenterKey(50), b.CenterKey(50))
	}

	c := Box{X: 200, Y: 100, W: 40, H: 40} // center 220,120
	if a.CenterKey(50) == c.CenterKey(50) {
		t.Errorf("expected different keys, both %q", a.CenterKey(50))
	}
}

func TestOriginKey(t *testing.T) {
	b := Box{X: 41, Y: 19, W: 100, H: 100}
	if got := b.OriginKey(20); got != "2_0" {
		t.Errorf("OriginKey = %q, want %q", got, "2_0")
	}
}
