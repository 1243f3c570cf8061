package geo

import "testing"

func TestLatLngValid(t *testing.T) {
	tests := []struct {
		name  string
		point LatLng
		want  bool
	}{
		{"origin", LatLng{0, 0}, true},
		{"north pole", LatLng{90, 0}, true},
		{"south pole", LatLng{-90, 0}, true},
		{"date line", LatLng{0, 180}, true},
		{"latitude too high", LatLng{90.001, 0}, false},
		{"latitude too low", LatLng{-90.001, 0}, false},
		{"longitude too high", LatLng{0, 180.001}, false},
		{"longitude too low", LatLng{0, -180.001}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.point.Valid(); got != tt.want {
				t.Errorf("Valid(%+v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}

func TestComputeBounds(t *testing.T) {
	points := []LatLng{
		{Lat: 38.5, Lng: -120.2},
		{Lat: 40.7, Lng: -120.95},
		{Lat: 43.252, Lng: -126.453},
	}

	b, ok := ComputeBounds(points)
	if !ok {
		t.Fatal("ComputeBounds() returned ok=false for non-empty input")
	}

	want := Bounds{MinLat: 38.5, MinLng: -126.453, MaxLat: 43.252, MaxLng: -120.2}
	if b != want {
		t.Errorf("ComputeBounds() = %+v, want %+v", b, want)
	}

	if _, ok := ComputeBounds(nil); ok {
		t.Error("ComputeBounds(nil) returned ok=true")
	}
}

func TestComputeCenter(t *testing.T) {
	points := []LatLng{
		{Lat: 10, Lng: 20},
		{Lat: 20, Lng: 40},
	}

	c, ok := ComputeCenter(points)
	if !ok {
		t.Fatal("ComputeCenter() returned ok=false for non-empty input")
	}
	if c.Lat != 15 || c.Lng != 30 {
		t.Errorf("ComputeCenter() = %+v, want {15 30}", c)
	}

	if _, ok := ComputeCenter(nil); ok {
		t.Error("ComputeCenter(nil) returned ok=true")
	}
}
