// Package geo provides pure transformations over route geometry: polyline
// decoding and encoding, coordinate validation, bounds and center
// computation. Nothing in this package performs I/O.
package geo

// LatLng is a WGS84 coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Valid reports whether the point lies within the latitude range
// [-90, 90] and longitude range [-180, 180].
func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Bounds is an axis-aligned bounding box over a coordinate sequence.
type Bounds struct {
	MinLat float64 `json:"min_lat" validate:"gte=-90,lte=90"`
	MinLng float64 `json:"min_lng" validate:"gte=-180,lte=180"`
	MaxLat float64 `json:"max_lat" validate:"gte=-90,lte=90"`
	MaxLng float64 `json:"max_lng" validate:"gte=-180,lte=180"`
}

// ComputeBounds returns the min/max latitude and longitude over points.
// Returns the zero Bounds and false when points is empty.
func ComputeBounds(points []LatLng) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}

	b := Bounds{
		MinLat: points[0].Lat,
		MaxLat: points[0].Lat,
		MinLng: points[0].Lng,
		MaxLng: points[0].Lng,
	}
	for _, p := range points[1:] {
		if p.Lat < b.MinLat {
			b.MinLat = p.Lat
		}
		if p.Lat > b.MaxLat {
			b.MaxLat = p.Lat
		}
		if p.Lng < b.MinLng {
			b.MinLng = p.Lng
		}
		if p.Lng > b.MaxLng {
			b.MaxLng = p.Lng
		}
	}
	return b, true
}

// ComputeCenter returns the arithmetic mean of the coordinate sequence.
// This is an approximation, not a geodesic centroid; it is good enough
// for centering a map view over a route. Returns false when points is
// empty.
func ComputeCenter(points []LatLng) (LatLng, bool) {
	if len(points) == 0 {
		return LatLng{}, false
	}

	var sumLat, sumLng float64
	for _, p := range points {
		sumLat += p.Lat
		sumLng += p.Lng
	}
	n := float64(len(points))
	return LatLng{Lat: sumLat / n, Lng: sumLng / n}, true
}
