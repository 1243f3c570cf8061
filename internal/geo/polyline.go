package geo

import (
	"fmt"
	"math"
	"strings"
)

// precision is the coordinate scaling factor of the encoded polyline
// format (5 decimal places).
const precision = 1e5

// MalformedRouteError reports that an encoded polyline could not be
// decoded in full. Points decoded before the malformed chunk are still
// returned alongside the error; route data degrades rather than
// disappears.
type MalformedRouteError struct {
	// Offset is the byte offset of the first chunk that failed to decode.
	Offset int
	// Reason describes why decoding stopped.
	Reason string
}

func (e *MalformedRouteError) Error() string {
	return fmt.Sprintf("malformed polyline at byte %d: %s", e.Offset, e.Reason)
}

// DecodePolyline decodes a Google encoded polyline string into an
// ordered sequence of coordinates.
//
// On malformed input the valid prefix decoded so far is returned
// together with a *MalformedRouteError; callers that can live with a
// truncated route may use the points and log the error. Points that
// fall outside valid coordinate ranges also terminate the decode at
// that chunk.
func DecodePolyline(encoded string) ([]LatLng, error) {
	var points []LatLng
	var lat, lng int64

	pos := 0
	for pos < len(encoded) {
		chunkStart := pos

		dLat, next, err := decodeValue(encoded, pos)
		if err != nil {
			return points, &MalformedRouteError{Offset: chunkStart, Reason: err.Error()}
		}
		dLng, after, err := decodeValue(encoded, next)
		if err != nil {
			// A latitude without its longitude is half a point; stop
			// before it.
			return points, &MalformedRouteError{Offset: chunkStart, Reason: err.Error()}
		}

		lat += dLat
		lng += dLng
		p := LatLng{
			Lat: float64(lat) / precision,
			Lng: float64(lng) / precision,
		}
		if !p.Valid() {
			return points, &MalformedRouteError{
				Offset: chunkStart,
				Reason: fmt.Sprintf("coordinate out of range: %.5f,%.5f", p.Lat, p.Lng),
			}
		}

		points = append(points, p)
		pos = after
	}

	return points, nil
}

// decodeValue reads one zigzag-encoded signed value starting at pos.
// Returns the value and the position of the next unread byte.
func decodeValue(encoded string, pos int) (int64, int, error) {
	var result int64
	var shift uint

	for {
		if pos >= len(encoded) {
			return 0, pos, fmt.Errorf("unterminated value")
		}
		c := int64(encoded[pos]) - 63
		if c < 0 || c > 63 {
			return 0, pos, fmt.Errorf("invalid character %q", encoded[pos])
		}
		pos++

		result |= (c & 0x1f) << shift
		if c&0x20 == 0 {
			break
		}
		shift += 5
		if shift > 60 {
			return 0, pos, fmt.Errorf("value overflow")
		}
	}

	// Undo zigzag encoding.
	if result&1 != 0 {
		return ^(result >> 1), pos, nil
	}
	return result >> 1, pos, nil
}

// EncodePolyline encodes a coordinate sequence into the Google encoded
// polyline format. It is the inverse of DecodePolyline for coordinates
// representable at 5 decimal places.
func EncodePolyline(points []LatLng) string {
	var sb strings.Builder
	var prevLat, prevLng int64

	for _, p := range points {
		lat := int64(math.Round(p.Lat * precision))
		lng := int64(math.Round(p.Lng * precision))
		encodeValue(&sb, lat-prevLat)
		encodeValue(&sb, lng-prevLng)
		prevLat = lat
		prevLng = lng
	}
	return sb.String()
}

// encodeValue writes one zigzag-encoded signed value.
func encodeValue(sb *strings.Builder, v int64) {
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		sb.WriteByte(byte(0x20|(u&0x1f)) + 63)
		u >>= 5
	}
	sb.WriteByte(byte(u) + 63)
}
