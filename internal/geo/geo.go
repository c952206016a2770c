// Package geo decides whether a submitter is close enough to a session's location.
package geo

import (
	"math"

	"github.com/tidwall/geodesic"
)

// DefaultRadiusMeters is used when no radius is configured.
const DefaultRadiusMeters = 100.0

// Point is a WGS-84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether p is a finite coordinate within the WGS-84 ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the ellipsoidal distance between a and b in meters.
func Distance(a, b Point) float64 {
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lng, b.Lat, b.Lng, &s12, nil, nil)
	return s12
}

// WithinRadius reports whether a and b are at most radius meters apart.
// A missing or malformed point is never within range.
func WithinRadius(a, b *Point, radius float64) bool {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return false
	}
	d := Distance(*a, *b)
	if math.IsNaN(d) {
		return false
	}
	return d <= radius
}
