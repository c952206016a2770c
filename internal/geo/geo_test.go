package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var campus = Point{Lat: 5.6037, Lng: -0.1870}

func TestWithinRadiusBoundary(t *testing.T) {
	other := Point{Lat: 5.6046, Lng: -0.1861}
	d := Distance(campus, other)

	assert.True(t, WithinRadius(&campus, &other, d))
	assert.False(t, WithinRadius(&campus, &other, d-1))
	assert.True(t, WithinRadius(&campus, &campus, 0))
}

func TestWithinRadiusMissingPoint(t *testing.T) {
	assert.False(t, WithinRadius(nil, &campus, 1e9))
	assert.False(t, WithinRadius(&campus, nil, 1e9))
	assert.False(t, WithinRadius(nil, nil, 1e9))
}

func TestWithinRadiusMalformedPoint(t *testing.T) {
	bad := []Point{
		{Lat: math.NaN(), Lng: 0},
		{Lat: 91, Lng: 0},
		{Lat: 0, Lng: -181},
		{Lat: math.Inf(1), Lng: 0},
	}
	for _, p := range bad {
		p := p
		assert.False(t, WithinRadius(&campus, &p, 1e9), "%+v", p)
	}
}

func TestDistanceAntipodal(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 0, Lng: 180}

	assert.NotPanics(t, func() { Distance(a, b) })
	d := Distance(a, b)
	assert.False(t, math.IsNaN(d))
	assert.InDelta(t, 20003931, d, 1000)
	assert.True(t, WithinRadius(&a, &b, 2.1e7))
}

func TestCampusScenarioDistances(t *testing.T) {
	far := Point{Lat: campus.Lat + 0.00136, Lng: campus.Lng}
	near := Point{Lat: campus.Lat + 0.00045, Lng: campus.Lng}

	assert.InDelta(t, 150, Distance(campus, far), 2)
	assert.InDelta(t, 50, Distance(campus, near), 2)
	assert.False(t, WithinRadius(&campus, &far, DefaultRadiusMeters))
	assert.True(t, WithinRadius(&campus, &near, DefaultRadiusMeters))
}
