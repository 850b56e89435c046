package geometry_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrahash/landregistry/internal/geometry"
	"github.com/terrahash/landregistry/pkg/errors"
)

const square = `{"type":"Polygon","coordinates":[[[36.80,-1.30],[36.81,-1.30],[36.81,-1.29],[36.80,-1.29],[36.80,-1.30]]]}`

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"polygon", square, true},
		{"feature", `{"type":"Feature","properties":{},"geometry":` + square + `}`, true},
		{"multipolygon", `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]]]}`, true},
		{"open ring", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`, false},
		{"too few points", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}`, false},
		{"point", `{"type":"Point","coordinates":[0,0]}`, false},
		{"feature without geometry", `{"type":"Feature","properties":{},"geometry":null}`, false},
		{"out of range", `{"type":"Polygon","coordinates":[[[0,0],[200,0],[1,1],[0,0]]]}`, false},
		{"garbage", `not json`, false},
		{"empty", ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := geometry.Parse([]byte(tc.raw))
			if tc.ok {
				require.NoError(t, err)
				assert.NotNil(t, g)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, geometry.ErrInvalidGeometry))
		})
	}
}

func TestAreaM2(t *testing.T) {
	g, err := geometry.Parse([]byte(square))
	require.NoError(t, err)

	// 0.01 x 0.01 degrees near the equator is about 1.24 km²
	area := geometry.AreaM2(g)
	assert.InDelta(t, 1.236e6, area, 0.02e6)
}

func TestCentroid(t *testing.T) {
	g, err := geometry.Parse([]byte(square))
	require.NoError(t, err)
	c := geometry.Centroid(g)
	assert.InDelta(t, 36.805, c.Lon(), 1e-9)
	assert.InDelta(t, -1.295, c.Lat(), 1e-9)
}

func poly(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY}}}
}

func TestOverlaps(t *testing.T) {
	base := poly(0, 0, 2, 2)
	cases := []struct {
		name  string
		other orb.Geometry
		want  bool
	}{
		{"disjoint", poly(5, 5, 6, 6), false},
		{"partial", poly(1, 1, 3, 3), true},
		{"contained", poly(0.5, 0.5, 1, 1), true},
		{"containing", poly(-1, -1, 3, 3), true},
		{"identical", poly(0, 0, 2, 2), true},
		{"shared edge", poly(2, 0, 4, 2), false},
		{"shared corner", poly(2, 2, 3, 3), false},
		{"multipolygon", orb.MultiPolygon{poly(5, 5, 6, 6), poly(1, 1, 1.5, 1.5)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, geometry.Overlaps(base, tc.other))
			assert.Equal(t, tc.want, geometry.Overlaps(tc.other, base))
		})
	}
}

func TestOverlapsCrossingEdges(t *testing.T) {
	cases := []struct {
		name string
		a, b orb.Geometry
		want bool
	}{
		// a horizontal and a vertical strip share [2,3]x[0,1] without any
		// vertex of one inside the other
		{"crossing strips", poly(0, 0, 10, 1), poly(2, -5, 3, 4), true},
		{"plus", poly(-3, -1, 3, 1), poly(-1, -3, 1, 3), true},
		{"sides on the other boundary", poly(0, 0, 2, 2), poly(0, 1, 2, 3), true},
		{"strips apart", poly(0, 0, 10, 1), poly(2, 1, 3, 4), false},
		{"t junction", poly(0, 0, 4, 1), poly(1, 1, 2, 3), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, geometry.Overlaps(tc.a, tc.b))
			assert.Equal(t, tc.want, geometry.Overlaps(tc.b, tc.a))
		})
	}
}

func TestOverlapsIdenticalConcaveOutline(t *testing.T) {
	// L shaped plot whose centroid falls outside it
	l := orb.Polygon{orb.Ring{{0, 0}, {3, 0}, {3, 0.2}, {0.2, 0.2}, {0.2, 3}, {0, 3}, {0, 0}}}
	assert.True(t, geometry.Overlaps(l, l))

	neighbour := orb.Polygon{orb.Ring{{0.2, 0.2}, {3, 0.2}, {3, 3}, {0.2, 3}, {0.2, 0.2}}}
	assert.False(t, geometry.Overlaps(l, neighbour))
	assert.False(t, geometry.Overlaps(neighbour, l))
}

func TestOverlapsParcelScale(t *testing.T) {
	// plots of about 100m crossing near Nairobi
	a := poly(36.7000, -1.3000, 36.7010, -1.2999)
	b := poly(36.7004, -1.3005, 36.7005, -1.2994)
	assert.True(t, geometry.Overlaps(a, b))

	touching := poly(36.7010, -1.3000, 36.7020, -1.2999)
	assert.False(t, geometry.Overlaps(a, touching))
}
