// Package geometry validates parcel boundaries and answers area and overlap questions.
package geometry

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/terrahash/landregistry/pkg/errors"
)

var ErrInvalidGeometry = errors.Invalid.Reason("INVALID_GEOMETRY").Explain("geometry_geojson must be a closed Polygon or MultiPolygon")

// epsilon for boundary tests, in degrees (roughly 1cm at the equator)
const epsilon = 1e-7

// Parse decodes a GeoJSON Polygon, MultiPolygon, or a Feature wrapping one.
func Parse(raw []byte) (orb.Geometry, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidGeometry.Explain("geometry_geojson is required")
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, ErrInvalidGeometry.Wrap(err)
	}

	var g orb.Geometry
	switch head.Type {
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil || f.Geometry == nil {
			return nil, ErrInvalidGeometry
		}
		g = f.Geometry
	case "Polygon", "MultiPolygon":
		geom, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, ErrInvalidGeometry.Wrap(err)
		}
		g = geom.Geometry()
	default:
		return nil, ErrInvalidGeometry
	}

	switch v := g.(type) {
	case orb.Polygon:
		if !validPolygon(v) {
			return nil, ErrInvalidGeometry
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return nil, ErrInvalidGeometry
		}
		for _, p := range v {
			if !validPolygon(p) {
				return nil, ErrInvalidGeometry
			}
		}
	default:
		return nil, ErrInvalidGeometry
	}
	return g, nil
}

func validPolygon(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	for _, ring := range p {
		if len(ring) < 4 || !ring.Closed() {
			return false
		}
		for _, pt := range ring {
			if pt.Lon() < -180 || pt.Lon() > 180 || pt.Lat() < -90 || pt.Lat() > 90 {
				return false
			}
		}
	}
	return true
}

// AreaM2 is the geodesic area in square meters, rounded to centimetres.
func AreaM2(g orb.Geometry) float64 {
	return math.Round(math.Abs(geo.Area(g))*100) / 100
}

// Centroid of the polygon area
func Centroid(g orb.Geometry) orb.Point {
	c, _ := planar.CentroidArea(g)
	return c
}

// Overlaps reports whether a and b share interior area. Parcels that only
// touch along a border or at a corner do not overlap.
//
// Every edge is cut wherever it meets the other outline. A piece of one
// boundary that runs through the other's interior shows up at its midpoint,
// which covers crossing strips that have no vertex inside each other.
// Identical outlines are caught by stepping off each piece into the interior.
func Overlaps(a, b orb.Geometry) bool {
	if !a.Bound().Intersects(b.Bound()) {
		return false
	}
	return boundaryEnters(a, b) || boundaryEnters(b, a)
}

// boundaryEnters reports whether some piece of from's boundary, or a point
// just inside from next to it, lies strictly inside in.
func boundaryEnters(from, in orb.Geometry) bool {
	other := rings(in)
	for _, ring := range rings(from) {
		for i := 0; i+1 < len(ring); i++ {
			p, q := ring[i], ring[i+1]
			if p == q {
				continue
			}
			cuts := cutPoints(p, q, other)
			for j := 0; j+1 < len(cuts); j++ {
				if cuts[j+1]-cuts[j] < 1e-12 {
					continue
				}
				mid := lerp(p, q, (cuts[j]+cuts[j+1])/2)
				if strictlyInside(mid, in) {
					return true
				}
				for _, pt := range offsets(mid, p, q) {
					if strictlyInside(pt, from) && strictlyInside(pt, in) {
						return true
					}
				}
			}
		}
	}
	return false
}

// cutPoints returns the sorted positions along p->q, 0 and 1 included, where
// the segment meets any edge of rs.
func cutPoints(p, q orb.Point, rs []orb.Ring) []float64 {
	cuts := []float64{0, 1}
	d := sub(q, p)
	dd := dot(d, d)
	for _, ring := range rs {
		for i := 0; i+1 < len(ring); i++ {
			r, e := ring[i], sub(ring[i+1], ring[i])
			denom := cross(d, e)
			rp := sub(r, p)
			if math.Abs(denom) < 1e-18 {
				// parallel; only collinear edges add cuts
				if math.Abs(cross(rp, d)) > epsilon*math.Sqrt(dd) {
					continue
				}
				for _, end := range []orb.Point{ring[i], ring[i+1]} {
					if t := dot(sub(end, p), d) / dd; t > 0 && t < 1 {
						cuts = append(cuts, t)
					}
				}
				continue
			}
			t := cross(rp, e) / denom
			u := cross(rp, d) / denom
			if t > 0 && t < 1 && u >= 0 && u <= 1 {
				cuts = append(cuts, t)
			}
		}
	}
	sort.Float64s(cuts)
	return cuts
}

// offsets are two points either side of segment p->q near mid.
func offsets(mid, p, q orb.Point) [2]orb.Point {
	d := sub(q, p)
	n := math.Hypot(d[0], d[1])
	step := math.Max(n*1e-3, 10*epsilon) / n
	return [2]orb.Point{
		{mid[0] - d[1]*step, mid[1] + d[0]*step},
		{mid[0] + d[1]*step, mid[1] - d[0]*step},
	}
}

func sub(a, b orb.Point) orb.Point { return orb.Point{a[0] - b[0], a[1] - b[1]} }

func dot(a, b orb.Point) float64 { return a[0]*b[0] + a[1]*b[1] }

func cross(a, b orb.Point) float64 { return a[0]*b[1] - a[1]*b[0] }

func lerp(p, q orb.Point, t float64) orb.Point {
	return orb.Point{p[0] + (q[0]-p[0])*t, p[1] + (q[1]-p[1])*t}
}

func strictlyInside(pt orb.Point, g orb.Geometry) bool {
	if onBoundary(pt, g) {
		return false
	}
	switch v := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(v, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(v, pt)
	}
	return false
}

func onBoundary(pt orb.Point, g orb.Geometry) bool {
	for _, ring := range rings(g) {
		for i := 0; i+1 < len(ring); i++ {
			if onSegment(pt, ring[i], ring[i+1]) {
				return true
			}
		}
	}
	return false
}

func onSegment(p, a, b orb.Point) bool {
	length := math.Hypot(b[0]-a[0], b[1]-a[1])
	if length == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1]) <= epsilon
	}
	// distance from p to the line through a and b
	if math.Abs(cross(sub(b, a), sub(p, a)))/length > epsilon {
		return false
	}
	return p[0] >= math.Min(a[0], b[0])-epsilon && p[0] <= math.Max(a[0], b[0])+epsilon &&
		p[1] >= math.Min(a[1], b[1])-epsilon && p[1] <= math.Max(a[1], b[1])+epsilon
}

func rings(g orb.Geometry) []orb.Ring {
	switch v := g.(type) {
	case orb.Polygon:
		return v
	case orb.MultiPolygon:
		var out []orb.Ring
		for _, p := range v {
			out = append(out, p...)
		}
		return out
	}
	return nil
}
