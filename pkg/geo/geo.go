// Package geo provides the planar geometry used to relate field observations
// to reference lines and polygons. Coordinates are lon/lat degrees (EPSG:4326);
// nearest-point work is planar in degrees, reported distances are haversine
// metres.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const earthRadius = 6371.0 // km

// ClosestOnSegment returns the point on segment ab closest to p and the
// segment parameter t in [0, 1] at which it lies.
func ClosestOnSegment(a, b, p orb.Point) (orb.Point, float64) {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a, 0
	}

	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
	switch {
	case t <= 0:
		return a, 0
	case t >= 1:
		return b, 1
	}
	return orb.Point{a[0] + t*dx, a[1] + t*dy}, t
}

// Distance calculates the Haversine distance between two lon/lat points in metres
func Distance(a, b orb.Point) float64 {
	lat1Rad := a[1] * math.Pi / 180.0
	lon1Rad := a[0] * math.Pi / 180.0
	lat2Rad := b[1] * math.Pi / 180.0
	lon2Rad := b[0] * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadius * c * 1000
}

// Finite reports whether both coordinates of p are finite numbers
func Finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) &&
		!math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}

// SegmentsIntersect reports whether segments ab and cd share at least one point
func SegmentsIntersect(a, b, c, d orb.Point) bool {
	d1 := orientation(c, d, a)
	d2 := orientation(c, d, b)
	d3 := orientation(a, b, c)
	d4 := orientation(a, b, d)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	return (d1 == 0 && onSegment(c, d, a)) ||
		(d2 == 0 && onSegment(c, d, b)) ||
		(d3 == 0 && onSegment(a, b, c)) ||
		(d4 == 0 && onSegment(a, b, d))
}

func orientation(a, b, p orb.Point) float64 {
	return (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
}

// onSegment assumes p is collinear with ab
func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// Intersects reports whether g shares at least one point with polygon
// (interior or boundary). Supported geometries are points, line strings,
// polygons and their multi variants.
func Intersects(polygon orb.Polygon, g orb.Geometry) bool {
	if len(polygon) == 0 || !polygon.Bound().Intersects(g.Bound()) {
		return false
	}

	switch g := g.(type) {
	case orb.Point:
		return planar.PolygonContains(polygon, g)
	case orb.MultiPoint:
		for _, p := range g {
			if planar.PolygonContains(polygon, p) {
				return true
			}
		}
	case orb.LineString:
		return lineIntersects(polygon, g)
	case orb.MultiLineString:
		for _, ls := range g {
			if lineIntersects(polygon, ls) {
				return true
			}
		}
	case orb.Ring:
		return polygonsIntersect(polygon, orb.Polygon{g})
	case orb.Polygon:
		return polygonsIntersect(polygon, g)
	case orb.MultiPolygon:
		for _, p := range g {
			if polygonsIntersect(polygon, p) {
				return true
			}
		}
	case orb.Collection:
		for _, c := range g {
			if Intersects(polygon, c) {
				return true
			}
		}
	}
	return false
}

func lineIntersects(polygon orb.Polygon, ls orb.LineString) bool {
	for _, p := range ls {
		if planar.PolygonContains(polygon, p) {
			return true
		}
	}
	for _, ring := range polygon {
		if edgesCross(ring, ls) {
			return true
		}
	}
	return false
}

func polygonsIntersect(a, b orb.Polygon) bool {
	if len(b) == 0 {
		return false
	}
	if lineIntersects(a, orb.LineString(b[0])) {
		return true
	}
	// a entirely inside b
	return len(a[0]) > 0 && planar.PolygonContains(b, a[0][0])
}

func edgesCross(ring orb.Ring, ls orb.LineString) bool {
	for i := 0; i < len(ring)-1; i++ {
		for j := 0; j < len(ls)-1; j++ {
			if SegmentsIntersect(ring[i], ring[i+1], ls[j], ls[j+1]) {
				return true
			}
		}
	}
	return false
}
