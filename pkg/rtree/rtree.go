// Package rtree indexes centerline segments, vertices and feature bounds in
// R-Trees so observations and polygons can find their nearest or overlapping
// neighbours without scanning every geometry.
package rtree

import (
	"fmt"
	"math"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/kass/go-fieldgis/pkg/geo"
)

const (
	tolerance   = 1e-9
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// spatialSegment wraps one centerline segment for R-Tree indexing
type spatialSegment struct {
	index int
	a, b  orb.Point
	rect  rtreego.Rect
}

func (s *spatialSegment) Bounds() rtreego.Rect {
	return s.rect
}

// spatialVertex wraps one centerline vertex for R-Tree indexing
type spatialVertex struct {
	index int
	p     orb.Point
	rect  rtreego.Rect
}

func (v *spatialVertex) Bounds() rtreego.Rect {
	return v.rect
}

// Nearest is the result of a nearest segment search
type Nearest struct {
	Segment  int       // index of the segment (its first vertex)
	Point    orb.Point // closest location on the segment
	Distance float64   // planar distance in degrees
}

// SegmentIndex is an R-Tree over the segments and vertices of one line
type SegmentIndex struct {
	segments *rtreego.Rtree
	vertices *rtreego.Rtree
	line     orb.LineString
}

// NewSegmentIndex indexes every consecutive coordinate pair of line
func NewSegmentIndex(line orb.LineString) (*SegmentIndex, error) {
	if len(line) < 2 {
		return nil, fmt.Errorf("line has %d coordinates, need at least 2", len(line))
	}

	segs := make([]rtreego.Spatial, 0, len(line)-1)
	for i := 0; i < len(line)-1; i++ {
		rect, err := boundRect(orb.Bound{Min: line[i], Max: line[i]}.Extend(line[i+1]))
		if err != nil {
			return nil, fmt.Errorf("invalid segment %d: %w", i, err)
		}
		segs = append(segs, &spatialSegment{index: i, a: line[i], b: line[i+1], rect: rect})
	}

	verts := make([]rtreego.Spatial, 0, len(line))
	for i, p := range line {
		verts = append(verts, &spatialVertex{
			index: i,
			p:     p,
			rect:  rtreego.Point{p[0], p[1]}.ToRect(tolerance),
		})
	}

	return &SegmentIndex{
		segments: rtreego.NewTree(dimensions, minChildren, maxChildren, segs...),
		vertices: rtreego.NewTree(dimensions, minChildren, maxChildren, verts...),
		line:     line,
	}, nil
}

// Len returns the number of indexed segments
func (s *SegmentIndex) Len() int {
	return len(s.line) - 1
}

// NearestSegment returns the segment closest to p and the projection of p
// onto it. Ties go to the lower segment index.
func (s *SegmentIndex) NearestSegment(p orb.Point) Nearest {
	// The R-Tree ranks by bounding box distance, which never exceeds the
	// true distance. Everything at least as close as the box-nearest
	// candidate lies inside a square of that radius.
	first := s.segments.NearestNeighbor(rtreego.Point{p[0], p[1]}).(*spatialSegment)
	q, _ := geo.ClosestOnSegment(first.a, first.b, p)
	best := Nearest{Segment: first.index, Point: q, Distance: planar.Distance(p, q)}

	for _, item := range s.segments.SearchIntersect(searchRect(p, best.Distance)) {
		seg := item.(*spatialSegment)
		q, _ := geo.ClosestOnSegment(seg.a, seg.b, p)
		d := planar.Distance(p, q)
		if d < best.Distance || (d == best.Distance && seg.index < best.Segment) {
			best = Nearest{Segment: seg.index, Point: q, Distance: d}
		}
	}
	return best
}

// NearestVertex returns the index and position of the line vertex closest
// to p. Ties go to the lower vertex index.
func (s *SegmentIndex) NearestVertex(p orb.Point) (int, orb.Point) {
	first := s.vertices.NearestNeighbor(rtreego.Point{p[0], p[1]}).(*spatialVertex)
	bestIdx, bestDist := first.index, planar.Distance(p, first.p)

	for _, item := range s.vertices.SearchIntersect(searchRect(p, bestDist)) {
		v := item.(*spatialVertex)
		d := planar.Distance(p, v.p)
		if d < bestDist || (d == bestDist && v.index < bestIdx) {
			bestIdx, bestDist = v.index, d
		}
	}
	return bestIdx, s.line[bestIdx]
}

// spatialBound wraps a feature bound for R-Tree indexing
type spatialBound struct {
	index int
	rect  rtreego.Rect
}

func (b *spatialBound) Bounds() rtreego.Rect {
	return b.rect
}

// BoundIndex is an R-Tree over arbitrary bounds, identified by position
type BoundIndex struct {
	tree *rtreego.Rtree
	size int
}

// NewBoundIndex indexes bounds; search results refer to positions in bounds
func NewBoundIndex(bounds []orb.Bound) (*BoundIndex, error) {
	items := make([]rtreego.Spatial, 0, len(bounds))
	for i, b := range bounds {
		rect, err := boundRect(b)
		if err != nil {
			return nil, fmt.Errorf("invalid bound %d: %w", i, err)
		}
		items = append(items, &spatialBound{index: i, rect: rect})
	}

	return &BoundIndex{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren, items...),
		size: len(items),
	}, nil
}

// Size returns the number of indexed bounds
func (b *BoundIndex) Size() int {
	return b.size
}

// Search returns the positions of all bounds intersecting bound, in
// ascending order
func (b *BoundIndex) Search(bound orb.Bound) []int {
	rect, err := boundRect(bound)
	if err != nil {
		return nil
	}

	results := b.tree.SearchIntersect(rect)
	out := make([]int, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*spatialBound).index)
	}
	sort.Ints(out)
	return out
}

// boundRect pads b by tolerance so points and axis-aligned lines get a
// rectangle with positive side lengths
func boundRect(b orb.Bound) (rtreego.Rect, error) {
	if !geo.Finite(b.Min) || !geo.Finite(b.Max) {
		return rtreego.Rect{}, fmt.Errorf("non-finite bound %v", b)
	}
	return rtreego.NewRectFromPoints(
		rtreego.Point{b.Min[0] - tolerance, b.Min[1] - tolerance},
		rtreego.Point{b.Max[0] + tolerance, b.Max[1] + tolerance},
	)
}

func searchRect(p orb.Point, radius float64) rtreego.Rect {
	r := math.Max(radius, 0) + 2*tolerance
	rect, _ := rtreego.NewRectFromPoints(
		rtreego.Point{p[0] - r, p[1] - r},
		rtreego.Point{p[0] + r, p[1] + r},
	)
	return rect
}
