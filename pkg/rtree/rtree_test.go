package rtree

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-fieldgis/pkg/geo"
)

func TestNewSegmentIndex(t *testing.T) {
	index, err := NewSegmentIndex(orb.LineString{{0, 0}, {1, 0}, {2, 0}})
	require.NoError(t, err)
	assert.Equal(t, 2, index.Len())

	_, err = NewSegmentIndex(orb.LineString{{0, 0}})
	assert.Error(t, err)
}

func TestNearestSegment(t *testing.T) {
	// an L-shaped river bend
	line := orb.LineString{{0, 0}, {1, 0}, {1, 1}, {1, 2}}
	index, err := NewSegmentIndex(line)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		p       orb.Point
		segment int
		snapped orb.Point
	}{
		{"below first segment", orb.Point{0.5, -0.2}, 0, orb.Point{0.5, 0}},
		{"right of second segment", orb.Point{1.3, 0.6}, 1, orb.Point{1, 0.6}},
		{"beyond the end", orb.Point{1, 3}, 2, orb.Point{1, 2}},
		{"shared vertex goes to lower index", orb.Point{1.5, -0.5}, 0, orb.Point{1, 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := index.NearestSegment(tc.p)
			assert.Equal(t, tc.segment, got.Segment)
			assert.InDelta(t, tc.snapped[0], got.Point[0], 1e-12)
			assert.InDelta(t, tc.snapped[1], got.Point[1], 1e-12)
		})
	}
}

// linearNearest scans every segment of line for the one closest to p
func linearNearest(line orb.LineString, p orb.Point) (int, float64) {
	best, bestDist := -1, math.Inf(1)
	for i := 0; i+1 < len(line); i++ {
		q, _ := geo.ClosestOnSegment(line[i], line[i+1], p)
		if d := planar.Distance(p, q); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

func TestNearestSegmentMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	// a meandering centerline long enough to force bulk loading
	line := make(orb.LineString, 300)
	for i := range line {
		line[i] = orb.Point{-140 + float64(i)*0.001, 64 + 0.01*r.Float64()}
	}
	index, err := NewSegmentIndex(line)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		p := orb.Point{-140 + r.Float64()*0.3, 63.99 + r.Float64()*0.03}
		wantSeg, wantDist := linearNearest(line, p)
		got := index.NearestSegment(p)
		assert.InDelta(t, wantDist, got.Distance, 1e-12, "point %v", p)
		if got.Distance != wantDist {
			continue
		}
		assert.Equal(t, wantSeg, got.Segment, "point %v", p)
	}
}

func TestNearestVertex(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {1, 1}, {1, 2}}
	index, err := NewSegmentIndex(line)
	require.NoError(t, err)

	idx, v := index.NearestVertex(orb.Point{0.9, 0.8})
	assert.Equal(t, 2, idx)
	assert.Equal(t, orb.Point{1, 1}, v)

	// a point on a vertex snaps to itself
	idx, v = index.NearestVertex(orb.Point{1, 2})
	assert.Equal(t, 3, idx)
	assert.Equal(t, orb.Point{1, 2}, v)
}

func TestBoundIndex(t *testing.T) {
	bounds := []orb.Bound{
		{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}},
		{Min: orb.Point{5, 5}, Max: orb.Point{6, 6}},
		{Min: orb.Point{0.5, 0.5}, Max: orb.Point{0.5, 0.5}}, // a point
		{Min: orb.Point{-3, 0.2}, Max: orb.Point{3, 0.2}},    // a horizontal line
	}
	index, err := NewBoundIndex(bounds)
	require.NoError(t, err)
	assert.Equal(t, 4, index.Size())

	got := index.Search(orb.Bound{Min: orb.Point{0.4, 0.1}, Max: orb.Point{0.6, 0.6}})
	assert.Equal(t, []int{0, 2, 3}, got)

	assert.Empty(t, index.Search(orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{11, 11}}))
}

func TestBoundIndexManyBounds(t *testing.T) {
	var bounds []orb.Bound
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			p := orb.Point{float64(i), float64(j)}
			bounds = append(bounds, orb.Bound{Min: p, Max: orb.Point{p[0] + 0.5, p[1] + 0.5}})
		}
	}
	index, err := NewBoundIndex(bounds)
	require.NoError(t, err)

	got := index.Search(orb.Bound{Min: orb.Point{4.6, 4.6}, Max: orb.Point{5.2, 5.2}})
	require.Len(t, got, 1)
	assert.Equal(t, fmt.Sprint(bounds[55]), fmt.Sprint(bounds[got[0]]))
}
