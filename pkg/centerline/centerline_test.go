package centerline

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-fieldgis/pkg/models"
)

func TestSegments(t *testing.T) {
	segs, err := Segments(orb.LineString{{0, 0}, {1, 0}, {1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []orb.LineString{{{0, 0}, {1, 0}}, {{1, 0}, {1, 1}}}, segs)

	_, err = Segments(orb.LineString{{0, 0}})
	assert.ErrorIs(t, err, ErrShortCenterline)
	_, err = Segments(nil)
	assert.ErrorIs(t, err, ErrShortCenterline)
}

func TestPropagate(t *testing.T) {
	testCases := []struct {
		name   string
		labels []string
		travel Travel
		want   []string
	}{
		{"forward fills after", []string{"", "Y", "", "", "N", ""}, Forward, []string{"", "Y", "Y", "Y", "N", "N"}},
		{"backward fills before", []string{"", "Y", "", "", "N", ""}, Backward, []string{"Y", "Y", "N", "N", "N", ""}},
		{"all empty", []string{"", "", ""}, Forward, []string{"", "", ""}},
		{"all labelled", []string{"Y", "N", "U"}, Backward, []string{"Y", "N", "U"}},
		{"empty input", []string{}, Forward, []string{}},
		{"single label backward", []string{"", "", "U"}, Backward, []string{"U", "U", "U"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Propagate(tc.labels, tc.travel))
		})
	}
}

func TestPropagateNeverOverwrites(t *testing.T) {
	labels := []string{"Y", "", "N", "", "", "U", "", "Y"}
	original := append([]string(nil), labels...)

	for _, travel := range []Travel{Forward, Backward} {
		out := Propagate(labels, travel)
		require.Len(t, out, len(labels))
		for i, l := range labels {
			if l != "" {
				assert.Equal(t, l, out[i], "travel %s index %d", travel, i)
			}
		}
	}
	assert.Equal(t, original, labels)
}

func TestTravelFor(t *testing.T) {
	assert.Equal(t, Forward, TravelFor(models.Downriver))
	assert.Equal(t, Backward, TravelFor(models.Upriver))
}

func TestParseSnapMode(t *testing.T) {
	for in, want := range map[string]SnapMode{"": SnapLine, "line": SnapLine, "Vertex": SnapVertex} {
		got, err := ParseSnapMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSnapMode("nearest")
	assert.ErrorIs(t, err, ErrUnknownSnapMode)
}

func TestLabelWorkedExample(t *testing.T) {
	// three coordinates, one upriver left bank observation beside segment 1
	line := orb.LineString{{-140.0, 64.0}, {-139.99, 64.0}, {-139.98, 64.0}}
	obs := []models.Observation{{
		WP: "017", Lat: 64.0001, Lon: -139.985,
		Direction: models.Upriver, Bank: models.Left, Permafrost: models.PermafrostYes,
	}}

	res, err := Label(line, obs, TravelFor(models.Upriver), Options{Name: "upriver_left"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Segments.Len())
	assert.Equal(t, 1, res.Joined)
	assert.Equal(t, []string{"Y", "Y"}, Labels(res.Segments))

	seg0 := res.Segments.Features[0].Properties
	seg1 := res.Segments.Features[1].Properties
	assert.Equal(t, 0, seg0[SegmentField])
	assert.Equal(t, -1, seg0[IndexRightField])
	assert.Equal(t, "", seg0["WP"])
	assert.Equal(t, 1, seg1[SegmentField])
	assert.Equal(t, 0, seg1[IndexRightField])
	assert.Equal(t, "017", seg1["WP"])
	assert.InDelta(t, 11.1, seg1[SnapDistField].(float64), 0.1)

	// the snapped point lies on the line
	require.Equal(t, 1, res.Snapped.Len())
	p := res.Snapped.Features[0].Geometry.(orb.Point)
	assert.InDelta(t, -139.985, p[0], 1e-12)
	assert.InDelta(t, 64.0, p[1], 1e-12)
}

func TestLabelDownriverFillsForward(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}
	obs := []models.Observation{
		{WP: "a", Lat: 0.1, Lon: 1.5, Permafrost: "N"},
		{WP: "b", Lat: -0.1, Lon: 3.5, Permafrost: "Y"},
	}

	res, err := Label(line, obs, Forward, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "N", "N", "Y"}, Labels(res.Segments))
}

func TestLabelNearestObservationWins(t *testing.T) {
	line := orb.LineString{{0, 0}, {10, 0}}
	obs := []models.Observation{
		{WP: "far", Lat: 0.5, Lon: 5, Permafrost: "N"},
		{WP: "near", Lat: 0.1, Lon: 6, Permafrost: "Y"},
		{WP: "farther", Lat: -0.3, Lon: 4, Permafrost: "U"},
	}

	res, err := Label(line, obs, Forward, Options{})
	require.NoError(t, err)
	props := res.Segments.Features[0].Properties
	assert.Equal(t, "near", props["WP"])
	assert.Equal(t, 1, props[IndexRightField])
	assert.Equal(t, "Y", props[LabelField])
	assert.Equal(t, 3, res.Snapped.Len())
}

func TestLabelVertexSnap(t *testing.T) {
	line := orb.LineString{{0, 0}, {1, 0}, {2, 0}}
	obs := []models.Observation{{WP: "v", Lat: 0.2, Lon: 0.9, Permafrost: "Y"}}

	res, err := Label(line, obs, Forward, Options{Snap: SnapVertex})
	require.NoError(t, err)
	assert.Equal(t, orb.Point{1, 0}, res.Snapped.Features[0].Geometry)
	// the join still uses the nearest segment
	assert.Equal(t, 0, res.Snapped.Features[0].Properties[SegmentField])
}

func TestLabelSnapIsIdempotent(t *testing.T) {
	line := orb.LineString{{-140.1, 64.0}, {-140.05, 64.02}, {-140.0, 64.01}}
	obs := []models.Observation{{WP: "1", Lat: 64.3, Lon: -140.07, Permafrost: "N"}}

	first, err := Label(line, obs, Forward, Options{})
	require.NoError(t, err)
	p := first.Snapped.Features[0].Geometry.(orb.Point)

	obs[0].Lon, obs[0].Lat = p[0], p[1]
	second, err := Label(line, obs, Forward, Options{})
	require.NoError(t, err)
	q := second.Snapped.Features[0].Geometry.(orb.Point)
	assert.InDelta(t, p[0], q[0], 1e-9)
	assert.InDelta(t, p[1], q[1], 1e-9)
	assert.InDelta(t, 0, second.Snapped.Features[0].Properties[SnapDistField].(float64), 1e-3)
}

func TestLabelShortCenterline(t *testing.T) {
	_, err := Label(orb.LineString{{0, 0}}, nil, Forward, Options{})
	assert.ErrorIs(t, err, ErrShortCenterline)
}
