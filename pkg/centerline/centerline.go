// Package centerline snaps field observations onto a river centerline and
// carries their permafrost labels along its segments in the direction of
// travel.
package centerline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kass/go-fieldgis/pkg/geo"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/notes"
	"github.com/kass/go-fieldgis/pkg/rtree"
	"github.com/kass/go-fieldgis/pkg/vector"
)

var (
	ErrShortCenterline = errors.New("centerline needs at least two coordinates")
	ErrUnknownSnapMode = errors.New("unknown snap mode")
)

// Field names added to the segment layer
const (
	SegmentField    = "seg"
	IndexRightField = "index_right"
	SnapDistField   = "snap_dist"
	LabelField      = "permafrost"
)

// SnapMode selects where an observation lands on the centerline
type SnapMode int

const (
	// SnapLine projects onto the nearest segment
	SnapLine SnapMode = iota
	// SnapVertex moves to the nearest centerline vertex
	SnapVertex
)

// ParseSnapMode parses "line" or "vertex"
func ParseSnapMode(s string) (SnapMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "line":
		return SnapLine, nil
	case "vertex":
		return SnapVertex, nil
	}
	return SnapLine, fmt.Errorf("%w: %q", ErrUnknownSnapMode, s)
}

func (m SnapMode) String() string {
	if m == SnapVertex {
		return "vertex"
	}
	return "line"
}

// Travel is the order in which labels are carried along the segments
type Travel int

const (
	// Forward carries labels toward higher segment indices
	Forward Travel = iota
	// Backward carries labels toward lower segment indices
	Backward
)

func (t Travel) String() string {
	if t == Backward {
		return "backward"
	}
	return "forward"
}

// TravelFor returns the propagation order for a direction of travel
func TravelFor(d models.Direction) Travel {
	if d == models.Upriver {
		return Backward
	}
	return Forward
}

// Segments splits line into one two-point segment per consecutive
// coordinate pair
func Segments(line orb.LineString) ([]orb.LineString, error) {
	if len(line) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrShortCenterline, len(line))
	}
	segs := make([]orb.LineString, len(line)-1)
	for i := range segs {
		segs[i] = orb.LineString{line[i], line[i+1]}
	}
	return segs, nil
}

// Propagate fills empty labels from the nearest non-empty label before them
// in the given travel order. Non-empty labels are kept and labels before the
// first non-empty one stay empty. labels is not modified.
func Propagate(labels []string, travel Travel) []string {
	out := make([]string, len(labels))
	copy(out, labels)

	carry := ""
	step := func(i int) {
		if out[i] == "" {
			out[i] = carry
		} else {
			carry = out[i]
		}
	}

	if travel == Backward {
		for i := len(out) - 1; i >= 0; i-- {
			step(i)
		}
	} else {
		for i := range out {
			step(i)
		}
	}
	return out
}

// Options controls Label
type Options struct {
	Snap SnapMode
	Name string // name of the returned layer
}

// Result is the labelled centerline of one partition
type Result struct {
	Segments *vector.Layer // one line feature per segment
	Snapped  *vector.Layer // observations moved onto the centerline
	Joined   int           // segments that received an observation
}

// match is an observation assigned to a segment
type match struct {
	row  int
	dist float64
}

// Label snaps observations to line, joins each one onto the segment nearest
// its recorded position and propagates permafrost labels in travel order.
// Segments without an observation keep empty observation fields and an
// index_right of -1.
func Label(line orb.LineString, obs []models.Observation, travel Travel, opts Options) (*Result, error) {
	segs, err := Segments(line)
	if err != nil {
		return nil, err
	}
	index, err := rtree.NewSegmentIndex(line)
	if err != nil {
		return nil, err
	}

	snapped := vector.NewLayer(opts.Name+"_snapped", "Point",
		append(notes.Fields(), vector.IntegerField(SegmentField), vector.FloatField(SnapDistField))...)

	matches := make([]*match, len(segs))
	snapDist := make([]float64, len(obs))
	for row, o := range obs {
		p := o.Point()
		if !geo.Finite(p) {
			log.Warnw("skipping observation without a position", "wp", o.WP)
			continue
		}

		nearest := index.NearestSegment(p)
		var q orb.Point
		switch opts.Snap {
		case SnapVertex:
			_, q = index.NearestVertex(p)
		default:
			q = nearest.Point
		}
		snapDist[row] = geo.Distance(p, q)

		props := notes.Properties(o)
		props[SegmentField] = nearest.Segment
		props[SnapDistField] = snapDist[row]
		snapped.Add(q, props)

		m := matches[nearest.Segment]
		if m == nil || nearest.Distance < m.dist {
			matches[nearest.Segment] = &match{row: row, dist: nearest.Distance}
		}
	}

	labels := make([]string, len(segs))
	for i, m := range matches {
		if m != nil {
			labels[i] = string(obs[m.row].Permafrost)
		}
	}
	filled := Propagate(labels, travel)

	fields := []vector.Field{vector.IntegerField(SegmentField)}
	for _, f := range notes.Fields() {
		if f.Name != LabelField {
			fields = append(fields, f)
		}
	}
	fields = append(fields,
		vector.IntegerField(IndexRightField),
		vector.FloatField(SnapDistField),
		vector.StringField(LabelField),
	)

	out := vector.NewLayer(opts.Name, "LineString", fields...)
	joined := 0
	for i, seg := range segs {
		props := map[string]interface{}{
			SegmentField:    i,
			IndexRightField: -1,
			SnapDistField:   nil,
			LabelField:      filled[i],
		}
		for _, name := range notes.FieldNames {
			if name != LabelField {
				props[name] = emptyValue(name)
			}
		}

		if m := matches[i]; m != nil {
			joined++
			for k, v := range notes.Properties(obs[m.row]) {
				if k != LabelField {
					props[k] = v
				}
			}
			props[IndexRightField] = m.row
			props[SnapDistField] = snapDist[m.row]
		}
		out.Add(seg, props)
	}

	log.Debugw("labelled centerline",
		"layer", opts.Name,
		"segments", len(segs),
		"observations", len(obs),
		"joined", joined,
		"travel", travel.String(),
		"snap", opts.Snap.String())

	return &Result{Segments: out, Snapped: snapped, Joined: joined}, nil
}

func emptyValue(field string) interface{} {
	switch field {
	case "lat", "lon", "elev":
		return nil
	}
	return ""
}

// Labels returns the permafrost label of every segment in order
func Labels(layer *vector.Layer) []string {
	out := make([]string, layer.Len())
	for i, f := range layer.Features {
		if s, ok := f.Properties[LabelField].(string); ok {
			out[i] = s
		}
	}
	return out
}
