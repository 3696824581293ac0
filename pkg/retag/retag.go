// Package retag rewrites scraped OSM vector data so the embedded
// other_tags string becomes a plain name attribute, then names and merges
// polygons by the features they intersect.
package retag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/geo"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/rtree"
	"github.com/kass/go-fieldgis/pkg/vector"
)

var ErrMissingColumn = errors.New("missing column")

const (
	// NoName marks a feature without a name tag
	NoName = "NA"

	NameField = "name"
	IDField   = "osm_id"
)

// ParseTags parses an hstore-style tag string such as
// `"name"=>"Rio Ucayali","waterway"=>"river"`. Fragments that do not split
// into exactly one key and one value are discarded; the second return value
// counts them.
func ParseTags(s string) (map[string]string, int) {
	tags := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return tags, 0
	}

	discarded := 0
	for _, fragment := range strings.Split(s, ",") {
		kv := strings.Split(fragment, "=>")
		if len(kv) != 2 {
			discarded++
			continue
		}
		k := strings.TrimSpace(strings.ReplaceAll(kv[0], `"`, ""))
		v := strings.ReplaceAll(kv[1], `"`, "")
		tags[k] = v
	}
	return tags, discarded
}

// Name returns the name tag or NoName
func Name(tags map[string]string) string {
	if n, ok := tags[NameField]; ok {
		return n
	}
	return NoName
}

// Report counts what Retag did
type Report struct {
	Features  int
	Named     int
	Discarded int // tag fragments that could not be parsed
}

// Retag returns a copy of layer whose schema is reduced to the id column
// (renamed osm_id) and name, with name taken from the tag column. Both
// columns must be in the layer schema; a null tag value means no tags.
func Retag(layer *vector.Layer, tagColumn, idColumn string) (*vector.Layer, Report, error) {
	if idColumn == "" {
		idColumn = IDField
	}
	for _, c := range []string{tagColumn, idColumn} {
		if _, ok := layer.Field(c); !ok {
			return nil, Report{}, fmt.Errorf("%w: %q in layer %s", ErrMissingColumn, c, layer.Name)
		}
	}

	out := vector.NewLayer(layer.Name+"_retag", layer.GeometryType,
		vector.StringField(IDField), vector.StringField(NameField))
	if layer.CRS != "" {
		out.CRS = layer.CRS
	}

	var report Report
	for _, f := range layer.Features {
		raw, _ := f.Properties[tagColumn].(string)
		tags, discarded := ParseTags(raw)
		report.Discarded += discarded

		name := Name(tags)
		if name != NoName {
			report.Named++
		}
		out.Add(f.Geometry, map[string]interface{}{
			IDField:   text(f.Properties[idColumn]),
			NameField: name,
		})
	}
	report.Features = out.Len()

	if report.Discarded > 0 {
		log.Debugw("discarded malformed tag fragments", "layer", layer.Name, "count", report.Discarded)
	}
	return out, report, nil
}

func text(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}

// polygons returns the polygon parts of g
func polygons(g orb.Geometry) []orb.Polygon {
	switch g := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return g
	}
	return nil
}

// NamePolygons joins each polygon with every named feature it intersects
// (an inner join: unmatched polygons are dropped, a polygon intersecting
// several features appears once per feature). The result keeps the polygon
// fields plus name.
func NamePolygons(polys, named *vector.Layer) (*vector.Layer, error) {
	var positions []int
	var bounds []orb.Bound
	for i, f := range named.Features {
		if f.Geometry == nil {
			continue
		}
		positions = append(positions, i)
		bounds = append(bounds, f.Geometry.Bound())
	}
	index, err := rtree.NewBoundIndex(bounds)
	if err != nil {
		return nil, fmt.Errorf("failed to index named features: %w", err)
	}

	fields := make([]vector.Field, 0, len(polys.Fields)+1)
	for _, f := range polys.Fields {
		if f.Name != NameField {
			fields = append(fields, f)
		}
	}
	fields = append(fields, vector.StringField(NameField))

	out := vector.NewLayer(polys.Name, polys.GeometryType, fields...)
	if polys.CRS != "" {
		out.CRS = polys.CRS
	}

	for _, poly := range polys.Features {
		parts := polygons(poly.Geometry)
		if len(parts) == 0 {
			continue
		}

		for _, hit := range index.Search(poly.Geometry.Bound()) {
			candidate := named.Features[positions[hit]]
			if !intersectsAny(parts, candidate.Geometry) {
				continue
			}

			props := make(map[string]interface{}, len(fields))
			for _, f := range fields {
				props[f.Name] = poly.Properties[f.Name]
			}
			props[NameField] = text(candidate.Properties[NameField])
			out.Add(poly.Geometry, props)
		}
	}
	return out, nil
}

func intersectsAny(parts []orb.Polygon, g orb.Geometry) bool {
	for _, p := range parts {
		if geo.Intersects(p, g) {
			return true
		}
	}
	return false
}

// Dissolve drops features named NoName, groups the rest by the by field and
// collects each group's polygons into one MultiPolygon. Other fields take
// the value of the first feature in the group. Groups are ordered by name.
func Dissolve(layer *vector.Layer, by string) *vector.Layer {
	out := vector.NewLayer(layer.Name, "MultiPolygon", layer.Fields...)
	if layer.CRS != "" {
		out.CRS = layer.CRS
	}

	groups := make(map[string]orb.MultiPolygon)
	first := make(map[string]map[string]interface{})
	var keys []string
	for _, f := range layer.Features {
		key := text(f.Properties[by])
		if key == NoName {
			continue
		}
		if _, ok := first[key]; !ok {
			first[key] = f.Properties
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], polygons(f.Geometry)...)
	}
	sort.Strings(keys)

	for _, k := range keys {
		out.Add(groups[k], first[k])
	}
	return out
}

// Summary reports a Run
type Summary struct {
	Retag      Report
	RetagPath  string
	Joined     int
	MergedPath string
	Merged     int
}

// Run retags the vector file, names the polygons by the retagged features
// and writes the merged polygons next to the polygon input
func Run(cfg config.RetagConfig) (*Summary, error) {
	vectors, err := vector.Read(cfg.Vectors)
	if err != nil {
		return nil, err
	}

	retagged, report, err := Retag(vectors, cfg.TagColumn, cfg.IDColumn)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Retag: report, RetagPath: vector.ReplaceSuffix(cfg.Vectors, "_retag")}
	if err := vector.Write(summary.RetagPath, retagged); err != nil {
		return nil, err
	}
	log.Infow("retagged features", "path", summary.RetagPath, "features", report.Features, "named", report.Named)

	polys, err := vector.Read(cfg.Polygons)
	if err != nil {
		return nil, err
	}
	joined, err := NamePolygons(polys, retagged)
	if err != nil {
		return nil, err
	}
	summary.Joined = joined.Len()

	merged := Dissolve(joined, NameField)
	summary.Merged = merged.Len()
	summary.MergedPath = vector.ReplaceSuffix(cfg.Polygons, "_names_merged")
	if err := vector.Write(summary.MergedPath, merged); err != nil {
		return nil, err
	}
	log.Infow("merged named polygons", "path", summary.MergedPath, "names", merged.Len())

	return summary, nil
}
