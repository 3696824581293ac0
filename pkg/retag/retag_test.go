package retag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/vector"
)

func TestParseTags(t *testing.T) {
	testCases := []struct {
		name      string
		in        string
		tags      map[string]string
		discarded int
	}{
		{"named river", `"name"=>"Rio Ucayali","waterway"=>"river"`,
			map[string]string{"name": "Rio Ucayali", "waterway": "river"}, 0},
		{"no name", `"waterway"=>"stream"`, map[string]string{"waterway": "stream"}, 0},
		{"empty", "", map[string]string{}, 0},
		{"comma inside value", `"name"=>"Rio Tambo, alto","boat"=>"yes"`,
			map[string]string{"name": "Rio Tambo", "boat": "yes"}, 1},
		{"double arrow", `"a"=>"b"=>"c","name"=>"x"`, map[string]string{"name": "x"}, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tags, discarded := ParseTags(tc.in)
			assert.Equal(t, tc.tags, tags)
			assert.Equal(t, tc.discarded, discarded)
		})
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "Rio Ucayali", Name(map[string]string{"name": "Rio Ucayali"}))
	assert.Equal(t, NoName, Name(map[string]string{"waterway": "river"}))
	assert.Equal(t, NoName, Name(nil))
}

func osmLayer() *vector.Layer {
	layer := vector.NewLayer("South_America_split", "LineString",
		vector.StringField("osm_id"), vector.StringField("waterway"), vector.StringField("other_tags"))
	layer.Add(orb.LineString{{0.5, 0.5}, {1.5, 0.5}}, map[string]interface{}{
		"osm_id": "101", "waterway": "river", "other_tags": `"name"=>"Ucayali","boat"=>"yes"`,
	})
	layer.Add(orb.LineString{{10.5, 10.5}, {11.5, 11.5}}, map[string]interface{}{
		"osm_id": "102", "waterway": "river", "other_tags": `"name"=>"Tambo"`,
	})
	layer.Add(orb.LineString{{0.2, 0.2}, {0.3, 0.8}}, map[string]interface{}{
		"osm_id": "103", "waterway": "stream", "other_tags": `"intermittent"=>"yes"`,
	})
	layer.Add(orb.LineString{{20.5, 20.5}, {20.6, 20.6}}, map[string]interface{}{
		"osm_id": "104", "waterway": "stream", "other_tags": nil,
	})
	layer.Add(orb.LineString{{3.5, 0.5}, {3.6, 0.6}}, map[string]interface{}{
		"osm_id": "105", "waterway": "river", "other_tags": `"name"=>"Ucayali"`,
	})
	return layer
}

func square(x, y float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}
}

func bufferLayer() *vector.Layer {
	layer := vector.NewLayer("rivbuff", "Polygon", vector.IntegerField("OBJECTID"))
	layer.Add(square(0, 0), map[string]interface{}{"OBJECTID": 1})
	layer.Add(square(10, 10), map[string]interface{}{"OBJECTID": 2})
	layer.Add(square(20, 20), map[string]interface{}{"OBJECTID": 3})
	layer.Add(square(3, 0), map[string]interface{}{"OBJECTID": 4})
	layer.Add(square(50, 50), map[string]interface{}{"OBJECTID": 5})
	return layer
}

func TestRetag(t *testing.T) {
	out, report, err := Retag(osmLayer(), "other_tags", "osm_id")
	require.NoError(t, err)

	assert.Equal(t, []string{"osm_id", "name"}, out.FieldNames())
	assert.Equal(t, Report{Features: 5, Named: 3}, report)

	names := make([]string, out.Len())
	for i, f := range out.Features {
		names[i] = f.Properties["name"].(string)
		_, ok := f.Properties["other_tags"]
		assert.False(t, ok)
	}
	assert.Equal(t, []string{"Ucayali", "Tambo", NoName, NoName, "Ucayali"}, names)
	assert.Equal(t, "103", out.Features[2].Properties["osm_id"])
}

func TestRetagMissingColumn(t *testing.T) {
	testCases := []struct {
		name      string
		tagColumn string
		idColumn  string
	}{
		{"tag column", "othertags", "osm_id"},
		{"id column", "other_tags", "id"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Retag(osmLayer(), tc.tagColumn, tc.idColumn)
			assert.ErrorIs(t, err, ErrMissingColumn)
		})
	}
}

func TestNamePolygons(t *testing.T) {
	retagged, _, err := Retag(osmLayer(), "other_tags", "osm_id")
	require.NoError(t, err)

	joined, err := NamePolygons(bufferLayer(), retagged)
	require.NoError(t, err)
	assert.Equal(t, []string{"OBJECTID", "name"}, joined.FieldNames())

	type row struct {
		id   int
		name string
	}
	var got []row
	for _, f := range joined.Features {
		got = append(got, row{f.Properties["OBJECTID"].(int), f.Properties["name"].(string)})
	}
	// polygon 1 meets two features, polygon 5 meets none
	assert.Equal(t, []row{
		{1, "Ucayali"}, {1, NoName},
		{2, "Tambo"},
		{3, NoName},
		{4, "Ucayali"},
	}, got)
}

func TestDissolve(t *testing.T) {
	retagged, _, err := Retag(osmLayer(), "other_tags", "osm_id")
	require.NoError(t, err)
	joined, err := NamePolygons(bufferLayer(), retagged)
	require.NoError(t, err)

	merged := Dissolve(joined, NameField)
	require.Equal(t, 2, merged.Len())

	tambo := merged.Features[0]
	assert.Equal(t, "Tambo", tambo.Properties["name"])
	assert.Len(t, tambo.Geometry.(orb.MultiPolygon), 1)

	ucayali := merged.Features[1]
	assert.Equal(t, "Ucayali", ucayali.Properties["name"])
	assert.Equal(t, 1, ucayali.Properties["OBJECTID"])
	assert.Len(t, ucayali.Geometry.(orb.MultiPolygon), 2)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Retag
	cfg.Vectors = filepath.Join(dir, "South_America_split.shp")
	cfg.Polygons = filepath.Join(dir, "rivbuff.shp")

	require.NoError(t, vector.Write(cfg.Vectors, osmLayer()))
	require.NoError(t, vector.Write(cfg.Polygons, bufferLayer()))

	summary, err := Run(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "South_America_split_retag.shp"), summary.RetagPath)
	assert.Equal(t, filepath.Join(dir, "rivbuff_names_merged.shp"), summary.MergedPath)
	assert.Equal(t, 5, summary.Joined)
	assert.Equal(t, 2, summary.Merged)

	retagged, err := vector.Read(summary.RetagPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"osm_id", "name"}, retagged.FieldNames())

	merged, err := vector.Read(summary.MergedPath)
	require.NoError(t, err)
	require.Equal(t, 2, merged.Len())
	assert.Equal(t, "Tambo", merged.Features[0].Properties["name"])
}

func TestRunMissingTagColumn(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Retag
	cfg.Vectors = filepath.Join(dir, "South_America_split.shp")
	cfg.Polygons = filepath.Join(dir, "rivbuff.shp")
	cfg.TagColumn = "tags"

	require.NoError(t, vector.Write(cfg.Vectors, osmLayer()))
	require.NoError(t, vector.Write(cfg.Polygons, bufferLayer()))

	_, err := Run(cfg)
	assert.ErrorIs(t, err, ErrMissingColumn)
	_, statErr := os.Stat(filepath.Join(dir, "rivbuff_names_merged.shp"))
	assert.True(t, os.IsNotExist(statErr))
}
