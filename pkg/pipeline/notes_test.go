package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kass/go-fieldgis/pkg/centerline"
	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/notes"
	"github.com/kass/go-fieldgis/pkg/vector"
)

func TestPartitionPath(t *testing.T) {
	p := models.Partition{Direction: models.Upriver, Bank: models.Left}
	assert.Equal(t, "split/KY18_permafrost_upriver_left.shp",
		PartitionPath("split/KY18_permafrost_{direction}_{bank}.shp", p))
}

func TestOutputPath(t *testing.T) {
	p := models.Partition{Direction: models.Downriver, Bank: models.Right}
	cfg := config.NotesConfig{PartitionTemplate: "permafrost/KY18_permafrost_{direction}_{bank}.shp"}
	assert.Equal(t, filepath.Join("permafrost", "KY18_centerline_downriver_right.shp"), OutputPath(cfg, p))

	cfg.OutputTemplate = "out/{bank}_{direction}.gpkg"
	assert.Equal(t, "out/right_downriver.gpkg", OutputPath(cfg, p))
}

// writeNotes saves a small season workbook
func writeNotes(t *testing.T, path string) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	rows := [][]interface{}{
		make([]interface{}, len(notes.SourceColumns)),
		{"001", 0.05, 1.5, 300.0, "t1", "", "u", "L", "Y", "frozen bank"},
		{"002", -0.05, 3.5, 300.0, "t2", "", "d", "L", "N", ""},
		{"003", 0.05, 0.5, 300.0, "t3", "", "d", "R", "?", ""},
		{"004", "", 2.5, 300.0, "t4", "", "d", "R", "Y", "no gps"},
		{"005", 0.05, 2.5, 300.0, "t5", "", "x", "R", "Y", ""},
	}
	for i, c := range notes.SourceColumns {
		rows[0][i] = c
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestNotesPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default().Notes
	cfg.Spreadsheet = filepath.Join(dir, "notes.xlsx")
	cfg.Centerline = filepath.Join(dir, "centerline.shp")
	cfg.PartitionTemplate = filepath.Join(dir, "split", "KY18_permafrost_{direction}_{bank}.shp")

	writeNotes(t, cfg.Spreadsheet)

	line := vector.NewLayer("centerline", "LineString", vector.StringField("river"))
	line.Add(orb.LineString{{0, 0}, {1, 0}, {2, 0}, {3, 0}, {4, 0}}, map[string]interface{}{"river": "Koyukuk"})
	require.NoError(t, vector.Write(cfg.Centerline, line))

	split, err := SplitNotes(cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, split.Loaded)
	assert.Equal(t, notes.CleanReport{Dropped: 1, Normalised: 1}, split.Clean)
	assert.Equal(t, 1, split.Excluded)
	require.Len(t, split.Partitions, 4)

	total := 0
	for _, pc := range split.Partitions {
		total += pc.Count
	}
	assert.Equal(t, 3, total)

	counts, err := LabelCenterlines(cfg)
	require.NoError(t, err)
	require.Len(t, counts, 4)

	byName := make(map[string]LabelCount)
	for _, c := range counts {
		byName[c.Partition.Name()] = c
		assert.Equal(t, 4, c.Segments)
	}
	assert.Equal(t, 1, byName["downriver_right"].Joined)
	assert.Equal(t, 4, byName["downriver_right"].Labelled)
	assert.Equal(t, 0, byName["upriver_right"].Labelled)

	ul, err := vector.Read(byName["upriver_left"].Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Y", "Y", "", ""}, centerline.Labels(ul))
	_, ok := ul.Field(centerline.IndexRightField)
	assert.False(t, ok)

	dl, err := vector.Read(byName["downriver_left"].Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "", "", "N"}, centerline.Labels(dl))

	dr, err := vector.Read(byName["downriver_right"].Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"U", "U", "U", "U"}, centerline.Labels(dr))
}

func TestReadCenterline(t *testing.T) {
	dir := t.TempDir()

	multi := vector.NewLayer("multi", "MultiLineString")
	multi.Add(orb.MultiLineString{{{0, 0}, {1, 1}}}, nil)
	path := filepath.Join(dir, "multi.geojson")
	require.NoError(t, vector.Write(path, multi))

	line, err := ReadCenterline(path)
	require.NoError(t, err)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, line)

	points := vector.NewLayer("points", "Point")
	points.Add(orb.Point{0, 0}, nil)
	path = filepath.Join(dir, "points.geojson")
	require.NoError(t, vector.Write(path, points))

	_, err = ReadCenterline(path)
	assert.ErrorIs(t, err, ErrNotALine)
}
