package notes

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/vector"
)

// writeWorkbook saves rows (header first) to a fresh workbook
func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}

	path := filepath.Join(t.TempDir(), "notes.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func header() []interface{} {
	h := make([]interface{}, len(SourceColumns))
	for i, c := range SourceColumns {
		h[i] = c
	}
	return h
}

func TestLoad(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		header(),
		{"001", 64.5, -140.25, 310.5, "2018-07-02 10:14", "bluff", "u", "L", "Y", "ice wedge exposed"},
		{" 002 ", "", -140.3, "", "2018-07-02 10:20", "", "d", "R", "maybe", ""},
	})

	obs, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, obs, 2)

	first := obs[0]
	assert.Equal(t, "001", first.WP)
	assert.Equal(t, 64.5, first.Lat)
	assert.Equal(t, -140.25, first.Lon)
	assert.Equal(t, 310.5, first.Elev)
	assert.Equal(t, models.Upriver, first.Direction)
	assert.Equal(t, models.Left, first.Bank)
	assert.Equal(t, models.PermafrostYes, first.Permafrost)
	assert.Equal(t, "ice wedge exposed", first.Notes)

	second := obs[1]
	assert.Equal(t, "002", second.WP)
	assert.True(t, math.IsNaN(second.Lat))
	assert.True(t, math.IsNaN(second.Elev))
	assert.Equal(t, models.Permafrost("maybe"), second.Permafrost)
}

func TestLoadIgnoresNumberFormat(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		header(),
		{"001", 64.123456, -140.987654, 310.75, "2018-07-02 10:14", "", "u", "L", "Y", ""},
	})

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	style, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle("Sheet1", "B2", "D2", style))
	require.NoError(t, f.Save())
	require.NoError(t, f.Close())

	obs, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 64.123456, obs[0].Lat)
	assert.Equal(t, -140.987654, obs[0].Lon)
	assert.Equal(t, 310.75, obs[0].Elev)
	assert.Equal(t, "2018-07-02 10:14", obs[0].Timestamp)
}

func TestLoadColumnOrderIndependent(t *testing.T) {
	h := header()
	h[0], h[9] = h[9], h[0]
	path := writeWorkbook(t, [][]interface{}{
		h,
		{"note", 64.5, -140.25, 310.5, "t", "n", "u", "L", "N", "007"},
	})

	obs, err := Load(path, Options{})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "007", obs[0].WP)
	assert.Equal(t, "note", obs[0].Notes)
}

func TestLoadMissingColumn(t *testing.T) {
	h := header()[:7]
	path := writeWorkbook(t, [][]interface{}{h})

	_, err := Load(path, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "bank L/R")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.xlsx"), Options{})
	assert.Error(t, err)

	path := writeWorkbook(t, [][]interface{}{header()})
	_, err = Load(path, Options{Sheet: "Sheet9"})
	assert.Error(t, err)

	_, err = Load(path, Options{Columns: []string{"lat"}})
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	obs := []models.Observation{
		{WP: "1", Lat: 64, Lon: -140, Permafrost: "Y"},
		{WP: "2", Lat: math.NaN(), Lon: -140, Permafrost: "Y"},
		{WP: "3", Lat: 64, Lon: math.Inf(1), Permafrost: "N"},
		{WP: "4", Lat: 64, Lon: -140, Permafrost: "N"},
		{WP: "5", Lat: 64, Lon: -140, Permafrost: "?"},
		{WP: "6", Lat: 64, Lon: -140, Permafrost: ""},
		{WP: "7", Lat: 64, Lon: -140, Permafrost: "U"},
	}

	cleaned, report := Clean(obs)
	assert.Equal(t, CleanReport{Dropped: 2, Normalised: 2}, report)
	require.Len(t, cleaned, 5)

	want := []models.Permafrost{"Y", "N", "U", "U", "U"}
	for i, o := range cleaned {
		assert.True(t, o.Permafrost.Valid(), "record %s", o.WP)
		assert.Equal(t, want[i], o.Permafrost, "record %s", o.WP)
	}

	// input is not modified
	assert.Equal(t, models.Permafrost("?"), obs[4].Permafrost)
}

func TestSplitIsDisjointCover(t *testing.T) {
	obs := []models.Observation{
		{WP: "1", Direction: "u", Bank: "L"},
		{WP: "2", Direction: "u", Bank: "R"},
		{WP: "3", Direction: "d", Bank: "L"},
		{WP: "4", Direction: "d", Bank: "L"},
		{WP: "5", Direction: "x", Bank: "L"},
		{WP: "6", Direction: "u", Bank: ""},
		{WP: "7", Direction: "U", Bank: "L"},
	}

	parts, excluded := Split(obs)
	assert.Equal(t, 3, excluded)
	require.Len(t, parts, 4)

	seen := make(map[string]bool)
	total := 0
	for p, subset := range parts {
		for _, o := range subset {
			assert.Equal(t, p.Direction, o.Direction)
			assert.Equal(t, p.Bank, o.Bank)
			assert.False(t, seen[o.WP], "record %s in two partitions", o.WP)
			seen[o.WP] = true
		}
		total += len(subset)
	}
	assert.Equal(t, 4, total)
	assert.Len(t, parts[models.Partition{Direction: models.Downriver, Bank: models.Left}], 2)
	assert.Empty(t, parts[models.Partition{Direction: models.Downriver, Bank: models.Right}])
}

func TestObservationLayerRoundTrip(t *testing.T) {
	obs := []models.Observation{
		{WP: "001", Lat: 64.5, Lon: -140.25, Elev: 310.5, Timestamp: "t1", Name: "bluff",
			Direction: "u", Bank: "L", Permafrost: "Y", Notes: "ice"},
		{WP: "002", Lat: 64.6, Lon: -140.35, Elev: math.NaN(), Direction: "u", Bank: "L", Permafrost: "U"},
	}

	layer := ObservationLayer("upriver_left", obs)
	assert.Equal(t, FieldNames, layer.FieldNames())

	path := filepath.Join(t.TempDir(), "KY18_permafrost_upriver_left.shp")
	require.NoError(t, vector.Write(path, layer))

	read, err := vector.Read(path)
	require.NoError(t, err)
	got, err := Observations(read)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, obs[0], got[0])
	assert.Equal(t, "002", got[1].WP)
	assert.True(t, math.IsNaN(got[1].Elev))
	assert.Equal(t, models.PermafrostUncertain, got[1].Permafrost)
}
