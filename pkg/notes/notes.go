// Package notes loads field waypoints from the season's notes spreadsheet,
// cleans them and splits them by direction of travel and bank.
package notes

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/xuri/excelize/v2"

	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/vector"
)

var (
	ErrMissingColumn = errors.New("missing column")
	ErrEmptySheet    = errors.New("sheet has no header row")
)

// SourceColumns are the spreadsheet headers read by Load, in the order of
// FieldNames
var SourceColumns = []string{
	"Waypoint/location", "lat", "lon",
	"ele", "time", "name",
	"driving direction", "bank L/R", "original perma ID",
	"original notes",
}

// FieldNames are the attribute names the source columns are renamed to
var FieldNames = []string{
	"WP", "lat", "lon",
	"elev", "timestamp", "name",
	"direction", "bank", "permafrost",
	"notes",
}

// Options selects the sheet and headers to read
type Options struct {
	Sheet   string   // defaults to the first sheet
	Columns []string // defaults to SourceColumns
}

// Load reads every data row of the notes spreadsheet at path
func Load(path string, opts Options) ([]models.Observation, error) {
	columns := opts.Columns
	if len(columns) == 0 {
		columns = SourceColumns
	}
	if len(columns) != len(FieldNames) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(FieldNames), len(columns))
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s: %w", path, ErrEmptySheet)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", path, sheet, ErrEmptySheet)
	}
	// positions and elevation are parsed from the stored value, not the
	// number format of the cell
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if _, ok := header[h]; !ok {
			header[h] = i
		}
	}

	idx := make([]int, len(columns))
	for i, c := range columns {
		n, ok := header[c]
		if !ok {
			return nil, fmt.Errorf("%w: %q in %s", ErrMissingColumn, c, path)
		}
		idx[i] = n
	}

	obs := make([]models.Observation, 0, len(rows)-1)
	for r, row := range rows[1:] {
		var rawRow []string
		if r+1 < len(raw) {
			rawRow = raw[r+1]
		}
		text := func(cells []string, i int) string {
			if idx[i] >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[idx[i]])
		}
		cell := func(i int) string { return text(row, i) }
		number := func(i int) float64 { return parseFloat(text(rawRow, i)) }

		obs = append(obs, models.Observation{
			WP:         cell(0),
			Lat:        number(1),
			Lon:        number(2),
			Elev:       number(3),
			Timestamp:  cell(4),
			Name:       cell(5),
			Direction:  models.Direction(cell(6)),
			Bank:       models.Bank(cell(7)),
			Permafrost: models.Permafrost(cell(8)),
			Notes:      cell(9),
		})
	}

	log.Debugw("loaded notes", "path", path, "sheet", sheet, "rows", len(obs))
	return obs, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// CleanReport counts the rows changed by Clean
type CleanReport struct {
	Dropped    int // rows without a finite position
	Normalised int // rows whose permafrost value was rewritten to U
}

// Clean drops observations without a finite position and rewrites any
// permafrost value other than Y or N to U
func Clean(obs []models.Observation) ([]models.Observation, CleanReport) {
	var report CleanReport
	out := make([]models.Observation, 0, len(obs))

	for _, o := range obs {
		if !finite(o.Lat) || !finite(o.Lon) {
			report.Dropped++
			continue
		}
		if o.Permafrost != models.PermafrostYes && o.Permafrost != models.PermafrostNo {
			if o.Permafrost != models.PermafrostUncertain {
				report.Normalised++
			}
			o.Permafrost = models.PermafrostUncertain
		}
		out = append(out, o)
	}

	log.Debugw("cleaned notes", "kept", len(out), "dropped", report.Dropped, "normalised", report.Normalised)
	return out, report
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Split groups observations into the four (direction, bank) partitions.
// Every partition is present in the result, possibly empty. The second
// return value counts records with an unrecognised direction or bank.
func Split(obs []models.Observation) (map[models.Partition][]models.Observation, int) {
	parts := make(map[models.Partition][]models.Observation, 4)
	for _, p := range models.Partitions() {
		parts[p] = nil
	}

	excluded := 0
	for _, o := range obs {
		if !o.Direction.Valid() || !o.Bank.Valid() {
			excluded++
			continue
		}
		p := models.Partition{Direction: o.Direction, Bank: o.Bank}
		parts[p] = append(parts[p], o)
	}

	if excluded > 0 {
		log.Warnw("observations outside every partition", "count", excluded)
	}
	return parts, excluded
}

// Fields returns the attribute schema of an observation layer
func Fields() []vector.Field {
	fields := make([]vector.Field, len(FieldNames))
	for i, name := range FieldNames {
		switch name {
		case "lat", "lon", "elev":
			fields[i] = vector.FloatField(name)
		default:
			fields[i] = vector.StringField(name)
		}
	}
	return fields
}

// ObservationLayer converts observations to a point layer
func ObservationLayer(name string, obs []models.Observation) *vector.Layer {
	layer := vector.NewLayer(name, "Point", Fields()...)
	for _, o := range obs {
		layer.Add(o.Point(), Properties(o))
	}
	return layer
}

// Properties returns the attributes of o keyed by FieldNames
func Properties(o models.Observation) map[string]interface{} {
	return map[string]interface{}{
		"WP":         o.WP,
		"lat":        o.Lat,
		"lon":        o.Lon,
		"elev":       o.Elev,
		"timestamp":  o.Timestamp,
		"name":       o.Name,
		"direction":  string(o.Direction),
		"bank":       string(o.Bank),
		"permafrost": string(o.Permafrost),
		"notes":      o.Notes,
	}
}

// Observations reads observations back from a point layer written by
// ObservationLayer. The position comes from the geometry.
func Observations(layer *vector.Layer) ([]models.Observation, error) {
	obs := make([]models.Observation, 0, layer.Len())
	for i, f := range layer.Features {
		p, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: expected a point, got %T", i, f.Geometry)
		}
		props := f.Properties
		obs = append(obs, models.Observation{
			WP:         str(props["WP"]),
			Lat:        p[1],
			Lon:        p[0],
			Elev:       num(props["elev"]),
			Timestamp:  str(props["timestamp"]),
			Name:       str(props["name"]),
			Direction:  models.Direction(str(props["direction"])),
			Bank:       models.Bank(str(props["bank"])),
			Permafrost: models.Permafrost(str(props["permafrost"])),
			Notes:      str(props["notes"]),
		})
	}
	return obs, nil
}

func str(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return math.NaN()
}
