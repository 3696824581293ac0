// Package vector reads and writes attributed vector layers. A Layer keeps an
// ordered field schema next to orb/geojson features; the file format is
// chosen by extension (.shp, .geojson/.json, .gpkg).
package vector

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrUnsupportedFormat   = errors.New("unsupported vector format")
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
)

// WGS84 is the well-known text written to .prj files and used as the
// default CRS of new layers
const WGS84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// FieldType is the attribute type of a field
type FieldType int

const (
	String FieldType = iota
	Integer
	Float
)

func (t FieldType) String() string {
	switch t {
	case Integer:
		return "int"
	case Float:
		return "float"
	}
	return "str"
}

// Field describes one attribute column
type Field struct {
	Name      string
	Type      FieldType
	Width     int
	Precision int
}

// StringField returns a text field of the default width
func StringField(name string) Field {
	return Field{Name: name, Type: String, Width: 254}
}

// IntegerField returns an integer field
func IntegerField(name string) Field {
	return Field{Name: name, Type: Integer, Width: 18}
}

// FloatField returns a floating point field
func FloatField(name string) Field {
	return Field{Name: name, Type: Float, Width: 24, Precision: 15}
}

// Layer is an ordered set of features sharing one schema.
// GeometryType uses GeoJSON type names ("Point", "LineString", ...) and is
// only consulted when the layer has no features to infer it from.
type Layer struct {
	Name         string
	GeometryType string
	Fields       []Field
	Features     []*geojson.Feature
	CRS          string
}

// NewLayer creates an empty layer in WGS84
func NewLayer(name, geometryType string, fields ...Field) *Layer {
	return &Layer{
		Name:         name,
		GeometryType: geometryType,
		Fields:       fields,
		CRS:          WGS84,
	}
}

// geometryType returns the GeoJSON type of the first feature, or the
// declared type of an empty layer
func (l *Layer) geometryType() string {
	for _, f := range l.Features {
		if f.Geometry != nil {
			return f.Geometry.GeoJSONType()
		}
	}
	if l.GeometryType != "" {
		return l.GeometryType
	}
	return "Point"
}

// Add appends a feature built from geometry and properties
func (l *Layer) Add(g orb.Geometry, props map[string]interface{}) *geojson.Feature {
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	l.Features = append(l.Features, f)
	return f
}

// Field returns the field named name
func (l *Layer) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the field names in schema order
func (l *Layer) FieldNames() []string {
	names := make([]string, len(l.Fields))
	for i, f := range l.Fields {
		names[i] = f.Name
	}
	return names
}

// DropFields removes the named fields from the schema and every feature.
// Names not present in the layer are ignored.
func (l *Layer) DropFields(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}

	kept := l.Fields[:0]
	for _, f := range l.Fields {
		if !drop[f.Name] {
			kept = append(kept, f)
		}
	}
	l.Fields = kept

	for _, feat := range l.Features {
		for n := range drop {
			delete(feat.Properties, n)
		}
	}
}

// Len returns the number of features
func (l *Layer) Len() int {
	return len(l.Features)
}

type driver interface {
	read(path string) (*Layer, error)
	write(path string, layer *Layer) error
}

func driverFor(path string) (driver, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return shapefileDriver{}, nil
	case ".geojson", ".json":
		return geojsonDriver{}, nil
	case ".gpkg":
		return geopackageDriver{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Read loads the layer stored at path
func Read(path string) (*Layer, error) {
	d, err := driverFor(path)
	if err != nil {
		return nil, err
	}
	layer, err := d.read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return layer, nil
}

// Write stores layer at path, replacing any existing file
func Write(path string, layer *Layer) error {
	d, err := driverFor(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := d.write(path, layer); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReplaceSuffix returns path with suffix inserted before its extension,
// e.g. ("data/rivbuff.shp", "_retag") -> "data/rivbuff_retag.shp"
func ReplaceSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// layerName derives a layer name from a file path
func layerName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// value normalises a property for writing according to the field type.
// Missing and non-finite floats become nil, missing integers 0.
func value(f Field, v interface{}) interface{} {
	switch f.Type {
	case Integer:
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
		return 0
	case Float:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return nil
			}
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
		return nil
	}
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
