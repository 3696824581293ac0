package vector

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"
)

// schemaMember is the foreign member holding the field schema of a layer
const schemaMember = "schema"

type geojsonDriver struct{}

type schemaEntry struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Width     int    `json:"width,omitempty"`
	Precision int    `json:"precision,omitempty"`
}

func (geojsonDriver) read(path string) (*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}

	layer := &Layer{Name: layerName(path), Features: fc.Features, CRS: WGS84}
	if raw, ok := fc.ExtraMembers[schemaMember]; ok {
		layer.Fields = decodeSchema(raw)
	}
	if layer.Fields == nil {
		layer.Fields = inferSchema(fc.Features)
	}

	// JSON numbers decode as float64
	for _, f := range layer.Fields {
		if f.Type != Integer {
			continue
		}
		for _, feat := range layer.Features {
			if n, ok := feat.Properties[f.Name].(float64); ok {
				feat.Properties[f.Name] = int(n)
			}
		}
	}

	layer.GeometryType = layer.geometryType()
	return layer, nil
}

func (geojsonDriver) write(path string, layer *Layer) error {
	fc := geojson.NewFeatureCollection()
	for _, feat := range layer.Features {
		out := geojson.NewFeature(feat.Geometry)
		for _, f := range layer.Fields {
			out.Properties[f.Name] = value(f, feat.Properties[f.Name])
		}
		fc.Append(out)
	}

	schema := make([]schemaEntry, len(layer.Fields))
	for i, f := range layer.Fields {
		schema[i] = schemaEntry{Name: f.Name, Type: f.Type.String(), Width: f.Width, Precision: f.Precision}
	}
	fc.ExtraMembers = geojson.Properties{schemaMember: schema}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func decodeSchema(raw interface{}) []Field {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var entries []schemaEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil
	}

	fields := make([]Field, 0, len(entries))
	for _, e := range entries {
		f := Field{Name: e.Name, Width: e.Width, Precision: e.Precision}
		switch e.Type {
		case "int":
			f.Type = Integer
		case "float":
			f.Type = Float
		}
		fields = append(fields, f)
	}
	return fields
}

// inferSchema builds a schema from the property keys of foreign GeoJSON,
// sorted by name since JSON objects carry no order
func inferSchema(features []*geojson.Feature) []Field {
	types := make(map[string]FieldType)
	for _, feat := range features {
		for k, v := range feat.Properties {
			switch v.(type) {
			case float64:
				if t, ok := types[k]; !ok || t != String {
					types[k] = Float
				}
			case nil:
				if _, ok := types[k]; !ok {
					types[k] = Float
				}
			default:
				types[k] = String
			}
		}
	}

	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, n := range names {
		switch types[n] {
		case Float:
			fields = append(fields, FloatField(n))
		default:
			fields = append(fields, StringField(n))
		}
	}
	return fields
}
