package vector

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/kass/go-fieldgis/pkg/log"
)

// dbfNameLength is the longest field name a DBF header can hold
const dbfNameLength = 10

type shapefileDriver struct{}

func (shapefileDriver) read(path string) (*Layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	base := strings.TrimSuffix(path, path[len(path)-4:])
	layer := &Layer{Name: layerName(path)}
	if prj, err := os.ReadFile(base + ".prj"); err == nil {
		layer.CRS = strings.TrimSpace(string(prj))
	}

	var dbfFields []shp.Field
	if _, err := os.Stat(base + ".dbf"); err == nil {
		dbfFields = r.Fields()
	}
	for _, f := range dbfFields {
		layer.Fields = append(layer.Fields, fieldFromDBF(f))
	}

	for r.Next() {
		n, shape := r.Shape()
		g, err := fromShape(shape)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", n, err)
		}

		feat := geojson.NewFeature(g)
		for i, f := range layer.Fields {
			raw := strings.Trim(r.ReadAttribute(n, i), " \x00")
			feat.Properties[f.Name] = parseAttribute(f, raw)
		}
		layer.Features = append(layer.Features, feat)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	layer.GeometryType = layer.geometryType()
	if layer.Len() == 0 {
		layer.GeometryType = geometryTypeFromShape(r.GeometryType)
	}
	return layer, nil
}

func (shapefileDriver) write(path string, layer *Layer) error {
	shapeType, err := shapeTypeFor(layer.geometryType())
	if err != nil {
		return err
	}

	w, err := shp.Create(path, shapeType)
	if err != nil {
		return err
	}

	fields := make([]shp.Field, len(layer.Fields))
	for i, f := range layer.Fields {
		fields[i] = fieldToDBF(f)
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return err
	}

	for i, feat := range layer.Features {
		shape, err := toShape(feat.Geometry)
		if err != nil {
			w.Close()
			return fmt.Errorf("feature %d: %w", i, err)
		}
		row := int(w.Write(shape))
		for j, f := range layer.Fields {
			s := formatAttribute(f, feat.Properties[f.Name])
			if err := w.WriteAttribute(row, j, s); err != nil {
				w.Close()
				return fmt.Errorf("feature %d field %s: %w", i, f.Name, err)
			}
		}
	}
	w.Close()

	// go-shp v0.1.1 names the table <base>dbf, without the dot
	base := strings.TrimSuffix(path, path[len(path)-4:])
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("failed to place attribute table: %w", err)
	}
	if layer.CRS != "" {
		if err := os.WriteFile(base+".prj", []byte(layer.CRS), 0644); err != nil {
			return err
		}
	}
	return os.WriteFile(base+".cpg", []byte("UTF-8"), 0644)
}

func fieldFromDBF(f shp.Field) Field {
	field := Field{Name: f.String(), Width: int(f.Size), Precision: int(f.Precision)}
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			field.Type = Integer
		} else {
			field.Type = Float
		}
	case 'F':
		field.Type = Float
	default:
		field.Type = String
	}
	return field
}

func fieldToDBF(f Field) shp.Field {
	name := f.Name
	if len(name) > dbfNameLength {
		log.Warnw("truncating shapefile field name", "field", name)
		name = name[:dbfNameLength]
	}

	switch f.Type {
	case Integer:
		return shp.NumberField(name, clampWidth(f.Width, 18))
	case Float:
		return shp.FloatField(name, clampWidth(f.Width, 24), uint8(f.Precision))
	}
	return shp.StringField(name, clampWidth(f.Width, 254))
}

func clampWidth(w, def int) uint8 {
	if w <= 0 {
		w = def
	}
	if w > 254 {
		w = 254
	}
	return uint8(w)
}

func parseAttribute(f Field, raw string) interface{} {
	switch f.Type {
	case Integer:
		if raw == "" {
			return nil
		}
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return int(v)
		}
		return nil
	case Float:
		if raw == "" {
			return nil
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return nil
	}
	return raw
}

// formatAttribute renders a property as DBF text no longer than the field
func formatAttribute(f Field, v interface{}) string {
	width := int(clampWidth(f.Width, 254))
	switch f.Type {
	case Integer:
		return strconv.Itoa(value(f, v).(int))
	case Float:
		n, ok := value(f, v).(float64)
		if !ok || math.IsNaN(n) {
			return ""
		}
		s := strconv.FormatFloat(n, 'f', -1, 64)
		if len(s) > width {
			s = strconv.FormatFloat(n, 'e', width-7, 64)
		}
		return s
	}

	s := value(f, v).(string)
	for len(s) > width {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}

func shapeTypeFor(geometryType string) (shp.ShapeType, error) {
	switch geometryType {
	case "Point":
		return shp.POINT, nil
	case "MultiPoint":
		return shp.MULTIPOINT, nil
	case "LineString", "MultiLineString":
		return shp.POLYLINE, nil
	case "Polygon", "MultiPolygon":
		return shp.POLYGON, nil
	}
	return shp.NULL, fmt.Errorf("%w: %s in shapefile", ErrUnsupportedGeometry, geometryType)
}

func geometryTypeFromShape(t shp.ShapeType) string {
	switch t {
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return "MultiPoint"
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return "LineString"
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return "Polygon"
	}
	return "Point"
}

func toShape(g orb.Geometry) (shp.Shape, error) {
	switch g := g.(type) {
	case orb.Point:
		return &shp.Point{X: g[0], Y: g[1]}, nil
	case orb.MultiPoint:
		pts := toShpPoints(g)
		return &shp.MultiPoint{
			Box:       shp.BBoxFromPoints(pts),
			NumPoints: int32(len(pts)),
			Points:    pts,
		}, nil
	case orb.LineString:
		return shp.NewPolyLine([][]shp.Point{toShpPoints(g)}), nil
	case orb.MultiLineString:
		parts := make([][]shp.Point, len(g))
		for i, ls := range g {
			parts[i] = toShpPoints(ls)
		}
		return shp.NewPolyLine(parts), nil
	case orb.Polygon:
		p := shp.Polygon(*shp.NewPolyLine(polygonParts(g)))
		return &p, nil
	case orb.MultiPolygon:
		var parts [][]shp.Point
		for _, poly := range g {
			parts = append(parts, polygonParts(poly)...)
		}
		p := shp.Polygon(*shp.NewPolyLine(parts))
		return &p, nil
	case nil:
		return &shp.Null{}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
}

// polygonParts orders rings the shapefile way: outer ring clockwise,
// holes counter-clockwise
func polygonParts(p orb.Polygon) [][]shp.Point {
	parts := make([][]shp.Point, len(p))
	for i, ring := range p {
		r := ring.Clone()
		if len(r) > 0 && !r.Closed() {
			r = append(r, r[0])
		}
		want := orb.CCW
		if i == 0 {
			want = orb.CW
		}
		if r.Orientation() != want {
			r.Reverse()
		}
		parts[i] = toShpPoints(orb.LineString(r))
	}
	return parts
}

func toShpPoints(pts []orb.Point) []shp.Point {
	out := make([]shp.Point, len(pts))
	for i, p := range pts {
		out[i] = shp.Point{X: p[0], Y: p[1]}
	}
	return out
}

func fromShape(s shp.Shape) (orb.Geometry, error) {
	switch s := s.(type) {
	case *shp.Null:
		return nil, nil
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.MultiPoint:
		return orb.MultiPoint(fromShpPoints(s.Points)), nil
	case *shp.PolyLine:
		return lineFromParts(s.Parts, s.Points), nil
	case *shp.PolyLineZ:
		return lineFromParts(s.Parts, s.Points), nil
	case *shp.PolyLineM:
		return lineFromParts(s.Parts, s.Points), nil
	case *shp.Polygon:
		return polygonFromParts(s.Parts, s.Points), nil
	case *shp.PolygonZ:
		return polygonFromParts(s.Parts, s.Points), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, s)
}

func fromShpPoints(pts []shp.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

func splitParts(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		out = append(out, fromShpPoints(pts[start:end]))
	}
	return out
}

func lineFromParts(parts []int32, pts []shp.Point) orb.Geometry {
	split := splitParts(parts, pts)
	if len(split) == 1 {
		return orb.LineString(split[0])
	}
	mls := make(orb.MultiLineString, len(split))
	for i, p := range split {
		mls[i] = orb.LineString(p)
	}
	return mls
}

// polygonFromParts starts a new polygon at every clockwise ring and attaches
// counter-clockwise rings to the current one as holes
func polygonFromParts(parts []int32, pts []shp.Point) orb.Geometry {
	var mp orb.MultiPolygon
	for _, p := range splitParts(parts, pts) {
		ring := orb.Ring(p)
		if len(mp) == 0 || ring.Orientation() == orb.CW {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		mp[len(mp)-1] = append(mp[len(mp)-1], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}
