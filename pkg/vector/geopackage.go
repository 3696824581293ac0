package vector

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"
)

const (
	gpkgApplicationID = 1196444487 // "GPKG"
	gpkgUserVersion   = 10300
	gpkgSRSID         = 4326
	gpkgGeometryCol   = "geom"
	gpkgFIDCol        = "fid"
)

var ErrNoFeatureTable = errors.New("geopackage has no feature table")

var textWidth = regexp.MustCompile(`^TEXT\((\d+)\)$`)

type geopackageDriver struct{}

var gpkgSchema = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL,
		min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
		srs_id INTEGER REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name)
	)`,
}

func (geopackageDriver) write(path string, layer *Layer) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to set %q: %w", stmt, err)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range gpkgSchema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create metadata tables: %w", err)
		}
	}

	crs := layer.CRS
	if crs == "" {
		crs = WGS84
	}
	srs := []struct {
		name, org, def string
		id, orgID      int
	}{
		{"Undefined cartesian SRS", "NONE", "undefined", -1, -1},
		{"Undefined geographic SRS", "NONE", "undefined", 0, 0},
		{"WGS 84 geodetic", "EPSG", crs, gpkgSRSID, gpkgSRSID},
	}
	for _, s := range srs {
		if _, err := tx.Exec(
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition) VALUES (?, ?, ?, ?, ?)`,
			s.name, s.id, s.org, s.orgID, s.def,
		); err != nil {
			return fmt.Errorf("failed to insert spatial reference %d: %w", s.id, err)
		}
	}

	name := layer.Name
	if name == "" {
		name = layerName(path)
	}
	geomType := strings.ToUpper(layer.geometryType())

	columns := []string{
		quoteIdent(gpkgFIDCol) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		quoteIdent(gpkgGeometryCol) + " " + geomType,
	}
	for _, f := range layer.Fields {
		columns = append(columns, quoteIdent(f.Name)+" "+sqlType(f))
	}
	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(columns, ", "))); err != nil {
		return fmt.Errorf("failed to create feature table: %w", err)
	}

	var bound orb.Bound
	seen := false
	for _, feat := range layer.Features {
		if feat.Geometry == nil {
			continue
		}
		if !seen {
			bound, seen = feat.Geometry.Bound(), true
			continue
		}
		bound = bound.Union(feat.Geometry.Bound())
	}
	if _, err := tx.Exec(
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, last_change, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, ?, ?, ?, ?, ?, ?)`,
		name, name, time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], gpkgSRSID,
	); err != nil {
		return fmt.Errorf("failed to register contents: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, ?, ?, ?, 0, 0)`,
		name, gpkgGeometryCol, geomType, gpkgSRSID,
	); err != nil {
		return fmt.Errorf("failed to register geometry column: %w", err)
	}

	names := []string{quoteIdent(gpkgGeometryCol)}
	marks := []string{"?"}
	for _, f := range layer.Fields {
		names = append(names, quoteIdent(f.Name))
		marks = append(marks, "?")
	}
	insert, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(name), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return err
	}
	defer insert.Close()

	for i, feat := range layer.Features {
		blob, err := encodeGPKG(feat.Geometry)
		if err != nil {
			return fmt.Errorf("feature %d: %w", i, err)
		}
		args := []interface{}{nil}
		if blob != nil {
			args[0] = blob
		}
		for _, f := range layer.Fields {
			args = append(args, value(f, feat.Properties[f.Name]))
		}
		if _, err := insert.Exec(args...); err != nil {
			return fmt.Errorf("failed to insert feature %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (geopackageDriver) read(path string) (*Layer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var table, geomCol, geomType string
	var srsID int
	err = db.QueryRow(`SELECT c.table_name, g.column_name, g.geometry_type_name, g.srs_id
		FROM gpkg_contents c JOIN gpkg_geometry_columns g ON c.table_name = g.table_name
		WHERE c.data_type = 'features' ORDER BY c.table_name LIMIT 1`).Scan(&table, &geomCol, &geomType, &srsID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoFeatureTable
	}
	if err != nil {
		return nil, err
	}

	layer := &Layer{Name: table, GeometryType: geojsonType(geomType)}
	var def sql.NullString
	if err := db.QueryRow(`SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsID).Scan(&def); err == nil && def.String != "undefined" {
		layer.CRS = def.String
	}

	cols, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	var pk string
	selected := []string{quoteIdent(geomCol)}
	for cols.Next() {
		var (
			cid, notNull, isPK int
			name, typ          string
			dflt               sql.NullString
		)
		if err := cols.Scan(&cid, &name, &typ, &notNull, &dflt, &isPK); err != nil {
			cols.Close()
			return nil, err
		}
		switch {
		case isPK == 1:
			pk = name
		case name == geomCol:
		default:
			layer.Fields = append(layer.Fields, fieldFromSQL(name, typ))
			selected = append(selected, quoteIdent(name))
		}
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selected, ", "), quoteIdent(table))
	if pk != "" {
		query += " ORDER BY " + quoteIdent(pk)
	}
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		vals := make([]interface{}, len(selected))
		ptrs := make([]interface{}, len(selected))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		var g orb.Geometry
		if blob, ok := vals[0].([]byte); ok && len(blob) > 0 {
			if g, err = decodeGPKG(blob); err != nil {
				return nil, fmt.Errorf("feature %d: %w", layer.Len(), err)
			}
		}
		feat := geojson.NewFeature(g)
		for i, f := range layer.Fields {
			feat.Properties[f.Name] = sqlValue(f, vals[i+1])
		}
		layer.Features = append(layer.Features, feat)
	}
	return layer, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func sqlType(f Field) string {
	switch f.Type {
	case Integer:
		return "INTEGER"
	case Float:
		return "REAL"
	}
	if f.Width > 0 {
		return fmt.Sprintf("TEXT(%d)", f.Width)
	}
	return "TEXT"
}

func fieldFromSQL(name, typ string) Field {
	typ = strings.ToUpper(strings.TrimSpace(typ))
	switch {
	case strings.Contains(typ, "INT"):
		return IntegerField(name)
	case strings.Contains(typ, "REAL"), strings.Contains(typ, "DOUBLE"), strings.Contains(typ, "FLOAT"):
		return FloatField(name)
	}
	f := StringField(name)
	if m := textWidth.FindStringSubmatch(typ); m != nil {
		f.Width, _ = strconv.Atoi(m[1])
	}
	return f
}

func sqlValue(f Field, v interface{}) interface{} {
	switch n := v.(type) {
	case nil:
		if f.Type == String {
			return ""
		}
		return nil
	case int64:
		if f.Type == Float {
			return float64(n)
		}
		return int(n)
	case float64:
		if f.Type == Integer {
			return int(n)
		}
		return n
	case []byte:
		return string(n)
	}
	return v
}

func geojsonType(gpkgType string) string {
	switch strings.ToUpper(gpkgType) {
	case "POINT":
		return "Point"
	case "MULTIPOINT":
		return "MultiPoint"
	case "LINESTRING":
		return "LineString"
	case "MULTILINESTRING":
		return "MultiLineString"
	case "POLYGON":
		return "Polygon"
	case "MULTIPOLYGON":
		return "MultiPolygon"
	}
	return ""
}

// encodeGPKG wraps the WKB of g in a GeoPackage binary header carrying
// an XY envelope
func encodeGPKG(g orb.Geometry) ([]byte, error) {
	if g == nil {
		return nil, nil
	}
	t, err := toGeom(g)
	if err != nil {
		return nil, err
	}
	body, err := wkb.Marshal(t, binary.LittleEndian)
	if err != nil {
		return nil, err
	}

	b := g.Bound()
	buf := make([]byte, 8, 8+32+len(body))
	copy(buf, "GP")
	buf[2] = 0    // version 1
	buf[3] = 0x03 // little endian, XY envelope
	binary.LittleEndian.PutUint32(buf[4:], uint32(gpkgSRSID))
	for _, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return append(buf, body...), nil
}

func decodeGPKG(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || string(blob[:2]) != "GP" {
		return nil, errors.New("invalid geopackage geometry header")
	}
	flags := blob[3]
	if flags&0x10 != 0 {
		return nil, nil
	}

	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, fmt.Errorf("invalid envelope indicator in flags %#x", flags)
	}
	if len(blob) < 8+envelope {
		return nil, errors.New("truncated geopackage geometry")
	}

	t, err := wkb.Unmarshal(blob[8+envelope:])
	if err != nil {
		return nil, err
	}
	return fromGeom(t)
}

func toCoords(pts []orb.Point) []geom.Coord {
	out := make([]geom.Coord, len(pts))
	for i, p := range pts {
		out[i] = geom.Coord{p[0], p[1]}
	}
	return out
}

func toRingCoords(p orb.Polygon) [][]geom.Coord {
	out := make([][]geom.Coord, len(p))
	for i, r := range p {
		out[i] = toCoords(r)
	}
	return out
}

func toGeom(g orb.Geometry) (geom.T, error) {
	switch g := g.(type) {
	case orb.Point:
		return geom.NewPointFlat(geom.XY, []float64{g[0], g[1]}), nil
	case orb.MultiPoint:
		return geom.NewMultiPoint(geom.XY).MustSetCoords(toCoords(g)), nil
	case orb.LineString:
		return geom.NewLineString(geom.XY).MustSetCoords(toCoords(g)), nil
	case orb.MultiLineString:
		coords := make([][]geom.Coord, len(g))
		for i, ls := range g {
			coords[i] = toCoords(ls)
		}
		return geom.NewMultiLineString(geom.XY).MustSetCoords(coords), nil
	case orb.Polygon:
		return geom.NewPolygon(geom.XY).MustSetCoords(toRingCoords(g)), nil
	case orb.MultiPolygon:
		coords := make([][][]geom.Coord, len(g))
		for i, p := range g {
			coords[i] = toRingCoords(p)
		}
		return geom.NewMultiPolygon(geom.XY).MustSetCoords(coords), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
}

func fromCoords(cs []geom.Coord) []orb.Point {
	out := make([]orb.Point, len(cs))
	for i, c := range cs {
		out[i] = orb.Point{c.X(), c.Y()}
	}
	return out
}

func fromRingCoords(rings [][]geom.Coord) orb.Polygon {
	p := make(orb.Polygon, len(rings))
	for i, r := range rings {
		p[i] = orb.Ring(fromCoords(r))
	}
	return p
}

func fromGeom(t geom.T) (orb.Geometry, error) {
	switch t := t.(type) {
	case *geom.Point:
		c := t.Coords()
		return orb.Point{c.X(), c.Y()}, nil
	case *geom.MultiPoint:
		mp := make(orb.MultiPoint, t.NumPoints())
		for i := range mp {
			c := t.Point(i).Coords()
			mp[i] = orb.Point{c.X(), c.Y()}
		}
		return mp, nil
	case *geom.LineString:
		return orb.LineString(fromCoords(t.Coords())), nil
	case *geom.MultiLineString:
		coords := t.Coords()
		mls := make(orb.MultiLineString, len(coords))
		for i, cs := range coords {
			mls[i] = orb.LineString(fromCoords(cs))
		}
		return mls, nil
	case *geom.Polygon:
		return fromRingCoords(t.Coords()), nil
	case *geom.MultiPolygon:
		coords := t.Coords()
		mp := make(orb.MultiPolygon, len(coords))
		for i, rings := range coords {
			mp[i] = fromRingCoords(rings)
		}
		return mp, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, t)
}
