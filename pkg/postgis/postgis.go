// Package postgis publishes labelled centerline segments to a PostGIS table.
package postgis

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/kass/go-fieldgis/pkg/centerline"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/vector"
)

var (
	ErrNoDSN       = errors.New("no PostGIS connection string configured")
	ErrNotASegment = errors.New("feature is not a line segment")
)

// Segment is one published row
type Segment struct {
	Partition  string
	Seg        int
	Permafrost string
	WP         string
	Notes      string
	SnapDist   sql.NullFloat64
	Geometry   orb.LineString
}

type Publisher struct {
	db    *sql.DB
	table string
}

// NewPublisher connects to the database at dsn and publishes into table
func NewPublisher(dsn, table string) (*Publisher, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Publisher{db: db, table: table}, nil
}

func (p *Publisher) quoted() string {
	return pq.QuoteIdentifier(p.table)
}

// InitSchema creates the PostGIS extension, the segment table and its
// spatial index when they do not exist
func (p *Publisher) InitSchema() error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			partition TEXT NOT NULL,
			seg INTEGER NOT NULL,
			permafrost TEXT NOT NULL DEFAULT '',
			wp TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			snap_dist DOUBLE PRECISION,
			geom GEOMETRY(LINESTRING, 4326) NOT NULL,
			UNIQUE (partition, seg)
		);`, p.quoted()),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIST(geom);`,
			pq.QuoteIdentifier("idx_"+p.table+"_geom"), p.quoted()),
	}

	for _, query := range queries {
		if _, err := p.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// SegmentFromFeature reads the published columns of a labelled segment
func SegmentFromFeature(partition string, f *geojson.Feature) (Segment, error) {
	line, ok := f.Geometry.(orb.LineString)
	if !ok {
		return Segment{}, fmt.Errorf("%w: %T", ErrNotASegment, f.Geometry)
	}

	s := Segment{Partition: partition, Geometry: line}
	switch v := f.Properties[centerline.SegmentField].(type) {
	case int:
		s.Seg = v
	case float64:
		s.Seg = int(v)
	default:
		return Segment{}, fmt.Errorf("%w: missing %s", ErrNotASegment, centerline.SegmentField)
	}
	s.Permafrost, _ = f.Properties[centerline.LabelField].(string)
	s.WP, _ = f.Properties["WP"].(string)
	s.Notes, _ = f.Properties["notes"].(string)
	if d, ok := f.Properties[centerline.SnapDistField].(float64); ok {
		s.SnapDist = sql.NullFloat64{Float64: d, Valid: true}
	}
	return s, nil
}

// InsertLayer replaces the rows of partition with the segments of layer in
// one transaction and returns the number of rows written
func (p *Publisher) InsertLayer(partition string, layer *vector.Layer) (int, error) {
	segments := make([]Segment, 0, layer.Len())
	for i, f := range layer.Features {
		s, err := SegmentFromFeature(partition, f)
		if err != nil {
			return 0, fmt.Errorf("feature %d: %w", i, err)
		}
		segments = append(segments, s)
	}

	tx, err := p.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE partition = $1`, p.quoted()), partition); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to clear partition %s: %w", partition, err)
	}

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s (partition, seg, permafrost, wp, notes, snap_dist, geom)
		VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromText($7, 4326))
	`, p.quoted()))
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range segments {
		_, err := stmt.Exec(s.Partition, s.Seg, s.Permafrost, s.WP, s.Notes, s.SnapDist, wkt.MarshalString(s.Geometry))
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert segment %d: %w", s.Seg, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	log.Debugw("published partition", "table", p.table, "partition", partition, "segments", len(segments))
	return len(segments), nil
}

// Segments returns the published rows of partition ordered by segment
func (p *Publisher) Segments(partition string) ([]Segment, error) {
	rows, err := p.db.Query(fmt.Sprintf(`
		SELECT partition, seg, permafrost, wp, notes, snap_dist, ST_AsText(geom)
		FROM %s
		WHERE partition = $1
		ORDER BY seg
	`, p.quoted()), partition)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var results []Segment
	for rows.Next() {
		var s Segment
		var text string
		if err := rows.Scan(&s.Partition, &s.Seg, &s.Permafrost, &s.WP, &s.Notes, &s.SnapDist, &text); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		line, err := wkt.UnmarshalLineString(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse geometry of segment %d: %w", s.Seg, err)
		}
		s.Geometry = line
		results = append(results, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// Count returns the number of rows of partition, or of the whole table when
// partition is empty
func (p *Publisher) Count(partition string) (int64, error) {
	var count int64
	var err error
	if partition == "" {
		err = p.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", p.quoted())).Scan(&count)
	} else {
		err = p.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE partition = $1", p.quoted()), partition).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count segments: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (p *Publisher) Close() error {
	return p.db.Close()
}
