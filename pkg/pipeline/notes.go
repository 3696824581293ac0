// Package pipeline runs the field notes workflow end to end: spreadsheet to
// per-partition observation files, then observation files to labelled
// centerline segments.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kass/go-fieldgis/pkg/centerline"
	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/notes"
	"github.com/kass/go-fieldgis/pkg/vector"
)

var ErrNotALine = errors.New("centerline is not a single line")

// PartitionPath substitutes {direction} and {bank} in template with the long
// names of p
func PartitionPath(template string, p models.Partition) string {
	return strings.NewReplacer(
		"{direction}", p.Direction.Name(),
		"{bank}", p.Bank.Name(),
	).Replace(template)
}

// OutputPath returns where the labelled centerline of p is written. Without
// an output template the partition file name has "permafrost" replaced by
// "centerline".
func OutputPath(cfg config.NotesConfig, p models.Partition) string {
	if cfg.OutputTemplate != "" {
		return PartitionPath(cfg.OutputTemplate, p)
	}
	in := PartitionPath(cfg.PartitionTemplate, p)
	dir, base := filepath.Split(in)
	return filepath.Join(dir, strings.ReplaceAll(base, "permafrost", "centerline"))
}

// PartitionCount is the size and location of one written partition
type PartitionCount struct {
	Partition models.Partition
	Path      string
	Count     int
}

// SplitSummary reports a SplitNotes run
type SplitSummary struct {
	Loaded     int
	Clean      notes.CleanReport
	Excluded   int
	Partitions []PartitionCount
}

// SplitNotes loads and cleans the notes spreadsheet and writes one point
// file per partition, including empty ones
func SplitNotes(cfg config.NotesConfig) (*SplitSummary, error) {
	obs, err := notes.Load(cfg.Spreadsheet, notes.Options{Sheet: cfg.Sheet, Columns: cfg.Columns})
	if err != nil {
		return nil, err
	}
	summary := &SplitSummary{Loaded: len(obs)}

	cleaned, report := notes.Clean(obs)
	summary.Clean = report

	parts, excluded := notes.Split(cleaned)
	summary.Excluded = excluded

	for _, p := range models.Partitions() {
		path := PartitionPath(cfg.PartitionTemplate, p)
		layer := notes.ObservationLayer(p.Name(), parts[p])
		if err := vector.Write(path, layer); err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Name(), err)
		}
		log.Infow("wrote partition", "partition", p.Name(), "path", path, "count", layer.Len())
		summary.Partitions = append(summary.Partitions, PartitionCount{Partition: p, Path: path, Count: layer.Len()})
	}
	return summary, nil
}

// LabelCount reports the labelled centerline of one partition
type LabelCount struct {
	Partition    models.Partition
	Path         string
	Observations int
	Segments     int
	Joined       int
	Labelled     int
}

// LabelCenterlines reads every partition file written by SplitNotes, labels
// the centerline with it and writes the segment layer
func LabelCenterlines(cfg config.NotesConfig) ([]LabelCount, error) {
	mode, err := centerline.ParseSnapMode(cfg.SnapMode)
	if err != nil {
		return nil, err
	}

	var counts []LabelCount
	for _, p := range models.Partitions() {
		c, err := labelPartition(cfg, p, mode)
		if err != nil {
			return nil, fmt.Errorf("partition %s: %w", p.Name(), err)
		}
		counts = append(counts, c)
	}
	return counts, nil
}

func labelPartition(cfg config.NotesConfig, p models.Partition, mode centerline.SnapMode) (LabelCount, error) {
	layer, err := vector.Read(PartitionPath(cfg.PartitionTemplate, p))
	if err != nil {
		return LabelCount{}, err
	}
	obs, err := notes.Observations(layer)
	if err != nil {
		return LabelCount{}, err
	}

	line, err := ReadCenterline(PartitionPath(cfg.Centerline, p))
	if err != nil {
		return LabelCount{}, err
	}

	res, err := centerline.Label(line, obs, centerline.TravelFor(p.Direction), centerline.Options{
		Snap: mode,
		Name: p.Name(),
	})
	if err != nil {
		return LabelCount{}, err
	}

	res.Segments.DropFields(cfg.DropColumns...)
	out := OutputPath(cfg, p)
	if err := vector.Write(out, res.Segments); err != nil {
		return LabelCount{}, err
	}

	labelled := 0
	for _, l := range centerline.Labels(res.Segments) {
		if l != "" {
			labelled++
		}
	}
	log.Infow("wrote labelled centerline", "partition", p.Name(), "path", out, "segments", res.Segments.Len(), "labelled", labelled)

	return LabelCount{
		Partition:    p,
		Path:         out,
		Observations: len(obs),
		Segments:     res.Segments.Len(),
		Joined:       res.Joined,
		Labelled:     labelled,
	}, nil
}

// ReadCenterline returns the first feature of the file at path as a line.
// A multi-line is accepted when it has a single part.
func ReadCenterline(path string) (orb.LineString, error) {
	layer, err := vector.Read(path)
	if err != nil {
		return nil, err
	}
	if layer.Len() == 0 {
		return nil, fmt.Errorf("%w: %s has no features", ErrNotALine, path)
	}
	if layer.Len() > 1 {
		log.Warnw("centerline has several features, using the first", "path", path, "features", layer.Len())
	}

	switch g := layer.Features[0].Geometry.(type) {
	case orb.LineString:
		return g, nil
	case orb.MultiLineString:
		if len(g) == 1 {
			return g[0], nil
		}
		return nil, fmt.Errorf("%w: %s has %d parts", ErrNotALine, path, len(g))
	default:
		return nil, fmt.Errorf("%w: %s holds a %T", ErrNotALine, path, g)
	}
}
