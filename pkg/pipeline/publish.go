package pipeline

import (
	"fmt"

	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/postgis"
	"github.com/kass/go-fieldgis/pkg/vector"
)

// PublishCount is the number of segments published for one partition
type PublishCount struct {
	Partition models.Partition
	Path      string
	Segments  int
}

// PublishCenterlines loads the labelled centerlines written by
// LabelCenterlines into the configured PostGIS table, replacing earlier rows
// of the same partition
func PublishCenterlines(notesCfg config.NotesConfig, dbCfg config.PostGISConfig) ([]PublishCount, error) {
	pub, err := postgis.NewPublisher(dbCfg.DSN, dbCfg.Table)
	if err != nil {
		return nil, err
	}
	defer pub.Close()

	if err := pub.InitSchema(); err != nil {
		return nil, err
	}

	var counts []PublishCount
	for _, p := range models.Partitions() {
		path := OutputPath(notesCfg, p)
		layer, err := vector.Read(path)
		if err != nil {
			return counts, fmt.Errorf("partition %s: %w", p.Name(), err)
		}
		n, err := pub.InsertLayer(p.Name(), layer)
		if err != nil {
			return counts, fmt.Errorf("partition %s: %w", p.Name(), err)
		}
		log.Infow("published centerline", "partition", p.Name(), "table", dbCfg.Table, "segments", n)
		counts = append(counts, PublishCount{Partition: p, Path: path, Segments: n})
	}
	return counts, nil
}
