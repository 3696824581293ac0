package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb"

	"github.com/kass/go-fieldgis/pkg/centerline"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/models"
	"github.com/kass/go-fieldgis/pkg/rtree"
)

func must(err error) {
	if err != nil {
		log.Errorw("example failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func main() {
	must(log.Init(false))
	defer log.Sync()

	// A stretch of the Koyukuk near Hughes, downstream to the west
	river := orb.LineString{
		{-154.20, 66.05},
		{-154.25, 66.04},
		{-154.30, 66.05},
		{-154.35, 66.06},
		{-154.40, 66.05},
		{-154.45, 66.04},
		{-154.50, 66.05},
	}

	obs := []models.Observation{
		{WP: "011", Lat: 66.045, Lon: -154.24, Direction: models.Downriver, Bank: models.Left, Permafrost: models.PermafrostYes, Notes: "ice wedge"},
		{WP: "012", Lat: 66.058, Lon: -154.37, Direction: models.Downriver, Bank: models.Left, Permafrost: models.PermafrostNo},
		{WP: "013", Lat: 66.043, Lon: -154.47, Direction: models.Downriver, Bank: models.Left, Permafrost: models.PermafrostUncertain, Notes: "slumped"},
	}

	index, err := rtree.NewSegmentIndex(river)
	must(err)
	fmt.Printf("Indexed %d centerline segments\n\n", index.Len())

	fmt.Println("=== Snapping observations ===")
	for _, o := range obs {
		n := index.NearestSegment(o.Point())
		v, _ := index.NearestVertex(o.Point())
		fmt.Printf("  %s: segment %d at (%.4f, %.4f), nearest vertex %d\n", o.WP, n.Segment, n.Point.Lon(), n.Point.Lat(), v)
	}

	for _, travel := range []centerline.Travel{centerline.Forward, centerline.Backward} {
		res, err := centerline.Label(river, obs, travel, centerline.Options{Name: "example"})
		must(err)

		labels := centerline.Labels(res.Segments)
		for i, l := range labels {
			if l == "" {
				labels[i] = "-"
			}
		}
		fmt.Printf("\n=== %s propagation ===\n", travel)
		fmt.Printf("  joined %d of %d segments\n", res.Joined, res.Segments.Len())
		fmt.Printf("  labels: %s\n", strings.Join(labels, " "))
	}
}
