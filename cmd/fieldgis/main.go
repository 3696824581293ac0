package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/imagery"
	"github.com/kass/go-fieldgis/pkg/log"
	"github.com/kass/go-fieldgis/pkg/pipeline"
	"github.com/kass/go-fieldgis/pkg/raster"
	"github.com/kass/go-fieldgis/pkg/retag"
)

var (
	configFile string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fieldgis",
	Short: "Field survey GIS pipelines",
	Long: `Converts spreadsheet permafrost observations into labelled river centerline
segments, retags scraped OSM vectors, converts MATLAB classification maps to
GeoTIFF and lists Landsat scenes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
		return log.Init(verbose || cfg.Debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Field notes to labelled centerline",
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split the notes spreadsheet into direction/bank partitions",
	RunE:  runSplit,
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Label each partition's centerline with its observations",
	RunE:  runLabel,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Split, then label",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runSplit(cmd, args); err != nil {
			return err
		}
		return runLabel(cmd, args)
	},
}

var retagCmd = &cobra.Command{
	Use:   "retag",
	Short: "Extract OSM names and merge named river polygons",
	RunE:  runRetag,
}

var rasterizeCmd = &cobra.Command{
	Use:   "rasterize",
	Short: "Convert MATLAB classification maps to GeoTIFF",
	RunE:  runRasterize,
}

var imagelistCmd = &cobra.Command{
	Use:   "imagelist [base directory]",
	Short: "Write Landsat scene lists for every imagery directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImagelist,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Load labelled centerlines into PostGIS",
	RunE:  runPublish,
}

var (
	spreadsheet string
	centerline  string
	snapMode    string
	vectors     string
	polygons    string
	imageryPath string
	regions     []string
	variable    string
	dsn         string
	table       string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	notesCmd.PersistentFlags().StringVar(&spreadsheet, "spreadsheet", "", "Notes spreadsheet (.xlsx)")
	notesCmd.PersistentFlags().StringVar(&centerline, "centerline", "", "Centerline file, may contain {direction} and {bank}")
	notesCmd.PersistentFlags().StringVar(&snapMode, "snap", "", "Snap mode: line or vertex")
	notesCmd.AddCommand(splitCmd, labelCmd, runCmd)

	retagCmd.Flags().StringVar(&vectors, "vectors", "", "OSM vector file with a tag column")
	retagCmd.Flags().StringVar(&polygons, "polygons", "", "River polygons to name")

	rasterizeCmd.Flags().StringVar(&imageryPath, "imagery", "", "Directory holding the region directories")
	rasterizeCmd.Flags().StringSliceVar(&regions, "regions", nil, "Region directories to convert")
	rasterizeCmd.Flags().StringVar(&variable, "variable", "", "MAT variable holding the classification")

	publishCmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string")
	publishCmd.Flags().StringVar(&table, "table", "", "Destination table")

	rootCmd.AddCommand(notesCmd, retagCmd, rasterizeCmd, imagelistCmd, publishCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func notesConfig() config.NotesConfig {
	n := cfg.Notes
	if spreadsheet != "" {
		n.Spreadsheet = spreadsheet
	}
	if centerline != "" {
		n.Centerline = centerline
	}
	if snapMode != "" {
		n.SnapMode = snapMode
	}
	return n
}

func runSplit(cmd *cobra.Command, args []string) error {
	n := notesConfig()
	fmt.Printf("Splitting %s...\n", n.Spreadsheet)

	res, err := pipeline.SplitNotes(n)
	if err != nil {
		return err
	}

	stats := []stat{
		{label: "observations", value: res.Loaded},
		{label: "dropped (no position)", value: res.Clean.Dropped},
		{label: "normalised to U", value: res.Clean.Normalised},
		{label: "excluded (no partition)", value: res.Excluded},
	}
	for _, p := range res.Partitions {
		stats = append(stats, stat{label: p.Partition.Name(), value: p.Count, note: p.Path})
	}
	fmt.Println(summary("Split", stats))
	return nil
}

func runLabel(cmd *cobra.Command, args []string) error {
	n := notesConfig()
	fmt.Printf("Labelling centerlines (%s snap)...\n", n.SnapMode)

	counts, err := pipeline.LabelCenterlines(n)
	if err != nil {
		return err
	}

	var stats []stat
	for _, c := range counts {
		stats = append(stats, stat{
			label: c.Partition.Name(),
			value: fmt.Sprintf("%d/%d", c.Labelled, c.Segments),
			note:  fmt.Sprintf("%d observations, %d joined -> %s", c.Observations, c.Joined, c.Path),
		})
	}
	fmt.Println(summary("Labelled segments", stats))
	return nil
}

func runRetag(cmd *cobra.Command, args []string) error {
	r := cfg.Retag
	if vectors != "" {
		r.Vectors = vectors
	}
	if polygons != "" {
		r.Polygons = polygons
	}
	fmt.Printf("Retagging %s...\n", r.Vectors)

	res, err := retag.Run(r)
	if err != nil {
		return err
	}

	fmt.Println(summary("Retag", []stat{
		{label: "features", value: res.Retag.Features, note: res.RetagPath},
		{label: "named", value: res.Retag.Named},
		{label: "discarded fragments", value: res.Retag.Discarded},
		{label: "polygon matches", value: res.Joined},
		{label: "merged names", value: res.Merged, note: res.MergedPath},
	}))
	return nil
}

func runRasterize(cmd *cobra.Command, args []string) error {
	r := cfg.Raster
	if imageryPath != "" {
		r.ImageryPath = imageryPath
	}
	if len(regions) > 0 {
		r.Regions = regions
	}
	if variable != "" {
		r.Variable = variable
	}

	// raster.Run logs each region as it starts on it
	results, err := raster.Run(r)

	var stats []stat
	for _, res := range results {
		stats = append(stats, stat{
			label: filepath.Base(res.Dir),
			value: len(res.Converted),
			note:  fmt.Sprintf("converted, %d skipped", len(res.Skipped)),
		})
	}
	if len(stats) > 0 {
		fmt.Println(summary("Rasterize", stats))
	}
	return err
}

func runImagelist(cmd *cobra.Command, args []string) error {
	base := cfg.Imagery.BaseDirectory
	if len(args) == 1 {
		base = args[0]
	}

	counts, err := imagery.NewLister(cfg.Imagery.ListName).ProcessTree(base)

	dirs := make([]string, 0, len(counts))
	for dir := range counts {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var stats []stat
	for _, dir := range dirs {
		stats = append(stats, stat{label: filepath.Base(dir), value: counts[dir], note: "scenes"})
	}
	if len(stats) > 0 {
		fmt.Println(summary("Image lists", stats))
	}
	return err
}

func runPublish(cmd *cobra.Command, args []string) error {
	db := cfg.PostGIS
	if dsn != "" {
		db.DSN = dsn
	}
	if table != "" {
		db.Table = table
	}
	fmt.Printf("Publishing to %s...\n", db.Table)

	counts, err := pipeline.PublishCenterlines(cfg.Notes, db)

	var stats []stat
	for _, c := range counts {
		stats = append(stats, stat{label: c.Partition.Name(), value: c.Segments, note: c.Path})
	}
	if len(stats) > 0 {
		fmt.Println(summary("Published segments", stats))
	}
	return err
}
