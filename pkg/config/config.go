// Package config holds the paths and options of every pipeline. Defaults
// reproduce the field season layout; a YAML file and FIELDGIS_* environment
// variables override them.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kass/go-fieldgis/pkg/notes"
)

// Config is the complete configuration
type Config struct {
	Debug   bool          `yaml:"debug"`
	Notes   NotesConfig   `yaml:"notes"`
	Retag   RetagConfig   `yaml:"retag"`
	Raster  RasterConfig  `yaml:"raster"`
	Imagery ImageryConfig `yaml:"imagery"`
	PostGIS PostGISConfig `yaml:"postgis"`
}

// NotesConfig configures the field notes -> centerline pipeline
type NotesConfig struct {
	Spreadsheet       string   `yaml:"spreadsheet"`
	Sheet             string   `yaml:"sheet"`
	Columns           []string `yaml:"columns"`
	Centerline        string   `yaml:"centerline"`
	PartitionTemplate string   `yaml:"partition_template"`
	OutputTemplate    string   `yaml:"output_template"`
	SnapMode          string   `yaml:"snap_mode"`
	DropColumns       []string `yaml:"drop_columns"`
}

// RetagConfig configures the OSM retagging pipeline
type RetagConfig struct {
	Vectors   string `yaml:"vectors"`
	Polygons  string `yaml:"polygons"`
	TagColumn string `yaml:"tag_column"`
	IDColumn  string `yaml:"id_column"`
}

// RasterConfig configures the MAT -> GeoTIFF conversion
type RasterConfig struct {
	ImageryPath string   `yaml:"imagery_path"`
	Regions     []string `yaml:"regions"`
	Variable    string   `yaml:"variable"`
}

// ImageryConfig configures the Landsat image list builder
type ImageryConfig struct {
	BaseDirectory string `yaml:"base_directory"`
	ListName      string `yaml:"list_name"`
}

// PostGISConfig configures publishing of labelled segments
type PostGISConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Default returns the configuration used by the 2018 field season
func Default() *Config {
	return &Config{
		Notes: NotesConfig{
			Spreadsheet:       "data/KY18_PermafrostBankIDs.xlsx",
			Columns:           append([]string(nil), notes.SourceColumns...),
			Centerline:        "data/KY_centerline_072018.shp",
			PartitionTemplate: "split/KY18_permafrost_{direction}_{bank}.shp",
			SnapMode:          "line",
			DropColumns:       []string{"geometry_left", "geometry_right", "index_right"},
		},
		Retag: RetagConfig{
			Vectors:   "data/South_America_split.shp",
			Polygons:  "data/rivbuff.shp",
			TagColumn: "other_tags",
			IDColumn:  "osm_id",
		},
		Raster: RasterConfig{
			ImageryPath: "data/Ucayali/images/",
			Regions:     []string{"R3", "R4", "R5", "R6"},
			Variable:    "cmap",
		},
		Imagery: ImageryConfig{
			BaseDirectory: "data/cleaned/Ucayali/images/",
			ListName:      "imagelist.txt",
		},
		PostGIS: PostGISConfig{
			Table: "centerline_segments",
		},
	}
}

// Load returns Default() overridden by the YAML file at path (if non-empty)
// and then by the environment. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := loadDotenv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotenv exports the variables of the dotenv file at path. A missing file
// is not an error
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("FIELDGIS_POSTGIS_DSN"); ok {
		c.PostGIS.DSN = v
	}
	if v, ok := os.LookupEnv("FIELDGIS_IMAGERY_PATH"); ok {
		c.Raster.ImageryPath = v
	}
	if v, ok := os.LookupEnv("FIELDGIS_DEBUG"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid FIELDGIS_DEBUG %q: %w", v, err)
		}
		c.Debug = debug
	}
	return nil
}
