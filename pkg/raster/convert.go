// Package raster converts legacy MATLAB classification matrices into
// single-band GeoTIFFs georeferenced like a sibling reference raster.
package raster

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/kass/go-fieldgis/pkg/config"
	"github.com/kass/go-fieldgis/pkg/log"
)

var ErrShapeMismatch = errors.New("matrix does not fit raster shape")

// DefaultVariable is the MAT variable holding the classification map
const DefaultVariable = "cmap"

// Reshape lays the column-major data of m out as a height x width band, so
// that band(r, c) is element r + c*height
func Reshape(m *Matrix, height, width int) (*mat.Dense, error) {
	if height <= 0 || width <= 0 || len(m.Data) != height*width {
		return nil, fmt.Errorf("%w: %d values into %dx%d", ErrShapeMismatch, len(m.Data), height, width)
	}
	if len(m.Dims) == 2 && (m.Dims[0] != height || m.Dims[1] != width) {
		log.Debugw("reshaping matrix", "name", m.Name, "dims", m.Dims, "height", height, "width", width)
	}

	// row-major width x height is the transpose of column-major height x width
	columns := mat.NewDense(width, height, m.Data)
	var band mat.Dense
	band.CloneFrom(columns.T())
	return &band, nil
}

// ProfilePath returns the reference raster of a region directory,
// base_<region>_1.tif
func ProfilePath(dir string) string {
	region := filepath.Base(filepath.Clean(dir))
	return filepath.Join(dir, "base_"+region+"_1.tif")
}

// OutputPath replaces the .mat extension of path with .tif
func OutputPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".tif"
}

// isClassification reports whether name is a classification matrix file
func isClassification(name string) bool {
	return strings.HasPrefix(name, "C") && strings.HasSuffix(name, ".mat")
}

// Converter turns the MAT files of a directory into GeoTIFFs
type Converter struct {
	Variable string
}

// NewConverter returns a converter reading variable, or DefaultVariable
// when it is empty
func NewConverter(variable string) *Converter {
	if variable == "" {
		variable = DefaultVariable
	}
	return &Converter{Variable: variable}
}

// Conversion lists the outputs of one directory
type Conversion struct {
	Dir       string
	Converted []string
	Skipped   []string
}

// ConvertDirectory converts every classification matrix in dir using the
// directory's reference profile. Matrices whose GeoTIFF already exists are
// skipped.
func (c *Converter) ConvertDirectory(dir string) (*Conversion, error) {
	profile, err := ReadProfile(ProfilePath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to read reference profile: %w", err)
	}
	profile.Count = 1

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	res := &Conversion{Dir: dir}
	for _, e := range entries {
		if e.IsDir() || !isClassification(e.Name()) {
			continue
		}
		in := filepath.Join(dir, e.Name())
		out := OutputPath(in)

		if _, err := os.Stat(out); err == nil {
			log.Debugw("output exists, skipping", "path", out)
			res.Skipped = append(res.Skipped, out)
			continue
		}
		if err := c.convert(in, out, profile); err != nil {
			return res, fmt.Errorf("failed to convert %s: %w", in, err)
		}
		log.Infow("converted matrix", "in", in, "out", out)
		res.Converted = append(res.Converted, out)
	}
	return res, nil
}

func (c *Converter) convert(in, out string, profile *Profile) error {
	m, err := ReadVariable(in, c.Variable)
	if err != nil {
		return err
	}
	band, err := Reshape(m, profile.Height, profile.Width)
	if err != nil {
		return err
	}
	return WriteGeoTIFF(out, profile, band)
}

// Run converts every configured region directory under the imagery path
func Run(cfg config.RasterConfig) ([]*Conversion, error) {
	c := NewConverter(cfg.Variable)

	var results []*Conversion
	for _, region := range cfg.Regions {
		dir := filepath.Join(cfg.ImageryPath, region)
		log.Infow("processing region", "region", region, "dir", dir)

		res, err := c.ConvertDirectory(dir)
		if err != nil {
			return results, fmt.Errorf("region %s: %w", region, err)
		}
		results = append(results, res)
	}
	return results, nil
}
