// Package imagery writes per-directory lists of the Landsat scenes found in
// an imagery tree.
package imagery

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kass/go-fieldgis/pkg/log"
)

var ErrBadFilename = errors.New("not a scene file name")

// DefaultListName is the list written into each directory
const DefaultListName = "imagelist.txt"

// Scene identifies a Landsat acquisition by its WRS path/row and date
type Scene struct {
	Platform string
	Path     int
	Row      int
	Date     time.Time
}

// String formats s as a list line, "path row YYYY-MM-DD"
func (s Scene) String() string {
	return fmt.Sprintf("%d %d %s", s.Path, s.Row, s.Date.Format("2006-01-02"))
}

// ParseFilename parses names like C_LT05_Jul_14_2009_0060660_an1.tif: the
// platform, the acquisition month, day and year, then the path (three
// digits) and row (up to four digits)
func ParseFilename(name string) (Scene, error) {
	parts := strings.Split(name, "_")
	if len(parts) < 6 {
		return Scene{}, fmt.Errorf("%w: %q has %d fields", ErrBadFilename, name, len(parts))
	}

	date, err := time.Parse("Jan 2 2006", strings.Join(parts[2:5], " "))
	if err != nil {
		return Scene{}, fmt.Errorf("%w: %q: %v", ErrBadFilename, name, err)
	}

	pathRow := parts[5]
	if len(pathRow) < 4 {
		return Scene{}, fmt.Errorf("%w: %q: short path/row %q", ErrBadFilename, name, pathRow)
	}
	path, err := strconv.Atoi(pathRow[:3])
	if err != nil {
		return Scene{}, fmt.Errorf("%w: %q: path: %v", ErrBadFilename, name, err)
	}
	rowEnd := len(pathRow)
	if rowEnd > 7 {
		rowEnd = 7
	}
	row, err := strconv.Atoi(pathRow[3:rowEnd])
	if err != nil {
		return Scene{}, fmt.Errorf("%w: %q: row: %v", ErrBadFilename, name, err)
	}

	return Scene{Platform: parts[1], Path: path, Row: row, Date: date}, nil
}

// isScene reports whether name is a classified scene raster
func isScene(name string) bool {
	return strings.HasPrefix(name, "C") && strings.Contains(name, "an1.tif")
}

// Lister writes scene lists
type Lister struct {
	ListName string
}

// NewLister returns a lister writing listName, or DefaultListName when it
// is empty
func NewLister(listName string) *Lister {
	if listName == "" {
		listName = DefaultListName
	}
	return &Lister{ListName: listName}
}

// ProcessDirectory writes the list of scenes in dir and returns them
func (l *Lister) ProcessDirectory(dir string) ([]Scene, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var scenes []Scene
	for _, e := range entries {
		if e.IsDir() || !isScene(e.Name()) {
			continue
		}
		s, err := ParseFilename(e.Name())
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, s)
	}

	out := filepath.Join(dir, l.ListName)
	f, err := os.Create(out)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	for _, s := range scenes {
		fmt.Fprintln(w, s.String())
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	log.Infow("wrote image list", "path", out, "scenes", len(scenes))
	return scenes, nil
}

// ProcessTree lists every non-hidden sub-directory of base. The result maps
// each directory to its scene count.
func (l *Lister) ProcessTree(base string) (map[string]int, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(base, e.Name())
		scenes, err := l.ProcessDirectory(dir)
		if err != nil {
			return counts, fmt.Errorf("directory %s: %w", dir, err)
		}
		counts[dir] = len(scenes)
	}
	return counts, nil
}
