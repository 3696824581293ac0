package imagery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFilename(t *testing.T) {
	testCases := []struct {
		name  string
		in    string
		scene Scene
		line  string
	}{
		{
			"landsat 5", "C_LT05_Jul_14_2009_0060660_an1.tif",
			Scene{Platform: "LT05", Path: 6, Row: 660, Date: time.Date(2009, time.July, 14, 0, 0, 0, 0, time.UTC)},
			"6 660 2009-07-14",
		},
		{
			"single digit day", "C_LE07_Mar_3_2001_0070066_an1.tif",
			Scene{Platform: "LE07", Path: 7, Row: 66, Date: time.Date(2001, time.March, 3, 0, 0, 0, 0, time.UTC)},
			"7 66 2001-03-03",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ParseFilename(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.scene, s)
			assert.Equal(t, tc.line, s.String())
		})
	}
}

func TestParseFilenameErrors(t *testing.T) {
	for _, in := range []string{
		"C_an1.tif",
		"C_LT05_Foo_14_2009_0060660_an1.tif",
		"C_LT05_Jul_14_2009_00_an1.tif",
		"C_LT05_Jul_14_2009_abc0660_an1.tif",
	} {
		_, err := ParseFilename(in)
		assert.ErrorIs(t, err, ErrBadFilename, in)
	}
}

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0644))
	}
}

func TestProcessDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"C_LT05_Jul_14_2009_0060660_an1.tif",
		"C_LT05_Aug_15_2009_0060660_an1.tif",
		"C_LT05_Aug_15_2009_0060660_an2.tif",
		"base_R3_1.tif",
	)

	scenes, err := NewLister("").ProcessDirectory(dir)
	require.NoError(t, err)
	assert.Len(t, scenes, 2)

	data, err := os.ReadFile(filepath.Join(dir, DefaultListName))
	require.NoError(t, err)
	assert.Equal(t, "6 660 2009-08-15\n6 660 2009-07-14\n", string(data))
}

func TestProcessDirectoryBadName(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "C_broken_an1.tif")

	_, err := NewLister("").ProcessDirectory(dir)
	assert.ErrorIs(t, err, ErrBadFilename)
}

func TestProcessTree(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "R3"), "C_LT05_Jul_14_2009_0060660_an1.tif")
	touch(t, filepath.Join(base, "R4"))
	touch(t, filepath.Join(base, ".cache"), "C_broken_an1.tif")
	touch(t, base, "notes.txt")

	counts, err := NewLister("scenes.txt").ProcessTree(base)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		filepath.Join(base, "R3"): 1,
		filepath.Join(base, "R4"): 0,
	}, counts)

	_, err = os.Stat(filepath.Join(base, "R4", "scenes.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(base, ".cache", "scenes.txt"))
	assert.True(t, os.IsNotExist(err))
}
