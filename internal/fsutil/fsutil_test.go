package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayoutCreatesTree(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root)
	require.NoError(t, err)

	for _, dir := range []string{
		l.Downloads("osm"),
		l.Downloads("openlibrary"),
		l.Cache(),
		l.Logs(),
		l.Output("layers"),
		l.Output("basemap"),
		l.Install(),
		l.TileserverStaging(),
		l.TileserverLive(),
		l.Configs(),
	} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWriteAtomicLeavesNoTmpOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	err := WriteAtomic(path, func(w io.Writer) error {
		return assertErr
	})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	_, tmpErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(tmpErr))
}

func TestWriteAtomicRenamesOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	err := WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write([]byte("hello"))
		return err
	})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLargestMatchingPicksBiggestByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.gpkg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.gpkg"), []byte("xxxxx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("xxxxxxxxxx"), 0o644))

	got, err := LargestMatching(dir, ".gpkg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "b.gpkg"), got)
}

func TestSidecarFamilyGroupsByStem(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"roads.shp", "roads.shx", "roads.dbf", "other.shp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	got, err := SidecarFamily(dir, "roads")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

var assertErr = &writeErr{}

type writeErr struct{}

func (*writeErr) Error() string { return "boom" }
