package operator

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestZip(t *testing.T, zipPath string, files map[string]string) {
	t.Helper()
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close()
	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

func TestExtractZipToWritesAllEntries(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "archive.zip")
	writeTestZip(t, zipPath, map[string]string{
		"a.txt":        "hello",
		"nested/b.txt": "world",
	})

	destDir := filepath.Join(dir, "extract")
	require.NoError(t, extractZipTo(zipPath, destDir))

	a, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(a))

	b, err := os.ReadFile(filepath.Join(destDir, "nested", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))
}

func TestMoveLargestMatchPicksBiggestExtensionMatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.gpkg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.gpkg"), []byte("xxxxxxxxxx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("xxxxxxxxxxxxxxxxx"), 0o644))

	dest := filepath.Join(t.TempDir(), "out.gpkg")
	require.NoError(t, moveLargestMatch(dir, ".gpkg", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "xxxxxxxxxx", string(data))
}

func TestMoveShapefileFamilyMovesAllSidecars(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "roads"+ext), []byte(ext), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	destDir := t.TempDir()
	dest := filepath.Join(destDir, "target.shp")
	require.NoError(t, moveShapefileFamily(dir, dest))

	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		_, err := os.Stat(filepath.Join(destDir, "target"+ext))
		assert.NoError(t, err, "expected sidecar %s to be moved", ext)
	}
	_, err := os.Stat(filepath.Join(dir, "unrelated.txt"))
	assert.NoError(t, err, "unrelated file should be left behind")
}

func TestMoveShapefileFamilyErrorsWithoutSHP(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	err := moveShapefileFamily(dir, filepath.Join(t.TempDir(), "target.shp"))
	require.Error(t, err)
}
