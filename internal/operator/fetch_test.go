package operator

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFetchedFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gpkg")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	err := validateFetchedFile(path)
	require.Error(t, err)
}

func TestValidateFetchedFileAcceptsNonEmptyNonZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.gpkg")
	require.NoError(t, os.WriteFile(path, []byte("some bytes"), 0o644))
	assert.NoError(t, validateFetchedFile(path))
}

func TestValidateFetchedFileRejectsCorruptZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	err := validateFetchedFile(path)
	require.Error(t, err)
}

func TestValidateFetchedFileAcceptsValidZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "good.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("member.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	assert.NoError(t, validateFetchedFile(path))
}
