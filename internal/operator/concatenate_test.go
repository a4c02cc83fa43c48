package operator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLMapParsesTopLevelKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragment.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roads:\n  type: line\nbuildings:\n  type: polygon\n"), 0o644))

	doc, err := loadYAMLMap(path)
	require.NoError(t, err)
	assert.Len(t, doc, 2)
	assert.Contains(t, doc, "roads")
	assert.Contains(t, doc, "buildings")
}

func TestLoadYAMLMapRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roads: [unterminated"), 0o644))
	_, err := loadYAMLMap(path)
	require.Error(t, err)
}
