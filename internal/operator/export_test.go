package operator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/graph"
)

func TestBuildQGISProjectWritesTitleAndStructure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "project.qgs")
	n := &graph.Node{Title: "county-map", Attrs: graph.Attrs{Structure: json.RawMessage(`{"roads":{}}`)}}

	require.NoError(t, buildQGISProject(dest, n))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "county-map")
	assert.Contains(t, string(data), "<qgis")
}

func TestBuildJSONManifestWritesStructure(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "manifest.json")
	n := &graph.Node{Title: "county-map", Attrs: graph.Attrs{Structure: json.RawMessage(`{"roads":{}}`)}}

	require.NoError(t, buildJSONManifest(dest, n))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var manifest map[string]any
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, "county-map", manifest["title"])
	assert.Contains(t, manifest, "structure")
}
