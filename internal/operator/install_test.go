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

func TestSlugLowercasesAndDashesSpaces(t *testing.T) {
	assert.Equal(t, "my-layer", slug("  My Layer  "))
}

func TestCopyTreeCopiesNestedFiles(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "fonts", "regular"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "fonts", "regular", "a.pbf"), []byte("glyphs"), 0o644))

	dst := filepath.Join(t.TempDir(), "dest")
	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "fonts", "regular", "a.pbf"))
	require.NoError(t, err)
	assert.Equal(t, "glyphs", string(data))
}

func TestCopyTreeToleratesMissingSource(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "dest")
	assert.NoError(t, copyTree(filepath.Join(t.TempDir(), "does-not-exist"), dst))
}

func TestAssembleStylesheetsWritesPerDatasetAndAggregate(t *testing.T) {
	staging := t.TempDir()
	structure := map[string]any{
		"roads":     map[string]any{"color": "red"},
		"buildings": map[string]any{"color": "grey"},
	}
	raw, err := json.Marshal(structure)
	require.NoError(t, err)
	n := &graph.Node{Attrs: graph.Attrs{Structure: raw}}

	require.NoError(t, assembleStylesheets(staging, n))

	for _, name := range []string{"roads", "buildings"} {
		_, err := os.Stat(filepath.Join(staging, "styles", name+".json"))
		assert.NoError(t, err)
	}
	aggData, err := os.ReadFile(filepath.Join(staging, "styles", "aggregate.json"))
	require.NoError(t, err)
	var aggregate map[string]any
	require.NoError(t, json.Unmarshal(aggData, &aggregate))
	assert.Len(t, aggregate, 2)
}

func TestAssembleConfigDocumentWritesTitle(t *testing.T) {
	staging := t.TempDir()
	n := &graph.Node{Title: "regional-basemap", Attrs: graph.Attrs{Structure: json.RawMessage(`{"a":1}`)}}
	require.NoError(t, assembleConfigDocument(staging, n))

	data, err := os.ReadFile(filepath.Join(staging, "config.json"))
	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(data, &cfg))
	assert.Equal(t, "regional-basemap", cfg["name"])
}
