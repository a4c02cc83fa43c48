package buildconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDocument_RejectsDuplicateCode(t *testing.T) {
	l := NewLoader()
	body := map[string]any{"code": "demo", "title": "Demo"}

	_, err := l.BuildDocument(body, nil, nil)
	require.NoError(t, err)

	_, err = l.BuildDocument(body, nil, nil)
	assert.ErrorContains(t, err, "duplicate code")
}

func TestBuildDocument_OverridesWinOverDefaults(t *testing.T) {
	l := NewLoader()
	defaults := map[string]any{"snapgrid": 10.0, "title": "Default Title"}
	body := map[string]any{"code": "demo"}
	overrides := map[string]any{"title": "Override Title"}

	doc, err := l.BuildDocument(body, defaults, overrides)
	require.NoError(t, err)

	assert.Equal(t, "Override Title", doc.Title)
	assert.Equal(t, 10.0, doc.Snapgrid)
}

func TestBuildDocument_HashDeterministic(t *testing.T) {
	l1 := NewLoader()
	l2 := NewLoader()
	body := map[string]any{"code": "demo", "title": "Demo", "snapgrid": 5.0}

	d1, err := l1.BuildDocument(body, nil, nil)
	require.NoError(t, err)
	d2, err := l2.BuildDocument(body, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, d1.Hash, d2.Hash)
	assert.NotEmpty(t, d1.Hash)
}

func TestBuildDocument_MathVarsCollectsNumericTopLevel(t *testing.T) {
	l := NewLoader()
	body := map[string]any{"code": "demo", "h": 100.0, "title": "Demo"}

	doc, err := l.BuildDocument(body, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 100.0, doc.MathVars["h"])
}

func TestDeepMerge_NestedMapsMergeRecursively(t *testing.T) {
	base := map[string]any{"style": map[string]any{"roads": map[string]any{"color": "red"}}}
	patch := map[string]any{"style": map[string]any{"roads": map[string]any{"color": "blue"}, "rivers": map[string]any{"color": "cyan"}}}

	merged := deepMerge(base, patch)
	style := merged["style"].(map[string]any)
	roads := style["roads"].(map[string]any)
	rivers := style["rivers"].(map[string]any)

	assert.Equal(t, "blue", roads["color"])
	assert.Equal(t, "cyan", rivers["color"])
}
