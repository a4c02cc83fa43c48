package buildconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/graph"
)

func TestAttach_CreatesBranchAndMirrorsStructure(t *testing.T) {
	l := NewLoader()
	body := map[string]any{
		"code": "demo",
		"structure": map[string]any{
			"x": []any{"a", "b"},
		},
	}
	doc, err := l.BuildDocument(body, nil, nil)
	require.NoError(t, err)

	g := graph.New()
	b := Attach(g, doc)

	require.Equal(t, "demo", b.Node.Name)
	assert.Equal(t, doc.Hash, b.Node.Attrs.Hash)

	xNode, err := g.FindNode("x", b.Node)
	require.NoError(t, err)
	require.Len(t, xNode.Children, 2)

	for _, leaf := range xNode.Children {
		assert.NotEmpty(t, leaf.Output, "terminal node %s should get an output identifier", leaf.Name)
	}
}

func TestAttach_TerminalIdentifiersAreDeterministic(t *testing.T) {
	l := NewLoader()
	body := map[string]any{"code": "demo", "structure": map[string]any{"x": []any{"a"}}}
	doc, err := l.BuildDocument(body, nil, nil)
	require.NoError(t, err)

	g1 := graph.New()
	b1 := Attach(g1, doc)
	leaf1, err := g1.FindNode("a", b1.Node)
	require.NoError(t, err)

	g2 := graph.New()
	b2 := Attach(g2, doc)
	leaf2, err := g2.FindNode("a", b2.Node)
	require.NoError(t, err)

	assert.Equal(t, leaf1.Output, leaf2.Output)
}
