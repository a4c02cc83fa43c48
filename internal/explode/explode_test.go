package explode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/graph"
)

// buildDemoGraph constructs spec.md §8.4 scenario 1: a single YAML, single
// dataset, no clip, gpkg output.
func buildDemoGraph(t *testing.T) (*graph.Graph, *graph.Branch) {
	t.Helper()
	g := graph.New()
	b := graph.NewBranch(g, "demo", "Demo")
	b.Body = map[string]any{"outputformats": []any{"gpkg"}}

	a := g.CreateNode(graph.Node{
		Name: "a", Title: "Dataset A", Input: "https://example.test/a.gpkg", Format: "GPKG",
		Output: graph.SourceIdentifier("demo--", "a"), Action: graph.ActionImport,
	})
	g.AddChild(b.Node, a)

	return g, b
}

func TestRun_BuildsOutputBranchForSingleDataset(t *testing.T) {
	g, b := buildDemoGraph(t)

	_, err := Run(g, []*graph.Branch{b})
	require.NoError(t, err)
	// A second run over the already-exploded graph must leave the output
	// branch and its collector in place.
	_, err = Run(g, []*graph.Branch{b})
	require.NoError(t, err)

	outputsBranch, err := g.FindNode("demo--outputs", nil)
	require.NoError(t, err)
	assert.Equal(t, graph.TypeBranch, outputsBranch.NodeType)

	collector, err := g.FindNode("demo--outputs--collector", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, collector.Children)
}

// TestExploderIdempotence covers spec.md §8.2: explode(explode(g)) produces
// no new nodes and no status change once the graph has stabilized.
func TestExploderIdempotence(t *testing.T) {
	g, b := buildDemoGraph(t)

	_, err := Run(g, []*graph.Branch{b})
	require.NoError(t, err)
	_, err = Run(g, []*graph.Branch{b})
	require.NoError(t, err)

	before := len(g.AllNodes())

	_, err = Run(g, []*graph.Branch{b})
	require.NoError(t, err)

	after := len(g.AllNodes())
	assert.Equal(t, before, after, "idempotent explode must not add new nodes once stable")
}

func TestBufferDistanceInsertion_FailsOnBothPresent(t *testing.T) {
	g := graph.New()
	b := graph.NewBranch(g, "demo", "Demo")
	n := g.CreateNode(graph.Node{Name: "a", Attrs: graph.Attrs{Buffer: "10", Distance: "5"}})
	g.AddChild(b.Node, n)

	e := New(g, []*graph.Branch{b})
	err := e.bufferDistanceInsertionPass()
	assert.Error(t, err)
}

func TestBufferDistanceInsertion_ResolvesArithmeticAmount(t *testing.T) {
	g := graph.New()
	b := graph.NewBranch(g, "demo", "Demo")
	b.MathContext = map[string]float64{"h": 100}
	b.Buffers = map[string]string{"a": "1.1 * h"}
	n := g.CreateNode(graph.Node{Name: "a", Output: "demo--a"})
	g.AddChild(b.Node, n)

	e := New(g, []*graph.Branch{b})
	require.NoError(t, e.bufferDistanceInsertionPass())

	assert.Equal(t, graph.ActionBuffer, n.Parent.Action)
	assert.Equal(t, "demo--a--buffer-110", n.Parent.Output)
}

func TestClipSuffix_SortedAreaNames(t *testing.T) {
	suffix := graph.ClipSuffix("demo--x", []string{"surrey", "east sussex"})
	assert.Equal(t, "demo--x--clip--east-sussex--surrey", suffix)
}

func TestParentGrouping_GroupsPrefixedSiblings(t *testing.T) {
	g := graph.New()
	b := graph.NewBranch(g, "demo", "Demo")
	a := g.CreateNode(graph.Node{Name: "roads--a", Title: "Main Roads - A"})
	c := g.CreateNode(graph.Node{Name: "roads--b", Title: "Main Roads - B"})
	g.AddChild(b.Node, a)
	g.AddChild(b.Node, c)

	e := New(g, []*graph.Branch{b})
	require.NoError(t, e.parentGroupingPass())

	group, err := g.FindChild(b.Node, "roads")
	require.NoError(t, err)
	assert.Equal(t, "Main Roads", group.Title)
	assert.Len(t, group.Children, 2)
}
