package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/graph"
)

func TestBind_AnnotatesMatchingDatasetNode(t *testing.T) {
	g := graph.New()
	n := g.CreateNode(graph.Node{Name: "roads"})
	g.AddChild(g.Root(), n)

	groups := map[string]Group{
		"transport": {
			GroupTitle: "Transport",
			Datasets: []Dataset{
				{
					PackageName: "roads",
					Title:       "Roads",
					Resources:   []Resource{{Format: "GPKG", URL: "https://example.test/roads.gpkg"}},
					Extras:      []Extra{{Key: "FILTER:highway", Value: "primary;secondary"}},
				},
			},
		},
	}

	Bind(g, groups, nil)

	assert.Equal(t, "Roads", n.Title)
	assert.Equal(t, "https://example.test/roads.gpkg", n.Input)
	assert.Equal(t, "GPKG", n.Format)
	require.NotNil(t, n.Attrs.Filter)
	assert.Equal(t, "highway", n.Attrs.Filter.Field)
	assert.Equal(t, []string{"primary", "secondary"}, n.Attrs.Filter.Values)
}

func TestBind_GroupMatchGetsTitleOnly(t *testing.T) {
	g := graph.New()
	n := g.CreateNode(graph.Node{Name: "transport", NodeType: graph.TypeGroup})
	g.AddChild(g.Root(), n)

	groups := map[string]Group{"transport": {GroupTitle: "Transport"}}
	Bind(g, groups, nil)

	assert.Equal(t, "Transport", n.Title)
	assert.Empty(t, n.Input)
}

func TestBind_PreprocessExtra(t *testing.T) {
	g := graph.New()
	n := g.CreateNode(graph.Node{Name: "rivers"})
	g.AddChild(g.Root(), n)

	groups := map[string]Group{
		"water": {
			Datasets: []Dataset{{
				PackageName: "rivers",
				Extras:      []Extra{{Key: "preprocess", Value: "closed_lines_to_polygons"}},
			}},
		},
	}
	Bind(g, groups, nil)

	assert.Equal(t, "closed_lines_to_polygons", n.Attrs.Preprocess)
}
