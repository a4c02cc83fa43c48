package buildconfig

import (
	"fmt"
	"sort"

	"github.com/mumuon/geobuild/internal/graph"
)

// Attach implements spec.md §4.2 steps 5-6: create a branch node under root,
// attach the merged document and hash, mirror the document's nested keys as
// a subtree (leaf scalars become children carrying custom_properties.value),
// and assign output identifiers to every terminal node of the new subtree.
func Attach(g *graph.Graph, doc *Document) *graph.Branch {
	b := graph.NewBranch(g, doc.Code, doc.Title)
	b.Node.Attrs.Hash = doc.Hash
	b.Body = doc.Merged
	b.Hash = doc.Hash
	b.Clip = doc.Clip
	b.SnapGrid = doc.Snapgrid
	b.MathContext = doc.MathVars
	b.Buffers = doc.Buffers
	b.Distances = doc.Distances

	mirrorKeys(g, b.Node, doc.Structure)

	for _, n := range subtreeOf(b.Node) {
		if len(n.Children) == 0 && n != b.Node {
			n.Output = graph.SourceIdentifier(fmt.Sprintf("%s--", doc.Code), n.Name)
		}
	}

	return b
}

// mirrorKeys recursively builds a child node per key of m, sorted for
// deterministic traversal order; leaf scalars carry their value in
// custom_properties.value (spec.md §4.2 step 5).
func mirrorKeys(g *graph.Graph, parent *graph.Node, m map[string]any) {
	if m == nil {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		child := g.CreateNode(graph.Node{Name: k, Title: k, NodeType: graph.TypeSource})
		g.AddChild(parent, child)
		switch val := v.(type) {
		case map[string]any:
			mirrorKeys(g, child, val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					// A dataset name leaf: its action defaults to import, since
					// spec.md §4.4 step 10 injects a preprocess node "above
					// every import" and every leaf of `structure` names a
					// dataset to import.
					leaf := g.CreateNode(graph.Node{Name: s, Title: s, NodeType: graph.TypeSource, Action: graph.ActionImport})
					g.AddChild(child, leaf)
				}
			}
		default:
			child.Attrs.Value = fmt.Sprintf("%v", val)
		}
	}
}

func subtreeOf(root *graph.Node) []*graph.Node {
	var out []*graph.Node
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}
