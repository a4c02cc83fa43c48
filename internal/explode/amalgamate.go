package explode

import (
	"sort"
	"strings"

	"github.com/mumuon/geobuild/internal/graph"
)

// allLayersAmalgamationPass implements spec.md §4.4 step 2: under each
// branch, insert a single amalgamate node named "all-layers" whose children
// are the branch's current children. Idempotent: a branch that already has
// an "all-layers" child is left alone.
func (e *Exploder) allLayersAmalgamationPass() error {
	for _, b := range e.Branches {
		if _, err := e.G.FindNode("all-layers", b.Node); err == nil {
			continue // already inserted (possibly relocated by the inversion pass)
		}
		existingChildren := append([]*graph.Node(nil), b.Node.Children...)
		allLayers := e.G.CreateNode(graph.Node{
			Name:     "all-layers",
			Title:    "All Layers",
			NodeType: graph.TypeGroup,
			Action:   graph.ActionAmalgamate,
			Attrs:    graph.Attrs{Branch: b.Code},
		})

		b.Node.Children = []*graph.Node{allLayers}
		allLayers.Parent = b.Node
		allLayers.Children = existingChildren
		for _, c := range existingChildren {
			c.Parent = allLayers
		}
	}
	return nil
}

// groupableSuffix is "--" in "⟨prefix⟩--⟨suffix⟩" names (spec.md §4.4 step 3).
const groupableSuffix = "--"

// parentGroupingPass groups siblings whose name has the form
// "prefix--suffix" under a new group node named "prefix" (spec.md §4.4
// step 3). Runs over every node with children, recursively. Idempotent:
// re-running on a graph that already has the group node is a no-op because
// the grouped siblings no longer carry the same parent to re-group from, and
// nodes added by later passes (any action other than none or import) are
// never grouped.
func (e *Exploder) parentGroupingPass() error {
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		groupSiblingsOf(e.G, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(e.G.Root())
	return nil
}

func groupSiblingsOf(g *graph.Graph, parent *graph.Node) {
	byPrefix := make(map[string][]*graph.Node)
	var order []string
	for _, c := range parent.Children {
		if c.Action != graph.ActionNone && c.Action != graph.ActionImport {
			continue
		}
		idx := strings.Index(c.Name, groupableSuffix)
		if idx <= 0 {
			continue
		}
		prefix := c.Name[:idx]
		if _, seen := byPrefix[prefix]; !seen {
			order = append(order, prefix)
		}
		byPrefix[prefix] = append(byPrefix[prefix], c)
	}

	for _, prefix := range order {
		if prefix == parent.Name {
			continue // parent is already the group node for this prefix
		}
		siblings := byPrefix[prefix]
		if len(siblings) < 2 {
			continue
		}
		if _, err := g.FindChild(parent, prefix); err == nil {
			continue // already grouped
		}

		title := commonTitlePrefix(siblings[0].Title)
		urns := make([]int64, len(siblings))
		for i, s := range siblings {
			urns[i] = s.URN
		}
		group, err := g.CreateGroupNode(parent.URN, urns, prefix, title)
		if err != nil {
			continue
		}
		group.Attrs.Branch = graph.OwnerCode(parent)
	}
}

// commonTitlePrefix returns everything before the last " - " in title
// (spec.md §4.4 step 3).
func commonTitlePrefix(title string) string {
	idx := strings.LastIndex(title, " - ")
	if idx < 0 {
		return title
	}
	return title[:idx]
}

// amalgamationOutputResolutionPass is a post-order pass: when every child of
// an amalgamate or invert node has a non-empty output, set its input to the
// sorted child outputs (or the single child output for invert) and its
// output to prefix+md5(json_sorted(child_outputs)) (spec.md §4.4 step 11).
func (e *Exploder) amalgamationOutputResolutionPass() error {
	var walk func(n *graph.Node) error
	walk = func(n *graph.Node) error {
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		if n.Action != graph.ActionAmalgamate && n.Action != graph.ActionInvert {
			return nil
		}
		if n.Output != "" {
			return nil // idempotent: already resolved
		}
		outputs, ready := childOutputs(n)
		if !ready {
			return nil // dependencies not yet resolved this pass; later pass leaves it for next Run
		}
		if n.Action == graph.ActionInvert {
			n.Input = outputs[0]
		} else {
			sorted := append([]string(nil), outputs...)
			sort.Strings(sorted)
			n.Input = sorted
		}
		prefix := identifierPrefix(n)
		out, err := graph.ChildOutputsIdentifier(prefix, outputs)
		if err != nil {
			return err
		}
		n.Output = out
		return nil
	}
	return walk(e.G.Root())
}

func childOutputs(n *graph.Node) ([]string, bool) {
	if len(n.Children) == 0 {
		return nil, false
	}
	outputs := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Output == "" {
			return nil, false
		}
		outputs = append(outputs, c.Output)
	}
	return outputs, true
}

func identifierPrefix(n *graph.Node) string {
	branch := graph.OwnerCode(n)
	if branch == "" {
		branch = n.Attrs.Branch
	}
	if n.Action == graph.ActionInvert {
		return branch + "--invert--"
	}
	return branch + "--amg--"
}
