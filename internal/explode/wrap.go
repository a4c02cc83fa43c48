package explode

import (
	"fmt"

	"github.com/mumuon/geobuild/internal/graph"
)

// bufferDistanceInsertionPass implements spec.md §4.4 step 8. It first
// resolves each branch's `buffers`/`distances` configuration-document
// mapping (dataset name -> expression) against the branch's math context,
// attaching the resolved amount to the matching dataset node; it then wraps
// every node carrying `buffer` or `distance` in custom_properties with a new
// parent of the matching action, whose output identifier encodes the
// amount, clearing the property on the child. A node carrying both buffer
// and distance is a fatal configuration error (spec.md §9 open question: do
// not silently choose one).
func (e *Exploder) bufferDistanceInsertionPass() error {
	for _, b := range e.Branches {
		for name, expr := range b.Buffers {
			n, err := e.G.FindNode(name, b.Node)
			if err != nil {
				continue
			}
			n.Attrs.Buffer = graph.ResolveMath(expr, b.MathContext)
		}
		for name, expr := range b.Distances {
			n, err := e.G.FindNode(name, b.Node)
			if err != nil {
				continue
			}
			n.Attrs.Distance = graph.ResolveMath(expr, b.MathContext)
		}
	}

	for _, n := range e.G.AllNodes() {
		if n.Attrs.Buffer == "" && n.Attrs.Distance == "" {
			continue
		}
		if n.Attrs.Buffer != "" && n.Attrs.Distance != "" {
			return fmt.Errorf("node %q carries both buffer and distance; this is not a supported configuration", n.Name)
		}
		if n.Parent != nil && (n.Parent.Action == graph.ActionBuffer || n.Parent.Action == graph.ActionDistance) {
			continue // idempotent: already wrapped
		}

		if n.Attrs.Buffer != "" {
			amount := n.Attrs.Buffer
			wrapper := e.G.CreateNode(graph.Node{
				Name:     n.Name + "--buffer",
				Title:    "Buffer - " + n.Title,
				NodeType: graph.TypeProcess,
				Action:   graph.ActionBuffer,
				Output:   graph.BufferSuffix(n.Output, amount),
				Attrs:    graph.Attrs{Branch: n.Attrs.Branch, Value: amount},
			})
			e.G.InsertParent(n, wrapper)
			n.Attrs.Buffer = ""
		} else {
			amount := n.Attrs.Distance
			wrapper := e.G.CreateNode(graph.Node{
				Name:     n.Name + "--distance",
				Title:    "Distance - " + n.Title,
				NodeType: graph.TypeProcess,
				Action:   graph.ActionDistance,
				Output:   graph.DistanceSuffix(n.Output, amount),
				Attrs:    graph.Attrs{Branch: n.Attrs.Branch, Value: amount},
			})
			e.G.InsertParent(n, wrapper)
			n.Attrs.Distance = ""
		}
	}
	return nil
}

// topLevelInversionPass implements spec.md §4.4 step 9: under each branch,
// insert an invert node immediately below the branch root. Its input is the
// branch's prior top amalgamation output; its output is resolved by the
// amalgamation-output-resolution pass once the invert's single child (the
// all-layers amalgamation) has a non-empty output.
func (e *Exploder) topLevelInversionPass() error {
	for _, b := range e.Branches {
		if _, err := e.G.FindChild(b.Node, "invert"); err == nil {
			continue // idempotent
		}
		allLayers, err := e.G.FindChild(b.Node, "all-layers")
		if err != nil {
			continue
		}

		invert := e.G.CreateNode(graph.Node{
			Name:     "invert",
			Title:    "Invert",
			NodeType: graph.TypeProcess,
			Action:   graph.ActionInvert,
			Attrs:    graph.Attrs{Branch: b.Code},
		})
		b.Node.Children = []*graph.Node{invert}
		invert.Parent = b.Node
		invert.Children = []*graph.Node{allLayers}
		allLayers.Parent = invert
	}
	return nil
}

// preprocessInjectionPass implements spec.md §4.4 step 10: above every
// import (or above its buffer/distance wrapper if present), insert a
// preprocess node whose output gets a fresh identifier and which carries
// snap-grid if configured.
func (e *Exploder) preprocessInjectionPass() error {
	for _, n := range e.G.AllNodes() {
		if n.Action != graph.ActionImport {
			continue
		}
		if n.Name == "osm-boundaries" {
			continue // attached after this pass by osmBoundariesPass; never preprocessed
		}
		top := topOfImportChain(n)
		if top.Parent != nil && top.Parent.Action == graph.ActionPreprocess {
			continue // idempotent
		}

		branch := graph.OwnerCode(n)
		snapGrid := snapGridFor(e.Branches, branch)

		preprocess := e.G.CreateNode(graph.Node{
			Name:     top.Name + "--preprocess",
			Title:    "Preprocess - " + top.Title,
			NodeType: graph.TypeProcess,
			Action:   graph.ActionPreprocess,
			Output:   top.Output + "--preprocess",
			Attrs:    graph.Attrs{Branch: branch, SnapGrid: snapGrid},
		})
		e.G.InsertParent(top, preprocess)
	}
	return nil
}

// topOfImportChain returns n's buffer/distance wrapper if it has one,
// otherwise n itself, since the preprocess node sits above whichever is
// outermost (spec.md §4.4 step 10).
func topOfImportChain(n *graph.Node) *graph.Node {
	if n.Parent != nil && (n.Parent.Action == graph.ActionBuffer || n.Parent.Action == graph.ActionDistance) {
		return n.Parent
	}
	return n
}

func snapGridFor(branches []*graph.Branch, code string) float64 {
	for _, b := range branches {
		if b.Code == code {
			return b.SnapGrid
		}
	}
	return 0
}
