package graph

// Style maps a category name to its display color and any nested overrides,
// mirroring the configuration document's `style` key (spec.md §6.1).
type Style struct {
	Color string           `json:"color"`
	Children map[string]Style `json:"children,omitempty"`
}

// Branch is the subtree rooted at a first-level child of the graph root
// (spec.md §3.2). It wraps the root branch Node with the extra fields a
// configuration document contributes, frozen after C4 has run.
type Branch struct {
	Node *Node

	Code    string
	Body    map[string]any // merged YAML document (defaults+overrides+body)
	Hash    string
	Style   map[string]Style
	Clip    []string
	SnapGrid float64

	// MathContext holds the branch's declared math variables for symbolic
	// expression resolution (spec.md §3.2, resolve_math).
	MathContext map[string]float64

	// Buffers/Distances map dataset name -> unresolved expression, exactly as
	// authored in the configuration document; explode.Pass resolves them
	// against MathContext when it wraps the dataset node (spec.md §4.4 step 8).
	Buffers   map[string]string
	Distances map[string]string
}

// NewBranch creates the branch node under root and returns the Branch
// wrapper, matching C2's "create a branch node under root" step (spec.md
// §4.2 step 5).
func NewBranch(g *Graph, code, title string) *Branch {
	node := g.CreateNode(Node{
		Name:     code,
		Title:    title,
		NodeType: TypeBranch,
		Attrs:    Attrs{Branch: code},
	})
	g.AddChild(g.Root(), node)
	return &Branch{
		Node:        node,
		Code:        code,
		MathContext: make(map[string]float64),
		Buffers:     make(map[string]string),
		Distances:   make(map[string]string),
	}
}

// OwnerCode returns the owning branch's code for any node in its subtree, by
// walking custom_properties.branch up the lineage (spec.md Attrs.Branch).
func OwnerCode(n *Node) string {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Attrs.Branch != "" {
			return cur.Attrs.Branch
		}
	}
	return ""
}
