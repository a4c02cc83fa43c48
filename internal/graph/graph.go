package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound mirrors the teacher's sql.ErrNoRows-style sentinel pattern
// (database.go), generalized here to missing URNs/nodes per spec.md §4.1
// "operations fail with NotFound when a URN is missing".
var ErrNotFound = fmt.Errorf("graph: not found")

// namespaceURN is a fixed namespace for deterministic global_urn generation
// (spec.md §4.4 step 15), the same uuid.NewSHA1 pattern the teacher's
// converter.go uses for deterministic road IDs.
var namespaceURN = uuid.MustParse("6f5906e1-7fa3-4c7a-9a6e-5fd6a4f8fc21")

// Graph is the arena of nodes for one build, keyed by URN (DESIGN NOTES §9
// "tree with back-references → arena + indices").
type Graph struct {
	mu     sync.RWMutex
	nodes  map[int64]*Node
	clones map[string][]*Node // global_urn -> clones, rebuilt by AssignGlobalURNs
	root   *Node
	nextURN int64
}

// New creates an empty graph with a fresh root node.
func New() *Graph {
	g := &Graph{
		nodes:  make(map[int64]*Node),
		clones: make(map[string][]*Node),
	}
	root := g.CreateNode(Node{Name: "root", Title: "root", NodeType: TypeRoot})
	g.root = root
	return g
}

// Root returns the graph's single parentless node.
func (g *Graph) Root() *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root
}

// CreateNode assigns a fresh URN to attrs and inserts it into the arena.
// It does not attach the node to any parent; callers wire Parent/Children
// themselves (matching spec.md's "create_node(**attrs) -> Node").
func (g *Graph) CreateNode(attrs Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextURN++
	n := attrs
	n.URN = g.nextURN
	if n.Status == "" {
		n.Status = StatusUnprocessed
	}
	node := &n
	g.nodes[node.URN] = node
	return node
}

// AddChild appends child to parent's children and sets the back-reference.
func (g *Graph) AddChild(parent, child *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	parent.Children = append(parent.Children, child)
	child.Parent = parent
}

// FindNodeByURN is an O(1) arena lookup.
func (g *Graph) FindNodeByURN(urn int64) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[urn]
	if !ok {
		return nil, fmt.Errorf("urn %d: %w", urn, ErrNotFound)
	}
	return n, nil
}

// FindNode performs a recursive name search starting at start (root if nil).
func (g *Graph) FindNode(name string, start *Node) (*Node, error) {
	if start == nil {
		start = g.Root()
	}
	var found *Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if found != nil {
			return
		}
		if n.Name == name {
			found = n
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(start)
	if found == nil {
		return nil, fmt.Errorf("name %q: %w", name, ErrNotFound)
	}
	return found, nil
}

// FindParent returns the parent of the node with the given URN.
func (g *Graph) FindParent(urn int64) (*Node, error) {
	n, err := g.FindNodeByURN(urn)
	if err != nil {
		return nil, err
	}
	if n.Parent == nil {
		return nil, fmt.Errorf("urn %d has no parent: %w", urn, ErrNotFound)
	}
	return n.Parent, nil
}

// FindChild returns the direct child of parent with the given name.
func (g *Graph) FindChild(parent *Node, name string) (*Node, error) {
	for _, c := range parent.Children {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("child %q of urn %d: %w", name, parent.URN, ErrNotFound)
}

// FindNodesByProps matches every key in props against top-level attributes,
// falling through to custom_properties (spec.md §4.1). Supported top-level
// keys: name, title, node_type, action, format, output. Anything else is
// looked up in Attrs via attrsField.
func (g *Graph) FindNodesByProps(props map[string]string) []*Node {
	var matches []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if nodeMatchesProps(n, props) {
			matches = append(matches, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(g.Root())
	return matches
}

func nodeMatchesProps(n *Node, props map[string]string) bool {
	for k, v := range props {
		if !matchOne(n, k, v) {
			return false
		}
	}
	return true
}

func matchOne(n *Node, key, value string) bool {
	switch key {
	case "name":
		return n.Name == value
	case "title":
		return n.Title == value
	case "node_type":
		return string(n.NodeType) == value
	case "action":
		return string(n.Action) == value
	case "format":
		return n.Format == value
	case "output":
		return n.Output == value
	default:
		return attrsField(&n.Attrs, key) == value
	}
}

func attrsField(a *Attrs, key string) string {
	switch key {
	case "branch":
		return a.Branch
	case "buffer":
		return a.Buffer
	case "distance":
		return a.Distance
	case "preprocess":
		return a.Preprocess
	case "osm":
		return a.OSM
	case "ckan":
		return a.CKAN
	case "yml":
		return a.YML
	case "hash":
		return a.Hash
	case "fallback":
		return a.Fallback
	case "value":
		return a.Value
	default:
		return ""
	}
}

// InsertParent splices newParent between child and its current parent. If
// child was root, newParent becomes the new root (spec.md §4.1).
func (g *Graph) InsertParent(child, newParent *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := child.Parent
	newParent.Parent = old
	if old == nil {
		g.root = newParent
	} else {
		for i, sib := range old.Children {
			if sib == child {
				old.Children[i] = newParent
				break
			}
		}
	}
	newParent.Children = []*Node{child}
	child.Parent = newParent
}

// DeleteNode removes n and its subtree from the tree and the URN arena.
func (g *Graph) DeleteNode(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n.Parent != nil {
		kept := n.Parent.Children[:0]
		for _, c := range n.Parent.Children {
			if c != n {
				kept = append(kept, c)
			}
		}
		n.Parent.Children = kept
	}
	var purge func(x *Node)
	purge = func(x *Node) {
		delete(g.nodes, x.URN)
		for _, c := range x.Children {
			purge(c)
		}
	}
	purge(n)
}

// CreateGroupNode reparents the named child URNs under a newly created
// sibling group node (spec.md §4.1 create_group_node).
func (g *Graph) CreateGroupNode(parentURN int64, childURNs []int64, name, title string) (*Node, error) {
	parent, err := g.FindNodeByURN(parentURN)
	if err != nil {
		return nil, err
	}
	group := g.CreateNode(Node{Name: name, Title: title, NodeType: TypeGroup, Action: ActionAmalgamate})

	wanted := make(map[int64]bool, len(childURNs))
	for _, u := range childURNs {
		wanted[u] = true
	}

	g.mu.Lock()
	remaining := parent.Children[:0]
	var moved []*Node
	for _, c := range parent.Children {
		if wanted[c.URN] {
			moved = append(moved, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	parent.Children = append(remaining, group)
	group.Parent = parent
	group.Children = moved
	for _, c := range moved {
		c.Parent = group
	}
	g.mu.Unlock()

	return group, nil
}

// GetTerminalNodes returns every node with no children.
func (g *Graph) GetTerminalNodes() []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if len(n.Children) == 0 {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(g.Root())
	return out
}

// AllNodes returns every node in the graph in an unspecified but stable
// (arena-insertion) order.
func (g *Graph) AllNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for urn := int64(1); urn <= g.nextURN; urn++ {
		if n, ok := g.nodes[urn]; ok {
			out = append(out, n)
		}
	}
	return out
}

// GetPropertyFromLineage walks ancestors of urn, returning the first
// custom_properties hit for key (spec.md §4.1).
func (g *Graph) GetPropertyFromLineage(urn int64, key string) (string, error) {
	n, err := g.FindNodeByURN(urn)
	if err != nil {
		return "", err
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if v := attrsField(&cur.Attrs, key); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("property %q in lineage of urn %d: %w", key, urn, ErrNotFound)
}

// AssignGlobalURNs implements spec.md §4.4 step 15: group all nodes by their
// Output string; any group with 2+ members gets one deterministic UUIDv5
// (derived from the shared output) as their global_urn. Groups of one are
// left with an empty global_urn, matching the "Global-URN correctness"
// invariant in spec.md §8.1.
func (g *Graph) AssignGlobalURNs() {
	byOutput := make(map[string][]*Node)
	for _, n := range g.AllNodes() {
		if n.Output == "" {
			continue
		}
		byOutput[n.Output] = append(byOutput[n.Output], n)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.clones = make(map[string][]*Node)
	for output, nodes := range byOutput {
		if len(nodes) < 2 {
			for _, n := range nodes {
				n.GlobalURN = ""
			}
			continue
		}
		id := uuid.NewSHA1(namespaceURN, []byte(output)).String()
		for _, n := range nodes {
			n.GlobalURN = id
		}
		g.clones[id] = nodes
	}
}

// Clones returns every node sharing urn's global_urn, including itself. A
// node without a global_urn has no clones but itself.
func (g *Graph) Clones(n *Node) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if n.GlobalURN == "" {
		return []*Node{n}
	}
	return g.clones[n.GlobalURN]
}

// SetCloneStatus writes status to n and every node sharing its global_urn,
// one clone at a time, each under that node's own lock; a concurrent reader
// can observe some clones updated before the others.
func (g *Graph) SetCloneStatus(n *Node, status Status) {
	clones := g.Clones(n)
	for _, c := range clones {
		c.SetStatus(status)
	}
}
