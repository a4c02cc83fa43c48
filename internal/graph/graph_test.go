package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateNode_AssignsUniqueURNs(t *testing.T) {
	g := New()
	a := g.CreateNode(Node{Name: "a"})
	b := g.CreateNode(Node{Name: "b"})
	assert.NotEqual(t, a.URN, b.URN)
}

func TestFindNodeByURN_NotFound(t *testing.T) {
	g := New()
	_, err := g.FindNodeByURN(99999)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindNode_RecursiveSearch(t *testing.T) {
	g := New()
	child := g.CreateNode(Node{Name: "child"})
	g.AddChild(g.Root(), child)
	grandchild := g.CreateNode(Node{Name: "grandchild"})
	g.AddChild(child, grandchild)

	found, err := g.FindNode("grandchild", nil)
	require.NoError(t, err)
	assert.Equal(t, grandchild.URN, found.URN)
}

func TestInsertParent_SplicesBetweenChildAndParent(t *testing.T) {
	g := New()
	child := g.CreateNode(Node{Name: "child"})
	g.AddChild(g.Root(), child)

	wrapper := g.CreateNode(Node{Name: "wrapper", Action: ActionBuffer})
	g.InsertParent(child, wrapper)

	assert.Equal(t, g.Root(), wrapper.Parent)
	assert.Equal(t, wrapper, child.Parent)
	assert.Contains(t, g.Root().Children, wrapper)
	assert.NotContains(t, g.Root().Children, child)
}

func TestInsertParent_AtRootBecomesNewRoot(t *testing.T) {
	g := New()
	oldRoot := g.Root()
	newRoot := g.CreateNode(Node{Name: "new-root"})
	g.InsertParent(oldRoot, newRoot)

	assert.Equal(t, newRoot, g.Root())
	assert.Nil(t, newRoot.Parent)
}

func TestDeleteNode_RemovesSubtreeFromArena(t *testing.T) {
	g := New()
	parent := g.CreateNode(Node{Name: "parent"})
	g.AddChild(g.Root(), parent)
	child := g.CreateNode(Node{Name: "child"})
	g.AddChild(parent, child)

	g.DeleteNode(parent)

	_, err := g.FindNodeByURN(parent.URN)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = g.FindNodeByURN(child.URN)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NotContains(t, g.Root().Children, parent)
}

func TestCreateGroupNode_ReparentsListedChildren(t *testing.T) {
	g := New()
	a := g.CreateNode(Node{Name: "roads--a"})
	b := g.CreateNode(Node{Name: "roads--b"})
	c := g.CreateNode(Node{Name: "other"})
	g.AddChild(g.Root(), a)
	g.AddChild(g.Root(), b)
	g.AddChild(g.Root(), c)

	group, err := g.CreateGroupNode(g.Root().URN, []int64{a.URN, b.URN}, "roads", "Roads")
	require.NoError(t, err)

	assert.ElementsMatch(t, []*Node{a, b}, group.Children)
	assert.Contains(t, g.Root().Children, c)
	assert.Contains(t, g.Root().Children, group)
	assert.NotContains(t, g.Root().Children, a)
}

func TestGetTerminalNodes_OnlyLeaves(t *testing.T) {
	g := New()
	parent := g.CreateNode(Node{Name: "parent"})
	g.AddChild(g.Root(), parent)
	leaf := g.CreateNode(Node{Name: "leaf"})
	g.AddChild(parent, leaf)

	terminals := g.GetTerminalNodes()
	var names []string
	for _, n := range terminals {
		names = append(names, n.Name)
	}
	assert.Contains(t, names, "leaf")
	assert.NotContains(t, names, "parent")
}

func TestGetPropertyFromLineage_WalksAncestors(t *testing.T) {
	g := New()
	branch := g.CreateNode(Node{Name: "demo", Attrs: Attrs{Branch: "demo"}})
	g.AddChild(g.Root(), branch)
	leaf := g.CreateNode(Node{Name: "leaf"})
	g.AddChild(branch, leaf)

	v, err := g.GetPropertyFromLineage(leaf.URN, "branch")
	require.NoError(t, err)
	assert.Equal(t, "demo", v)
}

func TestFindNodesByProps_MatchesTopLevelAndAttrs(t *testing.T) {
	g := New()
	n1 := g.CreateNode(Node{Name: "a", Format: "GPKG", Attrs: Attrs{Preprocess: "closed_lines_to_polygons"}})
	g.AddChild(g.Root(), n1)
	n2 := g.CreateNode(Node{Name: "b", Format: "GPKG"})
	g.AddChild(g.Root(), n2)

	matches := g.FindNodesByProps(map[string]string{"format": "GPKG", "preprocess": "closed_lines_to_polygons"})
	require.Len(t, matches, 1)
	assert.Equal(t, n1.URN, matches[0].URN)
}

// TestGlobalURNCorrectness covers spec.md §8.1: a.output == b.output != ""
// implies equal, non-empty global_urn, and global_urn is empty when output
// is unique in the graph.
func TestGlobalURNCorrectness(t *testing.T) {
	g := New()
	a := g.CreateNode(Node{Name: "a", Output: "tbl--shared"})
	b := g.CreateNode(Node{Name: "b", Output: "tbl--shared"})
	c := g.CreateNode(Node{Name: "c", Output: "tbl--unique"})
	g.AddChild(g.Root(), a)
	g.AddChild(g.Root(), b)
	g.AddChild(g.Root(), c)

	g.AssignGlobalURNs()

	assert.NotEmpty(t, a.GlobalURN)
	assert.Equal(t, a.GlobalURN, b.GlobalURN)
	assert.Empty(t, c.GlobalURN)
}

func TestSetCloneStatus_UpdatesAllClonesAtomically(t *testing.T) {
	g := New()
	a := g.CreateNode(Node{Name: "a", Output: "tbl--shared"})
	b := g.CreateNode(Node{Name: "b", Output: "tbl--shared"})
	g.AddChild(g.Root(), a)
	g.AddChild(g.Root(), b)
	g.AssignGlobalURNs()

	g.SetCloneStatus(a, StatusProcessed)

	assert.Equal(t, StatusProcessed, a.GetStatus())
	assert.Equal(t, StatusProcessed, b.GetStatus())
}

func TestUniqueIdentity_ExactlyOneRootlessNode(t *testing.T) {
	g := New()
	a := g.CreateNode(Node{Name: "a"})
	g.AddChild(g.Root(), a)
	b := g.CreateNode(Node{Name: "b"})
	g.AddChild(a, b)

	seen := map[int64]bool{}
	var rootless int
	for _, n := range g.AllNodes() {
		assert.False(t, seen[n.URN], "duplicate urn %d", n.URN)
		seen[n.URN] = true
		if n.Parent == nil {
			rootless++
		}
	}
	assert.Equal(t, 1, rootless)
}
