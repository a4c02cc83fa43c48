package explode

import "github.com/mumuon/geobuild/internal/graph"

// snapshotPass deep-copies the pre-explosion root for later reference
// (spec.md §4.4 step 1, "corestructure"). The copy lives outside the
// graph's URN arena; it is read-only reference material for the
// output-branches pass's structure blob.
func (e *Exploder) snapshotPass() error {
	if e.Snapshot != nil {
		// Idempotent: a second Run() must not reset the reference snapshot.
		return nil
	}
	e.Snapshot = cloneTree(e.G.Root())
	return nil
}

// cloneTree makes an independent copy of n and its subtree, preserving URN,
// name, and attribute values but none of the graph's shared-pointer wiring
// beyond the new tree's own parent/children.
func cloneTree(n *graph.Node) *graph.Node {
	if n == nil {
		return nil
	}
	copyNode := *n
	copyNode.Parent = nil
	copyNode.Children = nil
	for _, c := range n.Children {
		childCopy := cloneTree(c)
		childCopy.Parent = &copyNode
		copyNode.Children = append(copyNode.Children, childCopy)
	}
	return &copyNode
}
