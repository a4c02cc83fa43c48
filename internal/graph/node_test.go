package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_TerminalStates(t *testing.T) {
	assert.True(t, StatusProcessed.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusUnprocessed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestAction_TerminalProducing(t *testing.T) {
	assert.True(t, ActionDownload.IsTerminalProducing())
	assert.True(t, ActionImport.IsTerminalProducing())
	assert.False(t, ActionNone.IsTerminalProducing())
}

func TestNode_InputStrings_NormalizesSingleAndSlice(t *testing.T) {
	n := &Node{Input: "tbl-1"}
	assert.Equal(t, []string{"tbl-1"}, n.InputStrings())

	n2 := &Node{Input: []string{"tbl-1", "tbl-2"}}
	assert.Equal(t, []string{"tbl-1", "tbl-2"}, n2.InputStrings())

	n3 := &Node{}
	assert.Nil(t, n3.InputStrings())
}

func TestNode_Dependencies_ChildFirstOrder(t *testing.T) {
	c1 := &Node{URN: 1}
	c2 := &Node{URN: 2}
	parent := &Node{URN: 3, Children: []*Node{c1, c2}}
	assert.Equal(t, []int64{1, 2}, parent.Dependencies())
}

func TestNode_AppendLog(t *testing.T) {
	n := &Node{}
	n.AppendLog("started")
	n.AppendLog("finished")
	assert.Len(t, n.Log, 2)
	assert.Equal(t, "started", n.Log[0].Message)
}

// TestProgressMonotonicity covers spec.md §8.1: status never regresses
// below its position in unprocessed < processing < {processed,failed}.
func TestProgressMonotonicity(t *testing.T) {
	n := &Node{Status: StatusUnprocessed}
	order := []Status{StatusUnprocessed, StatusProcessing, StatusProcessed}
	rank := map[Status]int{StatusUnprocessed: 0, StatusProcessing: 1, StatusProcessed: 2, StatusFailed: 2}

	last := rank[n.Status]
	for _, s := range order {
		n.SetStatus(s)
		cur := rank[n.GetStatus()]
		assert.GreaterOrEqual(t, cur, last)
		last = cur
	}
}
