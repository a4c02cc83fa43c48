package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/graph"
	"github.com/mumuon/geobuild/internal/operator"
)

func countingOp(calls *int64) operator.OperatorFunc {
	return func(ctx context.Context, n *graph.Node, env operator.Env) error {
		atomic.AddInt64(calls, 1)
		return nil
	}
}

func failingOp(err error) operator.OperatorFunc {
	return operator.OperatorFunc(func(ctx context.Context, n *graph.Node, env operator.Env) error {
		return err
	})
}

func TestRunRespectsChildOrdering(t *testing.T) {
	g := graph.New()
	y := g.CreateNode(graph.Node{Name: "y", Action: graph.ActionAmalgamate, Output: "y-out"})
	g.AddChild(g.Root(), y)
	x := g.CreateNode(graph.Node{Name: "x", Action: graph.ActionImport, Output: "x-out"})
	g.AddChild(y, x)

	var importCalls, amalgCalls int64
	d := operator.NewDispatcher()
	d.Set(graph.ActionImport, countingOp(&importCalls))
	d.Set(graph.ActionAmalgamate, countingOp(&amalgCalls))

	sched := New(g, d, operator.Env{})
	res := sched.Run(context.Background())

	require.True(t, res.Succeeded)
	assert.Equal(t, int64(1), importCalls)
	assert.Equal(t, int64(1), amalgCalls)
	assert.Equal(t, graph.StatusProcessed, x.GetStatus())
	assert.Equal(t, graph.StatusProcessed, y.GetStatus())
}

func TestRunNodeWithNoActionSkipsDispatch(t *testing.T) {
	g := graph.New()
	n := g.CreateNode(graph.Node{Name: "leaf", Action: graph.ActionNone})
	g.AddChild(g.Root(), n)

	d := operator.NewDispatcher()
	sched := New(g, d, operator.Env{})
	res := sched.Run(context.Background())

	require.True(t, res.Succeeded)
	assert.Equal(t, graph.StatusProcessed, n.GetStatus())
}

func TestRunClonesExecuteExactlyOnce(t *testing.T) {
	g := graph.New()
	a := g.CreateNode(graph.Node{Name: "a", Action: graph.ActionImport, Output: "shared"})
	g.AddChild(g.Root(), a)
	b := g.CreateNode(graph.Node{Name: "b", Action: graph.ActionImport, Output: "shared"})
	g.AddChild(g.Root(), b)
	g.AssignGlobalURNs()
	require.NotEmpty(t, a.GlobalURN)
	require.Equal(t, a.GlobalURN, b.GlobalURN)

	var calls int64
	d := operator.NewDispatcher()
	d.Set(graph.ActionImport, countingOp(&calls))

	sched := New(g, d, operator.Env{})
	res := sched.Run(context.Background())

	require.True(t, res.Succeeded)
	assert.Equal(t, int64(1), calls)
	assert.Equal(t, graph.StatusProcessed, a.GetStatus())
	assert.Equal(t, graph.StatusProcessed, b.GetStatus())
}

func TestRunFailedNodeBlocksDependentAndStalls(t *testing.T) {
	g := graph.New()
	y := g.CreateNode(graph.Node{Name: "y", Action: graph.ActionAmalgamate, Output: "y-out"})
	g.AddChild(g.Root(), y)
	x := g.CreateNode(graph.Node{Name: "x", Action: graph.ActionImport, Output: "x-out"})
	g.AddChild(y, x)

	d := operator.NewDispatcher()
	d.Set(graph.ActionImport, failingOp(assert.AnError))

	sched := New(g, d, operator.Env{})
	res := sched.Run(context.Background())

	require.False(t, res.Succeeded)
	require.Error(t, res.Err)
	assert.Equal(t, graph.StatusFailed, x.GetStatus())
	assert.Equal(t, graph.StatusUnprocessed, y.GetStatus())
}

func TestRunHonorsPreCancelledContext(t *testing.T) {
	g := graph.New()
	n := g.CreateNode(graph.Node{Name: "leaf", Action: graph.ActionImport, Output: "o"})
	g.AddChild(g.Root(), n)

	d := operator.NewDispatcher()
	stop := &operator.StopSignal{}
	sched := New(g, d, operator.Env{Stop: stop})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := sched.Run(ctx)
	require.False(t, res.Succeeded)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.True(t, stop.Stopped())
}

func TestOrderBatchDownloadsFirstThenPriorityThenSize(t *testing.T) {
	g := graph.New()
	big := g.CreateNode(graph.Node{Name: "big", Action: graph.ActionDownload, Format: "GeoJSON"})
	small := g.CreateNode(graph.Node{Name: "small", Action: graph.ActionDownload, Format: "GPKG"})
	process := g.CreateNode(graph.Node{Name: "proc", Action: graph.ActionImport})

	sched := New(g, operator.NewDispatcher(), operator.Env{})
	sched.sizes[big.URN] = 100
	sched.sizes[small.URN] = 900
	sched.sizes[process.URN] = 5000

	batch := []*graph.Node{process, big, small}
	sched.orderBatch(batch)

	// Downloads sort before the non-download regardless of size.
	assert.Equal(t, process, batch[2])
	// Among downloads, GPKG (priority index 0) sorts before GeoJSON (index 1)
	// even though "small" is smaller in bytes.
	assert.Equal(t, small, batch[0])
	assert.Equal(t, big, batch[1])
}

func TestCloneKeyPrefersGlobalURN(t *testing.T) {
	n := &graph.Node{URN: 7}
	assert.Equal(t, "u:7", cloneKey(n))
	n.GlobalURN = "abc"
	assert.Equal(t, "g:abc", cloneKey(n))
}

func TestRunEmitsProgress(t *testing.T) {
	g := graph.New()
	n := g.CreateNode(graph.Node{Name: "leaf", Action: graph.ActionImport, Output: "o"})
	g.AddChild(g.Root(), n)

	d := operator.NewDispatcher()
	var calls int64
	d.Set(graph.ActionImport, countingOp(&calls))

	var snapshots []Snapshot
	sched := New(g, d, operator.Env{})
	sched.OnProgress = func(s Snapshot) { snapshots = append(snapshots, s) }

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := sched.Run(ctx)

	require.True(t, res.Succeeded)
	assert.NotEmpty(t, snapshots)
}
