package operator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"roads"`, quoteIdent("roads"))
}

func TestCheckCancelStopSignal(t *testing.T) {
	n := &graph.Node{Name: "n1"}
	stop := &StopSignal{}
	require.NoError(t, checkCancel(context.Background(), n, stop))

	stop.Stop()
	err := checkCancel(context.Background(), n, stop)
	require.Error(t, err)
	var cancelled *errs.CancelledError
	require.True(t, errors.As(err, &cancelled))
	assert.Equal(t, "n1", cancelled.Node)
}

func TestCheckCancelContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := &graph.Node{Name: "n2"}
	err := checkCancel(ctx, n, nil)
	require.Error(t, err)
	var cancelled *errs.CancelledError
	require.True(t, errors.As(err, &cancelled))
}

func TestDispatcherExecuteUnknownAction(t *testing.T) {
	d := &Dispatcher{byAction: map[graph.Action]Operator{}}
	n := &graph.Node{Name: "orphan", Action: graph.ActionBuffer}
	err := d.Execute(context.Background(), n, Env{})
	require.Error(t, err)
}

func TestDispatcherSetOverridesOperator(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Set(graph.ActionBuffer, OperatorFunc(func(ctx context.Context, n *graph.Node, env Env) error {
		called = true
		return nil
	}))
	n := &graph.Node{Name: "b", Action: graph.ActionBuffer}
	require.NoError(t, d.Execute(context.Background(), n, Env{}))
	assert.True(t, called)
}

func TestNewDispatcherWiresEveryTerminalAction(t *testing.T) {
	d := NewDispatcher()
	actions := []graph.Action{
		graph.ActionDownload, graph.ActionUnzip, graph.ActionConcatenate,
		graph.ActionRun, graph.ActionImport, graph.ActionBuffer,
		graph.ActionDistance, graph.ActionInvert, graph.ActionPreprocess,
		graph.ActionAmalgamate, graph.ActionPostprocess, graph.ActionClip,
		graph.ActionOutput, graph.ActionInstall,
	}
	for _, a := range actions {
		_, ok := d.byAction[a]
		assert.True(t, ok, "missing operator for action %q", a)
	}
}
