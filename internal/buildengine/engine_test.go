package buildengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
	"github.com/mumuon/geobuild/internal/operator"
)

func noop(ctx context.Context, n *graph.Node, env operator.Env) error { return nil }

func TestEngineStartBuildsGraphAndRunsToCompletion(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(`
code: demo
title: Demo
outputformats: [gpkg]
structure:
  roads:
    - roads-primary
`), 0o644))

	layout, err := fsutil.NewLayout(filepath.Join(dir, "build"))
	require.NoError(t, err)

	d := operator.NewDispatcher()
	for _, a := range []graph.Action{
		graph.ActionDownload, graph.ActionUnzip, graph.ActionConcatenate,
		graph.ActionRun, graph.ActionImport, graph.ActionBuffer,
		graph.ActionDistance, graph.ActionInvert, graph.ActionPreprocess,
		graph.ActionAmalgamate, graph.ActionPostprocess, graph.ActionClip,
		graph.ActionOutput, graph.ActionInstall,
	} {
		d.Set(a, operator.OperatorFunc(noop))
	}

	eng := &Engine{
		FS:         layout,
		Dispatcher: d,
	}

	run, err := eng.Start(context.Background(), Request{
		Documents: []DocumentRef{{Ref: docPath}},
	})
	require.NoError(t, err)

	res := run.Wait()
	require.True(t, res.Succeeded, "%+v", res)
}

func TestEngineStartRejectsDuplicateCode(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte("code: demo\n"), 0o644))

	layout, err := fsutil.NewLayout(filepath.Join(dir, "build"))
	require.NoError(t, err)

	eng := &Engine{FS: layout, Dispatcher: operator.NewDispatcher()}
	_, err = eng.Start(context.Background(), Request{
		Documents: []DocumentRef{{Ref: docPath}, {Ref: docPath}},
	})
	require.Error(t, err)
}
