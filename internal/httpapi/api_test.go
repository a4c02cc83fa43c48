package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mumuon/geobuild/internal/buildengine"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
	"github.com/mumuon/geobuild/internal/operator"
)

func noopOp(ctx context.Context, n *graph.Node, env operator.Env) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
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
		d.Set(a, operator.OperatorFunc(noopOp))
	}

	eng := &buildengine.Engine{FS: layout, Dispatcher: d}
	return NewServer(eng)
}

func TestHandleStartAndNodes(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	docPath := filepath.Join(dir, "demo.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte("code: demo2\noutputformats: [gpkg]\n"), 0o644))

	body, _ := json.Marshal(map[string]any{
		"documents": []map[string]any{{"ref": docPath}},
	})
	resp, err := http.Post(srv.URL+"/build/start", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var start startResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&start))
	require.NotEmpty(t, start.BuildID)

	var last nodesResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		nresp, err := http.Get(srv.URL + "/build/nodes?buildId=" + start.BuildID)
		require.NoError(t, err)
		require.NoError(t, json.NewDecoder(nresp.Body).Decode(&last))
		nresp.Body.Close()
		if last.Done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, last.Done)
	require.True(t, last.Succeeded)
}

func TestHandleNodesUnknownBuild(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/build/nodes?buildId=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
