// Package httpapi implements the control surface of spec.md §6.6:
// build.start, build.stop, build.nodes, backed by internal/buildengine and
// internal/scheduler. Concrete routes, session/login, file listings, and
// zip packaging for downloads are out of scope (spec.md §1); besides a
// /health check, this package only covers the three operations §6.6 names,
// grounded on the teacher's
// api.go (mutex-protected job map, JSON request/response handlers, SSE
// log tailing).
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mumuon/geobuild/internal/buildengine"
	"github.com/mumuon/geobuild/internal/graph"
	"github.com/mumuon/geobuild/internal/scheduler"
)

// buildState tracks one in-flight or finished build, the server's analogue
// of the teacher's JobStatus.
type buildState struct {
	run *buildengine.Run

	mu       sync.Mutex
	logs     []string
	snapshot scheduler.Snapshot
	done     bool
	result   scheduler.Result
}

func (b *buildState) appendProgress(s scheduler.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = s
	b.logs = append(b.logs, s.RecentLog...)
}

func (b *buildState) finish(res scheduler.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	b.result = res
}

// Server exposes the three control-surface operations as JSON-over-HTTP
// endpoints, mirroring the teacher's APIServer shape (mutex-protected
// job map, http.HandleFunc routing, one goroutine per job).
type Server struct {
	Engine *buildengine.Engine

	mu     sync.RWMutex
	builds map[string]*buildState
}

func NewServer(engine *buildengine.Engine) *Server {
	return &Server{Engine: engine, builds: make(map[string]*buildState)}
}

// Routes registers the control-surface handlers on mux, the same
// http.HandleFunc-based wiring the teacher's Start uses.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/build/start", s.handleStart)
	mux.HandleFunc("/build/stop", s.handleStop)
	mux.HandleFunc("/build/nodes", s.handleNodes)
	mux.HandleFunc("/health", s.handleHealth)
}

// startRequest is the wire shape for build.start(config_json) (spec.md §6.6).
type startRequest struct {
	Documents []struct {
		Ref       string         `json:"ref"`
		Overrides map[string]any `json:"overrides,omitempty"`
	} `json:"documents"`
	Defaults map[string]any `json:"defaults,omitempty"`
}

type startResponse struct {
	BuildID string `json:"buildId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Documents) == 0 {
		http.Error(w, "at least one document is required", http.StatusBadRequest)
		return
	}

	docs := make([]buildengine.DocumentRef, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, buildengine.DocumentRef{Ref: d.Ref, Overrides: d.Overrides})
	}

	buildID := uuid.New().String()
	state := &buildState{}

	run, err := s.Engine.Start(r.Context(), buildengine.Request{
		Documents:  docs,
		Defaults:   req.Defaults,
		OnProgress: state.appendProgress,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("start build: %v", err), http.StatusInternalServerError)
		return
	}
	state.run = run

	s.mu.Lock()
	s.builds[buildID] = state
	s.mu.Unlock()

	go func() {
		res := run.Wait()
		state.finish(res)
	}()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(startResponse{BuildID: buildID})
}

type stopRequest struct {
	BuildID string `json:"buildId"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	state, ok := s.builds[req.BuildID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "build not found", http.StatusNotFound)
		return
	}

	state.run.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// nodeView is one row of build.nodes' graph_json (spec.md §6.6).
type nodeView struct {
	URN    int64        `json:"urn"`
	Name   string       `json:"name"`
	Status graph.Status `json:"status"`
}

type nodesResponse struct {
	Graph     []nodeView `json:"graph"`
	Logs      []string   `json:"logs"`
	NextIndex int        `json:"nextIndex"`
	Done      bool       `json:"done"`
	Succeeded bool       `json:"succeeded,omitempty"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	buildID := r.URL.Query().Get("buildId")
	if buildID == "" {
		http.Error(w, "buildId is required", http.StatusBadRequest)
		return
	}
	lastIndex := 0
	if v := r.URL.Query().Get("lastLogIndex"); v != "" {
		fmt.Sscanf(v, "%d", &lastIndex)
	}

	s.mu.RLock()
	state, ok := s.builds[buildID]
	s.mu.RUnlock()
	if !ok {
		http.Error(w, "build not found", http.StatusNotFound)
		return
	}

	state.mu.Lock()
	snapshot := state.snapshot
	var tail []string
	if lastIndex < len(state.logs) {
		tail = append(tail, state.logs[lastIndex:]...)
	}
	nextIndex := len(state.logs)
	done := state.done
	succeeded := state.result.Succeeded
	state.mu.Unlock()

	views := make([]nodeView, 0, len(snapshot.Nodes))
	for _, n := range snapshot.Nodes {
		views = append(views, nodeView{URN: n.URN, Name: n.Name, Status: n.Status})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(nodesResponse{
		Graph:     views,
		Logs:      tail,
		NextIndex: nextIndex,
		Done:      done,
		Succeeded: succeeded,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}
