// Package scheduler implements C6: the dependency-driven, two-pool (I/O vs
// CPU) engine that cooperatively runs the exploded DAG, deduplicating work
// across clone equivalence classes, honoring cancellation, and surfacing
// incremental progress (spec.md §4.6), grounded on the teacher's bounded
// worker-pool idiom in s3.go's UploadDirectory (channel-fed goroutines,
// WaitGroup drain) generalized from one fixed pool to two independently
// sized ones.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
	"github.com/mumuon/geobuild/internal/operator"
)

// DownloadsPriority ranks download formats for ready-batch ordering
// (spec.md §4.6 "lower DOWNLOADS_PRIORITY format index first"). A format not
// listed sorts after every listed one.
var DownloadsPriority = []string{
	"GPKG", "GeoJSON", "WFS", "ArcGIS GeoServices REST API",
	"OSM", "OSM YAML", "Open Library YAML", "Open Site YAML",
}

// ioActions and cpuActions partition graph.Action into the two pools
// (spec.md §4.6).
var ioActions = map[graph.Action]bool{
	graph.ActionInstall:     true,
	graph.ActionDownload:    true,
	graph.ActionUnzip:       true,
	graph.ActionConcatenate: true,
}

var cpuActions = map[graph.Action]bool{
	graph.ActionRun:         true,
	graph.ActionImport:      true,
	graph.ActionInvert:      true,
	graph.ActionPreprocess:  true,
	graph.ActionBuffer:      true,
	graph.ActionDistance:    true,
	graph.ActionAmalgamate:  true,
	graph.ActionPostprocess: true,
	graph.ActionClip:        true,
	graph.ActionOutput:      true,
}

// Snapshot is one progress emission: status-per-URN plus recent log lines,
// suitable for the control surface's build.nodes (spec.md §4.6 Progress,
// §6.6).
type Snapshot struct {
	Nodes     []NodeStatus
	RecentLog []string
}

// NodeStatus is one row of a Snapshot.
type NodeStatus struct {
	URN    int64
	Name   string
	Status graph.Status
}

// Result is the outcome of one Run.
type Result struct {
	Succeeded bool
	Failed    []*graph.Node
	Err       error
}

// Scheduler runs C6 over one graph, delegating each ready node to
// s.Dispatcher. DBUser names the connection-owning role for the
// cancellation escalation of spec.md §4.6.
type Scheduler struct {
	G          *graph.Graph
	Dispatcher *operator.Dispatcher
	Env        operator.Env
	DBUser     string

	// IOPoolSize/CPUPoolSize default per spec.md §4.6: IO = 4*cpu pool,
	// CPU = max(1, NumCPU-1). Set explicitly to override.
	IOPoolSize  int
	CPUPoolSize int

	// OnProgress, if set, is called after every submission and completion
	// (spec.md §4.6 Progress). Must not block for long.
	OnProgress func(Snapshot)

	mu       sync.Mutex
	inFlight map[string]bool // clone-class key -> in flight
	sizes    map[int64]int64 // urn -> cached size, populated by prefetch
	recent   []string
}

// New constructs a Scheduler with default pool sizes.
func New(g *graph.Graph, dispatcher *operator.Dispatcher, env operator.Env) *Scheduler {
	cpuPool := runtime.NumCPU() - 1
	if cpuPool < 1 {
		cpuPool = 1
	}
	return &Scheduler{
		G:           g,
		Dispatcher:  dispatcher,
		Env:         env,
		DBUser:      "geobuild",
		IOPoolSize:  4 * cpuPool,
		CPUPoolSize: cpuPool,
		inFlight:    make(map[string]bool),
		sizes:       make(map[int64]int64),
	}
}

// cloneKey is the in-flight / dedup identity: global_urn if the node has
// clones, otherwise its own URN (spec.md §4.6 "exactly one concurrent
// execution per global_urn equivalence class").
func cloneKey(n *graph.Node) string {
	if n.GlobalURN != "" {
		return "g:" + n.GlobalURN
	}
	return fmt.Sprintf("u:%d", n.URN)
}

// isReady reports whether n (and every one of its clones) has every child
// processed, and n is neither terminal nor already in flight (spec.md §4.6:
// "A node is ready when every child of every clone sharing its global_urn is
// processed... and the node itself is not terminal and not in flight").
func (s *Scheduler) isReady(n *graph.Node) bool {
	if n.IsTerminal() {
		return false
	}
	s.mu.Lock()
	flight := s.inFlight[cloneKey(n)]
	s.mu.Unlock()
	if flight {
		return false
	}
	for _, clone := range s.G.Clones(n) {
		for _, c := range clone.Children {
			if c.GetStatus() != graph.StatusProcessed {
				return false
			}
		}
	}
	return true
}

// readyBatch computes the distinct (by clone key) set of ready nodes,
// deterministically picking the lowest-URN representative of each clone
// class (spec.md §4.6: "a worker takes one logical node").
func (s *Scheduler) readyBatch() []*graph.Node {
	byKey := make(map[string]*graph.Node)
	for _, n := range s.G.AllNodes() {
		if n == s.G.Root() {
			continue
		}
		if !s.isReady(n) {
			continue
		}
		key := cloneKey(n)
		if existing, ok := byKey[key]; !ok || n.URN < existing.URN {
			byKey[key] = n
		}
	}
	out := make([]*graph.Node, 0, len(byKey))
	for _, n := range byKey {
		out = append(out, n)
	}
	return out
}

// orderBatch applies the deterministic ready-batch ordering of spec.md §4.6:
// downloads first, then lower DOWNLOADS_PRIORITY index first among
// downloads, then larger size first as the final tie-break.
func (s *Scheduler) orderBatch(nodes []*graph.Node) {
	weight := func(n *graph.Node) int {
		if n.Action == graph.ActionDownload {
			return 0
		}
		return 1
	}
	priorityIndex := func(n *graph.Node) int {
		for i, f := range DownloadsPriority {
			if f == n.Format {
				return i
			}
		}
		return len(DownloadsPriority)
	}
	size := func(n *graph.Node) int64 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.sizes[n.URN]
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		wa, wb := weight(a), weight(b)
		if wa != wb {
			return wa < wb
		}
		if wa == 0 { // both downloads
			pa, pb := priorityIndex(a), priorityIndex(b)
			if pa != pb {
				return pa < pb
			}
		}
		return size(a) > size(b)
	})
}

// markInFlight/clearInFlight guard the one-concurrent-execution-per-clone
// rule.
func (s *Scheduler) markInFlight(n *graph.Node) {
	s.mu.Lock()
	s.inFlight[cloneKey(n)] = true
	s.mu.Unlock()
}

func (s *Scheduler) clearInFlight(n *graph.Node) {
	s.mu.Lock()
	delete(s.inFlight, cloneKey(n))
	s.mu.Unlock()
}

func (s *Scheduler) inFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

func (s *Scheduler) logRecent(msg string) {
	s.mu.Lock()
	s.recent = append(s.recent, msg)
	if len(s.recent) > 200 {
		s.recent = s.recent[len(s.recent)-200:]
	}
	s.mu.Unlock()
}

func (s *Scheduler) emitProgress() {
	if s.OnProgress == nil {
		return
	}
	all := s.G.AllNodes()
	nodes := make([]NodeStatus, 0, len(all))
	for _, n := range all {
		nodes = append(nodes, NodeStatus{URN: n.URN, Name: n.Name, Status: n.GetStatus()})
	}
	s.mu.Lock()
	recent := append([]string(nil), s.recent...)
	s.mu.Unlock()
	s.OnProgress(Snapshot{Nodes: nodes, RecentLog: recent})
}

// allTerminal reports whether every non-root node has reached a terminal
// status.
func (s *Scheduler) allTerminal() bool {
	for _, n := range s.G.AllNodes() {
		if n == s.G.Root() {
			continue
		}
		if !n.IsTerminal() {
			return false
		}
	}
	return true
}

func (s *Scheduler) nonTerminalCount() int {
	count := 0
	for _, n := range s.G.AllNodes() {
		if n == s.G.Root() {
			continue
		}
		if !n.IsTerminal() {
			count++
		}
	}
	return count
}

// Run drives the scheduler loop to completion (success or Stall), honoring
// ctx cancellation (spec.md §4.6).
func (s *Scheduler) Run(ctx context.Context) Result {
	ioSem := semaphore.NewWeighted(int64(s.IOPoolSize))
	cpuSem := semaphore.NewWeighted(int64(s.CPUPoolSize))
	completions := make(chan *graph.Node, 4096)

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []*graph.Node

	emptySweeps := 0

	for {
		if ctx.Err() != nil {
			if s.Env.Stop != nil {
				s.Env.Stop.Stop()
			}
			break
		}

		ready := s.readyBatch()
		s.prefetchSizes(ctx, ready)
		s.orderBatch(ready)

		submitted := 0
		for _, n := range ready {
			if n.Action == graph.ActionNone {
				// No operator to run; transitions directly to processed
				// (spec.md §4.6).
				s.G.SetCloneStatus(n, graph.StatusProcessed)
				s.logRecent(fmt.Sprintf("%s: processed (no action)", n.Name))
				submitted++
				continue
			}

			if n.Action == graph.ActionClip && s.Env.DB != nil {
				// Unknown clip areas are rejected before the node is submitted.
				if err := operator.CheckAreasExist(ctx, s.Env, n.Attrs.Clip); err != nil {
					s.G.SetCloneStatus(n, graph.StatusFailed)
					s.logRecent(fmt.Sprintf("%s: failed: %v", n.Name, err))
					failedMu.Lock()
					failed = append(failed, n)
					failedMu.Unlock()
					submitted++
					continue
				}
			}

			sem := cpuSem
			if ioActions[n.Action] {
				sem = ioSem
			} else if !cpuActions[n.Action] {
				// Unknown action: treat as a CPU-pool unit so it still
				// surfaces a failure through the dispatcher rather than
				// stalling silently.
				sem = cpuSem
			}

			s.markInFlight(n)
			s.G.SetCloneStatus(n, graph.StatusProcessing)
			submitted++

			wg.Add(1)
			go func(n *graph.Node, sem *semaphore.Weighted) {
				defer wg.Done()
				if err := sem.Acquire(ctx, 1); err != nil {
					// Context cancelled while waiting for a slot.
					s.G.SetCloneStatus(n, graph.StatusFailed)
					s.logRecent(fmt.Sprintf("%s: failed (pool acquire: %v)", n.Name, err))
					s.clearInFlight(n)
					completions <- n
					return
				}
				defer sem.Release(1)

				err := s.Dispatcher.Execute(ctx, n, s.Env)
				var cancelled *errs.CancelledError
				switch {
				case err == nil:
					s.G.SetCloneStatus(n, graph.StatusProcessed)
					s.logRecent(fmt.Sprintf("%s: processed", n.Name))
				case asCancelled(err, &cancelled):
					// Cancellation is never a node failure in semantics
					// (spec.md §4.7); the node is left non-terminal and the
					// run exits via ctx cancellation, not via this node.
					s.G.SetCloneStatus(n, graph.StatusCancelled)
					s.logRecent(fmt.Sprintf("%s: cancelled", n.Name))
				default:
					s.G.SetCloneStatus(n, graph.StatusFailed)
					s.logRecent(fmt.Sprintf("%s: failed: %v", n.Name, err))
					failedMu.Lock()
					failed = append(failed, n)
					failedMu.Unlock()
				}
				s.clearInFlight(n)
				completions <- n
			}(n, sem)
		}

		if submitted > 0 {
			s.emitProgress()
		}

		if s.inFlightCount() == 0 && submitted == 0 {
			if s.allTerminal() {
				break
			}
			emptySweeps++
			if emptySweeps >= 2 {
				wg.Wait()
				return Result{Succeeded: false, Err: &errs.StallError{Remaining: s.nonTerminalCount()}}
			}
			continue
		}
		emptySweeps = 0

		// Block until at least one unit completes before recomputing the
		// ready set (spec.md §4.6: "blocks until any unit completes").
		select {
		case n := <-completions:
			s.emitProgress()
			// Drain any other completions that arrived concurrently so one
			// sweep picks up as much newly-ready work as possible.
			draining := true
			for draining {
				select {
				case n2 := <-completions:
					_ = n2
					s.emitProgress()
				default:
					draining = false
				}
			}
			_ = n
		case <-ctx.Done():
		}
	}

	wg.Wait()
	if ctx.Err() != nil {
		if s.Env.DB != nil {
			_ = s.Env.DB.CancelQueriesFor(context.Background(), s.DBUser)
		}
		return Result{Succeeded: false, Failed: failed, Err: ctx.Err()}
	}

	failedMu.Lock()
	defer failedMu.Unlock()
	if len(failed) > 0 {
		return Result{Succeeded: false, Failed: failed, Err: fmt.Errorf("%d node(s) failed", len(failed))}
	}
	return Result{Succeeded: true}
}

func asCancelled(err error, target **errs.CancelledError) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if c, ok := e.(*errs.CancelledError); ok {
			*target = c
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
