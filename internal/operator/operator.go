// Package operator implements C7: one pluggable executor per graph.Action,
// grounded on the teacher's external-tool shellout (tiles.go's
// exec.CommandContext invocations of tippecanoe/tile-join) and its DB-write
// idiom (database.go). Vendor-specific collaborators that spec.md §1 scopes
// out (concrete downloader protocols, file-format packaging, the
// basemap/tile subsystem) are modeled as narrow interfaces with one default
// adapter each, the same shape the teacher uses for its own S3Client behind
// TileService.
package operator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
	"github.com/mumuon/geobuild/internal/registry"
	"github.com/mumuon/geobuild/internal/store"
)

// Tools names the external CLI binaries of spec.md §6.5.
type Tools struct {
	OSMExtractor string // "extract -m MAPPING OSM_INPUT OUT_STEM"
	TileCutter   string // GeoJSON -> MBTiles, one named layer, zoom range
	TileBaker    string // OSM binary + config -> MBTiles, coastline/detail
	ImportTool   string // generic file -> PostGIS table loader (ogr2ogr-shaped)
}

// StopSignal is the one external stop mechanism operators poll at coarse
// checkpoints (spec.md §4.6 Cancellation): a file sentinel or in-memory
// event, represented here as an atomic flag so both forms can set it.
type StopSignal struct {
	flag atomic.Bool
}

func (s *StopSignal) Stop()         { s.flag.Store(true) }
func (s *StopSignal) Stopped() bool { return s.flag.Load() }

// Env bundles the shared infrastructure handles every operator needs,
// matching spec.md §4.7 "each operator receives a node and shared
// infrastructure handles."
type Env struct {
	DB        *store.DB
	Registry  *registry.Registry
	OutputLog *registry.OutputLog
	FS        *fsutil.Layout
	Tools     Tools
	Fetcher   Fetcher
	Exporter  Exporter
	Installer Installer
	HTTPClient *http.Client
	Stop      *StopSignal
	Logger    *slog.Logger
}

func (e Env) logger(n *graph.Node) *slog.Logger {
	if e.Logger == nil {
		return slog.Default().With("node", n.Name, "action", n.Action)
	}
	return e.Logger.With("node", n.Name, "action", n.Action)
}

// checkCancel is the cooperative-cancellation checkpoint every operator
// calls at coarse intervals (spec.md §4.6: "polled by each operator at
// coarse checkpoints"). It returns errs.CancelledError, not terminal to the
// scheduler's dependency bookkeeping but fatal to this unit of work.
func checkCancel(ctx context.Context, n *graph.Node, stop *StopSignal) error {
	if ctx.Err() != nil {
		return &errs.CancelledError{Node: n.Name}
	}
	if stop != nil && stop.Stopped() {
		return &errs.CancelledError{Node: n.Name}
	}
	return nil
}

// Operator is the single contract every C7 executor implements, dispatched
// by node.Action (spec.md §4.7 state machine: unprocessed -> processing ->
// (processed|failed), with cancelled as an internal unwind state).
type Operator interface {
	Execute(ctx context.Context, n *graph.Node, env Env) error
}

// OperatorFunc adapts a plain function to Operator.
type OperatorFunc func(ctx context.Context, n *graph.Node, env Env) error

func (f OperatorFunc) Execute(ctx context.Context, n *graph.Node, env Env) error {
	return f(ctx, n, env)
}

// Dispatcher routes a node to its operator by Action, matching SPEC_FULL.md
// §6's "one operator.Operator interface... dispatched by node.Action" and
// the teacher's if/else/switch dispatch idiom in main.go, generalized to a
// lookup table since there are fourteen cases rather than seven.
type Dispatcher struct {
	byAction map[graph.Action]Operator
}

// NewDispatcher wires the default operator for every action named in
// spec.md §3.1's action enum.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{byAction: map[graph.Action]Operator{
		graph.ActionDownload:    OperatorFunc(Fetch),
		graph.ActionUnzip:       OperatorFunc(Unzip),
		graph.ActionConcatenate: OperatorFunc(Concatenate),
		graph.ActionRun:         OperatorFunc(Run),
		graph.ActionImport:      OperatorFunc(Import),
		graph.ActionBuffer:      OperatorFunc(Buffer),
		graph.ActionDistance:    OperatorFunc(Distance),
		graph.ActionInvert:      OperatorFunc(Invert),
		graph.ActionPreprocess:  OperatorFunc(Preprocess),
		graph.ActionAmalgamate:  OperatorFunc(Amalgamate),
		graph.ActionPostprocess: OperatorFunc(Postprocess),
		graph.ActionClip:        OperatorFunc(Clip),
		graph.ActionOutput:      OperatorFunc(Output),
		graph.ActionInstall:     OperatorFunc(Install),
	}}
}

// Set overrides the operator registered for action, letting tests or
// callers substitute fakes for Fetcher/Exporter/Installer-backed operators.
func (d *Dispatcher) Set(action graph.Action, op Operator) {
	d.byAction[action] = op
}

// Execute looks up n.Action and runs its operator. A node with no action
// (graph.ActionNone) is the scheduler's responsibility to fast-path to
// processed (spec.md §4.6); reaching here with no action is a programming
// error.
func (d *Dispatcher) Execute(ctx context.Context, n *graph.Node, env Env) error {
	op, ok := d.byAction[n.Action]
	if !ok {
		return fmt.Errorf("no operator registered for action %q on node %q", n.Action, n.Name)
	}
	return op.Execute(ctx, n, env)
}
