// Package explode implements the Graph Exploder (C4): an ordered,
// idempotent rewrite pipeline that turns a forest of configuration branches
// into the executable DAG (spec.md §4.4), grounded on the teacher's
// service.go staged ProcessJobWithOptions phase sequence (DESIGN NOTES §9
// "recursive graph rewrites -> explicit passes").
package explode

import (
	"fmt"

	"github.com/mumuon/geobuild/internal/graph"
)

// Format tokens recognized by the exploder (spec.md §3.1).
const (
	FormatOSMYAML        = "OSM YAML"
	FormatOpenLibraryYAML = "Open Library YAML"
)

// Known output formats (spec.md §6.1).
const (
	OutGPKG    = "gpkg"
	OutSHP     = "shp"
	OutGeoJSON = "geojson"
	OutMBTiles = "mbtiles"
	OutQGIS    = "qgis"
	OutWeb     = "web"
	OutJSON    = "json"
)

// Pass is one named rewrite stage (DESIGN NOTES §9: "each pass... is a
// compile-time constant").
type Pass struct {
	Name string
	Run  func(e *Exploder) error
}

// Exploder runs the ordered pipeline over one graph and its data branches,
// holding the pre-explosion snapshot used to build the structure blob in
// the output-branches pass.
type Exploder struct {
	G        *graph.Graph
	Branches []*graph.Branch
	Snapshot *graph.Node

	// OutputBranches accumulates the sibling output branches created by
	// pass 12, keyed by the owning data branch's code.
	OutputBranches map[string]*graph.Branch
}

func New(g *graph.Graph, branches []*graph.Branch) *Exploder {
	return &Exploder{G: g, Branches: branches, OutputBranches: make(map[string]*graph.Branch)}
}

// Passes is the fixed pipeline order from spec.md §4.4. Passes that
// introduce new identifiers precede any pass that reads outputs; the
// output-chain construction runs after amalgamation output resolution
// because it depends on final table identifiers.
var Passes = []Pass{
	{"snapshot", (*Exploder).snapshotPass},
	{"all-layers-amalgamation", (*Exploder).allLayersAmalgamationPass},
	{"parent-grouping", (*Exploder).parentGroupingPass},
	{"downloads", (*Exploder).downloadsPass},
	{"unzips", (*Exploder).unzipsPass},
	{"osm-extract-stack", (*Exploder).osmExtractStackPass},
	{"openlibrary-stack", (*Exploder).openLibraryStackPass},
	{"buffer-distance-insertion", (*Exploder).bufferDistanceInsertionPass},
	{"top-level-inversion", (*Exploder).topLevelInversionPass},
	{"preprocess-injection", (*Exploder).preprocessInjectionPass},
	{"amalgamation-output-resolution", (*Exploder).amalgamationOutputResolutionPass},
	{"output-branches", (*Exploder).outputBranchesPass},
	{"osm-boundaries", (*Exploder).osmBoundariesPass},
	{"installers", (*Exploder).installersPass},
	{"global-urn-assignment", (*Exploder).globalURNAssignmentPass},
	{"informative-prefixes", (*Exploder).informativePrefixesPass},
}

// Run executes every pass in order. It is safe to call twice: every pass is
// individually idempotent on an already-expanded graph (spec.md §4.4,
// §8.2 "Exploder idempotence").
func Run(g *graph.Graph, branches []*graph.Branch) (*Exploder, error) {
	e := New(g, branches)
	for _, p := range Passes {
		if err := p.Run(e); err != nil {
			return nil, fmt.Errorf("explode pass %q: %w", p.Name, err)
		}
	}
	return e, nil
}
