package explode

import (
	"encoding/json"
	"fmt"

	"github.com/mumuon/geobuild/internal/graph"
)

// globalFormats are always attached at the output-branch collector
// regardless of per-dataset formats (spec.md §4.4 step 12).
var globalFormats = []string{OutJSON, OutQGIS, OutWeb}

// perDatasetFormats are the formats exported once per amalgamation/invert
// source (everything outputformats names besides the always-global ones).
func perDatasetFormats(outputFormats []string) []string {
	var out []string
	for _, f := range outputFormats {
		switch f {
		case OutJSON, OutQGIS, OutWeb:
			continue
		default:
			out = append(out, f)
		}
	}
	return out
}

// outputBranchesPass implements spec.md §4.4 step 12: for each data branch,
// create a sibling branch "code--outputs" (isolated from the data branch).
// For every amalgamation plus the invert, build a chain
// postprocess -> (clip?) -> (per-format export)* ending at a branch
// collector, then wrap with the global formats. The collector carries a
// structure blob describing the display hierarchy, taken from the snapshot.
func (e *Exploder) outputBranchesPass() error {
	for _, b := range e.Branches {
		outCode := b.Code + "--outputs"

		// Idempotent across Exploder instances: look the branch and
		// collector up in the graph itself rather than in this run's
		// in-memory OutputBranches map, which starts empty every call.
		ob, isNew := e.findOrCreateOutputBranch(outCode, b.Title)
		e.OutputBranches[b.Code] = ob

		var collector *graph.Node
		if isNew {
			collector = e.G.CreateNode(graph.Node{
				Name:     outCode + "--collector",
				Title:    "Output Collector",
				NodeType: graph.TypeGroup,
				Attrs:    graph.Attrs{Branch: outCode, Structure: structureBlob(e.Snapshot, b.Code)},
			})
			e.G.AddChild(ob.Node, collector)
		} else {
			var err error
			collector, err = e.G.FindChild(ob.Node, outCode+"--collector")
			if err != nil {
				continue
			}
		}

		sources := amalgamateAndInvertSources(b.Node)
		formats := perDatasetFormats(outputFormatsFor(b))

		for _, src := range sources {
			if src.Output == "" {
				continue // amalgamation output not resolved yet; next Run() picks it up
			}
			if err := e.buildExportChain(collector, src, b, formats); err != nil {
				return err
			}
		}

		e.attachGlobalFormatExports(collector, b)
	}
	return nil
}

// findOrCreateOutputBranch looks for an existing root-level branch node
// named outCode; if absent, it creates one. Reports whether it created a
// new branch, so callers can skip re-seeding the collector and its chains.
func (e *Exploder) findOrCreateOutputBranch(outCode, dataBranchTitle string) (*graph.Branch, bool) {
	if existing, err := e.G.FindChild(e.G.Root(), outCode); err == nil {
		return &graph.Branch{Node: existing, Code: outCode}, false
	}
	ob := graph.NewBranch(e.G, outCode, dataBranchTitle+" Outputs")
	return ob, true
}

func outputFormatsFor(b *graph.Branch) []string {
	raw, _ := b.Body["outputformats"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func amalgamateAndInvertSources(branchNode *graph.Node) []*graph.Node {
	var out []*graph.Node
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		if n.Action == graph.ActionAmalgamate || n.Action == graph.ActionInvert {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(branchNode)
	return out
}

// buildExportChain attaches postprocess -> (clip?) -> export* below
// collector, fed by src's output (spec.md §4.4 step 12).
func (e *Exploder) buildExportChain(collector, src *graph.Node, b *graph.Branch, formats []string) error {
	chainName := collector.Name + "--" + src.Name
	if _, err := e.G.FindChild(collector, chainName+"--postprocess"); err == nil {
		return nil // idempotent
	}

	postprocess := e.G.CreateNode(graph.Node{
		Name:     chainName + "--postprocess",
		Title:    "Postprocess - " + src.Title,
		NodeType: graph.TypeProcess,
		Action:   graph.ActionPostprocess,
		Input:    src.Output,
		Output:   graph.PostprocessSuffix(src.Output),
		Attrs:    graph.Attrs{Branch: collector.Attrs.Branch},
	})
	e.G.AddChild(collector, postprocess)

	tail := postprocess
	if len(b.Clip) > 0 {
		clip := e.G.CreateNode(graph.Node{
			Name:     chainName + "--clip",
			Title:    "Clip - " + src.Title,
			NodeType: graph.TypeProcess,
			Action:   graph.ActionClip,
			Input:    postprocess.Output,
			Output:   graph.ClipSuffix(postprocess.Output, b.Clip),
			Attrs:    graph.Attrs{Branch: collector.Attrs.Branch, Clip: b.Clip},
		})
		e.G.AddChild(postprocess, clip)
		tail = clip
	}

	for _, format := range formats {
		export := e.G.CreateNode(graph.Node{
			Name:     fmt.Sprintf("%s--export-%s", chainName, format),
			Title:    "Export - " + format,
			NodeType: graph.TypeProcess,
			Action:   graph.ActionOutput,
			Format:   format,
			Input:    tail.Output,
			Output:   tail.Output + "." + format,
			Attrs:    graph.Attrs{Branch: collector.Attrs.Branch},
		})
		e.G.AddChild(tail, export)
	}
	return nil
}

func (e *Exploder) attachGlobalFormatExports(collector *graph.Node, b *graph.Branch) {
	for _, format := range globalFormats {
		name := collector.Name + "--global-" + format
		if _, err := e.G.FindChild(collector, name); err == nil {
			continue
		}
		export := e.G.CreateNode(graph.Node{
			Name:     name,
			Title:    "Export - " + format,
			NodeType: graph.TypeProcess,
			Action:   graph.ActionOutput,
			Format:   format,
			Output:   b.Code + "--" + format,
			Attrs:    graph.Attrs{Branch: collector.Attrs.Branch},
		})
		e.G.AddChild(collector, export)
	}
}

// structureBlob builds the display-hierarchy JSON from the pre-explosion
// snapshot's branch subtree (spec.md §4.4 step 12). Each entry holds a node
// name and its children; no color or level is recorded.
func structureBlob(snapshot *graph.Node, branchCode string) json.RawMessage {
	if snapshot == nil {
		return nil
	}
	var branchSnapshot *graph.Node
	for _, c := range snapshot.Children {
		if c.Name == branchCode {
			branchSnapshot = c
			break
		}
	}
	if branchSnapshot == nil {
		return nil
	}
	b, err := json.Marshal(snapshotStructure(branchSnapshot))
	if err != nil {
		return nil
	}
	return b
}

type structureNode struct {
	Name     string          `json:"name"`
	Children []structureNode `json:"children,omitempty"`
}

func snapshotStructure(n *graph.Node) structureNode {
	s := structureNode{Name: n.Name}
	for _, c := range n.Children {
		s.Children = append(s.Children, snapshotStructure(c))
	}
	return s
}

// installersPass implements spec.md §4.4 step 14: attach a tileserver-format
// install node below each output branch, with an OSM download as its
// prerequisite.
func (e *Exploder) installersPass() error {
	for code, ob := range e.OutputBranches {
		if _, err := e.G.FindChild(ob.Node, "install"); err == nil {
			continue
		}

		osmDownload := e.G.CreateNode(graph.Node{
			Name:     "install--osm-download",
			Title:    "Download - OSM",
			NodeType: graph.TypeDownload,
			Action:   graph.ActionDownload,
			Attrs:    graph.Attrs{Branch: code + "--outputs"},
		})
		install := e.G.CreateNode(graph.Node{
			Name:     "install",
			Title:    "Install - Tileserver",
			NodeType: graph.TypeProcess,
			Action:   graph.ActionInstall,
			Format:   "tileserver",
			Attrs:    graph.Attrs{Branch: code + "--outputs"},
		})
		e.G.AddChild(ob.Node, install)
		e.G.AddChild(install, osmDownload)
	}
	return nil
}

// informativePrefixesPass implements spec.md §4.4 step 16: prepend
// "Import - "/"Amalgamate - " to the title of all import/amalgamate nodes.
func (e *Exploder) informativePrefixesPass() error {
	for _, n := range e.G.AllNodes() {
		switch n.Action {
		case graph.ActionImport:
			n.Title = ensurePrefix(n.Title, "Import - ")
		case graph.ActionAmalgamate:
			n.Title = ensurePrefix(n.Title, "Amalgamate - ")
		}
	}
	return nil
}

func ensurePrefix(title, prefix string) string {
	if len(title) >= len(prefix) && title[:len(prefix)] == prefix {
		return title
	}
	return prefix + title
}

// globalURNAssignmentPass implements spec.md §4.4 step 15 by delegating to
// the graph package's clone-equivalence computation.
func (e *Exploder) globalURNAssignmentPass() error {
	e.G.AssignGlobalURNs()
	return nil
}
