package explode

import (
	"sort"

	"github.com/mumuon/geobuild/internal/graph"
)

// osmExtractStackPass implements spec.md §4.4 step 6: datasets whose format
// is the OSM-YAML token are rewritten into a three-layer stack per distinct
// "osm" URL in their lineage: osm-concatenator (merges sorted, deduplicated
// YAML outputs), osm-downloader (downloads the OSM binary), osm-runner
// (parent of both, runs the external extractor). The original dataset
// consumer becomes an import whose input is the runner's output.
func (e *Exploder) osmExtractStackPass() error {
	byOSMURL := make(map[string][]*graph.Node)
	for _, n := range e.G.AllNodes() {
		if n.Format != FormatOSMYAML {
			continue
		}
		if n.Action == graph.ActionImport {
			continue // idempotent: already rewritten
		}
		osmURL, err := e.G.GetPropertyFromLineage(n.URN, "osm")
		if err != nil || osmURL == "" {
			continue
		}
		byOSMURL[osmURL] = append(byOSMURL[osmURL], n)
	}

	for osmURL, consumers := range byOSMURL {
		yamlOutputs := make([]string, 0, len(consumers))
		seen := map[string]bool{}
		for _, c := range consumers {
			yml, _ := c.Input.(string)
			if yml == "" || seen[yml] {
				continue
			}
			seen[yml] = true
			yamlOutputs = append(yamlOutputs, yml)
		}
		sort.Strings(yamlOutputs)

		branch := graph.OwnerCode(consumers[0])

		concatenator := e.G.CreateNode(graph.Node{
			Name:     branch + "--osm-concatenator",
			Title:    "OSM Concatenator",
			NodeType: graph.TypeOSMConcatenator,
			Action:   graph.ActionConcatenate,
			Input:    yamlOutputs,
			Output:   branch + "--osm-concatenator.yml",
			Attrs:    graph.Attrs{Branch: branch, OSM: osmURL},
		})
		downloader := e.G.CreateNode(graph.Node{
			Name:     branch + "--osm-downloader",
			Title:    "Download - OSM Extract",
			NodeType: graph.TypeOSMDownloader,
			Action:   graph.ActionDownload,
			Input:    osmURL,
			Output:   "downloads/osm/" + branch + ".osm.pbf",
			Attrs:    graph.Attrs{Branch: branch},
		})
		runner := e.G.CreateNode(graph.Node{
			Name:     branch + "--osm-runner",
			Title:    "Run - OSM Extract",
			NodeType: graph.TypeOSMRunner,
			Action:   graph.ActionRun,
			Output:   branch + "--osm-runner.gpkg",
			Attrs:    graph.Attrs{Branch: branch, OSM: osmURL},
		})
		e.G.AddChild(runner, concatenator)
		e.G.AddChild(runner, downloader)

		for _, consumer := range consumers {
			consumer.Action = graph.ActionImport
			consumer.NodeType = graph.TypeProcess
			consumer.Input = runner.Output
			consumer.Children = nil
			e.G.AddChild(consumer, runner)
		}
	}
	return nil
}

// openLibraryStackPass implements spec.md §4.4 step 7: datasets whose
// format is the OpenLibrary-YAML token have their download node promoted to
// a runner that produces a container; the consumer's input becomes the
// runner's output.
func (e *Exploder) openLibraryStackPass() error {
	for _, n := range e.G.AllNodes() {
		if n.Format != FormatOpenLibraryYAML {
			continue
		}
		for _, child := range n.Children {
			if child.Action != graph.ActionDownload {
				continue
			}
			child.Action = graph.ActionRun
			child.NodeType = graph.TypeOpenLibraryRunner
			child.Title = "Run - " + child.Title
			child.Output = child.Name + "--container.gpkg"
			n.Input = child.Output
		}
	}
	return nil
}

// osmBoundariesPass implements spec.md §4.4 step 13: attach an import of an
// OSM-boundaries container either to each output branch (if no clip is
// configured in the graph) or below each clip node (otherwise).
func (e *Exploder) osmBoundariesPass() error {
	const boundariesTable = "osm_boundaries"

	for _, ob := range e.OutputBranches {
		clips := findClipNodes(ob.Node)
		if len(clips) == 0 {
			if hasOSMBoundariesImport(ob.Node) {
				continue
			}
			e.attachOSMBoundariesImport(ob.Node, boundariesTable)
			continue
		}
		for _, clip := range clips {
			if hasOSMBoundariesImport(clip) {
				continue
			}
			e.attachOSMBoundariesImport(clip, boundariesTable)
		}
	}
	return nil
}

func findClipNodes(root *graph.Node) []*graph.Node {
	var out []*graph.Node
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		if n.Action == graph.ActionClip {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

func hasOSMBoundariesImport(n *graph.Node) bool {
	for _, c := range n.Children {
		if c.Name == "osm-boundaries" {
			return true
		}
	}
	return false
}

func (e *Exploder) attachOSMBoundariesImport(parent *graph.Node, table string) {
	imp := e.G.CreateNode(graph.Node{
		Name:     "osm-boundaries",
		Title:    "Import - OSM Boundaries",
		NodeType: graph.TypeProcess,
		Action:   graph.ActionImport,
		Input:    table,
		Output:   table,
		Attrs:    graph.Attrs{Branch: parent.Attrs.Branch},
	})
	e.G.AddChild(parent, imp)
}
