package explode

import (
	"fmt"
	"path"
	"strings"

	"github.com/mumuon/geobuild/internal/graph"
)

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isOSMFormat(format string) bool {
	return format == FormatOSMYAML || format == "OSM"
}

// downloadsPass implements spec.md §4.4 step 4: for every terminal node
// whose input is a URL, insert a child download node; rewrite the
// terminal's input to the downloader's local output. OSM-family formats
// route into a designated subfolder.
func (e *Exploder) downloadsPass() error {
	for _, n := range e.G.GetTerminalNodes() {
		url, ok := n.Input.(string)
		if !ok || !isURL(url) {
			continue
		}
		if n.Action == graph.ActionDownload || n.Action == graph.ActionRun {
			continue // idempotent: download and run nodes fetch their own URL input
		}
		if len(n.Children) > 0 {
			continue // idempotent: already has a downloader child
		}

		subfolder := "downloads"
		if isOSMFormat(n.Format) {
			subfolder = "downloads/osm"
		}
		local := fmt.Sprintf("%s/%s", subfolder, path.Base(url))

		downloader := e.G.CreateNode(graph.Node{
			Name:     n.Name + "--download",
			Title:    "Download - " + n.Title,
			NodeType: graph.TypeDownload,
			Action:   graph.ActionDownload,
			Format:   n.Format,
			Input:    url,
			Output:   local,
			Attrs:    graph.Attrs{Branch: n.Attrs.Branch},
		})
		e.G.AddChild(n, downloader)
		n.Input = local
	}
	return nil
}

// unzipsPass implements spec.md §4.4 step 5: if a download URL ends in
// ".zip", splice an unzip step between the downloader and its consumer.
func (e *Exploder) unzipsPass() error {
	for _, n := range e.G.AllNodes() {
		if n.Action != graph.ActionDownload {
			continue
		}
		url, _ := n.Input.(string)
		if !strings.HasSuffix(strings.ToLower(url), ".zip") {
			continue
		}
		consumer := n.Parent
		if consumer == nil {
			continue
		}
		if consumer.Action == graph.ActionUnzip || hasUnzipChild(consumer) {
			continue // idempotent: the downloader already feeds an unzip step
		}

		targetExt := path.Ext(strings.TrimSuffix(url, path.Ext(url)))
		if targetExt == "" {
			targetExt = ".gpkg"
		}
		n.Output = strings.TrimSuffix(n.Output, path.Ext(n.Output)) + ".zip"

		unzip := e.G.CreateNode(graph.Node{
			Name:     n.Name + "--unzip",
			Title:    "Unzip - " + n.Title,
			NodeType: graph.TypeProcess,
			Action:   graph.ActionUnzip,
			Input:    n.Output,
			Output:   strings.TrimSuffix(n.Output, ".zip") + targetExt,
			Attrs:    graph.Attrs{Branch: n.Attrs.Branch},
		})
		e.G.InsertParent(n, unzip)
		consumer.Input = unzip.Output
	}
	return nil
}

func hasUnzipChild(n *graph.Node) bool {
	for _, c := range n.Children {
		if c.Action == graph.ActionUnzip {
			return true
		}
	}
	return false
}
