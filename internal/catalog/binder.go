package catalog

import (
	"strings"

	"github.com/mumuon/geobuild/internal/graph"
)

// PriorityFormats is the default format preference order used when binding
// a dataset to its priority resource; callers may override per branch.
var PriorityFormats = []string{"GPKG", "GeoJSON", "WFS", "ArcGIS GeoServices REST API"}

// Bind walks g once, annotating any node whose name matches a dataset's
// package_name with title/input/format, and group-level matches with title
// only (spec.md §4.3).
func Bind(g *graph.Graph, groups map[string]Group, priority []string) {
	if priority == nil {
		priority = PriorityFormats
	}

	byName := make(map[string]Dataset)
	groupTitles := make(map[string]string)
	for groupName, grp := range groups {
		groupTitles[groupName] = grp.GroupTitle
		for _, ds := range grp.Datasets {
			byName[ds.PackageName] = ds
		}
	}

	for _, n := range g.AllNodes() {
		if title, ok := groupTitles[n.Name]; ok && n.NodeType == graph.TypeGroup {
			n.Title = title
			continue
		}
		ds, ok := byName[n.Name]
		if !ok {
			continue
		}
		n.Title = ds.Title
		applyDataset(n, ds, priority)
	}
}

func applyDataset(n *graph.Node, ds Dataset, priority []string) {
	if len(ds.Resources) > 0 {
		best, ok := SelectPriorityResource(ds.Resources, priority)
		if ok {
			n.Input = best.URL
			n.Format = best.Format
		}
	} else if ds.URL != "" {
		n.Input = ds.URL
	}

	for _, extra := range ds.Extras {
		applyExtra(n, extra)
	}
}

// applyExtra recognizes "FILTER:field=v1;v2;..." and
// "preprocess=closed_lines_to_polygons" (spec.md §4.3).
func applyExtra(n *graph.Node, extra Extra) {
	if strings.HasPrefix(extra.Key, "FILTER:") {
		field := strings.TrimPrefix(extra.Key, "FILTER:")
		values := strings.Split(extra.Value, ";")
		n.Attrs.Filter = &graph.Filter{Field: field, Values: values}
		return
	}
	if extra.Key == "preprocess" && extra.Value == "closed_lines_to_polygons" {
		n.Attrs.Preprocess = "closed_lines_to_polygons"
	}
}
