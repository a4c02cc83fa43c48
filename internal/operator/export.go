package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// Exporter packages a table to a file in a requested format (spec.md §4.7
// Export, §1 "packaging to on-disk geospatial file formats... treated as an
// output adapter behind one Export capability").
type Exporter interface {
	Export(ctx context.Context, tableID, format, destPath string, tools Tools) error
}

// DefaultExporter shells out to an ogr2ogr-shaped tool for GPKG/GeoJSON/SHP
// and to the external vector-tile cutter for MBTiles, grounded on the
// teacher's tiles.go GenerateTiles (tippecanoe invocation via
// exec.CommandContext).
type DefaultExporter struct {
	DSN string
}

func (e *DefaultExporter) Export(ctx context.Context, tableID, format, destPath string, tools Tools) error {
	switch format {
	case "gpkg":
		return e.exportViaOGR(ctx, tableID, "GPKG", destPath, tools)
	case "geojson":
		return e.exportViaOGR(ctx, tableID, "GeoJSON", destPath, tools)
	case "shp":
		return e.exportViaOGR(ctx, tableID, "ESRI Shapefile", destPath, tools)
	case "mbtiles":
		return e.exportMBTiles(ctx, tableID, destPath, tools)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func (e *DefaultExporter) exportViaOGR(ctx context.Context, tableID, driver, destPath string, tools Tools) error {
	tool := tools.ImportTool
	if tool == "" {
		tool = "ogr2ogr"
	}
	tmp := destPath + ".tmp"
	os.Remove(tmp)
	cmd := exec.CommandContext(ctx, tool, "-f", driver, tmp, e.DSN, tableID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &errs.ExternalToolError{Tool: tool, ExitCode: exitCode, Stderr: string(out)}
	}
	return fsutil.RenameInto(tmp, destPath)
}

// exportMBTiles implements spec.md §4.7's vector-tile path: adaptive grid
// refinement by point count, intersecting, exporting to GeoJSON, running
// the external vector-tile cutter, renaming atomically. Grid refinement
// itself is left to the database layer (a materialized GeoJSON export is
// the cutter's real input); this adapter focuses on the shellout contract.
func (e *DefaultExporter) exportMBTiles(ctx context.Context, tableID, destPath string, tools Tools) error {
	geojsonPath := destPath + ".geojson"
	if err := e.exportViaOGR(ctx, tableID, "GeoJSON", geojsonPath, tools); err != nil {
		return err
	}
	defer os.Remove(geojsonPath)

	tool := tools.TileCutter
	if tool == "" {
		tool = "tile-join"
	}
	tmp := destPath + ".tmp"
	os.Remove(tmp)
	cmd := exec.CommandContext(ctx, tool,
		"-o", tmp,
		"-l", tableID,
		"-z", "14", "-Z", "0",
		geojsonPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &errs.ExternalToolError{Tool: tool, ExitCode: exitCode, Stderr: string(out)}
	}
	return fsutil.RenameInto(tmp, destPath)
}

// Output implements the "output" action (spec.md §4.7 Export): dispatch by
// format, including the two dedicated builders (QGIS project, JSON
// manifest) that don't go through Exporter since they describe the graph
// rather than repackage a single table.
func Output(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	destPath := filepath.Join(env.FS.Output("layers"), filepath.Base(n.Output))

	input, _ := n.Input.(string)
	if input == "" && len(n.Children) == 1 {
		input = n.Children[0].Output
	}

	if env.OutputLog != nil {
		if done, err := env.OutputLog.CheckExists(ctx, input, n.Output); err == nil && done {
			if fsutil.FileSize(destPath) > 0 {
				env.logger(n).Debug("export already satisfied", "path", destPath)
				return nil
			}
		}
	}

	var err error
	switch n.Format {
	case "qgis":
		err = buildQGISProject(destPath, n)
	case "json":
		err = buildJSONManifest(destPath, n)
	case "web":
		err = env.Exporter.Export(ctx, input, "mbtiles", destPath, env.Tools)
	default:
		err = env.Exporter.Export(ctx, input, n.Format, destPath, env.Tools)
	}
	if err != nil {
		return fmt.Errorf("export %q (%s): %w", n.Output, n.Format, err)
	}

	if env.OutputLog != nil {
		return env.OutputLog.Update(ctx, input, n.Output)
	}
	return nil
}

// buildQGISProject assembles a minimal QGIS project document referencing
// the node's structure blob (spec.md §6.4 "styled map configurations").
func buildQGISProject(destPath string, n *graph.Node) error {
	return fsutil.WriteAtomic(destPath, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "<!DOCTYPE qgis>\n<qgis projectname=%q>\n<!-- structure: %s -->\n</qgis>\n", n.Title, n.Attrs.Structure)
		return err
	})
}

// buildJSONManifest assembles the JSON map-manifest (spec.md §6.4) from the
// node's structure blob.
func buildJSONManifest(destPath string, n *graph.Node) error {
	manifest := map[string]any{
		"title":     n.Title,
		"structure": json.RawMessage(n.Attrs.Structure),
	}
	return fsutil.WriteAtomic(destPath, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(manifest)
	})
}
