package operator

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/fsutil"
	"github.com/mumuon/geobuild/internal/graph"
)

// coordinateThreshold is the deep numeric threshold spec.md §4.7 names for
// GeoJSON coordinate sanitization: "1e300".
const coordinateThreshold = 1e300

// Import implements spec.md §4.7: ingest a file into a new table, applying
// an optional filter where-clause and an optional closed-lines-to-polygons
// post-import step, marking the registry completed only after the DB write
// succeeds. On failure with a GeoJSON input, sanitize out-of-range
// coordinates and retry once. Grounded on the teacher's external-tool
// shellout idiom (tiles.go) and geometry_extractor.go's use of orb for
// geometry inspection.
func Import(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	src, _ := n.Input.(string)
	if src == "" {
		return fmt.Errorf("import node %q has no source", n.Name)
	}
	tableID := n.Output
	if tableID == "" {
		return fmt.Errorf("import node %q has no output table id", n.Name)
	}

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("import already satisfied", "table", tableID)
		return nil
	}

	srcPath := src
	if !filepath.IsAbs(src) {
		srcPath = filepath.Join(env.FS.Root, src)
	}

	whereClause := ""
	if n.Attrs.Filter != nil {
		whereClause = buildFilterClause(*n.Attrs.Filter)
	}

	if err := importFile(ctx, env, srcPath, tableID, whereClause); err != nil {
		if !strings.HasSuffix(strings.ToLower(srcPath), ".geojson") && !strings.HasSuffix(strings.ToLower(srcPath), ".json") {
			return fmt.Errorf("import %q into %q: %w", srcPath, tableID, err)
		}
		env.logger(n).Warn("import failed, sanitizing geojson and retrying once", "error", err)
		sanitized := srcPath + ".sanitized.geojson"
		if sanErr := sanitizeGeoJSON(srcPath, sanitized); sanErr != nil {
			return fmt.Errorf("import %q into %q: %w (sanitize also failed: %v)", srcPath, tableID, err, sanErr)
		}
		defer os.Remove(sanitized)
		if err := importFile(ctx, env, sanitized, tableID, whereClause); err != nil {
			return fmt.Errorf("import %q into %q after sanitization: %w", srcPath, tableID, err)
		}
	}

	if n.Attrs.Preprocess == "closed_lines_to_polygons" {
		if err := polygonizeClosedLines(ctx, env, tableID); err != nil {
			return fmt.Errorf("polygonize closed lines for %q: %w", tableID, err)
		}
	}

	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}

	if env.Registry != nil {
		if _, err := env.Registry.SetCompleted(ctx, tableID); err != nil {
			return err
		}
	}
	return nil
}

func buildFilterClause(f graph.Filter) string {
	quoted := make([]string, len(f.Values))
	for i, v := range f.Values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return fmt.Sprintf(`"%s" IN (%s)`, f.Field, strings.Join(quoted, ", "))
}

// importFile shells out to the configured generic file loader (an
// ogr2ogr-shaped tool), applying a validity-repair transformation and the
// optional where clause, matching spec.md §4.7's import contract.
func importFile(ctx context.Context, env Env, srcPath, tableID, whereClause string) error {
	tool := env.Tools.ImportTool
	if tool == "" {
		tool = "ogr2ogr"
	}
	args := []string{
		"-f", "PostgreSQL", pgConnString(env), srcPath,
		"-nln", tableID,
		"-nlt", "PROMOTE_TO_MULTI",
		"-makevalid",
		"-lco", "GEOMETRY_NAME=geom",
		"-lco", "SPATIAL_INDEX=GIST",
	}
	if whereClause != "" {
		args = append(args, "-where", whereClause)
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &errs.ExternalToolError{Tool: tool, ExitCode: exitCode, Stderr: string(out)}
	}
	return nil
}

func pgConnString(env Env) string {
	return "PG:dbname=geobuild"
}

// sanitizeGeoJSON rewrites every coordinate whose absolute value exceeds
// coordinateThreshold to 0, using orb/geojson to parse and re-encode the
// feature collection (spec.md §4.7: "sanitizes out-of-range coordinates in
// place (deep numeric threshold 1e300) and retries once").
func sanitizeGeoJSON(srcPath, destPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("parse geojson: %w", err)
	}
	for _, f := range fc.Features {
		if f.Geometry != nil {
			f.Geometry = clampGeometry(f.Geometry)
		}
	}
	out, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("re-encode geojson: %w", err)
	}
	return fsutil.WriteAtomic(destPath, func(w io.Writer) error {
		_, err := w.Write(out)
		return err
	})
}

// clampGeometry zeroes any coordinate component beyond coordinateThreshold,
// type-switching over orb's geometry kinds the same way
// geometry_extractor.go's calculateBounds does.
func clampGeometry(g orb.Geometry) orb.Geometry {
	switch geom := g.(type) {
	case orb.Point:
		clampPoint(&geom)
		return geom
	case orb.MultiPoint:
		for i := range geom {
			clampPoint(&geom[i])
		}
		return geom
	case orb.LineString:
		clampLineString(geom)
		return geom
	case orb.MultiLineString:
		for _, ls := range geom {
			clampLineString(ls)
		}
		return geom
	case orb.Ring:
		clampLineString(orb.LineString(geom))
		return geom
	case orb.Polygon:
		for _, ring := range geom {
			clampLineString(orb.LineString(ring))
		}
		return geom
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				clampLineString(orb.LineString(ring))
			}
		}
		return geom
	default:
		return g
	}
}

func clampPoint(p *orb.Point) {
	if math.Abs(p[0]) > coordinateThreshold {
		p[0] = 0
	}
	if math.Abs(p[1]) > coordinateThreshold {
		p[1] = 0
	}
}

func clampLineString(ls orb.LineString) {
	for i := range ls {
		clampPoint(&ls[i])
	}
}

// polygonizeClosedLines runs the post-import polygonization pass for
// custom_properties.preprocess=closed_lines_to_polygons (spec.md §4.7).
func polygonizeClosedLines(ctx context.Context, env Env, tableID string) error {
	q := fmt.Sprintf(`
		UPDATE %s SET geom = ST_MakePolygon(ST_ExteriorRing(ST_MakeValid(geom)))
		WHERE ST_GeometryType(geom) = 'ST_LineString' AND ST_IsClosed(geom)
	`, quoteIdent(tableID))
	_, err := env.DB.Conn.ExecContext(ctx, q)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	return nil
}
