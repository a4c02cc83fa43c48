package operator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// Preprocess implements spec.md §4.7: dump multi-part geometries into their
// parts, keep only polygonal parts, optionally snap to a grid, then for each
// grid square union the parts within and intersect with the square. Rows
// are tagged with grid-square id and a piece label: 'contained' when the
// square wholly contains the unioned parts, 'boundary' otherwise. The
// clipping-master boundary is not consulted, and a square's rows all carry
// the same label; no square yields both a contained and a boundary piece.
func Preprocess(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	if len(n.Children) != 1 {
		return fmt.Errorf("preprocess node %q must have exactly one child, got %d", n.Name, len(n.Children))
	}
	inputTable := n.Children[0].Output
	tableID := n.Output

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("preprocess already satisfied", "table", tableID)
		return nil
	}

	partsExpr := "ST_MakeValid(geom)"
	if n.Attrs.SnapGrid > 0 {
		partsExpr = fmt.Sprintf("ST_SnapToGrid(%s, %s)", partsExpr, strconv.FormatFloat(n.Attrs.SnapGrid, 'f', -1, 64))
	}

	q := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		WITH parts AS (
			SELECT (ST_Dump(%[4]s)).geom AS geom FROM %[2]s
		),
		polygons AS (
			SELECT geom FROM parts WHERE ST_GeometryType(geom) LIKE 'ST_Polygon%%'
		),
		per_square AS (
			SELECT g.grid_id, g.geom AS square_geom,
			       ST_Union(p.geom) AS unioned
			FROM %[3]s g
			LEFT JOIN polygons p ON ST_Intersects(p.geom, g.geom)
			GROUP BY g.grid_id, g.geom
		)
		SELECT grid_id, 'contained' AS piece, (ST_Dump(ST_CollectionExtract(
			ST_Intersection(unioned, square_geom), 3))).geom AS geom
		FROM per_square WHERE unioned IS NOT NULL AND ST_Contains(square_geom, unioned)
		UNION ALL
		SELECT grid_id, 'boundary' AS piece, (ST_Dump(ST_CollectionExtract(
			ST_Intersection(unioned, square_geom), 3))).geom AS geom
		FROM per_square WHERE unioned IS NOT NULL AND NOT ST_Contains(square_geom, unioned)
	`, quoteIdent(tableID), quoteIdent(inputTable), quoteIdent(processingGridTable), partsExpr)

	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}
