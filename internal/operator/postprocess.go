package operator

import (
	"context"
	"fmt"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// bufferedEdgesGridTable holds the buffered grid-seam geometries Postprocess
// checks features against (spec.md §4.5 protected tables).
const bufferedEdgesGridTable = "buffered_edges_grid"

// Postprocess implements spec.md §4.7: stitch preprocessed grid-square
// outputs back into continuous geometries by unioning only the seam
// features (those touching the buffered grid edges), leaving interior
// features as-is. If the union fails from geometric complexity, retain the
// gridded layout (a degraded but correct output).
func Postprocess(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	if len(n.Children) != 1 {
		return fmt.Errorf("postprocess node %q must have exactly one child, got %d", n.Name, len(n.Children))
	}
	inputTable := n.Children[0].Output
	tableID := n.Output

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("postprocess already satisfied", "table", tableID)
		return nil
	}

	stitched := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		WITH seams AS (
			SELECT i.geom FROM %[2]s i
			JOIN %[3]s e ON ST_Intersects(i.geom, e.geom)
		),
		islands AS (
			SELECT i.geom FROM %[2]s i
			WHERE NOT EXISTS (
				SELECT 1 FROM %[3]s e WHERE ST_Intersects(i.geom, e.geom)
			)
		),
		unioned_seams AS (
			SELECT (ST_Dump(ST_CollectionExtract(ST_Union(geom), 3))).geom AS geom FROM seams
		)
		SELECT geom FROM unioned_seams
		UNION ALL
		SELECT geom FROM islands
	`, quoteIdent(tableID), quoteIdent(inputTable), quoteIdent(bufferedEdgesGridTable))

	if _, err := env.DB.Conn.ExecContext(ctx, stitched); err != nil {
		env.logger(n).Warn("seam union failed, retaining gridded layout", "error", err)
		degraded := fmt.Sprintf(`CREATE TABLE %s AS SELECT geom FROM %s`, quoteIdent(tableID), quoteIdent(inputTable))
		if _, degErr := env.DB.Conn.ExecContext(ctx, degraded); degErr != nil {
			return &errs.DatabaseError{Err: degErr}
		}
	}

	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}
