package operator

import (
	"context"
	"fmt"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// processingGridTable is the protected per-grid-square partition table used
// by Invert and Preprocess (spec.md §4.5 protected tables).
const processingGridTable = "processing_grid"

// Invert implements spec.md §4.7: per-grid-square differences of the
// clipping-master against the lateral union of input within each grid
// square.
func Invert(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	if len(n.Children) != 1 {
		return fmt.Errorf("invert node %q must have exactly one child, got %d", n.Name, len(n.Children))
	}
	inputTable := n.Children[0].Output
	tableID := n.Output

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("invert already satisfied", "table", tableID)
		return nil
	}

	q := fmt.Sprintf(`
		CREATE TABLE %s AS
		SELECT g.grid_id,
		       (ST_Dump(ST_CollectionExtract(
		           ST_Difference(ST_Intersection(cm.geom, g.geom), COALESCE(u.unioned, ST_GeomFromText('POLYGON EMPTY'))), 3
		       ))).geom AS geom
		FROM %s g
		CROSS JOIN (SELECT ST_Union(geom) AS geom FROM %s) cm
		LEFT JOIN LATERAL (
			SELECT ST_Union(i.geom) AS unioned
			FROM %s i
			WHERE ST_Intersects(i.geom, g.geom)
		) u ON true
	`, quoteIdent(tableID), quoteIdent(processingGridTable), quoteIdent(clippingMasterTable), quoteIdent(inputTable))

	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}
