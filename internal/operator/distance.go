package operator

import (
	"context"
	"fmt"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// clippingMasterTable is the protected infrastructure table Distance and
// Invert both measure against (spec.md §4.5 protected tables).
const clippingMasterTable = "clipping_master"

// Distance implements spec.md §4.7: produce the clipping-master minus the
// buffered union of input, as multipolygons.
func Distance(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	if len(n.Children) != 1 {
		return fmt.Errorf("distance node %q must have exactly one child, got %d", n.Name, len(n.Children))
	}
	inputTable := n.Children[0].Output
	tableID := n.Output
	amount := n.Attrs.Value

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("distance already satisfied", "table", tableID)
		return nil
	}

	q := fmt.Sprintf(`
		CREATE TABLE %s AS
		SELECT (ST_Dump(ST_CollectionExtract(
			ST_Difference(cm.geom, buf.unioned), 3
		))).geom AS geom
		FROM (SELECT ST_Union(geom) AS geom FROM %s) cm
		CROSS JOIN (SELECT ST_Union(ST_Buffer(geom, %s)) AS unioned FROM %s) buf
	`, quoteIdent(tableID), quoteIdent(clippingMasterTable), amount, quoteIdent(inputTable))

	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}
