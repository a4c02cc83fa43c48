package operator

import (
	"context"
	"fmt"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// Amalgamate implements spec.md §4.7: union an ordered list of input
// tables. If only one input, copy. Otherwise load all inputs into an
// unlogged scratch table, then per grid square union the intersections and
// dump to polygons. Final output keeps only polygonal geometries, carries a
// GIST and an id index.
func Amalgamate(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	inputs := n.InputStrings()
	if len(inputs) == 0 {
		return fmt.Errorf("amalgamate node %q has no inputs", n.Name)
	}
	tableID := n.Output

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("amalgamate already satisfied", "table", tableID)
		return nil
	}

	if len(inputs) == 1 {
		q := fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM %s`, quoteIdent(tableID), quoteIdent(inputs[0]))
		if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
			return &errs.DatabaseError{Err: err}
		}
		if err := createGISTIndex(ctx, env, tableID); err != nil {
			return err
		}
		if err := createIDIndex(ctx, env, tableID); err != nil {
			return err
		}
		return markCompleted(ctx, env, tableID)
	}

	scratch := tableID + "_scratch"
	if _, err := env.DB.Conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(scratch))); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	var union string
	for i, in := range inputs {
		if i > 0 {
			union += " UNION ALL "
		}
		union += fmt.Sprintf("SELECT geom FROM %s", quoteIdent(in))
	}
	createScratch := fmt.Sprintf(`CREATE UNLOGGED TABLE %s AS %s`, quoteIdent(scratch), union)
	if _, err := env.DB.Conn.ExecContext(ctx, createScratch); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	defer env.DB.Conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(scratch)))

	q := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		WITH per_square AS (
			SELECT g.grid_id, ST_Union(ST_Intersection(s.geom, g.geom)) AS unioned
			FROM %[3]s g
			JOIN %[2]s s ON ST_Intersects(s.geom, g.geom)
			GROUP BY g.grid_id
		)
		SELECT grid_id, (ST_Dump(ST_CollectionExtract(unioned, 3))).geom AS geom
		FROM per_square
	`, quoteIdent(tableID), quoteIdent(scratch), quoteIdent(processingGridTable))
	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}

	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	if err := createIDIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}

func createIDIndex(ctx context.Context, env Env, tableID string) error {
	q := fmt.Sprintf(`
		ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS id SERIAL PRIMARY KEY
	`, quoteIdent(tableID))
	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	return nil
}
