package operator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// osmBoundariesTable is the protected boundaries table Clip unions areas
// from (spec.md §4.5 protected tables).
const osmBoundariesTable = "osm_boundaries"

// CheckAreasExist rejects unknown clip areas at schedule time (spec.md §4.7
// "Reject unknown areas at schedule time (pre-check against the boundaries
// table)"), called by the scheduler before submitting a clip node.
func CheckAreasExist(ctx context.Context, env Env, areas []string) error {
	if len(areas) == 0 {
		return nil
	}
	placeholders := make([]string, len(areas))
	args := make([]any, len(areas))
	for i, a := range areas {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = strings.ToLower(a)
	}
	q := fmt.Sprintf(`SELECT lower(name) FROM %s WHERE lower(name) IN (%s)`, quoteIdent(osmBoundariesTable), strings.Join(placeholders, ", "))
	rows, err := env.DB.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return &errs.DatabaseError{Err: err}
		}
		found[name] = true
	}
	for _, a := range areas {
		if !found[strings.ToLower(a)] {
			return &errs.NotFoundError{Kind: "area", Key: a}
		}
	}
	return nil
}

// Clip implements spec.md §4.7: compute the unioned boundary of matching
// rows in the OSM-boundaries table for the given area list, then for each
// input row either keep (if wholly within) or intersect; result is
// multipolygons.
func Clip(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	if len(n.Children) != 1 {
		return fmt.Errorf("clip node %q must have exactly one child, got %d", n.Name, len(n.Children))
	}
	if err := CheckAreasExist(ctx, env, n.Attrs.Clip); err != nil {
		return err
	}
	inputTable := n.Children[0].Output
	tableID := n.Output

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("clip already satisfied", "table", tableID)
		return nil
	}

	placeholders := make([]string, len(n.Attrs.Clip))
	args := make([]any, len(n.Attrs.Clip))
	for i, a := range n.Attrs.Clip {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = strings.ToLower(a)
	}

	q := fmt.Sprintf(`
		CREATE TABLE %[1]s AS
		WITH boundary AS (
			SELECT ST_Union(geom) AS geom FROM %[3]s WHERE lower(name) IN (%[4]s)
		)
		SELECT (ST_Dump(ST_CollectionExtract(
			CASE WHEN ST_Contains(b.geom, i.geom) THEN i.geom ELSE ST_Intersection(i.geom, b.geom) END, 3
		))).geom AS geom
		FROM %[2]s i, boundary b
		WHERE ST_Intersects(i.geom, b.geom)
	`, quoteIdent(tableID), quoteIdent(inputTable), quoteIdent(osmBoundariesTable), strings.Join(placeholders, ", "))

	if _, err := env.DB.Conn.ExecContext(ctx, q, args...); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}
