package operator

import (
	"context"
	"fmt"
	"strings"

	"github.com/mumuon/geobuild/internal/buildengine/errs"
	"github.com/mumuon/geobuild/internal/graph"
)

// hedgerowPrefix marks datasets that need the polygon-boundary-as-line
// buffer treatment (spec.md §4.7 Buffer: "for hedgerow-family datasets...
// buffer polygon boundaries as lines, unions with line-buffer of line
// features").
const hedgerowPrefix = "hedgerows--"

// Buffer implements spec.md §4.7: build a new table as
// ST_Buffer(input.geom, distance) with a GIST index.
func Buffer(ctx context.Context, n *graph.Node, env Env) error {
	if err := checkCancel(ctx, n, env.Stop); err != nil {
		return err
	}
	if len(n.Children) != 1 {
		return fmt.Errorf("buffer node %q must have exactly one child, got %d", n.Name, len(n.Children))
	}
	inputTable := n.Children[0].Output
	tableID := n.Output
	amount := n.Attrs.Value

	exists, err := env.DB.TableExists(ctx, tableID)
	if err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if exists {
		env.logger(n).Debug("buffer already satisfied", "table", tableID)
		return nil
	}

	var q string
	if strings.HasPrefix(n.Name, hedgerowPrefix) {
		q = fmt.Sprintf(`
			CREATE TABLE %[1]s AS
			WITH lines AS (
				SELECT ST_Boundary(ST_MakeValid(geom)) AS geom FROM %[2]s WHERE ST_GeometryType(geom) LIKE 'ST_Polygon%%'
				UNION ALL
				SELECT geom FROM %[2]s WHERE ST_GeometryType(geom) LIKE 'ST_LineString%%' OR ST_GeometryType(geom) LIKE 'ST_MultiLineString%%'
			)
			SELECT ST_Union(ST_Buffer(geom, %[3]s)) AS geom FROM lines
		`, quoteIdent(tableID), quoteIdent(inputTable), amount)
	} else {
		q = fmt.Sprintf(`
			CREATE TABLE %s AS
			SELECT ST_Buffer(geom, %s) AS geom FROM %s
		`, quoteIdent(tableID), amount, quoteIdent(inputTable))
	}

	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	if err := createGISTIndex(ctx, env, tableID); err != nil {
		return err
	}
	return markCompleted(ctx, env, tableID)
}

func createGISTIndex(ctx context.Context, env Env, tableID string) error {
	q := fmt.Sprintf(`CREATE INDEX %s ON %s USING GIST (geom)`, quoteIdent(tableID+"_geom_idx"), quoteIdent(tableID))
	if _, err := env.DB.Conn.ExecContext(ctx, q); err != nil {
		return &errs.DatabaseError{Err: err}
	}
	return nil
}

func markCompleted(ctx context.Context, env Env, tableID string) error {
	if env.Registry == nil {
		return nil
	}
	_, err := env.Registry.SetCompleted(ctx, tableID)
	return err
}
