// Package registry implements C5 (the durable table registry) and C8 (the
// output registry), sharing one *store.DB but two tables, grounded on the
// teacher's upsert-by-hash and invalidate-then-insert idioms in database.go.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mumuon/geobuild/internal/store"
)

// Record is one registry row (spec.md §3.3).
type Record struct {
	TableID     string
	HumanName   string
	BranchName  string
	ConfigHash  string
	Completed   bool
	UpdatedAt   time.Time
}

// protectedTables can never be dropped by sync(), per spec.md §4.5.
var protectedTables = map[string]bool{
	"registry":            true,
	"branch":               true,
	"output_log":           true,
	"clipping_master":      true,
	"processing_grid":      true,
	"buffered_edges_grid":  true,
	"output_grid":          true,
	"osm_boundaries":       true,
	"spatial_ref_sys":      true,
	"geometry_columns":     true,
	"geography_columns":    true,
}

// Registry is C5's durable registry backed by the spatial store.
type Registry struct {
	db *store.DB
}

func New(db *store.DB) *Registry {
	return &Registry{db: db}
}

// RegisterBranch upserts the branch row by content hash (spec.md §4.5).
func (r *Registry) RegisterBranch(ctx context.Context, name, hash string, configJSON []byte) error {
	const q = `
		INSERT INTO branch (name, hash, config_json, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (hash) DO UPDATE SET name = EXCLUDED.name, config_json = EXCLUDED.config_json, updated_at = now()
	`
	if _, err := r.db.Conn.ExecContext(ctx, q, name, hash, configJSON); err != nil {
		return fmt.Errorf("register branch %q: %w", name, err)
	}
	return nil
}

// RegisterNode upserts a not-completed registry row for tableID (spec.md
// §4.5 "register_node(node) — upsert by table_id, starting as not-completed").
func (r *Registry) RegisterNode(ctx context.Context, tableID, humanName, branchName, configHash string) error {
	const q = `
		INSERT INTO registry (table_id, human_name, branch_name, config_hash, completed, updated_at)
		VALUES ($1, $2, $3, $4, false, now())
		ON CONFLICT (table_id) DO UPDATE SET
			human_name = EXCLUDED.human_name,
			branch_name = EXCLUDED.branch_name,
			config_hash = EXCLUDED.config_hash,
			updated_at = now()
	`
	if _, err := r.db.Conn.ExecContext(ctx, q, tableID, humanName, branchName, configHash); err != nil {
		return fmt.Errorf("register node %q: %w", tableID, err)
	}
	return nil
}

// SetCompleted marks tableID completed, reporting whether a row was updated
// (spec.md §4.5 "set_completed(table_id) -> bool").
func (r *Registry) SetCompleted(ctx context.Context, tableID string) (bool, error) {
	const q = `UPDATE registry SET completed = true, updated_at = now() WHERE table_id = $1`
	res, err := r.db.Conn.ExecContext(ctx, q, tableID)
	if err != nil {
		return false, fmt.Errorf("set completed %q: %w", tableID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set completed %q: rows affected: %w", tableID, err)
	}
	return n > 0, nil
}

// Exists reports whether tableID is registered.
func (r *Registry) Exists(ctx context.Context, tableID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM registry WHERE table_id = $1)`
	var exists bool
	if err := r.db.Conn.QueryRowContext(ctx, q, tableID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check registry exists %q: %w", tableID, err)
	}
	return exists, nil
}

// Sync implements spec.md §4.5's startup GC: delete registry rows that are
// not-completed or whose physical table is missing; drop physical tables
// not in the registry except the protected set; delete branches with no
// referring registry rows.
func (r *Registry) Sync(ctx context.Context) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		const deleteIncompleteOrOrphaned = `
			DELETE FROM registry r
			WHERE r.completed = false
			   OR NOT EXISTS (
			       SELECT 1 FROM information_schema.tables t WHERE t.table_name = r.table_id
			   )
		`
		if _, err := tx.ExecContext(ctx, deleteIncompleteOrOrphaned); err != nil {
			return fmt.Errorf("sync: prune registry rows: %w", err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT table_name FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name NOT IN (SELECT table_id FROM registry)
		`)
		if err != nil {
			return fmt.Errorf("sync: list unregistered tables: %w", err)
		}
		var stray []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("sync: scan unregistered table: %w", err)
			}
			stray = append(stray, name)
		}
		rows.Close()

		for _, name := range stray {
			if IsProtected(name) {
				continue
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteIdent(name))); err != nil {
				return fmt.Errorf("sync: drop stray table %q: %w", name, err)
			}
		}

		const deleteOrphanedBranches = `
			DELETE FROM branch b
			WHERE NOT EXISTS (SELECT 1 FROM registry r WHERE r.branch_name = b.name)
		`
		if _, err := tx.ExecContext(ctx, deleteOrphanedBranches); err != nil {
			return fmt.Errorf("sync: prune orphaned branches: %w", err)
		}

		return nil
	})
}

// IsProtected reports whether tableName is one of the fixed infrastructure
// tables that sync() must never drop (spec.md §4.5).
func IsProtected(tableName string) bool {
	return protectedTables[tableName]
}

func quoteIdent(id string) string {
	return `"` + id + `"`
}
