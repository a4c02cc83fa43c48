package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mumuon/geobuild/internal/store"
)

// OutputLogRecord is one export entry (spec.md §3.4).
type OutputLogRecord struct {
	Input      string
	Output     string
	ExportedAt time.Time
}

// OutputLog implements C8: tracks (input,output) exports to skip redundant
// work and invalidate downstream copies, grounded on the teacher's
// UpsertRoadGeometry invalidate-then-insert idiom in database.go.
type OutputLog struct {
	db *store.DB
}

func NewOutputLog(db *store.DB) *OutputLog {
	return &OutputLog{db: db}
}

// CheckExists is an exact-match lookup (spec.md §4.8).
func (o *OutputLog) CheckExists(ctx context.Context, input, output string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM output_log WHERE input = $1 AND output = $2)`
	var exists bool
	if err := o.db.Conn.QueryRowContext(ctx, q, input, output).Scan(&exists); err != nil {
		return false, fmt.Errorf("check output log %q->%q: %w", input, output, err)
	}
	return exists, nil
}

// Update deletes any row matching (input,output) or where input = output
// (forcing invalidation of anything consuming the now-replaced file), then
// inserts the new row, all in one transaction (spec.md §4.8, §8.1 "Exports
// invalidate").
func (o *OutputLog) Update(ctx context.Context, input, output string) error {
	return o.db.WithTx(ctx, func(tx *sql.Tx) error {
		const del = `DELETE FROM output_log WHERE (input = $1 AND output = $2) OR input = $2`
		if _, err := tx.ExecContext(ctx, del, input, output); err != nil {
			return fmt.Errorf("invalidate output log for %q->%q: %w", input, output, err)
		}

		const ins = `INSERT INTO output_log (input, output, exported_at) VALUES ($1, $2, now())`
		if _, err := tx.ExecContext(ctx, ins, input, output); err != nil {
			return fmt.Errorf("insert output log %q->%q: %w", input, output, err)
		}
		return nil
	})
}
