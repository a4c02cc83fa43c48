// Package store wraps the spatial database connection used by C5, C6's size
// pre-fetch phase, and every C7 operator that reads/writes tables, grounded
// on the teacher's database.go connection-pool setup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps a PostGIS-equivalent connection pool (spec.md §6.3: the spec does
// not mandate PostGIS, only equivalent predicates/ST_* functions).
type DB struct {
	Conn *sql.DB
}

// DSN holds the fields the teacher's config.go collects into a libpq
// connection string.
type DSN struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func Open(cfg DSN) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("spatial database connected")

	return &DB{Conn: conn}, nil
}

func (d *DB) Close() error {
	return d.Conn.Close()
}

// WithTx runs fn inside one BEGIN/COMMIT, rolling back on any error or
// panic, matching the "each operation is one statement or one BEGIN/COMMIT"
// transactional discipline of spec.md §4.5.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// TableExists is the idempotence check C7 operators use before redoing work
// for a DB-backed output.
func (d *DB) TableExists(ctx context.Context, tableID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`
	var exists bool
	if err := d.Conn.QueryRowContext(ctx, q, tableID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table exists %q: %w", tableID, err)
	}
	return exists, nil
}

// TableRowCount supports the single-child-amalgamation boundary test
// (spec.md §8.3: "direct copy...table exists with identical row count").
func (d *DB) TableRowCount(ctx context.Context, tableID string) (int64, error) {
	q := fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(tableID))
	var n int64
	if err := d.Conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows in %q: %w", tableID, err)
	}
	return n, nil
}

// TableSize returns the table's on-disk size in bytes, used by the
// scheduler's tie-break ordering (spec.md §4.6 "database table size").
// Unknown (missing table) is tolerated and reported as zero.
func (d *DB) TableSize(ctx context.Context, tableID string) int64 {
	const q = `SELECT pg_total_relation_size($1)`
	var size int64
	if err := d.Conn.QueryRowContext(ctx, q, tableID).Scan(&size); err != nil {
		return 0
	}
	return size
}

// CancelQueriesFor asks the database to cancel the given user's active
// queries, the scheduler's cooperative-cancellation escalation (spec.md
// §4.6 "the scheduler additionally requests the database to cancel its
// active queries").
func (d *DB) CancelQueriesFor(ctx context.Context, user string) error {
	const q = `SELECT pg_cancel_backend(pid) FROM pg_stat_activity WHERE usename = $1 AND pid <> pg_backend_pid()`
	if _, err := d.Conn.ExecContext(ctx, q, user); err != nil {
		return fmt.Errorf("cancel active queries for %q: %w", user, err)
	}
	return nil
}

// quoteIdent applies simple double-quote identifier quoting (spec.md §6.3).
func quoteIdent(id string) string {
	return `"` + id + `"`
}
