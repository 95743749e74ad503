// Package dbhandle implements the Database Handle component (C4): a thin
// façade around one connection pool offering query, exec, and scoped
// cursor operations with rollback-on-error.
package dbhandle

import (
	"context"
	"database/sql"
	"log"

	"github.com/odeciojunior/mcp-sql-server/internal/dbpool"
)

// Row is one result row projected as column name -> value.
type Row map[string]any

// Handle wraps one pool. Driver errors propagate unchanged; the handle
// never retries.
type Handle struct {
	pool *dbpool.Pool
}

// New wraps pool in a Handle.
func New(pool *dbpool.Pool) *Handle {
	return &Handle{pool: pool}
}

// Cursor borrows a connection for the duration of fn. If fn returns an
// error, Cursor attempts a best-effort rollback before the connection is
// released — the pool's own release-time reset will roll back again if
// this one fails or was a no-op, so a duplicate rollback is harmless.
// Rollback failures here are logged and swallowed so the original error
// from fn surfaces unchanged.
func (h *Handle) Cursor(ctx context.Context, fn func(conn *sql.Conn) error) error {
	return h.pool.Borrow(ctx, func(e *dbpool.Entry) error {
		err := fn(e.Conn)
		if err != nil {
			if _, rbErr := e.Conn.ExecContext(ctx, "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION"); rbErr != nil {
				log.Printf("[dbhandle] best-effort rollback after cursor error failed: %v", rbErr)
			}
		}
		return err
	})
}

// Query executes sqlText with params and materialises every row as a
// Row map keyed by column name. An empty column description yields an
// empty row slice rather than an error.
func (h *Handle) Query(ctx context.Context, sqlText string, params []any) ([]string, []Row, error) {
	var columns []string
	var rows []Row

	err := h.Cursor(ctx, func(conn *sql.Conn) error {
		rs, err := conn.QueryContext(ctx, sqlText, params...)
		if err != nil {
			return err
		}
		defer rs.Close()

		columns, err = rs.Columns()
		if err != nil {
			return err
		}
		if len(columns) == 0 {
			rows = []Row{}
			return nil
		}

		values := make([]any, len(columns))
		scanDest := make([]any, len(columns))
		for i := range values {
			scanDest[i] = &values[i]
		}

		for rs.Next() {
			if err := rs.Scan(scanDest...); err != nil {
				return err
			}
			row := make(Row, len(columns))
			for i, col := range columns {
				row[col] = normalizeScanned(values[i])
			}
			rows = append(rows, row)
		}
		if rows == nil {
			rows = []Row{}
		}
		return rs.Err()
	})

	return columns, rows, err
}

// normalizeScanned turns driver byte-slice results into strings so that
// callers shaping JSON responses never have to special-case []byte.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// Exec executes sqlText with params inside an explicit transaction,
// committing on success and rolling back (then re-raising the original
// error) on failure. SQL Server connections default to autocommit, so the
// explicit transaction is what gives exec its commit/rollback semantics.
func (h *Handle) Exec(ctx context.Context, sqlText string, params []any) (int64, error) {
	var affected int64

	err := h.Cursor(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, sqlText, params...)
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[dbhandle] rollback after exec error failed: %v", rbErr)
			}
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[dbhandle] rollback after RowsAffected error failed: %v", rbErr)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		affected = n
		return nil
	})

	return affected, err
}

// Close closes the underlying pool. The handle is terminal afterward.
func (h *Handle) Close() error {
	return h.pool.Close()
}

// Metrics exposes the underlying pool's point-in-time counters, for
// periodic monitoring snapshots.
func (h *Handle) Metrics() dbpool.Metrics {
	return h.pool.Metrics()
}
