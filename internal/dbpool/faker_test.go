package dbpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// fakeBackend is the shared, controllable state behind one fake *sql.DB.
// The driver/conn/rows shape here is adapted from burrowctl's
// database/sql/driver client (client/driver.go, client/conn.go,
// client/rows.go) — same interfaces, rewired to stand in for a SQL Server
// instance in tests instead of proxying RPC over AMQP.
type fakeBackend struct {
	mu              sync.Mutex
	execLog         []string
	opens           int
	failRollback    bool
	failHealthCheck bool
	failOpen        bool
}

func (b *fakeBackend) recordExec(query string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execLog = append(b.execLog, query)
}

func (b *fakeBackend) execCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.execLog)
}

var fakeRegistry = struct {
	mu sync.Mutex
	m  map[string]*fakeBackend
}{m: map[string]*fakeBackend{}}

func registerFakeBackend(name string, b *fakeBackend) {
	fakeRegistry.mu.Lock()
	defer fakeRegistry.mu.Unlock()
	fakeRegistry.m[name] = b
}

func lookupFakeBackend(name string) (*fakeBackend, bool) {
	fakeRegistry.mu.Lock()
	defer fakeRegistry.mu.Unlock()
	b, ok := fakeRegistry.m[name]
	return b, ok
}

type fakeSQLDriver struct{}

func (fakeSQLDriver) Open(name string) (driver.Conn, error) {
	b, ok := lookupFakeBackend(name)
	if !ok {
		return nil, errors.New("fakedriver: unknown backend " + name)
	}
	b.mu.Lock()
	b.opens++
	fail := b.failOpen
	b.mu.Unlock()
	if fail {
		return nil, errors.New("fakedriver: connection refused")
	}
	return &fakeConn{backend: b}, nil
}

var registerFakeDriverOnce sync.Once

func registerFakeDriver() {
	registerFakeDriverOnce.Do(func() {
		sql.Register("fakesqlserver", fakeSQLDriver{})
	})
}

type fakeConn struct {
	backend *fakeBackend
	closed  bool
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{conn: c, query: query}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) Begin() (driver.Tx, error) {
	return fakeTx{}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.backend.recordExec(query)
	switch query {
	case resetStatement:
		if c.backend.failRollback {
			return nil, errors.New("driver: rollback failed")
		}
	case healthCheckQuery:
		if c.backend.failHealthCheck {
			return nil, errors.New("driver: health check failed")
		}
	}
	return fakeResult{}, nil
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.backend.recordExec(query)
	return &fakeRows{columns: []string{"n"}, data: [][]driver.Value{{int64(1)}}}, nil
}

type fakeStmt struct {
	conn  *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }
func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.conn.backend.recordExec(s.query)
	return fakeResult{}, nil
}
func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.conn.backend.recordExec(s.query)
	return &fakeRows{columns: []string{"n"}, data: [][]driver.Value{{int64(1)}}}, nil
}

type fakeTx struct{}

func (fakeTx) Commit() error   { return nil }
func (fakeTx) Rollback() error { return nil }

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeRows struct {
	columns []string
	data    [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}
