package dbhandle

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odeciojunior/mcp-sql-server/internal/config"
	"github.com/odeciojunior/mcp-sql-server/internal/dbpool"
)

// The fake driver below mirrors internal/dbpool's test double (itself
// adapted from burrowctl's client driver/conn/rows idiom); dbhandle needs
// its own copy since dbpool's is unexported to its package's test binary.

type handleFakeBackend struct {
	mu        sync.Mutex
	execLog   []string
	failExec  bool
	rowsCols  []string
	rowsData  [][]driver.Value
}

func (b *handleFakeBackend) record(q string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.execLog = append(b.execLog, q)
}

var handleFakeRegistry = struct {
	mu sync.Mutex
	m  map[string]*handleFakeBackend
}{m: map[string]*handleFakeBackend{}}

type handleFakeDriver struct{}

func (handleFakeDriver) Open(name string) (driver.Conn, error) {
	handleFakeRegistry.mu.Lock()
	b, ok := handleFakeRegistry.m[name]
	handleFakeRegistry.mu.Unlock()
	if !ok {
		return nil, errors.New("handlefake: unknown backend")
	}
	return &handleFakeConn{backend: b}, nil
}

var registerHandleDriverOnce sync.Once

type handleFakeConn struct{ backend *handleFakeBackend }

func (c *handleFakeConn) Prepare(query string) (driver.Stmt, error) {
	return &handleFakeStmt{conn: c, query: query}, nil
}
func (c *handleFakeConn) Close() error { return nil }
func (c *handleFakeConn) Begin() (driver.Tx, error) {
	return handleFakeTx{}, nil
}

func (c *handleFakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.backend.record(query)
	if c.backend.failExec && query != "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION" {
		return nil, errors.New("driver: exec failed")
	}
	return handleFakeResult{}, nil
}

func (c *handleFakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.backend.record(query)
	return &handleFakeRows{columns: c.backend.rowsCols, data: c.backend.rowsData}, nil
}

type handleFakeStmt struct {
	conn  *handleFakeConn
	query string
}

func (s *handleFakeStmt) Close() error  { return nil }
func (s *handleFakeStmt) NumInput() int { return -1 }
func (s *handleFakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return handleFakeResult{}, nil
}
func (s *handleFakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return &handleFakeRows{columns: s.conn.backend.rowsCols, data: s.conn.backend.rowsData}, nil
}

type handleFakeTx struct{}

func (handleFakeTx) Commit() error   { return nil }
func (handleFakeTx) Rollback() error { return nil }

type handleFakeResult struct{}

func (handleFakeResult) LastInsertId() (int64, error) { return 0, nil }
func (handleFakeResult) RowsAffected() (int64, error) { return 3, nil }

type handleFakeRows struct {
	columns []string
	data    [][]driver.Value
	pos     int
}

func (r *handleFakeRows) Columns() []string { return r.columns }
func (r *handleFakeRows) Close() error      { return nil }
func (r *handleFakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func newTestHandle(t *testing.T, backend *handleFakeBackend) *Handle {
	t.Helper()
	registerHandleDriverOnce.Do(func() {
		sql.Register("handlefakesqlserver", handleFakeDriver{})
	})

	dsn := fmt.Sprintf("handlefake-%s-%d", t.Name(), time.Now().UnixNano())
	handleFakeRegistry.mu.Lock()
	handleFakeRegistry.m[dsn] = backend
	handleFakeRegistry.mu.Unlock()

	db, err := sql.Open("handlefakesqlserver", dsn)
	require.NoError(t, err)

	pool, err := dbpool.NewWithDB(config.PoolConfig{
		MinSize:             0,
		MaxSize:             2,
		IdleTimeout:         time.Hour,
		HealthCheckInterval: time.Hour,
		MaxLifetime:         time.Hour,
		AcquireTimeout:      time.Second,
	}, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	return New(pool)
}

func TestQuery_ProjectsColumnsAndRows(t *testing.T) {
	backend := &handleFakeBackend{
		rowsCols: []string{"id", "name"},
		rowsData: [][]driver.Value{
			{int64(1), "alice"},
			{int64(2), "bob"},
		},
	}
	h := newTestHandle(t, backend)

	cols, rows, err := h.Query(context.Background(), "SELECT * FROM Users", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, cols)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, "alice", rows[0]["name"])
}

func TestQuery_EmptyColumnsYieldsEmptySlice(t *testing.T) {
	backend := &handleFakeBackend{rowsCols: nil, rowsData: nil}
	h := newTestHandle(t, backend)

	_, rows, err := h.Query(context.Background(), "EXEC sp_nothing", nil)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Len(t, rows, 0)
}

func TestExec_CommitsOnSuccess(t *testing.T) {
	backend := &handleFakeBackend{}
	h := newTestHandle(t, backend)

	n, err := h.Exec(context.Background(), "UPDATE Users SET name='x' WHERE id=1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestExec_RollsBackOnError(t *testing.T) {
	backend := &handleFakeBackend{failExec: true}
	h := newTestHandle(t, backend)

	_, err := h.Exec(context.Background(), "UPDATE Users SET name='x' WHERE id=1", nil)
	assert.Error(t, err)
}
