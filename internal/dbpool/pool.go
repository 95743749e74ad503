// Package dbpool implements the Connection Pool component (C3): a bounded,
// thread-safe pool of live SQL Server connections with min/max sizing,
// idle retirement, maximum lifetime, periodic health checks, and
// transaction-state reset on return.
package dbpool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"sync"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"github.com/odeciojunior/mcp-sql-server/internal/config"
)

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("dbpool: pool is closed")

// ErrAcquireTimeout is returned when no entry becomes available before the
// configured acquire timeout elapses.
var ErrAcquireTimeout = errors.New("dbpool: acquire timeout")

const healthCheckQuery = "SELECT 1"
const resetStatement = "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION"

// Entry is a single live connection tracked with lifecycle metadata. Once
// checked out it is owned by exactly one caller until Release is called.
type Entry struct {
	Conn *sql.Conn

	createdAt         time.Time
	lastUsedAt        time.Time
	lastHealthCheckAt time.Time
	useCount          int64
}

func (e *Entry) isStale(maxLifetime time.Duration) bool {
	return maxLifetime > 0 && time.Since(e.createdAt) > maxLifetime
}

func (e *Entry) isIdle(idleTimeout time.Duration) bool {
	return idleTimeout > 0 && time.Since(e.lastUsedAt) > idleTimeout
}

func (e *Entry) needsHealthCheck(interval time.Duration) bool {
	return interval > 0 && time.Since(e.lastHealthCheckAt) > interval
}

func (e *Entry) markUsed() {
	e.lastUsedAt = time.Now()
	e.useCount++
}

// Metrics is a point-in-time snapshot of pool counters.
type Metrics struct {
	TotalConnections   int
	Available          int
	InUse              int
	PeakUsage          int
	TotalAcquisitions  int64
	TotalReleases      int64
	FailedAcquisitions int64
	HealthChecks       int64
	TransactionResets  int64
	MinSize            int
	MaxSize            int
	Closed             bool
}

// Pool is a bounded, concurrent pool of *sql.Conn wrapped in Entry.
type Pool struct {
	cfg config.PoolConfig
	db  *sql.DB

	parked chan *Entry

	mu                 sync.Mutex
	createdCount       int
	inUse              int
	peakUsage          int
	totalAcquisitions  int64
	totalReleases      int64
	failedAcquisitions int64
	healthChecks       int64
	transactionResets  int64
	closed             bool
}

// BuildDSN constructs the sqlserver:// connection string go-mssqldb expects
// from the subset of DatabaseConfig fields that affect connectivity. This
// is deliberately the only place in the gateway that knows the driver's
// DSN shape.
func BuildDSN(db config.DatabaseConfig) string {
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(db.User, db.Password),
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
	}
	q := url.Values{}
	q.Set("database", db.Database)
	q.Set("connection timeout", strconv.Itoa(int(db.ConnectionTimeout.Seconds())))
	if db.QueryTimeout > 0 {
		q.Set("dial timeout", strconv.Itoa(int(db.QueryTimeout.Seconds())))
	}
	if db.Encrypt {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	if db.TrustCert {
		q.Set("trustservercertificate", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// New opens the underlying *sql.DB for dsn and eagerly creates min_size
// entries. Creation failures during warm-up are logged and ignored — the
// pool still comes up, and the first on-demand Acquire will try again.
func New(cfg config.PoolConfig, dsn string) (*Pool, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	return NewWithDB(cfg, db)
}

// NewWithDB builds a pool over an already-opened *sql.DB, skipping driver
// resolution. Production code reaches this only through New; tests use it
// directly with a fake driver registered under a private name.
func NewWithDB(cfg config.PoolConfig, db *sql.DB) (*Pool, error) {
	// This pool owns connection lifecycle itself; disabling sql.DB's own
	// idle pool means Close() on a checked-out *sql.Conn really closes the
	// physical connection instead of silently re-pooling it a second time.
	db.SetMaxIdleConns(0)
	db.SetMaxOpenConns(0)

	p := &Pool{
		cfg:    cfg,
		db:     db,
		parked: make(chan *Entry, cfg.MaxSize),
	}

	for i := 0; i < cfg.MinSize; i++ {
		e, err := p.createEntry(context.Background())
		if err != nil {
			log.Printf("[dbpool] warm-up connection %d/%d failed: %v", i+1, cfg.MinSize, err)
			continue
		}
		p.parked <- e
	}

	return p, nil
}

func (p *Pool) createEntry(ctx context.Context) (*Entry, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	p.mu.Lock()
	p.createdCount++
	p.mu.Unlock()
	return &Entry{
		Conn:              conn,
		createdAt:         now,
		lastUsedAt:        now,
		lastHealthCheckAt: now,
	}, nil
}

// retire closes the underlying connection and decrements createdCount. It
// must only be called on an entry no caller still references.
func (p *Pool) retire(e *Entry) {
	_ = e.Conn.Close()
	p.mu.Lock()
	if p.createdCount > 0 {
		p.createdCount--
	}
	p.mu.Unlock()
}

func (p *Pool) healthCheck(ctx context.Context, e *Entry) error {
	if _, err := e.Conn.ExecContext(ctx, healthCheckQuery); err != nil {
		return err
	}
	if _, err := e.Conn.ExecContext(ctx, resetStatement); err != nil {
		return err
	}
	e.lastHealthCheckAt = time.Now()
	p.mu.Lock()
	p.healthChecks++
	p.mu.Unlock()
	return nil
}

// Acquire returns a checked-out Entry, blocking up to the pool's
// acquire_timeout. The parked-entry dequeue uses short bounded waits so
// that ctx cancellation remains responsive within that budget.
func (p *Pool) Acquire(ctx context.Context) (*Entry, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	deadline := time.Now().Add(p.cfg.AcquireTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Lock()
			p.failedAcquisitions++
			p.mu.Unlock()
			return nil, ErrAcquireTimeout
		}

		wait := remaining
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()

		case e := <-p.parked:
			timer.Stop()
			if e.isStale(p.cfg.MaxLifetime) {
				p.retire(e)
				continue
			}
			if e.isIdle(p.cfg.IdleTimeout) {
				p.retire(e)
				continue
			}
			if e.needsHealthCheck(p.cfg.HealthCheckInterval) {
				if err := p.healthCheck(ctx, e); err != nil {
					p.retire(e)
					continue
				}
			}
			e.markUsed()
			p.recordAcquired()
			return e, nil

		case <-timer.C:
			// Reserve the slot under the mutex so concurrent acquirers can
			// never together create more than MaxSize entries.
			p.mu.Lock()
			canCreate := p.createdCount < p.cfg.MaxSize
			if canCreate {
				p.createdCount++
			}
			p.mu.Unlock()
			if !canCreate {
				continue
			}
			conn, err := p.db.Conn(ctx)
			if err != nil {
				p.mu.Lock()
				p.createdCount--
				p.mu.Unlock()
				continue
			}
			now := time.Now()
			e := &Entry{Conn: conn, createdAt: now, lastUsedAt: now, lastHealthCheckAt: now}
			e.markUsed()
			p.recordAcquired()
			return e, nil
		}
	}
}

func (p *Pool) recordAcquired() {
	p.mu.Lock()
	p.totalAcquisitions++
	p.inUse++
	if p.inUse > p.peakUsage {
		p.peakUsage = p.inUse
	}
	p.mu.Unlock()
}

// Release returns e to the pool, resetting any open transaction first. A
// stale entry, a reset failure, or a closed pool all result in the entry
// being retired instead of re-parked.
func (p *Pool) Release(e *Entry) {
	p.mu.Lock()
	p.totalReleases++
	if p.inUse > 0 {
		p.inUse--
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		p.retire(e)
		return
	}
	if e.isStale(p.cfg.MaxLifetime) {
		p.retire(e)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.Conn.ExecContext(ctx, resetStatement); err != nil {
		// The entry is considered poisoned: a failed reset means we can't
		// trust its transaction state for the next borrower.
		p.retire(e)
		return
	}
	p.mu.Lock()
	p.transactionResets++
	p.mu.Unlock()

	select {
	case p.parked <- e:
	default:
		p.retire(e)
	}
}

// Borrow runs fn with a freshly-acquired entry, guaranteeing Release is
// called exactly once regardless of how fn returns.
func (p *Pool) Borrow(ctx context.Context, fn func(*Entry) error) error {
	e, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(e)
	return fn(e)
}

// Close marks the pool terminal, drains and closes every parked entry.
// Acquire after Close always fails with ErrClosed; Release after Close
// closes the entry instead of re-parking it.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case e := <-p.parked:
			p.retire(e)
		default:
			return p.db.Close()
		}
	}
}

// Metrics returns a point-in-time snapshot of the pool's counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Metrics{
		TotalConnections:   p.createdCount,
		Available:          len(p.parked),
		InUse:              p.inUse,
		PeakUsage:          p.peakUsage,
		TotalAcquisitions:  p.totalAcquisitions,
		TotalReleases:      p.totalReleases,
		FailedAcquisitions: p.failedAcquisitions,
		HealthChecks:       p.healthChecks,
		TransactionResets:  p.transactionResets,
		MinSize:            p.cfg.MinSize,
		MaxSize:            p.cfg.MaxSize,
		Closed:             p.closed,
	}
}
