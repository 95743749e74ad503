// Package registry implements the Registry component (C5): the set of
// named database handles, constructed lazily on first use and torn down
// together at shutdown.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/odeciojunior/mcp-sql-server/internal/config"
	"github.com/odeciojunior/mcp-sql-server/internal/dbhandle"
	"github.com/odeciojunior/mcp-sql-server/internal/dbpool"
)

// Info is the non-sensitive per-alias summary returned by Info(); it never
// includes a password.
type Info struct {
	Name     string
	Host     string
	Port     int
	Database string
}

// HandleFactory builds the live handle for one alias's configuration. It
// exists so tests can substitute a fake-driver-backed pool without New
// ever importing test-only code.
type HandleFactory func(alias string, entry config.Entry) (*dbhandle.Handle, error)

func defaultFactory(_ string, entry config.Entry) (*dbhandle.Handle, error) {
	pool, err := dbpool.New(entry.Pool, dbpool.BuildDSN(entry.Database))
	if err != nil {
		return nil, err
	}
	return dbhandle.New(pool), nil
}

// Registry owns alias -> config/handle. Handles are constructed lazily,
// at most once per alias, via double-checked locking.
type Registry struct {
	mu      sync.Mutex
	configs map[string]config.Entry
	handles map[string]*dbhandle.Handle
	factory HandleFactory
}

// New builds a Registry from the loaded configuration. Construction
// requires the default alias to be present.
func New(cfg *config.Config) (*Registry, error) {
	return NewWithFactory(cfg, defaultFactory)
}

// NewWithFactory is New with an injectable HandleFactory.
func NewWithFactory(cfg *config.Config, factory HandleFactory) (*Registry, error) {
	if _, ok := cfg.Databases[config.DefaultAlias]; !ok {
		return nil, fmt.Errorf("registry: %q database must be configured", config.DefaultAlias)
	}
	return &Registry{
		configs: cfg.Databases,
		handles: make(map[string]*dbhandle.Handle),
		factory: factory,
	}, nil
}

// Get returns the handle for alias, constructing it on first use.
// Double-checked locking guarantees at most one handle is ever built per
// alias even under concurrent callers.
func (r *Registry) Get(alias string) (*dbhandle.Handle, error) {
	if alias == "" {
		alias = config.DefaultAlias
	}

	r.mu.Lock()
	h, ok := r.handles[alias]
	r.mu.Unlock()
	if ok {
		return h, nil
	}

	entry, ok := r.configs[alias]
	if !ok {
		return nil, r.unknownAliasError(alias)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[alias]; ok {
		return h, nil
	}

	h, err := r.factory(alias, entry)
	if err != nil {
		return nil, fmt.Errorf("registry: building handle for %q: %w", alias, err)
	}
	r.handles[alias] = h
	return h, nil
}

func (r *Registry) unknownAliasError(alias string) error {
	r.mu.Lock()
	aliases := make([]string, 0, len(r.configs))
	for a := range r.configs {
		aliases = append(aliases, a)
	}
	r.mu.Unlock()
	sort.Strings(aliases)
	return fmt.Errorf("registry: unknown database alias %q (available: %v)", alias, aliases)
}

// Close closes every constructed handle under the mutex. A failure closing
// one handle does not prevent the others from being attempted; the first
// error encountered, if any, is returned after every handle has been
// tried.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for alias, h := range r.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("registry: closing %q: %w", alias, err)
		}
	}
	r.handles = make(map[string]*dbhandle.Handle)
	return firstErr
}

// CloseOne removes and closes a single handle. It is an error to close an
// alias that was never constructed or does not exist.
func (r *Registry) CloseOne(alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[alias]
	if !ok {
		if _, configured := r.configs[alias]; !configured {
			return r.unknownAliasError(alias)
		}
		return fmt.Errorf("registry: handle for %q was never constructed", alias)
	}
	delete(r.handles, alias)
	return h.Close()
}

// Info lists every configured alias — whether or not its handle has been
// materialised — and never includes a password.
func (r *Registry) Info() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.configs))
	for alias, entry := range r.configs {
		out = append(out, Info{
			Name:     alias,
			Host:     entry.Database.Host,
			Port:     entry.Database.Port,
			Database: entry.Database.Database,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metrics returns the pool counters for every alias whose handle has
// already been constructed.
func (r *Registry) Metrics() map[string]dbpool.Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]dbpool.Metrics, len(r.handles))
	for alias, h := range r.handles {
		out[alias] = h.Metrics()
	}
	return out
}
