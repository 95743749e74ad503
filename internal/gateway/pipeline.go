// Package gateway implements the Request Pipeline component (C7): the ten
// named operations that validate, dispatch, cache, audit, and shape every
// call this system accepts.
package gateway

import (
	"regexp"
	"strings"
	"time"

	"github.com/odeciojunior/mcp-sql-server/internal/audit"
	"github.com/odeciojunior/mcp-sql-server/internal/dbhandle"
	"github.com/odeciojunior/mcp-sql-server/internal/errshape"
	"github.com/odeciojunior/mcp-sql-server/internal/policy"
	"github.com/odeciojunior/mcp-sql-server/internal/registry"
	"github.com/odeciojunior/mcp-sql-server/internal/ttlcache"
)

// metadataTTL is the fixed TTL the spec assigns to every schema
// introspection operation.
const metadataTTL = 60 * time.Second

// defaultQueryLimit is used by operations that dispatch into ExecuteQuery
// without themselves taking a limit argument (execute_query_file).
const defaultQueryLimit = 1000

const (
	minQueryLimit = 1
	maxQueryLimit = 10000
)

var queryFilenamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.sql$`)

// Pipeline composes the registry, cache, audit logger, and policy into the
// ten operations a transport layer dispatches into. It holds no database
// configuration of its own — that lives in the registry it was built with.
type Pipeline struct {
	registry *registry.Registry
	cache    *ttlcache.Cache
	audit    *audit.Logger
	policy   *policy.Policy
	queryDir string
}

// New builds a Pipeline over an already-constructed registry. queryDir is
// the root that ExecuteQueryFile confines reads to; a relative path is made
// absolute against the working directory on each call.
func New(reg *registry.Registry, cache *ttlcache.Cache, auditLogger *audit.Logger, pol *policy.Policy, queryDir string) *Pipeline {
	return &Pipeline{
		registry: reg,
		cache:    cache,
		audit:    auditLogger,
		policy:   pol,
		queryDir: queryDir,
	}
}

// Param is one stored-procedure parameter. A slice, not a map, so the
// caller's insertion order survives into the emitted @name=? clauses.
type Param struct {
	Name  string
	Value any
}

// clampLimit enforces the [1, 10000] boundary from §8.
func clampLimit(limit int) int {
	if limit < minQueryLimit {
		return minQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func resolveDatabase(database string) string {
	if database == "" {
		return "default"
	}
	return database
}

func firstToken(sqlText string) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(sqlText)))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// handleFor resolves the pipeline's registry for database, shaping a
// not-found error consistently with every other failure mode in this
// package.
func (p *Pipeline) handleFor(database string) (*dbhandle.Handle, errshape.Response, bool) {
	h, err := p.registry.Get(database)
	if err != nil {
		return nil, errshape.NewResponse(err, "registry"), false
	}
	return h, errshape.Response{}, true
}

func elapsedSince(start time.Time) int64 {
	return audit.Elapsed(time.Since(start))
}
