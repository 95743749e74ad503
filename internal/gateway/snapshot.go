package gateway

import (
	"github.com/odeciojunior/mcp-sql-server/internal/dbpool"
	"github.com/odeciojunior/mcp-sql-server/internal/policy"
	"github.com/odeciojunior/mcp-sql-server/internal/ttlcache"
)

// Snapshot is a point-in-time view across every component the pipeline
// composes, for periodic operational monitoring.
type Snapshot struct {
	Policy policy.Stats
	Cache  ttlcache.Stats
	Pools  map[string]dbpool.Metrics
}

// Snapshot aggregates the pipeline's component-level counters. It never
// touches the network: pool metrics only cover aliases already constructed
// via a prior Get.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Policy: p.policy.Stats(),
		Cache:  p.cache.Stats(),
		Pools:  p.registry.Metrics(),
	}
}
