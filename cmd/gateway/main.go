// Command gateway is the composition root: it loads configuration, builds
// the registry/cache/audit/policy components, and assembles the resulting
// Pipeline. The transport that dispatches caller requests into the
// pipeline's ten operations (MCP or otherwise) lives outside this module;
// this command only proves the wiring and keeps the process alive for an
// external transport to attach to.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odeciojunior/mcp-sql-server/internal/audit"
	"github.com/odeciojunior/mcp-sql-server/internal/config"
	"github.com/odeciojunior/mcp-sql-server/internal/gateway"
	"github.com/odeciojunior/mcp-sql-server/internal/policy"
	"github.com/odeciojunior/mcp-sql-server/internal/registry"
	"github.com/odeciojunior/mcp-sql-server/internal/ttlcache"
)

func main() {
	var (
		auditFile       = flag.String("audit-file", "", "Path to rotate audit records into (stdout if empty)")
		cacheTTL        = flag.Duration("cache-ttl", 60*time.Second, "Default TTL of the cache (metadata operations use their own fixed 60s TTL)")
		monitorInterval = flag.Duration("monitor-interval", time.Minute, "Interval between logged component snapshots")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("gateway: loading configuration: %v", err)
	}

	reg, err := registry.New(cfg)
	if err != nil {
		log.Fatalf("gateway: building registry: %v", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Printf("gateway: closing registry: %v", err)
		}
	}()

	auditLogger := audit.New(audit.Config{FilePath: *auditFile})
	cache := ttlcache.New(*cacheTTL)
	pol := policy.New()

	pipeline := gateway.New(reg, cache, auditLogger, pol, cfg.QueryDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("gateway: shutting down")
		cancel()
	}()

	databases := pipeline.ListDatabases(ctx)
	log.Printf("gateway: ready, serving %d database alias(es), query dir %q", len(databases.Databases), cfg.QueryDir)
	for _, a := range databases.Databases {
		log.Printf("gateway: alias %q -> %s:%d/%s", a.Name, a.Host, a.Port, a.Database)
	}

	go monitorLoop(ctx, pipeline, *monitorInterval)

	<-ctx.Done()
	log.Println("gateway: stopped")
}

// monitorLoop periodically logs policy/cache/pool counters, the same
// operational visibility the teacher's console monitoring banners gave,
// re-expressed as structured log lines.
func monitorLoop(ctx context.Context, pipeline *gateway.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := pipeline.Snapshot()
			log.Printf("gateway: policy checked=%d passed=%d blocked_keyword=%d blocked_prefix=%d disallowed_verb=%d",
				snap.Policy.TotalChecked, snap.Policy.Passed, snap.Policy.BlockedKeyword, snap.Policy.BlockedPrefix, snap.Policy.DisallowedVerb)
			log.Printf("gateway: cache total=%d valid=%d expired=%d", snap.Cache.Total, snap.Cache.Valid, snap.Cache.Expired)
			for alias, m := range snap.Pools {
				log.Printf("gateway: pool %q in_use=%d available=%d peak=%d failed_acquisitions=%d",
					alias, m.InUse, m.Available, m.PeakUsage, m.FailedAcquisitions)
			}
		}
	}
}
