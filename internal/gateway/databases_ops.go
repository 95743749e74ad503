package gateway

import "context"

// ListDatabases returns every configured database alias and its connection
// coordinates, never the credentials. It bypasses the cache since the
// registry's configuration set is fixed for the process lifetime.
func (p *Pipeline) ListDatabases(ctx context.Context) DatabasesResult {
	return DatabasesResult{Success: true, Databases: p.registry.Info()}
}
