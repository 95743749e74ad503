package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odeciojunior/mcp-sql-server/internal/audit"
	"github.com/odeciojunior/mcp-sql-server/internal/errshape"
)

// ExecuteQuery validates sql as a read statement, rewrites it to cap the
// row count at limit+1, executes it, and audits the outcome.
func (p *Pipeline) ExecuteQuery(ctx context.Context, sqlText string, params []any, limit int, database string) QueryResult {
	database = resolveDatabase(database)

	if ok, reason := p.policy.ValidateQuery(sqlText, false); !ok {
		p.audit.Emit(audit.Record{
			Event:          audit.ValidationFailed,
			Database:       database,
			SQLPreview:     audit.Preview(sqlText, 50),
			Success:        false,
			BlockedKeyword: blockedKeywordFromReason(reason),
			Error:          reason,
		})
		return queryError(errshape.NewResponseFromMessage(reason, "validation"))
	}

	limit = clampLimit(limit)
	wrapped := fmt.Sprintf("SELECT TOP %d * FROM (%s) AS _limited_query", limit+1, sqlText)

	start := time.Now()
	h, errResp, ok := p.handleFor(database)
	if !ok {
		return queryError(errResp)
	}

	cols, rows, err := h.Query(ctx, wrapped, params)
	duration := elapsedSince(start)

	if err != nil {
		p.audit.Emit(audit.Record{
			Event:      audit.QueryExecuted,
			Database:   database,
			SQLHash:    audit.Fingerprint(sqlText),
			SQLPreview: audit.Preview(sqlText, 100),
			DurationMs: duration,
			Success:    false,
			Error:      errshape.Sanitize(err),
		})
		return queryError(errshape.NewResponse(err, "query"))
	}

	truncated := false
	if len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}

	p.audit.Emit(audit.Record{
		Event:      audit.QueryExecuted,
		Database:   database,
		SQLHash:    audit.Fingerprint(sqlText),
		SQLPreview: audit.Preview(sqlText, 100),
		DurationMs: duration,
		Success:    true,
		RowCount:   len(rows),
		Truncated:  truncated,
	})

	return QueryResult{
		Success:   true,
		Columns:   cols,
		Rows:      rows,
		RowCount:  len(rows),
		Truncated: truncated,
	}
}

// ExecuteStatement validates sql as a mutation (INSERT/UPDATE/DELETE only —
// SELECT is explicitly rejected here, steering callers back to
// ExecuteQuery), executes it, and audits the outcome at a visibility level
// appropriate for data mutation.
func (p *Pipeline) ExecuteStatement(ctx context.Context, sqlText string, params []any, database string) StatementResult {
	database = resolveDatabase(database)

	if ok, reason := p.policy.ValidateQuery(sqlText, true); !ok {
		p.audit.Emit(audit.Record{
			Event:          audit.ValidationFailed,
			Database:       database,
			SQLPreview:     audit.Preview(sqlText, 50),
			Success:        false,
			BlockedKeyword: blockedKeywordFromReason(reason),
			Error:          reason,
		})
		return statementError(errshape.NewResponseFromMessage(reason, "validation"))
	}
	if first := firstToken(sqlText); first != "INSERT" && first != "UPDATE" && first != "DELETE" {
		reason := fmt.Sprintf("Statement type not allowed in execute_statement: %s", first)
		if first == "SELECT" {
			reason = "SELECT is not allowed in execute_statement; use execute_query instead"
		}
		p.audit.Emit(audit.Record{
			Event:      audit.ValidationFailed,
			Database:   database,
			SQLPreview: audit.Preview(sqlText, 50),
			Success:    false,
			Error:      reason,
		})
		return statementError(errshape.NewResponseFromMessage(reason, "validation"))
	}

	start := time.Now()
	h, errResp, ok := p.handleFor(database)
	if !ok {
		return statementError(errResp)
	}

	affected, err := h.Exec(ctx, sqlText, params)
	duration := elapsedSince(start)

	if err != nil {
		p.audit.Emit(audit.Record{
			Event:      audit.StatementExecuted,
			Database:   database,
			SQLHash:    audit.Fingerprint(sqlText),
			SQLPreview: audit.Preview(sqlText, 100),
			DurationMs: duration,
			Success:    false,
			Error:      errshape.Sanitize(err),
		})
		return statementError(errshape.NewResponse(err, "statement"))
	}

	p.audit.Emit(audit.Record{
		Event:        audit.StatementExecuted,
		Database:     database,
		SQLHash:      audit.Fingerprint(sqlText),
		SQLPreview:   audit.Preview(sqlText, 100),
		DurationMs:   duration,
		Success:      true,
		AffectedRows: affected,
	})

	return StatementResult{Success: true, AffectedRows: affected}
}

// ExecuteQueryFile reads filename from the configured query directory
// (path-traversal-guarded) and dispatches its contents to ExecuteQuery
// with the default row limit.
func (p *Pipeline) ExecuteQueryFile(ctx context.Context, filename, database string) QueryResult {
	if !strings.HasSuffix(filename, ".sql") {
		filename += ".sql"
	}
	if !queryFilenamePattern.MatchString(filename) {
		return queryError(errshape.NewResponseFromMessage("Invalid filename", "validation"))
	}

	resolved := filepath.Join(p.queryDir, filename)
	absQueryDir, err := filepath.Abs(p.queryDir)
	if err != nil {
		return queryError(errshape.NewResponse(err, "query_file"))
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return queryError(errshape.NewResponse(err, "query_file"))
	}
	if !strings.HasPrefix(absResolved, absQueryDir+string(filepath.Separator)) && absResolved != absQueryDir {
		return queryError(errshape.NewResponseFromMessage("Invalid filename", "validation"))
	}

	contents, err := os.ReadFile(absResolved)
	if err != nil {
		return queryError(errshape.NewResponseFromMessage(fmt.Sprintf("Query file not found: %s", filename), "not_found"))
	}

	return p.ExecuteQuery(ctx, string(contents), nil, defaultQueryLimit, database)
}

// blockedKeywordFromReason extracts the keyword named in a
// "Blocked keyword detected: X" validation reason, for the audit record's
// dedicated field; it returns "" for any other reason string.
func blockedKeywordFromReason(reason string) string {
	const prefix = "Blocked keyword detected: "
	if strings.HasPrefix(reason, prefix) {
		return strings.TrimPrefix(reason, prefix)
	}
	return ""
}
