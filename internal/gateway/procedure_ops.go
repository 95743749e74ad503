package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odeciojunior/mcp-sql-server/internal/audit"
	"github.com/odeciojunior/mcp-sql-server/internal/errshape"
)

// ExecuteProcedure validates the procedure name, schema, and every
// parameter name, then invokes EXEC [schema].[name] @k1=?, @k2=?, ... with
// bound values in the caller's insertion order. Only the first result set
// is read.
func (p *Pipeline) ExecuteProcedure(ctx context.Context, name, schema string, params []Param, database string) QueryResult {
	database = resolveDatabase(database)

	if ok, reason := p.policy.ValidateProcedureName(name); !ok {
		return p.procedureValidationFailed(database, reason)
	}
	qualified, err := p.policy.SanitizeTableName(name, schema)
	if err != nil {
		return p.procedureValidationFailed(database, err.Error())
	}
	for _, param := range params {
		if ok, reason := p.policy.ValidateIdentifier(param.Name); !ok {
			return p.procedureValidationFailed(database, reason)
		}
	}

	clauses := make([]string, len(params))
	values := make([]any, len(params))
	for i, param := range params {
		clauses[i] = fmt.Sprintf("@%s=?", param.Name)
		values[i] = param.Value
	}
	execSQL := "EXEC " + qualified
	if len(clauses) > 0 {
		execSQL += " " + strings.Join(clauses, ", ")
	}

	start := time.Now()
	h, errResp, ok := p.handleFor(database)
	if !ok {
		return queryError(errResp)
	}

	cols, rows, err := h.Query(ctx, execSQL, values)
	duration := elapsedSince(start)

	if err != nil {
		p.audit.Emit(audit.Record{
			Event:      audit.ProcedureExecuted,
			Database:   database,
			Procedure:  qualified,
			DurationMs: duration,
			Success:    false,
			Error:      errshape.Sanitize(err),
		})
		return queryError(errshape.NewResponse(err, "procedure"))
	}

	p.audit.Emit(audit.Record{
		Event:      audit.ProcedureExecuted,
		Database:   database,
		Procedure:  qualified,
		DurationMs: duration,
		Success:    true,
		RowCount:   len(rows),
	})

	return QueryResult{Success: true, Columns: cols, Rows: rows, RowCount: len(rows)}
}

func (p *Pipeline) procedureValidationFailed(database, reason string) QueryResult {
	p.audit.Emit(audit.Record{
		Event:    audit.ValidationFailed,
		Database: database,
		Success:  false,
		Error:    reason,
	})
	return queryError(errshape.NewResponseFromMessage(reason, "validation"))
}
