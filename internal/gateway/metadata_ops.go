package gateway

import (
	"context"
	"fmt"

	"github.com/odeciojunior/mcp-sql-server/internal/dbhandle"
	"github.com/odeciojunior/mcp-sql-server/internal/errshape"
	"github.com/odeciojunior/mcp-sql-server/internal/ttlcache"
)

type tableRows struct {
	Columns []string
	Rows    []dbhandle.Row
}

// ListTables returns every table in schema (or every schema when schema is
// empty), cached for 60 seconds and isolated per database.
func (p *Pipeline) ListTables(ctx context.Context, schema, database string) QueryResult {
	database = resolveDatabase(database)

	if schema != "" {
		if ok, reason := p.policy.ValidateIdentifier(schema); !ok {
			return p.metadataValidationFailed(database, reason)
		}
	}

	result, err := ttlcache.Memoize(p.cache, "list_tables", metadataTTL,
		[]any{schema}, map[string]any{"database": database},
		func() (tableRows, error) {
			h, errResp, ok := p.handleFor(database)
			if !ok {
				return tableRows{}, fmt.Errorf("%s", errResp.Error)
			}
			sql := "SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES"
			var args []any
			if schema != "" {
				sql += " WHERE TABLE_SCHEMA = ?"
				args = append(args, schema)
			}
			cols, rows, err := h.Query(ctx, sql, args)
			if err != nil {
				return tableRows{}, err
			}
			return toTableRows(cols, rows), nil
		})
	if err != nil {
		return queryError(errshape.NewResponse(err, "list_tables"))
	}

	return QueryResult{Success: true, Columns: result.Columns, Rows: result.Rows, RowCount: len(result.Rows)}
}

// DescribeTable returns column metadata for one table, cached for 60
// seconds and isolated per database.
func (p *Pipeline) DescribeTable(ctx context.Context, name, schema, database string) QueryResult {
	database = resolveDatabase(database)

	if ok, reason := p.policy.ValidateIdentifier(name); !ok {
		return p.metadataValidationFailed(database, reason)
	}
	if ok, reason := p.policy.ValidateIdentifier(schema); !ok {
		return p.metadataValidationFailed(database, reason)
	}

	result, err := ttlcache.Memoize(p.cache, "describe_table", metadataTTL,
		[]any{name, schema}, map[string]any{"database": database},
		func() (tableRows, error) {
			h, errResp, ok := p.handleFor(database)
			if !ok {
				return tableRows{}, fmt.Errorf("%s", errResp.Error)
			}
			sql := `SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE, CHARACTER_MAXIMUM_LENGTH
				FROM INFORMATION_SCHEMA.COLUMNS
				WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
				ORDER BY ORDINAL_POSITION`
			cols, rows, err := h.Query(ctx, sql, []any{schema, name})
			if err != nil {
				return tableRows{}, err
			}
			return toTableRows(cols, rows), nil
		})
	if err != nil {
		return queryError(errshape.NewResponse(err, "describe_table"))
	}

	return QueryResult{Success: true, Columns: result.Columns, Rows: result.Rows, RowCount: len(result.Rows)}
}

// ListProcedures returns every stored procedure in schema (or every schema
// when schema is empty), cached for 60 seconds and isolated per database.
func (p *Pipeline) ListProcedures(ctx context.Context, schema, database string) QueryResult {
	database = resolveDatabase(database)

	if schema != "" {
		if ok, reason := p.policy.ValidateIdentifier(schema); !ok {
			return p.metadataValidationFailed(database, reason)
		}
	}

	result, err := ttlcache.Memoize(p.cache, "list_procedures", metadataTTL,
		[]any{schema}, map[string]any{"database": database},
		func() (tableRows, error) {
			h, errResp, ok := p.handleFor(database)
			if !ok {
				return tableRows{}, fmt.Errorf("%s", errResp.Error)
			}
			sql := "SELECT ROUTINE_SCHEMA, ROUTINE_NAME FROM INFORMATION_SCHEMA.ROUTINES WHERE ROUTINE_TYPE = 'PROCEDURE'"
			var args []any
			if schema != "" {
				sql += " AND ROUTINE_SCHEMA = ?"
				args = append(args, schema)
			}
			cols, rows, err := h.Query(ctx, sql, args)
			if err != nil {
				return tableRows{}, err
			}
			return toTableRows(cols, rows), nil
		})
	if err != nil {
		return queryError(errshape.NewResponse(err, "list_procedures"))
	}

	return QueryResult{Success: true, Columns: result.Columns, Rows: result.Rows, RowCount: len(result.Rows)}
}

// GetViewDefinition returns the T-SQL body of a view, cached for 60
// seconds. A null OBJECT_DEFINITION yields a not-found error.
func (p *Pipeline) GetViewDefinition(ctx context.Context, name, schema, database string) DefinitionResult {
	return p.objectDefinition(ctx, "View", name, schema, database, "list_views")
}

// GetFunctionDefinition returns the T-SQL body of a scalar or table-valued
// function, cached for 60 seconds. A null OBJECT_DEFINITION yields a
// not-found error.
func (p *Pipeline) GetFunctionDefinition(ctx context.Context, name, schema, database string) DefinitionResult {
	return p.objectDefinition(ctx, "Function", name, schema, database, "list_functions")
}

func (p *Pipeline) objectDefinition(ctx context.Context, kind, name, schema, database, cachePrefix string) DefinitionResult {
	database = resolveDatabase(database)

	if ok, reason := p.policy.ValidateIdentifier(name); !ok {
		return definitionError(errshape.NewResponseFromMessage(reason, "validation"))
	}
	if ok, reason := p.policy.ValidateIdentifier(schema); !ok {
		return definitionError(errshape.NewResponseFromMessage(reason, "validation"))
	}
	qualified, err := p.policy.SanitizeTableName(name, schema)
	if err != nil {
		return definitionError(errshape.NewResponseFromMessage(err.Error(), "validation"))
	}

	type definition struct {
		Text  string
		Found bool
	}

	result, err := ttlcache.Memoize(p.cache, cachePrefix, metadataTTL,
		[]any{qualified}, map[string]any{"database": database},
		func() (definition, error) {
			h, errResp, ok := p.handleFor(database)
			if !ok {
				return definition{}, fmt.Errorf("%s", errResp.Error)
			}
			_, rows, err := h.Query(ctx, "SELECT OBJECT_DEFINITION(OBJECT_ID(?)) AS def", []any{qualified})
			if err != nil {
				return definition{}, err
			}
			if len(rows) == 0 || rows[0]["def"] == nil {
				return definition{Found: false}, nil
			}
			text, _ := rows[0]["def"].(string)
			return definition{Text: text, Found: true}, nil
		})
	if err != nil {
		return definitionError(errshape.NewResponse(err, "definition"))
	}
	if !result.Found {
		return definitionError(errshape.NewResponseFromMessage(fmt.Sprintf("%s not found: %s", kind, qualified), "not_found"))
	}

	return DefinitionResult{Success: true, Definition: result.Text}
}

func (p *Pipeline) metadataValidationFailed(database, reason string) QueryResult {
	return p.procedureValidationFailed(database, reason)
}

func toTableRows(cols []string, rows []dbhandle.Row) tableRows {
	return tableRows{Columns: cols, Rows: rows}
}
