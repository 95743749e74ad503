package gateway

import (
	"github.com/odeciojunior/mcp-sql-server/internal/dbhandle"
	"github.com/odeciojunior/mcp-sql-server/internal/errshape"
	"github.com/odeciojunior/mcp-sql-server/internal/registry"
)

// QueryResult is returned by execute_query, execute_query_file,
// execute_procedure, list_tables, describe_table, and list_procedures.
type QueryResult struct {
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	ErrorContext string         `json:"error_context,omitempty"`
	ErrorDetail  string         `json:"error_detail,omitempty"`
	Columns      []string       `json:"columns,omitempty"`
	Rows         []dbhandle.Row `json:"rows,omitempty"`
	RowCount     int            `json:"row_count"`
	Truncated    bool           `json:"truncated"`
}

func queryError(resp errshape.Response) QueryResult {
	return QueryResult{
		Success:      false,
		Error:        resp.Error,
		ErrorContext: resp.ErrorContext,
		ErrorDetail:  resp.ErrorDetail,
	}
}

// StatementResult is returned by execute_statement.
type StatementResult struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	ErrorContext string `json:"error_context,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	AffectedRows int64  `json:"affected_rows"`
}

func statementError(resp errshape.Response) StatementResult {
	return StatementResult{
		Success:      false,
		Error:        resp.Error,
		ErrorContext: resp.ErrorContext,
		ErrorDetail:  resp.ErrorDetail,
	}
}

// DefinitionResult is returned by get_view_definition and
// get_function_definition.
type DefinitionResult struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	ErrorContext string `json:"error_context,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
	Definition   string `json:"definition,omitempty"`
}

func definitionError(resp errshape.Response) DefinitionResult {
	return DefinitionResult{
		Success:      false,
		Error:        resp.Error,
		ErrorContext: resp.ErrorContext,
		ErrorDetail:  resp.ErrorDetail,
	}
}

// DatabasesResult is returned by list_databases.
type DatabasesResult struct {
	Success   bool            `json:"success"`
	Databases []registry.Info `json:"databases,omitempty"`
}
