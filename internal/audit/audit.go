// Package audit emits the gateway's fixed-schema audit records through a
// structured logging backend. Records are JSON objects; the password field
// of any configuration never reaches this package, let alone its output.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Event names the four audit record kinds.
type Event string

const (
	QueryExecuted      Event = "QUERY_EXECUTED"
	StatementExecuted  Event = "STATEMENT_EXECUTED"
	ProcedureExecuted  Event = "PROCEDURE_EXECUTED"
	ValidationFailed   Event = "VALIDATION_FAILED"
)

// Record is one audit entry. Fields are tagged to marshal into the exact
// schema §6 specifies; kind-specific payload fields are grouped at the end
// and omitted when not applicable to the event.
type Record struct {
	Event       Event  `json:"event"`
	Database    string `json:"database"`
	SQLHash     string `json:"sql_hash,omitempty"`
	SQLPreview  string `json:"sql_preview,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Success     bool   `json:"success"`

	RowCount       int    `json:"row_count,omitempty"`
	Truncated      bool   `json:"truncated,omitempty"`
	AffectedRows   int64  `json:"affected_rows,omitempty"`
	Procedure      string `json:"procedure,omitempty"`
	BlockedKeyword string `json:"blocked_keyword,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Logger wraps a structured slog.Logger dedicated to the audit stream.
// Non-audit operational logging (pool warm-up failures, rollback failures
// in dbhandle, gateway start-up and monitoring lines) does not go through
// this type; it keeps using the package-local log.Printf voice of the rest
// of this tree.
type Logger struct {
	slog *slog.Logger
}

// Config controls where the audit stream is written and whether it
// rotates. An empty FilePath logs to stdout only.
type Config struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a Logger writing newline-delimited JSON records. When
// cfg.FilePath is set, output rotates through lumberjack instead of
// growing an unbounded file.
func New(cfg Config) *Logger {
	var w io.Writer = os.Stdout
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		}
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{slog: slog.New(handler)}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Emit writes one audit record. It never returns an error: a logging
// failure must not affect the outcome of the operation it is auditing.
// Data-mutating events are logged at a higher visibility level than reads.
func (l *Logger) Emit(r Record) {
	log := l.slog.Info
	if r.Event == StatementExecuted || r.Event == ProcedureExecuted {
		log = l.slog.Warn
	}
	log(string(r.Event),
		"database", r.Database,
		"sql_hash", r.SQLHash,
		"sql_preview", r.SQLPreview,
		"duration_ms", r.DurationMs,
		"success", r.Success,
		"row_count", r.RowCount,
		"truncated", r.Truncated,
		"affected_rows", r.AffectedRows,
		"procedure", r.Procedure,
		"blocked_keyword", r.BlockedKeyword,
		"error", r.Error,
	)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint returns the first 16 hex characters of SHA-256 over sql's
// raw bytes — a short, stable identifier for grouping audit records
// without exposing the statement text itself.
func Fingerprint(sql string) string {
	sum := sha256.Sum256([]byte(sql))
	return hex.EncodeToString(sum[:])[:16]
}

// Preview collapses runs of whitespace to a single space and truncates to
// maxLen characters, appending an ellipsis when truncated. maxLen is 100
// for ordinary previews and 50 for validation-failure previews per §6.
func Preview(sql string, maxLen int) string {
	collapsed := strings.TrimSpace(whitespaceRun.ReplaceAllString(sql, " "))
	runes := []rune(collapsed)
	if len(runes) <= maxLen {
		return collapsed
	}
	return string(runes[:maxLen]) + "…"
}

// Elapsed converts a duration into the millisecond integer the schema wants.
func Elapsed(d time.Duration) int64 {
	return d.Milliseconds()
}
