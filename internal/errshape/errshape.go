// Package errshape implements the Error Shaper component (C2): it maps
// driver errors and internal failures into a sanitised, caller-safe
// representation. It never surfaces host, user, password, or IP
// information, and rewrites common driver phrasings into stable short
// forms.
package errshape

import (
	"regexp"
	"strings"
)

type sensitivePattern struct {
	re          *regexp.Regexp
	replacement string
}

// sensitivePatterns redact connection details out of a stringified error,
// in order, mirroring the ordered pipeline the spec requires.
var sensitivePatterns = []sensitivePattern{
	{regexp.MustCompile(`(?i)Login failed for user '([^']+)'`), "Login failed for user '[REDACTED]'"},
	{regexp.MustCompile(`(?i)SERVER=([^;]+)`), "SERVER=[REDACTED]"},
	{regexp.MustCompile(`(?i)UID=([^;]+)`), "UID=[REDACTED]"},
	{regexp.MustCompile(`(?i)PWD=([^;]+)`), "PWD=[REDACTED]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[REDACTED_IP]"},
}

type simplification struct {
	re       *regexp.Regexp
	template string
}

// simplifications maps common SQL Server driver phrasings to short, stable
// forms. Order matters: the first match wins.
var simplifications = []simplification{
	{regexp.MustCompile(`(?i)Invalid object name '([^']+)'`), "Object not found: %s"},
	{regexp.MustCompile(`(?i)Invalid column name '([^']+)'`), "Column not found: %s"},
	{regexp.MustCompile(`(?i)Could not find stored procedure '([^']+)'`), "Procedure not found: %s"},
	{regexp.MustCompile(`(?i)The multi-part identifier "([^"]+)" could not be bound`), "Invalid identifier: %s"},
	{regexp.MustCompile(`(?i)Arithmetic overflow error`), "Numeric overflow error"},
	{regexp.MustCompile(`(?i)String or binary data would be truncated`), "Data too large for column"},
	{regexp.MustCompile(`(?i)Violation of PRIMARY KEY constraint`), "Duplicate primary key"},
	{regexp.MustCompile(`(?i)Violation of UNIQUE KEY constraint`), "Duplicate unique value"},
	{regexp.MustCompile(`(?i)The INSERT statement conflicted with the FOREIGN KEY constraint`), "Foreign key constraint violation"},
	{regexp.MustCompile(`(?i)The DELETE statement conflicted with the REFERENCE constraint`), "Cannot delete - referenced by other records"},
}

// Sanitize redacts login/server/credential/IP substrings from a stringified
// error. It is idempotent: running it twice over already-sanitised text is
// a no-op.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString is Sanitize without requiring an error value, useful when
// shaping a message that was never an error (e.g. a validation reason).
func SanitizeString(msg string) string {
	out := msg
	for _, p := range sensitivePatterns {
		out = p.re.ReplaceAllString(out, p.replacement)
	}
	return out
}

// Simplify rewrites a sanitised message into a short, stable phrasing when
// it recognizes a common driver error; otherwise it returns msg unchanged.
func Simplify(msg string) string {
	for _, s := range simplifications {
		match := s.re.FindStringSubmatch(msg)
		if match == nil {
			continue
		}
		if strings.Contains(s.template, "%s") && len(match) > 1 {
			return strings.Replace(s.template, "%s", match[1], 1)
		}
		return s.template
	}
	return msg
}

// Response is the shaped, caller-safe error representation returned by
// every failing pipeline operation.
type Response struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	ErrorContext string `json:"error_context,omitempty"`
	ErrorDetail  string `json:"error_detail,omitempty"`
}

// NewResponse sanitises and simplifies err, attaching context. When
// simplification changed the sanitised message (a common driver phrasing
// was recognised), the sanitised-but-not-simplified form is retained as
// ErrorDetail.
func NewResponse(err error, context string) Response {
	return newResponse(Sanitize(err), context)
}

// NewResponseFromMessage is NewResponse for a plain string, used by
// validation and not-found paths that never hold a driver error.
func NewResponseFromMessage(message, context string) Response {
	return newResponse(SanitizeString(message), context)
}

func newResponse(sanitized, context string) Response {
	simplified := Simplify(sanitized)
	resp := Response{
		Success:      false,
		Error:        simplified,
		ErrorContext: context,
	}
	if simplified != sanitized {
		resp.ErrorDetail = sanitized
	}
	return resp
}
