// Package policy implements the SQL Policy component (C1): pure,
// syntactic predicates that classify an incoming statement or identifier
// against the gateway's allow/deny lists. This is a denial layer, not a
// language-level guarantee — every statement that passes here is still
// executed with parameter binding by the driver.
package policy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// blockedKeywords is the fixed set of statement-altering keywords denied
// regardless of read/modification mode.
var blockedKeywords = []string{
	"DROP", "TRUNCATE", "ALTER", "CREATE", "GRANT", "REVOKE", "SHUTDOWN",
	"BACKUP", "RESTORE", "DBCC", "OPENROWSET", "OPENQUERY", "OPENDATASOURCE",
	"BULK", "KILL",
}

// blockedPrefixes denies extended/system stored procedures by name prefix.
var blockedPrefixes = []string{"xp_", "sp_"}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// keywordRegexes are compiled once, at package init, bounded by word
// boundaries so that e.g. "GRANTED" does not match "GRANT".
var keywordRegexes = compileKeywordRegexes(blockedKeywords)

func compileKeywordRegexes(keywords []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(keywords))
	for _, kw := range keywords {
		out[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return out
}

// prefixRegexes scan the whole SQL text for a blocked prefix anywhere a word
// starts with it, not just at field boundaries — a leading \b plus a
// trailing \w+ matches "sp_helpdb" whether it appears after a space, an
// operator, or a comma, e.g. "x=sp_helpdb()".
var prefixRegexes = compilePrefixRegexes(blockedPrefixes)

func compilePrefixRegexes(prefixes []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(prefixes))
	for _, prefix := range prefixes {
		out[prefix] = regexp.MustCompile(`\b` + strings.ToUpper(prefix) + `\w+`)
	}
	return out
}

// Stats tracks validation outcomes for observability; it mirrors the
// counters a pool or cache would expose, kept separately per Policy
// instance so concurrent callers never contend on a shared global.
type Stats struct {
	mu               sync.Mutex
	TotalChecked     int64
	Passed           int64
	BlockedKeyword   int64
	BlockedPrefix    int64
	DisallowedVerb   int64
}

func (s *Stats) recordChecked() {
	s.mu.Lock()
	s.TotalChecked++
	s.mu.Unlock()
}

func (s *Stats) recordPassed() {
	s.mu.Lock()
	s.Passed++
	s.mu.Unlock()
}

func (s *Stats) recordBlockedKeyword() {
	s.mu.Lock()
	s.BlockedKeyword++
	s.mu.Unlock()
}

func (s *Stats) recordBlockedPrefix() {
	s.mu.Lock()
	s.BlockedPrefix++
	s.mu.Unlock()
}

func (s *Stats) recordDisallowedVerb() {
	s.mu.Lock()
	s.DisallowedVerb++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalChecked:   s.TotalChecked,
		Passed:         s.Passed,
		BlockedKeyword: s.BlockedKeyword,
		BlockedPrefix:  s.BlockedPrefix,
		DisallowedVerb: s.DisallowedVerb,
	}
}

// Policy bundles the three predicates with a shared stats counter. It holds
// no other state — the predicates are pure functions of their input.
type Policy struct {
	stats Stats
}

// New returns a ready-to-use Policy.
func New() *Policy {
	return &Policy{}
}

// Stats returns a snapshot of the policy's validation counters.
func (p *Policy) Stats() Stats {
	return p.stats.Snapshot()
}

var readVerbs = map[string]bool{"SELECT": true, "WITH": true}
var modificationVerbs = map[string]bool{"INSERT": true, "UPDATE": true, "DELETE": true}

// ValidateQuery rejects empty input, blocked keywords, blocked prefixes,
// and statements whose first token is not permitted for the requested mode.
// It returns (true, "") on success, or (false, reason) on the first
// violation found, matching the order specified in §4.1.
func (p *Policy) ValidateQuery(sql string, allowModifications bool) (bool, string) {
	p.stats.recordChecked()

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		p.stats.recordDisallowedVerb()
		return false, "Query must not be empty"
	}

	upper := strings.ToUpper(trimmed)

	for _, kw := range blockedKeywords {
		if keywordRegexes[kw].MatchString(upper) {
			p.stats.recordBlockedKeyword()
			return false, fmt.Sprintf("Blocked keyword detected: %s", kw)
		}
	}

	if prefix, ok := matchesBlockedPrefix(upper); ok {
		p.stats.recordBlockedPrefix()
		return false, fmt.Sprintf("Blocked prefix detected: %s", prefix)
	}

	first := firstToken(upper)
	allowed := readVerbs[first]
	if allowModifications {
		allowed = allowed || modificationVerbs[first]
	}
	if !allowed {
		p.stats.recordDisallowedVerb()
		return false, fmt.Sprintf("Statement type not allowed: %s", first)
	}

	p.stats.recordPassed()
	return true, ""
}

// ValidateIdentifier accepts [A-Za-z_][A-Za-z0-9_]*, rejecting anything
// whose upper-cased form collides with a blocked keyword.
func (p *Policy) ValidateIdentifier(name string) (bool, string) {
	if !identifierPattern.MatchString(name) {
		return false, fmt.Sprintf("Invalid identifier: %s", name)
	}
	upper := strings.ToUpper(name)
	for _, kw := range blockedKeywords {
		if upper == kw {
			return false, fmt.Sprintf("Identifier collides with blocked keyword: %s", name)
		}
	}
	return true, ""
}

// ValidateProcedureName rejects a procedure name whose upper-cased form
// starts with a blocked prefix (xp_, sp_).
func (p *Policy) ValidateProcedureName(name string) (bool, string) {
	upper := strings.ToUpper(name)
	if _, ok := matchesBlockedPrefix(upper); ok {
		return false, fmt.Sprintf("Blocked procedure prefix: %s", name)
	}
	return true, ""
}

// SanitizeTableName validates schema and name as identifiers, then returns
// the bracket-quoted qualified form. Identifiers only ever reach string
// interpolation through this path, and only after validation.
func (p *Policy) SanitizeTableName(name, schema string) (string, error) {
	if ok, reason := p.ValidateIdentifier(schema); !ok {
		return "", fmt.Errorf("%s", reason)
	}
	if ok, reason := p.ValidateIdentifier(name); !ok {
		return "", fmt.Errorf("%s", reason)
	}
	return fmt.Sprintf("[%s].[%s]", schema, name), nil
}

func matchesBlockedPrefix(upperSQL string) (string, bool) {
	for _, prefix := range blockedPrefixes {
		if prefixRegexes[prefix].MatchString(upperSQL) {
			return prefix, true
		}
	}
	return "", false
}

func firstToken(upperSQL string) string {
	fields := strings.Fields(upperSQL)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
