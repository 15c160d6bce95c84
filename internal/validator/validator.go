// Package validator implements the read-only SQL admission filter (spec.md
// component C6): keyword, pattern and complexity checks over a raw SQL
// string.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/melkeydev/dbbroker/internal/types"
)

// Config carries the validator's tunables; defaults match spec.md §4.6.
type Config struct {
	MaxQueryLength   int
	AllowedLeading   []string
}

func DefaultConfig() Config {
	return Config{
		MaxQueryLength: 10_000,
		AllowedLeading: []string{"SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "ANALYZE", "WITH"},
	}
}

// Validator is stateless beyond its Config; safe for concurrent use.
type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 10_000
	}
	if len(cfg.AllowedLeading) == 0 {
		cfg.AllowedLeading = DefaultConfig().AllowedLeading
	}
	return &Validator{cfg: cfg}
}

var lineCommentPattern = regexp.MustCompile(`--[^\n]*`)
var blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
var whitespacePattern = regexp.MustCompile(`\s+`)

var forbiddenKeywords = []string{
	// DML
	"INSERT", "UPDATE", "DELETE", "REPLACE", "MERGE",
	// DDL
	"CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME",
	// Transaction control
	"BEGIN", "COMMIT", "ROLLBACK", "START TRANSACTION",
	// Privilege
	"GRANT", "REVOKE", "SET PASSWORD", "CREATE USER", "DROP USER",
	// Bulk I/O
	"LOAD DATA", "INTO OUTFILE", "LOAD_FILE",
	// Invocation
	"CALL", "EXECUTE", "EXEC",
	// Administrative
	"FLUSH", "RESET", "KILL", "SHUTDOWN",
}

var riskyFunctions = []string{
	"BENCHMARK", "SLEEP", "GET_LOCK", "RELEASE_LOCK", "LOAD_FILE",
	"UUID", "RAND", "CONNECTION_ID", "VERSION", "USER", "DATABASE", "SCHEMA",
}

// suspiciousPatterns is the injection regex set from spec.md §4.6 rule 5.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`'\s*(OR|AND)\s*'?\d`),
	regexp.MustCompile(`\\'`),
	regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`),
	regexp.MustCompile(`(?i)UNION\s+(ALL\s+)?SELECT`),
	regexp.MustCompile(`(?i)CONCAT\s*\(`),
	regexp.MustCompile(`(?i)INFORMATION_SCHEMA`),
	regexp.MustCompile(`(?i)MYSQL\.USER`),
	regexp.MustCompile(`(?i)INTO\s+OUTFILE`),
	regexp.MustCompile(`(?i)LOAD_FILE\s*\(`),
	regexp.MustCompile(`@@`),
	regexp.MustCompile(`(?i)<script`),
}

// Validate runs the admission rules in order and returns a ValidationResult.
func (v *Validator) Validate(sql string) types.ValidationResult {
	var errs, warnings []string

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return types.ValidationResult{IsValid: false, Errors: []string{"query must be a non-empty string"}}
	}
	if len(sql) > v.cfg.MaxQueryLength {
		return types.ValidationResult{IsValid: false, Errors: []string{fmt.Sprintf("query exceeds maximum length of %d characters", v.cfg.MaxQueryLength)}}
	}

	normalized := Normalize(sql)
	upper := strings.ToUpper(normalized)

	for _, kw := range forbiddenKeywords {
		if containsKeyword(upper, kw) {
			errs = append(errs, fmt.Sprintf("forbidden keyword detected: %s", kw))
		}
	}

	leadingOK := false
	firstToken := firstToken(upper)
	for _, allowed := range v.cfg.AllowedLeading {
		if firstToken == allowed {
			leadingOK = true
			break
		}
	}
	if !leadingOK {
		errs = append(errs, fmt.Sprintf("query must begin with one of: %s (found %q)", strings.Join(v.cfg.AllowedLeading, ", "), firstToken))
	}

	for _, pat := range suspiciousPatterns {
		if pat.MatchString(normalized) {
			errs = append(errs, fmt.Sprintf("suspicious pattern detected: %s", pat.String()))
		}
	}

	for _, fn := range riskyFunctions {
		if isFunctionCall(upper, fn) {
			warnings = append(warnings, fmt.Sprintf("risky function referenced: %s", fn))
		}
	}

	analysis := Analyze(normalized)
	switch analysis.EstimatedComplexity {
	case types.ComplexityHigh:
		warnings = append(warnings, "query has high estimated complexity")
	}
	if len(analysis.Tables) > 5 {
		warnings = append(warnings, "query references more than 5 tables")
	}
	if analysis.HasSubqueries {
		warnings = append(warnings, "query contains subqueries")
	}

	if strings.Contains(upper, "SELECT *") && !strings.Contains(upper, "LIMIT") {
		warnings = append(warnings, "SELECT * without LIMIT may return unbounded rows")
	}
	if strings.Contains(upper, "LIKE '%") {
		warnings = append(warnings, "leading-wildcard LIKE pattern prevents index usage")
	}
	if countOccurrences(upper, "FROM") > 1 && !strings.Contains(upper, "JOIN") && !strings.Contains(upper, "WHERE") {
		warnings = append(warnings, "multiple FROM clauses without JOIN or WHERE may produce a cartesian product")
	}
	if (firstToken == "DELETE" || firstToken == "UPDATE") && !strings.Contains(upper, "WHERE") {
		errs = append(errs, fmt.Sprintf("%s without WHERE is rejected", firstToken))
	}

	return types.ValidationResult{
		IsValid:        len(errs) == 0,
		Errors:         errs,
		Warnings:       warnings,
		SanitizedQuery: normalized,
	}
}

// Normalize collapses whitespace runs and strips comments. It is idempotent
// — a second call on its own output returns the same string.
func Normalize(sql string) string {
	stripped := blockCommentPattern.ReplaceAllString(sql, " ")
	stripped = lineCommentPattern.ReplaceAllString(stripped, " ")
	collapsed := whitespacePattern.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(collapsed)
}

func firstToken(upper string) string {
	fields := strings.Fields(upper)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func containsKeyword(upper, kw string) bool {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`).MatchString(upper)
}

// isFunctionCall reports whether fn is invoked as a function in upper,
// zero-arg calls included. A trailing \b after "(" would never match — the
// character following "(" is either ")" or an argument, neither of which is
// a word boundary against "(" — so the boundary is only asserted before fn.
func isFunctionCall(upper, fn string) bool {
	return regexp.MustCompile(`\b`+regexp.QuoteMeta(fn)+`\s*\(`).MatchString(upper)
}

func countOccurrences(haystack, needle string) int {
	return strings.Count(haystack, needle)
}

var (
	joinPattern     = regexp.MustCompile(`(?i)\bJOIN\b`)
	unionPattern    = regexp.MustCompile(`(?i)\bUNION\b`)
	subqueryPattern = regexp.MustCompile(`\(\s*SELECT`)
	orderByPattern  = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	groupByPattern  = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	havingPattern   = regexp.MustCompile(`(?i)\bHAVING\b`)
	aggregatePattern = regexp.MustCompile(`(?i)\b(COUNT|SUM|AVG|MIN|MAX)\s*\(`)
	fromJoinTablePattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([a-zA-Z_][a-zA-Z0-9_.` + "`" + `"]*(?:\s*,\s*[a-zA-Z_][a-zA-Z0-9_.` + "`" + `"]*)*)`)
)

// Analyze returns the heuristic query shape spec.md §4.6 calls
// getQueryAnalysis: table extraction is a comma-split over names following
// FROM/JOIN, documented as heuristic rather than a real parse.
func Analyze(sql string) types.QueryAnalysis {
	upper := strings.ToUpper(sql)

	joins := len(joinPattern.FindAllStringIndex(sql, -1))
	unions := len(unionPattern.FindAllStringIndex(sql, -1))
	subqueries := len(subqueryPattern.FindAllStringIndex(upper, -1))
	orderBys := len(orderByPattern.FindAllStringIndex(sql, -1))
	groupBys := len(groupByPattern.FindAllStringIndex(sql, -1))
	havings := len(havingPattern.FindAllStringIndex(sql, -1))

	score := 2*joins + 3*unions + 4*subqueries + orderBys + 2*groupBys + 2*havings

	bucket := types.ComplexityLow
	switch {
	case score > 8:
		bucket = types.ComplexityHigh
	case score > 3:
		bucket = types.ComplexityMedium
	}

	tableSet := map[string]struct{}{}
	var tables []string
	for _, m := range fromJoinTablePattern.FindAllStringSubmatch(sql, -1) {
		for _, name := range strings.Split(m[1], ",") {
			name = strings.Trim(strings.TrimSpace(name), "`\"")
			if name == "" {
				continue
			}
			if _, seen := tableSet[name]; seen {
				continue
			}
			tableSet[name] = struct{}{}
			tables = append(tables, name)
		}
	}

	return types.QueryAnalysis{
		Operation:           firstToken(upper),
		Tables:              tables,
		HasSubqueries:       subqueries > 0,
		HasJoins:            joins > 0,
		HasAggregates:       aggregatePattern.MatchString(sql),
		EstimatedComplexity: bucket,
		Score:               score,
	}
}
