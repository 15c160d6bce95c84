package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melkeydev/dbbroker/internal/types"
)

func TestValidateAcceptsPlainSelect(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate("SELECT id, name FROM users WHERE id = 1")
	require.True(t, result.IsValid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidateRejectsEmptyQuery(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate("   ")
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "non-empty")
}

func TestValidateRejectsOverLengthQuery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueryLength = 20
	v := New(cfg)
	result := v.Validate("SELECT * FROM a_very_long_table_name_that_exceeds_limit")
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "maximum length")
}

func TestValidateAcceptsQueryAtExactLengthBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueryLength = 20
	v := New(cfg)
	sql := "SELECT 1234567890123" // exactly 20 chars, at the boundary
	require.LessOrEqual(t, len(sql), cfg.MaxQueryLength)
	result := v.Validate(sql)
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
}

func TestValidateRejectsForbiddenKeywords(t *testing.T) {
	v := New(DefaultConfig())
	cases := []string{
		"DELETE FROM users WHERE id = 1",
		"UPDATE users SET name = 'x' WHERE id = 1",
		"DROP TABLE users",
		"INSERT INTO users (name) VALUES ('x')",
		"CREATE TABLE foo (id INT)",
	}
	for _, sql := range cases {
		result := v.Validate(sql)
		assert.False(t, result.IsValid, "expected rejection for %q", sql)
	}
}

func TestValidateRejectsNonAllowedLeadingToken(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate("SELECT_LOOKALIKE 1")
	assert.False(t, result.IsValid)
}

func TestValidateRejectsSuspiciousInjectionPatterns(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate("SELECT * FROM users WHERE name = '' OR '1'='1'")
	assert.False(t, result.IsValid)
}

func TestValidateRejectsDeleteWithoutWhere(t *testing.T) {
	v := New(DefaultConfig())
	// DELETE is already a forbidden keyword, but this also exercises the
	// WHERE-required rule for callers that loosen AllowedLeading.
	result := v.Validate("DELETE FROM users")
	assert.False(t, result.IsValid)
}

func TestValidateWarnsOnSelectStarWithoutLimit(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate("SELECT * FROM users")
	require.True(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Warnings, "|"), "LIMIT")
}

func TestValidateWarnsOnZeroArgRiskyFunction(t *testing.T) {
	v := New(DefaultConfig())
	for _, sql := range []string{"SELECT RAND()", "SELECT USER()", "SELECT UUID()", "SELECT VERSION()"} {
		result := v.Validate(sql)
		require.True(t, result.IsValid, "errors: %v", result.Errors)
		assert.Contains(t, strings.Join(result.Warnings, "|"), "risky function", "sql: %s", sql)
	}
}

func TestValidateWarnsOnRiskyFunctionWithArguments(t *testing.T) {
	v := New(DefaultConfig())
	result := v.Validate("SELECT SLEEP(5)")
	require.True(t, result.IsValid)
	assert.Contains(t, strings.Join(result.Warnings, "|"), "risky function")
}

func TestNormalizeStripsCommentsAndCollapsesWhitespace(t *testing.T) {
	sql := "SELECT  1  -- trailing comment\n   /* block\ncomment */  FROM dual"
	normalized := Normalize(sql)
	assert.NotContains(t, normalized, "--")
	assert.NotContains(t, normalized, "/*")
	assert.NotContains(t, normalized, "  ")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	sql := "SELECT  1 -- comment\nFROM dual"
	once := Normalize(sql)
	twice := Normalize(once)
	assert.Equal(t, once, twice)
}

func TestAnalyzeComplexityBuckets(t *testing.T) {
	v := New(DefaultConfig())

	low := v.Validate("SELECT id FROM users")
	_, lowAnalysis := types.ValidationResult{}, Analyze("SELECT id FROM users")
	assert.True(t, low.IsValid)
	assert.Equal(t, types.ComplexityLow, lowAnalysis.EstimatedComplexity)

	high := Analyze(`SELECT * FROM a
		JOIN b ON a.id = b.a_id
		JOIN c ON b.id = c.b_id
		UNION SELECT * FROM (SELECT * FROM d) sub
		GROUP BY a.id
		HAVING COUNT(*) > 1
		ORDER BY a.id`)
	assert.Equal(t, types.ComplexityHigh, high.EstimatedComplexity)
	assert.True(t, high.HasJoins)
	assert.True(t, high.HasSubqueries)
}

func TestAnalyzeExtractsDistinctTableNames(t *testing.T) {
	analysis := Analyze("SELECT * FROM users u JOIN orders o ON u.id = o.user_id JOIN users u2 ON 1=1")
	assert.Contains(t, analysis.Tables, "users")
	assert.Contains(t, analysis.Tables, "orders")
	// "users" appears twice (aliased differently) but the raw identifier is
	// deduplicated by name, not alias.
	count := 0
	for _, tbl := range analysis.Tables {
		if tbl == "users" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
