package nlquery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melkeydev/dbbroker/internal/types"
	"github.com/melkeydev/dbbroker/internal/validator"
)

type stubTranslator struct {
	calls  int64
	result *types.NLResult
	err    error
}

func (s *stubTranslator) Translate(ctx context.Context, req types.NLRequest) (*types.NLResult, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.result
	return &cp, nil
}

func newTestEngine(t *testing.T, tr Translator) *Engine {
	t.Helper()
	e, err := New(tr, validator.New(validator.DefaultConfig()), 0, nil)
	require.NoError(t, err)
	return e
}

func TestQueryReturnsSanitizedSQLOnValidTranslation(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "select id from users", Confidence: 0.9}}
	e := newTestEngine(t, tr)

	result, err := e.Query(context.Background(), types.NLRequest{Question: "how many users?", TargetPool: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "select id from users", result.SQL)
}

func TestQueryCachesRepeatedQuestionForSamePool(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "SELECT id FROM users"}}
	e := newTestEngine(t, tr)

	req := types.NLRequest{Question: "list users", TargetPool: "primary"}
	_, err := e.Query(context.Background(), req)
	require.NoError(t, err)
	_, err = e.Query(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&tr.calls), "second identical question should hit the cache, not the translator")
}

func TestQueryCacheKeyIsCaseAndWhitespaceInsensitiveOnQuestion(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "SELECT id FROM users"}}
	e := newTestEngine(t, tr)

	_, err := e.Query(context.Background(), types.NLRequest{Question: "List Users", TargetPool: "primary"})
	require.NoError(t, err)
	_, err = e.Query(context.Background(), types.NLRequest{Question: "  list users  ", TargetPool: "primary"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&tr.calls))
}

func TestQueryDistinguishesCacheByTargetPool(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "SELECT id FROM users"}}
	e := newTestEngine(t, tr)

	_, err := e.Query(context.Background(), types.NLRequest{Question: "list users", TargetPool: "primary"})
	require.NoError(t, err)
	_, err = e.Query(context.Background(), types.NLRequest{Question: "list users", TargetPool: "reporting"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&tr.calls))
}

func TestQueryPropagatesTranslatorError(t *testing.T) {
	tr := &stubTranslator{err: errors.New("upstream unavailable")}
	e := newTestEngine(t, tr)

	_, err := e.Query(context.Background(), types.NLRequest{Question: "x", TargetPool: "primary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "translation failed")
}

func TestQueryRejectsEmptyGeneratedSQL(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "   "}}
	e := newTestEngine(t, tr)

	_, err := e.Query(context.Background(), types.NLRequest{Question: "x", TargetPool: "primary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty statement")
}

func TestSuggestSchemaFixesProposesClosestKnownColumn(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "SELECT usre_id FROM users"}}
	e := newTestEngine(t, tr)

	schema := &types.SchemaInfo{Tables: []types.TableInfo{
		{Name: "users", Columns: []types.ColumnInfo{{Name: "user_id"}, {Name: "name"}}},
	}}

	_, err := e.Query(context.Background(), types.NLRequest{
		Question:      "bad column",
		TargetPool:    "primary",
		SchemaContext: schema,
	})
	// The generated SQL itself is a plain SELECT, so this specific case
	// passes validation; assert instead on the identifier-suggestion helper
	// directly, which is what actually powers the "did you mean" hints.
	_ = err
	suggestions := suggestSchemaFixes("SELECT usre_id FROM users", schema)
	require.NotEmpty(t, suggestions)
	assert.Contains(t, suggestions[0], "user_id")
}

func TestQueryRejectsForbiddenGeneratedSQL(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "DELETE FROM users"}}
	e := newTestEngine(t, tr)

	_, err := e.Query(context.Background(), types.NLRequest{Question: "x", TargetPool: "primary"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed validation")
}

func TestInvalidatePoolPurgesCache(t *testing.T) {
	tr := &stubTranslator{result: &types.NLResult{SQL: "SELECT id FROM users"}}
	e := newTestEngine(t, tr)

	req := types.NLRequest{Question: "list users", TargetPool: "primary"}
	_, err := e.Query(context.Background(), req)
	require.NoError(t, err)

	e.InvalidatePool("primary")

	_, err = e.Query(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&tr.calls), "purge should force a fresh translation")
}

func TestClosestFindsNearestKnownIdentifier(t *testing.T) {
	best, dist := closest("usre_id", []string{"user_id", "name", "email"})
	assert.Equal(t, "user_id", best)
	assert.Equal(t, 2, dist)
}

func TestIdentifierTokensSkipsShortAndDuplicateTokens(t *testing.T) {
	tokens := identifierTokens("SELECT id, id, ab, user_id FROM users")
	assert.NotContains(t, tokens, "ab")
	assert.NotContains(t, tokens, "id")
	count := 0
	for _, tok := range tokens {
		if tok == "user_id" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
