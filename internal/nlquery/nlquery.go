// Package nlquery implements the natural-language-to-SQL front door
// (spec.md §9): the core only needs a
// {question, schemaContext, targetPool} -> {sql, confidence, explanation,
// suggestedImprovements} contract. The template bank that actually
// generates SQL is an external collaborator; this package owns the
// translation cache, fuzzy schema-name suggestions, and validation gate
// around whatever Translator is plugged in.
package nlquery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	levenshtein "github.com/texttheater/golang-levenshtein/levenshtein"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/types"
	"github.com/melkeydev/dbbroker/internal/validator"
)

// Translator is the external collaborator's contract. Any implementation
// satisfying this signature — template bank, LLM call, rule engine — can
// be plugged in; the Engine only adds caching, fuzzy suggestions and
// validation around it.
type Translator interface {
	Translate(ctx context.Context, req types.NLRequest) (*types.NLResult, error)
}

// Engine wraps a Translator with a recency-based cache (repeated questions
// against the same pool are common and cheap to short-circuit, unlike the
// schema cache's hit-count eviction) and post-generation validation.
type Engine struct {
	translator Translator
	validator  *validator.Validator
	cache      *lru.Cache
	logger     *zap.Logger
}

// New builds an Engine. cacheSize <= 0 uses a 256-entry default.
func New(translator Translator, v *validator.Validator, cacheSize int, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if v == nil {
		v = validator.New(validator.DefaultConfig())
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("nlquery: building translation cache: %w", err)
	}
	return &Engine{translator: translator, validator: v, cache: c, logger: logger}, nil
}

func cacheKey(req types.NLRequest) string {
	h := sha256.New()
	h.Write([]byte(req.TargetPool))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(req.Question))))
	return hex.EncodeToString(h.Sum(nil))
}

// Query translates a question into SQL, validating the result before it is
// ever handed to the executor. A translation the validator rejects is a
// caller-visible error, not a system failure (spec.md §9).
func (e *Engine) Query(ctx context.Context, req types.NLRequest) (*types.NLResult, error) {
	key := cacheKey(req)
	if v, ok := e.cache.Get(key); ok {
		cached := *v.(*types.NLResult)
		return &cached, nil
	}

	result, err := e.translator.Translate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("nlquery: translation failed: %w", err)
	}
	if strings.TrimSpace(result.SQL) == "" {
		return nil, fmt.Errorf("nlquery: translator returned an empty statement")
	}

	validation := e.validator.Validate(result.SQL)
	if !validation.IsValid {
		msg := strings.Join(validation.Errors, "; ")
		if req.SchemaContext != nil {
			if hints := suggestSchemaFixes(result.SQL, req.SchemaContext); len(hints) > 0 {
				msg += " (" + strings.Join(hints, "; ") + ")"
			}
		}
		return nil, fmt.Errorf("nlquery: generated SQL failed validation: %s", msg)
	}
	result.SQL = validation.SanitizedQuery

	e.cache.Add(key, result)
	stored := *result
	return &stored, nil
}

// InvalidatePool drops every cached translation. The cache key hashes
// pool+question together, so a scoped wipe would require storing the pool
// alongside each entry; until that's needed, a schema change on any pool
// just clears everything.
func (e *Engine) InvalidatePool(pool string) {
	e.cache.Purge()
}

// suggestSchemaFixes looks for bare identifiers in sql that don't match any
// known table/column and proposes the closest known name by edit distance —
// grounded in the "did you mean" style hint a template-bank generator would
// want back from validation failures.
func suggestSchemaFixes(sql string, schema *types.SchemaInfo) []string {
	known := make([]string, 0, len(schema.Tables)*4)
	for _, t := range schema.Tables {
		known = append(known, t.Name)
		for _, c := range t.Columns {
			known = append(known, c.Name)
		}
	}
	if len(known) == 0 {
		return nil
	}

	var suggestions []string
	for _, token := range identifierTokens(sql) {
		if containsFold(known, token) {
			continue
		}
		if best, dist := closest(token, known); best != "" && dist <= 2 && dist > 0 {
			suggestions = append(suggestions, fmt.Sprintf("did you mean %q instead of %q?", best, token))
		}
	}
	sort.Strings(suggestions)
	return suggestions
}

func identifierTokens(sql string) []string {
	fields := strings.FieldsFunc(sql, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return false
		default:
			return true
		}
	})
	seen := map[string]struct{}{}
	var out []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func closest(token string, known []string) (string, int) {
	best := ""
	bestDist := 1 << 30
	for _, k := range known {
		d := levenshtein.DistanceForStrings([]rune(strings.ToLower(token)), []rune(strings.ToLower(k)), levenshtein.DefaultOptions)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best, bestDist
}
