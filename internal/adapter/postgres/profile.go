package postgres

import (
	"context"
	"fmt"
	"math"

	"github.com/melkeydev/dbbroker/internal/types"
)

const maxSampleRows = 10_000

type dataProfiler struct {
	a *Adapter
}

func (p *dataProfiler) ProfileTable(ctx context.Context, name string, sampleSize int) (*types.TableProfile, error) {
	if sampleSize <= 0 {
		sampleSize = 1000
	}
	schema, table := splitQualified(name, p.a.schemas[0])
	qualified := qualify(schema, table)

	var totalRows int64
	if res, err := p.a.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS c FROM %s", qualified)); err == nil && len(res.Rows) == 1 {
		if c, ok := toInt64(res.Rows[0]["c"]); ok {
			totalRows = c
		}
	}

	samplingMethod := "full"
	confidence := 100.0
	sampleQuery := fmt.Sprintf("SELECT * FROM %s", qualified)
	if totalRows > maxSampleRows {
		samplingMethod = "random"
		confidence = math.Min(95, float64(sampleSize)/float64(totalRows)*100)
		sampleQuery = fmt.Sprintf("SELECT * FROM %s ORDER BY RANDOM() LIMIT %d", qualified, sampleSize)
	} else if int64(sampleSize) < totalRows {
		sampleQuery = fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified, sampleSize)
	}

	sample, err := p.a.Query(ctx, sampleQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to sample table: %w", err)
	}

	cols, err := p.a.analyzer.loadColumns(ctx, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	var totalSize int64
	if res, err := p.a.Query(ctx, "SELECT pg_total_relation_size($1) AS sz", qualified); err == nil && len(res.Rows) == 1 {
		if sz, ok := toInt64(res.Rows[0]["sz"]); ok {
			totalSize = sz
		}
	}

	profiles := make([]types.ColumnProfile, 0, len(cols))
	for _, col := range cols {
		profiles = append(profiles, p.profileColumn(ctx, qualified, col, sample.Rows))
	}

	quality := computeTableQuality(profiles, totalSize)
	rels, _ := p.a.analyzer.GetRelationships(ctx)
	key := fmt.Sprintf("%s.%s", schema, table)
	var parents, children []string
	if rels != nil {
		parents = rels.Refs[key]
		for t, refs := range rels.Refs {
			for _, r := range refs {
				if r == key {
					children = append(children, t)
				}
			}
		}
	}

	return &types.TableProfile{
		TableName:          key,
		TotalRows:          totalRows,
		TotalColumns:       len(cols),
		EstimatedSizeBytes: totalSize,
		Columns:            profiles,
		DataQuality:        quality,
		Relationships:      types.Relationships{ParentTables: parents, ChildTables: children},
		SamplingMethod:     samplingMethod,
		SampleConfidence:   confidence,
	}, nil
}

func (p *dataProfiler) profileColumn(ctx context.Context, qualified string, col types.ColumnInfo, sample []types.Row) types.ColumnProfile {
	cp := types.ColumnProfile{ColumnName: col.Name, DataType: col.Type}
	n := len(sample)
	if n == 0 {
		return cp
	}

	var nullCount int64
	distinct := map[string]int64{}
	var values []any
	for _, row := range sample {
		v := row[col.Name]
		if v == nil {
			nullCount++
			continue
		}
		values = append(values, v)
		distinct[fmt.Sprintf("%v", v)]++
	}
	cp.NullCount = nullCount
	cp.NullPercentage = pct(nullCount, n)
	cp.UniqueCount = int64(len(distinct))
	cp.UniquePercentage = pct(int64(len(distinct)), n)
	cp.TopValues = topValues(distinct, n, 10)
	if len(cp.TopValues) > 0 {
		cp.Mode = cp.TopValues[0].Value
	}

	if isNumericCategory(col.Type) {
		p.profileNumeric(ctx, qualified, col.Name, &cp)
	} else if col.Type == types.CategoryString || col.Type == types.CategoryText {
		cp.Patterns = p.profilePatterns(ctx, qualified, col.Name)
		cp.DataQualityIssues = stringIssues(values)
	}

	cp.QualityScore = columnQualityScore(cp)
	return cp
}

func isNumericCategory(c types.ColumnCategory) bool {
	switch c {
	case types.CategoryInteger, types.CategoryFloat, types.CategoryDecimal:
		return true
	}
	return false
}

// profileNumeric uses PERCENTILE_CONT for a proper population median
// (spec.md §4.3), unlike the MySQL adapter's offset-scan approximation.
func (p *dataProfiler) profileNumeric(ctx context.Context, qualified, column string, cp *types.ColumnProfile) {
	q := fmt.Sprintf(`
		SELECT MIN(%q) AS mn, MAX(%q) AS mx, AVG(%q)::float8 AS av,
		       STDDEV(%q)::float8 AS sd, VARIANCE(%q)::float8 AS vr,
		       PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %q)::float8 AS med
		FROM %s`, column, column, column, column, column, column, qualified)
	res, err := p.a.Query(ctx, q)
	if err != nil || len(res.Rows) != 1 {
		return
	}
	row := res.Rows[0]
	cp.MinValue = row["mn"]
	cp.MaxValue = row["mx"]
	if av, ok := toFloat(row["av"]); ok {
		cp.AvgValue = &av
	}
	if sd, ok := toFloat(row["sd"]); ok {
		cp.Stddev = &sd
	}
	if vr, ok := toFloat(row["vr"]); ok {
		cp.Variance = &vr
	}
	cp.MedianValue = row["med"]

	if cp.AvgValue != nil && cp.Stddev != nil && *cp.Stddev > 0 {
		outlierQ := fmt.Sprintf(
			`SELECT %q AS v FROM %s WHERE ABS(%q - %f) > 3 * %f LIMIT 10`,
			column, qualified, column, *cp.AvgValue, *cp.Stddev)
		if outRes, err := p.a.Query(ctx, outlierQ); err == nil {
			for _, r := range outRes.Rows {
				cp.Outliers = append(cp.Outliers, r["v"])
			}
		}
	}
}

func (p *dataProfiler) profilePatterns(ctx context.Context, qualified, column string) map[string]int64 {
	patterns := map[string]string{
		"email":         emailPattern,
		"phone":         phonePattern,
		"url":           urlPattern,
		"iso_date_like": isoDatePattern,
	}
	out := map[string]int64{}
	for name, re := range patterns {
		q := fmt.Sprintf(`SELECT COUNT(*) AS c FROM %s WHERE %q ~* $1`, qualified, column)
		if res, err := p.a.Query(ctx, q, re); err == nil && len(res.Rows) == 1 {
			if c, ok := toInt64(res.Rows[0]["c"]); ok && c > 0 {
				out[name] = c
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringIssues(values []any) []string {
	var empty, whitespace int
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		trimmed := trimSpace(s)
		if s == "" {
			empty++
		} else if s != trimmed {
			whitespace++
		}
	}
	var issues []string
	if empty > 0 {
		issues = append(issues, fmt.Sprintf("%d empty string values", empty))
	}
	if whitespace > 0 {
		issues = append(issues, fmt.Sprintf("%d values with leading/trailing whitespace", whitespace))
	}
	return issues
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

func pct(n int64, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func topValues(distinct map[string]int64, total, k int) []types.TopValue {
	type kv struct {
		v string
		c int64
	}
	items := make([]kv, 0, len(distinct))
	for v, c := range distinct {
		items = append(items, kv{v, c})
	}
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if items[j].c > items[i].c {
				items[i], items[j] = items[j], items[i]
			}
		}
	}
	if len(items) > k {
		items = items[:k]
	}
	out := make([]types.TopValue, 0, len(items))
	for _, it := range items {
		out = append(out, types.TopValue{Value: it.v, Count: it.c, Percentage: pct(it.c, total)})
	}
	return out
}

func columnQualityScore(cp types.ColumnProfile) float64 {
	score := 100.0
	score -= cp.NullPercentage * 0.5
	if cp.UniquePercentage < 1 {
		score -= 5
	}
	if len(cp.TopValues) > 0 && cp.TopValues[0].Percentage > 80 {
		score -= 10
	}
	score -= float64(len(cp.Outliers)) * 2
	score -= float64(len(cp.DataQualityIssues)) * 3
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func computeTableQuality(cols []types.ColumnProfile, totalSize int64) types.DataQuality {
	if len(cols) == 0 {
		return types.DataQuality{OverallScore: 100}
	}
	var sum float64
	var issues, recs []string
	for _, c := range cols {
		sum += c.QualityScore
		if c.NullPercentage > 50 {
			issues = append(issues, fmt.Sprintf("column %s is over 50%% null", c.ColumnName))
			recs = append(recs, fmt.Sprintf("review data collection for %s", c.ColumnName))
		}
		if c.UniquePercentage < 1 && c.DataType != types.CategoryString {
			recs = append(recs, fmt.Sprintf("consider indexing or normalizing %s", c.ColumnName))
		}
	}
	overall := sum / float64(len(cols))
	if overall < 70 {
		recs = append(recs, "run a data cleaning pass across this table")
	}
	if totalSize > 5*1024*1024*1024 {
		recs = append(recs, "consider partitioning or pruning indexes given table size")
	}
	return types.DataQuality{OverallScore: overall, Issues: issues, Recommendations: recs}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
