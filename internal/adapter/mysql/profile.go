package mysql

import (
	"context"
	"fmt"
	"math"

	"github.com/melkeydev/dbbroker/internal/types"
)

const maxSampleRows = 10_000

// dataProfiler implements adapter.DataProfiler over a (possibly random)
// sample, per spec.md §4.2 and §4.9.
type dataProfiler struct {
	a *Adapter
}

func (p *dataProfiler) ProfileTable(ctx context.Context, table string, sampleSize int) (*types.TableProfile, error) {
	if sampleSize <= 0 {
		sampleSize = 1000
	}

	var totalRows int64
	countRes, err := p.a.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS c FROM `%s`", table))
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}
	if len(countRes.Rows) == 1 {
		if c, ok := toInt64(countRes.Rows[0]["c"]); ok {
			totalRows = c
		}
	}

	samplingMethod := "full"
	confidence := 100.0
	sampleQuery := fmt.Sprintf("SELECT * FROM `%s`", table)
	if totalRows > maxSampleRows {
		samplingMethod = "random"
		confidence = math.Min(95, float64(sampleSize)/float64(totalRows)*100)
		sampleQuery = fmt.Sprintf("SELECT * FROM `%s` ORDER BY RAND() LIMIT %d", table, sampleSize)
	} else if int64(sampleSize) < totalRows {
		sampleQuery = fmt.Sprintf("SELECT * FROM `%s` LIMIT %d", table, sampleSize)
	}

	sample, err := p.a.Query(ctx, sampleQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to sample table: %w", err)
	}

	cols, err := p.a.analyzer.loadColumns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	columnProfiles := make([]types.ColumnProfile, 0, len(cols))
	var totalSize int64
	if sr, err := p.a.Query(ctx, fmt.Sprintf(
		"SELECT data_length + index_length AS sz FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = '%s'", table)); err == nil && len(sr.Rows) == 1 {
		if sz, ok := toInt64(sr.Rows[0]["sz"]); ok {
			totalSize = sz
		}
	}

	for _, col := range cols {
		cp := p.profileColumn(ctx, table, col, sample.Rows, len(sample.Rows))
		columnProfiles = append(columnProfiles, cp)
	}

	quality := computeTableQuality(columnProfiles, totalSize)
	rels, _ := p.a.analyzer.GetRelationships(ctx)
	var parents, children []string
	if rels != nil {
		parents = rels.Refs[table]
		for t, refs := range rels.Refs {
			for _, r := range refs {
				if r == table {
					children = append(children, t)
				}
			}
		}
	}

	return &types.TableProfile{
		TableName:          table,
		TotalRows:          totalRows,
		TotalColumns:       len(cols),
		EstimatedSizeBytes: totalSize,
		Columns:            columnProfiles,
		DataQuality:        quality,
		Relationships:      types.Relationships{ParentTables: parents, ChildTables: children},
		SamplingMethod:     samplingMethod,
		SampleConfidence:   confidence,
	}, nil
}

func (p *dataProfiler) profileColumn(ctx context.Context, table string, col types.ColumnInfo, sample []types.Row, sampleN int) types.ColumnProfile {
	cp := types.ColumnProfile{
		ColumnName: col.Name,
		DataType:   col.Type,
	}
	if sampleN == 0 {
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
		distinct[asString(v)]++
	}
	cp.NullCount = nullCount
	cp.NullPercentage = pct(nullCount, sampleN)
	cp.UniqueCount = int64(len(distinct))
	cp.UniquePercentage = pct(int64(len(distinct)), sampleN)

	cp.TopValues = topValues(distinct, sampleN, 10)
	if len(cp.TopValues) > 0 {
		cp.Mode = cp.TopValues[0].Value
	}

	if isNumericCategory(col.Type) {
		p.profileNumeric(ctx, table, col.Name, &cp)
	} else if col.Type == types.CategoryString || col.Type == types.CategoryText {
		cp.Patterns = p.profilePatterns(ctx, table, col.Name)
		cp.DataQualityIssues = append(cp.DataQualityIssues, stringIssues(values)...)
	}

	cp.QualityScore = columnQualityScore(cp)
	return cp
}

func (p *dataProfiler) profileNumeric(ctx context.Context, table, column string, cp *types.ColumnProfile) {
	q := fmt.Sprintf(
		"SELECT MIN(`%s`) AS mn, MAX(`%s`) AS mx, AVG(`%s`) AS av, STDDEV(`%s`) AS sd, VARIANCE(`%s`) AS vr, COUNT(`%s`) AS cn FROM `%s`",
		column, column, column, column, column, column, table)
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

	// Median via offset scan over the full table's non-NULL values (not the
	// sample): the value at offset COUNT/2 in ascending order. For an even
	// count that is the upper of the two middle values; they are not averaged.
	if cn, ok := toInt64(row["cn"]); ok && cn > 0 {
		medQ := fmt.Sprintf("SELECT `%s` AS v FROM `%s` WHERE `%s` IS NOT NULL ORDER BY `%s` LIMIT 1 OFFSET %d", column, table, column, column, cn/2)
		if medRes, err := p.a.Query(ctx, medQ); err == nil && len(medRes.Rows) == 1 {
			cp.MedianValue = medRes.Rows[0]["v"]
		}
	}

	if cp.AvgValue != nil && cp.Stddev != nil && *cp.Stddev > 0 {
		outlierQ := fmt.Sprintf(
			"SELECT `%s` AS v FROM `%s` WHERE ABS(`%s` - %f) > 3 * %f LIMIT 10",
			column, table, column, *cp.AvgValue, *cp.Stddev)
		if outRes, err := p.a.Query(ctx, outlierQ); err == nil {
			for _, r := range outRes.Rows {
				cp.Outliers = append(cp.Outliers, r["v"])
			}
		}
	}
}

func (p *dataProfiler) profilePatterns(ctx context.Context, table, column string) map[string]int64 {
	patterns := map[string]string{
		"email": emailPattern,
		"phone": phonePattern,
		"url":   urlPattern,
	}
	out := map[string]int64{}
	for name, re := range patterns {
		q := fmt.Sprintf("SELECT COUNT(*) AS c FROM `%s` WHERE `%s` REGEXP '%s'", table, column, re)
		if res, err := p.a.Query(ctx, q); err == nil && len(res.Rows) == 1 {
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
		if s == "" {
			empty++
		} else if s != trimSpace(s) {
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

// columnQualityScore combines null percentage, uniqueness and top-value
// dominance with type-specific validations, per spec.md §4.9.
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
	case []byte:
		var f float64
		if _, err := fmt.Sscanf(string(t), "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
