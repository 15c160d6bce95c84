package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/melkeydev/dbbroker/internal/types"
)

// schemaAnalyzer implements adapter.SchemaAnalyzer against
// INFORMATION_SCHEMA, grounded on the teacher's loadColumns/Scan queries and
// extended per spec.md §4.2 to cover indexes, foreign keys and statistics.
type schemaAnalyzer struct {
	a *Adapter
}

func (s *schemaAnalyzer) GetTables(ctx context.Context) ([]types.TableInfo, error) {
	const q = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
	res, err := s.a.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]types.TableInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		name, _ := row["table_name"].(string)
		if systemSchemaPattern.MatchString(name) {
			continue
		}
		tbl, err := s.GetTable(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *tbl)
	}
	return tables, nil
}

func (s *schemaAnalyzer) GetTable(ctx context.Context, name string) (*types.TableInfo, error) {
	columns, err := s.loadColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	indexes, err := s.loadIndexes(ctx, name)
	if err != nil {
		return nil, err
	}
	fks, err := s.loadForeignKeys(ctx, name)
	if err != nil {
		return nil, err
	}

	tbl := &types.TableInfo{
		Name:        name,
		Schema:      s.a.cfg.Database,
		Columns:     columns,
		Indexes:     indexes,
		ForeignKeys: fks,
	}

	const statQ = `
		SELECT table_rows, data_length, index_length
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`
	res, err := s.a.Query(ctx, statQ, name)
	if err == nil && len(res.Rows) == 1 {
		row := res.Rows[0]
		if rc, ok := toInt64(row["table_rows"]); ok {
			tbl.RowCount = &rc
		}
		var size int64
		if dl, ok := toInt64(row["data_length"]); ok {
			size += dl
		}
		if il, ok := toInt64(row["index_length"]); ok {
			size += il
		}
		if size > 0 {
			tbl.SizeInBytes = &size
		}
	}

	return tbl, nil
}

func (s *schemaAnalyzer) loadColumns(ctx context.Context, table string) ([]types.ColumnInfo, error) {
	const q = `
		SELECT column_name, data_type, column_type, is_nullable, column_default,
		       column_key, extra, character_maximum_length, numeric_precision,
		       numeric_scale, column_comment
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`
	res, err := s.a.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	cols := make([]types.ColumnInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		name, _ := row["column_name"].(string)
		dataType, _ := row["data_type"].(string)
		nullable := asString(row["is_nullable"]) == "YES"
		key := asString(row["column_key"])
		extra := asString(row["extra"])

		ci := types.ColumnInfo{
			Name:            name,
			Type:            NormalizeType(dataType),
			NativeType:      asString(row["column_type"]),
			Nullable:        nullable,
			IsPrimaryKey:    key == "PRI",
			IsAutoIncrement: extra == "auto_increment",
			Comment:         asString(row["column_comment"]),
		}
		if dv, ok := row["column_default"].(string); ok {
			ci.DefaultValue = &dv
		}
		if ml, ok := toInt(row["character_maximum_length"]); ok {
			ci.MaxLength = &ml
		}
		if p, ok := toInt(row["numeric_precision"]); ok {
			ci.Precision = &p
		}
		if sc, ok := toInt(row["numeric_scale"]); ok {
			ci.Scale = &sc
		}
		cols = append(cols, ci)
	}
	return cols, nil
}

func (s *schemaAnalyzer) loadIndexes(ctx context.Context, table string) ([]types.IndexInfo, error) {
	const q = `
		SELECT index_name, column_name, non_unique, seq_in_index
		FROM information_schema.statistics
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY index_name, seq_in_index`
	res, err := s.a.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexes: %w", err)
	}

	order := []string{}
	byName := map[string]*types.IndexInfo{}
	for _, row := range res.Rows {
		name := asString(row["index_name"])
		idx, ok := byName[name]
		if !ok {
			nonUnique, _ := toInt64(row["non_unique"])
			idx = &types.IndexInfo{
				Name:      name,
				IsUnique:  nonUnique == 0,
				IsPrimary: name == "PRIMARY",
				Type:      "BTREE",
			}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, asString(row["column_name"]))
	}

	out := make([]types.IndexInfo, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (s *schemaAnalyzer) loadForeignKeys(ctx context.Context, table string) ([]types.ForeignKeyInfo, error) {
	const q = `
		SELECT k.constraint_name, k.column_name, k.referenced_table_name,
		       k.referenced_column_name, k.ordinal_position, r.update_rule, r.delete_rule
		FROM information_schema.key_column_usage k
		JOIN information_schema.referential_constraints r
		  ON r.constraint_name = k.constraint_name AND r.constraint_schema = k.table_schema
		WHERE k.table_schema = DATABASE() AND k.table_name = ?
		  AND k.referenced_table_name IS NOT NULL
		ORDER BY k.constraint_name, k.ordinal_position`
	res, err := s.a.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load foreign keys: %w", err)
	}

	order := []string{}
	byName := map[string]*types.ForeignKeyInfo{}
	for _, row := range res.Rows {
		name := asString(row["constraint_name"])
		fk, ok := byName[name]
		if !ok {
			fk = &types.ForeignKeyInfo{
				Name:             name,
				ReferencedTable:  asString(row["referenced_table_name"]),
				OnUpdate:         asString(row["update_rule"]),
				OnDelete:         asString(row["delete_rule"]),
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, asString(row["column_name"]))
		fk.ReferencedColumns = append(fk.ReferencedColumns, asString(row["referenced_column_name"]))
	}

	out := make([]types.ForeignKeyInfo, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (s *schemaAnalyzer) GetViews(ctx context.Context) ([]types.ViewInfo, error) {
	const q = `
		SELECT table_name, view_definition
		FROM information_schema.views
		WHERE table_schema = DATABASE()
		ORDER BY table_name`
	res, err := s.a.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	views := make([]types.ViewInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		name := asString(row["table_name"])
		cols, err := s.loadColumns(ctx, name)
		if err != nil {
			cols = nil
		}
		views = append(views, types.ViewInfo{
			Name:       name,
			Schema:     s.a.cfg.Database,
			Definition: asString(row["view_definition"]),
			Columns:    cols,
		})
	}
	return views, nil
}

func (s *schemaAnalyzer) GetProcedures(ctx context.Context) ([]types.ProcedureInfo, error) {
	const q = `
		SELECT routine_name, dtd_identifier
		FROM information_schema.routines
		WHERE routine_schema = DATABASE()
		ORDER BY routine_name`
	res, err := s.a.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list procedures: %w", err)
	}
	procs := make([]types.ProcedureInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		procs = append(procs, types.ProcedureInfo{
			Name:       asString(row["routine_name"]),
			Schema:     s.a.cfg.Database,
			ReturnType: asString(row["dtd_identifier"]),
		})
	}
	return procs, nil
}

func (s *schemaAnalyzer) GetRelationships(ctx context.Context) (*types.RelationshipMap, error) {
	const q = `
		SELECT table_name, referenced_table_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND referenced_table_name IS NOT NULL
		ORDER BY table_name`
	res, err := s.a.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	rm := types.NewRelationshipMap()
	for _, row := range res.Rows {
		rm.Add(asString(row["table_name"]), asString(row["referenced_table_name"]))
	}
	return rm, nil
}

func (s *schemaAnalyzer) GetDBInfo(ctx context.Context) (*types.DBInfo, error) {
	versionRes, err := s.a.Query(ctx, "SELECT VERSION() AS version")
	version := ""
	if err == nil && len(versionRes.Rows) == 1 {
		version = asString(versionRes.Rows[0]["version"])
	}

	const countQ = `SELECT COUNT(*) AS c FROM information_schema.tables WHERE table_schema = DATABASE()`
	countRes, err := s.a.Query(ctx, countQ)
	count := 0
	if err == nil && len(countRes.Rows) == 1 {
		if c, ok := toInt(countRes.Rows[0]["c"]); ok {
			count = c
		}
	}

	return &types.DBInfo{
		Type:       types.MySQL,
		Version:    version,
		Database:   s.a.cfg.Database,
		TableCount: count,
	}, nil
}

func (s *schemaAnalyzer) GetSchema(ctx context.Context) (*types.SchemaInfo, error) {
	tables, err := s.GetTables(ctx)
	if err != nil {
		return nil, err
	}
	views, err := s.GetViews(ctx)
	if err != nil {
		return nil, err
	}
	procs, err := s.GetProcedures(ctx)
	if err != nil {
		return nil, err
	}
	return &types.SchemaInfo{Tables: tables, Views: views, Procedures: procs}, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case []byte:
		var n int64
		if _, err := fmt.Sscanf(string(t), "%d", &n); err == nil {
			return n, true
		}
	case sql.NullInt64:
		if t.Valid {
			return t.Int64, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	n, ok := toInt64(v)
	return int(n), ok
}
