package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/melkeydev/dbbroker/internal/types"
)

type schemaAnalyzer struct {
	a *Adapter
}

func (s *schemaAnalyzer) schemaFilter(alias string) (string, []any) {
	placeholders := make([]string, len(s.a.schemas))
	args := make([]any, len(s.a.schemas))
	for i, sc := range s.a.schemas {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = sc
	}
	col := "table_schema"
	if alias != "" {
		col = alias + ".table_schema"
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ",")), args
}

func (s *schemaAnalyzer) GetTables(ctx context.Context) ([]types.TableInfo, error) {
	filter, args := s.schemaFilter("")
	q := fmt.Sprintf(`
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND %s
		ORDER BY table_schema, table_name`, filter)

	res, err := s.a.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables := make([]types.TableInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		schema := asString(row["table_schema"])
		name := asString(row["table_name"])
		tbl, err := s.getTableIn(ctx, schema, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *tbl)
	}
	return tables, nil
}

// GetTable resolves an unqualified name against the first configured schema
// ("public" by default); the other configured schemas are not searched. A
// "schema.table" name is looked up in the schema it names.
func (s *schemaAnalyzer) GetTable(ctx context.Context, name string) (*types.TableInfo, error) {
	schema, table := splitQualified(name, s.a.schemas[0])
	return s.getTableIn(ctx, schema, table)
}

func (s *schemaAnalyzer) getTableIn(ctx context.Context, schema, table string) (*types.TableInfo, error) {
	columns, err := s.loadColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	indexes, err := s.loadIndexes(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	fks, err := s.loadForeignKeys(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	tbl := &types.TableInfo{Name: table, Schema: schema, Columns: columns, Indexes: indexes, ForeignKeys: fks}

	const statQ = `
		SELECT n_live_tup
		FROM pg_stat_user_tables
		WHERE schemaname = $1 AND relname = $2`
	if res, err := s.a.Query(ctx, statQ, schema, table); err == nil && len(res.Rows) == 1 {
		if rc, ok := toInt64(res.Rows[0]["n_live_tup"]); ok {
			tbl.RowCount = &rc
		}
	}
	if tbl.RowCount == nil {
		countQ := fmt.Sprintf(`SELECT COUNT(*) AS c FROM %s`, qualify(schema, table))
		if res, err := s.a.Query(ctx, countQ); err == nil && len(res.Rows) == 1 {
			if c, ok := toInt64(res.Rows[0]["c"]); ok {
				tbl.RowCount = &c
			}
		}
	}

	sizeQ := `SELECT pg_total_relation_size($1) AS sz`
	if res, err := s.a.Query(ctx, sizeQ, qualify(schema, table)); err == nil && len(res.Rows) == 1 {
		if sz, ok := toInt64(res.Rows[0]["sz"]); ok {
			tbl.SizeInBytes = &sz
		}
	}

	return tbl, nil
}

func (s *schemaAnalyzer) loadColumns(ctx context.Context, schema, table string) ([]types.ColumnInfo, error) {
	const q = `
		SELECT c.column_name, c.data_type, c.is_nullable, c.column_default,
		       c.character_maximum_length, c.numeric_precision, c.numeric_scale,
		       COALESCE(pgd.description, '') AS comment,
		       EXISTS (
		         SELECT 1 FROM information_schema.key_column_usage k
		         JOIN information_schema.table_constraints tc
		           ON tc.constraint_name = k.constraint_name AND tc.constraint_type = 'PRIMARY KEY'
		         WHERE k.table_schema = c.table_schema AND k.table_name = c.table_name AND k.column_name = c.column_name
		       ) AS is_pk,
		       c.column_default LIKE 'nextval(%%' AS is_serial
		FROM information_schema.columns c
		LEFT JOIN pg_catalog.pg_statio_all_tables st ON st.schemaname = c.table_schema AND st.relname = c.table_name
		LEFT JOIN pg_catalog.pg_description pgd ON pgd.objoid = st.relid AND pgd.objsubid = c.ordinal_position
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`
	res, err := s.a.Query(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	cols := make([]types.ColumnInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		dataType := asString(row["data_type"])
		ci := types.ColumnInfo{
			Name:            asString(row["column_name"]),
			Type:            normalizeNativeName(dataType),
			NativeType:      dataType,
			Nullable:        asString(row["is_nullable"]) == "YES",
			IsPrimaryKey:    asBool(row["is_pk"]),
			IsAutoIncrement: asBool(row["is_serial"]),
			Comment:         asString(row["comment"]),
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

// loadIndexes expands pg_index.indkey per ordinal with a lateral unnest to
// preserve column order (spec.md §4.3).
func (s *schemaAnalyzer) loadIndexes(ctx context.Context, schema, table string) ([]types.IndexInfo, error) {
	const q = `
		SELECT ix.relname AS index_name, a.attname AS column_name, i.indisunique,
		       i.indisprimary, am.amname AS index_type, ordinality
		FROM pg_index i
		JOIN pg_class t ON t.oid = i.indrelid
		JOIN pg_class ix ON ix.oid = i.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_am am ON am.oid = ix.relam
		JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ordinality) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND t.relname = $2
		ORDER BY ix.relname, k.ordinality`
	res, err := s.a.Query(ctx, q, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load indexes: %w", err)
	}
	order := []string{}
	byName := map[string]*types.IndexInfo{}
	for _, row := range res.Rows {
		name := asString(row["index_name"])
		idx, ok := byName[name]
		if !ok {
			idx = &types.IndexInfo{
				Name:      name,
				IsUnique:  asBool(row["indisunique"]),
				IsPrimary: asBool(row["indisprimary"]),
				Type:      asString(row["index_type"]),
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

func (s *schemaAnalyzer) loadForeignKeys(ctx context.Context, schema, table string) ([]types.ForeignKeyInfo, error) {
	const q = `
		SELECT tc.constraint_name, kcu.column_name, ccu.table_name AS referenced_table,
		       ccu.column_name AS referenced_column, kcu.ordinal_position,
		       rc.update_rule, rc.delete_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		JOIN information_schema.referential_constraints rc
		  ON rc.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND tc.table_name = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position`
	res, err := s.a.Query(ctx, q, schema, table)
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
				Name:            name,
				ReferencedTable: asString(row["referenced_table"]),
				OnUpdate:        asString(row["update_rule"]),
				OnDelete:        asString(row["delete_rule"]),
			}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, asString(row["column_name"]))
		fk.ReferencedColumns = append(fk.ReferencedColumns, asString(row["referenced_column"]))
	}
	out := make([]types.ForeignKeyInfo, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (s *schemaAnalyzer) GetViews(ctx context.Context) ([]types.ViewInfo, error) {
	filter, args := s.schemaFilter("")
	q := fmt.Sprintf(`
		SELECT table_schema, table_name, view_definition
		FROM information_schema.views
		WHERE %s
		ORDER BY table_schema, table_name`, filter)
	res, err := s.a.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	views := make([]types.ViewInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		schema := asString(row["table_schema"])
		name := asString(row["table_name"])
		cols, _ := s.loadColumns(ctx, schema, name)
		views = append(views, types.ViewInfo{
			Name: name, Schema: schema,
			Definition: asString(row["view_definition"]),
			Columns:    cols,
		})
	}
	return views, nil
}

// GetProcedures enumerates pg_proc filtered to functions and procedures
// (spec.md §4.3), parsing parameters from pg_get_function_arguments.
func (s *schemaAnalyzer) GetProcedures(ctx context.Context) ([]types.ProcedureInfo, error) {
	const q = `
		SELECT n.nspname AS schema, p.proname, pg_get_function_arguments(p.oid) AS args,
		       pg_get_function_result(p.oid) AS ret
		FROM pg_proc p
		JOIN pg_namespace n ON n.oid = p.pronamespace
		WHERE p.prokind IN ('f','p') AND n.nspname = ANY($1)
		ORDER BY p.proname`
	res, err := s.a.Query(ctx, q, s.a.schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to list procedures: %w", err)
	}
	procs := make([]types.ProcedureInfo, 0, len(res.Rows))
	for _, row := range res.Rows {
		procs = append(procs, types.ProcedureInfo{
			Name:       asString(row["proname"]),
			Schema:     asString(row["schema"]),
			Parameters: parseFunctionArgs(asString(row["args"])),
			ReturnType: asString(row["ret"]),
		})
	}
	return procs, nil
}

func parseFunctionArgs(args string) []types.ProcedureParameter {
	if args == "" {
		return nil
	}
	parts := strings.Split(args, ", ")
	out := make([]types.ProcedureParameter, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		mode := "IN"
		for _, m := range []string{"IN", "OUT", "INOUT", "VARIADIC"} {
			if strings.HasPrefix(p, m+" ") {
				mode = m
				p = strings.TrimSpace(strings.TrimPrefix(p, m+" "))
			}
		}
		fields := strings.SplitN(p, " ", 2)
		if len(fields) == 2 {
			out = append(out, types.ProcedureParameter{Name: fields[0], Type: fields[1], Mode: mode})
		} else {
			out = append(out, types.ProcedureParameter{Type: p, Mode: mode})
		}
	}
	return out
}

func (s *schemaAnalyzer) GetRelationships(ctx context.Context) (*types.RelationshipMap, error) {
	filter, args := s.schemaFilter("tc")
	q := fmt.Sprintf(`
		SELECT tc.table_schema, tc.table_name, ccu.table_schema AS ref_schema, ccu.table_name AS ref_table
		FROM information_schema.table_constraints tc
		JOIN information_schema.constraint_column_usage ccu ON ccu.constraint_name = tc.constraint_name
		WHERE tc.constraint_type = 'FOREIGN KEY' AND %s
		ORDER BY tc.table_schema, tc.table_name`, filter)
	res, err := s.a.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	rm := types.NewRelationshipMap()
	for _, row := range res.Rows {
		key := fmt.Sprintf("%s.%s", asString(row["table_schema"]), asString(row["table_name"]))
		ref := fmt.Sprintf("%s.%s", asString(row["ref_schema"]), asString(row["ref_table"]))
		rm.Add(key, ref)
	}
	return rm, nil
}

func (s *schemaAnalyzer) GetDBInfo(ctx context.Context) (*types.DBInfo, error) {
	version := ""
	if res, err := s.a.Query(ctx, "SHOW server_version"); err == nil && len(res.Rows) == 1 {
		version = asString(res.Rows[0]["server_version"])
	}

	filter, args := s.schemaFilter("")
	countQ := fmt.Sprintf(`SELECT COUNT(*) AS c FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND %s`, filter)
	count := 0
	if res, err := s.a.Query(ctx, countQ, args...); err == nil && len(res.Rows) == 1 {
		if c, ok := toInt(res.Rows[0]["c"]); ok {
			count = c
		}
	}

	var size *int64
	if res, err := s.a.Query(ctx, "SELECT pg_database_size(current_database()) AS sz"); err == nil && len(res.Rows) == 1 {
		if sz, ok := toInt64(res.Rows[0]["sz"]); ok {
			size = &sz
		}
	}

	return &types.DBInfo{Type: types.PostgreSQL, Version: version, Database: s.a.cfg.Database, TableCount: count, SizeInBytes: size}, nil
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

func qualify(schema, table string) string {
	return fmt.Sprintf(`"%s"."%s"`, schema, table)
}

func splitQualified(name, defaultSchema string) (schema, table string) {
	if idx := strings.Index(name, "."); idx >= 0 {
		return name[:idx], name[idx+1:]
	}
	return defaultSchema, name
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

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	n, ok := toInt64(v)
	return int(n), ok
}
