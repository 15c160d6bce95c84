package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	goMCP "github.com/mark3labs/mcp-go/mcp"

	"github.com/melkeydev/dbbroker/internal/adapter"
	"github.com/melkeydev/dbbroker/internal/executor"
	"github.com/melkeydev/dbbroker/internal/schemacache"
	"github.com/melkeydev/dbbroker/internal/types"
)

func toJSONResult(v any) (*goMCP.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goMCP.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return goMCP.NewToolResultText(string(data)), nil
}

func toolError(format string, args ...any) (*goMCP.CallToolResult, error) {
	return goMCP.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

func (s *Server) resolvePool(req goMCP.CallToolRequest, argName string) (adapter.Adapter, string, error) {
	name := req.GetString(argName, "")
	a, err := s.deps.Manager.GetConnection(name)
	if err != nil {
		return nil, name, err
	}
	return a, name, nil
}

func (s *Server) handleListDatabases(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	return toJSONResult(map[string]any{
		"connections": s.deps.Manager.ConnectionInfos(),
		"statistics":  s.deps.Manager.Statistics(),
	})
}

func (s *Server) handleHealthCheck(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	pool := req.GetString("pool", "")
	if pool != "" {
		a, err := s.deps.Manager.GetConnection(pool)
		if err != nil {
			return toolError("%v", err)
		}
		return toJSONResult(a.HealthCheck(ctx))
	}
	return toJSONResult(s.deps.Manager.HealthCheckAllSummary(ctx))
}

func (s *Server) handleExecuteQuery(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return toolError("missing query parameter: %v", err)
	}
	a, _, err := s.resolvePool(req, "database")
	if err != nil {
		return toolError("%v", err)
	}
	params := extractParams(req)

	result, err := s.deps.Executor.ExecuteQuery(ctx, a, query, params, executor.Options{})
	if err != nil {
		return toolError("%v", err)
	}
	return toJSONResult(result)
}

func (s *Server) handleNaturalLanguageQuery(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	if s.deps.NL == nil {
		return toolError("natural language query is not configured for this deployment")
	}
	question, err := req.RequireString("question")
	if err != nil {
		return toolError("missing question parameter: %v", err)
	}
	a, poolName, err := s.resolvePool(req, "database")
	if err != nil {
		return toolError("%v", err)
	}

	var schema *types.SchemaInfo
	if cached, ok := s.deps.Cache.Get(schemacache.Key("schema", poolName)); ok {
		if si, ok := cached.(*types.SchemaInfo); ok {
			schema = si
		}
	}
	if schema == nil {
		if si, err := a.GetSchemaAnalyzer().GetSchema(ctx); err == nil {
			schema = si
			s.deps.Cache.Set(schemacache.Key("schema", poolName), si, 0)
		}
	}

	nlResult, err := s.deps.NL.Query(ctx, types.NLRequest{
		Question:      question,
		TargetPool:    poolName,
		SchemaContext: schema,
	})
	if err != nil {
		return toolError("%v", err)
	}

	execResult, err := s.deps.Executor.ExecuteQuery(ctx, a, nlResult.SQL, nil, executor.Options{})
	if err != nil {
		return toolError("generated SQL failed to execute: %v", err)
	}

	return toJSONResult(map[string]any{
		"generatedSQL":  nlResult.SQL,
		"confidence":    nlResult.Confidence,
		"explanation":   nlResult.Explanation,
		"executionTime": execResult.ExecutionTime,
		"rowCount":      execResult.RowCount,
		"rows":          execResult.Rows,
		"fields":        execResult.Fields,
	})
}

func (s *Server) handleCrossDatabaseQuery(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	raw, ok := req.GetArguments()["queries"]
	if !ok {
		return toolError("missing queries parameter")
	}
	items, err := decodeCrossQueryItems(raw)
	if err != nil {
		return toolError("%v", err)
	}
	if len(items) == 0 {
		return toolError("queries must contain at least one entry")
	}
	return toJSONResult(s.deps.Dispatcher.CrossQuery(ctx, items))
}

func (s *Server) handleAnalyzeQuery(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return toolError("missing query parameter: %v", err)
	}
	validation, analysis := s.deps.Executor.AnalyzeQuery(query)
	return toJSONResult(map[string]any{"validation": validation, "analysis": analysis})
}

func (s *Server) handleExplainQuery(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return toolError("missing query parameter: %v", err)
	}
	a, _, err := s.resolvePool(req, "database")
	if err != nil {
		return toolError("%v", err)
	}
	result, err := s.deps.Executor.ExplainQuery(ctx, a, query, nil)
	if err != nil {
		return toolError("%v", err)
	}
	return toJSONResult(result)
}

func (s *Server) handleAnalyzeSchema(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	a, poolName, err := s.resolvePool(req, "database")
	if err != nil {
		return toolError("%v", err)
	}
	key := schemacache.Key("schema", poolName)
	v, _, err := s.deps.Cache.GetOrLoad(ctx, key, 0, func(ctx context.Context) (any, error) {
		return a.GetSchemaAnalyzer().GetSchema(ctx)
	})
	if err != nil {
		return toolError("%v", err)
	}
	return toJSONResult(v)
}

func (s *Server) handleProfileTable(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return toolError("missing table parameter: %v", err)
	}
	a, poolName, err := s.resolvePool(req, "database")
	if err != nil {
		return toolError("%v", err)
	}
	sampleSize := int(req.GetFloat("sampleSize", 0))

	key := schemacache.Key("profile", poolName, table)
	v, _, err := s.deps.Cache.GetOrLoad(ctx, key, 0, func(ctx context.Context) (any, error) {
		return a.GetDataProfiler().ProfileTable(ctx, table, sampleSize)
	})
	if err != nil {
		return toolError("%v", err)
	}
	return toJSONResult(v)
}

func (s *Server) handleGetTableRelationships(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	a, poolName, err := s.resolvePool(req, "database")
	if err != nil {
		return toolError("%v", err)
	}
	key := schemacache.Key("relationships", poolName)
	v, _, err := s.deps.Cache.GetOrLoad(ctx, key, 0, func(ctx context.Context) (any, error) {
		return a.GetSchemaAnalyzer().GetRelationships(ctx)
	})
	if err != nil {
		return toolError("%v", err)
	}
	return toJSONResult(v)
}

func (s *Server) handleClearSchemaCache(ctx context.Context, req goMCP.CallToolRequest) (*goMCP.CallToolResult, error) {
	pattern := req.GetString("pattern", "")
	if pattern == "" {
		s.deps.Cache.Invalidate(nil)
		return toJSONResult(map[string]any{"cleared": "all"})
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return toolError("invalid pattern: %v", err)
	}
	s.deps.Cache.Invalidate(re)
	return toJSONResult(map[string]any{"cleared": pattern})
}

func extractParams(req goMCP.CallToolRequest) []any {
	raw, ok := req.GetArguments()["parameters"]
	if !ok {
		return nil
	}
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	return arr
}

func decodeCrossQueryItems(raw any) ([]types.CrossQueryItem, error) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("queries must be an array")
	}
	items := make([]types.CrossQueryItem, 0, len(arr))
	for i, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("queries[%d] must be an object", i)
		}
		item := types.CrossQueryItem{}
		if p, ok := m["pool"].(string); ok {
			item.Pool = p
		}
		if q, ok := m["sql"].(string); ok {
			item.SQL = q
		}
		if a, ok := m["alias"].(string); ok {
			item.Alias = a
		}
		if item.Pool == "" || item.SQL == "" {
			return nil, fmt.Errorf("queries[%d] requires pool and sql", i)
		}
		items = append(items, item)
	}
	return items, nil
}
