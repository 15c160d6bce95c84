package mcpserver

import (
	goMCP "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	s.srv.AddTool(goMCP.NewTool("list_databases",
		goMCP.WithDescription("List every configured connection pool with its info and aggregate statistics"),
	), s.handleListDatabases)

	s.srv.AddTool(goMCP.NewTool("database_health_check",
		goMCP.WithDescription("Run a health check against one pool, or every pool if none is named"),
		goMCP.WithString("pool", goMCP.Description("Pool name; omit for an aggregate check of every pool")),
	), s.handleHealthCheck)

	s.srv.AddTool(goMCP.NewTool("execute_query",
		goMCP.WithDescription("Execute a read-only SQL query against a pool"),
		goMCP.WithString("query", goMCP.Required(), goMCP.Description("SQL query; must begin with SELECT/SHOW/DESCRIBE/EXPLAIN/ANALYZE/WITH")),
		goMCP.WithString("database", goMCP.Description("Pool name; omit to use the configured default")),
		goMCP.WithArray("parameters", goMCP.Description("Positional bind parameters")),
	), s.handleExecuteQuery)

	s.srv.AddTool(goMCP.NewTool("natural_language_query",
		goMCP.WithDescription("Translate a natural-language question into SQL and execute it"),
		goMCP.WithString("question", goMCP.Required(), goMCP.Description("Plain-language question about the data")),
		goMCP.WithString("database", goMCP.Description("Pool name; omit to use the configured default")),
		goMCP.WithString("context", goMCP.Description("Optional extra context; accepted but not passed to the translator")),
	), s.handleNaturalLanguageQuery)

	s.srv.AddTool(goMCP.NewTool("cross_database_query",
		goMCP.WithDescription("Run several queries, each against its own pool, concurrently and return labeled results"),
		goMCP.WithArray("queries", goMCP.Required(), goMCP.Description("Array of {pool, sql, alias?}")),
	), s.handleCrossDatabaseQuery)

	s.srv.AddTool(goMCP.NewTool("analyze_query",
		goMCP.WithDescription("Validate a query and return its complexity analysis without executing it"),
		goMCP.WithString("query", goMCP.Required(), goMCP.Description("SQL query to analyze")),
	), s.handleAnalyzeQuery)

	s.srv.AddTool(goMCP.NewTool("explain_query",
		goMCP.WithDescription("Run EXPLAIN for a query against a pool"),
		goMCP.WithString("query", goMCP.Required(), goMCP.Description("SQL query to explain")),
		goMCP.WithString("database", goMCP.Description("Pool name; omit to use the configured default")),
	), s.handleExplainQuery)

	s.srv.AddTool(goMCP.NewTool("analyze_schema",
		goMCP.WithDescription("Return the full schema (tables, views, procedures) for a pool"),
		goMCP.WithString("database", goMCP.Description("Pool name; omit to use the configured default")),
	), s.handleAnalyzeSchema)

	s.srv.AddTool(goMCP.NewTool("profile_table",
		goMCP.WithDescription("Profile a table's data quality: nulls, uniqueness, distributions, outliers"),
		goMCP.WithString("table", goMCP.Required(), goMCP.Description("Table name")),
		goMCP.WithString("database", goMCP.Description("Pool name; omit to use the configured default")),
		goMCP.WithNumber("sampleSize", goMCP.Description("Row sample cap; defaults to the profiler's own sampling strategy")),
	), s.handleProfileTable)

	s.srv.AddTool(goMCP.NewTool("get_table_relationships",
		goMCP.WithDescription("Return the foreign-key relationship map for a pool"),
		goMCP.WithString("database", goMCP.Description("Pool name; omit to use the configured default")),
	), s.handleGetTableRelationships)

	s.srv.AddTool(goMCP.NewTool("clear_schema_cache",
		goMCP.WithDescription("Invalidate cached schema/profile entries, optionally scoped to a regex pattern"),
		goMCP.WithString("pattern", goMCP.Description("Regex over cache keys; omit to clear everything")),
	), s.handleClearSchemaCache)
}
