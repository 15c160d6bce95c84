package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	goMCP "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/schemacache"
)

// registerResources wires the pool-independent "database://connections"
// resource. The pool- and table-scoped resources (schema/tables/table/
// profile) are registered per pool once the pool's tables are known — see
// RegisterPoolResources — since mcp-go resources are concrete URIs, not
// templates.
func (s *Server) registerResources() {
	s.srv.AddResource(goMCP.NewResource(
		"database://connections",
		"Connections",
		goMCP.WithResourceDescription("Every configured connection pool's public info"),
		goMCP.WithMIMEType("application/json"),
	), s.readConnections)
}

// RegisterPoolResources registers the schema/tables/table/profile resources
// for every connected pool, using its live table list to enumerate concrete
// URIs. Call this once after Manager.ConnectAll succeeds.
func (s *Server) RegisterPoolResources(ctx context.Context) {
	for _, name := range s.deps.Manager.GetConnectionNames() {
		pool := name
		a, err := s.deps.Manager.GetConnection(pool)
		if err != nil {
			continue
		}

		s.srv.AddResource(goMCP.NewResource(
			fmt.Sprintf("database://%s/schema", pool),
			pool+" schema",
			goMCP.WithResourceDescription("Full SchemaInfo (tables, views, procedures) for "+pool),
			goMCP.WithMIMEType("application/json"),
		), s.readSchemaFor(pool))

		s.srv.AddResource(goMCP.NewResource(
			fmt.Sprintf("database://%s/tables", pool),
			pool+" tables",
			goMCP.WithResourceDescription("Just the tables subset of "+pool+"'s schema"),
			goMCP.WithMIMEType("application/json"),
		), s.readTablesFor(pool))

		tables, err := a.GetSchemaAnalyzer().GetTables(ctx)
		if err != nil {
			s.deps.Logger.Warn("could not enumerate tables for resource registration", zap.String("pool", pool), zap.Error(err))
			continue
		}
		for _, t := range tables {
			table := t.Name
			s.srv.AddResource(goMCP.NewResource(
				fmt.Sprintf("database://%s/table/%s", pool, table),
				fmt.Sprintf("%s.%s", pool, table),
				goMCP.WithResourceDescription("TableInfo for "+table+" in "+pool),
				goMCP.WithMIMEType("application/json"),
			), s.readTableFor(pool, table))

			s.srv.AddResource(goMCP.NewResource(
				fmt.Sprintf("database://%s/table/%s/profile", pool, table),
				fmt.Sprintf("%s.%s profile", pool, table),
				goMCP.WithResourceDescription("TableProfile (data quality) for "+table+" in "+pool),
				goMCP.WithMIMEType("application/json"),
			), s.readTableProfileFor(pool, table))
		}
	}
}

func textContents(uri string, v any) ([]goMCP.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []goMCP.ResourceContents{
		goMCP.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) readConnections(ctx context.Context, req goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
	return textContents(req.Params.URI, s.deps.Manager.ConnectionInfos())
}

func (s *Server) readSchemaFor(pool string) func(context.Context, goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
	return func(ctx context.Context, req goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
		a, err := s.deps.Manager.GetConnection(pool)
		if err != nil {
			return nil, err
		}
		v, _, err := s.deps.Cache.GetOrLoad(ctx, schemacache.Key("schema", pool), 0, func(ctx context.Context) (any, error) {
			return a.GetSchemaAnalyzer().GetSchema(ctx)
		})
		if err != nil {
			return nil, err
		}
		return textContents(req.Params.URI, v)
	}
}

func (s *Server) readTablesFor(pool string) func(context.Context, goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
	return func(ctx context.Context, req goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
		a, err := s.deps.Manager.GetConnection(pool)
		if err != nil {
			return nil, err
		}
		tables, err := a.GetSchemaAnalyzer().GetTables(ctx)
		if err != nil {
			return nil, err
		}
		return textContents(req.Params.URI, tables)
	}
}

func (s *Server) readTableFor(pool, table string) func(context.Context, goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
	return func(ctx context.Context, req goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
		a, err := s.deps.Manager.GetConnection(pool)
		if err != nil {
			return nil, err
		}
		v, _, err := s.deps.Cache.GetOrLoad(ctx, schemacache.Key("table", pool, table), 0, func(ctx context.Context) (any, error) {
			return a.GetSchemaAnalyzer().GetTable(ctx, table)
		})
		if err != nil {
			return nil, err
		}
		return textContents(req.Params.URI, v)
	}
}

func (s *Server) readTableProfileFor(pool, table string) func(context.Context, goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
	return func(ctx context.Context, req goMCP.ReadResourceRequest) ([]goMCP.ResourceContents, error) {
		a, err := s.deps.Manager.GetConnection(pool)
		if err != nil {
			return nil, err
		}
		v, _, err := s.deps.Cache.GetOrLoad(ctx, schemacache.Key("profile", pool, table), 0, func(ctx context.Context) (any, error) {
			return a.GetDataProfiler().ProfileTable(ctx, table, 0)
		})
		if err != nil {
			return nil, err
		}
		return textContents(req.Params.URI, v)
	}
}
