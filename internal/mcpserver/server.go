// Package mcpserver wires the core (manager, executor, dispatcher, schema
// cache, natural-language engine) onto the JSON-RPC tool/resource surface
// spec.md §6 names, using github.com/mark3labs/mcp-go the way the teacher's
// mcp package did — plain tool structs plus small closures over the
// program's shared state.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/dispatcher"
	"github.com/melkeydev/dbbroker/internal/executor"
	"github.com/melkeydev/dbbroker/internal/manager"
	"github.com/melkeydev/dbbroker/internal/nlquery"
	"github.com/melkeydev/dbbroker/internal/schemacache"
)

// Deps bundles everything a tool/resource handler needs. NL is optional —
// natural_language_query returns a not-configured tool error when nil.
type Deps struct {
	Manager    *manager.Manager
	Executor   *executor.Executor
	Dispatcher *dispatcher.Dispatcher
	Cache      *schemacache.Cache
	NL         *nlquery.Engine
	Logger     *zap.Logger
}

// Server owns the mcp-go server instance and the shared deps its handlers
// close over.
type Server struct {
	srv  *server.MCPServer
	deps Deps
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"dbbroker",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, true),
		server.WithLogging(),
	)
	srv := &Server{srv: s, deps: deps}
	srv.registerTools()
	srv.registerResources()
	return srv
}

// ServeStdio blocks serving the MCP protocol over stdin/stdout until the
// transport closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	return server.ServeStdio(s.srv)
}
