package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/melkeydev/dbbroker/internal/adapterfactory"
	"github.com/melkeydev/dbbroker/internal/config"
	"github.com/melkeydev/dbbroker/internal/dispatcher"
	"github.com/melkeydev/dbbroker/internal/executor"
	"github.com/melkeydev/dbbroker/internal/manager"
	"github.com/melkeydev/dbbroker/internal/mcpserver"
	"github.com/melkeydev/dbbroker/internal/schemacache"
	"github.com/melkeydev/dbbroker/internal/telemetry"
	"github.com/melkeydev/dbbroker/internal/validator"
)

var devLogging bool

func main() {
	root := &cobra.Command{
		Use:   "dbbroker",
		Short: "Multi-database introspection and query broker",
	}
	root.PersistentFlags().BoolVar(&devLogging, "dev", false, "use human-readable development logging instead of JSON")

	root.AddCommand(serveCmd(), healthcheckCmd(), cacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect every configured pool and serve the MCP tool/resource surface over stdio",
		RunE:  runServe,
	}
}

func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Connect every configured pool, run an aggregate health check, and exit",
		RunE:  runHealthcheck,
	}
}

func cacheCmd() *cobra.Command {
	c := &cobra.Command{Use: "cache", Short: "Schema cache administration"}
	c.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Flush the process-local schema cache (only meaningful while a serve process is running; this is a no-op placeholder for a future admin RPC)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(os.Stdout, "the schema cache is process-local; use the clear_schema_cache tool against a running serve process")
			return nil
		},
	})
	return c
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := telemetry.New(devLogging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	cfgResult, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	mgr := manager.New(logger)
	if err := connectAll(cmd.Context(), mgr, cfgResult, logger); err != nil {
		return err
	}

	v := validator.New(validator.DefaultConfig())
	exec := executor.New(executor.DefaultSecurityConfig(), v, 1000, logger)
	disp := dispatcher.New(mgr, v, logger)
	cache := schemacache.New(schemacache.DefaultConfig(), logger)
	defer cache.Destroy()

	srv := mcpserver.New(mcpserver.Deps{
		Manager:    mgr,
		Executor:   exec,
		Dispatcher: disp,
		Cache:      cache,
		Logger:     logger,
	})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv.RegisterPoolResources(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, disconnecting all pools")
	case err := <-errCh:
		if err != nil {
			logger.Error("mcp server exited with error", zap.Error(err))
		}
	}

	cache.Destroy()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.DisconnectAll(shutdownCtx)
	return nil
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	logger := telemetry.Nop()
	cfgResult, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	mgr := manager.New(logger)
	if err := connectAll(cmd.Context(), mgr, cfgResult, logger); err != nil {
		return err
	}
	defer mgr.DisconnectAll(cmd.Context())

	results := mgr.HealthCheckAll(cmd.Context())
	allHealthy := true
	for name, status := range results {
		fmt.Printf("%s: healthy=%v responseTime=%s\n", name, status.IsHealthy, status.ResponseTime)
		if !status.IsHealthy {
			allHealthy = false
		}
	}
	if !allHealthy {
		return fmt.Errorf("one or more pools are unhealthy")
	}
	return nil
}

func connectAll(ctx context.Context, mgr *manager.Manager, cfgResult *config.Result, logger *zap.Logger) error {
	for _, connCfg := range cfgResult.Connections {
		connCfg.Type = adapterfactory.ResolveType(connCfg)
		opts := adapterfactory.ResolveOptions(connCfg)

		a, err := adapterfactory.New(connCfg, logger, opts)
		if err != nil {
			return fmt.Errorf("constructing adapter for pool %q: %w", connCfg.Name, err)
		}
		mgr.Register(connCfg, a)
	}

	if cfgResult.DefaultConnection != "" {
		if err := mgr.SetDefaultConnection(cfgResult.DefaultConnection); err != nil {
			return err
		}
	}

	if err := mgr.ConnectAll(ctx); err != nil {
		return fmt.Errorf("connecting pools: %w", err)
	}
	logger.Info("all pools connected", zap.Strings("pools", mgr.GetConnectionNames()))
	return nil
}
