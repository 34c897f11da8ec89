// CLAUDE:SUMMARY serve (HTTP API + MCP streamable HTTP + /metrics + source watcher) and mcp (stdio) subcommands.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/french-cities/pkg/api"
	"github.com/hazyhaar/french-cities/pkg/chassis"
)

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := configFlag(fs)
	addr := fs.String("addr", "", "listen address (overrides config)")
	fs.Parse(args)

	// SIGHUP: re-import the postcode table.
	// SIGINT/SIGTERM: graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cfg, logger := openService(ctx, *cfgPath)
	defer svc.Close()
	if *addr != "" {
		cfg.Addr = *addr
	}

	mcpSrv := server.NewMCPServer("french-cities", version, server.WithToolCapabilities(true))
	api.RegisterMCPTools(mcpSrv, svc, "mcp_http", logger)
	router := api.NewRouter(svc, logger, server.NewStreamableHTTPServer(mcpSrv))

	srv, err := chassis.New(chassis.Config{
		Addr:     cfg.Addr,
		TLS:      cfg.TLS.Enabled,
		CertFile: cfg.TLS.CertFile,
		KeyFile:  cfg.TLS.KeyFile,
		HTTP3:    cfg.TLS.HTTP3,
		Handler:  router,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("server setup", "error", err)
		os.Exit(1)
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Info("SIGHUP received, re-importing postcodes")
			if err := svc.Import(ctx, "laposte-hexasmal"); err != nil {
				logger.Error("re-import failed", "error", err)
			}
		}
	}()

	if cfg.CheckSourcesEvery > 0 {
		go svc.WatchSources(ctx)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
}

func cmdMCP(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	cfgPath := configFlag(fs)
	fs.Parse(args)

	svc, _, logger := openService(context.Background(), *cfgPath)
	defer svc.Close()

	mcpSrv := server.NewMCPServer("french-cities", version, server.WithToolCapabilities(true))
	api.RegisterMCPTools(mcpSrv, svc, "mcp_stdio", logger)
	if err := server.ServeStdio(mcpSrv); err != nil {
		logger.Error("mcp stdio", "error", err)
		os.Exit(1)
	}
}
