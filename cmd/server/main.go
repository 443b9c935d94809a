package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"registry-mcp/internal/api"
	"registry-mcp/internal/authsession"
	"registry-mcp/internal/config"
	"registry-mcp/internal/credstore"
	"registry-mcp/internal/invoker"
	"registry-mcp/internal/logging"
	"registry-mcp/internal/mcpserver"
	"registry-mcp/internal/registry"
	"registry-mcp/internal/repository"
	"registry-mcp/internal/schema"
	"registry-mcp/internal/telemetry"
	"registry-mcp/internal/tls"
	"registry-mcp/internal/workflow"
)

func main() {
	root := &cobra.Command{
		Use:   "registry-mcp",
		Short: "MCP agent for guarded metadata registry access",
	}

	var stdio bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (SSE over HTTP, or stdio with --stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(stdio)
		},
	}
	serve.Flags().BoolVar(&stdio, "stdio", false, "serve MCP over stdin/stdout instead of HTTP")
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(stdio bool) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}
	logger.Info("Configuration loaded",
		"issuer", cfg.Auth.Issuer,
		"client_id", cfg.Auth.ClientID,
		"registry_api", cfg.Registry.APIBase,
		"config_file", viper.ConfigFileUsed(),
	)

	logger.Info("Starting Registry Connector")

	// Audit store init failure is the one fatal storage error; everything
	// after startup degrades per call instead of crashing.
	audit, err := repository.NewSQLiteStore(cfg.Audit.Path)
	if err != nil {
		logger.Error("Failed to open audit store", "error", err)
		log.Fatalf("Audit store initialization failed: %v", err)
	}
	defer audit.Close()

	store := credstore.New()
	auth := authsession.New(cfg, store, logger)
	client := registry.NewClient(cfg, logger)

	metrics, err := telemetry.NewInvocationMetrics()
	if err != nil {
		logger.Warn("invocation metrics disabled", "error", err)
	}
	inv := invoker.New(auth, client, audit, metrics, logger)
	schemas := schema.NewRegistry()
	engine := workflow.NewEngine(schemas, inv, inv, logger)

	mcpSrv := mcpserver.NewServer(auth, client, inv, engine, schemas, logger)

	if stdio {
		logger.Info("Serving MCP over stdio")
		return mcpSrv.ServeStdio()
	}

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("registry-mcp"))

	// REST surface: health plus the audit history.
	apiHandler := api.NewHandler(audit)
	e.GET("/healthz", echo.WrapHandler(http.HandlerFunc(apiHandler.HandleHealth)))
	e.GET("/api/v1/history", echo.WrapHandler(http.HandlerFunc(apiHandler.HandleHistory)))

	// Mount MCP protocol handlers
	mcpHandlers := http.NewServeMux()
	mcpserver.MountHTTPHandlers(mcpHandlers, mcpSrv.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers))
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.ListenAddr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}
