package main

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"framechat/internal/v1/config"
	"framechat/internal/v1/health"
	"framechat/internal/v1/logging"
	"framechat/internal/v1/server"
	"framechat/internal/v1/store"
	"framechat/internal/v1/tracing"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	// --- Tracing Initialization (Optional) ---
	if cfg.OTELCollectorAddr != "" {
		tp, err := tracing.InitProvider(ctx, "framechat", cfg.OTELCollectorAddr, cfg.DevelopmentMode)
		if err != nil {
			slog.Error("Failed to initialize tracing, continuing without it", "error", err)
		} else {
			slog.Info("✅ Tracing initialized", "collector", cfg.OTELCollectorAddr)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- User Store ---
	users, err := store.New(cfg.UserDBPath, cfg.SessionSecret)
	if err != nil {
		slog.Error("Failed to load user database", "error", err, "path", cfg.UserDBPath)
		os.Exit(1)
	}

	// --- TLS ---
	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		slog.Error("Failed to load TLS certificate pair", "error", err)
		os.Exit(1)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	// --- Chat Server ---
	srv := server.New(server.Options{
		Addr:          cfg.Addr(),
		TLSConfig:     tlsConfig,
		UserStore:     users,
		MaxConcurrent: cfg.MaxConcurrent,
		StatsInterval: time.Duration(cfg.StatsReportSeconds) * time.Second,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// --- Operations Endpoint (health, stats, metrics) ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(corsConfig))

	healthHandler := health.NewHandler(users, srv)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/stats", healthHandler.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	opsServer := &http.Server{
		Addr:    cfg.OpsAddr(),
		Handler: router,
	}
	go func() {
		slog.Info("Operations endpoint listening", "addr", cfg.OpsAddr())
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Operations endpoint failed", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			slog.Error("Chat server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Chat server shutdown failed", "error", err)
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Operations endpoint shutdown failed", "error", err)
	}

	slog.Info("Server stopped")
}
