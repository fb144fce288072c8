package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"chatrelay/internal/api"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/observability"
	"chatrelay/internal/storage"
	"chatrelay/internal/uploads"
	"chatrelay/internal/upstream"
)

func main() {
	// Load .env if present; real environment variables take precedence.
	_ = godotenv.Load(".env")

	logCfg := observability.ConfigFromEnv()
	logger := observability.NewLogger(logCfg)

	configPath := flag.String("config", envOr("CHATRELAY_CONFIG", ""), "path to YAML config file")
	addrFlag := flag.String("addr", "", "listen address (host:port); overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Initialize Sentry if DSN is provided
	sentryDSN := os.Getenv("SENTRY_DSN")
	sentryEnabled := false
	if sentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			Environment:      envOr("SENTRY_ENVIRONMENT", "production"),
			Release:          envOr("APP_VERSION", "dev"),
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			logger.Warn("sentry initialization failed", "error", err)
		} else {
			logger.Info("sentry initialized",
				"environment", envOr("SENTRY_ENVIRONMENT", "production"),
				"release", envOr("APP_VERSION", "dev"),
			)
			sentryEnabled = true
		}
	}

	metrics := observability.NewMetrics("chatrelay")

	store, err := storage.NewFileStore(cfg.ConversationsDir, logger)
	if err != nil {
		logger.Error("failed to initialize conversation store", "dir", cfg.ConversationsDir, "error", err)
		os.Exit(1)
	}
	saver, err := uploads.NewSaver(cfg.UploadsDir, logger)
	if err != nil {
		logger.Error("failed to initialize upload directory", "dir", cfg.UploadsDir, "error", err)
		os.Exit(1)
	}

	client := upstream.NewClient(cfg.Upstream, logger, metrics)
	chatSvc := chat.NewService(store, client, logger)

	router := mux.NewRouter()
	srv := api.NewServer(router, store, chatSvc, saver, cfg.Upstream.Mode, logger, metrics)
	srv.RegisterRoutes()

	rateCfg := api.DefaultRateLimitConfig()
	if rateCfg.Enabled() {
		logger.Info("rate limiting configured",
			"requests_per_second", rateCfg.RequestsPerSecond,
			"burst", rateCfg.Burst,
		)
	} else {
		logger.Info("rate limiting disabled")
	}

	// Order: metrics (outermost) -> requestID -> logging -> CORS -> rate limiting
	handler := api.ApplyMiddlewares(
		router,
		api.MetricsMiddleware(metrics),
		api.RequestIDMiddleware(),
		api.LoggingMiddleware(logger.Slog()),
		api.CORSMiddleware(),
		api.RateLimitMiddleware(rateCfg, logger.Slog()),
	)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: streaming responses stay open for the
		// duration of the upstream generation.
		IdleTimeout: 60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("chatrelay listening",
			"addr", cfg.Addr,
			"mode", cfg.Upstream.Mode,
			"conversations_dir", cfg.ConversationsDir,
		)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	}

	logger.Info("shutting down server", "timeout", "15s")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	} else {
		logger.Info("server stopped gracefully")
	}

	if sentryEnabled {
		logger.Info("flushing sentry events", "deadline", "2s")
		sentry.Flush(2 * time.Second)
	}

	logger.Info("shutdown complete")
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
