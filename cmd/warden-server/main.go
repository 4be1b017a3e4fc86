package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearline-ai/warden/internal/api"
	"github.com/clearline-ai/warden/internal/audit"
	"github.com/clearline-ai/warden/internal/config"
	"github.com/clearline-ai/warden/internal/oversight"
	"github.com/clearline-ai/warden/internal/review"
	"github.com/clearline-ai/warden/internal/scanner"
	"github.com/clearline-ai/warden/internal/store"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Config — fail fast on anything malformed
	cfg, err := config.Load(os.Getenv("WARDEN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}

	// Logger
	logger := mustBuildLogger(cfg.Logging.Level)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("starting warden server",
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.Bool("llm_guard", cfg.Scanner.EnableLLMGuard),
		zap.Float64("confidence_threshold", cfg.Oversight.ConfidenceThreshold),
		zap.Float64("amount_threshold", cfg.Oversight.AmountThreshold),
		zap.Float64("sample_rate_tier_2", cfg.Oversight.SampleRateTier2),
	)

	// Pattern store — built-in rules plus the optional patterns file.
	// A bad file at startup is fatal; at reload time it falls back to
	// the last known-good set instead.
	patterns := scanner.NewPatternStore(logger)
	if cfg.Scanner.PatternsFile != "" {
		if err := patterns.LoadFile(cfg.Scanner.PatternsFile); err != nil {
			logger.Fatal("failed to load patterns file", zap.Error(err))
		}
	}

	// Audit sink — ClickHouse or LogSink fallback
	var sink audit.Sink
	if dsn := cfg.Server.ClickHouseDSN; dsn != "" {
		chSink, err := audit.NewClickHouseSink(dsn, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log sink",
				zap.Error(err),
			)
			sink = audit.NewLogSink(logger)
		} else {
			sink = chSink
			logger.Info("clickhouse audit sink connected")
		}
	} else {
		sink = audit.NewLogSink(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log sink")
	}
	defer sink.Close()

	// Audit reader (for escalation stats and decision browsing)
	var reader *audit.Reader
	if dsn := cfg.Server.ClickHouseDSN; dsn != "" {
		var err error
		reader, err = audit.NewReader(dsn, logger)
		if err != nil {
			logger.Warn("clickhouse reader connection failed", zap.Error(err))
		} else {
			defer func() { _ = reader.Close() }()
			logger.Info("clickhouse reader connected")
		}
	}

	// Layer 3 semantic classifier — only wired when enabled
	var semantic *scanner.SemanticClassifier
	if cfg.Scanner.EnableLLMGuard {
		semantic = scanner.NewSemanticClassifier(
			cfg.Scanner.ClassifierEndpoint,
			cfg.ClassifierTimeout(),
			logger,
		)
		logger.Info("semantic classifier enabled",
			zap.String("endpoint", cfg.Scanner.ClassifierEndpoint),
			zap.Bool("fail_open", *cfg.Scanner.FailOpen),
		)
	}

	scn := scanner.New(scanner.Config{
		Patterns:    patterns,
		Semantic:    semantic,
		Sink:        sink,
		MaxInputLen: cfg.Scanner.MaxInputLength,
		FailOpen:    *cfg.Scanner.FailOpen,
		Logger:      logger,
	})

	classifier := oversight.NewClassifier(oversight.Config{
		ConfidenceThreshold: cfg.Oversight.ConfidenceThreshold,
		AmountThreshold:     cfg.Oversight.AmountThreshold,
		SampleRateTier2:     cfg.Oversight.SampleRateTier2,
		Tier1Actions:        cfg.Oversight.Tier1Actions,
		HighRiskDisputes:    cfg.Oversight.HighRiskDisputeTypes,
		DefaultTier:         oversight.ParseTier(cfg.Oversight.DefaultTier),
	}, sink, logger)

	// Postgres pool (required: reviews and API keys live here)
	if cfg.Server.PostgresDSN == "" {
		logger.Fatal("POSTGRES_DSN is required")
	}
	db, err := sql.Open("pgx", cfg.Server.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		logger.Fatal("failed to ping postgres", zap.Error(err))
	}
	pgStore := store.New(db)
	logger.Info("postgres connected")

	reviews := review.NewQueue(pgStore, logger)

	deps := &api.Dependencies{
		Store:     pgStore,
		Scanner:   scn,
		Oversight: classifier,
		Reviews:   reviews,
		Reader:    reader,
		Sink:      sink,
		Logger:    logger,
		CacheTTL:  cfg.AuthCacheTTL(),
	}
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("warden server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
