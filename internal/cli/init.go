// Package cli provides common initialization for the gastos commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gastos/internal/analyzer"
	"gastos/internal/backend"
	"gastos/internal/cache"
	"gastos/internal/config"
	"gastos/internal/log"
	"gastos/internal/services"
	"gastos/internal/storage"
)

// ShutdownTimeout bounds graceful shutdown after SIGINT or SIGTERM.
const ShutdownTimeout = 30 * time.Second

// cacheCleanupInterval is how often expired analysis results are dropped.
const cacheCleanupInterval = time.Minute

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the application logger from LOG_LEVEL and LOG_FORMAT
// and installs it as the slog default.
func SetupLogger(cfg *config.Config) *log.Logger {
	return setupLogger(cfg, os.Stdout)
}

func setupLogger(cfg *config.Config, out io.Writer) *log.Logger {
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(cfg.LogLevel)
	logCfg.Format = cfg.LogFormat
	logCfg.Output = out
	logger := log.New(logCfg)
	log.SetDefault(logger)
	return logger
}

// LoadConfig loads the .env file and environment, sets up logging and
// validates the result. Invalid configuration exits the process.
func LoadConfig() (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite opens the SQLite repository, applying migrations.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.WithComponent(log.ComponentStorage).Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return repo
}

// App is the analysis stack shared by the server and the worker.
type App struct {
	Service *services.AnalysisService
	Source  *backend.SourceResult
	Caches  *cache.Manager
}

// BuildApp creates the configured record source, the analyzer and the
// cached analysis service. publisher may be nil.
func BuildApp(ctx context.Context, cfg *config.Config, logger *log.Logger, publisher services.RequestPublisher) (*App, error) {
	a, err := analyzer.New(cfg.AnalyzerConfig())
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	src, err := backend.NewFactory(logger).CreateSource(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s source: %w", backendCfg.Type, err)
	}

	results := cache.NewLRUCache[*analyzer.AnalysisResult](cfg.CacheSize, cfg.CacheTTL)
	caches := cache.NewManager(logger.WithComponent(log.ComponentCache))
	caches.Register(results)
	caches.StartCleanup(cacheCleanupInterval)

	opts := services.Options{
		Source:    src.Source,
		Datasets:  src.Datasets,
		Snapshots: src.Snapshots,
		Analyzer:  a,
		Cache:     results,
		ChunkSize: cfg.AnalysisChunkSize,
		Publisher: publisher,
		Logger:    logger,
	}
	if src.Cleanup != nil {
		opts.Closers = append(opts.Closers, closerFunc(src.Cleanup))
	}
	svc, err := services.NewAnalysisService(opts)
	if err != nil {
		caches.Stop()
		if src.Cleanup != nil {
			_ = src.Cleanup()
		}
		return nil, err
	}

	logger.Info("Analysis service ready",
		"source", backendCfg.Type,
		"can_store", svc.CanStore(),
		"cache_size", cfg.CacheSize,
		"cache_ttl", cfg.CacheTTL,
		log.FieldChunkSize, cfg.AnalysisChunkSize)
	return &App{Service: svc, Source: src, Caches: caches}, nil
}

// Close stops cache cleanup and releases the record source.
func (a *App) Close() error {
	a.Caches.Stop()
	return a.Service.Close()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// GracefulShutdown returns a context cancelled on SIGINT or SIGTERM. On
// signal, cleanup runs with a context bounded by timeout and done is
// closed when it returns.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context) error) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()
		runCleanup(shutdownCtx, logger, cleanup)
	}()

	return ctx, done
}

func runCleanup(ctx context.Context, logger *log.Logger, cleanup func(ctx context.Context) error) {
	if cleanup == nil {
		return
	}
	err := cleanup(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
		logger.Warn("Shutdown timeout reached", log.FieldError, err)
	case err != nil:
		logger.Error("Shutdown cleanup failed", log.FieldError, err, log.FieldOperation, log.OpShutdown)
	default:
		logger.Info("Shutdown complete", log.FieldOperation, log.OpShutdown)
	}
}

// WaitForShutdown blocks until the context is cancelled and cleanup ends.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
