// Command gastos-import downloads CEAP expenses from the Câmara open-data API
// and stores them as a dataset in the SQLite database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gastos/internal/amqp"
	"gastos/internal/analyzer"
	"gastos/internal/cli"
	"gastos/internal/config"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/services"
	"gastos/internal/sources/camara"
	"gastos/internal/storage"
)

var (
	name       = flag.String("nome", "", "dataset name (default derived from the filters)")
	year       = flag.Int("ano", 0, "year to import (required)")
	month      = flag.Int("mes", 0, "month to import; 0 imports the whole year")
	state      = flag.String("uf", "", "only legislators of this state")
	party      = flag.String("partido", "", "only legislators of this party")
	legislator = flag.String("deputado", "", "only legislators matching this name")
	reset      = flag.Bool("reset", false, "roll back every migration before importing, dropping all stored data")
)

func main() {
	flag.Parse()

	cfg, logger := cli.LoadConfig()
	logger = logger.WithComponent(log.ComponentCamara)
	if *year == 0 {
		logger.Error("The -ano flag is required")
		os.Exit(2)
	}
	q := core.RecordQuery{
		Year:       *year,
		Month:      *month,
		State:      strings.ToUpper(strings.TrimSpace(*state)),
		Party:      strings.ToUpper(strings.TrimSpace(*party)),
		Legislator: strings.TrimSpace(*legislator),
	}
	if err := q.Validate(); err != nil {
		logger.Error("Invalid filter", log.FieldError, err)
		os.Exit(2)
	}
	dsName := strings.TrimSpace(*name)
	if dsName == "" {
		dsName = defaultName(q)
	}

	if *reset {
		if err := storage.RollbackMigrations(cfg.SQLiteDBPath); err != nil {
			logger.Error("Failed to reset database", log.FieldError, err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		logger.Warn("Database reset", "path", cfg.SQLiteDBPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, q, dsName); err != nil {
		logger.Error("Import failed", log.FieldError, err, log.FieldOperation, log.OpImport)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, q core.RecordQuery, dsName string) error {
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	a, err := analyzer.New(cfg.AnalyzerConfig())
	if err != nil {
		_ = repo.Close()
		return fmt.Errorf("create analyzer: %w", err)
	}

	opts := services.Options{
		Source:    repo,
		Datasets:  repo,
		Snapshots: repo,
		Analyzer:  a,
		ChunkSize: cfg.AnalysisChunkSize,
		Logger:    logger,
		Closers:   []io.Closer{repo},
	}
	// With a queue the worker analyzes the new dataset right away.
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPAlertsQueue, logger)
		if err != nil {
			_ = repo.Close()
			return fmt.Errorf("connect amqp: %w", err)
		}
		opts.Publisher = client
		opts.Closers = append(opts.Closers, client)
	}
	svc, err := services.NewAnalysisService(opts)
	if err != nil {
		return errors.Join(err, closeAll(opts.Closers))
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Failed to release resources", log.FieldError, err)
		}
	}()

	api := camara.NewClient(camara.Config{
		BaseURL:     cfg.CamaraAPIURL,
		Concurrency: cfg.CamaraConcurrency,
		Timeout:     cfg.CamaraTimeout,
		Logger:      logger,
	})
	records, err := api.FetchRecords(ctx, q)
	if err != nil {
		return fmt.Errorf("fetch records: %w", err)
	}

	ds, err := svc.ImportRecords(ctx, dsName, core.SourceCamara, records)
	if err != nil {
		return err
	}
	logger.Info("Dataset imported",
		log.FieldDatasetID, ds.ID,
		"name", ds.Name,
		log.FieldRecords, len(records),
		log.FieldOperation, log.OpImport)
	fmt.Println(ds.ID)
	return nil
}

// defaultName builds "camara 2024-03 SP PT" style names from the filters.
func defaultName(q core.RecordQuery) string {
	parts := []string{"camara"}
	if q.Month != 0 {
		parts = append(parts, fmt.Sprintf("%04d-%02d", q.Year, q.Month))
	} else {
		parts = append(parts, fmt.Sprintf("%04d", q.Year))
	}
	for _, p := range []string{q.State, q.Party, q.Legislator} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func closeAll(closers []io.Closer) error {
	var errs []error
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
