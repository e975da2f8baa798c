package main

import (
	"context"
	"errors"
	"os"

	"gastos/internal/amqp"
	"gastos/internal/cli"
	"gastos/internal/log"
	"gastos/internal/report"
	"gastos/internal/report/google"
	"gastos/internal/worker"
)

func main() {
	cfg, logger := cli.LoadConfig()
	logger.Info("Starting gastos-worker", "source", cfg.DataSource, log.FieldOperation, log.OpStartup)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	app, err := cli.BuildApp(context.Background(), cfg, logger, nil)
	if err != nil {
		logger.Error("Failed to initialize analysis service", log.FieldError, err)
		os.Exit(1)
	}

	// Report export is optional.
	var reports report.ReportWriter
	if cfg.ExportEnabled() {
		exporter, err := google.New(context.Background(), google.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
			Logger:          logger,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err)
			os.Exit(1)
		}
		reports = exporter
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Report export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPAlertsQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}

	w := worker.NewAnalysisWorker(app.Service, amqpClient, reports, worker.Config{
		ExportAll:      cfg.WorkerExportAll,
		TopLegislators: cfg.WorkerTopLegislators,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, func(context.Context) error {
		return errors.Join(amqpClient.Close(), app.Close())
	})

	logger.Info("Consuming analysis requests", "queue", cfg.AMQPQueue)
	if err := amqpClient.ConsumeAnalysisRequests(ctx, w.HandleAnalysisRequest); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		_ = amqpClient.Close()
		_ = app.Close()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
