package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"gastos/internal/amqp"
	"gastos/internal/cli"
	apphttp "gastos/internal/http"
	"gastos/internal/log"
	"gastos/internal/services"
)

func main() {
	cfg, logger := cli.LoadConfig()
	logger.Info("Starting gastos server", "port", cfg.Port, "source", cfg.DataSource, log.FieldOperation, log.OpStartup)

	// The queue is optional for the server; without it POST .../analysis
	// answers 503 and imports skip the follow-up analysis request.
	var (
		amqpClient *amqp.Client
		publisher  services.RequestPublisher
	)
	if cfg.AMQPURL != "" {
		var err error
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPAlertsQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		publisher = amqpClient
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	app, err := cli.BuildApp(context.Background(), cfg, logger, publisher)
	if err != nil {
		logger.Error("Failed to initialize analysis service", log.FieldError, err)
		os.Exit(1)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:            ":" + cfg.Port,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		WritesPerMinute: cfg.WritesPerMinute,
		TrustedProxies:  cfg.TrustedProxies,
		Ready:           app.Source.Pinger,
		Logger:          logger,
	}, app.Service)

	ctx, done := cli.GracefulShutdown(logger, cli.ShutdownTimeout, func(ctx context.Context) error {
		errs := []error{srv.Shutdown(ctx), app.Close()}
		if amqpClient != nil {
			errs = append(errs, amqpClient.Close())
		}
		return errors.Join(errs...)
	})

	logger.Info("HTTP server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
