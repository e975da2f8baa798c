// Package worker runs queued analyses outside the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/analyzer"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/report"
	"gastos/internal/services"
)

// AnalysisRunner is the part of services.AnalysisService the worker needs.
type AnalysisRunner interface {
	Analyze(ctx context.Context, q core.RecordQuery) (*analyzer.AnalysisResult, error)
	SaveSnapshot(ctx context.Context, datasetID string, result *analyzer.AnalysisResult) (int64, error)
	GetDataset(ctx context.Context, id string) (core.Dataset, error)
}

type SummaryPublisher interface {
	PublishAlertSummary(ctx context.Context, msg *amqp.AlertSummaryMessage) error
}

type Config struct {
	// ExportAll exports every analysis, not only requests that ask for it.
	ExportAll bool
	// TopLegislators bounds the legislators listed in a summary.
	TopLegislators int
}

// AnalysisWorker handles analysis requests delivered over AMQP.
type AnalysisWorker struct {
	runner    AnalysisRunner
	publisher SummaryPublisher
	reports   report.ReportWriter
	cfg       Config
	logger    *log.Logger
}

func NewAnalysisWorker(runner AnalysisRunner, publisher SummaryPublisher, reports report.ReportWriter, cfg Config, logger *log.Logger) *AnalysisWorker {
	if cfg.TopLegislators <= 0 {
		cfg.TopLegislators = 10
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AnalysisWorker{
		runner:    runner,
		publisher: publisher,
		reports:   reports,
		cfg:       cfg,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleAnalysisRequest fetches and analyzes the requested records, stores a
// snapshot, exports a report and publishes a summary. Only fetch, analysis
// and snapshot failures are returned; the delivery is then requeued.
func (w *AnalysisWorker) HandleAnalysisRequest(ctx context.Context, msg *amqp.AnalysisRequestMessage) error {
	w.logger.InfoContext(ctx, "Processing analysis request",
		log.FieldRequestID, msg.RequestID,
		log.FieldDatasetID, msg.DatasetID)

	result, err := w.runner.Analyze(ctx, msg.Query())
	if errors.Is(err, core.ErrNotFound) {
		w.logger.WarnContext(ctx, "Dataset no longer exists, dropping request",
			log.FieldRequestID, msg.RequestID, log.FieldDatasetID, msg.DatasetID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("analyze request %s: %w", msg.RequestID, err)
	}

	summary := amqp.NewAlertSummaryMessage(msg.RequestID, msg.DatasetID, result, w.cfg.TopLegislators)

	if msg.DatasetID != "" {
		id, err := w.runner.SaveSnapshot(ctx, msg.DatasetID, result)
		switch {
		case errors.Is(err, services.ErrSnapshotsUnavailable):
			w.logger.DebugContext(ctx, "Snapshots not supported by source, skipping")
		case err != nil:
			return fmt.Errorf("save snapshot: %w", err)
		default:
			summary.SnapshotID = id
		}
	}

	if w.reports != nil && (msg.Export || w.cfg.ExportAll) {
		name := w.reportName(ctx, msg)
		ref, err := w.reports.WriteReport(ctx, name, result)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to export report",
				log.FieldRequestID, msg.RequestID, log.FieldOperation, log.OpExport, log.FieldError, err)
		} else {
			summary.ReportRef = ref
		}
	}

	if w.publisher != nil {
		if err := w.publisher.PublishAlertSummary(ctx, summary); err != nil {
			w.logger.ErrorContext(ctx, "Failed to publish alert summary",
				log.FieldRequestID, msg.RequestID, log.FieldOperation, log.OpPublish, log.FieldError, err)
		}
	}

	w.logger.InfoContext(ctx, "Analysis request completed",
		log.FieldRequestID, msg.RequestID,
		log.FieldDatasetID, msg.DatasetID,
		log.FieldAlerts, summary.Alerts,
		log.FieldHighAlerts, summary.High,
		log.FieldReportRef, summary.ReportRef)
	return nil
}

// reportName prefers the dataset name and falls back to a description of
// the query.
func (w *AnalysisWorker) reportName(ctx context.Context, msg *amqp.AnalysisRequestMessage) string {
	if msg.DatasetID != "" {
		if ds, err := w.runner.GetDataset(ctx, msg.DatasetID); err == nil && ds.Name != "" {
			return ds.Name
		}
	}
	parts := []string{"CEAP"}
	if msg.Year != 0 {
		parts = append(parts, fmt.Sprintf("%d", msg.Year))
	}
	if msg.Month != 0 {
		parts = append(parts, fmt.Sprintf("%02d", msg.Month))
	}
	for _, s := range []string{msg.State, msg.Party, msg.Legislator} {
		if s != "" {
			parts = append(parts, strings.ToUpper(s))
		}
	}
	if len(parts) == 1 {
		parts = append(parts, time.Now().UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, " ")
}
