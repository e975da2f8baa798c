// Package services orchestrates imports, analyses and their side effects.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"gastos/internal/amqp"
	"gastos/internal/analyzer"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/log"
	"gastos/internal/sources"
	"gastos/internal/storage"
)

var (
	ErrReadOnly              = errors.New("record source does not store datasets")
	ErrSnapshotsUnavailable  = errors.New("record source does not store snapshots")
	ErrQueueUnavailable      = errors.New("analysis queue not configured")
	ErrNoRecords             = errors.New("no records to import")
	ErrDatasetNameRequired   = errors.New("dataset name is required")
	ErrAnalysisNotConfigured = errors.New("analysis service not configured")
)

// SnapshotStore persists analysis results.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, datasetID string, result *analyzer.AnalysisResult, generatedAt time.Time) (int64, error)
	LatestSnapshot(ctx context.Context, datasetID string) (*storage.Snapshot, error)
}

// RequestPublisher queues analysis requests for the worker.
type RequestPublisher interface {
	PublishAnalysisRequest(ctx context.Context, msg *amqp.AnalysisRequestMessage) error
}

// AnalysisService coordinates record sources, the analyzer, the result
// cache and the analysis queue. Only Source and Analyzer are required.
type AnalysisService struct {
	source    sources.RecordSource
	datasets  sources.DatasetStore
	snapshots SnapshotStore
	publisher RequestPublisher
	analyzer  *analyzer.Analyzer
	cache     cache.Cache[*analyzer.AnalysisResult]
	chunkSize int
	logger    *log.Logger
	events    *log.StructuredLogger
	closers   []io.Closer
}

type Options struct {
	Source    sources.RecordSource
	Datasets  sources.DatasetStore
	Snapshots SnapshotStore
	Publisher RequestPublisher
	Analyzer  *analyzer.Analyzer
	Cache     cache.Cache[*analyzer.AnalysisResult]
	ChunkSize int
	Logger    *log.Logger
	// Closers are released by Close in order.
	Closers []io.Closer
}

func NewAnalysisService(opts Options) (*AnalysisService, error) {
	if opts.Source == nil || opts.Analyzer == nil {
		return nil, ErrAnalysisNotConfigured
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &AnalysisService{
		source:    opts.Source,
		datasets:  opts.Datasets,
		snapshots: opts.Snapshots,
		publisher: opts.Publisher,
		analyzer:  opts.Analyzer,
		cache:     opts.Cache,
		chunkSize: opts.ChunkSize,
		logger:    logger.WithComponent(log.ComponentAnalyzer),
		events:    log.NewStructuredLogger(logger),
		closers:   opts.Closers,
	}, nil
}

// CanStore reports whether imports and dataset deletion are available.
func (s *AnalysisService) CanStore() bool { return s.datasets != nil }

// ImportCSV parses a CSV export and stores it as a new dataset.
func (s *AnalysisService) ImportCSV(ctx context.Context, name string, r io.Reader) (core.Dataset, ingest.ParseReport, error) {
	if s.datasets == nil {
		return core.Dataset{}, ingest.ParseReport{}, ErrReadOnly
	}
	records, report, err := ingest.ParseCSV(r)
	if err != nil {
		return core.Dataset{}, report, fmt.Errorf("parse csv: %w", err)
	}
	ds, err := s.ImportRecords(ctx, name, core.SourceCSV, records)
	return ds, report, err
}

// ImportRecords stores records as a new dataset and queues its analysis. A
// failed publish is logged and does not fail the import.
func (s *AnalysisService) ImportRecords(ctx context.Context, name string, source core.DatasetSource, records []core.ExpenseRecord) (core.Dataset, error) {
	if s.datasets == nil {
		return core.Dataset{}, ErrReadOnly
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Dataset{}, ErrDatasetNameRequired
	}
	if len(records) == 0 {
		return core.Dataset{}, ErrNoRecords
	}

	ds := core.Dataset{
		ID:        uuid.NewString(),
		Name:      name,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.datasets.CreateDataset(ctx, ds); err != nil {
		return core.Dataset{}, fmt.Errorf("create dataset: %w", err)
	}
	if err := s.datasets.InsertRecords(ctx, ds.ID, records); err != nil {
		if delErr := s.datasets.DeleteDataset(ctx, ds.ID); delErr != nil {
			s.logger.ErrorContext(ctx, "Failed to remove partial dataset", log.FieldDatasetID, ds.ID, log.FieldError, delErr)
		}
		return core.Dataset{}, fmt.Errorf("insert records: %w", err)
	}
	ds.RecordCount = len(records)
	s.invalidate(ds.ID)

	s.logger.InfoContext(ctx, "Dataset imported", log.NewFields().
		WithDataset(ds.ID, ds.RecordCount).
		WithOperation(log.OpImport).ToSlice()...)

	if s.publisher != nil {
		msg := amqp.NewAnalysisRequestMessage(core.RecordQuery{DatasetID: ds.ID}, false)
		if err := s.publisher.PublishAnalysisRequest(ctx, msg); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish analysis request", log.FieldDatasetID, ds.ID, log.FieldError, err)
		}
	}
	return ds, nil
}

// Analyze returns the analysis of the records selected by q, from the cache
// when possible.
func (s *AnalysisService) Analyze(ctx context.Context, q core.RecordQuery) (*analyzer.AnalysisResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	key := q.CacheKey()
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			s.logger.DebugContext(ctx, "Analysis served from cache", log.FieldDatasetID, q.DatasetID, log.FieldCacheHit, true)
			return res, nil
		}
	}

	records, err := s.source.FetchRecords(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	res, err := s.run(ctx, q.DatasetID, records)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(key, res)
	}
	return res, nil
}

// AnalyzeRecords analyzes records supplied by the caller without caching.
func (s *AnalysisService) AnalyzeRecords(ctx context.Context, records []core.ExpenseRecord) (*analyzer.AnalysisResult, error) {
	if records == nil {
		records = []core.ExpenseRecord{}
	}
	return s.run(ctx, "", records)
}

func (s *AnalysisService) run(ctx context.Context, datasetID string, records []core.ExpenseRecord) (*analyzer.AnalysisResult, error) {
	start := time.Now()
	res, err := s.analyzer.AnalyzeChunked(ctx, records, s.chunkSize)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	counts := res.CountBySeverity()
	s.events.LogAnalysisCompleted(ctx, datasetID, len(records), len(res.Alerts), counts[analyzer.SeverityHigh],
		len(res.Legislators), len(res.Suppliers), time.Since(start).Milliseconds())
	return res, nil
}

// RequestAnalysis queues an asynchronous analysis and returns its request id.
func (s *AnalysisService) RequestAnalysis(ctx context.Context, q core.RecordQuery, export bool) (string, error) {
	if s.publisher == nil {
		return "", ErrQueueUnavailable
	}
	if err := q.Validate(); err != nil {
		return "", err
	}
	if q.DatasetID != "" && s.datasets != nil {
		if _, err := s.datasets.GetDataset(ctx, q.DatasetID); err != nil {
			return "", err
		}
	}
	msg := amqp.NewAnalysisRequestMessage(q, export)
	if err := s.publisher.PublishAnalysisRequest(ctx, msg); err != nil {
		return "", fmt.Errorf("publish analysis request: %w", err)
	}
	return msg.RequestID, nil
}

func (s *AnalysisService) SaveSnapshot(ctx context.Context, datasetID string, result *analyzer.AnalysisResult) (int64, error) {
	if s.snapshots == nil {
		return 0, ErrSnapshotsUnavailable
	}
	return s.snapshots.SaveSnapshot(ctx, datasetID, result, time.Now().UTC())
}

func (s *AnalysisService) LatestSnapshot(ctx context.Context, datasetID string) (*storage.Snapshot, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsUnavailable
	}
	return s.snapshots.LatestSnapshot(ctx, datasetID)
}

func (s *AnalysisService) ListDatasets(ctx context.Context) ([]core.Dataset, error) {
	if lister, ok := s.source.(sources.DatasetLister); ok {
		return lister.ListDatasets(ctx)
	}
	return []core.Dataset{}, nil
}

func (s *AnalysisService) GetDataset(ctx context.Context, id string) (core.Dataset, error) {
	if s.datasets == nil {
		return core.Dataset{}, ErrReadOnly
	}
	return s.datasets.GetDataset(ctx, id)
}

func (s *AnalysisService) DeleteDataset(ctx context.Context, id string) error {
	if s.datasets == nil {
		return ErrReadOnly
	}
	if err := s.datasets.DeleteDataset(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	s.logger.InfoContext(ctx, "Dataset deleted", log.FieldDatasetID, id, log.FieldOperation, log.OpDelete)
	return nil
}

// invalidate drops cached results of the dataset and of cross-dataset queries.
func (s *AnalysisService) invalidate(datasetID string) {
	if s.cache == nil {
		return
	}
	s.cache.DeletePrefix("ds=" + datasetID + "|")
	s.cache.DeletePrefix("ds=|")
}

// CacheStats reports result cache usage; zero when caching is off.
func (s *AnalysisService) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// Close releases the configured closers, collecting every error.
func (s *AnalysisService) Close() error {
	var errs []error
	for _, c := range s.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close analysis service: %w", errors.Join(errs...))
	}
	return nil
}
