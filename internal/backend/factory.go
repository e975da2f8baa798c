package backend

import (
	"context"
	"fmt"

	"gastos/internal/log"
	"gastos/internal/sources/camara"
	"gastos/internal/sources/memory"
	"gastos/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateSource implements Factory.CreateSource
func (f *DefaultFactory) CreateSource(ctx context.Context, config Config) (*SourceResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteSource:
		return f.createSQLiteSource(config)
	case CamaraSource:
		return f.createCamaraSource(config)
	case MemorySource:
		return f.createMemorySource(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteSource(config Config) (*SourceResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite source", "db_path", config.SQLiteDBPath)

	return &SourceResult{
		Source:    repo,
		Datasets:  repo,
		Snapshots: repo,
		Pinger:    repo,
		Cleanup:   repo.Close,
	}, nil
}

func (f *DefaultFactory) createCamaraSource(config Config) (*SourceResult, error) {
	client := camara.NewClient(camara.Config{
		BaseURL:     config.CamaraAPIURL,
		Concurrency: config.CamaraConcurrency,
		Timeout:     config.CamaraTimeout,
		Logger:      f.logger.WithComponent(log.ComponentCamara),
	})

	f.logger.Info("Initialized Câmara API source", "base_url", config.CamaraAPIURL)

	return &SourceResult{Source: client}, nil
}

func (f *DefaultFactory) createMemorySource(ctx context.Context, config Config) (*SourceResult, error) {
	dataDir := config.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store, errs := memory.NewFromFiles(dataDir)
	for _, err := range errs {
		f.logger.WarnContext(ctx, "Skipping unreadable dataset file", log.FieldError, err)
	}
	datasets, _ := store.ListDatasets(ctx)

	f.logger.Info("Initialized memory source", "data_directory", dataDir, "datasets", len(datasets))

	return &SourceResult{
		Source:   store,
		Datasets: store,
	}, nil
}
