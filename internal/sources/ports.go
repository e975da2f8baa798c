// Package sources defines where expense records come from.
package sources

import (
	"context"

	"gastos/internal/core"
)

// Ports for record providers.
type (
	// RecordSource returns the records matching a query.
	RecordSource interface {
		FetchRecords(ctx context.Context, q core.RecordQuery) ([]core.ExpenseRecord, error)
	}

	// DatasetLister enumerates the datasets a source knows about.
	DatasetLister interface {
		ListDatasets(ctx context.Context) ([]core.Dataset, error)
	}
)

// DatasetStore is a writable source that owns imported datasets.
type DatasetStore interface {
	RecordSource
	DatasetLister
	CreateDataset(ctx context.Context, ds core.Dataset) error
	InsertRecords(ctx context.Context, datasetID string, records []core.ExpenseRecord) error
	GetDataset(ctx context.Context, id string) (core.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
}
