// Package backend builds the record source selected by configuration.
package backend

import (
	"context"

	"gastos/internal/services"
	"gastos/internal/sources"
)

// CleanupFunc releases resources held by a source.
type CleanupFunc func() error

// SourceResult bundles a record source with its optional capabilities.
// Datasets and Snapshots are nil when the source cannot provide them.
type SourceResult struct {
	Source    sources.RecordSource
	Datasets  sources.DatasetStore
	Snapshots services.SnapshotStore
	Pinger    Pinger
	Cleanup   CleanupFunc
}

// Pinger checks that the underlying store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Factory creates sources based on configuration
type Factory interface {
	CreateSource(ctx context.Context, config Config) (*SourceResult, error)
}

// SourceType represents the type of record source
type SourceType string

const (
	MemorySource SourceType = "memory"
	SQLiteSource SourceType = "sqlite"
	CamaraSource SourceType = "camara"
)

func (st SourceType) String() string {
	return string(st)
}

func (st SourceType) IsValid() bool {
	switch st {
	case MemorySource, SQLiteSource, CamaraSource:
		return true
	default:
		return false
	}
}

// GetSourceTypes returns all valid source types
func GetSourceTypes() []SourceType {
	return []SourceType{MemorySource, SQLiteSource, CamaraSource}
}
