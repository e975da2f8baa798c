// Package memory keeps expense datasets in process memory.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/sources"
)

var (
	_ sources.DatasetStore = (*Store)(nil)
)

type Store struct {
	mu       sync.RWMutex
	datasets map[string]core.Dataset
	records  map[string][]core.ExpenseRecord
}

func New() *Store {
	return &Store{
		datasets: map[string]core.Dataset{},
		records:  map[string][]core.ExpenseRecord{},
	}
}

// NewFromFiles loads every *.csv file in dir as a dataset named after the file.
// Unreadable files are skipped and reported in the returned error list.
func NewFromFiles(dir string) (*Store, []error) {
	s := New()
	paths, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
	sort.Strings(paths)

	var errs []error
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", p, err))
			continue
		}
		records, _, err := ingest.ParseCSV(f)
		f.Close()
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", p, err))
			continue
		}
		id := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		s.Put(core.Dataset{ID: id, Name: id, Source: core.SourceCSV}, records)
	}
	return s, errs
}

// Put stores or replaces a dataset.
func (s *Store) Put(ds core.Dataset, records []core.ExpenseRecord) {
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	ds.RecordCount = len(records)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[ds.ID] = ds
	s.records[ds.ID] = append([]core.ExpenseRecord(nil), records...)
}

// FetchRecords returns matching records. An empty dataset id searches every
// dataset in id order.
func (s *Store) FetchRecords(ctx context.Context, q core.RecordQuery) ([]core.ExpenseRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := []string{q.DatasetID}
	if q.DatasetID == "" {
		ids = ids[:0]
		for id := range s.records {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	} else if _, ok := s.records[q.DatasetID]; !ok {
		return nil, fmt.Errorf("dataset %s: %w", q.DatasetID, core.ErrNotFound)
	}

	out := make([]core.ExpenseRecord, 0)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range s.records[id] {
			if q.Matches(r) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// ListDatasets returns datasets newest first.
func (s *Store) ListDatasets(_ context.Context) ([]core.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateDataset(_ context.Context, ds core.Dataset) error {
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	ds.RecordCount = 0
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[ds.ID]; ok {
		return fmt.Errorf("dataset %s already exists", ds.ID)
	}
	s.datasets[ds.ID] = ds
	s.records[ds.ID] = nil
	return nil
}

// InsertRecords appends records to an existing dataset.
func (s *Store) InsertRecords(_ context.Context, datasetID string, records []core.ExpenseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[datasetID]
	if !ok {
		return fmt.Errorf("dataset %s: %w", datasetID, core.ErrNotFound)
	}
	s.records[datasetID] = append(s.records[datasetID], records...)
	ds.RecordCount = len(s.records[datasetID])
	s.datasets[datasetID] = ds
	return nil
}

func (s *Store) GetDataset(_ context.Context, id string) (core.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[id]
	if !ok {
		return core.Dataset{}, fmt.Errorf("dataset %s: %w", id, core.ErrNotFound)
	}
	return ds, nil
}

func (s *Store) DeleteDataset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return fmt.Errorf("dataset %s: %w", id, core.ErrNotFound)
	}
	delete(s.datasets, id)
	delete(s.records, id)
	return nil
}
