package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gastos/internal/core"
)

func TestStoreFetchRecordsFilters(t *testing.T) {
	s := New()
	s.Put(core.Dataset{ID: "a"}, []core.ExpenseRecord{
		{LegislatorName: "Fulano", State: "SP", Year: 2023, Month: 1, NetAmount: 10},
		{LegislatorName: "Beltrano", State: "RJ", Year: 2023, Month: 2, NetAmount: 20},
	})
	s.Put(core.Dataset{ID: "b"}, []core.ExpenseRecord{
		{LegislatorName: "Fulano", State: "SP", Year: 2024, Month: 1, NetAmount: 30},
	})

	ctx := context.Background()
	got, err := s.FetchRecords(ctx, core.RecordQuery{DatasetID: "a"})
	if err != nil || len(got) != 2 {
		t.Fatalf("unexpected records: %v err=%v", got, err)
	}
	got, err = s.FetchRecords(ctx, core.RecordQuery{Legislator: "fulano"})
	if err != nil || len(got) != 2 {
		t.Fatalf("expected records from every dataset: %v err=%v", got, err)
	}
	got, err = s.FetchRecords(ctx, core.RecordQuery{DatasetID: "a", State: "rj"})
	if err != nil || len(got) != 1 || got[0].LegislatorName != "Beltrano" {
		t.Fatalf("unexpected state filter: %v err=%v", got, err)
	}
	if _, err := s.FetchRecords(ctx, core.RecordQuery{DatasetID: "missing"}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FetchRecords(ctx, core.RecordQuery{Month: 13}); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}

	list, _ := s.ListDatasets(ctx)
	if len(list) != 2 || list[0].RecordCount == 0 {
		t.Fatalf("unexpected datasets: %+v", list)
	}
}

func TestNewFromFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	mustWrite("2023.csv", "txNomeParlamentar;vlrLiquido\nFulano;10,00\nBeltrano;5\n")
	mustWrite("broken.csv", "foo;bar\n1;2\n")
	mustWrite("notes.txt", "ignored")

	s, errs := NewFromFiles(dir)
	if len(errs) != 1 {
		t.Fatalf("expected one parse error, got %v", errs)
	}
	got, err := s.FetchRecords(context.Background(), core.RecordQuery{DatasetID: "2023"})
	if err != nil || len(got) != 2 || got[0].NetAmount != 10 {
		t.Fatalf("unexpected records: %v err=%v", got, err)
	}
}

func TestStoreDatasetLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.CreateDataset(ctx, core.Dataset{ID: "x", Name: "x", Source: core.SourceCSV}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateDataset(ctx, core.Dataset{ID: "x"}); err == nil {
		t.Fatal("expected duplicate error")
	}
	recs := []core.ExpenseRecord{{LegislatorName: "Fulano", NetAmount: 1}, {LegislatorName: "Beltrano", NetAmount: 2}}
	if err := s.InsertRecords(ctx, "x", recs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertRecords(ctx, "x", recs[:1]); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if err := s.InsertRecords(ctx, "missing", recs); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ds, err := s.GetDataset(ctx, "x")
	if err != nil || ds.RecordCount != 3 || ds.CreatedAt.IsZero() {
		t.Fatalf("unexpected dataset %+v err=%v", ds, err)
	}

	if err := s.DeleteDataset(ctx, "x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetDataset(ctx, "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteDataset(ctx, "x"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
