package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/analyzer"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/sources/memory"
	"gastos/internal/storage"
)

const sampleCSV = `txNomeParlamentar;sgUF;sgPartido;txtDescricao;txtFornecedor;txtCNPJCPF;vlrLiquido;numMes;numAno
Fulano;SP;PX;COMBUSTÍVEIS E LUBRIFICANTES;Posto A;11.111.111/0001-11;5500,00;3;2023
Beltrano;RJ;PY;TELEFONIA;Tel B;22.222.222/0001-22;120,50;3;2023
`

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.AnalysisRequestMessage
	err  error
}

func (p *fakePublisher) PublishAnalysisRequest(_ context.Context, msg *amqp.AnalysisRequestMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

type countingSource struct {
	*memory.Store
	calls int
}

func (c *countingSource) FetchRecords(ctx context.Context, q core.RecordQuery) ([]core.ExpenseRecord, error) {
	c.calls++
	return c.Store.FetchRecords(ctx, q)
}

type fakeSnapshots struct {
	saved map[string]*analyzer.AnalysisResult
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, id string, res *analyzer.AnalysisResult, _ time.Time) (int64, error) {
	if f.saved == nil {
		f.saved = map[string]*analyzer.AnalysisResult{}
	}
	f.saved[id] = res
	return int64(len(f.saved)), nil
}

func (f *fakeSnapshots) LatestSnapshot(_ context.Context, id string) (*storage.Snapshot, error) {
	res, ok := f.saved[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Snapshot{DatasetID: id, Result: res}, nil
}

type failingInsertStore struct {
	*memory.Store
}

func (f failingInsertStore) InsertRecords(context.Context, string, []core.ExpenseRecord) error {
	return errors.New("disk full")
}

func newTestService(t *testing.T, opts Options) *AnalysisService {
	t.Helper()
	if opts.Analyzer == nil {
		a, err := analyzer.New(analyzer.DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		opts.Analyzer = a
	}
	svc, err := NewAnalysisService(opts)
	if err != nil {
		t.Fatalf("NewAnalysisService: %v", err)
	}
	return svc
}

func TestNewAnalysisService_RequiresSourceAndAnalyzer(t *testing.T) {
	if _, err := NewAnalysisService(Options{}); !errors.Is(err, ErrAnalysisNotConfigured) {
		t.Fatalf("expected ErrAnalysisNotConfigured, got %v", err)
	}
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	pub := &fakePublisher{}
	svc := newTestService(t, Options{Source: store, Datasets: store, Publisher: pub})

	ds, report, err := svc.ImportCSV(ctx, "  março  ", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("ImportCSV: %v", err)
	}
	if ds.ID == "" || ds.Name != "março" || ds.RecordCount != 2 || ds.Source != core.SourceCSV {
		t.Errorf("unexpected dataset: %+v", ds)
	}
	if report.Accepted != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].DatasetID != ds.ID {
		t.Errorf("expected one analysis request for %s, got %+v", ds.ID, pub.msgs)
	}

	stored, err := svc.GetDataset(ctx, ds.ID)
	if err != nil || stored.RecordCount != 2 {
		t.Errorf("dataset not stored: %+v err=%v", stored, err)
	}
}

func TestImportCSV_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("read only source", func(t *testing.T) {
		svc := newTestService(t, Options{Source: memory.New()})
		if _, _, err := svc.ImportCSV(ctx, "x", strings.NewReader(sampleCSV)); !errors.Is(err, ErrReadOnly) {
			t.Fatalf("expected ErrReadOnly, got %v", err)
		}
	})

	t.Run("missing column", func(t *testing.T) {
		store := memory.New()
		svc := newTestService(t, Options{Source: store, Datasets: store})
		_, _, err := svc.ImportCSV(ctx, "x", strings.NewReader("foo;bar\n1;2\n"))
		if err == nil || !strings.Contains(err.Error(), "parse csv") {
			t.Fatalf("expected parse error, got %v", err)
		}
	})

	t.Run("header only", func(t *testing.T) {
		store := memory.New()
		svc := newTestService(t, Options{Source: store, Datasets: store})
		_, _, err := svc.ImportCSV(ctx, "x", strings.NewReader("txNomeParlamentar;vlrLiquido\n"))
		if !errors.Is(err, ErrNoRecords) {
			t.Fatalf("expected ErrNoRecords, got %v", err)
		}
	})

	t.Run("blank name", func(t *testing.T) {
		store := memory.New()
		svc := newTestService(t, Options{Source: store, Datasets: store})
		if _, _, err := svc.ImportCSV(ctx, " ", strings.NewReader(sampleCSV)); !errors.Is(err, ErrDatasetNameRequired) {
			t.Fatalf("expected ErrDatasetNameRequired, got %v", err)
		}
	})

	t.Run("publish failure is not fatal", func(t *testing.T) {
		store := memory.New()
		svc := newTestService(t, Options{Source: store, Datasets: store, Publisher: &fakePublisher{err: errors.New("broker down")}})
		if _, _, err := svc.ImportCSV(ctx, "x", strings.NewReader(sampleCSV)); err != nil {
			t.Fatalf("ImportCSV: %v", err)
		}
	})

	t.Run("failed insert removes dataset", func(t *testing.T) {
		store := failingInsertStore{memory.New()}
		svc := newTestService(t, Options{Source: store, Datasets: store})
		if _, _, err := svc.ImportCSV(ctx, "x", strings.NewReader(sampleCSV)); err == nil {
			t.Fatal("expected insert error")
		}
		list, _ := store.ListDatasets(ctx)
		if len(list) != 0 {
			t.Fatalf("partial dataset left behind: %+v", list)
		}
	})
}

func TestAnalyze_UsesCache(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{Store: memory.New()}
	c := cache.NewLRUCache[*analyzer.AnalysisResult](10, time.Minute)
	svc := newTestService(t, Options{Source: src, Datasets: src, Cache: c, ChunkSize: 1})

	ds, _, err := svc.ImportCSV(ctx, "x", strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatal(err)
	}

	q := core.RecordQuery{DatasetID: ds.ID}
	first, err := svc.Analyze(ctx, q)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	second, err := svc.Analyze(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	if first != second || src.calls != 1 {
		t.Fatalf("second call should hit the cache (calls=%d)", src.calls)
	}
	if first.Statistics.Records != 2 || first.Statistics.TotalSpent != 5620.5 {
		t.Errorf("unexpected statistics: %+v", first.Statistics)
	}
	if st := svc.CacheStats(); st.Hits != 1 || st.Misses != 1 {
		t.Errorf("unexpected cache stats: %+v", st)
	}

	if err := svc.DeleteDataset(ctx, ds.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Analyze(ctx, q); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := svc.Analyze(ctx, core.RecordQuery{Month: 13}); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}

func TestAnalyzeRecords(t *testing.T) {
	svc := newTestService(t, Options{Source: memory.New()})
	res, err := svc.AnalyzeRecords(context.Background(), nil)
	if err != nil {
		t.Fatalf("AnalyzeRecords(nil): %v", err)
	}
	if len(res.Alerts) != 0 || res.Statistics.Records != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}

	res, err = svc.AnalyzeRecords(context.Background(), []core.ExpenseRecord{
		{LegislatorName: "Fulano", Category: "COMBUSTÍVEIS E LUBRIFICANTES", SupplierTaxID: "1", NetAmount: 2500},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Alerts) == 0 || res.Alerts[0].Type != analyzer.AlertOverpricing {
		t.Errorf("expected overpricing alert, got %+v", res.Alerts)
	}
}

func TestRequestAnalysis(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	store.Put(core.Dataset{ID: "ds"}, nil)

	if _, err := newTestService(t, Options{Source: store}).RequestAnalysis(ctx, core.RecordQuery{}, false); !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}

	pub := &fakePublisher{}
	svc := newTestService(t, Options{Source: store, Datasets: store, Publisher: pub})
	id, err := svc.RequestAnalysis(ctx, core.RecordQuery{DatasetID: "ds", Year: 2023}, true)
	if err != nil {
		t.Fatalf("RequestAnalysis: %v", err)
	}
	if len(pub.msgs) != 1 || pub.msgs[0].RequestID != id || !pub.msgs[0].Export || pub.msgs[0].Year != 2023 {
		t.Errorf("unexpected published message: %+v", pub.msgs)
	}
	if _, err := svc.RequestAnalysis(ctx, core.RecordQuery{DatasetID: "missing"}, false); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Options{Source: memory.New()})
	if _, err := svc.SaveSnapshot(ctx, "ds", &analyzer.AnalysisResult{}); !errors.Is(err, ErrSnapshotsUnavailable) {
		t.Fatalf("expected ErrSnapshotsUnavailable, got %v", err)
	}
	if _, err := svc.LatestSnapshot(ctx, "ds"); !errors.Is(err, ErrSnapshotsUnavailable) {
		t.Fatalf("expected ErrSnapshotsUnavailable, got %v", err)
	}

	snaps := &fakeSnapshots{}
	svc = newTestService(t, Options{Source: memory.New(), Snapshots: snaps})
	res := &analyzer.AnalysisResult{}
	if _, err := svc.SaveSnapshot(ctx, "ds", res); err != nil {
		t.Fatal(err)
	}
	got, err := svc.LatestSnapshot(ctx, "ds")
	if err != nil || got.Result != res {
		t.Fatalf("unexpected snapshot %+v err=%v", got, err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClose(t *testing.T) {
	var closed []string
	svc := newTestService(t, Options{Source: memory.New()})
	if err := svc.Close(); err != nil {
		t.Fatalf("Close with no closers: %v", err)
	}

	svc = newTestService(t, Options{
		Source: memory.New(),
		Closers: []io.Closer{
			closerFunc(func() error { closed = append(closed, "a"); return nil }),
			nil,
			closerFunc(func() error { closed = append(closed, "b"); return errors.New("boom") }),
		},
	})
	err := svc.Close()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if strings.Join(closed, ",") != "a,b" {
		t.Errorf("closers ran as %v", closed)
	}
}
