package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gastos/internal/amqp"
	"gastos/internal/analyzer"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/services"
	"gastos/internal/sources/memory"
)

const sampleCSV = "txNomeParlamentar;sgUF;sgPartido;txtDescricao;txtFornecedor;txtCNPJCPF;datEmissao;vlrLiquido;numMes;numAno\n" +
	"Fulano;SP;ABC;COMBUSTÍVEIS E LUBRIFICANTES.;Posto X;12345678000190;2024-03-05;3000,00;3;2024\n" +
	"Beltrano;RJ;XYZ;TELEFONIA;Operadora;98765432000110;2024-03-06;150,00;3;2024\n"

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.AnalysisRequestMessage
}

func (p *fakePublisher) PublishAnalysisRequest(_ context.Context, msg *amqp.AnalysisRequestMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	srv       *Server
	publisher *fakePublisher
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	store := memory.New()
	a, err := analyzer.New(analyzer.DefaultConfig())
	if err != nil {
		t.Fatalf("analyzer.New: %v", err)
	}
	logger := log.New(log.Config{Output: io.Discard})
	pub := &fakePublisher{}
	svc, err := services.NewAnalysisService(services.Options{
		Source:    store,
		Datasets:  store,
		Publisher: pub,
		Analyzer:  a,
		Cache:     cache.NewLRUCache[*analyzer.AnalysisResult](10, time.Minute),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewAnalysisService: %v", err)
	}
	cfg := Config{Addr: ":0", AllowedOrigins: []string{"http://localhost:3000"}, Logger: logger}
	for _, o := range opts {
		o(&cfg)
	}
	srv := NewServer(cfg, svc)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, publisher: pub}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) importSample(t *testing.T) core.Dataset {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/datasets?nome=Marco+2024", strings.NewReader(sampleCSV))
	req.Header.Set("Content-Type", "text/csv")
	rr := e.do(t, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("import status=%d body=%s", rr.Code, rr.Body)
	}
	var resp importResponse
	decode(t, rr, &resp)
	if resp.Report.Accepted != 2 {
		t.Fatalf("report = %+v", resp.Report)
	}
	return resp.Dataset
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" || rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s missing middleware headers: %v", path, rr.Header())
		}
	}

	down := newTestEnv(t, func(c *Config) { c.Ready = fakePinger{err: errors.New("database is locked")} })
	rr := down.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
}

func TestImportAndAnalyzeDataset(t *testing.T) {
	env := newTestEnv(t)
	ds := env.importSample(t)
	if ds.Name != "Marco 2024" || ds.RecordCount != 2 {
		t.Fatalf("dataset = %+v", ds)
	}

	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets", nil))
	var list []core.Dataset
	decode(t, rr, &list)
	if len(list) != 1 || list[0].ID != ds.ID {
		t.Fatalf("list = %+v", list)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+ds.ID+"/analysis", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("analysis status=%d body=%s", rr.Code, rr.Body)
	}
	var res analyzer.AnalysisResult
	decode(t, rr, &res)
	if res.Statistics.Records != 2 || res.Statistics.TotalSpent != 3150 {
		t.Errorf("statistics = %+v", res.Statistics)
	}
	if len(res.Alerts) != 1 || res.Alerts[0].Type != analyzer.AlertOverpricing {
		t.Fatalf("alerts = %+v", res.Alerts)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+ds.ID+"/estatisticas?uf=rj", nil))
	var stats analyzer.Statistics
	decode(t, rr, &stats)
	if stats.Records != 1 || stats.TotalSpent != 150 {
		t.Errorf("filtered statistics = %+v", stats)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+ds.ID+"/deputados?limit=1", nil))
	var legislators []analyzer.LegislatorAnalysis
	decode(t, rr, &legislators)
	if len(legislators) != 1 || legislators[0].Name != "Fulano" {
		t.Errorf("legislators = %+v", legislators)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+ds.ID+"/fornecedores", nil))
	var suppliers []analyzer.SupplierProfile
	decode(t, rr, &suppliers)
	if len(suppliers) != 2 {
		t.Errorf("suppliers = %+v", suppliers)
	}

	if stats := env.srv.svc.CacheStats(); stats.Size == 0 {
		t.Errorf("expected cached analyses, got %+v", stats)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ds := env.importSample(t)

	tests := []struct {
		query string
		code  int
		total int
	}{
		{"", http.StatusOK, 1},
		{"?tipo=OVERPRICING&severidade=MEDIUM", http.StatusOK, 1},
		{"?severidade=HIGH", http.StatusOK, 0},
		{"?deputado=beltrano", http.StatusOK, 0},
		{"?deputado=fulano", http.StatusOK, 1},
		{"?tipo=FRAUD", http.StatusBadRequest, 0},
		{"?mes=13", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+ds.ID+"/alerts"+tt.query, nil))
			if rr.Code != tt.code {
				t.Fatalf("status=%d, want %d (%s)", rr.Code, tt.code, rr.Body)
			}
			if tt.code != http.StatusOK {
				var body errorBody
				decode(t, rr, &body)
				if body.Error == "" {
					t.Error("empty error message")
				}
				return
			}
			var resp alertsResponse
			decode(t, rr, &resp)
			if resp.Total != tt.total || len(resp.Alerts) != tt.total {
				t.Errorf("total = %d, want %d", resp.Total, tt.total)
			}
		})
	}
}

func TestImportErrors(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxUploadBytes = 1024 })

	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		code        int
	}{
		{"missing name", "/api/datasets", "text/csv", sampleCSV, http.StatusBadRequest},
		{"missing column", "/api/datasets?nome=x", "text/csv", "a;b\n1;2\n", http.StatusUnprocessableEntity},
		{"header only", "/api/datasets?nome=x", "text/csv", "txNomeParlamentar;vlrLiquido\n", http.StatusUnprocessableEntity},
		{"unsupported media", "/api/datasets?nome=x", "application/json", "[]", http.StatusUnsupportedMediaType},
		{"too large", "/api/datasets?nome=x", "text/csv", sampleCSV + strings.Repeat(strings.Split(sampleCSV, "\n")[1]+"\n", 20), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := env.do(t, req)
			if rr.Code != tt.code {
				t.Fatalf("status=%d, want %d (%s)", rr.Code, tt.code, rr.Body)
			}
		})
	}
}

func TestImportMultipart(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "despesas-2024.csv")
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write([]byte(sampleCSV))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/datasets", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := env.do(t, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	var resp importResponse
	decode(t, rr, &resp)
	if resp.Dataset.Name != "despesas-2024" || resp.Dataset.RecordCount != 2 {
		t.Errorf("dataset = %+v", resp.Dataset)
	}

	var empty bytes.Buffer
	mw = multipart.NewWriter(&empty)
	_ = mw.WriteField("nome", "sem arquivo")
	_ = mw.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/datasets", &empty)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rr := env.do(t, req); rr.Code != http.StatusBadRequest {
		t.Errorf("missing file status=%d", rr.Code)
	}
}

func TestDeleteDataset(t *testing.T) {
	env := newTestEnv(t)
	ds := env.importSample(t)

	rr := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/datasets/"+ds.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/datasets/"+ds.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	rr = env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/"+ds.ID+"/analysis", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("analysis of deleted dataset status=%d", rr.Code)
	}
}

func TestRequestAnalysis(t *testing.T) {
	env := newTestEnv(t)
	ds := env.importSample(t)
	before := len(env.publisher.msgs)

	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/api/datasets/"+ds.ID+"/analysis?exportar=true&ano=2024", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	var resp requestAcceptedResponse
	decode(t, rr, &resp)
	if resp.RequestID == "" || resp.DatasetID != ds.ID || !resp.Export {
		t.Errorf("response = %+v", resp)
	}
	if len(env.publisher.msgs) != before+1 {
		t.Fatalf("published %d messages", len(env.publisher.msgs)-before)
	}
	msg := env.publisher.msgs[len(env.publisher.msgs)-1]
	if msg.RequestID != resp.RequestID || msg.Year != 2024 || !msg.Export {
		t.Errorf("message = %+v", msg)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodPost, "/api/datasets/nao-existe/analysis", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown dataset status=%d", rr.Code)
	}
}

func TestAnalyzeRecords(t *testing.T) {
	env := newTestEnv(t)
	body := `[{"txNomeParlamentar":"Fulano","txtDescricao":"COMBUSTÍVEIS E LUBRIFICANTES","txtCNPJCPF":"1","vlrLiquido":2500,"numMes":1,"numAno":2024}]`
	rr := env.do(t, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	var res analyzer.AnalysisResult
	decode(t, rr, &res)
	if res.Statistics.TotalSpent != 2500 || len(res.Alerts) != 1 {
		t.Errorf("result = %+v", res)
	}

	rr = env.do(t, httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"not":"an array"}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid body status=%d", rr.Code)
	}
}

func TestSnapshotWithoutStore(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/datasets/x/snapshot", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status=%d, want 503", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, httptest.NewRequest(http.MethodPut, "/api/datasets", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status=%d, want 405", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/datasets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := env.do(t, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/datasets", nil)
	req.Header.Set("Origin", "http://evil.example")
	rr = env.do(t, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Allow-Origin %q for foreign origin", got)
	}
}

func TestWriteRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.WritesPerMinute = 1 })
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`[]`))
		return env.do(t, req).Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first write status=%d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second write status=%d, want 429", code)
	}
	if rr := env.do(t, httptest.NewRequest(http.MethodGet, "/api/cache", nil)); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, status=%d", rr.Code)
	}
}
