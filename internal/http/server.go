// Package http serves the JSON API used by the expense dashboard.
package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"

	"gastos/internal/analyzer"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
	"gastos/internal/storage"
)

// Service is the application surface the handlers need.
type Service interface {
	ImportCSV(ctx context.Context, name string, r io.Reader) (core.Dataset, ingest.ParseReport, error)
	ListDatasets(ctx context.Context) ([]core.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
	Analyze(ctx context.Context, q core.RecordQuery) (*analyzer.AnalysisResult, error)
	AnalyzeRecords(ctx context.Context, records []core.ExpenseRecord) (*analyzer.AnalysisResult, error)
	RequestAnalysis(ctx context.Context, q core.RecordQuery, export bool) (string, error)
	LatestSnapshot(ctx context.Context, datasetID string) (*storage.Snapshot, error)
	CacheStats() cache.Stats
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxUploadBytes int64
	// WritesPerMinute limits POST and DELETE requests per client IP.
	WritesPerMinute int
	// TrustedProxies are CIDRs allowed to set X-Forwarded-For, in addition
	// to loopback and private networks.
	TrustedProxies []string
	Ready          Pinger
	Logger         *log.Logger
}

const defaultMaxUploadBytes = 50 << 20

type Server struct {
	http.Server
	svc       Service
	ready     Pinger
	maxUpload int64
	logger    *log.Logger

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(cfg Config, svc Service) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}

	s := &Server{
		svc:       svc,
		ready:     cfg.Ready,
		maxUpload: cfg.MaxUploadBytes,
		logger:    logger,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.WritesPerMinute}),
		detector:  detector,
		tracer:    trace.NewMiddleware(detector.ExtractClientIP, logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyzeRecords)
	mux.HandleFunc("GET /api/datasets", s.handleListDatasets)
	mux.HandleFunc("POST /api/datasets", s.handleImportDataset)
	mux.HandleFunc("DELETE /api/datasets/{id}", s.handleDeleteDataset)
	mux.HandleFunc("GET /api/datasets/{id}/analysis", s.handleAnalysis)
	mux.HandleFunc("POST /api/datasets/{id}/analysis", s.handleRequestAnalysis)
	mux.HandleFunc("GET /api/datasets/{id}/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/datasets/{id}/deputados", s.handleLegislators)
	mux.HandleFunc("GET /api/datasets/{id}/fornecedores", s.handleSuppliers)
	mux.HandleFunc("GET /api/datasets/{id}/estatisticas", s.handleStatistics)
	mux.HandleFunc("GET /api/datasets/{id}/snapshot", s.handleSnapshot)

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", trace.RequestIDHeader},
		ExposedHeaders:   []string{trace.RequestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	limit := s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, detector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
	}, http.MethodPost, http.MethodDelete)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = corsHandler(handler)
	handler = detector.Middleware(logger.WithComponent(log.ComponentSecurity))(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func isCSVUpload(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "text/csv") ||
		strings.HasPrefix(ct, "application/csv") ||
		strings.HasPrefix(ct, "text/plain") ||
		strings.HasPrefix(ct, "application/octet-stream")
}
