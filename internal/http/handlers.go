package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"gastos/internal/analyzer"
	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
)

// multipartMemory is how much of an upload is buffered before spilling to
// temporary files.
const multipartMemory = 8 << 20

type importResponse struct {
	Dataset core.Dataset       `json:"dataset"`
	Report  ingest.ParseReport `json:"relatorio"`
}

type requestAcceptedResponse struct {
	RequestID string `json:"requestId"`
	DatasetID string `json:"datasetId"`
	Export    bool   `json:"exportar"`
}

type alertsResponse struct {
	Total  int                       `json:"total"`
	Counts map[analyzer.Severity]int `json:"porSeveridade"`
	Alerts []analyzer.Alert          `json:"alertas"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type cacheResponse struct {
	Cache     cache.Stats               `json:"cache"`
	RateLimit ratelimit.Metrics         `json:"rateLimit"`
	Requests  trace.Metrics             `json:"requisicoes"`
	Security  security.DetectionMetrics `json:"seguranca"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "unavailable", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheResponse{
		Cache:     s.svc.CacheStats(),
		RateLimit: s.limiter.GetMetrics(),
		Requests:  s.tracer.GetMetrics(),
		Security:  s.detector.GetMetrics(),
	})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.svc.ListDatasets(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []core.Dataset{}
	}
	writeJSON(w, http.StatusOK, datasets)
}

// handleImportDataset accepts a multipart form with a "file" part or a raw
// CSV body. The dataset name comes from the "nome" field or parameter and
// falls back to the uploaded file name.
func (s *Server) handleImportDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	name := sanitizeInput(r.URL.Query().Get(paramName))

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			if statusFor(err) != http.StatusRequestEntityTooLarge {
				err = errors.Join(ErrInvalidParameter, err)
			}
			writeError(w, r, err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, ErrMissingFile)
			return
		}
		defer file.Close()

		if v := sanitizeInput(r.FormValue(paramName)); v != "" {
			name = v
		}
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
		}
		s.importCSV(w, r, name, file)
	case isCSVUpload(mediaType):
		s.importCSV(w, r, name, r.Body)
	default:
		writeError(w, r, ErrUnsupportedMedia)
	}
}

func (s *Server) importCSV(w http.ResponseWriter, r *http.Request, name string, body io.Reader) {
	ds, report, err := s.svc.ImportCSV(r.Context(), name, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/datasets/"+ds.ID+"/analysis").
		Body(importResponse{Dataset: ds, Report: report}).
		Write(w)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteDataset(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// analyze runs the analysis selected by the path and query. It writes the
// error response itself and returns nil on failure.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) *analyzer.AnalysisResult {
	q, err := ParseRecordQuery(r.URL.Query(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	return s.analyzeQuery(w, r, q)
}

func (s *Server) analyzeQuery(w http.ResponseWriter, r *http.Request, q core.RecordQuery) *analyzer.AnalysisResult {
	res, err := s.svc.Analyze(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	return res
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if res := s.analyze(w, r); res != nil {
		writeJSON(w, http.StatusOK, res)
	}
}

// handleAlerts filters alerts by type, severity and legislator. The
// legislator parameter filters alerts here, not records, so supplier and
// repeated-amount alerts still see every legislator.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseAlertFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := ParseRecordQuery(r.URL.Query(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	q.Legislator = ""

	res := s.analyzeQuery(w, r, q)
	if res == nil {
		return
	}
	alerts := res.FilterAlerts(filter.Type, filter.Severity, filter.Legislator)
	filtered := analyzer.AnalysisResult{Alerts: alerts}
	writeJSON(w, http.StatusOK, alertsResponse{
		Total:  len(alerts),
		Counts: filtered.CountBySeverity(),
		Alerts: alerts,
	})
}

func (s *Server) handleLegislators(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res := s.analyze(w, r); res != nil {
		writeJSON(w, http.StatusOK, truncate(res.Legislators, limit))
	}
}

func (s *Server) handleSuppliers(w http.ResponseWriter, r *http.Request) {
	limit, err := ParseLimit(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res := s.analyze(w, r); res != nil {
		writeJSON(w, http.StatusOK, truncate(res.Suppliers, limit))
	}
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if res := s.analyze(w, r); res != nil {
		writeJSON(w, http.StatusOK, res.Statistics)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.LatestSnapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRequestAnalysis queues a worker analysis of the dataset.
func (s *Server) handleRequestAnalysis(w http.ResponseWriter, r *http.Request) {
	q, err := ParseRecordQuery(r.URL.Query(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	export, err := ParseBool(r.URL.Query(), paramExport)
	if err != nil {
		writeError(w, r, err)
		return
	}
	requestID, err := s.svc.RequestAnalysis(r.Context(), q, export)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestAcceptedResponse{
		RequestID: requestID,
		DatasetID: q.DatasetID,
		Export:    export,
	})
}

// handleAnalyzeRecords analyzes a JSON array of records without storing it.
func (s *Server) handleAnalyzeRecords(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	records, _, err := ingest.ParseJSON(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.svc.AnalyzeRecords(r.Context(), records)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
