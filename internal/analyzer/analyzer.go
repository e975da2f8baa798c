// Package analyzer detects anomalies in parliamentary quota expenses.
//
// Analysis is a pure batch computation: records are folded into grouping
// accumulators (optionally one chunk at a time), the accumulators are merged,
// and the detectors and scorers run once over the merged state. Because the
// merge is a key-wise sum and set union, chunk boundaries and input order never
// change totals, counts, scores or the alert set.
package analyzer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gastos/internal/core"
)

// ErrNilRecords is returned when the record collection itself is nil. An
// empty slice is a valid input.
var ErrNilRecords = errors.New("nil record collection")

// AnalysisResult is the output of one analysis run.
type AnalysisResult struct {
	Alerts      []Alert              `json:"alertas"`
	Legislators []LegislatorAnalysis `json:"deputados"`
	Suppliers   []SupplierProfile    `json:"fornecedores"`
	Statistics  Statistics           `json:"estatisticas"`
}

// Analyzer holds configuration only and is safe for concurrent use.
type Analyzer struct {
	cfg Config
	th  thresholds
	now func() time.Time
}

// Option customizes an Analyzer built by New.
type Option func(*Analyzer)

// WithClock sets the source of alert detection timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// New validates cfg and builds an Analyzer.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{
		cfg: cfg,
		th:  compile(cfg),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the configuration the analyzer was built with.
func (a *Analyzer) Config() Config { return a.cfg }

// Analyze runs every detector over records in a single pass.
func (a *Analyzer) Analyze(records []core.ExpenseRecord) (*AnalysisResult, error) {
	return a.AnalyzeChunked(context.Background(), records, 0)
}

// AnalyzeChunked folds records chunkSize at a time into separate accumulators
// and merges them. The context is checked between chunks. A chunkSize <= 0
// analyzes everything as one chunk.
func (a *Analyzer) AnalyzeChunked(ctx context.Context, records []core.ExpenseRecord, chunkSize int) (*AnalysisResult, error) {
	if records == nil {
		return nil, ErrNilRecords
	}
	if chunkSize <= 0 || chunkSize > len(records) {
		chunkSize = len(records)
	}

	acc := newAccumulator(a.cfg.MonthlyTopTransactions)
	for start := 0; start < len(records); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+chunkSize, len(records))
		chunk := newAccumulator(a.cfg.MonthlyTopTransactions)
		for _, r := range records[start:end] {
			name := strings.TrimSpace(r.LegislatorName)
			if name == "" || a.th.isBloc(name) {
				continue
			}
			chunk.add(r, name, a.th)
		}
		acc.merge(chunk)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return a.finish(acc), nil
}

func (a *Analyzer) finish(acc *accumulator) *AnalysisResult {
	now := a.now()
	var alerts []Alert
	for _, detect := range detectors {
		alerts = append(alerts, detect(acc, a.cfg, a.th, now)...)
	}
	alerts = sortAlerts(alerts)

	return &AnalysisResult{
		Alerts:      alerts,
		Legislators: aggregateLegislators(acc, alerts, a.cfg, a.th),
		Suppliers:   aggregateSuppliers(acc, a.cfg, a.th),
		Statistics:  computeStatistics(acc, a.cfg),
	}
}

// sortAlerts orders alerts by severity, descending value and id, dropping
// repeated ids.
func sortAlerts(alerts []Alert) []Alert {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() < b.Severity.rank()
		}
		if a.Value != b.Value {
			return a.Value > b.Value
		}
		return a.ID < b.ID
	})
	out := make([]Alert, 0, len(alerts))
	seen := make(map[string]struct{}, len(alerts))
	for _, al := range alerts {
		if _, ok := seen[al.ID]; ok {
			continue
		}
		seen[al.ID] = struct{}{}
		out = append(out, al)
	}
	return out
}

// CountBySeverity tallies alerts per severity.
func (r *AnalysisResult) CountBySeverity() map[Severity]int {
	counts := map[Severity]int{SeverityHigh: 0, SeverityMedium: 0, SeverityLow: 0}
	for _, a := range r.Alerts {
		counts[a.Severity]++
	}
	return counts
}

// FilterAlerts returns alerts matching every non-empty filter.
func (r *AnalysisResult) FilterAlerts(typ AlertType, sev Severity, legislator string) []Alert {
	out := make([]Alert, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		if typ != "" && a.Type != typ {
			continue
		}
		if sev != "" && a.Severity != sev {
			continue
		}
		if legislator != "" && !strings.EqualFold(a.Legislator, legislator) {
			continue
		}
		out = append(out, a)
	}
	return out
}
