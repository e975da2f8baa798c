// Package memory keeps exported reports in process memory.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gastos/internal/analyzer"
	"gastos/internal/report"
)

var _ report.ReportWriter = (*Writer)(nil)

// Report is one stored export.
type Report struct {
	Ref    string
	Name   string
	Tables []report.Table
}

type Writer struct {
	mu      sync.Mutex
	reports []Report
}

func New() *Writer {
	return &Writer{}
}

func (w *Writer) WriteReport(ctx context.Context, name string, result *analyzer.AnalysisResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if result == nil {
		return "", errors.New("write report: nil result")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ref := fmt.Sprintf("memory://%s/%d", report.TabBase(name), len(w.reports)+1)
	w.reports = append(w.reports, Report{Ref: ref, Name: name, Tables: report.Tables(name, result)})
	return ref, nil
}

// Reports returns a copy of the stored reports in write order.
func (w *Writer) Reports() []Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Report(nil), w.reports...)
}
