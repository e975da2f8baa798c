// Package report exports analysis results to external destinations.
package report

import (
	"context"

	"gastos/internal/analyzer"
)

// ReportWriter publishes a result under a name and returns a reference to
// where it was written.
type ReportWriter interface {
	WriteReport(ctx context.Context, name string, result *analyzer.AnalysisResult) (ref string, err error)
}
