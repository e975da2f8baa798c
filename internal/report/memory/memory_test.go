package memory

import (
	"context"
	"testing"

	"gastos/internal/analyzer"
)

func TestWriterStoresReports(t *testing.T) {
	w := New()
	ctx := context.Background()

	ref1, err := w.WriteReport(ctx, "CEAP 2023", &analyzer.AnalysisResult{})
	if err != nil {
		t.Fatal(err)
	}
	ref2, _ := w.WriteReport(ctx, "CEAP 2023", &analyzer.AnalysisResult{})
	if ref1 != "memory://CEAP 2023/1" || ref2 != "memory://CEAP 2023/2" {
		t.Errorf("unexpected refs %q %q", ref1, ref2)
	}

	reports := w.Reports()
	if len(reports) != 2 || len(reports[0].Tables) != 3 {
		t.Fatalf("unexpected reports: %+v", reports)
	}

	if _, err := w.WriteReport(ctx, "x", nil); err == nil {
		t.Error("expected error for nil result")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := w.WriteReport(cancelled, "x", &analyzer.AnalysisResult{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
