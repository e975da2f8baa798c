package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseJSON(t *testing.T) {
	body := `[
		{"txNomeParlamentar": "Fulano", "sgUF": "SP", "sgPartido": "ABC",
		 "txtDescricao": "COMBUSTÍVEIS E LUBRIFICANTES.", "txtCNPJCPF": "12.345.678/0001-90",
		 "vlrLiquido": 100.5, "vlrDocumento": "1.234,56", "numMes": 3, "numAno": 2024,
		 "datEmissao": "2024-03-05T00:00:00"},
		{"deputado": "Beltrano", "valor_liquido": "abc", "mes": "4", "ano": 2024, "extra": {"x": 1}}
	]`

	records, report, err := ParseJSON(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if len(records) != 2 || report.Rows != 2 || report.Accepted != 2 {
		t.Fatalf("records=%d report=%+v", len(records), report)
	}
	if report.Coerced != 1 {
		t.Errorf("Coerced = %d, want 1", report.Coerced)
	}

	r := records[0]
	if r.LegislatorName != "Fulano" || r.State != "SP" || r.Party != "ABC" {
		t.Errorf("identity fields = %+v", r)
	}
	if r.SupplierTaxID != "12345678000190" {
		t.Errorf("SupplierTaxID = %q", r.SupplierTaxID)
	}
	if r.NetAmount != 100.5 {
		t.Errorf("NetAmount = %v, want 100.5", r.NetAmount)
	}
	if r.GrossAmount != 1234.56 {
		t.Errorf("GrossAmount = %v, want 1234.56", r.GrossAmount)
	}
	if r.Month != 3 || r.Year != 2024 {
		t.Errorf("reference month = %d/%d", r.Month, r.Year)
	}
	if !r.IssueDate.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("IssueDate = %v", r.IssueDate)
	}

	b := records[1]
	if b.LegislatorName != "Beltrano" || b.NetAmount != 0 || b.Month != 4 || b.Year != 2024 {
		t.Errorf("second record = %+v", b)
	}
}

func TestParseJSONInvalid(t *testing.T) {
	for _, body := range []string{``, `{"a": 1}`, `null`, `[1, 2]`} {
		if _, _, err := ParseJSON(strings.NewReader(body)); !errors.Is(err, ErrInvalidJSON) {
			t.Errorf("ParseJSON(%q) error = %v, want ErrInvalidJSON", body, err)
		}
	}
}

func TestParseJSONEmptyArray(t *testing.T) {
	records, _, err := ParseJSON(strings.NewReader(`[]`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("records = %#v, want empty non-nil", records)
	}
}
