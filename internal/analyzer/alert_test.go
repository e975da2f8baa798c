package analyzer

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestAnalysisResultJSONRoundTrip(t *testing.T) {
	a := newTestAnalyzer(t, DefaultConfig())
	want, err := a.Analyze(randomRecords(7, 400))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got AnalysisResult
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Statistics.TotalSpent != want.Statistics.TotalSpent {
		t.Fatalf("total drifted: %v != %v", got.Statistics.TotalSpent, want.Statistics.TotalSpent)
	}
	for i := range want.Legislators {
		if got.Legislators[i].Total != want.Legislators[i].Total {
			t.Fatalf("legislator %s total drifted", want.Legislators[i].Name)
		}
	}
	if !reflect.DeepEqual(want, &got) {
		t.Fatalf("round trip changed the result")
	}
}

func TestAlertJSONFieldNames(t *testing.T) {
	al := Alert{
		ID:       "LIM-1",
		Type:     AlertLimitExceeded,
		Severity: SeverityHigh,
		Rule:     RuleMonthlyLimit,
		Details: LimitExceededDetail{
			Month: 5, Year: 2023, Limit: 45000, PercentExceeded: 10, Transactions: 3,
			TopTransactions: []MonthlyTransaction{{Supplier: "X", Value: 1, Category: "Y"}},
		},
	}
	data, err := json.Marshal(al)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"tipo"`, `"severidade"`, `"deputado"`, `"detalhes"`, `"mes"`, `"ano"`, `"limite"`, `"percentualExcedido"`, `"numTransacoes"`, `"dataDeteccao"`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("expected %s in %s", field, data)
		}
	}
}

func TestAlertUnmarshalDetailVariants(t *testing.T) {
	cases := []struct {
		rule Rule
		body string
		want Detail
	}{
		{RuleFuelSinglePurchase, `{"fornecedor":"Posto","cnpj":"1","percentualAcima":50}`, OverpricingDetail{Supplier: "Posto", TaxID: "1", PercentAbove: 50}},
		{RuleFuelAverage, `{"numTransacoes":3,"mediaTransacao":1200,"fornecedores":2}`, FuelAverageDetail{Transactions: 3, Average: 1200, Suppliers: 2}},
		{RuleSupplierLowDiversity, `{"cnpj":"1","deputadosAtendidos":["A","B"]}`, SupplierDiversityDetail{TaxID: "1", Legislators: []string{"A", "B"}}},
		{RuleSupplierHighAverage, `{"cnpj":"1","mediaTransacao":20000}`, SupplierAverageDetail{TaxID: "1", Average: 20000}},
		{RuleDailyBurst, `{"data":"2023-01-01","fornecedores":["X"],"categorias":["Y"]}`, TemporalDetail{Date: "2023-01-01", Suppliers: []string{"X"}, Categories: []string{"Y"}}},
		{RuleRepeatedAmount, `{"ocorrencias":10,"deputados":4,"fornecedores":1,"descricoes":["Z"]}`, RepeatedAmountDetail{Occurrences: 10, Legislators: 4, Suppliers: 1, Descriptions: []string{"Z"}}},
	}
	for _, tc := range cases {
		var al Alert
		body := `{"id":"x","regra":"` + string(tc.rule) + `","detalhes":` + tc.body + `}`
		if err := json.Unmarshal([]byte(body), &al); err != nil {
			t.Fatalf("%s: %v", tc.rule, err)
		}
		if !reflect.DeepEqual(al.Details, tc.want) {
			t.Fatalf("%s: expected %#v, got %#v", tc.rule, tc.want, al.Details)
		}
		if al.Details.Rule() != tc.rule {
			t.Fatalf("%s: variant reports rule %s", tc.rule, al.Details.Rule())
		}
	}
}

func TestAlertUnmarshalRejectsUnknownRule(t *testing.T) {
	var al Alert
	if err := json.Unmarshal([]byte(`{"id":"x","regra":"nope","detalhes":{}}`), &al); err == nil {
		t.Fatalf("expected error for unknown rule")
	}
	if err := json.Unmarshal([]byte(`{"id":"x","regra":"nope"}`), &al); err != nil {
		t.Fatalf("alerts without details should decode: %v", err)
	}
}

func TestAlertIDIsStable(t *testing.T) {
	a := alertID(RuleMonthlyLimit, "Fulano", "2023", "5")
	b := alertID(RuleMonthlyLimit, "Fulano", "2023", "5")
	c := alertID(RuleMonthlyLimit, "Fulano", "20235", "")
	if a != b {
		t.Fatalf("ids differ for the same key")
	}
	if a == c {
		t.Fatalf("key parts must be separated")
	}
	if !strings.HasPrefix(a, "LIM-") {
		t.Fatalf("unexpected prefix: %s", a)
	}
}
