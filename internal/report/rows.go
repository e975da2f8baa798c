package report

import (
	"fmt"
	"strings"
	"time"

	"gastos/internal/analyzer"
)

// Tab suffixes appended to the report name.
const (
	AlertsTab      = "Alertas"
	LegislatorsTab = "Deputados"
	SuppliersTab   = "Fornecedores"
)

var (
	alertHeader      = []any{"ID", "Tipo", "Severidade", "Deputado", "Descrição", "Valor", "Regra", "Detectado em"}
	legislatorHeader = []any{"Deputado", "Partido", "UF", "Total Gasto", "Transações", "Média", "Score", "Alertas", "Principais Categorias"}
	supplierHeader   = []any{"CNPJ/CPF", "Fornecedor", "Total Recebido", "Transações", "Deputados Atendidos", "Média", "Score", "Motivos"}
)

// Table is one tab of a report: a title and its rows, header first.
type Table struct {
	Title string
	Rows  [][]any
}

// Tables lays a result out as the three report tabs.
func Tables(name string, result *analyzer.AnalysisResult) []Table {
	base := TabBase(name)
	return []Table{
		{Title: base + " " + AlertsTab, Rows: AlertRows(result.Alerts)},
		{Title: base + " " + LegislatorsTab, Rows: LegislatorRows(result.Legislators)},
		{Title: base + " " + SuppliersTab, Rows: SupplierRows(result.Suppliers)},
	}
}

// TabBase strips characters that break A1 range notation and bounds the
// length so suffixed titles stay under the sheet title limit.
func TabBase(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '!', ':', '\'', '[', ']', '*', '?', '/', '\\':
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		name = "Relatório"
	}
	if r := []rune(name); len(r) > 80 {
		name = strings.TrimSpace(string(r[:80]))
	}
	return name
}

func AlertRows(alerts []analyzer.Alert) [][]any {
	rows := make([][]any, 0, len(alerts)+1)
	rows = append(rows, alertHeader)
	for _, a := range alerts {
		detected := ""
		if !a.DetectedAt.IsZero() {
			detected = a.DetectedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []any{
			a.ID, string(a.Type), string(a.Severity), a.Legislator, a.Description,
			a.Value, string(a.Rule), detected,
		})
	}
	return rows
}

func LegislatorRows(legislators []analyzer.LegislatorAnalysis) [][]any {
	rows := make([][]any, 0, len(legislators)+1)
	rows = append(rows, legislatorHeader)
	for _, l := range legislators {
		cats := make([]string, 0, len(l.TopCategories))
		for _, c := range l.TopCategories {
			cats = append(cats, fmt.Sprintf("%s (%.2f%%)", c.Category, c.Percent))
		}
		rows = append(rows, []any{
			l.Name, l.Party, l.State, l.Total, l.Transactions, l.Average,
			l.Score, len(l.Alerts), strings.Join(cats, "; "),
		})
	}
	return rows
}

func SupplierRows(suppliers []analyzer.SupplierProfile) [][]any {
	rows := make([][]any, 0, len(suppliers)+1)
	rows = append(rows, supplierHeader)
	for _, s := range suppliers {
		rows = append(rows, []any{
			s.TaxID, s.Name, s.Total, s.Transactions, s.LegislatorCount, s.Average,
			s.Score, strings.Join(s.Reasons, "; "),
		})
	}
	return rows
}
