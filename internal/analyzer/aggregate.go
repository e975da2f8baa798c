package analyzer

import (
	"fmt"
	"sort"
)

type (
	// LegislatorAnalysis summarizes one legislator's spending.
	LegislatorAnalysis struct {
		Name          string          `json:"nome"`
		Party         string          `json:"partido"`
		State         string          `json:"uf"`
		Total         float64         `json:"totalGasto"`
		Transactions  int             `json:"numTransacoes"`
		Average       float64         `json:"mediaTransacao"`
		TopCategories []CategoryShare `json:"topCategorias"`
		Alerts        []Alert         `json:"alertas"`
		Score         int             `json:"scoreSuspeicao"`
	}

	CategoryShare struct {
		Category string  `json:"categoria"`
		Value    float64 `json:"valor"`
		Percent  float64 `json:"percentual"`
	}

	// SupplierProfile summarizes what one supplier received. The bucket of
	// records without a tax id has an empty TaxID.
	SupplierProfile struct {
		TaxID           string   `json:"cnpj"`
		Name            string   `json:"nome"`
		Total           float64  `json:"totalRecebido"`
		Transactions    int      `json:"numTransacoes"`
		LegislatorCount int      `json:"deputadosAtendidos"`
		Legislators     []string `json:"deputados"`
		Average         float64  `json:"mediaTransacao"`
		Score           int      `json:"scoreSuspeicao"`
		Reasons         []string `json:"motivosSuspeita"`
		Categories      []string `json:"categorias"`
	}

	Statistics struct {
		TotalSpent           float64         `json:"totalGasto"`
		Records              int             `json:"numRegistros"`
		Legislators          int             `json:"numDeputados"`
		Suppliers            int             `json:"numFornecedores"`
		AveragePerLegislator float64         `json:"mediaGastoPorDeputado"`
		TopCategories        []CategoryTotal `json:"topCategorias"`
	}

	CategoryTotal struct {
		Category     string  `json:"categoria"`
		Value        float64 `json:"valor"`
		Transactions int     `json:"numTransacoes"`
	}
)

func aggregateLegislators(acc *accumulator, alerts []Alert, cfg Config, th thresholds) []LegislatorAnalysis {
	byName := make(map[string][]Alert)
	for _, a := range alerts {
		if a.Legislator == MultipleLegislators {
			continue
		}
		byName[a.Legislator] = append(byName[a.Legislator], a)
	}

	out := make([]LegislatorAnalysis, 0, len(acc.legislators))
	for name, l := range acc.legislators {
		total := money(l.cents)
		attributed := byName[name]
		if attributed == nil {
			attributed = []Alert{}
		}

		top := sortedCategories(l.categories, cfg.LegislatorTopCategories)
		shares := make([]CategoryShare, 0, len(top))
		for _, c := range top {
			share := CategoryShare{Category: c.name, Value: money(c.cents)}
			if l.cents != 0 {
				share.Percent = round2(float64(c.cents) / float64(l.cents) * 100)
			}
			shares = append(shares, share)
		}

		out = append(out, LegislatorAnalysis{
			Name:          name,
			Party:         l.parties.mode(),
			State:         l.states.mode(),
			Total:         total,
			Transactions:  l.count,
			Average:       round2(total / float64(l.count)),
			TopCategories: shares,
			Alerts:        attributed,
			Score:         legislatorScore(attributed, cfg, th),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Name < b.Name
	})
	return out
}

func legislatorScore(alerts []Alert, cfg Config, th thresholds) int {
	score := 0
	for _, a := range alerts {
		switch a.Severity {
		case SeverityHigh:
			score += cfg.HighWeight
		case SeverityMedium:
			score += cfg.MediumWeight
		case SeverityLow:
			score += cfg.LowWeight
		}
		switch a.Type {
		case AlertOverpricing:
			score += cfg.OverpricingBonus
		case AlertLimitExceeded:
			if cents(a.Value) > th.largeLimitMinimum {
				score += cfg.LargeLimitBonus
			}
		}
	}
	return clamp(score)
}

func aggregateSuppliers(acc *accumulator, cfg Config, th thresholds) []SupplierProfile {
	out := make([]SupplierProfile, 0, len(acc.suppliers)+1)
	for taxID, s := range acc.suppliers {
		p := newProfile(taxID, s)
		legs := len(s.legislators)
		if legs < cfg.MinSupplierDiversity {
			p.Score += cfg.SupplierFewLegislatorsPoints
			p.Reasons = append(p.Reasons, fmt.Sprintf("atende apenas %d deputado(s)", legs))
		}
		if s.cents > th.supplierHighAvg*int64(s.count) {
			p.Score += cfg.SupplierHighAveragePoints
			p.Reasons = append(p.Reasons, fmt.Sprintf("média por transação elevada (R$ %.2f)", p.Average))
		}
		if s.cents > th.largeVolumeTotal && legs < cfg.SupplierLargeVolumeMaxLegislators {
			p.Score += cfg.SupplierLargeVolumePoints
			p.Reasons = append(p.Reasons, fmt.Sprintf("alto volume (R$ %.2f) concentrado em poucos deputados", p.Total))
		}
		p.Score = clamp(p.Score)
		out = append(out, p)
	}
	if acc.noTaxID != nil {
		p := newProfile("", acc.noTaxID)
		if p.Name == "" {
			p.Name = noTaxIDKey
		}
		p.Reasons = append(p.Reasons, "sem CNPJ/CPF informado")
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.TaxID != b.TaxID {
			return a.TaxID < b.TaxID
		}
		return a.Name < b.Name
	})
	return out
}

func newProfile(taxID string, s *supplierAcc) SupplierProfile {
	total := money(s.cents)
	names := s.legislators.sorted()
	return SupplierProfile{
		TaxID:           taxID,
		Name:            s.names.mode(),
		Total:           total,
		Transactions:    s.count,
		LegislatorCount: len(names),
		Legislators:     names,
		Average:         round2(total / float64(s.count)),
		Reasons:         []string{},
		Categories:      s.categories.sorted(),
	}
}

func computeStatistics(acc *accumulator, cfg Config) Statistics {
	st := Statistics{
		TotalSpent:  money(acc.total),
		Records:     acc.records,
		Legislators: len(acc.legislators),
		Suppliers:   len(acc.suppliers),
	}
	if st.Legislators > 0 {
		st.AveragePerLegislator = round2(st.TotalSpent / float64(st.Legislators))
	}
	top := sortedCategories(acc.categories, cfg.StatsTopCategories)
	st.TopCategories = make([]CategoryTotal, 0, len(top))
	for _, c := range top {
		st.TopCategories = append(st.TopCategories, CategoryTotal{
			Category:     c.name,
			Value:        money(c.cents),
			Transactions: c.count,
		})
	}
	return st
}

type namedCategory struct {
	name string
	categoryAcc
}

func sortedCategories(m map[string]*categoryAcc, n int) []namedCategory {
	out := make([]namedCategory, 0, len(m))
	for k, c := range m {
		out = append(out, namedCategory{name: k, categoryAcc: *c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].cents != out[j].cents {
			return out[i].cents > out[j].cents
		}
		return out[i].name < out[j].name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
