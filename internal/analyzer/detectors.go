package analyzer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gastos/internal/core"
)

// thresholds is Config compiled for the hot path: money in cents, labels folded.
type thresholds struct {
	sentinels  []sentinel
	fuelMarker string

	fuelSuspicious     int64
	fuelHigh           int64
	fuelAverageCeiling int64
	monthlyLimit       int64
	diversityMinTotal  int64
	supplierHighAvg    int64
	repeatedMinValue   int64
	largeLimitMinimum  int64
	largeVolumeTotal   int64
}

type sentinel struct {
	value  string
	prefix bool
}

func compile(cfg Config) thresholds {
	th := thresholds{
		fuelMarker:         core.Fold(cfg.FuelMarker),
		fuelSuspicious:     cents(cfg.FuelSuspiciousPurchase),
		fuelHigh:           cents(cfg.FuelHighSeverityPurchase),
		fuelAverageCeiling: cents(cfg.FuelAverageCeiling),
		monthlyLimit:       cents(cfg.MonthlyLimit),
		diversityMinTotal:  cents(cfg.SupplierDiversityMinTotal),
		supplierHighAvg:    cents(cfg.SupplierHighAverage),
		repeatedMinValue:   cents(cfg.RepeatedAmountMinValue),
		largeLimitMinimum:  cents(cfg.LargeLimitMinimum),
		largeVolumeTotal:   cents(cfg.SupplierLargeVolumeTotal),
	}
	for _, s := range cfg.BlocSentinels {
		s = core.Fold(s)
		if s == "" {
			continue
		}
		if strings.HasSuffix(s, "*") {
			th.sentinels = append(th.sentinels, sentinel{value: strings.TrimSuffix(s, "*"), prefix: true})
		} else {
			th.sentinels = append(th.sentinels, sentinel{value: s})
		}
	}
	return th
}

func cents(v float64) int64 { return core.MoneyFromFloat(v).Cents }

// isBloc reports whether a legislator name is a non-individual line item.
func (th thresholds) isBloc(name string) bool {
	folded := core.Fold(name)
	for _, s := range th.sentinels {
		if s.prefix && strings.HasPrefix(folded, s.value) {
			return true
		}
		if !s.prefix && folded == s.value {
			return true
		}
	}
	return false
}

func (th thresholds) isFuel(category string) bool {
	return strings.Contains(core.Fold(category), th.fuelMarker)
}

// detector emits alerts from the merged accumulator.
type detector func(acc *accumulator, cfg Config, th thresholds, now time.Time) []Alert

var detectors = []detector{
	detectFuel,
	detectMonthlyLimit,
	detectSuppliers,
	detectTemporal,
	detectRepeatedAmounts,
}

func detectFuel(acc *accumulator, cfg Config, th thresholds, now time.Time) []Alert {
	var alerts []Alert
	for _, p := range acc.fuelAlerts {
		sev := SeverityMedium
		if p.cents > th.fuelHigh {
			sev = SeverityHigh
		}
		value := money(p.cents)
		alerts = append(alerts, Alert{
			ID:         alertID(RuleFuelSinglePurchase, p.legislator, p.taxID, p.date, p.document, strconv.FormatInt(p.cents, 10)),
			Type:       AlertOverpricing,
			Severity:   sev,
			Legislator: p.legislator,
			Description: fmt.Sprintf("Compra de combustível de R$ %.2f acima do limite de R$ %.2f por transação",
				value, cfg.FuelSuspiciousPurchase),
			Value: value,
			Rule:  RuleFuelSinglePurchase,
			Details: OverpricingDetail{
				Supplier:       p.supplier,
				TaxID:          p.taxID,
				Date:           p.date,
				Category:       p.category,
				Document:       p.document,
				ReferencePrice: cfg.FuelReferencePrice,
				PercentAbove:   round2((value - cfg.FuelReferencePrice) / cfg.FuelReferencePrice * 100),
			},
			DetectedAt: now,
		})
	}

	for name, f := range acc.fuel {
		if f.cents <= th.fuelAverageCeiling*int64(f.count) {
			continue
		}
		// A lone purchase above the single purchase threshold is already
		// reported on its own.
		if f.count == 1 && f.cents > th.fuelSuspicious {
			continue
		}
		avg := round2(money(f.cents) / float64(f.count))
		alerts = append(alerts, Alert{
			ID:         alertID(RuleFuelAverage, name),
			Type:       AlertOverpricing,
			Severity:   SeverityHigh,
			Legislator: name,
			Description: fmt.Sprintf("Média de R$ %.2f por abastecimento em %d transações, acima de R$ %.2f",
				avg, f.count, cfg.FuelAverageCeiling),
			Value: avg,
			Rule:  RuleFuelAverage,
			Details: FuelAverageDetail{
				Transactions: f.count,
				Average:      avg,
				Suppliers:    len(f.suppliers),
				Ceiling:      cfg.FuelAverageCeiling,
			},
			DetectedAt: now,
		})
	}
	return alerts
}

func detectMonthlyLimit(acc *accumulator, cfg Config, th thresholds, now time.Time) []Alert {
	var alerts []Alert
	for k, m := range acc.months {
		if m.cents <= th.monthlyLimit {
			continue
		}
		sev := SeverityMedium
		if m.cents > 2*th.monthlyLimit {
			sev = SeverityHigh
		}
		total := money(m.cents)
		top := topN(append([]transaction(nil), m.top...), cfg.MonthlyTopTransactions)
		txs := make([]MonthlyTransaction, 0, len(top))
		for _, t := range top {
			txs = append(txs, MonthlyTransaction{Supplier: t.supplier, Value: money(t.cents), Category: t.category})
		}
		alerts = append(alerts, Alert{
			ID:         alertID(RuleMonthlyLimit, k.legislator, strconv.Itoa(k.year), strconv.Itoa(k.month)),
			Type:       AlertLimitExceeded,
			Severity:   sev,
			Legislator: k.legislator,
			Description: fmt.Sprintf("Gastos de R$ %.2f em %02d/%d excedem o limite mensal de R$ %.2f",
				total, k.month, k.year, cfg.MonthlyLimit),
			Value: total,
			Rule:  RuleMonthlyLimit,
			Details: LimitExceededDetail{
				Month:           k.month,
				Year:            k.year,
				Limit:           cfg.MonthlyLimit,
				PercentExceeded: round2((total - cfg.MonthlyLimit) / cfg.MonthlyLimit * 100),
				Transactions:    m.count,
				TopTransactions: txs,
			},
			DetectedAt: now,
		})
	}
	return alerts
}

func detectSuppliers(acc *accumulator, cfg Config, th thresholds, now time.Time) []Alert {
	var alerts []Alert
	for taxID, s := range acc.suppliers {
		names := s.legislators.sorted()
		subject := MultipleLegislators
		if len(names) == 1 {
			subject = names[0]
		}
		supplier := s.names.mode()
		total := money(s.cents)
		avg := round2(total / float64(s.count))

		if len(names) < cfg.MinSupplierDiversity && s.cents > th.diversityMinTotal {
			sev := SeverityMedium
			if len(names) <= 2 {
				sev = SeverityHigh
			}
			alerts = append(alerts, Alert{
				ID:         alertID(RuleSupplierLowDiversity, taxID),
				Type:       AlertSuspiciousSupplier,
				Severity:   sev,
				Legislator: subject,
				Description: fmt.Sprintf("Fornecedor %s recebeu R$ %.2f de apenas %d deputado(s)",
					displayName(supplier, taxID), total, len(names)),
				Value: total,
				Rule:  RuleSupplierLowDiversity,
				Details: SupplierDiversityDetail{
					TaxID:        taxID,
					Supplier:     supplier,
					Legislators:  names,
					Transactions: s.count,
					Average:      avg,
					Total:        total,
				},
				DetectedAt: now,
			})
		}

		if s.cents > th.supplierHighAvg*int64(s.count) {
			alerts = append(alerts, Alert{
				ID:         alertID(RuleSupplierHighAverage, taxID),
				Type:       AlertSuspiciousSupplier,
				Severity:   SeverityHigh,
				Legislator: subject,
				Description: fmt.Sprintf("Fornecedor %s com média de R$ %.2f por transação",
					displayName(supplier, taxID), avg),
				Value: avg,
				Rule:  RuleSupplierHighAverage,
				Details: SupplierAverageDetail{
					TaxID:        taxID,
					Supplier:     supplier,
					Legislators:  names,
					Transactions: s.count,
					Average:      avg,
					Total:        total,
				},
				DetectedAt: now,
			})
		}
	}
	return alerts
}

func detectTemporal(acc *accumulator, cfg Config, _ thresholds, now time.Time) []Alert {
	var alerts []Alert
	for k, d := range acc.days {
		if d.count < cfg.DailyTransactionThreshold {
			continue
		}
		sev := SeverityMedium
		if d.count > cfg.DailyHighSeverityCount {
			sev = SeverityHigh
		}
		alerts = append(alerts, Alert{
			ID:          alertID(RuleDailyBurst, k.legislator, k.date),
			Type:        AlertTemporalConcentration,
			Severity:    sev,
			Legislator:  k.legislator,
			Description: fmt.Sprintf("%d transações registradas em %s", d.count, k.date),
			Value:       money(d.cents),
			Rule:        RuleDailyBurst,
			Details: TemporalDetail{
				Date:         k.date,
				Transactions: d.count,
				Suppliers:    d.suppliers.sorted(),
				Categories:   d.categories.sorted(),
			},
			DetectedAt: now,
		})
	}
	return alerts
}

func detectRepeatedAmounts(acc *accumulator, cfg Config, _ thresholds, now time.Time) []Alert {
	var alerts []Alert
	for c, a := range acc.amounts {
		if a.count < cfg.RepeatedAmountMinOccurrences || len(a.taxIDs) > cfg.RepeatedAmountMaxSuppliers {
			continue
		}
		sev := SeverityMedium
		if len(a.taxIDs) == 1 {
			sev = SeverityHigh
		}
		value := money(c)
		alerts = append(alerts, Alert{
			ID:          alertID(RuleRepeatedAmount, strconv.FormatInt(c, 10)),
			Type:        AlertRepeatedAmount,
			Severity:    sev,
			Legislator:  MultipleLegislators,
			Description: fmt.Sprintf("Valor exato de R$ %.2f repetido %d vezes", value, a.count),
			Value:       value,
			Rule:        RuleRepeatedAmount,
			Details: RepeatedAmountDetail{
				Occurrences:  a.count,
				Legislators:  len(a.legislators),
				Suppliers:    len(a.taxIDs),
				Descriptions: a.categories.sorted(),
			},
			DetectedAt: now,
		})
	}
	return alerts
}

func money(c int64) float64 { return core.Money{Cents: c}.Float() }

func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}

func displayName(name, taxID string) string {
	if name == "" {
		return taxID
	}
	return name
}
