package analyzer

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every threshold and weight used by the detectors and scorers.
// Monetary values are in reais.
type Config struct {
	// BlocSentinels are legislator-name values that denote caucus or leadership
	// line items rather than individuals. A trailing "*" matches by prefix.
	BlocSentinels []string
	// FuelMarker selects fuel purchases by category label.
	FuelMarker string

	FuelSuspiciousPurchase   float64
	FuelHighSeverityPurchase float64
	FuelReferencePrice       float64
	FuelAverageCeiling       float64

	MonthlyLimit float64

	MinSupplierDiversity      int
	SupplierDiversityMinTotal float64
	SupplierHighAverage       float64

	DailyTransactionThreshold int
	DailyHighSeverityCount    int

	RepeatedAmountMinValue       float64
	RepeatedAmountMinOccurrences int
	RepeatedAmountMaxSuppliers   int

	HighWeight        int
	MediumWeight      int
	LowWeight         int
	OverpricingBonus  int
	LargeLimitBonus   int
	LargeLimitMinimum float64

	SupplierFewLegislatorsPoints      int
	SupplierHighAveragePoints         int
	SupplierLargeVolumePoints         int
	SupplierLargeVolumeTotal          float64
	SupplierLargeVolumeMaxLegislators int

	LegislatorTopCategories int
	StatsTopCategories      int
	MonthlyTopTransactions  int
}

// DefaultConfig returns the thresholds the alert taxonomy was calibrated with.
func DefaultConfig() Config {
	return Config{
		BlocSentinels: []string{"LIDERANÇA*", "LIDERANCA*", "LID.GOV-CD", "LIDMIN"},
		FuelMarker:    "COMBUSTÍVEIS E LUBRIFICANTES",

		FuelSuspiciousPurchase:   2000,
		FuelHighSeverityPurchase: 5000,
		FuelReferencePrice:       400,
		FuelAverageCeiling:       1000,

		MonthlyLimit: 45000,

		MinSupplierDiversity:      5,
		SupplierDiversityMinTotal: 100000,
		SupplierHighAverage:       10000,

		DailyTransactionThreshold: 5,
		DailyHighSeverityCount:    10,

		RepeatedAmountMinValue:       1000,
		RepeatedAmountMinOccurrences: 10,
		RepeatedAmountMaxSuppliers:   3,

		HighWeight:        30,
		MediumWeight:      15,
		LowWeight:         5,
		OverpricingBonus:  20,
		LargeLimitBonus:   25,
		LargeLimitMinimum: 100000,

		SupplierFewLegislatorsPoints:      30,
		SupplierHighAveragePoints:         40,
		SupplierLargeVolumePoints:         30,
		SupplierLargeVolumeTotal:          500000,
		SupplierLargeVolumeMaxLegislators: 10,

		LegislatorTopCategories: 5,
		StatsTopCategories:      10,
		MonthlyTopTransactions:  5,
	}
}

// Validate reports every non-positive threshold and negative weight at once.
func (c Config) Validate() error {
	var errs []string

	positive := []struct {
		name  string
		value float64
	}{
		{"FuelSuspiciousPurchase", c.FuelSuspiciousPurchase},
		{"FuelHighSeverityPurchase", c.FuelHighSeverityPurchase},
		{"FuelReferencePrice", c.FuelReferencePrice},
		{"FuelAverageCeiling", c.FuelAverageCeiling},
		{"MonthlyLimit", c.MonthlyLimit},
		{"MinSupplierDiversity", float64(c.MinSupplierDiversity)},
		{"SupplierDiversityMinTotal", c.SupplierDiversityMinTotal},
		{"SupplierHighAverage", c.SupplierHighAverage},
		{"DailyTransactionThreshold", float64(c.DailyTransactionThreshold)},
		{"DailyHighSeverityCount", float64(c.DailyHighSeverityCount)},
		{"RepeatedAmountMinValue", c.RepeatedAmountMinValue},
		{"RepeatedAmountMinOccurrences", float64(c.RepeatedAmountMinOccurrences)},
		{"RepeatedAmountMaxSuppliers", float64(c.RepeatedAmountMaxSuppliers)},
		{"LargeLimitMinimum", c.LargeLimitMinimum},
		{"SupplierLargeVolumeTotal", c.SupplierLargeVolumeTotal},
		{"SupplierLargeVolumeMaxLegislators", float64(c.SupplierLargeVolumeMaxLegislators)},
		{"LegislatorTopCategories", float64(c.LegislatorTopCategories)},
		{"StatsTopCategories", float64(c.StatsTopCategories)},
		{"MonthlyTopTransactions", float64(c.MonthlyTopTransactions)},
	}
	for _, p := range positive {
		if !(p.value > 0) {
			errs = append(errs, fmt.Sprintf("%s must be positive", p.name))
		}
	}

	weights := []struct {
		name  string
		value int
	}{
		{"HighWeight", c.HighWeight},
		{"MediumWeight", c.MediumWeight},
		{"LowWeight", c.LowWeight},
		{"OverpricingBonus", c.OverpricingBonus},
		{"LargeLimitBonus", c.LargeLimitBonus},
		{"SupplierFewLegislatorsPoints", c.SupplierFewLegislatorsPoints},
		{"SupplierHighAveragePoints", c.SupplierHighAveragePoints},
		{"SupplierLargeVolumePoints", c.SupplierLargeVolumePoints},
	}
	for _, w := range weights {
		if w.value < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative", w.name))
		}
	}

	if strings.TrimSpace(c.FuelMarker) == "" {
		errs = append(errs, "FuelMarker is required")
	}

	if len(errs) > 0 {
		return errors.New("invalid analyzer config: " + strings.Join(errs, "; "))
	}
	return nil
}
