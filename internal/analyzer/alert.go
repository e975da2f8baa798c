package analyzer

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"
)

type (
	AlertType string
	Severity  string
	// Rule names the detector rule that produced an alert. It is the
	// discriminator of the Detail union.
	Rule string
)

const (
	AlertOverpricing           AlertType = "OVERPRICING"
	AlertLimitExceeded         AlertType = "LIMIT_EXCEEDED"
	AlertSuspiciousSupplier    AlertType = "SUSPICIOUS_SUPPLIER"
	AlertTemporalConcentration AlertType = "TEMPORAL_CONCENTRATION"
	AlertRepeatedAmount        AlertType = "REPEATED_AMOUNT"
)

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

const (
	RuleFuelSinglePurchase   Rule = "fuel_single_purchase"
	RuleFuelAverage          Rule = "fuel_average"
	RuleMonthlyLimit         Rule = "monthly_limit"
	RuleSupplierLowDiversity Rule = "supplier_low_diversity"
	RuleSupplierHighAverage  Rule = "supplier_high_average"
	RuleDailyBurst           Rule = "daily_burst"
	RuleRepeatedAmount       Rule = "repeated_amount"
)

// MultipleLegislators is the alert subject when an alert spans several legislators.
const MultipleLegislators = "MULTIPLE"

// rank orders severities from most to least severe.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// Alert is a single detected anomaly.
type Alert struct {
	ID          string    `json:"id"`
	Type        AlertType `json:"tipo"`
	Severity    Severity  `json:"severidade"`
	Legislator  string    `json:"deputado"`
	Description string    `json:"descricao"`
	Value       float64   `json:"valor"`
	Rule        Rule      `json:"regra"`
	Details     Detail    `json:"detalhes"`
	DetectedAt  time.Time `json:"dataDeteccao"`
}

// Detail is the rule-specific payload of an alert.
type Detail interface {
	Rule() Rule
}

type OverpricingDetail struct {
	Supplier       string  `json:"fornecedor"`
	TaxID          string  `json:"cnpj"`
	Date           string  `json:"data,omitempty"`
	Category       string  `json:"categoria"`
	Document       string  `json:"documento,omitempty"`
	ReferencePrice float64 `json:"precoReferencia"`
	PercentAbove   float64 `json:"percentualAcima"`
}

type FuelAverageDetail struct {
	Transactions int     `json:"numTransacoes"`
	Average      float64 `json:"mediaTransacao"`
	Suppliers    int     `json:"fornecedores"`
	Ceiling      float64 `json:"limite"`
}

type MonthlyTransaction struct {
	Supplier string  `json:"fornecedor"`
	Value    float64 `json:"valor"`
	Category string  `json:"categoria"`
}

type LimitExceededDetail struct {
	Month           int                  `json:"mes"`
	Year            int                  `json:"ano"`
	Limit           float64              `json:"limite"`
	PercentExceeded float64              `json:"percentualExcedido"`
	Transactions    int                  `json:"numTransacoes"`
	TopTransactions []MonthlyTransaction `json:"maioresTransacoes"`
}

type SupplierDiversityDetail struct {
	TaxID        string   `json:"cnpj"`
	Supplier     string   `json:"fornecedor"`
	Legislators  []string `json:"deputadosAtendidos"`
	Transactions int      `json:"numTransacoes"`
	Average      float64  `json:"mediaTransacao"`
	Total        float64  `json:"totalRecebido"`
}

type SupplierAverageDetail struct {
	TaxID        string   `json:"cnpj"`
	Supplier     string   `json:"fornecedor"`
	Legislators  []string `json:"deputadosAtendidos"`
	Transactions int      `json:"numTransacoes"`
	Average      float64  `json:"mediaTransacao"`
	Total        float64  `json:"totalRecebido"`
}

type TemporalDetail struct {
	Date         string   `json:"data"`
	Transactions int      `json:"numTransacoes"`
	Suppliers    []string `json:"fornecedores"`
	Categories   []string `json:"categorias"`
}

type RepeatedAmountDetail struct {
	Occurrences  int      `json:"ocorrencias"`
	Legislators  int      `json:"deputados"`
	Suppliers    int      `json:"fornecedores"`
	Descriptions []string `json:"descricoes"`
}

func (OverpricingDetail) Rule() Rule       { return RuleFuelSinglePurchase }
func (FuelAverageDetail) Rule() Rule       { return RuleFuelAverage }
func (LimitExceededDetail) Rule() Rule     { return RuleMonthlyLimit }
func (SupplierDiversityDetail) Rule() Rule { return RuleSupplierLowDiversity }
func (SupplierAverageDetail) Rule() Rule   { return RuleSupplierHighAverage }
func (TemporalDetail) Rule() Rule          { return RuleDailyBurst }
func (RepeatedAmountDetail) Rule() Rule    { return RuleRepeatedAmount }

// UnmarshalJSON decodes detalhes into the variant named by regra.
func (a *Alert) UnmarshalJSON(data []byte) error {
	type plain Alert
	var raw struct {
		plain
		Details json.RawMessage `json:"detalhes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Alert(raw.plain)
	a.Details = nil

	if len(raw.Details) == 0 || string(raw.Details) == "null" {
		return nil
	}

	var err error
	switch a.Rule {
	case RuleFuelSinglePurchase:
		a.Details, err = decodeDetail[OverpricingDetail](raw.Details)
	case RuleFuelAverage:
		a.Details, err = decodeDetail[FuelAverageDetail](raw.Details)
	case RuleMonthlyLimit:
		a.Details, err = decodeDetail[LimitExceededDetail](raw.Details)
	case RuleSupplierLowDiversity:
		a.Details, err = decodeDetail[SupplierDiversityDetail](raw.Details)
	case RuleSupplierHighAverage:
		a.Details, err = decodeDetail[SupplierAverageDetail](raw.Details)
	case RuleDailyBurst:
		a.Details, err = decodeDetail[TemporalDetail](raw.Details)
	case RuleRepeatedAmount:
		a.Details, err = decodeDetail[RepeatedAmountDetail](raw.Details)
	default:
		return fmt.Errorf("decode alert %s: unknown rule %q", a.ID, a.Rule)
	}
	if err != nil {
		return fmt.Errorf("decode alert %s details: %w", a.ID, err)
	}
	return nil
}

func decodeDetail[T Detail](data json.RawMessage) (Detail, error) {
	var d T
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return d, nil
}

// alertID derives a stable id from the rule and the group key.
func alertID(rule Rule, key ...string) string {
	h := fnv.New64a()
	h.Write([]byte(rule))
	for _, k := range key {
		h.Write([]byte{0})
		h.Write([]byte(k))
	}
	return rulePrefix(rule) + "-" + strconv.FormatUint(h.Sum64(), 16)
}

func rulePrefix(rule Rule) string {
	switch rule {
	case RuleFuelSinglePurchase:
		return "OVP"
	case RuleFuelAverage:
		return "OVA"
	case RuleMonthlyLimit:
		return "LIM"
	case RuleSupplierLowDiversity:
		return "SUD"
	case RuleSupplierHighAverage:
		return "SUA"
	case RuleDailyBurst:
		return "TMP"
	case RuleRepeatedAmount:
		return "REP"
	default:
		return "ALR"
	}
}
