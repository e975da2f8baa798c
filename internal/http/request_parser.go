package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"gastos/internal/analyzer"
	"gastos/internal/core"
)

// Query parameter names accepted by the analysis endpoints.
const (
	paramYear       = "ano"
	paramMonth      = "mes"
	paramState      = "uf"
	paramParty      = "partido"
	paramLegislator = "deputado"
	paramType       = "tipo"
	paramSeverity   = "severidade"
	paramLimit      = "limit"
	paramExport     = "exportar"
	paramName       = "nome"
)

var (
	alertTypes = map[analyzer.AlertType]bool{
		analyzer.AlertOverpricing:           true,
		analyzer.AlertLimitExceeded:         true,
		analyzer.AlertSuspiciousSupplier:    true,
		analyzer.AlertTemporalConcentration: true,
		analyzer.AlertRepeatedAmount:        true,
	}
	severities = map[analyzer.Severity]bool{
		analyzer.SeverityHigh:   true,
		analyzer.SeverityMedium: true,
		analyzer.SeverityLow:    true,
	}
)

// AlertFilter narrows the alerts endpoint. Empty fields match everything.
type AlertFilter struct {
	Type       analyzer.AlertType
	Severity   analyzer.Severity
	Legislator string
}

// ParseRecordQuery reads the record filters for datasetID from the query
// string. Blank parameters mean no filter.
func ParseRecordQuery(query url.Values, datasetID string) (core.RecordQuery, error) {
	q := core.RecordQuery{
		DatasetID:  datasetID,
		State:      strings.ToUpper(sanitizeInput(query.Get(paramState))),
		Party:      strings.ToUpper(sanitizeInput(query.Get(paramParty))),
		Legislator: sanitizeInput(query.Get(paramLegislator)),
	}
	var err error
	if q.Year, err = optionalInt(query, paramYear); err != nil {
		return core.RecordQuery{}, err
	}
	if q.Month, err = optionalInt(query, paramMonth); err != nil {
		return core.RecordQuery{}, err
	}
	if err := q.Validate(); err != nil {
		return core.RecordQuery{}, err
	}
	return q, nil
}

// ParseAlertFilter validates tipo and severidade against the known values.
func ParseAlertFilter(query url.Values) (AlertFilter, error) {
	f := AlertFilter{
		Type:       analyzer.AlertType(strings.ToUpper(sanitizeInput(query.Get(paramType)))),
		Severity:   analyzer.Severity(strings.ToUpper(sanitizeInput(query.Get(paramSeverity)))),
		Legislator: sanitizeInput(query.Get(paramLegislator)),
	}
	if f.Type != "" && !alertTypes[f.Type] {
		return AlertFilter{}, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, paramType, f.Type)
	}
	if f.Severity != "" && !severities[f.Severity] {
		return AlertFilter{}, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, paramSeverity, f.Severity)
	}
	return f, nil
}

// ParseLimit returns the limit parameter; zero means unlimited.
func ParseLimit(query url.Values) (int, error) {
	n, err := optionalInt(query, paramLimit)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidParameter, paramLimit)
	}
	return n, nil
}

// ParseBool accepts the strconv spellings; blank is false.
func ParseBool(query url.Values, name string) (bool, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, name, v)
	}
	return b, nil
}

func optionalInt(query url.Values, name string) (int, error) {
	v := strings.TrimSpace(query.Get(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidParameter, name, v)
	}
	return n, nil
}

// sanitizeInput trims whitespace and drops control characters.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// truncate returns at most n elements of s; n <= 0 keeps everything.
func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
