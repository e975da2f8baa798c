package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"gastos/internal/core"
)

var ErrInvalidJSON = errors.New("invalid json records")

// ParseJSON decodes a JSON array of record objects keyed by any column name
// ParseCSV accepts. Numbers may be JSON numbers or strings in either decimal
// notation; malformed amounts become zero and are counted as coerced.
func ParseJSON(r io.Reader) ([]core.ExpenseRecord, ParseReport, error) {
	var report ParseReport
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, report, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if rows == nil {
		return nil, report, fmt.Errorf("%w: expected an array", ErrInvalidJSON)
	}

	records := make([]core.ExpenseRecord, 0, len(rows))
	for _, obj := range rows {
		report.Rows++
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = jsonText(obj[k])
		}
		index, _ := mapColumns(keys)
		rec, coerced := buildRecord(row, index)
		report.Coerced += coerced
		records = append(records, rec)
		report.Accepted++
	}
	return records, report, nil
}

// jsonText renders a decoded JSON value the way it would appear in a CSV
// cell. Whole numbers have no decimal point so they parse as integers;
// fractional numbers are rounded to cents.
func jsonText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		f, err := x.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return x.String()
		}
		if f == math.Trunc(f) {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return strconv.FormatFloat(f, 'f', 2, 64)
	default:
		return ""
	}
}
