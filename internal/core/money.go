// Package core provides amount parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts as they appear in
// the Câmara open-data exports and in spreadsheets typed by hand.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a decimal string in Brazilian or international notation
// to a float64 currency amount.
//
// When both separators are present, the right-most one is the decimal separator.
// A lone comma is always decimal. A lone dot is decimal unless it appears more
// than once or is followed by exactly three digits in a value with a leading
// group of at most three digits, in which case it separates thousands.
// Negative values are accepted (the quota files carry reversals as negatives).
//
// Examples:
//
//	ParseAmount("1.234,56") -> 1234.56, nil
//	ParseAmount("1234.56")  -> 1234.56, nil
//	ParseAmount("1,234.56") -> 1234.56, nil
//	ParseAmount("R$ 45,00") -> 45, nil
//	ParseAmount("2.000")    -> 2000, nil
//	ParseAmount("abc")      -> 0, ErrInvalidAmount
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return 0, ErrInvalidAmount
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return 0, ErrInvalidAmount
		}
		s = strings.Replace(s, ",", ".", 1)
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || looksLikeThousands(s, lastDot) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	f, _ := d.Round(2).Float64()
	return f, nil
}

// CoerceAmount is ParseAmount with malformed input mapped to zero.
func CoerceAmount(s string) float64 {
	v, err := ParseAmount(s)
	if err != nil {
		return 0
	}
	return v
}

// looksLikeThousands reports whether a single dot at index i separates
// thousands, as in "2.000" or "-15.500".
func looksLikeThousands(s string, i int) bool {
	head := strings.TrimPrefix(s[:i], "-")
	tail := s[i+1:]
	if len(tail) != 3 || len(head) == 0 || len(head) > 3 {
		return false
	}
	for _, r := range head + tail {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return head != "0"
}
