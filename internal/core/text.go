package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold normalizes a label for matching: trims, upper-cases and strips accents,
// so "Combustíveis e lubrificantes" and "COMBUSTIVEIS E LUBRIFICANTES" compare
// equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(out), " "))
}

// NormalizeTaxID keeps only the digits of a CNPJ/CPF. Values without any digit
// (foreign suppliers are sometimes recorded by name) are returned trimmed and
// upper-cased instead of being dropped.
func NormalizeTaxID(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.ToUpper(s)
	}
	return b.String()
}
