package core

import "testing"

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Combustíveis e lubrificantes.": "COMBUSTIVEIS E LUBRIFICANTES.",
		"  LIDERANÇA   DO  PT ":         "LIDERANCA DO PT",
		"COMBUSTÍVEIS E LUBRIFICANTES.": "COMBUSTIVEIS E LUBRIFICANTES.",
		"":                              "",
	}
	for in, want := range cases {
		if got := Fold(in); got != want {
			t.Fatalf("Fold(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTaxID(t *testing.T) {
	cases := map[string]string{
		"12.345.678/0001-90": "12345678000190",
		" 123.456.789-09 ":   "12345678909",
		"":                   "",
		"foreign co":         "FOREIGN CO",
	}
	for in, want := range cases {
		if got := NormalizeTaxID(in); got != want {
			t.Fatalf("NormalizeTaxID(%q) = %q, want %q", in, got, want)
		}
	}
}
