package core

import (
	"errors"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out float64
		ok  bool
	}{
		{"1", 1, true},
		{"1234.56", 1234.56, true},
		{"1.234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"45,00", 45, true},
		{"R$ 45,00", 45, true},
		{" 2.50 ", 2.5, true},
		{"2.000", 2000, true},
		{"1.234.567", 1234567, true},
		{"0.500", 0.5, true},
		{"-15,30", -15.3, true},
		{"12.345", 12345, true},
		{"12.3456", 12.35, true},
		{"", 0, false},
		{"abc", 0, false},
		{"1,2,3", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %v, got %v (err=%v)", tc.in, tc.out, got, err)
			}
		} else if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("%q expected ErrInvalidAmount, got %v", tc.in, err)
		}
	}
}

func TestCoerceAmount(t *testing.T) {
	if got := CoerceAmount("n/a"); got != 0 {
		t.Fatalf("expected 0 for malformed input, got %v", got)
	}
	if got := CoerceAmount("8.500,00"); got != 8500 {
		t.Fatalf("expected 8500, got %v", got)
	}
}

func TestMoneyFromFloat(t *testing.T) {
	if m := MoneyFromFloat(1234.56); m.Cents != 123456 {
		t.Fatalf("expected 123456 cents, got %d", m.Cents)
	}
	if m := MoneyFromFloat(-0.1); m.Cents != -10 {
		t.Fatalf("expected -10 cents, got %d", m.Cents)
	}
	if (Money{Cents: 250}).Float() != 2.5 {
		t.Fatalf("expected 2.5")
	}
}
