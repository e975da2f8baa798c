package core

import (
	"testing"
	"time"
)

func TestReferenceMonthFallsBackToIssueDate(t *testing.T) {
	r := ExpenseRecord{IssueDate: time.Date(2023, 3, 14, 0, 0, 0, 0, time.UTC)}
	y, m := r.ReferenceMonth()
	if y != 2023 || m != 3 {
		t.Fatalf("expected 2023/3, got %d/%d", y, m)
	}

	r = ExpenseRecord{Year: 2022, Month: 11, IssueDate: time.Date(2023, 3, 14, 0, 0, 0, 0, time.UTC)}
	y, m = r.ReferenceMonth()
	if y != 2022 || m != 11 {
		t.Fatalf("reference columns must win, got %d/%d", y, m)
	}
}

func TestRecordQueryValidate(t *testing.T) {
	cases := []struct {
		q  RecordQuery
		ok bool
	}{
		{RecordQuery{}, true},
		{RecordQuery{Year: 2023, Month: 12}, true},
		{RecordQuery{Month: 13}, false},
		{RecordQuery{Month: -1}, false},
		{RecordQuery{Year: 1999}, false},
	}
	for i, tc := range cases {
		err := tc.q.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestRecordQueryMatches(t *testing.T) {
	r := ExpenseRecord{LegislatorName: " Fulano ", State: "SP", Party: "ABC", Year: 2023, Month: 5}
	if !(RecordQuery{}).Matches(r) {
		t.Fatalf("empty query should match")
	}
	if !(RecordQuery{Year: 2023, Month: 5, State: "sp", Party: "abc", Legislator: "fulano"}).Matches(r) {
		t.Fatalf("expected case-insensitive match")
	}
	if (RecordQuery{Month: 6}).Matches(r) {
		t.Fatalf("month filter should exclude")
	}
	if (RecordQuery{State: "RJ"}).Matches(r) {
		t.Fatalf("state filter should exclude")
	}
}

func TestRecordQueryCacheKey(t *testing.T) {
	a := RecordQuery{DatasetID: "x", Year: 2023, State: "sp"}
	b := RecordQuery{DatasetID: "x", Year: 2023, State: "SP"}
	if a.CacheKey() != b.CacheKey() {
		t.Fatalf("cache key should ignore case: %q vs %q", a.CacheKey(), b.CacheKey())
	}
	if a.CacheKey() == (RecordQuery{DatasetID: "x"}).CacheKey() {
		t.Fatalf("different queries must not share a key")
	}
}
