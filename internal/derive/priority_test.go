package derive

import (
	"slices"
	"strings"
	"testing"
)

func TestDefaultPriorityTable(t *testing.T) {
	table := DefaultPriorityTable()
	if table.Len() != 10 {
		t.Fatalf("Len = %d, want 10", table.Len())
	}
	for i, name := range DefaultOrder {
		if got := table.Rank(name); got != i {
			t.Errorf("Rank(%q) = %d, want %d", name, got, i)
		}
	}
	for _, name := range []string{"Hash", "copy", "", "Zeta"} {
		if got := table.Rank(name); got != UnknownRank {
			t.Errorf("Rank(%q) = %d, want UnknownRank", name, got)
		}
	}
}

func TestNewPriorityTableRejects(t *testing.T) {
	cases := []struct {
		name  string
		order []string
		want  string
	}{
		{"empty", nil, "empty order"},
		{"duplicate", []string{"Copy", "Clone", "Copy"}, "duplicate"},
		{"blank entry", []string{"Copy", ""}, "invalid identifier"},
		{"path entry", []string{"serde::Serialize"}, "invalid identifier"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPriorityTable(tc.order)
			if err == nil {
				t.Fatalf("NewPriorityTable(%v) succeeded, want error", tc.order)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestPriorityTableOrderIsCopy(t *testing.T) {
	table := DefaultPriorityTable()
	order := table.Order()
	order[0] = "Mutated"
	if table.Rank("Copy") != 0 || table.Rank("Mutated") != UnknownRank {
		t.Fatal("Order() leaked internal state")
	}
	if !slices.Equal(table.Order(), DefaultOrder) {
		t.Fatalf("Order() = %v, want %v", table.Order(), DefaultOrder)
	}
}

func TestFingerprint(t *testing.T) {
	a, _ := NewPriorityTable([]string{"Copy", "Clone"})
	b, _ := NewPriorityTable([]string{"Copy", "Clone"})
	c, _ := NewPriorityTable([]string{"Clone", "Copy"})
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal orders produced different fingerprints")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different orders produced the same fingerprint")
	}
}
