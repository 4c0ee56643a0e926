package derive

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// UnknownRank is assigned to identifiers missing from a PriorityTable.
// It sorts after every explicit rank.
const UnknownRank = math.MaxInt

// DefaultOrder is the canonical order of well-known derivable traits.
var DefaultOrder = []string{
	"Copy",
	"Clone",
	"Default",
	"Debug",
	"PartialEq",
	"Eq",
	"PartialOrd",
	"Ord",
	"Serialize",
	"Deserialize",
}

var identRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// PriorityTable maps identifiers to sort ranks. It is immutable once built
// and safe for concurrent use.
type PriorityTable struct {
	order []string
	ranks map[string]int
}

// NewPriorityTable builds a table where order[i] gets rank i.
func NewPriorityTable(order []string) (*PriorityTable, error) {
	if len(order) == 0 {
		return nil, errors.New("priority: empty order")
	}
	ranks := make(map[string]int, len(order))
	for i, name := range order {
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("priority: invalid identifier %q at position %d", name, i)
		}
		if prev, ok := ranks[name]; ok {
			return nil, fmt.Errorf("priority: duplicate identifier %q at positions %d and %d", name, prev, i)
		}
		ranks[name] = i
	}
	return &PriorityTable{
		order: append([]string(nil), order...),
		ranks: ranks,
	}, nil
}

var defaultTable = mustTable(DefaultOrder)

func mustTable(order []string) *PriorityTable {
	t, err := NewPriorityTable(order)
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultPriorityTable returns the shared table built from DefaultOrder.
func DefaultPriorityTable() *PriorityTable {
	return defaultTable
}

// Rank returns the rank of name, or UnknownRank.
func (t *PriorityTable) Rank(name string) int {
	if t == nil {
		return UnknownRank
	}
	if r, ok := t.ranks[name]; ok {
		return r
	}
	return UnknownRank
}

// Order returns a copy of the identifiers in rank order.
func (t *PriorityTable) Order() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

// Len reports the number of ranked identifiers.
func (t *PriorityTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Fingerprint returns a stable hex digest of the order. Two tables with the
// same fingerprint sort every derive list identically.
func (t *PriorityTable) Fingerprint() string {
	if t == nil {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(t.order, "\x00")))
	return hex.EncodeToString(sum[:8])
}
