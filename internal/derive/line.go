package derive

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

const (
	deriveOpen  = "#[derive("
	deriveClose = ")]"
	tokenSep    = ", "
)

var deriveLineRe = regexp.MustCompile(`^#\[derive\((\s*[a-zA-Z0-9_]+\s*,)*(\s*[a-zA-Z0-9_]+\s*)\)\]$`)

// IsDeriveLine reports whether body (without line terminator) is a
// single-line derive attribute this package rewrites.
func IsDeriveLine(body string) bool {
	return deriveLineRe.MatchString(body)
}

// SplitTerminator separates a trailing "\n" or "\r\n" from line.
func SplitTerminator(line string) (body, term string) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], "\r\n"
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

// RewriteDerive returns body with its derive list sorted by table. body must
// not carry a line terminator. Lines that are not derive attributes are
// returned as-is with ok == false.
func RewriteDerive(body string, table *PriorityTable) (out string, ok bool) {
	if !IsDeriveLine(body) {
		return body, false
	}
	inner := body[len(deriveOpen) : len(body)-len(deriveClose)]
	tokens := SortTokens(strings.Split(inner, ","), table)
	return deriveOpen + strings.Join(tokens, tokenSep) + deriveClose, true
}

// NormalizeLine rewrites a raw file line. The line terminator, if any, is
// kept as it was; a line without one does not gain one.
func NormalizeLine(line string, table *PriorityTable) (string, bool) {
	body, term := SplitTerminator(line)
	out, ok := RewriteDerive(body, table)
	if !ok {
		return line, false
	}
	return out + term, true
}

type sortKey struct {
	rank int
	text string
}

// SortTokens trims every raw segment and returns them ordered by
// (rank, text). A nil table means DefaultPriorityTable. Duplicates are kept.
func SortTokens(raw []string, table *PriorityTable) []string {
	if table == nil {
		table = defaultTable
	}
	keys := make([]sortKey, len(raw))
	for i, seg := range raw {
		text := strings.TrimSpace(seg)
		keys[i] = sortKey{rank: table.Rank(text), text: text}
	}
	slices.SortStableFunc(keys, func(a, b sortKey) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return strings.Compare(a.text, b.text)
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.text
	}
	return out
}
