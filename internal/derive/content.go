package derive

import (
	"bytes"
	"context"
	"strconv"

	"derivesort/internal/trace"
)

// Stats summarizes one NormalizeContent pass.
type Stats struct {
	Lines     int // lines seen, including a final line without terminator
	Matched   int // derive lines recognized
	Rewritten int // derive lines whose bytes changed
}

// NormalizeContent runs NormalizeLine over every line of src. The result
// aliases nothing in src. When Rewritten is zero the output equals src.
func NormalizeContent(src []byte, table *PriorityTable) ([]byte, Stats) {
	return NormalizeContentContext(context.Background(), src, table)
}

// NormalizeContentContext is NormalizeContent with a line-scope trace point
// for every rewritten line.
func NormalizeContentContext(ctx context.Context, src []byte, table *PriorityTable) ([]byte, Stats) {
	tracer := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx)

	var stats Stats
	out := make([]byte, 0, len(src))
	for rest := src; len(rest) > 0; {
		n := bytes.IndexByte(rest, '\n') + 1
		if n == 0 {
			n = len(rest)
		}
		line := string(rest[:n])
		rest = rest[n:]
		stats.Lines++

		rewritten, ok := NormalizeLine(line, table)
		if ok {
			stats.Matched++
			if rewritten != line {
				stats.Rewritten++
				body, _ := SplitTerminator(rewritten)
				trace.Point(tracer, trace.ScopeLine, "line "+strconv.Itoa(stats.Lines), body, parent)
			}
		}
		out = append(out, rewritten...)
	}
	return out, stats
}
