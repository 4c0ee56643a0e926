package trace

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// DefaultRingSize is the ring capacity used when none is configured.
const DefaultRingSize = 4096

// RingTracer keeps the last N events for a post-mortem dump. Independently
// of the window it remembers which run, walk and file spans have begun
// but not ended, so a dump after a failed run names the file that was
// being sorted even when its begin event has been overwritten.
type RingTracer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	head     int
	full     bool
	level    Level
	open     map[uint64]Event // span id -> begin event
}

// NewRingTracer creates a RingTracer holding up to capacity events.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &RingTracer{
		events:   make([]Event, capacity),
		capacity: capacity,
		level:    level,
		open:     make(map[uint64]Event),
	}
}

func (t *RingTracer) Emit(ev *Event) {
	if ev == nil || !t.level.ShouldEmit(ev.Scope) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := *ev
	stored.Seq = NextSeq()
	t.events[t.head] = stored
	t.head = (t.head + 1) % t.capacity
	if t.head == 0 {
		t.full = true
	}

	// line points never open spans
	if stored.SpanID == 0 || stored.Scope > ScopeFile {
		return
	}
	switch stored.Kind {
	case KindSpanBegin:
		t.open[stored.SpanID] = stored
	case KindSpanEnd:
		delete(t.open, stored.SpanID)
	}
}

// Snapshot returns the buffered events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.full {
		return slices.Clone(t.events[:t.head])
	}
	out := make([]Event, 0, t.capacity)
	out = append(out, t.events[t.head:]...)
	return append(out, t.events[:t.head]...)
}

// Unfinished returns the begin events of spans still open, in start order.
// After a failed run these are the run, the walk or the files in progress.
func (t *RingTracer) Unfinished() []Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Event, 0, len(t.open))
	for _, ev := range t.open {
		out = append(out, ev)
	}
	slices.SortFunc(out, func(a, b Event) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Dump writes the buffered events to w.
func (t *RingTracer) Dump(w io.Writer, format Format) error {
	for _, ev := range t.Snapshot() {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	return nil
}

// DumpFailure writes the buffered events followed by one
// "unfinished <scope>: <name>" line per span that never ended.
func (t *RingTracer) DumpFailure(w io.Writer, format Format) error {
	if err := t.Dump(w, format); err != nil {
		return err
	}
	for _, ev := range t.Unfinished() {
		if _, err := fmt.Fprintf(w, "unfinished %s: %s\n", ev.Scope, ev.Name); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error { return nil }

func (t *RingTracer) Close() error { return nil }

func (t *RingTracer) Level() Level { return t.level }

func (t *RingTracer) Enabled() bool { return t.level > LevelOff }
