package trace

import "errors"

// MultiTracer feeds the same events to several tracers, typically the
// --trace stream and the failure ring (--trace-mode both).
type MultiTracer struct {
	tracers []Tracer
	level   Level
}

// NewMultiTracer combines tracers. Its level is the most verbose of theirs,
// so spans are not filtered out before a more verbose child sees them.
// Disabled tracers are dropped.
func NewMultiTracer(tracers ...Tracer) *MultiTracer {
	m := &MultiTracer{}
	for _, tr := range tracers {
		if tr == nil || !tr.Enabled() {
			continue
		}
		m.tracers = append(m.tracers, tr)
		m.level = max(m.level, tr.Level())
	}
	return m
}

// Emit gives every child its own copy; stream and ring both stamp Seq.
func (t *MultiTracer) Emit(ev *Event) {
	if ev == nil {
		return
	}
	for _, tr := range t.tracers {
		cp := *ev
		tr.Emit(&cp)
	}
}

func (t *MultiTracer) Flush() error {
	var errs []error
	for _, tr := range t.tracers {
		errs = append(errs, tr.Flush())
	}
	return errors.Join(errs...)
}

// Close closes every child even if an earlier one fails.
func (t *MultiTracer) Close() error {
	var errs []error
	for _, tr := range t.tracers {
		errs = append(errs, tr.Close())
	}
	return errors.Join(errs...)
}

func (t *MultiTracer) Level() Level { return t.level }

func (t *MultiTracer) Enabled() bool { return t.level > LevelOff }

// Ring returns the first RingTracer among the children.
func (t *MultiTracer) Ring() (*RingTracer, bool) {
	for _, inner := range t.tracers {
		if r, ok := Ring(inner); ok {
			return r, true
		}
	}
	return nil, false
}
