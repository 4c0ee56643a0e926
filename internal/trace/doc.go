// Package trace records what a derivesort run did: which roots were walked,
// which files were visited, and which lines were rewritten.
//
// # Usage
//
//	derivesort --trace=- --trace-level=detail src/
//
// # Tracers
//
//   - Nop: used when tracing is off
//   - StreamTracer: writes each event immediately (text or NDJSON)
//   - RingTracer: keeps the last N events for a dump after a failed run
//   - MultiTracer: fans out to several tracers
//
// # Levels and scopes
//
// Scopes from coarse to fine are ScopeRun, ScopeWalk, ScopeFile and
// ScopeLine. LevelPhase emits run and walk events, LevelDetail adds one span
// per file, LevelDebug adds a point event per rewritten line.
//
// Tracers travel through context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeFile, path, parent)
//	defer span.End("")
package trace
