package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"derivesort/internal/derive"
	"derivesort/internal/fmtcache"
	"derivesort/internal/observ"
	"derivesort/internal/trace"
)

// FormatOptions configures a formatting run.
type FormatOptions struct {
	// Table orders derive lists. Nil means derive.DefaultPriorityTable().
	Table *derive.PriorityTable
	Walk  WalkOptions
	// Check reports which files would change without writing them.
	Check bool
	// Stdout returns formatted content in results without writing files.
	Stdout bool
	// Jobs bounds how many files are processed at once; <= 1 is sequential.
	Jobs int
	// Cache, when set, lets files known to be canonical skip the read.
	Cache    *fmtcache.Cache
	Progress ProgressSink
	Timer    *observ.Timer
}

// FormatResult captures the result of formatting a single file.
type FormatResult struct {
	Path      string
	Changed   bool
	Cached    bool
	Stats     derive.Stats
	Formatted []byte
}

// FormatPaths normalizes derive lists in every file under paths.
// Files are processed in sorted order and results follow that order.
// The first I/O error aborts the run: pending files are not processed and
// the error is returned without partial results.
func FormatPaths(ctx context.Context, paths []string, opts FormatOptions) ([]FormatResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}
	if opts.Table == nil {
		opts.Table = derive.DefaultPriorityTable()
	}

	tracer := trace.FromContext(ctx)
	run := trace.Begin(tracer, trace.ScopeRun, "format", trace.CurrentSpan(ctx))
	ctx = trace.WithSpan(ctx, run)

	walkStart := time.Now()
	walkPhase := opts.Timer.Begin("walk")
	emit(opts.Progress, Event{Stage: StageWalk, Status: StatusWorking})
	files, err := CollectFiles(ctx, paths, opts.Walk)
	opts.Timer.End(walkPhase, fmt.Sprintf("%d files", len(files)))
	if err != nil {
		emit(opts.Progress, Event{Stage: StageWalk, Status: StatusError, Err: err, Elapsed: time.Since(walkStart)})
		run.End("walk failed")
		return nil, err
	}
	emit(opts.Progress, Event{Stage: StageWalk, Status: StatusDone, Elapsed: time.Since(walkStart)})
	for _, path := range files {
		emit(opts.Progress, Event{File: path, Stage: StageFormat, Status: StatusQueued})
	}

	formatPhase := opts.Timer.Begin("format")
	results := make([]FormatResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(opts.Jobs, len(files))))
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := formatFile(gctx, path, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = res
			return nil
		})
	}
	err = g.Wait()

	changed := 0
	for _, res := range results {
		if res.Changed {
			changed++
		}
	}
	opts.Timer.End(formatPhase, fmt.Sprintf("%d changed", changed))
	run.WithExtra("files", strconv.Itoa(len(files))).WithExtra("changed", strconv.Itoa(changed))
	if err != nil {
		run.End(err.Error())
		return nil, err
	}
	run.End("")
	return results, nil
}

func formatFile(ctx context.Context, path string, opts FormatOptions) (res FormatResult, err error) {
	res.Path = path
	started := time.Now()
	emit(opts.Progress, Event{File: path, Stage: StageFormat, Status: StatusWorking})

	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeFile, path, trace.CurrentSpan(ctx))
	ctx = trace.WithSpan(ctx, span)
	defer func() {
		if err != nil {
			span.End(err.Error())
			emit(opts.Progress, Event{File: path, Stage: StageFormat, Status: StatusError, Err: err, Elapsed: time.Since(started)})
			return
		}
		span.WithExtra("changed", strconv.FormatBool(res.Changed)).
			WithExtra("cached", strconv.FormatBool(res.Cached)).
			End("")
		emit(opts.Progress, Event{
			File:    path,
			Stage:   StageFormat,
			Status:  StatusDone,
			Changed: res.Changed,
			Cached:  res.Cached,
			Elapsed: time.Since(started),
		})
	}()

	info, err := os.Stat(path)
	if err != nil {
		return res, err
	}
	fingerprint := opts.Table.Fingerprint()
	if opts.Cache != nil && !opts.Stdout {
		entry, ok, cacheErr := opts.Cache.Get(path)
		if cacheErr != nil {
			trace.Point(tracer, trace.ScopeFile, path, "cache read: "+cacheErr.Error(), span.ID())
		}
		if ok && entry.Fresh(info, fingerprint) {
			res.Cached = true
			return res, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	formatted, stats := derive.NormalizeContentContext(ctx, data, opts.Table)
	res.Stats = stats
	res.Changed = !bytes.Equal(data, formatted)

	switch {
	case opts.Stdout:
		res.Formatted = formatted
		return res, nil
	case opts.Check:
		if res.Changed {
			return res, nil
		}
	case res.Changed:
		if err := writeFileAtomic(path, formatted, info.Mode().Perm()); err != nil {
			return res, err
		}
	}

	// the file on disk is canonical now
	if opts.Cache != nil {
		rememberCanonical(opts.Cache, path, formatted, fingerprint, tracer, span.ID())
	}
	return res, nil
}

func rememberCanonical(cache *fmtcache.Cache, path string, content []byte, fingerprint string, tracer trace.Tracer, parent uint64) {
	info, err := os.Stat(path)
	if err == nil {
		var entry fmtcache.Entry
		entry, err = fmtcache.NewEntry(path, info, fmtcache.Sum(content), fingerprint)
		if err == nil {
			err = cache.Put(path, &entry)
		}
	}
	if err != nil {
		trace.Point(tracer, trace.ScopeFile, path, "cache write: "+err.Error(), parent)
	}
}
