package driver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"derivesort/internal/trace"
)

// Defaults for WalkOptions.
const (
	DefaultExtension = ".rs"
	DefaultSkipDir   = "target"
)

// WalkOptions selects which files a run visits.
type WalkOptions struct {
	// Extension is the required file name suffix. Defaults to ".rs".
	Extension string
	// Skip lists directory names; any directory whose path below the walked
	// root contains one of them is pruned. Defaults to ["target"].
	Skip []string
	// Exclude holds doublestar patterns matched against slash paths relative
	// to the walked root, or to the working directory for file arguments.
	Exclude []string
}

func (o WalkOptions) withDefaults() WalkOptions {
	if o.Extension == "" {
		o.Extension = DefaultExtension
	}
	if o.Skip == nil {
		o.Skip = []string{DefaultSkipDir}
	}
	return o
}

// Validate checks exclude patterns and skip names.
func (o WalkOptions) Validate() error {
	for _, pattern := range o.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	for _, name := range o.Skip {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
			return fmt.Errorf("invalid skip directory %q (expected a single path segment)", name)
		}
	}
	if o.Extension != "" && !strings.HasPrefix(o.Extension, ".") {
		return fmt.Errorf("invalid extension %q (must start with '.')", o.Extension)
	}
	return nil
}

// inSkippedDir reports whether dir contains a skip name anywhere in its
// slash form, so "target", "src/target/x" and "my_target" are all pruned.
// dir is relative to the walked root, or to the working directory for
// explicit file arguments.
func (o WalkOptions) inSkippedDir(dir string) bool {
	dir = filepath.ToSlash(filepath.Clean(dir))
	if dir == "." {
		return false
	}
	for _, name := range o.Skip {
		if strings.Contains(dir, name) {
			return true
		}
	}
	return false
}

func (o WalkOptions) excluded(rel string) bool {
	for _, pattern := range o.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// CollectFiles returns the sorted, de-duplicated list of files a run over
// paths would visit.
func CollectFiles(ctx context.Context, paths []string, opts WalkOptions) ([]string, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tracer := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx)

	var files []string
	// keyed by absolute path: "/proj" and "." may name the same files
	seen := make(map[string]struct{})
	addFile := func(path string) {
		key := path
		if abs, err := filepath.Abs(path); err == nil {
			key = abs
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		files = append(files, path)
	}

	for _, root := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			rel := relToWorkDir(root)
			if strings.HasSuffix(info.Name(), opts.Extension) &&
				!opts.inSkippedDir(filepath.Dir(rel)) &&
				!opts.excluded(filepath.ToSlash(rel)) {
				addFile(filepath.Clean(root))
			}
			continue
		}

		span := trace.Begin(tracer, trace.ScopeWalk, root, parent)
		before := len(files)
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if opts.inSkippedDir(rel) || (rel != "." && opts.excluded(rel)) {
					trace.Point(tracer, trace.ScopeFile, path, "skipped", span.ID())
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), opts.Extension) || opts.excluded(rel) {
				return nil
			}
			addFile(path)
			return nil
		})
		span.WithExtra("files", fmt.Sprint(len(files)-before)).End("")
		if err != nil {
			return nil, err
		}
	}

	slices.Sort(files)
	return files, nil
}

// relToWorkDir expresses an explicit file argument relative to the working
// directory when it lies below it, so skip names and exclude globs see the
// same shape as they do for walked files.
func relToWorkDir(path string) string {
	path = filepath.Clean(path)
	if !filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}
