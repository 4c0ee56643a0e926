package driver_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"derivesort/internal/derive"
	"derivesort/internal/driver"
	"derivesort/internal/fmtcache"
	"derivesort/internal/observ"
)

const unsorted = "#[derive(Debug, Clone, Copy)]\nstruct A;\n"
const sorted = "#[derive(Copy, Clone, Debug)]\nstruct A;\n"

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(data)
}

// realTempDir resolves symlinks so paths match os.Getwd after t.Chdir.
func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func resultPaths(root string, results []driver.FormatResult) []string {
	out := make([]string, 0, len(results))
	for _, res := range results {
		rel, _ := filepath.Rel(root, res.Path)
		out = append(out, filepath.ToSlash(rel))
	}
	return out
}

func TestFormatPathsRewritesAndSkipsTarget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/lib.rs":          unsorted,
		"src/main.rs":         sorted,
		"target/debug/gen.rs": unsorted,
		"src/target/deep.rs":  unsorted,
		"targets/a.rs":        unsorted,
		"my_target/b.rs":      unsorted,
		"README.md":           unsorted,
	})

	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"src/lib.rs", "src/main.rs"}, resultPaths(root, results))

	require.True(t, results[0].Changed)
	require.Equal(t, derive.Stats{Lines: 2, Matched: 1, Rewritten: 1}, results[0].Stats)
	require.False(t, results[1].Changed)

	require.Equal(t, sorted, readFile(t, root, "src/lib.rs"))
	for _, name := range []string{"target/debug/gen.rs", "src/target/deep.rs", "targets/a.rs", "my_target/b.rs", "README.md"} {
		require.Equal(t, unsorted, readFile(t, root, name), name)
	}
}

func TestFormatPathsSkipIgnoresPathAboveRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "build_target_dir")
	writeTree(t, root, map[string]string{"src/a.rs": unsorted})

	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"src/a.rs"}, resultPaths(root, results))
}

func TestFormatPathsDeduplicatesAcrossSpellings(t *testing.T) {
	root := realTempDir(t)
	writeTree(t, root, map[string]string{"a.rs": unsorted, "m/b.rs": unsorted})
	t.Chdir(root)

	results, err := driver.FormatPaths(context.Background(), []string{root, ".", "m/b.rs"}, driver.FormatOptions{Jobs: 4})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, sorted, readFile(t, root, "a.rs"))
	require.Equal(t, sorted, readFile(t, root, "m/b.rs"))
}

func TestFormatPathsExplicitFileHonorsSkipAndExclude(t *testing.T) {
	root := realTempDir(t)
	writeTree(t, root, map[string]string{
		"gen/c_gen.rs":   unsorted,
		"my_target/d.rs": unsorted,
		"src/e.rs":       unsorted,
	})
	t.Chdir(root)

	opts := driver.FormatOptions{Walk: driver.WalkOptions{Exclude: []string{"**/*_gen.rs"}}}
	args := []string{"gen/c_gen.rs", filepath.Join(root, "my_target", "d.rs"), filepath.Join(root, "src", "e.rs")}
	results, err := driver.FormatPaths(context.Background(), args, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"src/e.rs"}, resultPaths(root, results))
	require.Equal(t, unsorted, readFile(t, root, "gen/c_gen.rs"))
	require.Equal(t, unsorted, readFile(t, root, "my_target/d.rs"))
}

func TestFormatPathsPreservesTerminators(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.rs": "#[derive(Eq, PartialEq)]\r\nstruct A;\r\n#[derive( Zeta,Hash )]",
	})

	_, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{})
	require.NoError(t, err)
	require.Equal(t, "#[derive(PartialEq, Eq)]\r\nstruct A;\r\n#[derive(Hash, Zeta)]", readFile(t, root, "a.rs"))
}

func TestFormatPathsLeavesCanonicalFilesAlone(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": sorted})
	path := filepath.Join(root, "a.rs")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, old, old))

	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Changed)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.ModTime().Equal(old), "unchanged file was rewritten")
}

func TestFormatPathsPreservesMode(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": unsorted})
	path := filepath.Join(root, "a.rs")
	require.NoError(t, os.Chmod(path, 0o600))

	_, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{})
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file left behind")
}

func TestFormatPathsCheckDoesNotWrite(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": unsorted, "b.rs": sorted})

	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{Check: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Changed)
	require.False(t, results[1].Changed)
	require.Equal(t, unsorted, readFile(t, root, "a.rs"))
}

func TestFormatPathsStdout(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": unsorted})

	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{Stdout: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, sorted, string(results[0].Formatted))
	require.Equal(t, unsorted, readFile(t, root, "a.rs"))
}

func TestFormatPathsExplicitFileAndExclude(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.rs":            unsorted,
		"vendor/x/b.rs":   unsorted,
		"gen/c_gen.rs":    unsorted,
		"gen/d.rs":        unsorted,
		"single/notes.rs": unsorted,
	})

	opts := driver.FormatOptions{Walk: driver.WalkOptions{Exclude: []string{"vendor/**", "**/*_gen.rs"}}}
	results, err := driver.FormatPaths(context.Background(), []string{root, filepath.Join(root, "a.rs")}, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a.rs", "gen/d.rs", "single/notes.rs"}, resultPaths(root, results))
	require.Equal(t, unsorted, readFile(t, root, "vendor/x/b.rs"))
	require.Equal(t, unsorted, readFile(t, root, "gen/c_gen.rs"))
}

func TestFormatPathsCustomWalkAndTable(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.rsx":        "#[derive(Copy, Debug)]\n",
		"a.rs":         "#[derive(Copy, Debug)]\n",
		"out/b.rsx":    "#[derive(Copy, Debug)]\n",
		"target/c.rsx": "#[derive(Copy, Debug)]\n",
	})
	table, err := derive.NewPriorityTable([]string{"Debug", "Copy"})
	require.NoError(t, err)

	opts := driver.FormatOptions{
		Table: table,
		Walk:  driver.WalkOptions{Extension: ".rsx", Skip: []string{"out"}},
	}
	results, err := driver.FormatPaths(context.Background(), []string{root}, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a.rsx", "target/c.rsx"}, resultPaths(root, results))
	require.Equal(t, "#[derive(Debug, Copy)]\n", readFile(t, root, "a.rsx"))
	require.Equal(t, "#[derive(Copy, Debug)]\n", readFile(t, root, "a.rs"))
}

func TestFormatPathsParallelMatchesSequential(t *testing.T) {
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files["m/"+name+".rs"] = unsorted
	}
	seqRoot, parRoot := t.TempDir(), t.TempDir()
	writeTree(t, seqRoot, files)
	writeTree(t, parRoot, files)

	seq, err := driver.FormatPaths(context.Background(), []string{seqRoot}, driver.FormatOptions{Jobs: 1})
	require.NoError(t, err)
	par, err := driver.FormatPaths(context.Background(), []string{parRoot}, driver.FormatOptions{Jobs: 4})
	require.NoError(t, err)
	require.Equal(t, resultPaths(seqRoot, seq), resultPaths(parRoot, par))
	for name := range files {
		require.Equal(t, sorted, readFile(t, parRoot, name))
	}
}

func TestFormatPathsCache(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": unsorted, "b.rs": sorted})
	cache, err := fmtcache.Open(t.TempDir())
	require.NoError(t, err)

	first, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{Cache: cache})
	require.NoError(t, err)
	require.True(t, first[0].Changed)
	require.False(t, first[0].Cached)

	second, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{Cache: cache})
	require.NoError(t, err)
	require.True(t, second[0].Cached)
	require.True(t, second[1].Cached)

	other, err := derive.NewPriorityTable([]string{"Debug", "Clone", "Copy"})
	require.NoError(t, err)
	third, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{Cache: cache, Table: other})
	require.NoError(t, err)
	require.False(t, third[0].Cached, "a different table must bypass the cache")
	require.True(t, third[0].Changed)
}

func TestFormatPathsReportsVisitsInOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": unsorted, "b/c.rs": sorted})

	var mu sync.Mutex
	var working, done []string
	outOfOrder := false
	sink := driver.SinkFunc(func(ev driver.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.File == "" {
			return
		}
		switch ev.Status {
		case driver.StatusWorking:
			working = append(working, ev.File)
		case driver.StatusDone:
			if !slices.Contains(working, ev.File) {
				outOfOrder = true
			}
			done = append(done, ev.File)
		}
	})

	timer := observ.NewTimer()
	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{Progress: sink, Timer: timer})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(root, "a.rs"), filepath.Join(root, "b", "c.rs")}, working)
	require.Equal(t, working, done)
	require.False(t, outOfOrder, "done reported before working")
	require.Len(t, results, 2)
	require.Len(t, timer.Report().Phases, 2)
}

func TestFormatPathsEmptyTree(t *testing.T) {
	results, err := driver.FormatPaths(context.Background(), []string{t.TempDir()}, driver.FormatOptions{})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestFormatPathsMissingRoot(t *testing.T) {
	_, err := driver.FormatPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope")}, driver.FormatOptions{})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFormatPathsAbortsOnIOError(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.rs": unsorted, "c.rs": unsorted})
	require.NoError(t, os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "b.rs")))

	results, err := driver.FormatPaths(context.Background(), []string{root}, driver.FormatOptions{})
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Contains(t, err.Error(), "b.rs")
	require.Nil(t, results)
	require.Equal(t, unsorted, readFile(t, root, "c.rs"), "run continued past the failing file")
}

func TestFormatPathsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := driver.FormatPaths(ctx, []string{t.TempDir()}, driver.FormatOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWalkOptionsValidate(t *testing.T) {
	require.Error(t, driver.WalkOptions{Exclude: []string{"[unclosed"}}.Validate())
	require.Error(t, driver.WalkOptions{Skip: []string{"a/b"}}.Validate())
	require.Error(t, driver.WalkOptions{Extension: "rs"}.Validate())
	require.NoError(t, driver.WalkOptions{Extension: ".rs", Skip: []string{"target"}, Exclude: []string{"**/gen/**"}}.Validate())
}
