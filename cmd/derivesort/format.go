package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"derivesort/internal/driver"
	"derivesort/internal/fmtcache"
	"derivesort/internal/observ"
)

const appName = "derivesort"

func newFmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fmt [flags] [path...]",
		Short: "Sort #[derive(...)] lists in Rust sources",
		Long: `Rewrite every single-line #[derive(...)] attribute under the given paths
so its identifiers follow the configured priority order. Paths default to the
current directory; target directories are skipped.`,
		Args: cobra.ArbitraryArgs,
		RunE: runFmt,
	}
	addFmtFlags(cmd)
	return cmd
}

// addFmtFlags registers the formatting flags; the root command shares them.
func addFmtFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("check", false, "report files whose derive lists are unsorted without rewriting them")
	cmd.Flags().Bool("stdout", false, "print formatted sources to stdout instead of rewriting files")
	cmd.Flags().String("format", "text", "output format (text|json)")
	cmd.Flags().Int("jobs", 1, "files processed in parallel (0 = GOMAXPROCS)")
	cmd.Flags().StringArray("exclude", nil, "doublestar glob relative to each walked root (repeatable)")
	cmd.Flags().String("ui", "off", "progress view (auto|on|off)")
	cmd.Flags().Bool("cache", false, "skip files recorded as sorted by a previous run")
}

type fmtFlags struct {
	check   bool
	stdout  bool
	format  string
	jobs    int
	exclude []string
	ui      switchMode
	cache   bool
	quiet   bool
	timings bool
	config  string
}

func readFmtFlags(cmd *cobra.Command) (fmtFlags, error) {
	var (
		ff  fmtFlags
		err error
	)
	if ff.check, err = cmd.Flags().GetBool("check"); err != nil {
		return ff, fmt.Errorf("failed to get check flag: %w", err)
	}
	if ff.stdout, err = cmd.Flags().GetBool("stdout"); err != nil {
		return ff, fmt.Errorf("failed to get stdout flag: %w", err)
	}
	if ff.format, err = cmd.Flags().GetString("format"); err != nil {
		return ff, fmt.Errorf("failed to get format flag: %w", err)
	}
	if ff.jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
		return ff, fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if ff.exclude, err = cmd.Flags().GetStringArray("exclude"); err != nil {
		return ff, fmt.Errorf("failed to get exclude flag: %w", err)
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return ff, fmt.Errorf("failed to get ui flag: %w", err)
	}
	if ff.ui, err = readSwitchMode("ui", uiValue); err != nil {
		return ff, err
	}
	if ff.cache, err = cmd.Flags().GetBool("cache"); err != nil {
		return ff, fmt.Errorf("failed to get cache flag: %w", err)
	}
	root := cmd.Root().PersistentFlags()
	if ff.quiet, err = root.GetBool("quiet"); err != nil {
		return ff, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	if ff.timings, err = root.GetBool("timings"); err != nil {
		return ff, fmt.Errorf("failed to get timings flag: %w", err)
	}
	if ff.config, err = root.GetString("config"); err != nil {
		return ff, fmt.Errorf("failed to get config flag: %w", err)
	}

	ff.format = strings.ToLower(strings.TrimSpace(ff.format))
	switch ff.format {
	case "text", "json":
	default:
		return ff, fmt.Errorf("fmt: unsupported output format %q", ff.format)
	}
	if ff.stdout && ff.check {
		return ff, fmt.Errorf("fmt: --stdout cannot be used with --check")
	}
	if ff.stdout && ff.format != "text" {
		return ff, fmt.Errorf("fmt: --stdout is only supported with text output")
	}
	if ff.jobs < 0 {
		return ff, fmt.Errorf("fmt: --jobs must be >= 0, got %d", ff.jobs)
	}
	if ff.jobs == 0 {
		ff.jobs = runtime.GOMAXPROCS(0)
	}
	return ff, nil
}

func runFmt(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	ff, err := readFmtFlags(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(ff.config, ".")
	if err != nil {
		return err
	}

	walk := cfg.Walk
	walk.Exclude = append(append([]string(nil), walk.Exclude...), ff.exclude...)
	if err := walk.Validate(); err != nil {
		return fmt.Errorf("fmt: %w", err)
	}

	var timer *observ.Timer
	if ff.timings {
		timer = observ.NewTimer()
	}
	opts := driver.FormatOptions{
		Table:  cfg.Table,
		Walk:   walk,
		Check:  ff.check,
		Stdout: ff.stdout,
		Jobs:   ff.jobs,
		Timer:  timer,
	}
	if ff.cache && !ff.stdout {
		cache, err := fmtcache.OpenDefault(appName)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: cache disabled: %v\n", err)
		} else {
			opts.Cache = cache
		}
	}

	out := cmd.OutOrStdout()
	var results []driver.FormatResult
	switch {
	case !ff.stdout && ff.format == "text" && ff.ui.enabledFor(os.Stdout):
		results, err = runFormatWithUI(cmd.Context(), out, "sorting derives", args, opts)
	default:
		if ff.format == "text" && !ff.stdout && !ff.quiet {
			opts.Progress = newVisitPrinter(out)
		}
		results, err = driver.FormatPaths(cmd.Context(), args, opts)
	}
	if timer != nil {
		fmt.Fprint(cmd.ErrOrStderr(), timer.Summary())
	}
	if err != nil {
		return err
	}

	switch {
	case ff.stdout:
		return renderFmtStdout(out, results)
	case ff.format == "json":
		if err := renderFmtJSON(out, results); err != nil {
			return err
		}
	default:
		renderFmtText(cmd.ErrOrStderr(), results, ff.check, ff.quiet)
	}
	if ff.check {
		if n := countChanged(results); n > 0 {
			return fmt.Errorf("fmt: derive lists need sorting in %d file(s)", n)
		}
	}
	return nil
}

// visitPrinter prints each file path as processing starts.
type visitPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newVisitPrinter(out io.Writer) *visitPrinter {
	return &visitPrinter{out: out}
}

func (p *visitPrinter) OnEvent(ev driver.Event) {
	if ev.Stage != driver.StageFormat || ev.Status != driver.StatusWorking {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, ev.File)
}

func renderFmtStdout(out io.Writer, results []driver.FormatResult) error {
	for _, res := range results {
		if _, err := out.Write(res.Formatted); err != nil {
			return err
		}
	}
	return nil
}

// renderFmtText writes check findings and a summary line to w.
func renderFmtText(w io.Writer, results []driver.FormatResult, check, quiet bool) {
	if check {
		for _, res := range results {
			if res.Changed {
				fmt.Fprintf(w, "%s %s\n", color.YellowString("unsorted"), res.Path)
			}
		}
	}
	if quiet {
		return
	}
	changed, cached := 0, 0
	for _, res := range results {
		if res.Changed {
			changed++
		}
		if res.Cached {
			cached++
		}
	}
	verb := "rewritten"
	if check {
		verb = "unsorted"
	}
	summary := fmt.Sprintf("%d file(s), %d %s", len(results), changed, verb)
	if cached > 0 {
		summary += fmt.Sprintf(", %d cached", cached)
	}
	if changed > 0 && check {
		fmt.Fprintln(w, color.YellowString(summary))
		return
	}
	fmt.Fprintln(w, color.GreenString(summary))
}

type jsonResult struct {
	Path      string `json:"path"`
	Changed   bool   `json:"changed"`
	Cached    bool   `json:"cached"`
	Matched   int    `json:"matched"`
	Rewritten int    `json:"rewritten"`
}

func renderFmtJSON(out io.Writer, results []driver.FormatResult) error {
	payload := make([]jsonResult, 0, len(results))
	for _, res := range results {
		payload = append(payload, jsonResult{
			Path:      res.Path,
			Changed:   res.Changed,
			Cached:    res.Cached,
			Matched:   res.Stats.Matched,
			Rewritten: res.Stats.Rewritten,
		})
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func countChanged(results []driver.FormatResult) int {
	n := 0
	for _, res := range results {
		if res.Changed {
			n++
		}
	}
	return n
}
