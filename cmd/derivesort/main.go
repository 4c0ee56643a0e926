package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"derivesort/internal/trace"
	"derivesort/internal/version"
)

// newRootCmd builds the command tree. Without a subcommand the root formats,
// so `derivesort src` is the same as `derivesort fmt src`.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "derivesort [path...]",
		Short: "Canonical ordering for Rust #[derive(...)] lists",
		Long: `derivesort walks Rust source trees and rewrites single-line #[derive(...)]
attributes so derived traits appear in a fixed priority order.`,
		Version:       version.Version,
		Args:          cobra.ArbitraryArgs,
		SilenceErrors: true,
		RunE:          runFmt,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			colorMode, err := cmd.Root().PersistentFlags().GetString("color")
			if err != nil {
				return fmt.Errorf("failed to get color flag: %w", err)
			}
			if err := applyColorMode(colorMode); err != nil {
				return err
			}
			if finishTracing, err = setupTracing(cmd); err != nil {
				return err
			}
			finishProfiling, err = setupProfiling(cmd)
			return err
		},
	}
	addFmtFlags(rootCmd)

	// Глобальные флаги
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress the per-file audit trail and summary")
	rootCmd.PersistentFlags().Bool("timings", false, "show timing information")
	rootCmd.PersistentFlags().String("config", "", "path to derivesort.toml (default: search upward from the working directory)")
	rootCmd.PersistentFlags().String("trace", "", "trace output file (- for stderr)")
	rootCmd.PersistentFlags().String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	rootCmd.PersistentFlags().String("trace-mode", "stream", "trace storage (stream|ring|both)")
	rootCmd.PersistentFlags().Int("trace-ring-size", trace.DefaultRingSize, "events kept in the trace ring buffer")
	rootCmd.PersistentFlags().String("cpu-profile", "", "write a CPU profile to this file")
	rootCmd.PersistentFlags().String("mem-profile", "", "write a heap profile to this file on exit")
	rootCmd.PersistentFlags().String("runtime-trace", "", "write a Go runtime trace to this file")

	rootCmd.AddCommand(newFmtCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// execute runs the CLI and reports a failure on stderr; it returns the exit code.
func execute(ctx context.Context, args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if finishProfiling != nil {
		finishProfiling()
		finishProfiling = nil
	}
	if err != nil {
		dumpTraceRing(os.Stderr)
	}
	if finishTracing != nil {
		finishTracing()
		finishTracing = nil
	}
	activeTracer = trace.Nop
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:]))
}
