package main

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"goaccept/internal/discover"
	"goaccept/internal/report"
	"goaccept/internal/runner"
	"goaccept/internal/session"
	"goaccept/pkg/doctest"
)

var (
	verbose bool

	acceptCopy    bool
	commitPerFile bool
	dryRun        bool

	normalizeWhitespace bool
	ellipsis            bool
	relaxErrors         bool

	htmlPath string
	noColor  bool
)

var rootCmd = &cobra.Command{
	Use:   "goaccept",
	Short: "goaccept - sync recorded example output with reality",
	Long: `goaccept runs the Example functions of a Go package tree and rewrites
their "// Output:" comment blocks to match what the examples actually
printed. Everything outside the output blocks is preserved byte for
byte; files edited while a run is in flight are skipped, never
clobbered.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

var runCmd = &cobra.Command{
	Use:           "run [dir]",
	Short:         "Run the examples under dir and accept their output",
	Long:          `Discover Example functions under dir (default "."), run them through "go test", and rewrite stale expected-output blocks in place.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		return run(cmd, root)
	},
}

var scanCmd = &cobra.Command{
	Use:           "scan [dir]",
	Short:         "List the examples goaccept would synchronize",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		files, err := discover.Dir(root, options())
		if err != nil {
			return err
		}
		total := 0
		for path, examples := range files {
			for _, ex := range examples {
				kind := "output"
				if ex.Unordered {
					kind = "unordered output"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d %s (%s)\n", path, ex.HeaderLine, ex.Name, kind)
				total++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d example(s) in %d file(s)\n", total, len(files))
		return nil
	},
}

func options() doctest.Options {
	return doctest.Options{
		NormalizeWhitespace: normalizeWhitespace,
		Ellipsis:            ellipsis,
		RelaxedErrors:       relaxErrors,
	}
}

func run(cmd *cobra.Command, root string) error {
	files, err := discover.Dir(root, options())
	if err != nil {
		return fmt.Errorf("discover examples: %w", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no examples with recorded output found")
		return nil
	}

	// Diff previews are captured at commit time, against the same
	// pristine text the edits were computed from.
	var mu sync.Mutex
	previews := make(map[string]string)

	copySuffix := ""
	if acceptCopy {
		copySuffix = ".new"
	}
	s := session.New(session.Config{
		CommitPerFile: commitPerFile,
		CopySuffix:    copySuffix,
		DryRun:        dryRun,
		OnMaterialize: func(path string, pristine, updated []byte) {
			diff := report.Unified(path, string(pristine), string(updated))
			mu.Lock()
			previews[path] = diff
			mu.Unlock()
		},
	})

	for path, examples := range files {
		pristine, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := s.AddFile(path, pristine, examples); err != nil {
			return err
		}
	}
	if err := s.Start(); err != nil {
		return err
	}

	r := &runner.Runner{}
	results, err := r.Run(cmd.Context(), files)
	if err != nil {
		s.Abort()
		return fmt.Errorf("run examples: %w", err)
	}
	for _, res := range results {
		if err := s.Record(res); err != nil {
			slog.Warn("result not recorded", "example", res.Example.String(), "err", err)
		}
	}

	diags, err := s.Finalize(cmd.Context())
	if err != nil {
		return err
	}

	rep := &report.Report{Diagnostics: diags, Previews: previews}
	color := !noColor && term.IsTerminal(int(os.Stdout.Fd()))
	rep.WriteText(cmd.OutOrStdout(), color)

	if htmlPath != "" {
		if err := os.WriteFile(htmlPath, []byte(rep.HTML()), 0o644); err != nil {
			return fmt.Errorf("write html report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "html report written to %s\n", htmlPath)
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	runCmd.Flags().BoolVar(&acceptCopy, "accept-copy", false, "write <file>.new instead of rewriting in place")
	runCmd.Flags().BoolVar(&commitPerFile, "commit-per-file", false, "write each file as soon as its last example reports")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing anything")
	runCmd.Flags().BoolVar(&normalizeWhitespace, "normalize-whitespace", false, "treat any whitespace run as equal when comparing")
	runCmd.Flags().BoolVar(&ellipsis, "ellipsis", false, `let "..." in recorded output match anything`)
	runCmd.Flags().BoolVar(&relaxErrors, "relax-errors", false, "compare only the error category for failing examples")
	runCmd.Flags().StringVar(&htmlPath, "report-html", "", "also write an HTML report to this path")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors and diff previews")

	scanCmd.Flags().BoolVar(&normalizeWhitespace, "normalize-whitespace", false, "treat any whitespace run as equal when comparing")
	scanCmd.Flags().BoolVar(&ellipsis, "ellipsis", false, `let "..." in recorded output match anything`)
	scanCmd.Flags().BoolVar(&relaxErrors, "relax-errors", false, "compare only the error category for failing examples")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
