// Package runner executes the discovered examples through the host
// toolchain ("go test -json") and turns the test2json event stream into
// results for the session coordinator. Execution stays a black box: this
// package only consumes what the test binary reports.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"

	"goaccept/pkg/doctest"
)

// Runner shells out to the go tool once per package directory.
type Runner struct {
	// GoTool overrides the "go" binary, for tests.
	GoTool string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (r *Runner) tool() string {
	if r.GoTool != "" {
		return r.GoTool
	}
	return "go"
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes every example in files, grouped by package directory, and
// returns one result per example that actually ran. files is keyed by
// file path as produced by discovery.
func (r *Runner) Run(ctx context.Context, files map[string][]doctest.Example) ([]doctest.Result, error) {
	byDir := make(map[string]map[string]doctest.Example)
	for path, examples := range files {
		dir := filepath.Dir(path)
		if byDir[dir] == nil {
			byDir[dir] = make(map[string]doctest.Example)
		}
		for _, ex := range examples {
			if prev, dup := byDir[dir][ex.Name]; dup {
				return nil, fmt.Errorf("example %s declared in both %s and %s", ex.Name, prev.File, ex.File)
			}
			byDir[dir][ex.Name] = ex
		}
	}

	var results []doctest.Result
	for dir, byName := range byDir {
		dirResults, err := r.runDir(ctx, dir, byName)
		if err != nil {
			return nil, err
		}
		results = append(results, dirResults...)
	}
	return results, nil
}

func (r *Runner) runDir(ctx context.Context, dir string, byName map[string]doctest.Example) ([]doctest.Result, error) {
	cmd := exec.CommandContext(ctx, r.tool(), "test", "-run", "^Example", "-json", ".")
	cmd.Dir = dir

	r.logger().Debug("running examples", "dir", dir, "count", len(byName))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("run examples in %s: %w", dir, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("run examples in %s: %w", dir, err)
	}

	events, parseErr := parseStream(stdout)

	// A failing example makes the go tool exit non-zero; that is the
	// expected signal, not a runner error.
	waitErr := cmd.Wait()
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("run examples in %s: %w", dir, waitErr)
	}
	if parseErr != nil {
		return nil, fmt.Errorf("parse test output for %s: %w", dir, parseErr)
	}

	return collate(events, byName), nil
}
