package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"goaccept/internal/batch"
	"goaccept/pkg/doctest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const twoExamples = `package demo

import "fmt"

func ExampleA() {
	fmt.Println(add(2, 2))
	// Output:
	// 3
}

func ExampleB() {
	fmt.Println("ok")
	// Output:
	// ok
}
`

func demoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo_test.go")
	require.NoError(t, os.WriteFile(path, []byte(twoExamples), 0o644))
	return path
}

func demoExamples(path string) (a, b doctest.Example) {
	a = doctest.Example{
		File: path, Name: "ExampleA", Ordinal: 0,
		HeaderLine: 7, WantStart: 8, WantEnd: 8, Want: "3",
	}
	b = doctest.Example{
		File: path, Name: "ExampleB", Ordinal: 1,
		HeaderLine: 13, WantStart: 14, WantEnd: 14, Want: "ok",
	}
	return a, b
}

func newRunning(t *testing.T, cfg Config, path string, examples ...doctest.Example) *Session {
	t.Helper()
	s := New(cfg)
	pristine, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, s.AddFile(path, pristine, examples))
	require.NoError(t, s.Start())
	return s
}

func TestConcreteScenario(t *testing.T) {
	// Example A expects "3" but produces "4"; example B already matches.
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	want := strings.Replace(twoExamples, "\t// 3", "\t// 4", 1)
	require.Equal(t, want, string(got))

	report := diags.Files[path]
	require.True(t, report.Committed)
	require.Equal(t, []doctest.ID{exA.ID()}, report.Applied)
	require.Equal(t, 1, diags.Matched)
	require.Equal(t, 2, diags.Total)
}

func TestIdempotence(t *testing.T) {
	// A second session over the rewritten file produces zero edits.
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))
	_, err := s.Finalize(context.Background())
	require.NoError(t, err)

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	// Convergence: the example now expects what it produced.
	exA.Want = "4"
	s2 := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s2.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s2.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))
	diags, err := s2.Finalize(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, diags.Matched)
	require.Empty(t, diags.Files[path].Applied)

	second, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestOrderIndependence(t *testing.T) {
	run := func(reversed bool) string {
		path := demoFile(t)
		exA, exB := demoExamples(path)
		s := newRunning(t, Config{}, path, exA, exB)

		results := []doctest.Result{
			{Example: exA.ID(), Output: "4"},
			{Example: exB.ID(), Output: "changed"},
		}
		if reversed {
			results[0], results[1] = results[1], results[0]
		}
		for _, res := range results {
			require.NoError(t, s.Record(res))
		}
		_, err := s.Finalize(context.Background())
		require.NoError(t, err)

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		return string(got)
	}

	require.Equal(t, run(false), run(true))
}

func TestNonInterference(t *testing.T) {
	// Only the mismatching example's span changes; all other bytes are
	// preserved exactly.
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))
	_, err := s.Finalize(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strings.Replace(twoExamples, "\t// 3", "\t// 4", 1), string(got))
	require.Contains(t, string(got), "\t// ok")
}

func TestWhitespaceAndEllipsisSuppression(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)
	exA.Want = "4   suffix"
	exA.Options = doctest.Options{NormalizeWhitespace: true}
	exB.Want = "ok ... end"
	exB.Options = doctest.Options{Ellipsis: true}

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4 suffix"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok whatever end"}))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, diags.Matched)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, twoExamples, string(got))
}

func TestUnorderedExample(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)
	exA.Unordered = true
	exA.Want = "3"

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "3"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, diags.Matched)
}

func TestAbortPerformsNoWrites(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))

	s.Abort()
	require.Equal(t, Done, s.State())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, twoExamples, string(got))

	// Nothing is accepted after Done.
	err = s.Record(doctest.Result{Example: exB.ID(), Output: "x"})
	require.ErrorIs(t, err, ErrState)
	_, err = s.Finalize(context.Background())
	require.ErrorIs(t, err, ErrState)
}

func TestDuplicateDelivery(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))

	err := s.Record(doctest.Result{Example: exA.ID(), Output: "5"})
	require.ErrorIs(t, err, batch.ErrDuplicateEdit)

	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))
	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)

	// The first delivery wins; the duplicate is a diagnostic only.
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(got), "\t// 4")
	require.Equal(t, []doctest.ID{exA.ID()}, diags.Files[path].Duplicates)
}

func TestLocateFailureLeavesFileUntouched(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)
	// A stale line range that no longer points at an output header.
	exA.HeaderLine = 6
	exA.WantStart, exA.WantEnd = 7, 7

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)

	report := diags.Files[path]
	require.Len(t, report.LocateFailures, 1)
	require.Empty(t, report.Applied)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, twoExamples, string(got))
}

func TestConcurrentModificationAbortsFile(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))

	// External edit between recording and finalizing.
	require.NoError(t, os.WriteFile(path, []byte("rewritten by user\n"), 0o644))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)

	require.True(t, diags.Files[path].ConflictAborted)
	require.False(t, diags.Files[path].Committed)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "rewritten by user\n", string(got))
}

func TestFailureInOneFileDoesNotAbortOthers(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a_test.go")
	pathB := filepath.Join(dir, "b_test.go")
	require.NoError(t, os.WriteFile(pathA, []byte(twoExamples), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte(twoExamples), 0o644))

	a1, a2 := demoExamples(pathA)
	b1, b2 := demoExamples(pathB)

	s := New(Config{})
	require.NoError(t, s.AddFile(pathA, []byte(twoExamples), []doctest.Example{a1, a2}))
	require.NoError(t, s.AddFile(pathB, []byte(twoExamples), []doctest.Example{b1, b2}))
	require.NoError(t, s.Start())

	for _, res := range []doctest.Result{
		{Example: a1.ID(), Output: "4"},
		{Example: a2.ID(), Output: "ok"},
		{Example: b1.ID(), Output: "5"},
		{Example: b2.ID(), Output: "ok"},
	} {
		require.NoError(t, s.Record(res))
	}

	// Corrupt file A underneath the session.
	require.NoError(t, os.WriteFile(pathA, []byte("conflict\n"), 0o644))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)

	require.True(t, diags.Files[pathA].ConflictAborted)
	require.True(t, diags.Files[pathB].Committed)

	got, err := os.ReadFile(pathB)
	require.NoError(t, err)
	require.Contains(t, string(got), "\t// 5")
}

func TestCommitPerFile(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a_test.go")
	pathB := filepath.Join(dir, "b_test.go")
	require.NoError(t, os.WriteFile(pathA, []byte(twoExamples), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte(twoExamples), 0o644))

	a1, a2 := demoExamples(pathA)
	b1, b2 := demoExamples(pathB)

	s := New(Config{CommitPerFile: true})
	require.NoError(t, s.AddFile(pathA, []byte(twoExamples), []doctest.Example{a1, a2}))
	require.NoError(t, s.AddFile(pathB, []byte(twoExamples), []doctest.Example{b1, b2}))
	require.NoError(t, s.Start())

	require.NoError(t, s.Record(doctest.Result{Example: a1.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: a2.ID(), Output: "ok"}))

	// File A committed as soon as its last example reported, while B is
	// still outstanding.
	got, err := os.ReadFile(pathA)
	require.NoError(t, err)
	require.Contains(t, string(got), "\t// 4")

	require.NoError(t, s.Record(doctest.Result{Example: b1.ID(), Output: "7"}))
	require.NoError(t, s.Record(doctest.Result{Example: b2.ID(), Output: "ok"}))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)
	require.True(t, diags.Files[pathA].Committed)
	require.True(t, diags.Files[pathB].Committed)

	got, err = os.ReadFile(pathB)
	require.NoError(t, err)
	require.Contains(t, string(got), "\t// 7")
}

func TestDryRun(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)

	var observedPath string
	var observedUpdated []byte
	s := newRunning(t, Config{
		DryRun: true,
		OnMaterialize: func(p string, pristine, updated []byte) {
			observedPath = p
			observedUpdated = append([]byte(nil), updated...)
		},
	}, path, exA, exB)

	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)

	require.Equal(t, path, observedPath)
	require.Contains(t, string(observedUpdated), "\t// 4")
	require.False(t, diags.Files[path].Committed)
	require.Equal(t, []doctest.ID{exA.ID()}, diags.Files[path].Applied)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, twoExamples, string(got))
}

func TestCopyMode(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{CopySuffix: ".new"}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{Example: exA.ID(), Output: "4"}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))
	_, err := s.Finalize(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, twoExamples, string(got))

	copied, err := os.ReadFile(path + ".new")
	require.NoError(t, err)
	require.Contains(t, string(copied), "\t// 4")
}

func TestErrorResultRewritesBlock(t *testing.T) {
	path := demoFile(t)
	exA, exB := demoExamples(path)

	s := newRunning(t, Config{}, path, exA, exB)
	require.NoError(t, s.Record(doctest.Result{
		Example: exA.ID(),
		Err:     &doctest.Failure{Category: "panic", Message: "boom"},
	}))
	require.NoError(t, s.Record(doctest.Result{Example: exB.ID(), Output: "ok"}))
	_, err := s.Finalize(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(got), "\t// panic: boom")
}

func TestConcurrentRecording(t *testing.T) {
	// Many files, results delivered from parallel workers.
	dir := t.TempDir()
	const files = 8

	s := New(Config{})
	var ids []doctest.ID
	paths := make([]string, files)
	for i := 0; i < files; i++ {
		paths[i] = filepath.Join(dir, fmt.Sprintf("f%d_test.go", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(twoExamples), 0o644))
		exA, exB := demoExamples(paths[i])
		require.NoError(t, s.AddFile(paths[i], []byte(twoExamples), []doctest.Example{exA, exB}))
		ids = append(ids, exA.ID(), exB.ID())
	}
	require.NoError(t, s.Start())

	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id doctest.ID) {
			defer wg.Done()
			out := "4"
			if id.Ordinal == 1 {
				out = "ok"
			}
			errs <- s.Record(doctest.Result{Example: id, Output: out})
		}(id)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	diags, err := s.Finalize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2*files, diags.Total)

	for _, p := range paths {
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		require.Equal(t, strings.Replace(twoExamples, "\t// 3", "\t// 4", 1), string(got))
	}
}

func TestAddFileAfterStart(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Start())
	err := s.AddFile("x_test.go", nil, nil)
	require.ErrorIs(t, err, ErrState)
}

func TestRecordUnknownExample(t *testing.T) {
	path := demoFile(t)
	exA, _ := demoExamples(path)
	s := newRunning(t, Config{}, path, exA)

	err := s.Record(doctest.Result{Example: doctest.ID{File: "other.go", Line: 1}})
	require.Error(t, err)

	err = s.Record(doctest.Result{Example: doctest.ID{File: path, Line: 99}})
	require.Error(t, err)
}
