// Package session coordinates one synchronization run: it receives
// example results as they complete, compares them against the recorded
// expected output, accumulates pending edits per file, and commits the
// batches at well-defined points. All session state lives on the Session
// value constructed at run start and torn down at Done; nothing is
// global.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"goaccept/internal/batch"
	"goaccept/internal/compare"
	"goaccept/internal/locate"
	"goaccept/internal/render"
	"goaccept/internal/writer"
	"goaccept/pkg/doctest"
)

// State is the coordinator's lifecycle phase.
type State int

const (
	Collecting State = iota // files and examples are being registered
	Running                 // results are being recorded
	Finalizing              // batches are being committed
	Done                    // terminal; nothing further is accepted
)

func (s State) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Running:
		return "running"
	case Finalizing:
		return "finalizing"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrState is returned when an operation arrives in the wrong phase.
var ErrState = errors.New("invalid session state")

// Config selects the session's commit behavior.
type Config struct {
	// CommitPerFile commits a file's batch as soon as its last
	// outstanding example reports, instead of waiting for Finalize.
	CommitPerFile bool
	// CopySuffix writes "<file><suffix>" instead of rewriting in place.
	CopySuffix string
	// DryRun materializes batches but never touches disk.
	DryRun bool
	// OnMaterialize, when set, observes each file's pristine and updated
	// body at commit time (or in place of the commit for a dry run). The
	// session does not retain either body afterwards.
	OnMaterialize func(path string, pristine, updated []byte)
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// LocateFailure is a per-example diagnostic: the output block could not
// be found, so the file was left untouched for that example.
type LocateFailure struct {
	Example doctest.ID
	Reason  string
}

// FileReport collects everything that happened to one file during the
// session.
type FileReport struct {
	Path            string
	Examples        int
	Applied         []doctest.ID
	LocateFailures  []LocateFailure
	Duplicates      []doctest.ID
	ConflictAborted bool
	WriteError      string
	Committed       bool
}

// Diagnostics is the session-level outcome surfaced to the reporting
// layer at the end of the run.
type Diagnostics struct {
	Files   map[string]*FileReport
	Matched int
	Total   int
}

type fileState struct {
	pristine    []byte
	fingerprint writer.Fingerprint
	examples    map[doctest.ID]doctest.Example
	delivered   map[doctest.ID]bool
	outstanding int
	committed   bool
}

// Session owns the edit batches and diagnostics for one run. Record is
// safe to call from parallel workers; commits for independent files may
// run concurrently, but no two commits for the same file ever race.
type Session struct {
	mu    sync.Mutex
	state State
	cfg   Config
	log   *slog.Logger
	files map[string]*fileState
	edits *batch.Manager
	w     *writer.Writer
	diags Diagnostics
	seq   int
}

// commitJob carries everything a commit needs out of the locked region.
type commitJob struct {
	path        string
	pristine    []byte
	fingerprint writer.Fingerprint
}

// New constructs a session in the Collecting state.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:   cfg,
		log:   log,
		files: make(map[string]*fileState),
		edits: batch.NewManager(),
		w:     &writer.Writer{CopySuffix: cfg.CopySuffix},
		diags: Diagnostics{Files: make(map[string]*FileReport)},
	}
}

// AddFile registers a file's pristine text and its discovered examples.
// The fingerprint captured here is what Commit later checks against.
func (s *Session) AddFile(path string, pristine []byte, examples []doctest.Example) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Collecting {
		return fmt.Errorf("%w: AddFile in %s", ErrState, s.state)
	}
	if _, dup := s.files[path]; dup {
		return fmt.Errorf("file %s registered twice", path)
	}

	fs := &fileState{
		pristine:    append([]byte(nil), pristine...),
		fingerprint: writer.FingerprintOf(pristine),
		examples:    make(map[doctest.ID]doctest.Example, len(examples)),
		delivered:   make(map[doctest.ID]bool, len(examples)),
	}
	for _, ex := range examples {
		id := ex.ID()
		if _, dup := fs.examples[id]; dup {
			return fmt.Errorf("example %s registered twice", id)
		}
		fs.examples[id] = ex
	}
	fs.outstanding = len(fs.examples)

	s.files[path] = fs
	s.diags.Files[path] = &FileReport{Path: path, Examples: len(examples)}
	s.log.Debug("file registered", "path", path, "examples", len(examples))
	return nil
}

// Start moves the session from Collecting to Running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Collecting {
		return fmt.Errorf("%w: Start in %s", ErrState, s.state)
	}
	s.state = Running
	return nil
}

// Record delivers one example's result. Matching results only bump
// counters; a mismatch is located against the file's pristine text and
// turned into a pending edit. Locate failures are diagnostics, not
// errors. Duplicate delivery of a result fails with
// batch.ErrDuplicateEdit and changes nothing.
func (s *Session) Record(res doctest.Result) error {
	job, err := s.record(res)
	if job != nil {
		s.runCommit(*job)
	}
	return err
}

func (s *Session) record(res doctest.Result) (*commitJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return nil, fmt.Errorf("%w: Record in %s", ErrState, s.state)
	}

	fs := s.files[res.Example.File]
	if fs == nil {
		return nil, fmt.Errorf("result for unregistered file %s", res.Example.File)
	}
	ex, known := fs.examples[res.Example]
	if !known {
		return nil, fmt.Errorf("result for unknown example %s", res.Example)
	}
	report := s.diags.Files[res.Example.File]

	if fs.delivered[res.Example] {
		report.Duplicates = append(report.Duplicates, res.Example)
		return nil, fmt.Errorf("%s: %w", res.Example, batch.ErrDuplicateEdit)
	}
	fs.delivered[res.Example] = true
	fs.outstanding--

	s.seq++
	res.Seq = s.seq
	s.diags.Total++

	if s.matches(ex, res) {
		s.diags.Matched++
		return s.maybeCommitLocked(res.Example.File, fs), nil
	}

	blk, err := locate.Locate(fs.pristine, ex)
	if err != nil {
		var nf *locate.NotFoundError
		reason := err.Error()
		if errors.As(err, &nf) {
			reason = nf.Reason
		}
		report.LocateFailures = append(report.LocateFailures, LocateFailure{Example: res.Example, Reason: reason})
		s.log.Warn("output block not found, file left untouched for example",
			"example", res.Example.String(), "reason", reason)
		return s.maybeCommitLocked(res.Example.File, fs), nil
	}

	newText := render.Block(res.Text(), render.StyleFor(fs.pristine, blk))
	err = s.edits.Record(batch.Edit{
		File:    res.Example.File,
		Example: res.Example,
		Span:    blk.Span,
		NewText: newText,
		Seq:     res.Seq,
	})
	if err != nil {
		report.Duplicates = append(report.Duplicates, res.Example)
		s.log.Warn("edit rejected", "example", res.Example.String(), "err", err)
		return s.maybeCommitLocked(res.Example.File, fs), err
	}

	s.log.Debug("edit recorded", "example", res.Example.String(),
		"span_start", blk.Span.Start, "span_end", blk.Span.End)
	return s.maybeCommitLocked(res.Example.File, fs), nil
}

// matches applies the comparison rules for one example.
func (s *Session) matches(ex doctest.Example, res doctest.Result) bool {
	if ex.Unordered && res.Err == nil && compare.UnorderedMatch(ex.Want, res.Output, ex.Options) {
		return true
	}
	return compare.Compare(ex.Want, res, ex.Options).Match
}

// maybeCommitLocked claims a per-file commit once the file's last
// outstanding example has reported, in commit-per-file mode. The commit
// itself runs outside the session lock.
func (s *Session) maybeCommitLocked(path string, fs *fileState) *commitJob {
	if !s.cfg.CommitPerFile || fs.outstanding > 0 || fs.committed {
		return nil
	}
	fs.committed = true
	if s.edits.Len(path) == 0 {
		return nil
	}
	return &commitJob{path: path, pristine: fs.pristine, fingerprint: fs.fingerprint}
}

// runCommit materializes one file's batch and commits it. Failures
// degrade to per-file diagnostics; they never abort the session.
func (s *Session) runCommit(job commitJob) {
	applied := s.edits.Examples(job.path)
	updated, err := s.edits.Materialize(job.path, job.pristine)
	s.edits.Take(job.path)

	if err == nil && s.cfg.OnMaterialize != nil {
		s.cfg.OnMaterialize(job.path, job.pristine, updated)
	}
	if err == nil && !s.cfg.DryRun {
		err = s.w.Commit(job.path, updated, job.fingerprint)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	report := s.diags.Files[job.path]
	if fs := s.files[job.path]; fs != nil {
		fs.pristine = nil // no file text is retained past its commit
	}
	switch {
	case errors.Is(err, writer.ErrConcurrentModification):
		report.ConflictAborted = true
		s.log.Warn("file changed since session start, not writing results", "path", job.path)
	case err != nil:
		report.WriteError = err.Error()
		s.log.Error("commit failed, original content intact", "path", job.path, "err", err)
	default:
		report.Applied = applied
		report.Committed = !s.cfg.DryRun
		s.log.Info("expected output updated", "path", job.path,
			"edits", len(applied), "dry_run", s.cfg.DryRun)
	}
}

// Finalize commits every file with a pending batch and moves the session
// to Done. Independent files commit concurrently; an error in one file
// never stops the others. The returned diagnostics are the session's
// final report.
func (s *Session) Finalize(ctx context.Context) (Diagnostics, error) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return Diagnostics{}, fmt.Errorf("%w: Finalize in %s", ErrState, s.state)
	}
	s.state = Finalizing

	var jobs []commitJob
	for _, path := range s.edits.Files() {
		fs := s.files[path]
		if fs == nil || fs.committed {
			continue
		}
		fs.committed = true
		jobs = append(jobs, commitJob{path: path, pristine: fs.pristine, fingerprint: fs.fingerprint})
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				s.mu.Lock()
				s.diags.Files[job.path].WriteError = err.Error()
				s.mu.Unlock()
				return nil
			}
			s.runCommit(job)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Done
	return s.snapshotLocked(), nil
}

// Abort discards the session before any writes. It is a no-op once
// finalization has begun.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Collecting || s.state == Running {
		s.state = Done
		s.log.Info("session aborted, no files written")
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Diagnostics returns a snapshot of the session's per-file outcomes.
func (s *Session) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Diagnostics {
	out := Diagnostics{
		Files:   make(map[string]*FileReport, len(s.diags.Files)),
		Matched: s.diags.Matched,
		Total:   s.diags.Total,
	}
	for path, r := range s.diags.Files {
		cp := *r
		cp.Applied = append([]doctest.ID(nil), r.Applied...)
		cp.LocateFailures = append([]LocateFailure(nil), r.LocateFailures...)
		cp.Duplicates = append([]doctest.ID(nil), r.Duplicates...)
		out.Files[path] = &cp
	}
	return out
}
