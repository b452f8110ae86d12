// Package batch accumulates pending edits per file over a session and
// materializes them into new file bodies. Every span in a batch was
// computed against the file's pristine text, and materialization applies
// edits back-to-front, so earlier replacements never invalidate offsets
// of edits still pending. That single invariant is what makes rewriting
// several examples in one file correct without a second locate pass.
package batch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"goaccept/internal/locate"
	"goaccept/pkg/doctest"
)

var (
	// ErrDuplicateEdit marks a second edit recorded for the same example
	// in one session. Duplicate result delivery is an integration
	// defect; it is fatal for that example's edit only.
	ErrDuplicateEdit = errors.New("duplicate edit for example")
	// ErrOverlap marks two edits in one file with overlapping spans.
	// Spans come from disjoint examples of one parse pass, so an overlap
	// is a collection-time defect, not a runtime race.
	ErrOverlap = errors.New("overlapping edit spans")
)

// Edit is one pending replacement: the span to replace within the
// pristine file text, and the text to splice in.
type Edit struct {
	File    string
	Example doctest.ID
	Span    locate.Span
	NewText string
	Seq     int // tie-break for identical span starts
}

// Manager holds the per-file edit batches of one session. It is safe for
// concurrent use; the session coordinator records into it from parallel
// workers.
type Manager struct {
	mu    sync.Mutex
	files map[string]*fileBatch
}

type fileBatch struct {
	edits []Edit
	seen  map[doctest.ID]struct{}
}

func NewManager() *Manager {
	return &Manager{files: make(map[string]*fileBatch)}
}

// Record appends an edit to its file's batch. Recording the same example
// twice fails with ErrDuplicateEdit; an edit whose span overlaps an
// already recorded one fails with ErrOverlap. The batch is unchanged on
// failure.
func (m *Manager) Record(e Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fb := m.files[e.File]
	if fb == nil {
		fb = &fileBatch{seen: make(map[doctest.ID]struct{})}
		m.files[e.File] = fb
	}

	if _, dup := fb.seen[e.Example]; dup {
		return fmt.Errorf("%s: %w", e.Example, ErrDuplicateEdit)
	}
	for _, prev := range fb.edits {
		if prev.Span.Overlaps(e.Span) {
			return fmt.Errorf("%s and %s: %w", prev.Example, e.Example, ErrOverlap)
		}
	}

	fb.seen[e.Example] = struct{}{}
	fb.edits = append(fb.edits, e)
	return nil
}

// Len returns the number of pending edits for a file.
func (m *Manager) Len(file string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fb := m.files[file]; fb != nil {
		return len(fb.edits)
	}
	return 0
}

// Files lists the files with a non-empty batch, sorted for deterministic
// commit order.
func (m *Manager) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for f, fb := range m.files {
		if len(fb.edits) > 0 {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// Examples returns the example IDs with edits pending for a file, in
// span order.
func (m *Manager) Examples(file string) []doctest.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb := m.files[file]
	if fb == nil {
		return nil
	}
	edits := append([]Edit(nil), fb.edits...)
	sort.Slice(edits, func(i, j int) bool { return edits[i].Span.Start < edits[j].Span.Start })
	ids := make([]doctest.ID, len(edits))
	for i, e := range edits {
		ids[i] = e.Example
	}
	return ids
}

// Materialize applies a file's pending edits to its pristine text and
// returns the reconstructed body. It never touches disk and leaves the
// batch in place; Take consumes it at commit time. Edits are applied in
// descending span-start order.
func (m *Manager) Materialize(file string, pristine []byte) ([]byte, error) {
	m.mu.Lock()
	fb := m.files[file]
	var edits []Edit
	if fb != nil {
		edits = append([]Edit(nil), fb.edits...)
	}
	m.mu.Unlock()

	if len(edits) == 0 {
		return nil, fmt.Errorf("no pending edits for %s", file)
	}

	sort.Slice(edits, func(i, j int) bool {
		if edits[i].Span.Start != edits[j].Span.Start {
			return edits[i].Span.Start > edits[j].Span.Start
		}
		return edits[i].Seq > edits[j].Seq
	})

	body := append([]byte(nil), pristine...)
	for _, e := range edits {
		if e.Span.End > len(body) || e.Span.Start > e.Span.End {
			return nil, fmt.Errorf("edit %s span [%d,%d) outside file of %d bytes",
				e.Example, e.Span.Start, e.Span.End, len(body))
		}
		spliced := make([]byte, 0, len(body)-e.Span.Len()+len(e.NewText))
		spliced = append(spliced, body[:e.Span.Start]...)
		spliced = append(spliced, e.NewText...)
		spliced = append(spliced, body[e.Span.End:]...)
		body = spliced
	}
	return body, nil
}

// Take removes and returns a file's batch. Each batch is consumed
// exactly once, at commit.
func (m *Manager) Take(file string) []Edit {
	m.mu.Lock()
	defer m.mu.Unlock()
	fb := m.files[file]
	if fb == nil {
		return nil
	}
	delete(m.files, file)
	return fb.edits
}
