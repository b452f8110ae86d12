package report

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines bounds how much unchanged text a preview hunk carries.
const contextLines = 3

var dmp = func() *diffmatchpatch.DiffMatchPatch {
	d := diffmatchpatch.New()
	d.DiffTimeout = 0
	return d
}()

type lineOp struct {
	kind    byte // ' ', '-', '+'
	oldLine int  // 1-based, 0 for additions
	newLine int  // 1-based, 0 for removals
	text    string
}

// Unified renders a unified-style preview of the change from old to new,
// with a few lines of context around each edited region. It returns the
// empty string when the texts are identical.
func Unified(path, old, new string) string {
	if old == new {
		return ""
	}

	// Line-level reduction avoids newline boundary artifacts when
	// converting char diffs back to line ops.
	a, b, lines := dmp.DiffLinesToChars(old, new)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	ops := toLineOps(diffs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", path, path)
	for _, h := range hunks(ops) {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.oldStart, h.oldCount, h.newStart, h.newCount)
		for _, op := range h.ops {
			sb.WriteByte(op.kind)
			sb.WriteString(op.text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func toLineOps(diffs []diffmatchpatch.Diff) []lineOp {
	var ops []lineOp
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		for _, text := range splitDiffLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, lineOp{' ', oldLine, newLine, text})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, lineOp{'-', oldLine, 0, text})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, lineOp{'+', 0, newLine, text})
				newLine++
			}
		}
	}
	return ops
}

// splitDiffLines splits diff text into lines, dropping the empty trailing
// element the final newline produces.
func splitDiffLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	ops                []lineOp
}

// hunks groups line ops into context-bounded regions around the changes.
func hunks(ops []lineOp) []hunk {
	var out []hunk
	i := 0
	for i < len(ops) {
		if ops[i].kind == ' ' {
			i++
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		// Extend through subsequent changes closer than two context
		// windows apart.
		end := i
		last := i
		for end < len(ops) {
			if ops[end].kind != ' ' {
				last = end
			} else if end-last > 2*contextLines {
				break
			}
			end++
		}
		stop := last + contextLines + 1
		if stop > len(ops) {
			stop = len(ops)
		}
		out = append(out, makeHunk(ops[start:stop]))
		i = end
	}
	return out
}

func makeHunk(ops []lineOp) hunk {
	h := hunk{ops: ops}
	for _, op := range ops {
		if op.kind != '+' {
			h.oldCount++
			if h.oldStart == 0 {
				h.oldStart = op.oldLine
			}
		}
		if op.kind != '-' {
			h.newCount++
			if h.newStart == 0 {
				h.newStart = op.newLine
			}
		}
	}
	return h
}
