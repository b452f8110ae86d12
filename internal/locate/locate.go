// Package locate recovers the exact byte span of an example's
// expected-output block inside the owning file's pristine text. Spans are
// always measured against unmodified on-disk content; the engine never
// locates against a partially edited file.
package locate

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"goaccept/pkg/doctest"
)

// ErrNotFound is wrapped by every locate failure. Callers check it with
// errors.Is and leave the file untouched for that example.
var ErrNotFound = errors.New("expected-output block not found")

// NotFoundError reports why an example's output block could not be
// located in the pristine text.
type NotFoundError struct {
	Example doctest.ID
	Reason  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("locate %s: %s", e.Example, e.Reason)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Span is a half-open byte range [Start, End) into pristine file text.
type Span struct {
	Start int
	End   int
}

// Len returns the number of bytes covered by the span.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether two spans share any byte.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Block describes a located expected-output block: the byte span holding
// the current expected text, and the formatting needed to re-render it.
type Block struct {
	Span Span
	// Indent is the whitespace prefix of the header comment; rewritten
	// output lines reuse it.
	Indent string
	// Inline is true when the expected text sits on the header line
	// itself ("// Output: 3") rather than on following comment lines.
	Inline bool
}

// headerRe matches an output header comment and captures its indentation.
// The marker submatch locates the end of the "output:" token.
var headerRe = regexp.MustCompile(`^([ \t]*)//[ \t]*((?i:unordered[ \t]+)?(?i:output):)`)

// wantLineRe matches a single expected-output comment line and captures
// its indentation.
var wantLineRe = regexp.MustCompile(`^([ \t]*)//`)

// Locate computes the byte span of ex's expected-output block within the
// pristine file text. The span starts immediately after the header's
// "output:" marker and ends at the end of the last expected-output line,
// excluding its line terminator, so the surrounding bytes are never
// disturbed by a rewrite. Trailing blank comment lines inside the
// recorded range are tolerated; any structural damage to the block (a
// missing header, a non-comment line where output should be, or
// indentation that no longer agrees with the header) is a NotFoundError.
func Locate(pristine []byte, ex doctest.Example) (Block, error) {
	id := ex.ID()
	lines := splitLines(pristine)

	header, ok := lineAt(lines, ex.HeaderLine)
	if !ok {
		return Block{}, &NotFoundError{id, fmt.Sprintf("header line %d beyond end of file", ex.HeaderLine)}
	}

	m := headerRe.FindSubmatchIndex(header.text(pristine))
	if m == nil {
		return Block{}, &NotFoundError{id, fmt.Sprintf("line %d no longer carries an output header", ex.HeaderLine)}
	}
	indent := string(pristine[header.start+m[2] : header.start+m[3]])
	markerEnd := header.start + m[5]

	start := markerEnd
	end := markerEnd
	inline := len(bytes.TrimSpace(pristine[markerEnd:header.contentEnd])) > 0
	if inline {
		end = header.contentEnd
	}

	if ex.WantEnd >= ex.WantStart {
		if ex.WantStart != ex.HeaderLine+1 {
			return Block{}, &NotFoundError{id, "expected-output range detached from its header"}
		}
		last := ex.WantEnd
		for ln := ex.WantStart; ln <= ex.WantEnd; ln++ {
			l, ok := lineAt(lines, ln)
			if !ok || len(bytes.TrimSpace(l.text(pristine))) == 0 {
				// Tolerate blank trailing lines (and ranges running past
				// the end of the file): stop the span before them.
				if trailingBlank(lines, pristine, ln, ex.WantEnd) {
					last = ln - 1
					break
				}
				return Block{}, &NotFoundError{id, fmt.Sprintf("blank line %d interrupts the output block", ln)}
			}
			wm := wantLineRe.FindSubmatch(l.text(pristine))
			if wm == nil {
				return Block{}, &NotFoundError{id, fmt.Sprintf("line %d is not an output comment line", ln)}
			}
			if string(wm[1]) != indent {
				return Block{}, &NotFoundError{id, fmt.Sprintf("line %d indentation disagrees with the output header", ln)}
			}
		}
		if last >= ex.WantStart {
			l, _ := lineAt(lines, last)
			end = l.contentEnd
		}
	}

	return Block{
		Span:   Span{Start: start, End: end},
		Indent: indent,
		Inline: inline && ex.WantEnd < ex.WantStart,
	}, nil
}

// trailingBlank reports whether every line from ln through wantEnd is
// blank, i.e. the blank line only trails the block instead of splitting
// it.
func trailingBlank(lines []lineSpan, pristine []byte, ln, wantEnd int) bool {
	for ; ln <= wantEnd; ln++ {
		l, ok := lineAt(lines, ln)
		if !ok {
			return true
		}
		if len(bytes.TrimSpace(l.text(pristine))) != 0 {
			return false
		}
	}
	return true
}

// lineSpan records the byte extent of one line. contentEnd excludes the
// line terminator, end includes it.
type lineSpan struct {
	start      int
	contentEnd int
	end        int
}

func (l lineSpan) text(pristine []byte) []byte {
	return pristine[l.start:l.contentEnd]
}

func splitLines(pristine []byte) []lineSpan {
	var lines []lineSpan
	start := 0
	for i := 0; i < len(pristine); i++ {
		if pristine[i] == '\n' {
			contentEnd := i
			if contentEnd > start && pristine[contentEnd-1] == '\r' {
				contentEnd--
			}
			lines = append(lines, lineSpan{start: start, contentEnd: contentEnd, end: i + 1})
			start = i + 1
		}
	}
	if start < len(pristine) {
		lines = append(lines, lineSpan{start: start, contentEnd: len(pristine), end: len(pristine)})
	}
	return lines
}

// lineAt returns the 1-based line ln.
func lineAt(lines []lineSpan, ln int) (lineSpan, bool) {
	if ln < 1 || ln > len(lines) {
		return lineSpan{}, false
	}
	return lines[ln-1], true
}

// DetectEOL returns the line-ending convention of the pristine text,
// defaulting to "\n" when the file has no line terminator yet.
func DetectEOL(pristine []byte) string {
	if i := bytes.IndexByte(pristine, '\n'); i > 0 && pristine[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// CommentText strips the comment prefix from one expected-output line,
// mirroring how discovery decodes the recorded want text.
func CommentText(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	trimmed = strings.TrimPrefix(trimmed, "//")
	return strings.TrimPrefix(trimmed, " ")
}
