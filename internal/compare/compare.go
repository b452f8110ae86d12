// Package compare decides whether an example's actual output matches its
// recorded expected output under the comparison rules in effect for that
// example. Comparison is a pure function of its inputs.
package compare

import (
	"sort"
	"strings"

	"goaccept/pkg/doctest"
)

// Marker is the wildcard token recognized in expected text when the
// ellipsis option is enabled.
const Marker = "..."

// Verdict is the outcome of a comparison. Actual always carries the raw
// actual text so a mismatch can be turned into an edit without going back
// to the runner.
type Verdict struct {
	Match  bool
	Actual string
}

// Compare checks the expected text against the result under opts. A
// result is a match only if every enabled rule is satisfied.
func Compare(expected string, res doctest.Result, opts doctest.Options) Verdict {
	actual := res.Text()

	if res.Err != nil && opts.RelaxedErrors {
		return Verdict{
			Match:  errorCategory(expected) == res.Err.Category,
			Actual: actual,
		}
	}

	return Verdict{Match: textMatch(expected, actual, opts), Actual: actual}
}

// errorCategory extracts the error category from an expected-output
// block written for an erroring example: the text before the first colon
// of the first non-blank line.
func errorCategory(expected string) string {
	for _, line := range strings.Split(expected, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.Index(line, ":"); i >= 0 {
			return line[:i]
		}
		return line
	}
	return ""
}

func textMatch(expected, actual string, opts doctest.Options) bool {
	if opts.NormalizeWhitespace {
		expected = normalizeWhitespace(expected)
		actual = normalizeWhitespace(actual)
	}
	if opts.Ellipsis && strings.Contains(expected, Marker) {
		return ellipsisMatch(expected, actual)
	}
	return expected == actual
}

// normalizeWhitespace collapses every whitespace run to a single space
// and drops leading/trailing whitespace, so layout differences never
// count as a mismatch.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ellipsisMatch checks actual against an expected string containing one
// or more markers. The literal segments between markers must appear in
// actual in order; a marker matches any substring, including the empty
// one. The match is anchored: text before the first marker must sit at
// the start of actual, text after the last marker at its end.
func ellipsisMatch(expected, actual string) bool {
	segments := strings.Split(expected, Marker)

	// Anchor the head.
	head := segments[0]
	if !strings.HasPrefix(actual, head) {
		return false
	}
	actual = actual[len(head):]
	segments = segments[1:]

	if len(segments) == 0 {
		return len(actual) == 0
	}

	// Anchor the tail.
	tail := segments[len(segments)-1]
	if !strings.HasSuffix(actual, tail) {
		return false
	}
	actual = actual[:len(actual)-len(tail)]
	segments = segments[:len(segments)-1]

	// Middle segments must appear in order, non-overlapping.
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		i := strings.Index(actual, seg)
		if i < 0 {
			return false
		}
		actual = actual[i+len(seg):]
	}
	return true
}

// UnorderedMatch reports whether expected and actual contain the same
// lines regardless of order, honoring whitespace normalization when it
// is enabled. Used for "Unordered output:" blocks.
func UnorderedMatch(expected, actual string, opts doctest.Options) bool {
	return sortedKey(expected, opts) == sortedKey(actual, opts)
}

func sortedKey(s string, opts doctest.Options) string {
	lines := strings.Split(s, "\n")
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		if opts.NormalizeWhitespace {
			line = normalizeWhitespace(line)
		}
		normalized = append(normalized, line)
	}
	sort.Strings(normalized)
	return strings.Join(normalized, "\n")
}
