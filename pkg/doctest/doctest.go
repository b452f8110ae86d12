// Package doctest defines the types handed across the collaborator
// boundary of the output synchronization engine: the description of a
// discovered testable example and the result of executing it.
//
// Values of these types are created once by a discovery or runner
// collaborator and are read-only afterwards. The engine never mutates
// them.
package doctest

import "fmt"

// Options selects the comparison rules in effect for one example. Each
// rule is independent and they compose.
type Options struct {
	// NormalizeWhitespace treats any run of whitespace as equal to any
	// other run of whitespace when comparing.
	NormalizeWhitespace bool `json:"normalize_whitespace"`
	// Ellipsis lets a literal "..." in the expected text match any
	// substring (including the empty string) of the actual output.
	Ellipsis bool `json:"ellipsis"`
	// RelaxedErrors compares only the error category when the example
	// terminated with an error, ignoring the human-readable message.
	RelaxedErrors bool `json:"relaxed_errors"`
}

// ID is the stable identity of an example within a session: owning file,
// header line and ordinal within the file. It deduplicates results that
// are delivered more than once.
type ID struct {
	File    string `json:"file"`
	Line    int    `json:"line"` // 1-based line of the output header
	Ordinal int    `json:"ordinal"`
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d#%d", id.File, id.Line, id.Ordinal)
}

// Example is one discovered documentation-test unit. Line numbers are
// 1-based. The want range covers the expected-output comment lines only,
// never the executed snippet; a range with WantEnd < WantStart means the
// block currently records no output lines below the header (the expected
// text may still live inline on the header line itself).
type Example struct {
	File    string `json:"file"`
	Name    string `json:"name"` // Example function name
	Ordinal int    `json:"ordinal"`

	// HeaderLine carries the "// Output:" (or "// Unordered output:")
	// marker comment.
	HeaderLine int  `json:"header_line"`
	Unordered  bool `json:"unordered"`

	// WantStart and WantEnd bound the expected-output comment lines,
	// inclusive.
	WantStart int `json:"want_start"`
	WantEnd   int `json:"want_end"`

	// Want is the expected text as currently written, with the comment
	// prefix stripped.
	Want string `json:"want"`

	Options Options `json:"options"`
}

// ID returns the example's stable identity.
func (e Example) ID() ID {
	return ID{File: e.File, Line: e.HeaderLine, Ordinal: e.Ordinal}
}

// Failure is the structured representation of an example run that ended
// in an error instead of producing output.
type Failure struct {
	Category string `json:"category"` // e.g. "panic"
	Message  string `json:"message"`
}

func (f Failure) String() string {
	if f.Message == "" {
		return f.Category
	}
	return f.Category + ": " + f.Message
}

// Result is the outcome of executing one example. Exactly one of Output
// or Err is meaningful: Err non-nil means the run terminated with an
// error. Seq is the arrival ordinal; the session coordinator assigns it
// when the result is recorded.
type Result struct {
	Example ID       `json:"example"`
	Output  string   `json:"output"`
	Err     *Failure `json:"err,omitempty"`
	Seq     int      `json:"seq"`
}

// Text returns the raw actual text of the result: the captured output,
// or the rendered failure when the run errored.
func (r Result) Text() string {
	if r.Err != nil {
		return r.Err.String()
	}
	return r.Output
}
