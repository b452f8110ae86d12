// Package render turns captured actual output back into a valid
// expected-output block, preserving the indentation and line-ending
// convention of the block it replaces.
package render

import (
	"regexp"
	"strings"

	"goaccept/internal/locate"
)

const (
	// maxLineLen bounds a single rendered output line; longer lines are
	// shortened so a pathological example cannot produce a file that
	// chokes editors.
	maxLineLen = 1000
	// maxLines bounds the number of rendered output lines.
	maxLines = 1000
	// keep is how much of each end survives shortening.
	keep = 50
)

var (
	memLocationRe = regexp.MustCompile(` 0x[0-9a-fA-F]+`)
	tempPathRe    = regexp.MustCompile(`/tmp/[0-9a-fA-F]+`)
)

// Style describes how a located block was formatted on disk.
type Style struct {
	Indent string // whitespace prefix of the comment lines
	EOL    string // line terminator of the owning file
	Inline bool   // expected text sits on the header line itself
}

// Block renders actual output as replacement text for a located
// expected-output span. The result substitutes exactly for the span
// computed by locate: it starts right after the "output:" marker and
// carries no trailing line terminator.
func Block(output string, st Style) string {
	output = Clamp(output)
	output = RedactVolatile(output)

	if output == "" {
		return ""
	}

	lines := strings.Split(strings.TrimSuffix(output, "\n"), "\n")

	if st.Inline && len(lines) == 1 {
		return " " + lines[0]
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(st.EOL)
		b.WriteString(st.Indent)
		if line == "" {
			b.WriteString("//")
		} else {
			b.WriteString("// ")
			b.WriteString(line)
		}
	}
	return b.String()
}

// Clamp shortens pathological output: single lines longer than 1000
// bytes keep their head and tail, and outputs longer than 1000 lines
// keep the first and last fifty.
func Clamp(output string) string {
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if len(line) >= maxLineLen {
			lines[i] = line[:keep] + "..." + line[len(line)-keep:]
		}
	}
	if len(lines) > maxLines {
		shortened := make([]string, 0, 2*keep+1)
		shortened = append(shortened, lines[:keep]...)
		shortened = append(shortened, "...")
		shortened = append(shortened, lines[len(lines)-keep:]...)
		lines = shortened
	}
	return strings.Join(lines, "\n")
}

// RedactVolatile replaces values that change from run to run, like
// memory addresses and temp paths, so accepted output stays stable.
func RedactVolatile(output string) string {
	output = memLocationRe.ReplaceAllString(output, " 0x...")
	return tempPathRe.ReplaceAllString(output, "/tmp/...")
}

// StyleFor derives the rendering style for a located block within its
// pristine file text.
func StyleFor(pristine []byte, b locate.Block) Style {
	return Style{
		Indent: b.Indent,
		EOL:    locate.DetectEOL(pristine),
		Inline: b.Inline,
	}
}
