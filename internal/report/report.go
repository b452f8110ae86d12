// Package report renders a session's diagnostics for people: a plain
// text summary with optional color and diff previews for the terminal,
// and a sanitized HTML page for sharing.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"

	"goaccept/internal/session"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// Report pairs the session outcome with the diff previews captured at
// materialization time, keyed by file path.
type Report struct {
	Diagnostics session.Diagnostics
	Previews    map[string]string
}

// sortedPaths returns the report's file paths in stable order.
func (r *Report) sortedPaths() []string {
	paths := make([]string, 0, len(r.Diagnostics.Files))
	for p := range r.Diagnostics.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WriteText writes the terminal summary. color enables ANSI escapes and
// per-file diff previews; the plain form prints outcomes only.
func (r *Report) WriteText(w io.Writer, color bool) {
	d := r.Diagnostics
	updated := 0

	for _, path := range r.sortedPaths() {
		fr := d.Files[path]
		switch {
		case fr.ConflictAborted:
			fmt.Fprintf(w, "%s%s: skipped, file changed during the run%s\n", paint(color, ansiYellow), path, paint(color, ansiReset))
		case fr.WriteError != "":
			fmt.Fprintf(w, "%s%s: write failed: %s%s\n", paint(color, ansiRed), path, fr.WriteError, paint(color, ansiReset))
		case len(fr.Applied) > 0:
			updated++
			fmt.Fprintf(w, "%s%s: %d example(s) updated%s\n", paint(color, ansiGreen), path, len(fr.Applied), paint(color, ansiReset))
			if color {
				r.writeDiff(w, path)
			}
		}
		for _, lf := range fr.LocateFailures {
			fmt.Fprintf(w, "%s%s: output block for %s not found: %s%s\n",
				paint(color, ansiYellow), path, lf.Example, lf.Reason, paint(color, ansiReset))
		}
	}

	fmt.Fprintf(w, "%d example(s) ran, %d matched, %d file(s) updated\n",
		d.Total, d.Matched, updated)
}

func (r *Report) writeDiff(w io.Writer, path string) {
	diff := r.Previews[path]
	if diff == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Fprintf(w, "  %s%s%s\n", ansiGreen, line, ansiReset)
		case strings.HasPrefix(line, "-"):
			fmt.Fprintf(w, "  %s%s%s\n", ansiRed, line, ansiReset)
		default:
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func paint(color bool, code string) string {
	if !color {
		return ""
	}
	return code
}

// Markdown renders the report as a markdown document: a summary line,
// a per-file outcome list and fenced diff blocks.
func (r *Report) Markdown() string {
	d := r.Diagnostics
	var sb strings.Builder

	sb.WriteString("# Output synchronization report\n\n")
	fmt.Fprintf(&sb, "%d example(s) ran, %d matched.\n\n", d.Total, d.Matched)

	for _, path := range r.sortedPaths() {
		fr := d.Files[path]
		fmt.Fprintf(&sb, "## %s\n\n", path)
		switch {
		case fr.ConflictAborted:
			sb.WriteString("Skipped: the file changed while the session was running.\n\n")
		case fr.WriteError != "":
			fmt.Fprintf(&sb, "Write failed: %s\n\n", fr.WriteError)
		case len(fr.Applied) > 0:
			fmt.Fprintf(&sb, "%d example(s) updated.\n\n", len(fr.Applied))
		default:
			sb.WriteString("No changes.\n\n")
		}
		for _, lf := range fr.LocateFailures {
			fmt.Fprintf(&sb, "- output block for `%s` not found: %s\n", lf.Example, lf.Reason)
		}
		if diff := r.Previews[path]; diff != "" {
			fmt.Fprintf(&sb, "```diff\n%s```\n\n", diff)
		}
	}
	return sb.String()
}

// HTML renders the markdown report to sanitized HTML. blackfriday does
// the rendering and bluemonday strips anything unsafe, so diff content
// coming from arbitrary test output cannot inject markup.
func (r *Report) HTML() string {
	unsafe := blackfriday.Run(
		[]byte(r.Markdown()),
		blackfriday.WithExtensions(
			blackfriday.CommonExtensions|blackfriday.AutoHeadingIDs,
		),
	)

	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span")
	policy.AllowAttrs("id").Matching(bluemonday.SpaceSeparatedTokens).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	return string(policy.SanitizeBytes(unsafe))
}
