// Package discover finds Example functions and their expected-output
// comment blocks in Go test files, producing the boundary descriptions
// the synchronization engine consumes. It follows the go/doc convention:
// the output block is the last comment group in the example's body, and
// its first line carries the "Output:" or "Unordered output:" marker.
package discover

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"goaccept/internal/locate"
	"goaccept/pkg/doctest"
)

// outputRe matches the marker on the first line of an output comment
// group, with the comment prefix already stripped.
var outputRe = regexp.MustCompile(`(?i)^(unordered[ \t]+)?output:`)

// File parses one test file and returns its examples in declaration
// order. Example functions without an output comment block are skipped:
// with nothing recorded there is nothing to synchronize. opts applies to
// every example in the file.
func File(path string, src []byte, opts doctest.Options) ([]doctest.Example, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var examples []doctest.Example
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Body == nil {
			continue
		}
		if !isExampleName(fn.Name.Name) {
			continue
		}
		ex, found := outputBlock(fset, f, fn)
		if !found {
			continue
		}
		ex.File = path
		ex.Name = fn.Name.Name
		ex.Ordinal = len(examples)
		ex.Options = opts
		examples = append(examples, ex)
	}
	return examples, nil
}

// Dir walks root for *_test.go files and discovers their examples. The
// returned map is keyed by file path; files without examples are absent.
func Dir(root string, opts doctest.Options) (map[string][]doctest.Example, error) {
	found := make(map[string][]doctest.Example)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || name == "testdata" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		examples, err := File(path, src, opts)
		if err != nil {
			return err
		}
		if len(examples) > 0 {
			found[path] = examples
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// isExampleName reports whether name follows the testing package's
// example naming rule: "Example" alone, or "Example" followed by an
// uppercase start of the identified symbol.
func isExampleName(name string) bool {
	if !strings.HasPrefix(name, "Example") {
		return false
	}
	rest := name[len("Example"):]
	if rest == "" {
		return true
	}
	return rest[0] < 'a' || rest[0] > 'z'
}

// outputBlock locates the last comment group inside fn's body and, when
// its first line carries an output marker, decodes the recorded want
// text and line ranges.
func outputBlock(fset *token.FileSet, f *ast.File, fn *ast.FuncDecl) (doctest.Example, bool) {
	var last *ast.CommentGroup
	for _, cg := range f.Comments {
		if cg.Pos() > fn.Body.Lbrace && cg.End() < fn.Body.Rbrace {
			last = cg
		}
	}
	if last == nil {
		return doctest.Example{}, false
	}

	first := last.List[0]
	head := locate.CommentText(first.Text)
	m := outputRe.FindStringIndex(head)
	if m == nil {
		return doctest.Example{}, false
	}

	headerLine := fset.Position(first.Pos()).Line
	ex := doctest.Example{
		HeaderLine: headerLine,
		Unordered:  strings.HasPrefix(strings.ToLower(head), "unordered"),
		WantStart:  headerLine + 1,
		WantEnd:    headerLine, // empty range until want lines are seen
	}

	var want []string
	if inline := strings.TrimSpace(head[m[1]:]); inline != "" {
		want = append(want, inline)
	}
	for _, c := range last.List[1:] {
		want = append(want, locate.CommentText(c.Text))
		ex.WantEnd = fset.Position(c.Pos()).Line
	}
	ex.Want = strings.Join(want, "\n")
	return ex, true
}
