package discover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"goaccept/pkg/doctest"
)

const sampleSrc = `package sample

import "fmt"

func ExampleAdd() {
	fmt.Println(add(1, 2))
	// Output:
	// 3
}

func ExampleGreet() {
	fmt.Println("hello")
	// Output: hello
}

func ExampleSilent() {
	fmt.Println("nothing recorded")
}

func ExampleSet() {
	printAll()
	// Unordered output:
	// a
	// b
}

func Examplelower() {
	// not an example: lowercase suffix
	// Output: never
}

func helper() {
	// Output: not an example function
}
`

func TestFile(t *testing.T) {
	examples, err := File("sample_test.go", []byte(sampleSrc), doctest.Options{})
	require.NoError(t, err)
	require.Len(t, examples, 3)

	want := doctest.Example{
		File: "sample_test.go", Name: "ExampleAdd", Ordinal: 0,
		HeaderLine: 7, WantStart: 8, WantEnd: 8, Want: "3",
	}
	if diff := cmp.Diff(want, examples[0]); diff != "" {
		t.Errorf("ExampleAdd mismatch (-want +got):\n%s", diff)
	}

	greet := examples[1]
	require.Equal(t, "ExampleGreet", greet.Name)
	require.Equal(t, 1, greet.Ordinal)
	require.Equal(t, 13, greet.HeaderLine)
	require.Greater(t, greet.WantStart, greet.WantEnd, "inline want has no lines below the header")
	require.Equal(t, "hello", greet.Want)

	set := examples[2]
	require.Equal(t, "ExampleSet", set.Name)
	require.True(t, set.Unordered)
	require.Equal(t, "a\nb", set.Want)
	require.Equal(t, set.HeaderLine+1, set.WantStart)
	require.Equal(t, set.HeaderLine+2, set.WantEnd)
}

func TestFileAppliesOptions(t *testing.T) {
	opts := doctest.Options{Ellipsis: true, NormalizeWhitespace: true}
	examples, err := File("sample_test.go", []byte(sampleSrc), opts)
	require.NoError(t, err)
	for _, ex := range examples {
		require.Equal(t, opts, ex.Options)
	}
}

func TestFileEmptyOutputBlock(t *testing.T) {
	src := `package sample

func ExampleNothing() {
	run()
	// Output:
}
`
	examples, err := File("x_test.go", []byte(src), doctest.Options{})
	require.NoError(t, err)
	require.Len(t, examples, 1)
	require.Equal(t, "", examples[0].Want)
	require.Greater(t, examples[0].WantStart, examples[0].WantEnd)
}

func TestFileBlankOutputLine(t *testing.T) {
	src := `package sample

func ExampleBlank() {
	run()
	// Output:
	// first
	//
	// third
}
`
	examples, err := File("x_test.go", []byte(src), doctest.Options{})
	require.NoError(t, err)
	require.Len(t, examples, 1)
	require.Equal(t, "first\n\nthird", examples[0].Want)
}

func TestFileIgnoresNonTrailingComments(t *testing.T) {
	src := `package sample

func ExampleDoc() {
	// explains the call below
	run()
	// Output:
	// ok
}
`
	examples, err := File("x_test.go", []byte(src), doctest.Options{})
	require.NoError(t, err)
	require.Len(t, examples, 1)
	require.Equal(t, "ok", examples[0].Want)
	require.Equal(t, 6, examples[0].HeaderLine)
}

func TestFileParseError(t *testing.T) {
	_, err := File("bad_test.go", []byte("package {"), doctest.Options{})
	require.Error(t, err)
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_test.go"), []byte(sampleSrc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package sample\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "testdata"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "testdata", "skip_test.go"), []byte(sampleSrc), 0o644))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	noExamples := "package sub\n\nimport \"testing\"\n\nfunc TestX(t *testing.T) {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b_test.go"), []byte(noExamples), 0o644))

	found, err := Dir(dir, doctest.Options{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Len(t, found[filepath.Join(dir, "a_test.go")], 3)
}

func TestIsExampleName(t *testing.T) {
	require.True(t, isExampleName("Example"))
	require.True(t, isExampleName("ExampleFoo"))
	require.True(t, isExampleName("Example_suffix"))
	require.False(t, isExampleName("Examplefoo"))
	require.False(t, isExampleName("TestExample"))
}
