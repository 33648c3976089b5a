package comment_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/gitinspect/pkg/comment"
)

func classifyAll(c *comment.Classifier, ext string, lines []string) []bool {
	inside := false
	out := make([]bool, 0, len(lines))

	for _, line := range lines {
		var isComment bool

		isComment, inside = c.Classify(ext, inside, line)
		out = append(out, isComment)
	}

	return out
}

func TestClassify_CStyleBlock(t *testing.T) {
	t.Parallel()

	lines := []string{
		"int x = 1;",
		"/*",
		"body of comment",
		"*/",
		"// single",
		"/* inline */ int y;",
		"return x;",
	}

	got := classifyAll(comment.NewClassifier(), "c", lines)
	assert.Equal(t, []bool{false, true, true, true, true, true, false}, got)
}

func TestClassify_PythonHash(t *testing.T) {
	t.Parallel()

	lines := []string{
		"# header",
		"def f():",
		`    """one-line docstring"""`,
		"    return 1",
	}

	got := classifyAll(comment.NewClassifier(), "py", lines)
	assert.Equal(t, []bool{true, false, true, false}, got)
}

func TestClassify_PythonDocstringBlock(t *testing.T) {
	t.Parallel()

	lines := []string{
		`"""`,
		"doc line",
		`"""`,
		"x = 1",
		`"""Summary line.`,
		"",
		`Details."""`,
		"return x",
	}

	got := classifyAll(comment.NewClassifier(), "py", lines)
	assert.Equal(t, []bool{true, true, true, false, true, true, true, false}, got)
}

func TestClassify_AnchoredTex(t *testing.T) {
	t.Parallel()

	lines := []string{
		`\begin{comment}`,
		"hidden",
		`\end{comment}`,
		"text % trailing",
	}

	got := classifyAll(comment.NewClassifier(), "tex", lines)
	assert.Equal(t, []bool{true, true, true, false}, got)
}

func TestClassify_UnknownExtensionKeepsState(t *testing.T) {
	t.Parallel()

	c := comment.NewClassifier()

	isComment, inside := c.Classify("zzzunknown", true, "// looks like a comment")
	assert.False(t, isComment)
	assert.True(t, inside)

	isComment, inside = c.Classify("", false, "# nothing")
	assert.False(t, isComment)
	assert.False(t, inside)
}

func TestClassify_LanguageFallback(t *testing.T) {
	t.Parallel()

	c := comment.NewClassifier()

	assert.True(t, c.Known("kt"), "Kotlin resolves through language detection")
	assert.True(t, c.Known("GO"), "extensions are case-insensitive")

	isComment, _ := c.Classify("kt", false, "// kotlin comment")
	assert.True(t, isComment)
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "py", comment.Extension("src/a.py"))
	assert.Equal(t, "gz", comment.Extension("dist/a.tar.gz"))
	assert.Empty(t, comment.Extension("Makefile"))
	assert.Empty(t, comment.Extension("dir.d/Makefile"))
	assert.Empty(t, comment.Extension(".gitignore"))
	assert.Equal(t, "yml", comment.Extension(".github/ci.yml"))
}
