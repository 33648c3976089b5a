// Package comment classifies source lines as comments using per-language
// comment markers.
package comment

import (
	"strings"
	"sync"

	"github.com/src-d/enry/v2"
)

// Markers describes the comment syntax of one language.
type Markers struct {
	// BlockBegin and BlockEnd delimit block comments.
	BlockBegin string
	BlockEnd   string
	// Line starts a single-line comment.
	Line string
	// Anchored requires block markers at the very start of the line.
	Anchored bool
}

var (
	cStyle   = Markers{BlockBegin: "/*", BlockEnd: "*/", Line: "//"}
	xmlStyle = Markers{BlockBegin: "<!--", BlockEnd: "-->"}
	hashOnly = Markers{Line: "#"}
	mlStyle  = Markers{BlockBegin: "(*", BlockEnd: "*)"}
	lyStyle  = Markers{BlockBegin: "%{", BlockEnd: "%}", Line: "%"}
	adaStyle = Markers{Line: "--"}
)

// byExtension holds the marker table keyed by lower-case file extension.
var byExtension = map[string]Markers{
	"java":  cStyle,
	"c":     cStyle,
	"cc":    cStyle,
	"cpp":   cStyle,
	"cs":    cStyle,
	"h":     cStyle,
	"hh":    cStyle,
	"hpp":   cStyle,
	"php":   cStyle,
	"glsl":  cStyle,
	"js":    cStyle,
	"scala": cStyle,
	"go":    cStyle,
	"rs":    {Line: "//"},
	"rlib":  {Line: "//"},
	"hs":    {BlockBegin: "{-", BlockEnd: "-}", Line: "--"},
	"html":  xmlStyle,
	"jspx":  xmlStyle,
	"xhtml": xmlStyle,
	"xml":   xmlStyle,
	"py":    {BlockBegin: `"""`, BlockEnd: `"""`, Line: "#"},
	"rb":    {BlockBegin: "=begin", BlockEnd: "=end", Line: "#"},
	"sql":   {BlockBegin: "/*", BlockEnd: "*/", Line: "--"},
	"tex":   {BlockBegin: `\begin{comment}`, BlockEnd: `\end{comment}`, Line: "%", Anchored: true},
	"ml":    mlStyle,
	"mli":   mlStyle,
	"ly":    lyStyle,
	"ily":   lyStyle,
	"pl":    hashOnly,
	"robot": hashOnly,
	"pot":   hashOnly,
	"po":    hashOnly,
	"ada":   adaStyle,
	"ads":   adaStyle,
	"adb":   adaStyle,
}

// byLanguage covers extensions missing from byExtension, keyed by the
// language name enry reports.
var byLanguage = map[string]Markers{
	"C":           cStyle,
	"C++":         cStyle,
	"C#":          cStyle,
	"Dart":        cStyle,
	"Go":          cStyle,
	"Groovy":      cStyle,
	"Java":        cStyle,
	"JavaScript":  cStyle,
	"Kotlin":      cStyle,
	"Objective-C": cStyle,
	"Rust":        {BlockBegin: "/*", BlockEnd: "*/", Line: "//"},
	"Swift":      cStyle,
	"TypeScript": cStyle,
	"CSS":        {BlockBegin: "/*", BlockEnd: "*/"},
	"SCSS":       cStyle,
	"Less":       cStyle,
	"Vue":        xmlStyle,
	"Markdown":   xmlStyle,
	"Shell":      hashOnly,
	"PowerShell": {BlockBegin: "<#", BlockEnd: "#>", Line: "#"},
	"Perl":       hashOnly,
	"R":          hashOnly,
	"Elixir":     hashOnly,
	"YAML":       hashOnly,
	"TOML":       hashOnly,
	"Dockerfile": hashOnly,
	"Makefile":   hashOnly,
	"CMake":      hashOnly,
	"Python":     {BlockBegin: `"""`, BlockEnd: `"""`, Line: "#"},
	"Ruby":       {BlockBegin: "=begin", BlockEnd: "=end", Line: "#"},
	"Lua":        {BlockBegin: "--[[", BlockEnd: "]]", Line: "--"},
	"Haskell":    {BlockBegin: "{-", BlockEnd: "-}", Line: "--"},
	"SQL":        {BlockBegin: "/*", BlockEnd: "*/", Line: "--"},
	"Erlang":     {Line: "%"},
	"OCaml":      mlStyle,
	"Clojure":    {Line: ";"},
	"Emacs Lisp": {Line: ";"},
	"Vim Script": {Line: `"`},
	"Fortran":    {Line: "!"},
}

// Classifier tracks comment syntax by file extension. The zero value is ready
// to use and safe for concurrent use.
type Classifier struct {
	resolved sync.Map // extension -> *Markers (nil when unknown).
}

// NewClassifier creates a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify reports whether line is a comment in a file with extension, given
// whether the previous line left a block comment open. It returns the new
// block comment state.
func (c *Classifier) Classify(extension string, inside bool, line string) (isComment, nextInside bool) {
	markers := c.markers(extension)
	if markers == nil {
		return false, inside
	}

	isComment = markers.isComment(line)

	switch {
	case inside:
		if markers.hasEnd(line) {
			inside = false
		} else {
			isComment = true
		}
	case markers.hasBegin(line):
		inside = true
	}

	return isComment, inside
}

// Known reports whether extension has comment markers.
func (c *Classifier) Known(extension string) bool {
	return c.markers(extension) != nil
}

func (c *Classifier) markers(extension string) *Markers {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	if ext == "" {
		return nil
	}

	if cached, ok := c.resolved.Load(ext); ok {
		return cached.(*Markers)
	}

	var found *Markers

	if m, ok := byExtension[ext]; ok {
		found = &m
	} else if lang, _ := enry.GetLanguageByExtension("file." + ext); lang != "" {
		if m, ok := byLanguage[lang]; ok {
			found = &m
		}
	}

	c.resolved.Store(ext, found)

	return found
}

func (m *Markers) isComment(line string) bool {
	trimmed := strings.TrimSpace(line)

	if m.BlockBegin != "" && strings.HasPrefix(trimmed, m.BlockBegin) {
		return true
	}

	if m.BlockEnd != "" && strings.HasSuffix(trimmed, m.BlockEnd) {
		return true
	}

	return m.Line != "" && strings.HasPrefix(trimmed, m.Line)
}

// hasBegin reports whether line opens a block comment that it does not close.
// A closing marker found at offset two or later counts as closing.
func (m *Markers) hasBegin(line string) bool {
	if m.BlockBegin == "" {
		return false
	}

	if m.Anchored {
		return strings.HasPrefix(line, m.BlockBegin)
	}

	const endSearchOffset = 2
	if len(line) > endSearchOffset && strings.Contains(line[endSearchOffset:], m.BlockEnd) {
		return false
	}

	return strings.Contains(line, m.BlockBegin)
}

func (m *Markers) hasEnd(line string) bool {
	if m.BlockEnd == "" {
		return false
	}

	if m.Anchored {
		return strings.HasPrefix(line, m.BlockEnd)
	}

	return strings.Contains(line, m.BlockEnd)
}

// Extension returns the extension of path's base name without the dot, or ""
// when the base name has none. Leading dots do not start an extension.
func Extension(path string) string {
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}

	base = strings.TrimLeft(base, ".")

	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return ""
	}

	return base[idx+1:]
}
