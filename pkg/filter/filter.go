// Package filter decides which files, authors, emails, revisions and commit
// messages are hidden from attribution, and remembers what it hid.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// Category is a filter category.
type Category string

// Filter categories. FileIn and FileOut apply to paths through
// [Registry.IsAcceptableFileName]; the rest apply through [Registry.IsFiltered].
const (
	FileIn   Category = "file_in"
	FileOut  Category = "file_out"
	Author   Category = "author"
	Email    Category = "email"
	Revision Category = "revision"
	Message  Category = "message"
)

// Categories lists every category in reporting order.
var Categories = []Category{FileIn, FileOut, Author, Email, Revision, Message}

// Sentinel errors.
var (
	// ErrConfiguration is returned for malformed rules and invalid patterns.
	ErrConfiguration = errors.New("invalid filter configuration")
	// ErrUsage is returned when a category is queried through the wrong entry point.
	ErrUsage = errors.New("invalid filter usage")
)

const (
	ruleSeparator  = ","
	fieldSeparator = ":"
	ruleFields     = 2
	pathSeparator  = "/"
)

// MessageLookup returns the full commit message of a revision.
type MessageLookup interface {
	CommitMessage(revision string) (string, error)
}

// Registry holds compiled patterns and matched literals per category.
// Patterns are written at configuration time; matched literals are recorded by
// concurrent queries, so all access is synchronized.
type Registry struct {
	mu       sync.RWMutex
	patterns map[Category][]*regexp.Regexp
	matched  map[Category]map[string]struct{}
	messages MessageLookup
}

// Option configures a Registry.
type Option func(*Registry)

// WithMessageLookup sets the commit message source used by the Message category.
func WithMessageLookup(lookup MessageLookup) Option {
	return func(r *Registry) {
		r.messages = lookup
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	reg := &Registry{}
	reg.clear()

	for _, opt := range opts {
		opt(reg)
	}

	return reg
}

// SetMessageLookup replaces the commit message source.
func (r *Registry) SetMessageLookup(lookup MessageLookup) {
	r.mu.Lock()
	r.messages = lookup
	r.mu.Unlock()
}

// Configure adds comma-separated "category:pattern" rules. Patterns are
// regular expressions. Either every rule is added or none is.
func (r *Registry) Configure(rules string) error {
	return r.configure(rules, false)
}

// ConfigureGlob is like Configure, but file_in and file_out patterns use shell
// glob syntax.
func (r *Registry) ConfigureGlob(rules string) error {
	return r.configure(rules, true)
}

type compiledRule struct {
	category Category
	re       *regexp.Regexp
}

func (r *Registry) configure(rules string, glob bool) error {
	parts := strings.Split(rules, ruleSeparator)
	compiled := make([]compiledRule, 0, len(parts))

	for _, rule := range parts {
		cr, err := compileRule(rule, glob)
		if err != nil {
			return err
		}

		compiled = append(compiled, cr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cr := range compiled {
		r.addPatternLocked(cr.category, cr.re)
	}

	return nil
}

func compileRule(rule string, glob bool) (compiledRule, error) {
	fields := strings.Split(strings.TrimSpace(rule), fieldSeparator)
	if len(fields) != ruleFields {
		return compiledRule{}, fmt.Errorf("%w: %q", ErrConfiguration, rule)
	}

	category, ok := parseCategory(fields[0])
	if !ok {
		return compiledRule{}, fmt.Errorf("%w: unknown category in %q", ErrConfiguration, rule)
	}

	pattern := fields[1]
	if glob && isFileCategory(category) {
		pattern = TranslateGlob(pattern)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("%w: invalid regular expression %q: %w", ErrConfiguration, pattern, err)
	}

	return compiledRule{category: category, re: re}, nil
}

// IncludeExtensions adds a file_in pattern per extension. "**" accepts every
// path and "*" accepts paths whose base name has no extension.
func (r *Registry) IncludeExtensions(extensions []string) error {
	rules := make([]string, 0, len(extensions))

	for _, ext := range extensions {
		ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")

		switch ext {
		case "":
			continue
		case "**":
			rules = append(rules, string(FileIn)+fieldSeparator+".*")
		case "*":
			rules = append(rules, string(FileIn)+fieldSeparator+`(^|/)[^./]+$`)
		default:
			rules = append(rules, string(FileIn)+fieldSeparator+`\.`+regexp.QuoteMeta(ext)+"$")
		}
	}

	if len(rules) == 0 {
		return nil
	}

	return r.Configure(strings.Join(rules, ruleSeparator))
}

// IsFiltered reports whether value is hidden by the category's patterns and
// records the matched literal. A Message match looks up the commit message of
// the revision value and, on match, registers the revision itself as filtered.
func (r *Registry) IsFiltered(value string, category Category) (bool, error) {
	if isFileCategory(category) {
		return false, fmt.Errorf("%w: %s requires IsAcceptableFileName", ErrUsage, category)
	}

	if _, ok := parseCategory(string(category)); !ok {
		return false, fmt.Errorf("%w: unknown category %q", ErrUsage, category)
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}

	r.mu.RLock()
	patterns := r.patterns[category]
	lookup := r.messages
	r.mu.RUnlock()

	if len(patterns) == 0 {
		return false, nil
	}

	if category == Message {
		return r.isMessageFiltered(value, patterns, lookup)
	}

	for _, re := range patterns {
		if re.MatchString(value) {
			r.record(category, value)

			return true, nil
		}
	}

	return false, nil
}

func (r *Registry) isMessageFiltered(revision string, patterns []*regexp.Regexp, lookup MessageLookup) (bool, error) {
	if lookup == nil {
		return false, fmt.Errorf("%w: no commit message source configured", ErrUsage)
	}

	message, err := lookup.CommitMessage(revision)
	if err != nil {
		return false, fmt.Errorf("commit message of %s: %w", revision, err)
	}

	for _, re := range patterns {
		if re.MatchString(message) {
			r.mu.Lock()
			r.addPatternLocked(Revision, regexp.MustCompile(regexp.QuoteMeta(revision)))
			r.mu.Unlock()

			return true, nil
		}
	}

	return false, nil
}

// IsAcceptableFileName reports whether path matches at least one file_in
// pattern and no file_out pattern. An excluded path records its topmost
// excluded ancestor directory, or the path itself.
func (r *Registry) IsAcceptableFileName(path string) bool {
	path = strings.TrimSpace(path)

	r.mu.RLock()
	include := r.patterns[FileIn]
	exclude := r.patterns[FileOut]
	r.mu.RUnlock()

	if !matchesAny(include, path) {
		return false
	}

	if matchesAny(exclude, path) {
		r.record(FileOut, excludedTopDir(exclude, path))

		return false
	}

	return true
}

func excludedTopDir(exclude []*regexp.Regexp, path string) string {
	previous := path
	dir := parentDir(path)

	for dir != "" && matchesAny(exclude, dir+pathSeparator) {
		previous = dir
		dir = parentDir(dir)
	}

	return previous
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, pathSeparator)
	if idx < 0 {
		return ""
	}

	return path[:idx]
}

// HasAnyMatches reports whether any category recorded a matched literal.
func (r *Registry) HasAnyMatches() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, literals := range r.matched {
		if len(literals) > 0 {
			return true
		}
	}

	return false
}

// Matched returns the sorted literals recorded for category.
func (r *Registry) Matched(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	literals := make([]string, 0, len(r.matched[category]))
	for literal := range r.matched[category] {
		literals = append(literals, literal)
	}

	slices.Sort(literals)

	return literals
}

// Patterns returns the number of compiled patterns for category.
func (r *Registry) Patterns(category Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.patterns[category])
}

// Reset drops every pattern and matched literal.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clear()
}

func (r *Registry) clear() {
	r.patterns = make(map[Category][]*regexp.Regexp, len(Categories))
	r.matched = make(map[Category]map[string]struct{}, len(Categories))
}

func (r *Registry) record(category Category, literal string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.matched[category]
	if !ok {
		set = make(map[string]struct{})
		r.matched[category] = set
	}

	set[literal] = struct{}{}
}

// addPatternLocked appends re unless an identical pattern is present.
func (r *Registry) addPatternLocked(category Category, re *regexp.Regexp) {
	for _, existing := range r.patterns[category] {
		if existing.String() == re.String() {
			return
		}
	}

	r.patterns[category] = append(r.patterns[category], re)
}

func matchesAny(patterns []*regexp.Regexp, value string) bool {
	for _, re := range patterns {
		if re.MatchString(value) {
			return true
		}
	}

	return false
}

func isFileCategory(category Category) bool {
	return category == FileIn || category == FileOut
}

func parseCategory(token string) (Category, bool) {
	for _, category := range Categories {
		if string(category) == token {
			return category, true
		}
	}

	return "", false
}
