package blame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/gitinspect/pkg/comment"
	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/observability"
)

// AllBranches selects every branch. Attribution has no meaning across
// branches, so a Blame built for it is empty.
const AllBranches = "--all"

const (
	tracerName = "gitinspect/blame"

	// avgDaysPerMonth converts day counts to months for skew.
	avgDaysPerMonth = 30.4167
	daysPerWeek     = 7.0
	percent         = 100.0
)

// Sentinel errors.
var (
	// ErrHistoryProvider reports a failed or unreadable history query.
	ErrHistoryProvider = errors.New("history provider failure")
	// ErrMalformedStream reports blame metadata arriving in an unexpected order.
	ErrMalformedStream = fmt.Errorf("%w: malformed blame stream", ErrHistoryProvider)
	// ErrTruncatedStream reports a blame stream ending inside a record.
	ErrTruncatedStream = fmt.Errorf("%w: truncated blame stream", ErrHistoryProvider)
)

// HistoryProvider lists tracked files and streams line-porcelain blame output.
type HistoryProvider interface {
	TrackedFiles(ctx context.Context, branch string) ([]string, error)
	// BlameStream returns the blame output of path. Close reports a failed
	// query, such as a non-zero exit status.
	BlameStream(ctx context.Context, branch, since string, detectCopies bool, path string) (io.ReadCloser, error)
}

// Authors resolves author emails and supplies the repository date range.
type Authors interface {
	// AuthorByEmail returns the display name for email or an error wrapping
	// identity.ErrUnknownAuthor.
	AuthorByEmail(email string) (string, error)
	FirstCommitDate() time.Time
	LastCommitDate() time.Time
}

// InsertionCounter reports how many lines an author inserted over the history.
type InsertionCounter interface {
	Insertions(author string) int
}

// CommentClassifier decides whether a line is a comment.
type CommentClassifier interface {
	Classify(extension string, inside bool, line string) (isComment, nextInside bool)
}

// Options configures a blame run.
type Options struct {
	// Branch is the revision blamed. Empty means HEAD.
	Branch string
	// Since is a git date expression. When set, boundary lines are dropped.
	Since string
	// UseWeeks measures skew in weeks instead of months.
	UseWeeks bool
	// DetectCopies enables rename and copy detection (-C -C -M).
	DetectCopies bool
	// Workers bounds concurrently running workers. Zero uses runtime.NumCPU.
	Workers int

	Comments CommentClassifier
	Logger   *slog.Logger
	Metrics  *observability.BlameMetrics
	// OnFileDone is called once per spawned worker, from the worker goroutine.
	OnFileDone func(path string, err error)
	// OnFilesListed is called with the number of accepted files before any
	// worker starts.
	OnFilesListed func(total int)
}

func (o *Options) branch() string {
	if o.Branch == "" {
		return "HEAD"
	}

	return o.Branch
}

func (o *Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}

	return runtime.NumCPU()
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.Default()
}

// Key identifies one (author, file) accumulator.
type Key struct {
	Author string
	File   string
}

// Entry accumulates the lines attributed to one author in one file.
type Entry struct {
	Rows     int
	Comments int
	// Skew sums the age of every attributed line in weeks or months.
	Skew float64
}

// Age returns the average line age.
func (e Entry) Age() float64 {
	if e.Rows == 0 {
		return 0
	}

	return e.Skew / float64(e.Rows)
}

// CommentShare returns the percentage of rows that are comments.
func (e Entry) CommentShare() float64 {
	if e.Rows == 0 {
		return 0
	}

	return percent * float64(e.Comments) / float64(e.Rows)
}

// Blame maps (author, file) pairs to their accumulated entries.
type Blame struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	// order keeps keys in creation order so ties rank by first appearance.
	order []Key
}

// Empty returns a Blame with no entries.
func Empty() *Blame {
	return &Blame{entries: make(map[Key]*Entry)}
}

// New blames every file of the branch accepted by filters and returns once all
// workers have finished. Individual file failures are logged and skipped; a
// canceled ctx stops admitting files and New returns the context error.
func New(
	ctx context.Context,
	provider HistoryProvider,
	authors Authors,
	filters *filter.Registry,
	opts Options,
) (*Blame, error) {
	b := Empty()
	logger := opts.logger()

	if opts.Branch == AllBranches {
		logger.InfoContext(ctx, "blame skipped for all branches")

		return b, nil
	}

	if opts.Comments == nil {
		opts.Comments = comment.NewClassifier()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "blame.New",
		trace.WithAttributes(attribute.String("branch", opts.branch())))
	defer span.End()

	files, err := provider.TrackedFiles(ctx, opts.branch())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("%w: list tracked files: %w", ErrHistoryProvider, err)
	}

	accepted := make([]string, 0, len(files))

	for _, path := range files {
		if filters.IsAcceptableFileName(path) {
			accepted = append(accepted, path)
		}
	}

	span.SetAttributes(attribute.Int("files.tracked", len(files)), attribute.Int("files.accepted", len(accepted)))
	logger.DebugContext(ctx, "blaming files", "tracked", len(files), "accepted", len(accepted), "workers", opts.workers())

	if opts.OnFilesListed != nil {
		opts.OnFilesListed(len(accepted))
	}

	var group errgroup.Group

	group.SetLimit(opts.workers())

	for _, path := range accepted {
		w := &worker{
			blame:     b,
			provider:  provider,
			authors:   authors,
			filters:   filters,
			opts:      &opts,
			path:      path,
			extension: comment.Extension(path),
		}

		group.Go(func() error {
			// Per-file failures stay with the file; only cancellation
			// stops admission of the remaining files.
			err := ctx.Err()
			if err != nil {
				return err
			}

			w.run(ctx)

			return nil
		})
	}

	err = group.Wait()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("blame interrupted: %w", err)
	}

	return b, nil
}

// attribute adds one line to the (author, file) entry, creating it on first use.
func (b *Blame) attribute(key Key, isComment bool, skew float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[key]
	if !ok {
		entry = &Entry{}
		b.entries[key] = entry
		b.order = append(b.order, key)
	}

	entry.Rows++

	if isComment {
		entry.Comments++
	}

	entry.Skew += skew
}

// Len returns the number of (author, file) entries.
func (b *Blame) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.entries)
}

// Get returns the entry for author and file.
func (b *Blame) Get(author, file string) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.entries[Key{Author: author, File: file}]
	if !ok {
		return Entry{}, false
	}

	return *entry, true
}

// Entries returns a copy of every entry.
func (b *Blame) Entries() map[Key]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[Key]Entry, len(b.entries))
	for key, entry := range b.entries {
		out[key] = *entry
	}

	return out
}

// Keys returns every key in creation order.
func (b *Blame) Keys() []Key {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.order)
}

// SummedByAuthor sums rows, comments and skew across files per author.
func (b *Blame) SummedByAuthor() map[string]Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	summed := make(map[string]Entry)

	for key, entry := range b.entries {
		total := summed[key.Author]
		total.Rows += entry.Rows
		total.Comments += entry.Comments
		total.Skew += entry.Skew
		summed[key.Author] = total
	}

	return summed
}

// AuthorsByResponsibility returns authors by descending total rows. Authors
// with equal totals keep the order in which they were first attributed.
func (b *Blame) AuthorsByResponsibility() []string {
	b.mu.Lock()

	totals := make(map[string]int)
	authors := make([]string, 0)

	for _, key := range b.order {
		if _, seen := totals[key.Author]; !seen {
			authors = append(authors, key.Author)
		}

		totals[key.Author] += b.entries[key].Rows
	}

	b.mu.Unlock()

	slices.SortStableFunc(authors, func(x, y string) int {
		return totals[y] - totals[x]
	})

	return authors
}

// Combine copies other's entries into b. A key present in both is replaced by
// other's entry; counts are not added. Callers merging partial results must
// partition them by file first.
func (b *Blame) Combine(other *Blame) {
	if other == nil || other == b {
		return
	}

	other.mu.Lock()
	keys := slices.Clone(other.order)
	incoming := make(map[Key]Entry, len(other.entries))

	for key, entry := range other.entries {
		incoming[key] = *entry
	}
	other.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, key := range keys {
		entry := incoming[key]

		if _, ok := b.entries[key]; !ok {
			b.order = append(b.order, key)
		}

		b.entries[key] = &entry
	}
}

// Stability returns blamedRows as a percentage of the author's insertions, or
// 100 when the author has none on record.
func Stability(author string, blamedRows int, counter InsertionCounter) float64 {
	insertions := counter.Insertions(author)
	if insertions == 0 {
		return percent
	}

	return percent * float64(blamedRows) / float64(insertions)
}

// skew returns the age of a line written at when, in weeks or months, measured
// back from the last commit. Lines from the first commit day have no age.
func skew(when, first, last time.Time, useWeeks bool) float64 {
	if civilDay(when)-civilDay(first) <= 0 {
		return 0
	}

	period := avgDaysPerMonth
	if useWeeks {
		period = daysPerWeek
	}

	return max(0, float64(civilDay(last)-civilDay(when))/period)
}

// civilDay numbers the calendar date of t in its own location.
func civilDay(t time.Time) int64 {
	const secondsPerDay = 24 * 60 * 60

	y, m, d := t.Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
}
