package blame_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/gitinspect/pkg/blame"
	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/identity"
)

const (
	revA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	revB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	revC = "cccccccccccccccccccccccccccccccccccccccc"

	secondsPerDay = int64(24 * 60 * 60)
)

// baseTime is noon UTC so that local calendar dates shift uniformly.
var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).Unix()

var errQueryFailed = errors.New("exit status 128")

type blameLine struct {
	rev      string
	email    string
	day      int64
	boundary bool
	text     string
}

func porcelain(lines ...blameLine) string {
	var sb strings.Builder

	for i, ln := range lines {
		fmt.Fprintf(&sb, "%s %d %d 1\n", ln.rev, i+1, i+1)
		fmt.Fprintf(&sb, "author %s\n", strings.Split(ln.email, "@")[0])
		fmt.Fprintf(&sb, "author-mail <%s>\n", ln.email)
		fmt.Fprintf(&sb, "author-time %d\n", baseTime+ln.day*secondsPerDay)
		sb.WriteString("author-tz +0000\n")
		sb.WriteString("summary some change\n")

		if ln.boundary {
			sb.WriteString("boundary\n")
		}

		sb.WriteString("filename whatever\n")
		fmt.Fprintf(&sb, "\t%s\n", ln.text)
	}

	return sb.String()
}

func repeat(n int, ln blameLine) []blameLine {
	out := make([]blameLine, n)
	for i := range out {
		out[i] = ln
		out[i].text = fmt.Sprintf("%s %d", ln.text, i)
	}

	return out
}

type stream struct {
	io.Reader
	closeErr error
	onClose  func()
}

func (s *stream) Close() error {
	if s.onClose != nil {
		s.onClose()
	}

	return s.closeErr
}

type fakeProvider struct {
	files    []string
	streams  map[string]string
	openErr  map[string]error
	closeErr map[string]error
	listErr  error

	mu       sync.Mutex
	requests []string
	since    []string
}

func (p *fakeProvider) TrackedFiles(_ context.Context, _ string) ([]string, error) {
	return p.files, p.listErr
}

func (p *fakeProvider) BlameStream(_ context.Context, _, since string, _ bool, path string) (io.ReadCloser, error) {
	p.mu.Lock()
	p.requests = append(p.requests, path)
	p.since = append(p.since, since)
	p.mu.Unlock()

	if err := p.openErr[path]; err != nil {
		return nil, err
	}

	return &stream{Reader: strings.NewReader(p.streams[path]), closeErr: p.closeErr[path]}, nil
}

type fakeAuthors struct {
	names      map[string]string
	insertions map[string]int
	first      time.Time
	last       time.Time
}

func newFakeAuthors() *fakeAuthors {
	return &fakeAuthors{
		names: map[string]string{
			"alice@x.com": "alice",
			"bob@y.com":   "bob",
			"carol@z.com": "carol",
		},
		insertions: map[string]int{},
		first:      time.Unix(baseTime, 0),
		last:       time.Unix(baseTime+70*secondsPerDay, 0),
	}
}

func (a *fakeAuthors) AuthorByEmail(email string) (string, error) {
	name, ok := a.names[email]
	if !ok {
		return "", fmt.Errorf("%w: %s", identity.ErrUnknownAuthor, email)
	}

	return name, nil
}

func (a *fakeAuthors) FirstCommitDate() time.Time { return a.first }
func (a *fakeAuthors) LastCommitDate() time.Time  { return a.last }
func (a *fakeAuthors) Insertions(author string) int {
	return a.insertions[author]
}

func acceptAll(t *testing.T) *filter.Registry {
	t.Helper()

	reg := filter.NewRegistry()
	require.NoError(t, reg.IncludeExtensions([]string{"**"}))

	return reg
}

func twoFileProvider() *fakeProvider {
	bobLines := repeat(5, blameLine{rev: revB, email: "bob@y.com", day: 10, text: "x = 1"})
	bobLines[2].boundary = true

	return &fakeProvider{
		files: []string{"a.py", "b.py"},
		streams: map[string]string{
			"a.py": porcelain(repeat(10, blameLine{rev: revA, email: "alice@x.com", day: 5, text: "print()"})...),
			"b.py": porcelain(bobLines...),
		},
	}
}

func TestNew_TwoFilesWithBoundaryCutoff(t *testing.T) {
	t.Parallel()

	provider := twoFileProvider()

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{
		Since: "2024-01-01",
	})
	require.NoError(t, err)

	alice, ok := result.Get("alice", "a.py")
	require.True(t, ok)
	assert.Equal(t, 10, alice.Rows)

	bob, ok := result.Get("bob", "b.py")
	require.True(t, ok)
	assert.Equal(t, 4, bob.Rows, "boundary line is dropped while a cutoff is active")

	summed := result.SummedByAuthor()
	assert.Equal(t, 10, summed["alice"].Rows)
	assert.Equal(t, 4, summed["bob"].Rows)
	assert.Equal(t, 2, result.Len())

	assert.ElementsMatch(t, []string{"2024-01-01", "2024-01-01"}, provider.since)
}

func TestNew_BoundaryKeptWithoutCutoff(t *testing.T) {
	t.Parallel()

	result, err := blame.New(context.Background(), twoFileProvider(), newFakeAuthors(), acceptAll(t), blame.Options{})
	require.NoError(t, err)

	bob, ok := result.Get("bob", "b.py")
	require.True(t, ok)
	assert.Equal(t, 5, bob.Rows)
}

func TestNew_AuthorFilterHidesLines(t *testing.T) {
	t.Parallel()

	reg := acceptAll(t)
	require.NoError(t, reg.Configure("author:alice"))

	result, err := blame.New(context.Background(), twoFileProvider(), newFakeAuthors(), reg, blame.Options{})
	require.NoError(t, err)

	filtered, err := reg.IsFiltered("alice", filter.Author)
	require.NoError(t, err)
	assert.True(t, filtered)

	for key := range result.Entries() {
		assert.NotEqual(t, "alice", key.Author)
	}

	_, ok := result.Get("bob", "b.py")
	assert.True(t, ok)
	assert.Equal(t, []string{"alice"}, reg.Matched(filter.Author))
}

func TestNew_EmailAndRevisionFilters(t *testing.T) {
	t.Parallel()

	reg := acceptAll(t)
	require.NoError(t, reg.Configure(`email:@y\.com$,revision:^`+revA[:8]))

	result, err := blame.New(context.Background(), twoFileProvider(), newFakeAuthors(), reg, blame.Options{})
	require.NoError(t, err)

	assert.Zero(t, result.Len())
	assert.Equal(t, []string{"bob@y.com"}, reg.Matched(filter.Email))
	assert.Equal(t, []string{revA}, reg.Matched(filter.Revision))
}

type messages map[string]string

func (m messages) CommitMessage(revision string) (string, error) {
	return m[revision], nil
}

func TestNew_PromotedMessageRevisionIsFiltered(t *testing.T) {
	t.Parallel()

	reg := acceptAll(t)
	reg.SetMessageLookup(messages{revA: "feature", revB: "WIP do not merge"})
	require.NoError(t, reg.Configure("message:WIP"))

	// Commit history evaluation runs before blame and promotes revB.
	for _, rev := range []string{revA, revB} {
		_, err := reg.IsFiltered(rev, filter.Message)
		require.NoError(t, err)
	}

	filtered, err := reg.IsFiltered(revB, filter.Revision)
	require.NoError(t, err)
	require.True(t, filtered)

	result, err := blame.New(context.Background(), twoFileProvider(), newFakeAuthors(), reg, blame.Options{})
	require.NoError(t, err)

	_, ok := result.Get("bob", "b.py")
	assert.False(t, ok)

	_, ok = result.Get("alice", "a.py")
	assert.True(t, ok)
}

func TestNew_FileFilterLimitsWorkers(t *testing.T) {
	t.Parallel()

	provider := twoFileProvider()
	provider.files = append(provider.files, "vendor/c.py", "README.md")

	reg := filter.NewRegistry()
	require.NoError(t, reg.Configure(`file_in:\.py$,file_out:^vendor/`))

	var listed int

	_, err := blame.New(context.Background(), provider, newFakeAuthors(), reg, blame.Options{
		OnFilesListed: func(total int) { listed = total },
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a.py", "b.py"}, provider.requests)
	assert.Equal(t, 2, listed)
	assert.Equal(t, []string{"vendor"}, reg.Matched(filter.FileOut))
}

func TestNew_UnknownAuthorDropped(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		files: []string{"m.go"},
		streams: map[string]string{
			"m.go": porcelain(
				blameLine{rev: revA, email: "alice@x.com", day: 1, text: "package m"},
				blameLine{rev: revC, email: "ghost@nowhere", day: 1, text: "var x int"},
			),
		},
	}

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Len())

	alice, ok := result.Get("alice", "m.go")
	require.True(t, ok)
	assert.Equal(t, 1, alice.Rows)
}

func TestNew_CommentsCounted(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		files: []string{"main.go"},
		streams: map[string]string{
			"main.go": porcelain(
				blameLine{rev: revA, email: "alice@x.com", day: 1, text: "// Package main."},
				blameLine{rev: revA, email: "alice@x.com", day: 1, text: "package main"},
				blameLine{rev: revA, email: "alice@x.com", day: 1, text: "/*"},
				blameLine{rev: revB, email: "bob@y.com", day: 1, text: "inside block"},
				blameLine{rev: revA, email: "alice@x.com", day: 1, text: "*/"},
				blameLine{rev: revB, email: "bob@y.com", day: 1, text: "func main() {}"},
			),
		},
	}

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.NoError(t, err)

	alice, _ := result.Get("alice", "main.go")
	assert.Equal(t, 4, alice.Rows)
	assert.Equal(t, 3, alice.Comments)

	bob, _ := result.Get("bob", "main.go")
	assert.Equal(t, 2, bob.Rows)
	assert.Equal(t, 1, bob.Comments, "block comment state carries across authors within a file")
}

func TestNew_Skew(t *testing.T) {
	t.Parallel()

	lines := []blameLine{
		{rev: revA, email: "alice@x.com", day: 0, text: "first day"},
		{rev: revA, email: "alice@x.com", day: 14, text: "two weeks in"},
		{rev: revA, email: "alice@x.com", day: 70, text: "last day"},
	}

	provider := &fakeProvider{
		files:   []string{"s.c"},
		streams: map[string]string{"s.c": porcelain(lines...)},
	}

	weeks, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{UseWeeks: true})
	require.NoError(t, err)

	entry, _ := weeks.Get("alice", "s.c")
	assert.InDelta(t, 8.0, entry.Skew, 1e-9)
	assert.InDelta(t, 8.0/3, entry.Age(), 1e-9)

	months, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.NoError(t, err)

	entry, _ = months.Get("alice", "s.c")
	assert.InDelta(t, 56/30.4167, entry.Skew, 1e-9)
}

func TestNew_FailuresAreFileScoped(t *testing.T) {
	t.Parallel()

	good := porcelain(repeat(3, blameLine{rev: revA, email: "alice@x.com", day: 2, text: "ok"})...)
	malformed := porcelain(blameLine{rev: revB, email: "bob@y.com", day: 2, text: "kept"}) +
		revC + " 2 2 1\n" + revA + " 2 2 1\nfilename x\n\tnever\n"
	truncated := porcelain(blameLine{rev: revB, email: "bob@y.com", day: 2, text: "kept too"}) +
		revC + " 2 2 1\nauthor-mail <carol@z.com>\n"

	provider := &fakeProvider{
		files: []string{"good.c", "open.c", "exit.c", "malformed.c", "truncated.c"},
		streams: map[string]string{
			"good.c":      good,
			"exit.c":      good,
			"malformed.c": malformed,
			"truncated.c": truncated,
		},
		openErr:  map[string]error{"open.c": errQueryFailed},
		closeErr: map[string]error{"exit.c": errQueryFailed},
	}

	var (
		mu     sync.Mutex
		failed = map[string]error{}
		done   int
	)

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{
		Workers: 2,
		OnFileDone: func(path string, err error) {
			mu.Lock()
			defer mu.Unlock()

			done++

			if err != nil {
				failed[path] = err
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, done)
	require.Len(t, failed, 4)

	for _, err := range failed {
		require.ErrorIs(t, err, blame.ErrHistoryProvider)
	}

	require.ErrorIs(t, failed["open.c"], errQueryFailed)
	require.ErrorIs(t, failed["exit.c"], errQueryFailed)
	require.ErrorIs(t, failed["malformed.c"], blame.ErrMalformedStream)
	require.ErrorIs(t, failed["truncated.c"], blame.ErrTruncatedStream)

	entry, ok := result.Get("alice", "good.c")
	require.True(t, ok)
	assert.Equal(t, 3, entry.Rows)

	entry, ok = result.Get("bob", "malformed.c")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Rows, "records completed before the failure stay attributed")

	_, ok = result.Get("carol", "truncated.c")
	assert.False(t, ok, "the incomplete record is discarded")
}

type countingProvider struct {
	*fakeProvider
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (p *countingProvider) BlameStream(ctx context.Context, branch, since string, copies bool, path string) (io.ReadCloser, error) {
	rc, err := p.fakeProvider.BlameStream(ctx, branch, since, copies, path)
	if err != nil {
		return nil, err
	}

	now := p.active.Add(1)
	for {
		seen := p.maxSeen.Load()
		if now <= seen || p.maxSeen.CompareAndSwap(seen, now) {
			break
		}
	}

	time.Sleep(5 * time.Millisecond)

	s, _ := rc.(*stream)
	s.onClose = func() { p.active.Add(-1) }

	return s, nil
}

func TestNew_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	base := &fakeProvider{streams: map[string]string{}}

	for i := range 20 {
		name := fmt.Sprintf("f%02d.c", i)
		base.files = append(base.files, name)
		base.streams[name] = porcelain(blameLine{rev: revA, email: "alice@x.com", day: 3, text: "int x;"})
	}

	provider := &countingProvider{fakeProvider: base}

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{Workers: 3})
	require.NoError(t, err)

	assert.LessOrEqual(t, provider.maxSeen.Load(), int32(3))
	assert.Equal(t, 20, result.Len())
	assert.Equal(t, 20, result.SummedByAuthor()["alice"].Rows)
}

func TestNew_AllBranchesSkipsAttribution(t *testing.T) {
	t.Parallel()

	provider := twoFileProvider()

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{
		Branch: blame.AllBranches,
	})
	require.NoError(t, err)

	assert.Zero(t, result.Len())
	assert.Empty(t, provider.requests)
}

func TestNew_ListFailure(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{listErr: errQueryFailed}

	_, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.ErrorIs(t, err, blame.ErrHistoryProvider)
	require.ErrorIs(t, err, errQueryFailed)
}

func TestNew_CanceledBeforeAdmission(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := twoFileProvider()

	result, err := blame.New(ctx, provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Empty(t, provider.requests)
}

func TestNew_InvalidUTF8Replaced(t *testing.T) {
	t.Parallel()

	raw := porcelain(blameLine{rev: revA, email: "alice@x.com", day: 1, text: "caf\xe9 = 1"})

	provider := &fakeProvider{
		files:   []string{"u.py"},
		streams: map[string]string{"u.py": raw},
	}

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.NoError(t, err)

	entry, ok := result.Get("alice", "u.py")
	require.True(t, ok)
	assert.Equal(t, 1, entry.Rows)
}

func TestNew_EntryInvariants(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{
		files: []string{"a.py", "b.c", "c.rb"},
		streams: map[string]string{
			"a.py": porcelain(
				blameLine{rev: revA, email: "alice@x.com", day: 0, text: "# comment"},
				blameLine{rev: revA, email: "alice@x.com", day: 90, text: "x = 1"},
			),
			"b.c": porcelain(
				blameLine{rev: revB, email: "bob@y.com", day: -3, text: "/* a */"},
				blameLine{rev: revB, email: "bob@y.com", day: 30, text: "int y;"},
			),
			"c.rb": porcelain(
				blameLine{rev: revC, email: "carol@z.com", day: 20, text: "=begin"},
				blameLine{rev: revC, email: "carol@z.com", day: 20, text: "# doc"},
				blameLine{rev: revC, email: "carol@z.com", day: 20, text: "=end"},
			),
		},
	}

	result, err := blame.New(context.Background(), provider, newFakeAuthors(), acceptAll(t), blame.Options{})
	require.NoError(t, err)
	require.Equal(t, 3, result.Len())

	for key, entry := range result.Entries() {
		assert.GreaterOrEqual(t, entry.Rows, entry.Comments, key)
		assert.GreaterOrEqual(t, entry.Comments, 0, key)
		assert.GreaterOrEqual(t, entry.Skew, 0.0, key)
		assert.Positive(t, entry.Rows, key)
	}
}
