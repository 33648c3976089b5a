// Package history walks a repository's commits and aggregates per-author
// statistics. A History resolves blamed emails to author names and supplies
// the date range and insertion counts used by blame reports.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/gitlib"
	"github.com/Sumatoshi-tech/gitinspect/pkg/identity"
	"github.com/Sumatoshi-tech/gitinspect/pkg/observability"
)

const tracerName = "gitinspect/history"

// Options configures a history walk.
type Options struct {
	// Branch is the revision walked. Empty means HEAD; gitlib.AllBranches
	// walks every local branch.
	Branch string
	// Since skips commits authored earlier.
	Since *time.Time
	// DetectCopies folds renamed and copied lines out of insertion counts.
	DetectCopies bool

	Logger  *slog.Logger
	Metrics *observability.HistoryMetrics
}

// AuthorStats aggregates the counted commits of one author.
type AuthorStats struct {
	Name       string
	Email      string
	Commits    int
	Insertions int
	Deletions  int
	First      time.Time
	Last       time.Time
}

// Record is one commit as seen by the aggregation.
type Record struct {
	Revision string
	Author   gitlib.Signature
	Stats    gitlib.LineStats
}

// History holds per-author statistics and identities of one or more
// repositories. It is safe for concurrent use.
type History struct {
	mu         sync.RWMutex
	identities *identity.Dict
	authors    map[string]*AuthorStats
	first      time.Time
	last       time.Time
	commits    int
}

// New returns an empty History.
func New() *History {
	return &History{
		identities: identity.NewDict(),
		authors:    make(map[string]*AuthorStats),
	}
}

// Build walks the commits of opts.Branch and counts every commit that no
// filter hides. Insertions and deletions only count files that
// filters.IsAcceptableFileName admits, the same files blame attributes.
// Identities are learned from all walked commits so blamed lines of filtered
// authors still resolve and get filtered by name.
func Build(ctx context.Context, repo *gitlib.Repository, filters *filter.Registry, opts Options) (*History, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "history.Build")
	defer span.End()

	iter, err := repo.Log(ctx, gitlib.LogOptions{Branch: opts.Branch, Since: opts.Since})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("walk history: %w", err)
	}
	defer iter.Close()

	h := New()

	var counted, skipped int64

	err = iter.ForEach(func(commit *gitlib.Commit) error {
		rec := Record{Revision: commit.Hash().String(), Author: commit.Author()}
		h.identities.Observe(rec.Author.Name, rec.Author.Email, rec.Author.When)

		hidden, filterErr := isFiltered(filters, rec)
		if filterErr != nil {
			return filterErr
		}

		if hidden {
			skipped++

			return nil
		}

		stats, statsErr := commit.Stats(opts.DetectCopies, filters.IsAcceptableFileName)
		if statsErr != nil {
			return fmt.Errorf("stats of %s: %w", rec.Revision, statsErr)
		}

		rec.Stats = stats
		h.Add(rec)
		counted++

		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(attribute.Int64("commits.counted", counted), attribute.Int64("commits.filtered", skipped))
	opts.Metrics.RecordCommits(ctx, counted, skipped)
	logger.DebugContext(ctx, "history walked", "repository", repo.Name(), "commits", counted, "filtered", skipped)

	return h, nil
}

// isFiltered checks the message first so a hidden commit's revision is
// registered for blame even when another rule would also hide it.
func isFiltered(filters *filter.Registry, rec Record) (bool, error) {
	checks := [...]struct {
		value    string
		category filter.Category
	}{
		{rec.Revision, filter.Message},
		{rec.Author.Name, filter.Author},
		{rec.Author.Email, filter.Email},
		{rec.Revision, filter.Revision},
	}

	for _, check := range checks {
		hidden, err := filters.IsFiltered(check.value, check.category)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", check.category, err)
		}

		if hidden {
			return true, nil
		}
	}

	return false, nil
}

// Add counts one commit.
func (h *History) Add(rec Record) {
	when := rec.Author.When.Local()
	name := strings.TrimSpace(rec.Author.Name)

	h.identities.Observe(name, rec.Author.Email, when)

	h.mu.Lock()
	defer h.mu.Unlock()

	stats, ok := h.authors[name]
	if !ok {
		stats = &AuthorStats{Name: name, First: when, Last: when}
		h.authors[name] = stats
	}

	if !when.Before(stats.Last) {
		stats.Email = identity.NormalizeEmail(rec.Author.Email)
	}

	stats.Commits++
	stats.Insertions += rec.Stats.Insertions
	stats.Deletions += rec.Stats.Deletions
	stats.First = earliest(stats.First, when)
	stats.Last = latest(stats.Last, when)

	h.commits++
	h.first = earliest(h.first, when)
	h.last = latest(h.last, when)
}

// Merge adds the commits and identities of other.
func (h *History) Merge(other *History) {
	if other == nil || other == h {
		return
	}

	h.identities.Merge(other.identities)

	other.mu.RLock()
	incoming := make([]AuthorStats, 0, len(other.authors))

	for _, stats := range other.authors {
		incoming = append(incoming, *stats)
	}

	commits, first, last := other.commits, other.first, other.last
	other.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, in := range incoming {
		stats, ok := h.authors[in.Name]
		if !ok {
			copied := in
			h.authors[in.Name] = &copied

			continue
		}

		if in.Last.After(stats.Last) {
			stats.Email = in.Email
		}

		stats.Commits += in.Commits
		stats.Insertions += in.Insertions
		stats.Deletions += in.Deletions
		stats.First = earliest(stats.First, in.First)
		stats.Last = latest(stats.Last, in.Last)
	}

	h.commits += commits
	h.first = earliest(h.first, first)
	h.last = latest(h.last, last)
}

// AuthorByEmail returns the latest name used with email.
func (h *History) AuthorByEmail(email string) (string, error) {
	return h.identities.NameByEmail(email)
}

// FirstCommitDate returns the author date of the oldest counted commit.
func (h *History) FirstCommitDate() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.first
}

// LastCommitDate returns the author date of the newest counted commit.
func (h *History) LastCommitDate() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.last
}

// Insertions returns the lines author inserted over the counted commits.
func (h *History) Insertions(author string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if stats, ok := h.authors[author]; ok {
		return stats.Insertions
	}

	return 0
}

// Commits returns the number of counted commits.
func (h *History) Commits() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.commits
}

// Authors returns per-author statistics ordered by name.
func (h *History) Authors() []AuthorStats {
	h.mu.RLock()
	out := make([]AuthorStats, 0, len(h.authors))

	for _, stats := range h.authors {
		out = append(out, *stats)
	}
	h.mu.RUnlock()

	slices.SortFunc(out, func(a, b AuthorStats) int {
		return strings.Compare(a.Name, b.Name)
	})

	return out
}

func earliest(current, candidate time.Time) time.Time {
	if current.IsZero() || (!candidate.IsZero() && candidate.Before(current)) {
		return candidate
	}

	return current
}

func latest(current, candidate time.Time) time.Time {
	if candidate.After(current) {
		return candidate
	}

	return current
}
