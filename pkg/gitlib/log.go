package gitlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	git2go "github.com/libgit2/git2go/v34"
)

// LogOptions configures the commit log iteration.
type LogOptions struct {
	// Branch is the starting revision. Empty means HEAD; AllBranches walks
	// every local branch.
	Branch string
	// Since skips commits authored before this time.
	Since *time.Time
}

// CommitIter iterates over commits, newest first.
type CommitIter struct {
	walk  *git2go.RevWalk
	repo  *Repository
	since *time.Time
}

// Log returns a commit iterator over the history of opts.Branch.
func (r *Repository) Log(ctx context.Context, opts LogOptions) (*CommitIter, error) {
	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}

	err = r.pushStart(ctx, walk, opts.Branch)
	if err != nil {
		walk.Free()

		return nil, err
	}

	// Topological order keeps children ahead of their parents.
	walk.Sorting(git2go.SortTime | git2go.SortTopological)

	return &CommitIter{walk: walk, repo: r, since: opts.Since}, nil
}

func (r *Repository) pushStart(ctx context.Context, walk *git2go.RevWalk, branch string) error {
	if branch == AllBranches {
		err := walk.PushGlob("refs/heads/*")
		if err != nil {
			return fmt.Errorf("push branches to revwalk: %w", err)
		}

		return nil
	}

	start, err := r.ResolveCommit(ctx, branch)
	if err != nil {
		return err
	}
	defer start.Free()

	err = walk.Push(start.commit.Id())
	if err != nil {
		return fmt.Errorf("push %s to revwalk: %w", branch, err)
	}

	return nil
}

// Next returns the next commit, or io.EOF when the walk is done.
func (ci *CommitIter) Next() (*Commit, error) {
	if ci.walk == nil {
		return nil, io.EOF
	}

	for {
		oid := new(git2go.Oid)

		err := ci.walk.Next(oid)
		if err != nil {
			ci.Close()

			if git2go.IsErrorCode(err, git2go.ErrorCodeIterOver) {
				return nil, io.EOF
			}

			return nil, fmt.Errorf("revwalk next: %w", err)
		}

		commit, err := ci.repo.repo.LookupCommit(oid)
		if err != nil {
			return nil, fmt.Errorf("lookup commit %s: %w", oid, err)
		}

		if ci.since != nil && commit.Author().When.Before(*ci.since) {
			commit.Free()

			continue
		}

		return &Commit{commit: commit, repo: ci.repo}, nil
	}
}

// ForEach calls cb for each remaining commit. The commit is freed after cb
// returns.
func (ci *CommitIter) ForEach(cb func(*Commit) error) error {
	for {
		commit, err := ci.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		cbErr := cb(commit)
		commit.Free()

		if cbErr != nil {
			ci.Close()

			return cbErr
		}
	}
}

// Close releases resources.
func (ci *CommitIter) Close() {
	if ci.walk != nil {
		ci.walk.Free()
		ci.walk = nil
	}
}
