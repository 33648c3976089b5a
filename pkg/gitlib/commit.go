package gitlib

import (
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrParentNotFound is returned when the requested parent commit is not found.
var ErrParentNotFound = errors.New("parent commit not found")

// Commit wraps a libgit2 commit.
type Commit struct {
	commit *git2go.Commit
	repo   *Repository
}

// Hash returns the commit hash.
func (c *Commit) Hash() Hash {
	return HashFromOid(c.commit.Id())
}

// Author returns the commit author.
func (c *Commit) Author() Signature {
	return signatureFrom(c.commit.Author())
}

// Message returns the commit message.
func (c *Commit) Message() string {
	return c.commit.Message()
}

// NumParents returns the number of parent commits.
func (c *Commit) NumParents() int {
	return int(c.commit.ParentCount())
}

// Parent returns the nth parent commit.
func (c *Commit) Parent(n int) (*Commit, error) {
	if n < 0 || n >= c.NumParents() {
		return nil, ErrParentNotFound
	}

	parent := c.commit.Parent(uint(n))
	if parent == nil {
		return nil, ErrParentNotFound
	}

	return &Commit{commit: parent, repo: c.repo}, nil
}

// Tree returns the tree associated with this commit.
func (c *Commit) Tree() (*Tree, error) {
	tree, err := c.commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get commit tree: %w", err)
	}

	return &Tree{tree: tree, repo: c.repo}, nil
}

// LineStats counts the lines a commit changed.
type LineStats struct {
	Insertions int
	Deletions  int
}

// Stats diffs the commit against its parent, or against the empty tree for a
// root commit, counting only files whose path accept admits (nil admits all).
// Merge commits report no changes, as "git log --stat" does.
func (c *Commit) Stats(detectCopies bool, accept func(path string) bool) (LineStats, error) {
	if c.NumParents() > 1 {
		return LineStats{}, nil
	}

	tree, err := c.Tree()
	if err != nil {
		return LineStats{}, err
	}
	defer tree.Free()

	var parentTree *Tree

	if c.NumParents() == 1 {
		parent, parentErr := c.Parent(0)
		if parentErr != nil {
			return LineStats{}, parentErr
		}
		defer parent.Free()

		parentTree, err = parent.Tree()
		if err != nil {
			return LineStats{}, err
		}
		defer parentTree.Free()
	}

	diff, err := c.repo.DiffTreeToTree(parentTree, tree, detectCopies)
	if err != nil {
		return LineStats{}, err
	}
	defer diff.Free()

	return diff.LineStats(accept)
}

// Free releases the commit resources.
func (c *Commit) Free() {
	if c.commit != nil {
		c.commit.Free()
		c.commit = nil
	}
}
