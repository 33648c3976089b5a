package gitlib

import (
	"context"
	"fmt"
	"path/filepath"

	git2go "github.com/libgit2/git2go/v34"
)

// AllBranches is the revision that selects every local branch.
const AllBranches = "--all"

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the path the repository was opened with.
func (r *Repository) Path() string {
	return r.path
}

// Name returns the base name of the working tree, as shown in reports.
func (r *Repository) Name() string {
	dir := r.repo.Workdir()
	if dir == "" {
		dir = r.repo.Path()
	}

	return filepath.Base(filepath.Clean(dir))
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// ResolveCommit peels a revision expression such as "HEAD", a branch name or a
// hash to its commit. An empty revision means HEAD.
func (r *Repository) ResolveCommit(_ context.Context, revision string) (*Commit, error) {
	if revision == "" {
		revision = "HEAD"
	}

	obj, err := r.repo.RevparseSingle(revision)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", revision, err)
	}
	defer obj.Free()

	peeled, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return nil, fmt.Errorf("peel %s to commit: %w", revision, err)
	}
	defer peeled.Free()

	commit, err := peeled.AsCommit()
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", revision, err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupCommit returns the commit with the given hash.
func (r *Repository) LookupCommit(_ context.Context, hash Hash) (*Commit, error) {
	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// CommitMessage returns the full message of revision.
func (r *Repository) CommitMessage(revision string) (string, error) {
	commit, err := r.ResolveCommit(context.Background(), revision)
	if err != nil {
		return "", err
	}
	defer commit.Free()

	return commit.Message(), nil
}

// TrackedFiles lists every blob path in the tree of branch, like
// "git ls-tree -r --name-only". It lists nothing for AllBranches.
func (r *Repository) TrackedFiles(ctx context.Context, branch string) ([]string, error) {
	if branch == AllBranches {
		return nil, nil
	}

	commit, err := r.ResolveCommit(ctx, branch)
	if err != nil {
		return nil, err
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}
	defer tree.Free()

	return tree.Paths()
}

// LookupTree returns the tree with the given hash.
func (r *Repository) LookupTree(hash Hash) (*Tree, error) {
	tree, err := r.repo.LookupTree(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup tree: %w", err)
	}

	return &Tree{tree: tree, repo: r}, nil
}

// DiffTreeToTree computes the diff between two trees. A nil tree stands for
// the empty tree. The diff ignores whitespace, and with detectCopies renames
// and copies are folded so moved lines are not counted as new.
func (r *Repository) DiffTreeToTree(oldTree, newTree *Tree, detectCopies bool) (*Diff, error) {
	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, fmt.Errorf("get diff options: %w", err)
	}

	opts.Flags |= git2go.DiffIgnoreWhitespace

	var oldT, newT *git2go.Tree
	if oldTree != nil {
		oldT = oldTree.tree
	}

	if newTree != nil {
		newT = newTree.tree
	}

	diff, err := r.repo.DiffTreeToTree(oldT, newT, &opts)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	wrapped := &Diff{diff: diff}

	if detectCopies {
		findOpts, findErr := git2go.DefaultDiffFindOptions()
		if findErr != nil {
			wrapped.Free()

			return nil, fmt.Errorf("get diff find options: %w", findErr)
		}

		findOpts.Flags |= git2go.DiffFindRenames | git2go.DiffFindCopies | git2go.DiffFindCopiesFromUnmodified

		findErr = diff.FindSimilar(&findOpts)
		if findErr != nil {
			wrapped.Free()

			return nil, fmt.Errorf("find similar: %w", findErr)
		}
	}

	return wrapped, nil
}
