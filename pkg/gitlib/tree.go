package gitlib

import (
	git2go "github.com/libgit2/git2go/v34"
)

// Tree wraps a libgit2 tree.
type Tree struct {
	tree *git2go.Tree
	repo *Repository
}

// Hash returns the tree hash.
func (t *Tree) Hash() Hash {
	return HashFromOid(t.tree.Id())
}

// Paths returns the slash-separated path of every blob under the tree.
func (t *Tree) Paths() ([]string, error) {
	var paths []string

	err := walkTree(t.repo, t, "", func(path string) {
		paths = append(paths, path)
	})
	if err != nil {
		return nil, err
	}

	return paths, nil
}

// Free releases the tree resources.
func (t *Tree) Free() {
	if t.tree != nil {
		t.tree.Free()
		t.tree = nil
	}
}

func walkTree(repo *Repository, tree *Tree, prefix string, cb func(path string)) error {
	count := tree.tree.EntryCount()

	for i := range count {
		entry := tree.tree.EntryByIndex(i)
		if entry == nil {
			continue
		}

		err := processTreeEntry(repo, entry, prefix, cb)
		if err != nil {
			return err
		}
	}

	return nil
}

// processTreeEntry reports blobs and recurses into subtrees. Submodule
// commits are skipped.
func processTreeEntry(repo *Repository, entry *git2go.TreeEntry, prefix string, cb func(path string)) error {
	path := entry.Name
	if prefix != "" {
		path = prefix + "/" + path
	}

	switch entry.Type {
	case git2go.ObjectBlob:
		cb(path)

		return nil
	case git2go.ObjectTree:
		subtree, err := repo.LookupTree(HashFromOid(entry.Id))
		if err != nil {
			return err
		}
		defer subtree.Free()

		return walkTree(repo, subtree, path, cb)
	default:
		return nil
	}
}
