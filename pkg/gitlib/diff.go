package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// Diff wraps a libgit2 diff.
type Diff struct {
	diff *git2go.Diff
}

// LineStats sums the added and removed lines of the deltas whose path accept
// admits. A nil accept admits every path. Binary deltas count nothing.
func (d *Diff) LineStats(accept func(path string) bool) (LineStats, error) {
	var stats LineStats

	countLine := func(line git2go.DiffLine) error {
		switch line.Origin {
		case git2go.DiffLineAddition:
			stats.Insertions++
		case git2go.DiffLineDeletion:
			stats.Deletions++
		default:
		}

		return nil
	}

	skipLine := func(git2go.DiffLine) error { return nil }

	err := d.diff.ForEach(func(delta git2go.DiffDelta, _ float64) (git2go.DiffForEachHunkCallback, error) {
		lineCB := countLine
		if delta.Flags&git2go.DiffFlagBinary != 0 || (accept != nil && !accept(deltaPath(delta))) {
			lineCB = skipLine
		}

		return func(git2go.DiffHunk) (git2go.DiffForEachLineCallback, error) {
			return lineCB, nil
		}, nil
	}, git2go.DiffDetailLines)
	if err != nil {
		return LineStats{}, fmt.Errorf("count diff lines: %w", err)
	}

	return stats, nil
}

// deltaPath is the new path of a delta, or the old one for deletions.
func deltaPath(delta git2go.DiffDelta) string {
	if delta.NewFile.Path != "" {
		return delta.NewFile.Path
	}

	return delta.OldFile.Path
}

// Free releases the diff resources.
func (d *Diff) Free() {
	if d.diff == nil {
		return
	}

	// Free errors are not actionable during cleanup.
	_ = d.diff.Free()
	d.diff = nil
}
