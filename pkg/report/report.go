// Package report turns blame and history results into per-author rows and
// renders them as text, JSON or YAML.
package report

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/gitinspect/pkg/blame"
	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/history"
)

// ErrUnsupportedFormat is returned for an unknown output format name.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Format selects the rendering.
type Format string

// Formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Formats lists every supported format.
var Formats = []Format{FormatText, FormatJSON, FormatYAML}

// ParseFormat returns the format named s, ignoring case.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}

	return f, nil
}

const (
	percent         = 100.0
	defaultTopFiles = 5
	unitWeeks       = "weeks"
	unitMonths      = "months"
)

// Options configures Build.
type Options struct {
	// Repositories names the analyzed repositories.
	Repositories []string
	// UseWeeks marks ages as measured in weeks rather than months.
	UseWeeks bool
	// TopFiles bounds the responsibilities listed per author. Zero uses 5,
	// negative lists none.
	TopFiles int
	// Failed lists files whose blame could not be completed.
	Failed []string
}

// Report is the rendered document.
type Report struct {
	Repositories []string        `json:"repositories"            yaml:"repositories"`
	AgeUnit      string          `json:"age_unit"                yaml:"age_unit"`
	Blame        []BlameRow      `json:"blame"                   yaml:"blame"`
	Changes      []ChangeRow     `json:"changes"                 yaml:"changes"`
	Excluded     []ExcludedGroup `json:"excluded,omitempty"      yaml:"excluded,omitempty"`
	Failed       []string        `json:"failed_files,omitempty"  yaml:"failed_files,omitempty"`
	TotalRows    int             `json:"total_rows"              yaml:"total_rows"`
	TotalCommits int             `json:"total_commits"           yaml:"total_commits"`
}

// BlameRow summarizes the surviving lines of one author.
type BlameRow struct {
	Author       string      `json:"author"                     yaml:"author"`
	Rows         int         `json:"rows"                       yaml:"rows"`
	Stability    float64     `json:"stability"                  yaml:"stability"`
	Age          float64     `json:"age"                        yaml:"age"`
	CommentShare float64     `json:"comments_percent"           yaml:"comments_percent"`
	Files        []FileShare `json:"responsibilities,omitempty" yaml:"responsibilities,omitempty"`
}

// FileShare is the number of rows an author owns in one file.
type FileShare struct {
	File string `json:"file" yaml:"file"`
	Rows int    `json:"rows" yaml:"rows"`
}

// ChangeRow summarizes the counted commits of one author.
type ChangeRow struct {
	Author     string  `json:"author"          yaml:"author"`
	Email      string  `json:"email"           yaml:"email"`
	Commits    int     `json:"commits"         yaml:"commits"`
	Insertions int     `json:"insertions"      yaml:"insertions"`
	Deletions  int     `json:"deletions"       yaml:"deletions"`
	Share      float64 `json:"changes_percent" yaml:"changes_percent"`
}

// ExcludedGroup lists the literals a filter category hid.
type ExcludedGroup struct {
	Category string   `json:"category" yaml:"category"`
	Items    []string `json:"items"    yaml:"items"`
}

// Build assembles the report. Authors appear in responsibility order.
func Build(b *blame.Blame, h *history.History, filters *filter.Registry, opts Options) Report {
	rep := Report{
		Repositories: opts.Repositories,
		AgeUnit:      unitMonths,
		Failed:       slices.Sorted(slices.Values(opts.Failed)),
		TotalCommits: h.Commits(),
	}

	if opts.UseWeeks {
		rep.AgeUnit = unitWeeks
	}

	rep.Blame = blameRows(b, h, topFiles(opts.TopFiles))
	for _, row := range rep.Blame {
		rep.TotalRows += row.Rows
	}

	rep.Changes = changeRows(h)

	if filters != nil {
		for _, category := range filter.Categories {
			items := filters.Matched(category)
			if len(items) > 0 {
				rep.Excluded = append(rep.Excluded, ExcludedGroup{Category: string(category), Items: items})
			}
		}
	}

	return rep
}

func topFiles(n int) int {
	if n == 0 {
		return defaultTopFiles
	}

	return max(n, 0)
}

func blameRows(b *blame.Blame, h *history.History, limit int) []BlameRow {
	summed := b.SummedByAuthor()
	files := responsibilities(b)

	authors := b.AuthorsByResponsibility()
	rows := make([]BlameRow, 0, len(authors))

	for _, author := range authors {
		entry := summed[author]
		owned := files[author]

		if len(owned) > limit {
			owned = owned[:limit]
		}

		rows = append(rows, BlameRow{
			Author:       author,
			Rows:         entry.Rows,
			Stability:    blame.Stability(author, entry.Rows, h),
			Age:          entry.Age(),
			CommentShare: entry.CommentShare(),
			Files:        owned,
		})
	}

	return rows
}

// responsibilities lists each author's files by descending rows, then path.
func responsibilities(b *blame.Blame) map[string][]FileShare {
	out := make(map[string][]FileShare)

	for key, entry := range b.Entries() {
		out[key.Author] = append(out[key.Author], FileShare{File: key.File, Rows: entry.Rows})
	}

	for _, shares := range out {
		slices.SortFunc(shares, func(a, b FileShare) int {
			return cmp.Or(cmp.Compare(b.Rows, a.Rows), strings.Compare(a.File, b.File))
		})
	}

	return out
}

func changeRows(h *history.History) []ChangeRow {
	authors := h.Authors()
	rows := make([]ChangeRow, 0, len(authors))

	var total int

	for _, a := range authors {
		total += a.Insertions + a.Deletions
	}

	for _, a := range authors {
		row := ChangeRow{
			Author:     a.Name,
			Email:      a.Email,
			Commits:    a.Commits,
			Insertions: a.Insertions,
			Deletions:  a.Deletions,
		}

		if total > 0 {
			row.Share = percent * float64(a.Insertions+a.Deletions) / float64(total)
		}

		rows = append(rows, row)
	}

	return rows
}
