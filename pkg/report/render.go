package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// RenderOptions configures Render.
type RenderOptions struct {
	// Color enables ANSI headings in text output.
	Color bool
}

// Render writes rep to w in format.
func Render(w io.Writer, rep Report, format Format, opts RenderOptions) error {
	switch format {
	case FormatText:
		return renderText(w, rep, opts)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		err := enc.Encode(rep)
		if err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}

		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		err := enc.Encode(rep)
		if err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

type textWriter struct {
	w       io.Writer
	heading *color.Color
	err     error
}

func (tw *textWriter) printf(format string, args ...any) {
	if tw.err != nil {
		return
	}

	_, tw.err = fmt.Fprintf(tw.w, format, args...)
}

func (tw *textWriter) section(title string) {
	if tw.err != nil {
		return
	}

	_, tw.err = tw.heading.Fprintln(tw.w, title)
}

func renderText(w io.Writer, rep Report, opts RenderOptions) error {
	heading := color.New(color.FgCyan, color.Bold)
	if opts.Color {
		heading.EnableColor()
	} else {
		heading.DisableColor()
	}

	tw := &textWriter{w: w, heading: heading}

	if len(rep.Repositories) > 0 {
		tw.printf("Repositories: %s\n\n", strings.Join(rep.Repositories, ", "))
	}

	tw.section("Statistical information for the repository")
	tw.printf("%s commits, %s surviving rows\n\n", humanize.Comma(int64(rep.TotalCommits)), humanize.Comma(int64(rep.TotalRows)))

	if len(rep.Changes) > 0 {
		tw.section("Commit history by author")
		tw.printf("%s\n\n", changesTable(rep.Changes))
	}

	tw.section("Surviving rows by author")

	if len(rep.Blame) == 0 {
		tw.printf("No rows are attributed to any author.\n\n")
	} else {
		tw.printf("%s\n\n", blameTable(rep.Blame, rep.AgeUnit))
	}

	if hasResponsibilities(rep.Blame) {
		tw.section("Responsibilities")

		for _, row := range rep.Blame {
			if len(row.Files) == 0 {
				continue
			}

			tw.printf("%s is mostly responsible for\n", row.Author)

			for _, f := range row.Files {
				tw.printf("  %8s  %s\n", humanize.Comma(int64(f.Rows)), f.File)
			}
		}

		tw.printf("\n")
	}

	if len(rep.Excluded) > 0 {
		tw.section("The following items were excluded from the statistics")

		for _, group := range rep.Excluded {
			tw.printf("%s: %s\n", group.Category, strings.Join(group.Items, ", "))
		}

		tw.printf("\n")
	}

	if len(rep.Failed) > 0 {
		tw.section("Files that could not be blamed")

		for _, path := range rep.Failed {
			tw.printf("  %s\n", path)
		}
	}

	if tw.err != nil {
		return fmt.Errorf("write text report: %w", tw.err)
	}

	return nil
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Header = text.FormatDefault

	return tbl
}

func blameTable(rows []BlameRow, ageUnit string) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Author", "Rows", "Stability", "Age (" + ageUnit + ")", "% in comments"})

	for _, row := range rows {
		tbl.AppendRow(table.Row{
			row.Author,
			humanize.Comma(int64(row.Rows)),
			fmt.Sprintf("%.1f", row.Stability),
			fmt.Sprintf("%.1f", row.Age),
			fmt.Sprintf("%.2f", row.CommentShare),
		})
	}

	tbl.SetColumnConfigs(numericColumns(2, 3, 4, 5))

	return tbl.Render()
}

func changesTable(rows []ChangeRow) string {
	tbl := newTable()
	tbl.AppendHeader(table.Row{"Author", "Commits", "Insertions", "Deletions", "% of changes"})

	for _, row := range rows {
		tbl.AppendRow(table.Row{
			row.Author,
			humanize.Comma(int64(row.Commits)),
			humanize.Comma(int64(row.Insertions)),
			humanize.Comma(int64(row.Deletions)),
			fmt.Sprintf("%.2f", row.Share),
		})
	}

	tbl.SetColumnConfigs(numericColumns(2, 3, 4, 5))

	return tbl.Render()
}

func numericColumns(numbers ...int) []table.ColumnConfig {
	configs := make([]table.ColumnConfig, 0, len(numbers))

	for _, n := range numbers {
		configs = append(configs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignRight})
	}

	return configs
}

func hasResponsibilities(rows []BlameRow) bool {
	for _, row := range rows {
		if len(row.Files) > 0 {
			return true
		}
	}

	return false
}
