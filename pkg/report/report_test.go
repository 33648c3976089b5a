package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/gitinspect/pkg/blame"
	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/gitlib"
	"github.com/Sumatoshi-tech/gitinspect/pkg/history"
	"github.com/Sumatoshi-tech/gitinspect/pkg/report"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type provider map[string]string

func (p provider) TrackedFiles(context.Context, string) ([]string, error) {
	files := make([]string, 0, len(p))
	for path := range p {
		files = append(files, path)
	}

	return files, nil
}

func (p provider) BlameStream(_ context.Context, _, _ string, _ bool, path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(p[path])), nil
}

// lines renders n porcelain records by email written day days after epoch.
func lines(email string, day, n int, text string) string {
	var sb strings.Builder

	for i := range n {
		fmt.Fprintf(&sb, "%s %d %d 1\n", strings.Repeat("a", 40), i+1, i+1)
		fmt.Fprintf(&sb, "author-mail <%s>\n", email)
		fmt.Fprintf(&sb, "author-time %d\n", epoch.AddDate(0, 0, day).Unix())
		sb.WriteString("filename x\n")
		fmt.Fprintf(&sb, "\t%s\n", text)
	}

	return sb.String()
}

func fixture(t *testing.T) (*blame.Blame, *history.History, *filter.Registry) {
	t.Helper()

	h := history.New()
	h.Add(history.Record{
		Revision: "r1",
		Author:   gitlib.Signature{Name: "alice", Email: "alice@x.com", When: epoch},
		Stats:    gitlib.LineStats{Insertions: 20, Deletions: 5},
	})
	h.Add(history.Record{
		Revision: "r2",
		Author:   gitlib.Signature{Name: "bob", Email: "bob@y.com", When: epoch.AddDate(0, 0, 28)},
		Stats:    gitlib.LineStats{Insertions: 10, Deletions: 5},
	})

	filters := filter.NewRegistry()
	require.NoError(t, filters.IncludeExtensions([]string{"go", "py"}))
	require.NoError(t, filters.Configure("file_out:^vendor/,email:^carol@"))

	src := provider{
		"main.go":       lines("alice@x.com", 14, 8, "x := 1") + lines("bob@y.com", 28, 2, "// note"),
		"util.py":       lines("alice@x.com", 0, 2, "# doc"),
		"vendor/lib.go": lines("bob@y.com", 28, 50, "y := 2"),
	}

	b, err := blame.New(context.Background(), src, h, filters, blame.Options{UseWeeks: true})
	require.NoError(t, err)

	hidden, err := filters.IsFiltered("carol@z.com", filter.Email)
	require.NoError(t, err)
	require.True(t, hidden)

	return b, h, filters
}

func TestBuild(t *testing.T) {
	t.Parallel()

	b, h, filters := fixture(t)

	rep := report.Build(b, h, filters, report.Options{Repositories: []string{"demo"}, UseWeeks: true, Failed: []string{"z.go", "a.go"}})

	assert.Equal(t, "weeks", rep.AgeUnit)
	assert.Equal(t, 12, rep.TotalRows)
	assert.Equal(t, 2, rep.TotalCommits)
	assert.Equal(t, []string{"a.go", "z.go"}, rep.Failed)

	require.Len(t, rep.Blame, 2)

	alice := rep.Blame[0]
	assert.Equal(t, "alice", alice.Author)
	assert.Equal(t, 10, alice.Rows)
	assert.InDelta(t, 50.0, alice.Stability, 1e-9)
	assert.InDelta(t, 20.0, alice.CommentShare, 1e-9)
	assert.InDelta(t, 16.0/10, alice.Age, 1e-9)
	assert.Equal(t, []report.FileShare{{File: "main.go", Rows: 8}, {File: "util.py", Rows: 2}}, alice.Files)

	bob := rep.Blame[1]
	assert.Equal(t, 2, bob.Rows)
	assert.InDelta(t, 20.0, bob.Stability, 1e-9)
	assert.InDelta(t, 100.0, bob.CommentShare, 1e-9)
	assert.Zero(t, bob.Age)

	require.Len(t, rep.Changes, 2)
	assert.InDelta(t, 62.5, rep.Changes[0].Share, 1e-9)
	assert.Equal(t, "bob@y.com", rep.Changes[1].Email)

	assert.Equal(t, []report.ExcludedGroup{
		{Category: "file_out", Items: []string{"vendor"}},
		{Category: "email", Items: []string{"carol@z.com"}},
	}, rep.Excluded)
}

func TestBuild_TopFilesLimit(t *testing.T) {
	t.Parallel()

	b, h, filters := fixture(t)

	rep := report.Build(b, h, filters, report.Options{TopFiles: 1})
	assert.Len(t, rep.Blame[0].Files, 1)

	rep = report.Build(b, h, filters, report.Options{TopFiles: -1})
	assert.Empty(t, rep.Blame[0].Files)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"text", "JSON", " yaml "} {
		_, err := report.ParseFormat(name)
		require.NoError(t, err, name)
	}

	_, err := report.ParseFormat("html")
	require.ErrorIs(t, err, report.ErrUnsupportedFormat)
}

func TestRender_Text(t *testing.T) {
	t.Parallel()

	b, h, filters := fixture(t)
	rep := report.Build(b, h, filters, report.Options{Repositories: []string{"demo"}, Failed: []string{"broken.go"}})

	var out bytes.Buffer

	require.NoError(t, report.Render(&out, rep, report.FormatText, report.RenderOptions{}))

	text := out.String()
	assert.Contains(t, text, "Repositories: demo")
	assert.Contains(t, text, "Age (months)")
	assert.Contains(t, text, "% in comments")
	assert.Contains(t, text, "alice is mostly responsible for")
	assert.Contains(t, text, "file_out: vendor")
	assert.Contains(t, text, "broken.go")
	assert.NotContains(t, text, "\x1b[", "headings are plain without color")
}

func TestRender_TextColorAndThousands(t *testing.T) {
	t.Parallel()

	rep := report.Report{
		AgeUnit:   "months",
		TotalRows: 1234567,
		Blame:     []report.BlameRow{{Author: "alice", Rows: 1234567, Stability: 100}},
	}

	var out bytes.Buffer

	require.NoError(t, report.Render(&out, rep, report.FormatText, report.RenderOptions{Color: true}))
	assert.Contains(t, out.String(), "1,234,567")
	assert.Contains(t, out.String(), "\x1b[")
}

func TestRender_TextEmpty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	require.NoError(t, report.Render(&out, report.Report{AgeUnit: "months"}, report.FormatText, report.RenderOptions{}))
	assert.Contains(t, out.String(), "No rows are attributed")
}

func TestRender_JSONAndYAML(t *testing.T) {
	t.Parallel()

	b, h, filters := fixture(t)
	rep := report.Build(b, h, filters, report.Options{})

	var jsonOut bytes.Buffer

	require.NoError(t, report.Render(&jsonOut, rep, report.FormatJSON, report.RenderOptions{}))

	var decoded report.Report

	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &decoded))
	assert.Equal(t, rep.Blame, decoded.Blame)
	assert.Contains(t, jsonOut.String(), `"comments_percent"`)

	var yamlOut bytes.Buffer

	require.NoError(t, report.Render(&yamlOut, rep, report.FormatYAML, report.RenderOptions{}))

	var fromYAML map[string]any

	require.NoError(t, yaml.Unmarshal(yamlOut.Bytes(), &fromYAML))
	assert.Contains(t, fromYAML, "blame")
	assert.Contains(t, fromYAML, "changes")

	err := report.Render(&bytes.Buffer{}, rep, report.Format("html"), report.RenderOptions{})
	require.ErrorIs(t, err, report.ErrUnsupportedFormat)
}
