package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricFilesTotal      = "gitinspect.blame.files"
	metricFileDuration    = "gitinspect.blame.file.duration.seconds"
	metricLinesTotal      = "gitinspect.blame.lines"
	metricLinesDropped    = "gitinspect.blame.lines.dropped"
	metricCommitsTotal    = "gitinspect.history.commits"
	metricCommitsFiltered = "gitinspect.history.commits.filtered"

	attrStatus = "status"
	attrReason = "reason"

	statusOK    = "ok"
	statusError = "error"
)

// DropReason labels why a blamed line was not attributed.
type DropReason string

// Drop reasons.
const (
	DropBoundary      DropReason = "boundary"
	DropUnknownAuthor DropReason = "unknown_author"
	DropFiltered      DropReason = "filtered"
)

// durationBucketBoundaries covers 1ms to 120s per blamed file.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// BlameMetrics holds the instruments of a blame run. A nil *BlameMetrics
// records nothing.
type BlameMetrics struct {
	filesTotal   metric.Int64Counter
	fileDuration metric.Float64Histogram
	linesTotal   metric.Int64Counter
	linesDropped metric.Int64Counter
}

// NewBlameMetrics creates blame instruments from the given meter.
func NewBlameMetrics(mt metric.Meter) (*BlameMetrics, error) {
	files, err := mt.Int64Counter(metricFilesTotal,
		metric.WithDescription("Files blamed, by status"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesTotal, err)
	}

	duration, err := mt.Float64Histogram(metricFileDuration,
		metric.WithDescription("Per-file blame duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFileDuration, err)
	}

	lines, err := mt.Int64Counter(metricLinesTotal,
		metric.WithDescription("Lines attributed to an author"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricLinesTotal, err)
	}

	dropped, err := mt.Int64Counter(metricLinesDropped,
		metric.WithDescription("Blamed lines not attributed, by reason"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricLinesDropped, err)
	}

	return &BlameMetrics{
		filesTotal:   files,
		fileDuration: duration,
		linesTotal:   lines,
		linesDropped: dropped,
	}, nil
}

// RecordFile records one finished file and whether it failed.
func (bm *BlameMetrics) RecordFile(ctx context.Context, elapsed time.Duration, err error) {
	if bm == nil {
		return
	}

	status := statusOK
	if err != nil {
		status = statusError
	}

	attrs := metric.WithAttributes(attribute.String(attrStatus, status))
	bm.filesTotal.Add(ctx, 1, attrs)
	bm.fileDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordLines records attributed lines.
func (bm *BlameMetrics) RecordLines(ctx context.Context, n int64) {
	if bm == nil || n == 0 {
		return
	}

	bm.linesTotal.Add(ctx, n)
}

// RecordDropped records lines dropped for reason.
func (bm *BlameMetrics) RecordDropped(ctx context.Context, reason DropReason, n int64) {
	if bm == nil || n == 0 {
		return
	}

	bm.linesDropped.Add(ctx, n, metric.WithAttributes(attribute.String(attrReason, string(reason))))
}

// HistoryMetrics holds the instruments of a commit history walk. A nil
// *HistoryMetrics records nothing.
type HistoryMetrics struct {
	commitsTotal    metric.Int64Counter
	commitsFiltered metric.Int64Counter
}

// NewHistoryMetrics creates history instruments from the given meter.
func NewHistoryMetrics(mt metric.Meter) (*HistoryMetrics, error) {
	total, err := mt.Int64Counter(metricCommitsTotal,
		metric.WithDescription("Commits counted into author statistics"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommitsTotal, err)
	}

	filtered, err := mt.Int64Counter(metricCommitsFiltered,
		metric.WithDescription("Commits skipped by filters"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommitsFiltered, err)
	}

	return &HistoryMetrics{commitsTotal: total, commitsFiltered: filtered}, nil
}

// RecordCommits records counted and filtered commits of one walk.
func (hm *HistoryMetrics) RecordCommits(ctx context.Context, counted, filtered int64) {
	if hm == nil {
		return
	}

	hm.commitsTotal.Add(ctx, counted)
	hm.commitsFiltered.Add(ctx, filtered)
}
