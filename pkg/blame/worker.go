package blame

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/gitinspect/pkg/filter"
	"github.com/Sumatoshi-tech/gitinspect/pkg/identity"
	"github.com/Sumatoshi-tech/gitinspect/pkg/observability"
)

const replacementChar = "\uFFFD"

// worker blames a single file into the shared Blame.
type worker struct {
	blame     *Blame
	provider  HistoryProvider
	authors   Authors
	filters   *filter.Registry
	opts      *Options
	path      string
	extension string

	insideComment bool
	stats         workerStats
}

type workerStats struct {
	attributed int64
	boundary   int64
	unknown    int64
	filtered   int64
}

func (w *worker) run(ctx context.Context) {
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "blame.file",
		trace.WithAttributes(attribute.String("file", w.path)))
	defer span.End()

	err := w.blameFile(ctx)

	span.SetAttributes(attribute.Int64("lines.attributed", w.stats.attributed))
	w.record(ctx, time.Since(start), err)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		w.opts.logger().WarnContext(ctx, "blame failed", "file", w.path, "error", err)
	}

	if w.opts.OnFileDone != nil {
		w.opts.OnFileDone(w.path, err)
	}
}

func (w *worker) blameFile(ctx context.Context) error {
	stream, err := w.provider.BlameStream(ctx, w.opts.branch(), w.opts.Since, w.opts.DetectCopies, w.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHistoryProvider, err)
	}

	consumeErr := w.consume(stream)
	closeErr := stream.Close()

	if consumeErr != nil {
		return consumeErr
	}

	if closeErr != nil {
		return fmt.Errorf("%w: %w", ErrHistoryProvider, closeErr)
	}

	return nil
}

// consume reads the stream line by line so large files are never buffered whole.
func (w *worker) consume(stream io.Reader) error {
	var p parser

	reader := bufio.NewReader(stream)

	for {
		raw, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("%w: read: %w", ErrHistoryProvider, readErr)
		}

		if raw != "" {
			line := strings.TrimSpace(strings.ToValidUTF8(raw, replacementChar))

			ev, complete, err := p.feed(line)
			if err != nil {
				return err
			}

			if complete {
				emitErr := w.emit(ev)
				if emitErr != nil {
					return emitErr
				}
			}
		}

		if readErr != nil {
			return p.finish()
		}
	}
}

// emit classifies the line and attributes it unless it is dropped.
func (w *worker) emit(ev event) error {
	isComment, inside := w.opts.Comments.Classify(w.extension, w.insideComment, ev.line)
	w.insideComment = inside

	if ev.boundary && w.opts.Since != "" {
		w.stats.boundary++

		return nil
	}

	author, err := w.authors.AuthorByEmail(ev.email)
	if err != nil {
		if errors.Is(err, identity.ErrUnknownAuthor) {
			w.stats.unknown++

			return nil
		}

		return fmt.Errorf("resolve %s: %w", ev.email, err)
	}

	filtered, err := w.isFiltered(author, ev)
	if err != nil {
		return err
	}

	if filtered {
		w.stats.filtered++

		return nil
	}

	lineSkew := skew(ev.when, w.authors.FirstCommitDate(), w.authors.LastCommitDate(), w.opts.UseWeeks)
	w.blame.attribute(Key{Author: author, File: w.path}, isComment, lineSkew)
	w.stats.attributed++

	return nil
}

func (w *worker) isFiltered(author string, ev event) (bool, error) {
	checks := [...]struct {
		value    string
		category filter.Category
	}{
		{author, filter.Author},
		{ev.email, filter.Email},
		{ev.revision, filter.Revision},
	}

	for _, check := range checks {
		filtered, err := w.filters.IsFiltered(check.value, check.category)
		if err != nil {
			return false, fmt.Errorf("filter %s: %w", check.category, err)
		}

		if filtered {
			return true, nil
		}
	}

	return false, nil
}

func (w *worker) record(ctx context.Context, elapsed time.Duration, err error) {
	m := w.opts.Metrics

	m.RecordFile(ctx, elapsed, err)
	m.RecordLines(ctx, w.stats.attributed)
	m.RecordDropped(ctx, observability.DropBoundary, w.stats.boundary)
	m.RecordDropped(ctx, observability.DropUnknownAuthor, w.stats.unknown)
	m.RecordDropped(ctx, observability.DropFiltered, w.stats.filtered)
}
