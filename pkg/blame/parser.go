package blame

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/gitinspect/pkg/identity"
)

// Porcelain metadata keys.
const (
	keyBoundary   = "boundary"
	keyAuthorMail = "author-mail"
	keyAuthorTime = "author-time"
	keyFilename   = "filename"
)

var revisionPattern = regexp.MustCompile(`[0-9a-f]{40}`)

type parseState int

const (
	stateAwaitMetadata parseState = iota
	stateAccumulatingMetadata
	stateEmitLine
)

// event is one attributed line of a blame stream.
type event struct {
	email    string
	when     time.Time
	revision string
	// boundary marks a commit older than the queried range.
	boundary bool
	line     string
}

// parser turns line-porcelain records into events. Each record is a revision
// header, key/value metadata ending with "filename", then the source line.
type parser struct {
	state parseState
	cur   event
}

// feed consumes one trimmed stream line. It returns the completed event when
// line was the source line of a record.
func (p *parser) feed(line string) (event, bool, error) {
	if p.state == stateEmitLine {
		ev := p.cur
		ev.line = line
		p.reset()

		return ev, true, nil
	}

	fields := strings.SplitN(line, " ", 3)
	key := fields[0]

	switch key {
	case keyBoundary:
		p.cur.boundary = true
		p.state = stateAccumulatingMetadata
	case keyAuthorMail:
		if len(fields) > 1 {
			p.cur.email = identity.NormalizeEmail(fields[1])
		}

		p.state = stateAccumulatingMetadata
	case keyAuthorTime:
		if len(fields) < 2 {
			return event{}, false, fmt.Errorf("%w: %q", ErrMalformedStream, line)
		}

		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return event{}, false, fmt.Errorf("%w: author-time %q: %w", ErrMalformedStream, fields[1], err)
		}

		p.cur.when = time.Unix(ts, 0)
		p.state = stateAccumulatingMetadata
	case keyFilename:
		if p.cur.revision == "" {
			return event{}, false, fmt.Errorf("%w: filename before revision header", ErrMalformedStream)
		}

		p.state = stateEmitLine
	default:
		revision := revisionPattern.FindString(key)
		if revision == "" {
			return event{}, false, nil
		}

		if p.cur.revision != "" {
			return event{}, false, fmt.Errorf("%w: revision %s starts before record of %s ended",
				ErrMalformedStream, revision, p.cur.revision)
		}

		p.cur.revision = revision
		p.state = stateAccumulatingMetadata
	}

	return event{}, false, nil
}

// finish reports whether the stream ended between records.
func (p *parser) finish() error {
	if p.state != stateAwaitMetadata {
		return ErrTruncatedStream
	}

	return nil
}

func (p *parser) reset() {
	p.cur = event{}
	p.state = stateAwaitMetadata
}
