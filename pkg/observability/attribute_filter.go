package observability

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// exportedPrefixes lists the attribute namespaces gitinspect emits. Anything
// else, including author identities, stays in the process.
var exportedPrefixes = []string{
	"blame.", "history.", "files.", "lines.", "commits.", "error.", "report.",
}

var exportedKeys = map[string]bool{
	"branch":     true,
	"file":       true,
	"repository": true,
	"error":      true,
}

func isExported(key string) bool {
	if exportedKeys[key] {
		return true
	}

	for _, prefix := range exportedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	return false
}

// redactingProcessor strips unlisted attributes from ended spans before the
// wrapped processor sees them.
type redactingProcessor struct {
	sdktrace.SpanProcessor
}

// NewAttributeFilter wraps next so that only gitinspect's own attribute keys
// reach the exporter. Author names and emails are never exported.
func NewAttributeFilter(next sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	return redactingProcessor{SpanProcessor: next}
}

func (p redactingProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.SpanProcessor.OnEnd(redactedSpan{ReadOnlySpan: s})
}

type redactedSpan struct {
	sdktrace.ReadOnlySpan
}

func (s redactedSpan) Attributes() []attribute.KeyValue {
	var kept []attribute.KeyValue

	for _, kv := range s.ReadOnlySpan.Attributes() {
		if isExported(string(kv.Key)) {
			kept = append(kept, kv)
		}
	}

	return kept
}
