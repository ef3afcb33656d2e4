package reporterz

import (
	"context"
	"sync"
	"time"
)

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType string

const (
	spanKey spanKeyType = "reporterz"
)

// FlagSampled marks a span whose trace was selected by the sampler.
const FlagSampled byte = 1

// Process describes the service emitting spans. It is sent once per batch.
// A Process is shared by every span of a tracer and must not be modified
// after the first span has been reported.
type Process struct {
	ServiceName string
	Tags        []Tag
}

// Span is a finished unit of work.
// Once passed to Reporter.Report a Span must not be modified.
//
//nolint:govet // Field order follows the wire layout.
type Span struct {
	Process   *Process
	Tags      []Tag
	Operation string
	StartTime time.Time
	Duration  time.Duration
	TraceID   TraceID
	SpanID    SpanID
	ParentID  SpanID
	Flags     byte
}

// IsSampled reports whether the sampled flag is set.
func (s *Span) IsSampled() bool {
	return s.Flags&FlagSampled != 0
}

// ActiveSpan wraps a Span that is still being recorded.
// Safe for concurrent use by multiple goroutines.
type ActiveSpan struct {
	span     *Span
	tracer   *Tracer
	mu       sync.Mutex // Protects span from concurrent writes.
	finished bool
}

// SetTag adds a key-value pair to the span.
// No-op if the span is already finished.
func (a *ActiveSpan) SetTag(key string, value TagValue) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}
	a.span.Tags = append(a.span.Tags, Tag{Key: key, Value: value})
}

// GetTag retrieves the most recent value set for key.
func (a *ActiveSpan) GetTag(key string) (TagValue, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.span.Tags) - 1; i >= 0; i-- {
		if a.span.Tags[i].Key == key {
			return a.span.Tags[i].Value, true
		}
	}
	return TagValue{}, false
}

// Finish records the duration and hands a copy of the span to the tracer's
// reporter when the trace is sampled. Subsequent calls are no-ops.
func (a *ActiveSpan) Finish() {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.finished = true
	a.span.Duration = a.tracer.clock.Since(a.span.StartTime)

	// The reporter owns the copy; later SetTag calls cannot reach it.
	finished := *a.span
	finished.Tags = append([]Tag(nil), a.span.Tags...)
	a.mu.Unlock()

	a.tracer.reportSpan(&finished)
}

// TraceID returns the trace ID of this span.
func (a *ActiveSpan) TraceID() TraceID {
	return a.span.TraceID
}

// SpanID returns the span ID of this span.
func (a *ActiveSpan) SpanID() SpanID {
	return a.span.SpanID
}

// IsSampled reports whether this span will be reported when finished.
func (a *ActiveSpan) IsSampled() bool {
	return a.span.IsSampled()
}

// Context creates a new context with this span embedded.
// The returned context can be used to start child spans.
func (a *ActiveSpan) Context(parent context.Context) context.Context {
	return context.WithValue(parent, spanKey, a)
}

// GetSpan extracts the current span from a context.
// Returns nil if no span is present.
func GetSpan(ctx context.Context) *ActiveSpan {
	if ctx == nil {
		return nil
	}
	if span, ok := ctx.Value(spanKey).(*ActiveSpan); ok {
		return span
	}
	return nil
}
