package reporterz

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Tracer starts spans, samples new traces and reports finished sampled spans.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	process     *Process
	sampler     Sampler
	reporter    Reporter
	metrics     *Metrics
	logger      *zap.Logger
	clock       clockz.Clock
	traceIDPool *IDPool
	spanIDPool  *IDPool
	idPoolOnce  sync.Once
	closeOnce   sync.Once
	gen128Bit   bool
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithMetrics sets the metrics the tracer increments for started traces and
// spans. Pass the same Metrics to the reporter to get one consistent view.
func WithMetrics(metrics *Metrics) TracerOption {
	return func(t *Tracer) {
		if metrics != nil {
			t.metrics = metrics
		}
	}
}

// WithLogger sets the tracer logger.
func WithLogger(logger *zap.Logger) TracerOption {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock sets the clock used for span timestamps.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) TracerOption {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithProcessTags adds tags sent once per batch with the service name.
func WithProcessTags(tags ...Tag) TracerOption {
	return func(t *Tracer) {
		t.process.Tags = append(t.process.Tags, tags...)
	}
}

// With128BitTraceIDs makes new traces use a non-zero High half.
func With128BitTraceIDs() TracerOption {
	return func(t *Tracer) {
		t.gen128Bit = true
	}
}

// NewTracer creates a tracer for serviceName. A nil sampler samples nothing
// and a nil reporter discards spans.
func NewTracer(serviceName string, sampler Sampler, reporter Reporter, options ...TracerOption) *Tracer {
	if sampler == nil {
		sampler = NewConstSampler(false)
	}
	if reporter == nil {
		reporter = NullReporter{}
	}
	t := &Tracer{
		process:  &Process{ServiceName: serviceName},
		sampler:  sampler,
		reporter: reporter,
		metrics:  NewMetrics(NullFactory),
		logger:   zap.NewNop(),
		clock:    clockz.RealClock,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100
		t.traceIDPool = NewIDPool(poolSize, randomID)
		t.spanIDPool = NewIDPool(poolSize, randomID)
	})
}

// StartSpan creates a new span and returns it wrapped in an ActiveSpan.
// If the context contains an existing span, the new span joins its trace and
// inherits its sampling decision; otherwise a new trace is started and the
// sampler decides.
func (t *Tracer) StartSpan(ctx context.Context, operation Key) (context.Context, *ActiveSpan) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.ensureIDPools()

	span := &Span{
		Process:   t.process,
		Operation: operation,
		StartTime: t.clock.Now(),
		SpanID:    SpanID(t.spanIDPool.Get()),
	}

	if parent := GetSpan(ctx); parent != nil {
		span.TraceID = parent.span.TraceID
		span.ParentID = parent.span.SpanID
		span.Flags = parent.span.Flags
	} else {
		span.TraceID = t.newTraceID()
		t.sample(span)
	}

	if span.IsSampled() {
		t.metrics.SpansStartedSampled.Inc(1)
	} else {
		t.metrics.SpansStartedNotSampled.Inc(1)
	}

	activeSpan := &ActiveSpan{span: span, tracer: t}
	return activeSpan.Context(ctx), activeSpan
}

func (t *Tracer) sample(span *Span) {
	status := t.sampler.Sample(span.Operation, span.TraceID)
	if !status.Sampled {
		t.metrics.TracesStartedNotSampled.Inc(1)
		t.metrics.SamplerNotSampled.Inc(1)
		return
	}

	span.Flags |= FlagSampled
	t.metrics.TracesStartedSampled.Inc(1)
	t.metrics.SamplerSampled.Inc(1)

	keys := make([]string, 0, len(status.Tags))
	for k := range status.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		span.Tags = append(span.Tags, Tag{Key: k, Value: status.Tags[k]})
	}
}

func (t *Tracer) newTraceID() TraceID {
	id := TraceID{Low: t.traceIDPool.Get()}
	if t.gen128Bit {
		id.High = t.traceIDPool.Get()
	}
	return id
}

// reportSpan forwards finished sampled spans to the reporter.
func (t *Tracer) reportSpan(span *Span) {
	if span.IsSampled() {
		t.reporter.Report(span)
	}
}

// Process returns the process metadata attached to every span.
func (t *Tracer) Process() Process {
	return *t.process
}

// Close shuts down the tracer gracefully and cleans up resources. The
// reporter is closed, so spans finished afterwards are dropped.
func (t *Tracer) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if closeErr := t.reporter.Close(); closeErr != nil {
			t.logger.Warn("failed to close reporter", zap.Error(closeErr))
			err = errors.Join(err, closeErr)
		}
		t.sampler.Close()

		// Pools keep serving ids after Close, they just stop refilling.
		t.ensureIDPools()
		t.traceIDPool.Close()
		t.spanIDPool.Close()
	})
	return err
}
