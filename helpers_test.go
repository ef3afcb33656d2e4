package reporterz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// sizedEncoder encodes a span as its operation name and a process as its
// service name, so tests control encoded sizes exactly.
type sizedEncoder struct {
	overhead int
}

func (sizedEncoder) EncodeProcess(process *Process) ([]byte, error) {
	return []byte(process.ServiceName), nil
}

func (sizedEncoder) EncodeSpan(span *Span) ([]byte, error) {
	return []byte(span.Operation), nil
}

func (e sizedEncoder) EncodeBatch(process []byte, spans [][]byte) ([]byte, error) {
	out := make([]byte, 0, e.overhead+len(process))
	out = append(out, make([]byte, e.overhead)...)
	out = append(out, process...)
	for _, span := range spans {
		out = append(out, span...)
	}
	return out, nil
}

func (e sizedEncoder) BatchOverhead() int { return e.overhead }

// recordingTransport keeps every batch it is asked to send.
type recordingTransport struct {
	mu         sync.Mutex
	batches    []Batch
	sendErr    error
	closeCalls int

	// When block is non-nil, Send signals sending and waits for block to be
	// closed or the context to end. With ignoreCtx only block releases it.
	block     chan struct{}
	sending   chan struct{}
	ignoreCtx bool
}

func (t *recordingTransport) Send(ctx context.Context, batch Batch) error {
	if t.block != nil {
		t.sending <- struct{}{}
		if t.ignoreCtx {
			<-t.block
		} else {
			select {
			case <-t.block:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.batches = append(t.batches, batch)
	return nil
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	return nil
}

func (t *recordingTransport) sent() []Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Batch(nil), t.batches...)
}

func (t *recordingTransport) closed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

// inMemorySender records spans instead of sending them. Append can be held
// with a blocked sender to fill the reporter queue.
type inMemorySender struct {
	mu         sync.Mutex
	appended   []*Span
	flushed    []*Span
	received   []*Span
	flushCalls int
	closeCalls int

	blocker     chan struct{}
	allowOnce   sync.Once
	appendPanic string
}

func newInMemorySender() *inMemorySender {
	s := &inMemorySender{blocker: make(chan struct{})}
	s.AllowAppend()
	return s
}

func newBlockedSender() *inMemorySender {
	return &inMemorySender{blocker: make(chan struct{})}
}

// AllowAppend releases every blocked and future Append call.
func (s *inMemorySender) AllowAppend() {
	s.allowOnce.Do(func() { close(s.blocker) })
}

func (s *inMemorySender) Append(span *Span) (int, error) {
	<-s.blocker
	if s.appendPanic != "" && span.Operation == s.appendPanic {
		panic("poisoned span " + span.Operation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, span)
	s.received = append(s.received, span)
	return 0, nil
}

func (s *inMemorySender) Flush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.appended)
	s.flushed = append(s.flushed, s.appended...)
	s.appended = nil
	s.flushCalls++
	return n, nil
}

func (s *inMemorySender) Close() (int, error) {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	return s.Flush()
}

func (s *inMemorySender) counts() (appended, flushed, received int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended), len(s.flushed), len(s.received)
}

func (s *inMemorySender) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCalls
}

func (s *inMemorySender) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// failingSender fails every flush, dropping a fixed number of spans.
type failingSender struct {
	dropped int
}

func (*failingSender) Append(*Span) (int, error) { return 0, nil }

func (s *failingSender) Flush() (int, error) {
	return 0, &SenderError{Err: errTestSend, Dropped: s.dropped}
}

func (*failingSender) Close() (int, error) { return 0, nil }

var errTestSend = errors.New("collector unavailable")

func testSpan(operation string) *Span {
	return &Span{
		Process:   &Process{ServiceName: "svc"},
		Operation: operation,
		StartTime: time.Unix(1700000000, 0),
		Duration:  time.Millisecond,
		TraceID:   TraceID{Low: 42},
		SpanID:    7,
		Flags:     FlagSampled,
	}
}

func sizedSpan(process *Process, size int) *Span {
	return &Span{Process: process, Operation: strings.Repeat("x", size), Flags: FlagSampled}
}

// recordingReporter keeps every reported span.
type recordingReporter struct {
	mu       sync.Mutex
	spans    []*Span
	closeErr error
	closed   int
}

func (r *recordingReporter) Report(span *Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span)
}

func (r *recordingReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return r.closeErr
}

func (r *recordingReporter) reported() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Span(nil), r.spans...)
}

// countingSampler samples every trace and counts decisions.
type countingSampler struct {
	mu     sync.Mutex
	calls  int
	closed bool
}

func (s *countingSampler) Sample(string, TraceID) SamplingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return SamplingStatus{
		Sampled: true,
		Tags: map[string]TagValue{
			SamplerTypeTagKey:  StringValue("counting"),
			SamplerParamTagKey: Int64Value(int64(s.calls)),
		},
	}
}

func (s *countingSampler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
