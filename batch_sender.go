package reporterz

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// BatchSender packs encoded spans into batches no larger than the configured
// maximum packet size and writes each batch through a Transport.
//
// The process metadata is encoded once, on the first Append, and counted once
// per batch. A batch is cleared after every flush attempt, successful or not;
// failed batches are dropped rather than retried.
//
//nolint:govet // Field order groups configuration before buffer state.
type BatchSender struct {
	transport     Transport
	encoder       Encoder
	sendCtx       context.Context
	cancelSend    context.CancelFunc
	sendTimeout   time.Duration
	maxPacketSize int
	maxSpanBytes  int

	// Buffer state, owned by the goroutine calling Append and Flush.
	mu             sync.Mutex
	process        []byte
	spans          [][]byte
	processSize    int
	byteBufferSize int

	buffered       atomic.Int64
	closed         atomic.Bool
	sending        atomic.Bool
	transportClose sync.Once
	transportErr   error
}

// NewBatchSender creates a BatchSender writing to transport.
func NewBatchSender(transport Transport, cfg SenderConfig) (*BatchSender, error) {
	if transport == nil {
		return nil, errors.New("batch sender: transport is required")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BatchSender{
		transport:     transport,
		encoder:       cfg.Encoder,
		sendCtx:       ctx,
		cancelSend:    cancel,
		sendTimeout:   cfg.SendTimeout,
		maxPacketSize: cfg.MaxPacketSize,
		maxSpanBytes:  cfg.MaxPacketSize - cfg.Encoder.BatchOverhead(),
		spans:         make([][]byte, 0, 32),
	}, nil
}

// Append encodes span and adds it to the current batch. When the span does
// not fit, the current batch is flushed first and the span starts a new one.
// The returned count is the number of spans flushed by this call.
func (s *BatchSender) Append(span *Span) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, &SenderError{Err: ErrSenderClosed, Dropped: 1}
	}

	if s.process == nil {
		if err := s.encodeProcess(span.Process); err != nil {
			return 0, &SenderError{Err: err, Dropped: 1}
		}
	}

	encoded, err := s.encoder.EncodeSpan(span)
	if err != nil {
		return 0, &SenderError{Err: err, Dropped: 1}
	}
	size := len(encoded)
	if s.processSize+size > s.maxSpanBytes {
		return 0, &SenderError{
			Err:     fmt.Errorf("%w: size %d, max %d", ErrSpanTooLarge, size, s.maxSpanBytes-s.processSize),
			Dropped: 1,
		}
	}

	// Close may have started while this goroutine was encoding. Spans
	// already buffered are left for its flush.
	if s.closed.Load() {
		return 0, &SenderError{Err: ErrSenderClosed, Dropped: 1}
	}

	tentative := s.byteBufferSize + size
	if tentative <= s.maxSpanBytes {
		s.spans = append(s.spans, encoded)
		s.byteBufferSize = tentative
		s.buffered.Store(int64(len(s.spans)))
		if tentative < s.maxSpanBytes {
			return 0, nil
		}
		return s.flushLocked()
	}

	n, err := s.flushLocked()
	if err != nil {
		// The span that triggered the flush is lost with the batch.
		return 0, addDropped(err, 1)
	}
	if s.closed.Load() {
		// Close returned during the flush above and nothing will send this span.
		return n, &SenderError{Err: ErrSenderClosed, Dropped: 1}
	}

	s.spans = append(s.spans, encoded)
	s.byteBufferSize = s.processSize + size
	s.buffered.Store(int64(len(s.spans)))
	return n, nil
}

// Flush sends the current batch. It returns 0 without touching the
// transport when nothing is buffered or Close has started; Close owns the
// final flush.
func (s *BatchSender) Flush() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return 0, nil
	}
	return s.flushLocked()
}

// Close flushes the remaining spans once and closes the transport. If a send
// is still in progress on another goroutine, Close aborts it and closes the
// transport; the interrupted Append or Flush reports the spans it loses and
// leaves the buffer empty, even when its send completes after Close returns.
// Later calls return 0 and nil.
func (s *BatchSender) Close() (int, error) {
	if s.closed.Swap(true) {
		return 0, nil
	}

	// The holder of mu either finishes without sending, leaving its spans for
	// this flush, or is blocked in Send and sees closed once Send returns.
	for !s.mu.TryLock() {
		if s.sending.Load() {
			s.cancelSend()
			closeErr := s.closeTransport()
			return 0, &SenderError{
				Err: errors.Join(fmt.Errorf("%w while a send was in flight", ErrSenderClosed), closeErr),
			}
		}
		runtime.Gosched()
	}
	defer s.mu.Unlock()

	n, flushErr := s.flushLocked()
	closeErr := s.closeTransport()
	s.cancelSend()

	switch {
	case flushErr != nil && closeErr != nil:
		return n, addCause(flushErr, closeErr)
	case flushErr != nil:
		return n, flushErr
	case closeErr != nil:
		return n, &SenderError{Err: closeErr, Dropped: 0}
	}
	return n, nil
}

// BufferedSpans returns the number of spans waiting in the current batch.
func (s *BatchSender) BufferedSpans() int {
	return int(s.buffered.Load())
}

func (s *BatchSender) encodeProcess(process *Process) error {
	if process == nil {
		process = &Process{}
	}
	encoded, err := s.encoder.EncodeProcess(process)
	if err != nil {
		return err
	}
	s.process = encoded
	s.processSize = len(encoded)
	s.byteBufferSize += s.processSize
	return nil
}

func (s *BatchSender) flushLocked() (int, error) {
	n := len(s.spans)
	if n == 0 {
		return 0, nil
	}
	defer s.resetBuffer()

	payload, err := s.encoder.EncodeBatch(s.process, s.spans)
	if err != nil {
		return 0, &SenderError{Err: err, Dropped: n}
	}
	if len(payload) > s.maxPacketSize {
		return 0, &SenderError{
			Err:     fmt.Errorf("batch of %d bytes exceeds max packet size %d", len(payload), s.maxPacketSize),
			Dropped: n,
		}
	}

	if s.sendCtx.Err() != nil {
		return 0, &SenderError{Err: ErrSenderClosed, Dropped: n}
	}
	ctx, cancel := context.WithTimeout(s.sendCtx, s.sendTimeout)
	defer cancel()
	s.sending.Store(true)
	err = s.transport.Send(ctx, Batch{Payload: payload, SpanCount: n})
	s.sending.Store(false)
	if err != nil {
		return 0, &SenderError{Err: fmt.Errorf("send batch: %w", err), Dropped: n}
	}
	return n, nil
}

func (s *BatchSender) resetBuffer() {
	clear(s.spans)
	if cap(s.spans) > 1024 {
		s.spans = make([][]byte, 0, 32)
	} else {
		s.spans = s.spans[:0]
	}
	s.byteBufferSize = s.processSize
	s.buffered.Store(0)
}

func (s *BatchSender) closeTransport() error {
	s.transportClose.Do(func() {
		s.transportErr = s.transport.Close()
	})
	return s.transportErr
}

func addDropped(err error, extra int) error {
	var senderErr *SenderError
	if errors.As(err, &senderErr) {
		return &SenderError{Err: senderErr.Err, Dropped: senderErr.Dropped + extra}
	}
	return &SenderError{Err: err, Dropped: 1 + extra}
}

func addCause(err, cause error) error {
	var senderErr *SenderError
	if errors.As(err, &senderErr) {
		return &SenderError{Err: errors.Join(senderErr.Err, cause), Dropped: senderErr.Dropped}
	}
	return errors.Join(err, cause)
}
