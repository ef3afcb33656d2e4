package reporterz

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ErrCloseTimeout is returned by Close when the queue did not drain in time.
var ErrCloseTimeout = errors.New("reporter close timed out")

// Reporter receives finished spans.
type Reporter interface {
	// Report hands over a finished span. It must not block.
	Report(span *Span)
	// Close flushes pending spans and releases resources.
	Close() error
}

// NullReporter discards every span.
type NullReporter struct{}

// Report implements Reporter.
func (NullReporter) Report(*Span) {}

// Close implements Reporter.
func (NullReporter) Close() error { return nil }

// RemoteReporter queues spans and sends them out of process from a single
// background goroutine. Report, Flush and Close are safe for concurrent use.
//
//nolint:govet // Field order groups collaborators before lifecycle state.
type RemoteReporter struct {
	sender        Sender
	queue         *reportQueue
	metrics       *Metrics
	logger        *zap.Logger
	clock         clockz.Clock
	flushInterval time.Duration
	closeTimeout  time.Duration

	stopFlush chan struct{}
	flushDone chan struct{}
	queueDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewRemoteReporter builds a reporter from cfg and starts its goroutines.
func NewRemoteReporter(cfg Config) (*RemoteReporter, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reporter config: %w", err)
	}
	if cfg.Sender == nil {
		sender, err := NewSender(cfg.SenderConfig)
		if err != nil {
			return nil, fmt.Errorf("create default sender: %w", err)
		}
		cfg.Sender = sender
	}

	r := &RemoteReporter{
		sender:        cfg.Sender,
		queue:         newReportQueue(cfg.MaxQueueSize),
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		flushInterval: cfg.FlushInterval,
		closeTimeout:  cfg.CloseTimeout,
		stopFlush:     make(chan struct{}),
		flushDone:     make(chan struct{}),
		queueDone:     make(chan struct{}),
	}
	go r.processQueue()
	go r.flushLoop()
	return r, nil
}

// Report queues span for sending. When the queue is full or closed the span
// is dropped and counted; the caller is never blocked.
func (r *RemoteReporter) Report(span *Span) {
	if span == nil {
		r.metrics.ReporterDropped.Inc(1)
		return
	}
	if added, _ := r.queue.tryAdd(command{kind: appendCommand, span: span}); !added {
		r.metrics.ReporterDropped.Inc(1)
	}
}

// Flush records the queue depth and asks the background goroutine to send
// whatever is buffered. The flush ticker calls this on every tick.
func (r *RemoteReporter) Flush() {
	// Queue depth is only sampled here to bound the gauge update rate.
	r.metrics.ReporterQueueLength.Update(int64(r.queue.len()))

	// A full queue skips the flush; the sender flushes by itself once a
	// batch fills.
	_, _ = r.queue.tryAdd(command{kind: flushCommand})
}

// QueueLength returns the number of commands waiting to be processed.
func (r *RemoteReporter) QueueLength() int {
	return r.queue.len()
}

// Close stops accepting spans and waits up to the configured close timeout
// for queued spans to be handed to the sender. The sender is then closed
// whether or not the queue drained. Close is safe to call more than once;
// later calls return the first result.
func (r *RemoteReporter) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close()
	})
	return r.closeErr
}

func (r *RemoteReporter) close() (err error) {
	defer func() {
		close(r.stopFlush)
		<-r.flushDone

		n, closeErr := r.sender.Close()
		r.record("close", n, closeErr)
		if closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close sender: %w", closeErr))
		}
	}()

	r.queue.close()

	timer := time.NewTimer(r.closeTimeout)
	defer timer.Stop()

	select {
	case <-r.queueDone:
		return nil
	case <-timer.C:
		pending := r.queue.len()
		r.logger.Warn("timed out draining report queue",
			zap.Duration("timeout", r.closeTimeout),
			zap.Int("pending", pending))
		return fmt.Errorf("%w after %v with %d command(s) pending", ErrCloseTimeout, r.closeTimeout, pending)
	}
}

// processQueue is the only goroutine that calls Append and Flush on the
// sender. It exits once the queue is closed and drained.
func (r *RemoteReporter) processQueue() {
	defer close(r.queueDone)

	for cmd := range r.queue.commands() {
		r.execute(cmd)
	}
}

func (r *RemoteReporter) execute(cmd command) {
	defer func() {
		if rec := recover(); rec != nil {
			if cmd.kind == appendCommand {
				r.metrics.ReporterFailure.Inc(1)
			}
			r.logger.Error("reporter command panicked",
				zap.Any("panic", rec),
				zap.Stack("stack"))
		}
	}()

	switch cmd.kind {
	case appendCommand:
		n, err := r.sender.Append(cmd.span)
		r.record("append", n, err)
	case flushCommand:
		n, err := r.sender.Flush()
		r.record("flush", n, err)
	}
}

func (r *RemoteReporter) record(op string, flushed int, err error) {
	if flushed > 0 {
		r.metrics.ReporterSuccess.Inc(int64(flushed))
	}
	if err != nil {
		dropped := SenderDropped(err)
		r.metrics.ReporterFailure.Inc(int64(dropped))
		if op != "close" && errors.Is(err, ErrSenderClosed) {
			// Commands still draining after a timed out Close.
			r.logger.Debug("sender closed, span dropped", zap.Int("dropped", dropped))
			return
		}
		r.logger.Warn("sender failed",
			zap.String("op", op),
			zap.Int("dropped", dropped),
			zap.Error(err))
	}
}

func (r *RemoteReporter) flushLoop() {
	defer close(r.flushDone)

	ticker := r.clock.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			r.Flush()
		case <-r.stopFlush:
			return
		}
	}
}
