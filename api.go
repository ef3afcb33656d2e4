// Package reporterz ships finished trace spans to a collection backend.
//
// reporterz is the delivery half of a tracing client. Application goroutines
// hand finished spans to a Reporter, which never blocks them: spans are queued
// on a bounded channel and a single background goroutine packs them into
// size-bounded batches and writes them to a Transport.
//
// Core Components:
//   - Reporter: Accepts finished spans without blocking the caller.
//   - Sender: Buffers encoded spans and decides when a batch is full.
//   - Transport: Writes one batch per network operation (UDP or HTTP).
//   - Sampler: Decides whether a new trace is recorded at all.
//   - Tracer: Starts spans, applies the sampler and reports finished spans.
//
// Basic Usage:
//
//	sender, err := reporterz.NewUDPSender(reporterz.SenderConfig{})
//	if err != nil {
//		return err
//	}
//	reporter, err := reporterz.NewRemoteReporter(reporterz.Config{Sender: sender})
//	if err != nil {
//		return err
//	}
//	tracer := reporterz.NewTracer("checkout", reporterz.NewConstSampler(true), reporter)
//	defer tracer.Close()
//
//	ctx, span := tracer.StartSpan(ctx, "charge-card")
//	defer span.Finish()
//
// Backpressure:
//
// Report never waits. When the queue is full the span is dropped and the
// reporter_spans{result=dropped} counter is incremented. Batches that fail to
// send are dropped as well and counted under reporter_spans{result=err}.
// Losing spans is always preferred over stalling the instrumented process.
//
// Shutdown:
//
// Close stops accepting spans, gives the background goroutine a bounded amount
// of time to drain the queue, then flushes and closes the sender whether or
// not draining finished.
package reporterz

// Key represents a span operation name.
type Key = string
