package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/zoobzio/reporterz"
	"go.uber.org/zap/zaptest"
)

func newHTTPPipeline(t *testing.T, collector *HTTPCollector, cfg reporterz.Config) (*reporterz.Tracer, *reporterz.LocalFactory) {
	t.Helper()
	factory := reporterz.NewLocalFactory()
	metrics := reporterz.NewMetrics(factory)

	cfg.Metrics = metrics
	cfg.Logger = zaptest.NewLogger(t)
	cfg.SenderConfig.Endpoint = collector.URL()
	reporter, err := reporterz.NewRemoteReporter(cfg)
	if err != nil {
		t.Fatalf("Failed to create reporter: %v", err)
	}

	tracer := reporterz.NewTracer("billing", reporterz.NewConstSampler(true), reporter,
		reporterz.WithMetrics(metrics))
	return tracer, factory
}

func emitSpans(tracer *reporterz.Tracer, operation string, n int) {
	for i := 0; i < n; i++ {
		_, span := tracer.StartSpan(context.Background(), operation)
		span.Finish()
	}
}

// TestHTTPPipelineCompressedDelivery sends through every compression mode.
func TestHTTPPipelineCompressedDelivery(t *testing.T) {
	for _, compression := range []string{reporterz.CompressionNone, reporterz.CompressionGzip, reporterz.CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			collector := NewHTTPCollector(t)
			tracer, factory := newHTTPPipeline(t, collector, reporterz.Config{
				FlushInterval: time.Hour,
				SenderConfig: reporterz.SenderConfig{
					Compression: compression,
					Headers:     map[string]string{"X-Tenant": "blue"},
				},
			})

			emitSpans(tracer, "invoice.render", 25)
			if err := tracer.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			spans := collector.WaitForSpans(25, 2*time.Second)
			if len(spans) != 25 {
				t.Errorf("Expected 25 spans, got %d", len(spans))
			}
			for _, header := range collector.Headers() {
				if header.Get("X-Tenant") != "blue" {
					t.Errorf("Expected X-Tenant header, got %q", header.Get("X-Tenant"))
				}
				if header.Get("Content-Type") != reporterz.ContentTypeCBOR {
					t.Errorf("Expected CBOR content type, got %q", header.Get("Content-Type"))
				}
			}
			if ok, _, _ := spanAccounting(factory); ok != 25 {
				t.Errorf("Expected 25 spans reported ok, got %d", ok)
			}
		})
	}
}

// TestHTTPPipelineCollectorOutage verifies failed batches are counted and
// not retried, and that delivery resumes once the collector recovers.
func TestHTTPPipelineCollectorOutage(t *testing.T) {
	collector := NewHTTPCollector(t)
	collector.SetStatus(http.StatusServiceUnavailable)

	factory := reporterz.NewLocalFactory()
	metrics := reporterz.NewMetrics(factory)
	reporter, err := reporterz.NewRemoteReporter(reporterz.Config{
		FlushInterval: time.Hour,
		Metrics:       metrics,
		Logger:        zaptest.NewLogger(t),
		SenderConfig:  reporterz.SenderConfig{Endpoint: collector.URL()},
	})
	if err != nil {
		t.Fatalf("Failed to create reporter: %v", err)
	}
	tracer := reporterz.NewTracer("billing", reporterz.NewConstSampler(true), reporter,
		reporterz.WithMetrics(metrics))

	emitSpans(tracer, "during-outage", 20)
	reporter.Flush()

	waitFor(t, 2*time.Second, func() bool {
		_, failed, _ := spanAccounting(factory)
		return failed == 20
	})

	collector.SetStatus(http.StatusOK)
	emitSpans(tracer, "after-recovery", 10)
	if err := tracer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ok, failed, dropped := spanAccounting(factory)
	if ok != 10 || failed != 20 || dropped != 0 {
		t.Errorf("Expected ok=10 err=20 dropped=0, got ok=%d err=%d dropped=%d", ok, failed, dropped)
	}
	for _, span := range collector.Spans() {
		if span.Operation != "after-recovery" {
			t.Errorf("Failed batch was retried: got %s", span.Operation)
		}
	}
	if got := collector.Requests(); got != 2 {
		t.Errorf("Expected 2 requests, got %d", got)
	}
}

// TestHTTPPipelineCloseReportsFinalFailure checks that a failed final flush
// surfaces from Close.
func TestHTTPPipelineCloseReportsFinalFailure(t *testing.T) {
	collector := NewHTTPCollector(t)
	collector.SetStatus(http.StatusInternalServerError)
	tracer, factory := newHTTPPipeline(t, collector, reporterz.Config{FlushInterval: time.Hour})

	emitSpans(tracer, "lost", 5)
	err := tracer.Close()
	if err == nil {
		t.Fatal("Expected Close to report the failed flush")
	}
	var senderErr *reporterz.SenderError
	if !errors.As(err, &senderErr) || senderErr.Dropped != 5 {
		t.Errorf("Expected SenderError dropping 5 spans, got %v", err)
	}
	if _, failed, _ := spanAccounting(factory); failed != 5 {
		t.Errorf("Expected 5 failed spans, got %d", failed)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Condition not met within %v", timeout)
}
