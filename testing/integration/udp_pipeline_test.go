package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/zoobzio/reporterz"
	"go.uber.org/zap/zaptest"
)

func newUDPPipeline(t *testing.T, agent *UDPAgent, maxPacketSize int) (*reporterz.Tracer, *reporterz.LocalFactory) {
	t.Helper()
	factory := reporterz.NewLocalFactory()
	metrics := reporterz.NewMetrics(factory)

	reporter, err := reporterz.NewRemoteReporter(reporterz.Config{
		FlushInterval: 20 * time.Millisecond,
		MaxQueueSize:  1000,
		Metrics:       metrics,
		Logger:        zaptest.NewLogger(t),
		SenderConfig: reporterz.SenderConfig{
			AgentHostPort: agent.Addr(),
			MaxPacketSize: maxPacketSize,
		},
	})
	if err != nil {
		t.Fatalf("Failed to create reporter: %v", err)
	}

	tracer := reporterz.NewTracer("checkout", reporterz.NewConstSampler(true), reporter,
		reporterz.WithMetrics(metrics),
		reporterz.WithProcessTags(reporterz.NewTag("hostname", reporterz.StringValue("node-1"))))
	return tracer, factory
}

// TestUDPPipelineDeliversTrace follows one trace from StartSpan to the agent.
func TestUDPPipelineDeliversTrace(t *testing.T) {
	agent := NewUDPAgent(t)
	tracer, factory := newUDPPipeline(t, agent, 0)

	ctx, request := tracer.StartSpan(context.Background(), "http.request")
	request.SetTag("http.method", reporterz.StringValue("POST"))

	authCtx, auth := tracer.StartSpan(ctx, "auth.validate")
	_, cache := tracer.StartSpan(authCtx, "cache.get")
	cache.SetTag("cache.hit", reporterz.BoolValue(false))
	cache.Finish()
	auth.Finish()

	_, db := tracer.StartSpan(ctx, "db.query")
	db.SetTag("db.rows", reporterz.Int64Value(3))
	db.Finish()
	request.Finish()

	if err := tracer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	spans := agent.WaitForSpans(4, 2*time.Second)
	agent.AssertParentChild("http.request", "auth.validate")
	agent.AssertParentChild("auth.validate", "cache.get")
	agent.AssertParentChild("http.request", "db.query")

	for _, span := range spans {
		if span.Process.ServiceName != "checkout" {
			t.Errorf("Expected service checkout, got %q", span.Process.ServiceName)
		}
		if len(span.Process.Tags) != 1 || span.Process.Tags[0].Key != "hostname" {
			t.Errorf("Expected hostname process tag, got %v", span.Process.Tags)
		}
		if !span.IsSampled() {
			t.Errorf("Span %s arrived without the sampled flag", span.Operation)
		}
	}

	if db := findSpan(spans, "db.query"); db != nil {
		if len(db.Tags) != 1 || db.Tags[0].Value.AsInt64() != 3 {
			t.Errorf("Expected db.rows=3, got %v", db.Tags)
		}
	}

	if ok, _, _ := spanAccounting(factory); ok != 4 {
		t.Errorf("Expected 4 spans reported ok, got %d", ok)
	}

	t.Logf("Trace:\n%s", PrintSpanTree(BuildSpanTree(spans)))
}

// TestUDPPipelineSplitsBatches verifies that a small packet size spreads a
// burst over many datagrams without losing spans.
func TestUDPPipelineSplitsBatches(t *testing.T) {
	agent := NewUDPAgent(t)
	tracer, factory := newUDPPipeline(t, agent, 1500)

	const total = 500
	for i := 0; i < total; i++ {
		_, span := tracer.StartSpan(context.Background(), fmt.Sprintf("job-%d", i))
		span.SetTag("job.attempt", reporterz.Int64Value(int64(i%3)))
		span.Finish()
	}
	if err := tracer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ok, failed, dropped := spanAccounting(factory)
	if ok+failed+dropped != total {
		t.Errorf("Span accounting mismatch: ok=%d err=%d dropped=%d, want total %d", ok, failed, dropped, total)
	}

	spans := agent.WaitForSpans(int(ok), 2*time.Second)
	if int64(len(spans)) != ok {
		t.Errorf("Agent received %d spans, reporter counted %d", len(spans), ok)
	}
	if agent.Batches() < 2 {
		t.Errorf("Expected several datagrams, got %d", agent.Batches())
	}
}
