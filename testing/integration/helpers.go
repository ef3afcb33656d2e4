package integration

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zoobzio/reporterz"
)

// UDPAgent listens like a trace agent and decodes every datagram it receives.
//
//nolint:govet // Field alignment optimized for test helper readability
type UDPAgent struct {
	conn    net.PacketConn
	t       *testing.T
	spans   []*reporterz.Span
	batches int
	mu      sync.Mutex
	done    chan struct{}
}

// NewUDPAgent starts an agent on a loopback port. It stops with the test.
func NewUDPAgent(t *testing.T) *UDPAgent {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	agent := &UDPAgent{conn: conn, t: t, done: make(chan struct{})}
	go agent.serve()
	t.Cleanup(func() {
		_ = conn.Close()
		<-agent.done
	})
	return agent
}

func (a *UDPAgent) serve() {
	defer close(a.done)
	encoder := reporterz.NewCBOREncoder()
	buf := make([]byte, 65536)
	for {
		n, _, err := a.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		_, spans, err := encoder.DecodeBatch(buf[:n])
		if err != nil {
			a.t.Errorf("Agent received undecodable datagram: %v", err)
			continue
		}
		a.mu.Lock()
		a.spans = append(a.spans, spans...)
		a.batches++
		a.mu.Unlock()
	}
}

// Addr returns the host:port spans should be sent to.
func (a *UDPAgent) Addr() string {
	return a.conn.LocalAddr().String()
}

// Spans returns every span decoded so far.
func (a *UDPAgent) Spans() []*reporterz.Span {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*reporterz.Span(nil), a.spans...)
}

// Batches returns the number of datagrams received.
func (a *UDPAgent) Batches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batches
}

// WaitForSpans waits for expected number of spans with timeout.
func (a *UDPAgent) WaitForSpans(expected int, timeout time.Duration) []*reporterz.Span {
	return waitForSpans(a.t, a.Spans, expected, timeout)
}

// AssertParentChild verifies parent-child relationship.
func (a *UDPAgent) AssertParentChild(parentName, childName string) {
	assertParentChild(a.t, a.Spans(), parentName, childName)
}

// HTTPCollector accepts batches like a trace collector. Its response status
// and latency can be changed while a test runs.
//
//nolint:govet // Field alignment optimized for test helper readability
type HTTPCollector struct {
	server   *httptest.Server
	t        *testing.T
	status   atomic.Int32
	delay    atomic.Int64
	requests atomic.Int64
	spans    []*reporterz.Span
	headers  []http.Header
	mu       sync.Mutex
}

// NewHTTPCollector starts a collector answering 202 Accepted.
func NewHTTPCollector(t *testing.T) *HTTPCollector {
	t.Helper()
	c := &HTTPCollector{t: t}
	c.status.Store(http.StatusAccepted)
	c.server = httptest.NewServer(http.HandlerFunc(c.handle))
	t.Cleanup(c.server.Close)
	return c
}

func (c *HTTPCollector) handle(w http.ResponseWriter, r *http.Request) {
	c.requests.Add(1)
	if d := time.Duration(c.delay.Load()); d > 0 {
		time.Sleep(d)
	}

	status := int(c.status.Load())
	if status >= http.StatusBadRequest {
		w.WriteHeader(status)
		return
	}

	payload, err := decompress(r)
	if err != nil {
		c.t.Errorf("Collector could not read body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_, spans, err := reporterz.NewCBOREncoder().DecodeBatch(payload)
	if err != nil {
		c.t.Errorf("Collector received undecodable batch: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	c.spans = append(c.spans, spans...)
	c.headers = append(c.headers, r.Header.Clone())
	c.mu.Unlock()
	w.WriteHeader(status)
}

func decompress(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	switch r.Header.Get("Content-Encoding") {
	case "":
		return body, nil
	case reporterz.CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case reporterz.CompressionZstd:
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return zr.DecodeAll(body, nil)
	default:
		return nil, errors.New("unsupported content encoding " + r.Header.Get("Content-Encoding"))
	}
}

// URL returns the collector endpoint.
func (c *HTTPCollector) URL() string {
	return c.server.URL + "/api/traces"
}

// SetStatus changes the response status for later requests.
func (c *HTTPCollector) SetStatus(code int) {
	c.status.Store(int32(code))
}

// SetDelay makes every later request take at least d.
func (c *HTTPCollector) SetDelay(d time.Duration) {
	c.delay.Store(int64(d))
}

// Requests returns the number of requests received, accepted or not.
func (c *HTTPCollector) Requests() int64 {
	return c.requests.Load()
}

// Spans returns every accepted span.
func (c *HTTPCollector) Spans() []*reporterz.Span {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*reporterz.Span(nil), c.spans...)
}

// Headers returns the headers of every accepted request.
func (c *HTTPCollector) Headers() []http.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]http.Header(nil), c.headers...)
}

// WaitForSpans waits for expected number of spans with timeout.
func (c *HTTPCollector) WaitForSpans(expected int, timeout time.Duration) []*reporterz.Span {
	return waitForSpans(c.t, c.Spans, expected, timeout)
}

func waitForSpans(t *testing.T, get func() []*reporterz.Span, expected int, timeout time.Duration) []*reporterz.Span {
	t.Helper()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if spans := get(); len(spans) >= expected {
			return spans
		}
		<-ticker.C
	}

	spans := get()
	t.Errorf("Timeout waiting for spans: expected %d, got %d", expected, len(spans))
	return spans
}

func findSpan(spans []*reporterz.Span, name string) *reporterz.Span {
	for _, span := range spans {
		if span.Operation == name {
			return span
		}
	}
	return nil
}

func assertParentChild(t *testing.T, spans []*reporterz.Span, parentName, childName string) {
	t.Helper()
	parent := findSpan(spans, parentName)
	child := findSpan(spans, childName)

	if parent == nil {
		t.Errorf("Parent span '%s' not found", parentName)
		return
	}
	if child == nil {
		t.Errorf("Child span '%s' not found", childName)
		return
	}

	if child.ParentID != parent.SpanID {
		t.Errorf("Parent-child relationship broken: %s is not parent of %s. Child ParentID=%s, Parent SpanID=%s",
			parentName, childName, child.ParentID, parent.SpanID)
	}
	if child.TraceID != parent.TraceID {
		t.Errorf("Trace ID mismatch: parent=%s, child=%s", parent.TraceID, child.TraceID)
	}
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     *reporterz.Span
	Children []*SpanTree
}

// BuildSpanTree constructs a tree from flat span list.
func BuildSpanTree(spans []*reporterz.Span) []*SpanTree {
	nodeMap := make(map[reporterz.SpanID]*SpanTree, len(spans))
	roots := make([]*SpanTree, 0)

	for _, span := range spans {
		nodeMap[span.SpanID] = &SpanTree{Span: span}
	}

	for _, span := range spans {
		node := nodeMap[span.SpanID]
		if span.ParentID == 0 {
			roots = append(roots, node)
		} else if parent, exists := nodeMap[span.ParentID]; exists {
			parent.Children = append(parent.Children, node)
		}
	}

	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(sb, "%s%s (%.2fms)\n",
		indent, node.Span.Operation, node.Span.Duration.Seconds()*1000)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// spanAccounting sums every reporter_spans result.
func spanAccounting(factory *reporterz.LocalFactory) (ok, failed, dropped int64) {
	return factory.CounterValue(reporterz.MetricReporterSpans, "result=ok"),
		factory.CounterValue(reporterz.MetricReporterSpans, "result=err"),
		factory.CounterValue(reporterz.MetricReporterSpans, "result=dropped")
}
