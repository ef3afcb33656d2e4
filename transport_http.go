package reporterz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// HTTP headers set on every batch.
const (
	ContentTypeCBOR = "application/cbor"
	HeaderSpanCount = "X-Span-Count"
)

// Compression names accepted by SenderConfig.Compression.
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// HTTPTransport posts each batch to a collector endpoint.
type HTTPTransport struct {
	client      *resty.Client
	zstd        *zstd.Encoder
	endpoint    string
	compression string

	mu     sync.RWMutex // Held for reading while a body is compressed.
	closed bool
}

// NewHTTPTransport creates a transport posting to endpoint. timeout bounds
// each request in addition to the context passed to Send.
func NewHTTPTransport(endpoint, compression string, timeout time.Duration, headers map[string]string) (*HTTPTransport, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("http transport: endpoint is required")
	}
	if compression == "" {
		compression = CompressionNone
	}

	t := &HTTPTransport{
		endpoint:    endpoint,
		compression: compression,
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", ContentTypeCBOR).
			SetHeaders(headers),
	}

	switch compression {
	case CompressionNone, CompressionGzip:
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("http transport: create zstd encoder: %w", err)
		}
		t.zstd = encoder
	default:
		return nil, fmt.Errorf("http transport: unknown compression %q", compression)
	}
	return t, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, batch Batch) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return ErrTransportClosed
	}
	body, err := t.compress(batch.Payload)
	t.mu.RUnlock()
	if err != nil {
		return err
	}

	req := t.client.R().
		SetContext(ctx).
		SetHeader(HeaderSpanCount, strconv.Itoa(batch.SpanCount)).
		SetBody(body)
	if t.compression != CompressionNone {
		req.SetHeader("Content-Encoding", t.compression)
	}

	resp, err := req.Post(t.endpoint)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("collector rejected batch: %s", resp.Status())
	}
	return nil
}

// Close implements Transport. It waits for a body being compressed but not
// for a request in flight; that request ends with its context. Safe to call
// more than once.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	t.client.GetClient().CloseIdleConnections()
	if t.zstd != nil {
		return t.zstd.Close()
	}
	return nil
}

func (t *HTTPTransport) compress(payload []byte) ([]byte, error) {
	switch t.compression {
	case CompressionZstd:
		return t.zstd.EncodeAll(payload, make([]byte, 0, len(payload))), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("gzip batch: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip batch: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return payload, nil
	}
}
