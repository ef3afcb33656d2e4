package reporterz

import "context"

// Batch is one encoded message ready to be written by a Transport.
type Batch struct {
	Payload   []byte
	SpanCount int
}

// Transport writes a complete batch in a single network operation.
// Implementations are not required to be safe for concurrent use; a
// BatchSender only calls Send from the goroutine that owns it. Close may be
// called while a Send is blocked and should make that Send return.
type Transport interface {
	Send(ctx context.Context, batch Batch) error
	Close() error
}
