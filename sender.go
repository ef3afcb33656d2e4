package reporterz

import (
	"errors"
	"fmt"
)

// Sender buffers spans and sends them out of process.
// Implementations are not required to be safe for concurrent use; the
// RemoteReporter calls Append and Flush from a single goroutine.
type Sender interface {
	// Append adds the span to the buffer. When the buffer fills, the
	// sender flushes and returns the number of spans flushed.
	Append(span *Span) (int, error)

	// Flush sends the buffer now and returns the number of spans sent.
	Flush() (int, error)

	// Close flushes what is left and releases the transport.
	Close() (int, error)
}

// Sentinel errors wrapped by SenderError.
var (
	ErrSpanTooLarge = errors.New("span too large for packet")
	ErrSenderClosed = errors.New("sender closed")
)

// SenderError reports a failure together with the number of spans it lost.
type SenderError struct {
	Err     error
	Dropped int
}

func (e *SenderError) Error() string {
	return fmt.Sprintf("sender dropped %d span(s): %v", e.Dropped, e.Err)
}

func (e *SenderError) Unwrap() error {
	return e.Err
}

// SenderDropped returns the number of spans lost by err. A non-nil error
// that is not a SenderError counts as one lost span.
func SenderDropped(err error) int {
	if err == nil {
		return 0
	}
	var senderErr *SenderError
	if errors.As(err, &senderErr) {
		return senderErr.Dropped
	}
	return 1
}
