package reporterz

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidTraceID is returned when a trace id string cannot be parsed.
var ErrInvalidTraceID = errors.New("invalid trace id")

// TraceID is a 128-bit trace identifier split into two 64-bit halves.
// Legacy 64-bit ids carry a zero High.
type TraceID struct {
	High uint64
	Low  uint64
}

// IsValid reports whether the id is non-zero.
func (t TraceID) IsValid() bool {
	return t.High != 0 || t.Low != 0
}

// String renders the id as lowercase hex, omitting High when it is zero.
func (t TraceID) String() string {
	if t.High == 0 {
		return fmt.Sprintf("%016x", t.Low)
	}
	return fmt.Sprintf("%016x%016x", t.High, t.Low)
}

// TraceIDFromString parses the output of TraceID.String. Up to 32 hex
// characters are accepted; shorter strings fill Low first.
func TraceIDFromString(s string) (TraceID, error) {
	if s == "" || len(s) > 32 {
		return TraceID{}, fmt.Errorf("%w: %q", ErrInvalidTraceID, s)
	}
	var id TraceID
	var err error
	if len(s) > 16 {
		split := len(s) - 16
		if id.High, err = strconv.ParseUint(s[:split], 16, 64); err != nil {
			return TraceID{}, fmt.Errorf("%w: %q", ErrInvalidTraceID, s)
		}
		s = s[split:]
	}
	if id.Low, err = strconv.ParseUint(s, 16, 64); err != nil {
		return TraceID{}, fmt.Errorf("%w: %q", ErrInvalidTraceID, s)
	}
	return id, nil
}

// SpanID identifies a span within a trace.
type SpanID uint64

// String renders the id as 16 hex characters.
func (s SpanID) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}
