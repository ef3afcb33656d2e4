package reporterz

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Encoder converts spans and process metadata to their wire form.
// The size of an encoded span is len of the returned slice.
type Encoder interface {
	EncodeProcess(process *Process) ([]byte, error)
	EncodeSpan(span *Span) ([]byte, error)
	// EncodeBatch frames an encoded process and encoded spans into one
	// message. The result must not exceed BatchOverhead plus the sum of
	// the parts.
	EncodeBatch(process []byte, spans [][]byte) ([]byte, error)
	BatchOverhead() int
}

// cborBatchOverhead is the framing added by EncodeBatch: a two-entry map
// header, two single-byte keys and an array header of at most 9 bytes.
const cborBatchOverhead = 1 + 1 + 1 + 9

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same span
// always encodes to the same bytes and therefore the same size.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("reporterz: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("reporterz: CBOR decoder initialization failed: " + err.Error())
	}
}

type wireTag struct {
	Key     string  `cbor:"1,keyasint"`
	Type    TagKind `cbor:"2,keyasint"`
	VStr    string  `cbor:"3,keyasint,omitempty"`
	VDouble float64 `cbor:"4,keyasint,omitempty"`
	VBool   bool    `cbor:"5,keyasint,omitempty"`
	VLong   int64   `cbor:"6,keyasint,omitempty"`
}

type wireProcess struct {
	ServiceName string    `cbor:"1,keyasint"`
	Tags        []wireTag `cbor:"2,keyasint,omitempty"`
}

type wireSpan struct {
	TraceIDLow    int64     `cbor:"1,keyasint"`
	TraceIDHigh   int64     `cbor:"2,keyasint"`
	SpanID        int64     `cbor:"3,keyasint"`
	ParentSpanID  int64     `cbor:"4,keyasint"`
	OperationName string    `cbor:"5,keyasint"`
	Flags         byte      `cbor:"6,keyasint"`
	StartTime     int64     `cbor:"7,keyasint"`
	Duration      int64     `cbor:"8,keyasint"`
	Tags          []wireTag `cbor:"9,keyasint,omitempty"`
}

type wireBatch struct {
	Process cbor.RawMessage   `cbor:"1,keyasint"`
	Spans   []cbor.RawMessage `cbor:"2,keyasint"`
}

// CBOREncoder encodes batches as deterministic CBOR with integer keys.
type CBOREncoder struct{}

// NewCBOREncoder returns the default Encoder.
func NewCBOREncoder() CBOREncoder { return CBOREncoder{} }

// EncodeProcess implements Encoder.
func (CBOREncoder) EncodeProcess(process *Process) ([]byte, error) {
	data, err := encMode.Marshal(wireProcess{
		ServiceName: process.ServiceName,
		Tags:        toWireTags(process.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("encode process: %w", err)
	}
	return data, nil
}

// EncodeSpan implements Encoder.
func (CBOREncoder) EncodeSpan(span *Span) ([]byte, error) {
	data, err := encMode.Marshal(wireSpan{
		TraceIDLow:    int64(span.TraceID.Low),
		TraceIDHigh:   int64(span.TraceID.High),
		SpanID:        int64(span.SpanID),
		ParentSpanID:  int64(span.ParentID),
		OperationName: span.Operation,
		Flags:         span.Flags,
		StartTime:     span.StartTime.UnixMicro(),
		Duration:      span.Duration.Microseconds(),
		Tags:          toWireTags(span.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("encode span: %w", err)
	}
	return data, nil
}

// EncodeBatch implements Encoder.
func (CBOREncoder) EncodeBatch(process []byte, spans [][]byte) ([]byte, error) {
	batch := wireBatch{
		Process: cbor.RawMessage(process),
		Spans:   make([]cbor.RawMessage, len(spans)),
	}
	for i, span := range spans {
		batch.Spans[i] = cbor.RawMessage(span)
	}
	data, err := encMode.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

// BatchOverhead implements Encoder.
func (CBOREncoder) BatchOverhead() int {
	return cborBatchOverhead
}

// DecodeBatch parses a payload produced by EncodeBatch. Decoded spans share a
// pointer to the decoded process.
func (CBOREncoder) DecodeBatch(payload []byte) (*Process, []*Span, error) {
	var batch wireBatch
	if err := decMode.Unmarshal(payload, &batch); err != nil {
		return nil, nil, fmt.Errorf("decode batch: %w", err)
	}

	var wp wireProcess
	if err := decMode.Unmarshal(batch.Process, &wp); err != nil {
		return nil, nil, fmt.Errorf("decode process: %w", err)
	}
	process := &Process{ServiceName: wp.ServiceName, Tags: fromWireTags(wp.Tags)}

	spans := make([]*Span, 0, len(batch.Spans))
	for i, raw := range batch.Spans {
		var ws wireSpan
		if err := decMode.Unmarshal(raw, &ws); err != nil {
			return nil, nil, fmt.Errorf("decode span %d: %w", i, err)
		}
		spans = append(spans, &Span{
			Process:   process,
			TraceID:   TraceID{High: uint64(ws.TraceIDHigh), Low: uint64(ws.TraceIDLow)},
			SpanID:    SpanID(ws.SpanID),
			ParentID:  SpanID(ws.ParentSpanID),
			Operation: ws.OperationName,
			Flags:     ws.Flags,
			StartTime: time.UnixMicro(ws.StartTime),
			Duration:  time.Duration(ws.Duration) * time.Microsecond,
			Tags:      fromWireTags(ws.Tags),
		})
	}
	return process, spans, nil
}

func toWireTags(tags []Tag) []wireTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]wireTag, len(tags))
	for i, tag := range tags {
		wt := wireTag{Key: tag.Key, Type: tag.Value.Kind()}
		switch tag.Value.Kind() {
		case TagBool:
			wt.VBool = tag.Value.AsBool()
		case TagInt64:
			wt.VLong = tag.Value.AsInt64()
		case TagFloat64:
			wt.VDouble = tag.Value.AsFloat64()
		default:
			wt.VStr = tag.Value.AsString()
		}
		out[i] = wt
	}
	return out
}

func fromWireTags(tags []wireTag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, len(tags))
	for i, wt := range tags {
		var value TagValue
		switch wt.Type {
		case TagBool:
			value = BoolValue(wt.VBool)
		case TagInt64:
			value = Int64Value(wt.VLong)
		case TagFloat64:
			value = Float64Value(wt.VDouble)
		default:
			value = StringValue(wt.VStr)
		}
		out[i] = Tag{Key: wt.Key, Value: value}
	}
	return out
}
