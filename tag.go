package reporterz

import (
	"fmt"
	"strconv"
)

// TagKind identifies which field of a TagValue is populated.
type TagKind uint8

// Tag kinds. The numeric values are written on the wire.
const (
	TagString TagKind = iota
	TagFloat64
	TagBool
	TagInt64
)

// String returns the name of the kind.
func (k TagKind) String() string {
	switch k {
	case TagString:
		return "string"
	case TagFloat64:
		return "float64"
	case TagBool:
		return "bool"
	case TagInt64:
		return "int64"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// TagValue is a string, bool, int64 or float64. The zero value is the empty
// string. TagValue is comparable, so two values are equal when both kind and
// payload match.
type TagValue struct {
	str  string
	num  int64
	flt  float64
	kind TagKind
	b    bool
}

// StringValue returns a string TagValue.
func StringValue(v string) TagValue { return TagValue{kind: TagString, str: v} }

// BoolValue returns a bool TagValue.
func BoolValue(v bool) TagValue { return TagValue{kind: TagBool, b: v} }

// Int64Value returns an int64 TagValue.
func Int64Value(v int64) TagValue { return TagValue{kind: TagInt64, num: v} }

// Float64Value returns a float64 TagValue.
func Float64Value(v float64) TagValue { return TagValue{kind: TagFloat64, flt: v} }

// Kind reports which payload the value carries.
func (v TagValue) Kind() TagKind { return v.kind }

// AsString returns the string payload. Only meaningful for TagString.
func (v TagValue) AsString() string { return v.str }

// AsBool returns the bool payload. Only meaningful for TagBool.
func (v TagValue) AsBool() bool { return v.b }

// AsInt64 returns the int64 payload. Only meaningful for TagInt64.
func (v TagValue) AsInt64() int64 { return v.num }

// AsFloat64 returns the float64 payload. Only meaningful for TagFloat64.
func (v TagValue) AsFloat64() float64 { return v.flt }

// String formats the payload regardless of kind.
func (v TagValue) String() string {
	switch v.kind {
	case TagBool:
		return strconv.FormatBool(v.b)
	case TagInt64:
		return strconv.FormatInt(v.num, 10)
	case TagFloat64:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	default:
		return v.str
	}
}

// Tag is a key/value pair attached to a span or a process.
type Tag struct {
	Key   string
	Value TagValue
}

// NewTag builds a Tag.
func NewTag(key string, value TagValue) Tag {
	return Tag{Key: key, Value: value}
}
