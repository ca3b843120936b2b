// Package snapshot provides the immutable, typed, columnar representation of a
// dataset version that the diff and merge engine operates on.
package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTimestamp
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a tagged variant holding a single cell.
// The zero Value is Null.
type Value struct {
	kind Kind
	i    int64 // Int, Bool (0/1), Timestamp (UTC nanoseconds)
	f    float64
	s    string
}

// Null returns the null value.
func Null() Value { return Value{} }

// Int returns an integer value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating point value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a string value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bool returns a boolean value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, i: 1}
	}
	return Value{kind: KindBool}
}

// Timestamp returns a timestamp value. Sub-nanosecond precision and the
// location are dropped; timestamps are always compared in UTC.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, i: t.UnixNano()} }

// TimestampNanos returns a timestamp from nanoseconds since the Unix epoch.
func TimestampNanos(n int64) Value { return Value{kind: KindTimestamp, i: n} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer payload.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the numeric payload as a float; integers are converted.
func (v Value) Float64() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Text returns the string payload.
func (v Value) Text() string { return v.s }

// Boolean returns the boolean payload.
func (v Value) Boolean() bool { return v.kind == KindBool && v.i != 0 }

// Nanos returns the timestamp payload in nanoseconds since the epoch.
func (v Value) Nanos() int64 { return v.i }

// Time returns the timestamp payload in UTC.
func (v Value) Time() time.Time { return time.Unix(0, v.i).UTC() }

func (v Value) numeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Equal reports whether two values are equal. Nulls are equal only to nulls.
// Integers compare exactly. When either side is a float the values compare
// numerically with an absolute tolerance of epsilon; NaN equals NaN and
// infinities equal infinities of the same sign.
func (v Value) Equal(o Value, epsilon float64) bool {
	if v.kind == KindInt && o.kind == KindInt {
		return v.i == o.i
	}
	if v.numeric() && o.numeric() {
		return FloatEqual(v.Float64(), o.Float64(), epsilon)
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	default:
		return v.i == o.i
	}
}

// FloatEqual compares two floats with an absolute tolerance.
func FloatEqual(a, b, epsilon float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return false
	}
	return math.Abs(a-b) <= epsilon
}

func (v Value) rank() int {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindString:
		return 3
	default:
		return 4
	}
}

// Compare defines a total order over values: null < bool < numeric < string <
// timestamp, then by value. NaN sorts before every other number.
func (v Value) Compare(o Value) int {
	if r, q := v.rank(), o.rank(); r != q {
		return cmpInt(int64(r), int64(q))
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindString:
		return strings.Compare(v.s, o.s)
	case KindInt, KindFloat:
		if v.kind == KindInt && o.kind == KindInt {
			return cmpInt(v.i, o.i)
		}
		a, b := v.Float64(), o.Float64()
		switch {
		case math.IsNaN(a) && math.IsNaN(b):
			return 0
		case math.IsNaN(a):
			return -1
		case math.IsNaN(b):
			return 1
		case a < b:
			return -1
		case a > b:
			return 1
		}
		// 1 and 1.0 are equal numerically; order ints first for stability.
		return cmpInt(int64(v.kind), int64(o.kind))
	default:
		return cmpInt(v.i, o.i)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String renders the value for display.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.i != 0)
	case KindTimestamp:
		return v.Time().Format(time.RFC3339Nano)
	default:
		return v.kind.String()
	}
}

// Interface returns the value as a plain Go value, suitable for JSON output.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBool:
		return v.i != 0
	case KindTimestamp:
		return v.Time().Format(time.RFC3339Nano)
	default:
		return nil
	}
}

// AppendBinary appends the canonical encoding of v to buf: a kind tag
// followed by a kind-specific payload.
func (v Value) AppendBinary(buf []byte) []byte {
	buf = append(buf, byte(v.kind))
	switch v.kind {
	case KindInt, KindTimestamp:
		buf = binary.AppendVarint(buf, v.i)
	case KindFloat:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.f))
	case KindString:
		buf = binary.AppendUvarint(buf, uint64(len(v.s)))
		buf = append(buf, v.s...)
	case KindBool:
		buf = append(buf, byte(v.i))
	}
	return buf
}

// ErrShortBuffer is returned when a value cannot be decoded from a truncated buffer.
var ErrShortBuffer = errors.New("short buffer")

// DecodeValue decodes a value produced by AppendBinary and returns it with
// the number of bytes consumed.
func DecodeValue(b []byte) (Value, int, error) {
	if len(b) == 0 {
		return Value{}, 0, ErrShortBuffer
	}
	kind := Kind(b[0])
	p := b[1:]
	switch kind {
	case KindNull:
		return Value{}, 1, nil
	case KindInt, KindTimestamp:
		n, m := binary.Varint(p)
		if m <= 0 {
			return Value{}, 0, ErrShortBuffer
		}
		return Value{kind: kind, i: n}, 1 + m, nil
	case KindFloat:
		if len(p) < 8 {
			return Value{}, 0, ErrShortBuffer
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(p))), 9, nil
	case KindString:
		l, m := binary.Uvarint(p)
		if m <= 0 || uint64(len(p)-m) < l {
			return Value{}, 0, ErrShortBuffer
		}
		return String(string(p[m : m+int(l)])), 1 + m + int(l), nil
	case KindBool:
		if len(p) < 1 {
			return Value{}, 0, ErrShortBuffer
		}
		if p[0] > 1 {
			return Value{}, 0, fmt.Errorf("invalid bool byte %d", p[0])
		}
		return Bool(p[0] == 1), 2, nil
	default:
		return Value{}, 0, fmt.Errorf("unknown value kind %d", kind)
	}
}
