// Package metadata provides typed attribute documents, schema validation,
// conjunctive filters and per-field secondary indexes for hybrid search.
package metadata

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the concrete type stored in a Value.
type Kind uint8

const (
	// KindInvalid represents an invalid kind.
	KindInvalid Kind = iota
	// KindNull represents a null value.
	KindNull
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a float value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindBool represents a boolean value.
	KindBool
	// KindTime represents a timestamp value.
	KindTime
	// KindStringSet represents a set of strings.
	KindStringSet
	// KindJSON represents an opaque JSON blob.
	KindJSON
)

// Value is a small typed value used for attribute documents and filters.
// The representation avoids reflection so filtering stays predictable.
//
// NOTE: Key() output is used in persisted posting lists; keep it stable.
type Value struct {
	Kind Kind     `json:"k"`
	I64  int64    `json:"i,omitempty"`
	F64  float64  `json:"f,omitempty"`
	S    string   `json:"s,omitempty"`
	B    bool     `json:"b,omitempty"`
	Set  []string `json:"ss,omitempty"`
	Raw  []byte   `json:"j,omitempty"`
}

// Document maps field names to typed values.
type Document map[string]Value

// Null returns a null value.
func Null() Value { return Value{Kind: KindNull} }

// Int returns an integer value.
func Int(v int64) Value { return Value{Kind: KindInt, I64: v} }

// Float returns a float value.
func Float(v float64) Value { return Value{Kind: KindFloat, F64: v} }

// String returns a string value.
func String(v string) Value { return Value{Kind: KindString, S: v} }

// Bool returns a boolean value.
func Bool(v bool) Value { return Value{Kind: KindBool, B: v} }

// Time returns a timestamp value with nanosecond precision.
func Time(t time.Time) Value { return Value{Kind: KindTime, I64: t.UnixNano()} }

// StringSet returns a set-of-strings value. The input is copied and deduplicated.
func StringSet(elems ...string) Value {
	seen := make(map[string]struct{}, len(elems))
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	sort.Strings(out)
	return Value{Kind: KindStringSet, Set: out}
}

// JSON returns an opaque JSON value. The bytes must be valid JSON.
func JSON(raw []byte) Value { return Value{Kind: KindJSON, Raw: raw} }

// IsNumeric reports whether the value is orderable as a number.
// Timestamps order by their nanosecond representation.
func (v Value) IsNumeric() bool {
	return v.Kind == KindInt || v.Kind == KindFloat || v.Kind == KindTime
}

// AsFloat64 returns the numeric interpretation of the value.
func (v Value) AsFloat64() float64 {
	switch v.Kind {
	case KindInt, KindTime:
		return float64(v.I64)
	case KindFloat:
		return v.F64
	default:
		return 0
	}
}

// AsTime returns the timestamp interpretation of the value.
func (v Value) AsTime() time.Time {
	return time.Unix(0, v.I64)
}

// Contains reports whether a string-set value contains elem.
func (v Value) Contains(elem string) bool {
	if v.Kind != KindStringSet {
		return false
	}
	i := sort.SearchStrings(v.Set, elem)
	return i < len(v.Set) && v.Set[i] == elem
}

// Equal compares two values. Int and Float compare numerically.
func (v Value) Equal(o Value) bool {
	if v.IsNumeric() && o.IsNumeric() {
		if v.Kind == KindInt && o.Kind == KindInt {
			return v.I64 == o.I64
		}
		if v.Kind == KindTime || o.Kind == KindTime {
			return v.Kind == o.Kind && v.I64 == o.I64
		}
		return v.AsFloat64() == o.AsFloat64()
	}
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.S == o.S
	case KindBool:
		return v.B == o.B
	case KindStringSet:
		if len(v.Set) != len(o.Set) {
			return false
		}
		for i := range v.Set {
			if v.Set[i] != o.Set[i] {
				return false
			}
		}
		return true
	case KindJSON:
		return string(v.Raw) == string(o.Raw)
	default:
		return false
	}
}

// Key returns a stable string representation for posting-list maps.
func (v Value) Key() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return "i:" + strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return "f:" + strconv.FormatUint(math.Float64bits(v.F64), 16)
	case KindString:
		return "s:" + v.S
	case KindBool:
		if v.B {
			return "b:1"
		}
		return "b:0"
	case KindTime:
		return "t:" + strconv.FormatInt(v.I64, 10)
	case KindStringSet:
		return "ss:" + strings.Join(v.Set, "\x1f")
	case KindJSON:
		return "j:" + string(v.Raw)
	default:
		return "invalid"
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindInt:
		return strconv.FormatInt(v.I64, 10)
	case KindFloat:
		return strconv.FormatFloat(v.F64, 'g', -1, 64)
	case KindString:
		return v.S
	case KindBool:
		return strconv.FormatBool(v.B)
	case KindTime:
		return v.AsTime().UTC().Format(time.RFC3339Nano)
	case KindStringSet:
		return "{" + strings.Join(v.Set, ",") + "}"
	case KindJSON:
		return string(v.Raw)
	default:
		return fmt.Sprintf("invalid(%d)", v.Kind)
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		if v.Kind == KindStringSet {
			v.Set = append([]string(nil), v.Set...)
		}
		if v.Kind == KindJSON {
			v.Raw = append([]byte(nil), v.Raw...)
		}
		out[k] = v
	}
	return out
}

// ValidJSON reports whether a KindJSON value holds well-formed JSON.
func (v Value) ValidJSON() bool {
	return v.Kind == KindJSON && json.Valid(v.Raw)
}
