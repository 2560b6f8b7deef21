// Package routing implements the lead-flow decision core: field-path
// resolution over lead records, the closed condition-operator set, per-rule
// matching, and priority-ordered rule selection.
//
// Everything in this package is pure: no I/O, no clocks, no logging. The
// effectful side (transactions, persistence, action-plan scheduling) lives
// in internal/engine, which consumes the decisions made here. This split is
// what makes the decision logic testable without a database.
package routing

import (
	"encoding/json"
	"strconv"
)

// Kind discriminates the Value sum type.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

// Value is a tagged tree over the shapes a lead record can take after JSON
// decoding. An explicit sum type instead of reflection keeps path resolution
// and operator dispatch total: every case is enumerable and a missing field
// is just KindNull, never a panic.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64. JSON has a single numeric type, so the tree does too.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps a slice of values.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Map wraps a key-value object.
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// Kind returns the discriminant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload. Valid only for KindBool.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsString returns the string payload. Valid only for KindString.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// Len returns the element count for lists and maps, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	default:
		return 0
	}
}

// Index returns the i-th element of a list, or Null when out of range or not
// a list.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Null()
	}
	return v.list[i]
}

// Key returns the named entry of a map, or Null when absent or not a map.
func (v Value) Key(k string) Value {
	if v.kind != KindMap {
		return Null()
	}
	val, ok := v.m[k]
	if !ok {
		return Null()
	}
	return val
}

// SetKey stores an entry on a map value in place. No-op for other kinds.
func (v Value) SetKey(k string, val Value) {
	if v.kind == KindMap {
		v.m[k] = val
	}
}

// AsNumber attempts numeric interpretation: numbers directly, numeric
// strings via ParseFloat. This is the loose coercion the equality and
// ordering operators rely on ("500000" compares equal to 500000).
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		f, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text renders scalars to the string form used by loose comparison.
// Null renders empty, booleans render true/false, numbers drop trailing
// zeros. Lists and maps have no text form and render empty.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

// Interface converts back to plain Go values for diagnostics (trace output,
// JSON responses). Inverse of FromAny up to numeric widening.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromJSON decodes a JSON document into a Value tree.
func FromJSON(data json.RawMessage) (Value, error) {
	if len(data) == 0 {
		return Null(), nil
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Null(), err
	}
	return FromAny(parsed), nil
}

// FromAny converts decoded JSON (or condition values from the rule store)
// into the tagged tree. Unrepresentable types collapse to Null rather than
// erroring; the operators treat Null uniformly.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case string:
		return String(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return Value{kind: KindList, list: vs}
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Value{kind: KindMap, m: m}
	default:
		return Null()
	}
}
