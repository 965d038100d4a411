package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ValueKind discriminates the variants of Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Map is the shape of option maps, run outputs and folded context.
type Map = map[string]Value

// Value is a tagged union over string | number | bool | list | map. The zero
// Value is null. Using Value instead of untyped any-maps keeps context
// serialization deterministic, so cache keys can be computed structurally.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	obj  Map
}

// Null returns the null Value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float64. NaN and infinities collapse to 0 so canonical
// output is always well-formed.
func Number(n float64) Value {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		n = 0
	}
	return Value{kind: KindNumber, num: n}
}

// Int wraps an integer as a number Value.
func Int(i int) Value { return Number(float64(i)) }

// Bool wraps a bool.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// List wraps a sequence of Values.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Object wraps a Map as a map-kind Value.
func Object(m Map) Value { return Value{kind: KindMap, obj: m} }

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload if the value is a string.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsNumber returns the numeric payload if the value is a number.
func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// AsInt returns the numeric payload truncated to int if the value is an
// integral number.
func (v Value) AsInt() (int, bool) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) {
		return 0, false
	}
	return int(v.num), true
}

// AsBool returns the bool payload if the value is a bool.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsList returns the list payload if the value is a list.
func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// AsMap returns the map payload if the value is a map.
func (v Value) AsMap() (Map, bool) {
	return v.obj, v.kind == KindMap
}

// Render produces the human-readable form used for template substitution:
// strings are raw, numbers drop trailing zeros, null is empty, lists and
// maps render canonically.
func (v Value) Render() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return string(v.AppendCanonical(nil))
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// AppendCanonical appends a deterministic serialization of v to dst: map
// keys are sorted, numbers use a fixed format. Two structurally equal
// values always produce identical bytes, which is what cache keys hash.
func (v Value) AppendCanonical(dst []byte) []byte {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...)
	case KindString:
		return strconv.AppendQuote(dst, v.str)
	case KindNumber:
		return append(dst, formatNumber(v.num)...)
	case KindBool:
		return strconv.AppendBool(dst, v.b)
	case KindList:
		dst = append(dst, '[')
		for i, item := range v.list {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = item.AppendCanonical(dst)
		}
		return append(dst, ']')
	case KindMap:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, k := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = strconv.AppendQuote(dst, k)
			dst = append(dst, ':')
			dst = v.obj[k].AppendCanonical(dst)
		}
		return append(dst, '}')
	default:
		return dst
	}
}

// Canonical returns the canonical bytes of v.
func (v Value) Canonical() []byte { return v.AppendCanonical(nil) }

// Equal reports structural equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, val := range v.obj {
			other, ok := o.obj[k]
			if !ok || !val.Equal(other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the value as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.obj)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes any JSON value into the matching variant.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromAny converts a dynamically-typed value (as produced by encoding/json
// or yaml.v3 decoding) into a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case []any:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			items = append(items, v)
		}
		return List(items...), nil
	case map[string]any:
		m := make(Map, len(x))
		for k, item := range x {
			v, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			m[k] = v
		}
		return Object(m), nil
	case Map:
		return Object(x), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", raw)
	}
}

// MapFromAny converts a map of dynamically-typed values into a Map.
func MapFromAny(raw map[string]any) (Map, error) {
	v, err := FromAny(raw)
	if err != nil {
		return nil, err
	}
	m, _ := v.AsMap()
	return m, nil
}

// CloneMap returns a shallow copy of m. List and map payloads are shared;
// callers treat Values as immutable.
func CloneMap(m Map) Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
