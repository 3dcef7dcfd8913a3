// Package value implements the boxed value model shared by the expression
// compiler and the renderer: a small set of dynamically tagged values, the
// boxing and unboxing rules between them and Go primitives, and the
// coercions and comparisons templates rely on.
//
// Unboxed fast paths never go through this package; they work on int64,
// float64, bool and string directly and only box at their edges.
package value

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the dynamic type tag of a boxed value.
type Kind uint8

const (
	KindNull Kind = iota
	KindUndefined
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindRecord
	KindSanitized
	KindPending
)

// String returns the type name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRecord:
		return "record"
	case KindSanitized:
		return "sanitized"
	case KindPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Value is a boxed template value. String implements coerceToString.
type Value interface {
	Kind() Kind
	String() string
}

type nullValue struct{}

func (nullValue) Kind() Kind     { return KindNull }
func (nullValue) String() string { return "null" }

type undefinedValue struct{}

func (undefinedValue) Kind() Kind     { return KindUndefined }
func (undefinedValue) String() string { return "undefined" }

var (
	// Null is the template null.
	Null Value = nullValue{}
	// Undefined marks an absent optional parameter or missing field.
	Undefined Value = undefinedValue{}
)

// Bool is a boxed boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Int is a boxed 64-bit integer.
type Int int64

func (Int) Kind() Kind       { return KindInt }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Float is a boxed 64-bit float.
type Float float64

func (Float) Kind() Kind       { return KindFloat }
func (f Float) String() string { return FormatFloat(float64(f)) }

// String is a boxed string.
type String string

func (String) Kind() Kind       { return KindString }
func (s String) String() string { return string(s) }

// ContentKind classifies sanitized content.
type ContentKind string

const (
	ContentHTML       ContentKind = "html"
	ContentText       ContentKind = "text"
	ContentAttributes ContentKind = "attributes"
	ContentURI        ContentKind = "uri"
	ContentCSS        ContentKind = "css"
	ContentJS         ContentKind = "js"
)

// ParseContentKind validates a content kind name; empty means html.
func ParseContentKind(s string) (ContentKind, bool) {
	switch ContentKind(s) {
	case "":
		return ContentHTML, true
	case ContentHTML, ContentText, ContentAttributes, ContentURI, ContentCSS, ContentJS:
		return ContentKind(s), true
	default:
		return "", false
	}
}

// Sanitized is content already known to be safe in its ContentKind.
type Sanitized struct {
	ContentKind ContentKind
	Content     string
}

func (Sanitized) Kind() Kind       { return KindSanitized }
func (s Sanitized) String() string { return s.Content }

// NewContent builds the value produced by a content block. Text blocks
// produce plain strings.
func NewContent(kind ContentKind, content string) Value {
	if kind == ContentText {
		return String(content)
	}
	return Sanitized{ContentKind: kind, Content: content}
}

// List is an ordered, immutable list of values.
type List struct {
	items []Value
}

// NewList creates a list holding items.
func NewList(items ...Value) *List {
	return &List{items: items}
}

func (*List) Kind() Kind { return KindList }

// Len returns the number of items.
func (l *List) Len() int { return len(l.items) }

// At returns the item at i, or Undefined when out of range.
func (l *List) At(i int) Value {
	if i < 0 || i >= len(l.items) {
		return Undefined
	}
	return l.items[i]
}

// Items returns a copy of the items.
func (l *List) Items() []Value {
	out := make([]Value, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) String() string {
	parts := make([]string, len(l.items))
	for i, v := range l.items {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Record is a value with named fields, in declaration order.
type Record struct {
	names  []string
	fields map[string]Value
}

// NewRecord creates a record from a Go map. Field order is sorted by name.
func NewRecord(fields map[string]Value) *Record {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Record{names: names, fields: cp}
}

func (*Record) Kind() Kind { return KindRecord }

// Get returns the field value and whether it exists.
func (r *Record) Get(name string) (Value, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Fields returns a copy of the fields.
func (r *Record) Fields() map[string]Value {
	out := make(map[string]Value, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

func (r *Record) String() string {
	parts := make([]string, len(r.names))
	for i, n := range r.names {
		parts[i] = n + ": " + r.fields[n].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// mapKey canonicalizes a primitive value for use as a Go map key.
// Integral floats collapse onto ints so 1 and 1.0 address the same entry.
type mapKey struct {
	kind Kind
	s    string
	i    int64
	f    float64
}

func keyOf(v Value) (mapKey, bool) {
	switch x := v.(type) {
	case Int:
		return mapKey{kind: KindInt, i: int64(x)}, true
	case Float:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
			return mapKey{kind: KindInt, i: int64(f)}, true
		}
		return mapKey{kind: KindFloat, f: f}, true
	case String:
		return mapKey{kind: KindString, s: string(x)}, true
	case Sanitized:
		return mapKey{kind: KindString, s: x.Content}, true
	case Bool:
		if x {
			return mapKey{kind: KindBool, i: 1}, true
		}
		return mapKey{kind: KindBool}, true
	default:
		return mapKey{}, false
	}
}

// Map is an insertion-ordered map with primitive keys.
type Map struct {
	keys   []Value
	values []Value
	index  map[mapKey]int
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{index: make(map[mapKey]int)}
}

// Set stores v under k. Non-primitive keys report false.
func (m *Map) Set(k, v Value) bool {
	mk, ok := keyOf(k)
	if !ok {
		return false
	}
	if i, exists := m.index[mk]; exists {
		m.values[i] = v
		return true
	}
	m.index[mk] = len(m.keys)
	m.keys = append(m.keys, k)
	m.values = append(m.values, v)
	return true
}

func (*Map) Kind() Kind { return KindMap }

// Get returns the entry for k.
func (m *Map) Get(k Value) (Value, bool) {
	mk, ok := keyOf(k)
	if !ok {
		return nil, false
	}
	i, ok := m.index[mk]
	if !ok {
		return nil, false
	}
	return m.values[i], true
}

// Len returns the number of entries.
func (m *Map) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Value {
	out := make([]Value, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) String() string {
	parts := make([]string, len(m.keys))
	for i, k := range m.keys {
		parts[i] = k.String() + ": " + m.values[i].String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// IsNullish reports whether v is null or undefined.
func IsNullish(v Value) bool {
	if v == nil {
		return true
	}
	k := v.Kind()
	return k == KindNull || k == KindUndefined
}

// IsNumber reports whether v is an int or a float.
func IsNumber(v Value) bool {
	if v == nil {
		return false
	}
	k := v.Kind()
	return k == KindInt || k == KindFloat
}
