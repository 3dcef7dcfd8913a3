// Package types describes the static types the type checker attaches to
// parameters and expressions. The expression compiler uses them to pick
// between boxed evaluation and unboxed fast paths.
package types

import (
	"fmt"
	"strings"

	"github.com/conneroisu/sojourn/internal/value"
)

// Kind is the static kind of an expression.
type Kind uint8

const (
	Unknown Kind = iota
	Any
	Null
	Bool
	Int
	Float
	Number
	String
	List
	Map
	Record
	HTML
	Attributes
	URI
	CSS
	JS
	Text
)

var kindNames = map[Kind]string{
	Unknown:    "?",
	Any:        "any",
	Null:       "null",
	Bool:       "bool",
	Int:        "int",
	Float:      "float",
	Number:     "number",
	String:     "string",
	List:       "list",
	Map:        "map",
	Record:     "record",
	HTML:       "html",
	Attributes: "attributes",
	URI:        "uri",
	CSS:        "css",
	JS:         "js",
	Text:       "text",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type is a static type. Elem holds the element type of lists and the
// key and value types of maps.
type Type struct {
	Kind     Kind
	Nullable bool
	Elem     []Type
}

// Common types.
var (
	UnknownType = Type{Kind: Unknown}
	AnyType     = Type{Kind: Any}
	NullType    = Type{Kind: Null, Nullable: true}
	BoolType    = Type{Kind: Bool}
	IntType     = Type{Kind: Int}
	FloatType   = Type{Kind: Float}
	NumberType  = Type{Kind: Number}
	StringType  = Type{Kind: String}
	HTMLType    = Type{Kind: HTML}
)

// Of returns a non-nullable type of kind k.
func Of(k Kind) Type { return Type{Kind: k} }

// ListOf returns list<elem>.
func ListOf(elem Type) Type { return Type{Kind: List, Elem: []Type{elem}} }

// MapOf returns map<key,val>.
func MapOf(key, val Type) Type { return Type{Kind: Map, Elem: []Type{key, val}} }

// OrNull returns t with null admitted.
func (t Type) OrNull() Type {
	t.Nullable = true
	return t
}

// IsPrimitive reports whether values of t can be evaluated unboxed. Nullable
// types always go through the boxed path since null has no unboxed form.
func (t Type) IsPrimitive() bool {
	if t.Nullable {
		return false
	}
	switch t.Kind {
	case Bool, Int, Float, String:
		return true
	}
	return false
}

// IsNumeric reports whether t is int, float or number.
func (t Type) IsNumeric() bool {
	return !t.Nullable && (t.Kind == Int || t.Kind == Float || t.Kind == Number)
}

// IsContent reports whether t is a sanitized content kind.
func (t Type) IsContent() bool {
	switch t.Kind {
	case HTML, Attributes, URI, CSS, JS, Text:
		return true
	}
	return false
}

// ValueKind returns the boxed kind matching t, and false when t does not
// map onto a single boxed kind.
func (t Type) ValueKind() (value.Kind, bool) {
	switch t.Kind {
	case Bool:
		return value.KindBool, true
	case Int:
		return value.KindInt, true
	case Float:
		return value.KindFloat, true
	case String:
		return value.KindString, true
	case List:
		return value.KindList, true
	case Map:
		return value.KindMap, true
	case Record:
		return value.KindRecord, true
	}
	return 0, false
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Nullable != o.Nullable || len(t.Elem) != len(o.Elem) {
		return false
	}
	for i := range t.Elem {
		if !t.Elem[i].Equal(o.Elem[i]) {
			return false
		}
	}
	return true
}

func (t Type) String() string {
	var b strings.Builder
	if t.Nullable && t.Kind != Null {
		b.WriteByte('?')
	}
	b.WriteString(t.Kind.String())
	if len(t.Elem) > 0 {
		b.WriteByte('<')
		for i, e := range t.Elem {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(e.String())
		}
		b.WriteByte('>')
	}
	return b.String()
}

// Parse reads the type syntax used in bundles: "int", "?int", "int|null",
// "list<string>", "map<string,int>". The empty string is Unknown.
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownType, nil
	}
	if strings.HasPrefix(s, "?") {
		t, err := Parse(s[1:])
		return t.OrNull(), err
	}
	if parts := splitTop(s, '|'); len(parts) > 1 {
		var out Type
		found := false
		nullable := false
		for _, p := range parts {
			if strings.TrimSpace(p) == "null" {
				nullable = true
				continue
			}
			pt, err := Parse(p)
			if err != nil {
				return UnknownType, err
			}
			if found && !out.Equal(pt) {
				out = AnyType
				continue
			}
			out, found = pt, true
		}
		if !found {
			return NullType, nil
		}
		out.Nullable = out.Nullable || nullable
		return out, nil
	}

	name, args := s, ""
	if i := strings.IndexByte(s, '<'); i >= 0 {
		if !strings.HasSuffix(s, ">") {
			return UnknownType, fmt.Errorf("unterminated type arguments in %q", s)
		}
		name, args = s[:i], s[i+1:len(s)-1]
	}
	var kind Kind
	found := false
	for k, n := range kindNames {
		if n == name && k != Unknown {
			kind, found = k, true
			break
		}
	}
	if !found {
		return UnknownType, fmt.Errorf("unknown type %q", name)
	}
	t := Type{Kind: kind, Nullable: kind == Null}
	if args == "" {
		return t, nil
	}
	for _, a := range splitTop(args, ',') {
		at, err := Parse(a)
		if err != nil {
			return UnknownType, err
		}
		t.Elem = append(t.Elem, at)
	}
	switch {
	case kind == List && len(t.Elem) != 1:
		return UnknownType, fmt.Errorf("list takes one type argument, got %d", len(t.Elem))
	case kind == Map && len(t.Elem) != 2:
		return UnknownType, fmt.Errorf("map takes two type arguments, got %d", len(t.Elem))
	case kind != List && kind != Map:
		return UnknownType, fmt.Errorf("type %q takes no arguments", name)
	}
	return t, nil
}

// MustParse is Parse for literal type strings.
func MustParse(s string) Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// splitTop splits s on sep, ignoring separators nested in angle brackets.
func splitTop(s string, sep byte) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
