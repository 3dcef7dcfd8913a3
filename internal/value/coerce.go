package value

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	serrors "github.com/conneroisu/sojourn/internal/errors"
)

// Box converts a Go value into a Value. Values (including providers) pass
// through unchanged.
func Box(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(x), nil
	case int8:
		return Int(x), nil
	case int16:
		return Int(x), nil
	case int32:
		return Int(x), nil
	case int64:
		return Int(x), nil
	case uint:
		return boxUint(uint64(x))
	case uint8:
		return Int(x), nil
	case uint16:
		return Int(x), nil
	case uint32:
		return Int(x), nil
	case uint64:
		return boxUint(x)
	case float32:
		return Float(x), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []Value:
		return NewList(x...), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			b, err := Box(item)
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			items[i] = b
		}
		return NewList(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for k, item := range x {
			b, err := Box(item)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = b
		}
		return NewRecord(fields), nil
	case map[string]Value:
		return NewRecord(x), nil
	}
	return boxReflect(reflect.ValueOf(v))
}

func boxUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, serrors.NewDataError(serrors.ErrCodeInvalidArgument,
			"unsigned value overflows int64").WithContext("value", u)
	}
	return Int(int64(u)), nil
}

func boxReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			b, err := Box(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			items[i] = b
		}
		return NewList(items...), nil
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			fields := make(map[string]Value, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				b, err := Box(iter.Value().Interface())
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", iter.Key().String(), err)
				}
				fields[iter.Key().String()] = b
			}
			return NewRecord(fields), nil
		}
		m := NewMap()
		iter := rv.MapRange()
		for iter.Next() {
			k, err := Box(iter.Key().Interface())
			if err != nil {
				return nil, err
			}
			item, err := Box(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			if !m.Set(k, item) {
				return nil, serrors.ErrCast("primitive map key", k.Kind().String())
			}
		}
		return m, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null, nil
		}
		return Box(rv.Elem().Interface())
	}
	return nil, serrors.NewDataError(serrors.ErrCodeInvalidArgument,
		"cannot box value of type "+rv.Type().String())
}

// MustBox is Box for values known to be boxable, such as literals in tests.
func MustBox(v any) Value {
	b, err := Box(v)
	if err != nil {
		panic(err)
	}
	return b
}

func kindName(v Value) string {
	if v == nil {
		return KindNull.String()
	}
	return v.Kind().String()
}

// UnboxInt extracts an int64.
func UnboxInt(v Value) (int64, error) {
	if i, ok := v.(Int); ok {
		return int64(i), nil
	}
	return 0, serrors.ErrCast(KindInt.String(), kindName(v))
}

// UnboxFloat extracts a float64. Ints widen.
func UnboxFloat(v Value) (float64, error) {
	switch x := v.(type) {
	case Float:
		return float64(x), nil
	case Int:
		return float64(x), nil
	}
	return 0, serrors.ErrCast(KindFloat.String(), kindName(v))
}

// UnboxBool extracts a bool.
func UnboxBool(v Value) (bool, error) {
	if b, ok := v.(Bool); ok {
		return bool(b), nil
	}
	return false, serrors.ErrCast(KindBool.String(), kindName(v))
}

// UnboxString extracts a string.
func UnboxString(v Value) (string, error) {
	if s, ok := v.(String); ok {
		return string(s), nil
	}
	return "", serrors.ErrCast(KindString.String(), kindName(v))
}

// Unbox extracts the Go primitive of the target kind, or the value itself
// for composite kinds after checking its tag.
func Unbox(v Value, target Kind) (any, error) {
	switch target {
	case KindInt:
		return UnboxInt(v)
	case KindFloat:
		return UnboxFloat(v)
	case KindBool:
		return UnboxBool(v)
	case KindString:
		return UnboxString(v)
	}
	if v == nil || v.Kind() != target {
		return nil, serrors.ErrCast(target.String(), kindName(v))
	}
	return v, nil
}

// Truthy implements coerceToBoolean.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		f := float64(x)
		return f != 0 && !math.IsNaN(f)
	case String:
		return x != ""
	case Sanitized:
		return x.Content != ""
	}
	return !IsNullish(v)
}

// ToFloat implements coerceToDouble: numbers and numeric strings.
func ToFloat(v Value) (float64, error) {
	switch x := v.(type) {
	case Int:
		return float64(x), nil
	case Float:
		return float64(x), nil
	case String:
		if f, ok := parseNumber(string(x)); ok {
			return f, nil
		}
	case Sanitized:
		if f, ok := parseNumber(x.Content); ok {
			return f, nil
		}
	}
	return 0, serrors.ErrCast(KindFloat.String(), kindName(v))
}

// ToString implements coerceToString.
func ToString(v Value) string {
	if v == nil {
		return "null"
	}
	return v.String()
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// FormatFloat renders a float the way JavaScript's Number#toString does,
// so 1.0 prints as "1" and 1e-7 as "1e-7".
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + string(sign) + digits
}

func stringish(v Value) (string, bool) {
	switch x := v.(type) {
	case String:
		return string(x), true
	case Sanitized:
		return x.Content, true
	}
	return "", false
}

// Equal implements template ==. Numbers compare numerically, a string
// compared with a number is parsed as a number, null and undefined equal
// each other only, and composite values compare by identity.
func Equal(a, b Value) bool {
	an, bn := IsNullish(a), IsNullish(b)
	if an || bn {
		return an && bn
	}

	if IsNumber(a) && IsNumber(b) {
		if ai, ok := a.(Int); ok {
			if bi, ok := b.(Int); ok {
				return ai == bi
			}
		}
		af, _ := UnboxFloat(a)
		bf, _ := UnboxFloat(b)
		return af == bf
	}

	as, aStr := stringish(a)
	bs, bStr := stringish(b)
	switch {
	case aStr && bStr:
		return as == bs
	case aStr && IsNumber(b):
		return numericStringEquals(as, b)
	case bStr && IsNumber(a):
		return numericStringEquals(bs, a)
	}

	switch x := a.(type) {
	case Bool:
		y, ok := b.(Bool)
		return ok && x == y
	case *List:
		y, ok := b.(*List)
		return ok && x == y
	case *Map:
		y, ok := b.(*Map)
		return ok && x == y
	case *Record:
		y, ok := b.(*Record)
		return ok && x == y
	}
	return a == b
}

func numericStringEquals(s string, n Value) bool {
	f, ok := parseNumber(s)
	if !ok {
		return false
	}
	nf, _ := UnboxFloat(n)
	return f == nf
}

// NotEqual implements template !=. Because Equal is false whenever NaN is
// involved, NaN != x is always true.
func NotEqual(a, b Value) bool {
	return !Equal(a, b)
}

func orderOperands(a, b Value) (float64, float64, string, string, bool, error) {
	as, aStr := stringish(a)
	bs, bStr := stringish(b)
	if aStr && bStr {
		return 0, 0, as, bs, true, nil
	}
	af, err := ToFloat(a)
	if err != nil {
		return 0, 0, "", "", false, err
	}
	bf, err := ToFloat(b)
	if err != nil {
		return 0, 0, "", "", false, err
	}
	return af, bf, "", "", false, nil
}

// Less implements template <. Any comparison involving NaN is false.
func Less(a, b Value) (bool, error) {
	if ai, ok := a.(Int); ok {
		if bi, ok := b.(Int); ok {
			return ai < bi, nil
		}
	}
	af, bf, as, bs, isStr, err := orderOperands(a, b)
	if err != nil {
		return false, err
	}
	if isStr {
		return as < bs, nil
	}
	return af < bf, nil
}

// LessEq implements template <=. Any comparison involving NaN is false.
func LessEq(a, b Value) (bool, error) {
	if ai, ok := a.(Int); ok {
		if bi, ok := b.(Int); ok {
			return ai <= bi, nil
		}
	}
	af, bf, as, bs, isStr, err := orderOperands(a, b)
	if err != nil {
		return false, err
	}
	if isStr {
		return as <= bs, nil
	}
	return af <= bf, nil
}
