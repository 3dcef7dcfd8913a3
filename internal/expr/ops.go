package expr

import (
	"math"

	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/value"
)

func isStringish(v value.Value) bool {
	switch v.(type) {
	case value.String, value.Sanitized:
		return true
	}
	return false
}

func bothInts(a, b value.Value) (value.Int, value.Int, bool) {
	ai, ok := a.(value.Int)
	if !ok {
		return 0, 0, false
	}
	bi, ok := b.(value.Int)
	return ai, bi, ok
}

func numbers(a, b value.Value) (float64, float64, error) {
	af, err := value.UnboxFloat(a)
	if err != nil {
		return 0, 0, err
	}
	bf, err := value.UnboxFloat(b)
	if err != nil {
		return 0, 0, err
	}
	return af, bf, nil
}

// add concatenates when either side is a string and adds numbers
// otherwise. int + int stays int.
func add(a, b value.Value) (value.Value, error) {
	if isStringish(a) || isStringish(b) {
		return value.String(value.ToString(a) + value.ToString(b)), nil
	}
	if ai, bi, ok := bothInts(a, b); ok {
		return ai + bi, nil
	}
	af, bf, err := numbers(a, b)
	if err != nil {
		return nil, err
	}
	return value.Float(af + bf), nil
}

func sub(a, b value.Value) (value.Value, error) {
	if ai, bi, ok := bothInts(a, b); ok {
		return ai - bi, nil
	}
	af, bf, err := numbers(a, b)
	if err != nil {
		return nil, err
	}
	return value.Float(af - bf), nil
}

func mul(a, b value.Value) (value.Value, error) {
	if ai, bi, ok := bothInts(a, b); ok {
		return ai * bi, nil
	}
	af, bf, err := numbers(a, b)
	if err != nil {
		return nil, err
	}
	return value.Float(af * bf), nil
}

// div is always float division.
func div(a, b value.Value) (value.Value, error) {
	af, bf, err := numbers(a, b)
	if err != nil {
		return nil, err
	}
	return value.Float(af / bf), nil
}

func modInt(a, b int64) (int64, error) {
	if b == 0 {
		return 0, serrors.NewArgumentError(serrors.ErrCodeInvalidArgument, "modulo by zero").
			WithContext("dividend", a)
	}
	if b == -1 {
		return 0, nil
	}
	return a % b, nil
}

func mod(a, b value.Value) (value.Value, error) {
	if ai, bi, ok := bothInts(a, b); ok {
		r, err := modInt(int64(ai), int64(bi))
		return value.Int(r), err
	}
	af, bf, err := numbers(a, b)
	if err != nil {
		return nil, err
	}
	return value.Float(math.Mod(af, bf)), nil
}

func neg(a value.Value) (value.Value, error) {
	switch x := a.(type) {
	case value.Int:
		return -x, nil
	case value.Float:
		return -x, nil
	}
	return nil, serrors.ErrCast("number", a.Kind().String())
}
