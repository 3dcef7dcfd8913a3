package expr

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

type builtin struct {
	minArgs, maxArgs int
	fn               func(env *Env, args []value.Value) (value.Value, error)
}

var builtins = map[string]builtin{
	"length":       {1, 1, fnLength},
	"keys":         {1, 1, fnKeys},
	"round":        {1, 2, fnRound},
	"floor":        {1, 1, fnFloor},
	"ceil":         {1, 1, fnCeil},
	"min":          {2, 2, fnMin},
	"max":          {2, 2, fnMax},
	"isNonnull":    {1, 1, fnIsNonnull},
	"checkNotNull": {1, 1, fnCheckNotNull},
	"concatLists":  {1, math.MaxInt, fnConcatLists},
	"join":         {2, 2, fnJoin},
	"strContains":  {2, 2, fnStrContains},
	"strIndexOf":   {2, 2, fnStrIndexOf},
	"strSub":       {2, 3, fnStrSub},
	"strLen":       {1, 1, fnStrLen},
	"css":          {1, 2, fnCSS},
	"xid":          {1, 1, fnXID},
}

// Builtins returns the names of the builtin functions, loop helpers
// included.
func Builtins() []string {
	names := make([]string, 0, len(builtins)+3)
	for n := range builtins {
		names = append(names, n)
	}
	return append(names, "isFirst", "isLast", "index")
}

func (b *builder) funcCall(x *ast.FuncCall, may bool) (*node, error) {
	switch x.Name {
	case "isFirst", "isLast", "index":
		return b.loopHelper(x)
	}

	fn, ok := builtins[x.Name]
	if !ok {
		return nil, serrors.NewCompileError(serrors.ErrCodeUnknownFunction,
			fmt.Sprintf("unknown function %s()", x.Name))
	}
	if len(x.Args) < fn.minArgs || len(x.Args) > fn.maxArgs {
		return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument,
			fmt.Sprintf("%s() called with %d arguments", x.Name, len(x.Args)))
	}
	args, err := b.compileAll(x.Args, may)
	if err != nil {
		return nil, err
	}
	call := fn.fn
	name := x.Name
	return &node{typ: x.Type(), eval: func(env *Env) (value.Value, error) {
		vs, err := evalAll(env, args)
		if err != nil {
			return nil, err
		}
		v, err := call(env, vs)
		if err != nil {
			if _, ok := IsDetached(err); ok {
				return nil, err
			}
			var se *serrors.SojournError
			if errors.As(err, &se) {
				return nil, se.WithContext("function", name)
			}
			return nil, err
		}
		return v, nil
	}}, nil
}

// loopHelper compiles isFirst, isLast and index. They read the loop's
// index and length cells and never the loop variable itself, so they
// cannot suspend on a pending element.
func (b *builder) loopHelper(x *ast.FuncCall) (*node, error) {
	if len(x.Args) != 1 {
		return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument,
			fmt.Sprintf("%s() takes one loop variable", x.Name))
	}
	ref, ok := x.Args[0].(*ast.VarRef)
	if !ok {
		return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument,
			fmt.Sprintf("%s() argument %s is not a loop variable", x.Name, describe(x.Args[0])))
	}
	bind, ok := b.scope.Lookup(ref.Name)
	if !ok || bind.Loop == nil {
		return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument,
			fmt.Sprintf("%s() argument $%s is not a for-each variable", x.Name, ref.Name))
	}
	idx, length := bind.Loop.IndexSlot, bind.Loop.LengthSlot
	switch x.Name {
	case "isFirst":
		return boolNode(types.BoolType, func(env *Env) (bool, error) {
			return env.Cells[idx].Int() == 0, nil
		}), nil
	case "isLast":
		return boolNode(types.BoolType, func(env *Env) (bool, error) {
			return env.Cells[idx].Int() == env.Cells[length].Int()-1, nil
		}), nil
	default:
		return intNode(types.IntType, func(env *Env) (int64, error) {
			return env.Cells[idx].Int(), nil
		}), nil
	}
}

func fnLength(_ *Env, args []value.Value) (value.Value, error) {
	switch x := args[0].(type) {
	case *value.List:
		return value.Int(x.Len()), nil
	case *value.Map:
		return value.Int(x.Len()), nil
	}
	return nil, serrors.ErrCast(value.KindList.String(), args[0].Kind().String())
}

func fnKeys(_ *Env, args []value.Value) (value.Value, error) {
	switch x := args[0].(type) {
	case *value.Map:
		return value.NewList(x.Keys()...), nil
	case *value.Record:
		names := x.Names()
		items := make([]value.Value, len(names))
		for i, n := range names {
			items[i] = value.String(n)
		}
		return value.NewList(items...), nil
	}
	return nil, serrors.ErrCast(value.KindMap.String(), args[0].Kind().String())
}

// jsRound rounds half up, matching Math.round.
func jsRound(f float64) float64 {
	return math.Floor(f + 0.5)
}

func fnRound(_ *Env, args []value.Value) (value.Value, error) {
	if i, ok := args[0].(value.Int); ok && len(args) == 1 {
		return i, nil
	}
	f, err := value.UnboxFloat(args[0])
	if err != nil {
		return nil, err
	}
	digits := int64(0)
	if len(args) == 2 {
		if digits, err = value.UnboxInt(args[1]); err != nil {
			return nil, err
		}
	}
	if digits <= 0 {
		scale := math.Pow(10, float64(-digits))
		return value.Int(int64(jsRound(f/scale) * scale)), nil
	}
	scale := math.Pow(10, float64(digits))
	return value.Float(jsRound(f*scale) / scale), nil
}

func fnFloor(_ *Env, args []value.Value) (value.Value, error) {
	if i, ok := args[0].(value.Int); ok {
		return i, nil
	}
	f, err := value.UnboxFloat(args[0])
	if err != nil {
		return nil, err
	}
	return value.Int(int64(math.Floor(f))), nil
}

func fnCeil(_ *Env, args []value.Value) (value.Value, error) {
	if i, ok := args[0].(value.Int); ok {
		return i, nil
	}
	f, err := value.UnboxFloat(args[0])
	if err != nil {
		return nil, err
	}
	return value.Int(int64(math.Ceil(f))), nil
}

func fnMin(_ *Env, args []value.Value) (value.Value, error) {
	if a, b, ok := bothInts(args[0], args[1]); ok {
		return min(a, b), nil
	}
	a, b, err := numbers(args[0], args[1])
	if err != nil {
		return nil, err
	}
	return value.Float(math.Min(a, b)), nil
}

func fnMax(_ *Env, args []value.Value) (value.Value, error) {
	if a, b, ok := bothInts(args[0], args[1]); ok {
		return max(a, b), nil
	}
	a, b, err := numbers(args[0], args[1])
	if err != nil {
		return nil, err
	}
	return value.Float(math.Max(a, b)), nil
}

func fnIsNonnull(_ *Env, args []value.Value) (value.Value, error) {
	return value.Bool(!value.IsNullish(args[0])), nil
}

func fnCheckNotNull(_ *Env, args []value.Value) (value.Value, error) {
	if value.IsNullish(args[0]) {
		return nil, serrors.NewDataError(serrors.ErrCodeNullDereference, "checkNotNull received null")
	}
	return args[0], nil
}

func fnConcatLists(_ *Env, args []value.Value) (value.Value, error) {
	var items []value.Value
	for _, a := range args {
		l, ok := a.(*value.List)
		if !ok {
			return nil, serrors.ErrCast(value.KindList.String(), a.Kind().String())
		}
		items = append(items, l.Items()...)
	}
	return value.NewList(items...), nil
}

func fnJoin(_ *Env, args []value.Value) (value.Value, error) {
	l, ok := args[0].(*value.List)
	if !ok {
		return nil, serrors.ErrCast(value.KindList.String(), args[0].Kind().String())
	}
	sep := value.ToString(args[1])
	parts := make([]string, l.Len())
	for i := range parts {
		item, err := Resolve(l.At(i))
		if err != nil {
			return nil, err
		}
		parts[i] = value.ToString(item)
	}
	return value.String(strings.Join(parts, sep)), nil
}

func fnStrContains(_ *Env, args []value.Value) (value.Value, error) {
	return value.Bool(strings.Contains(value.ToString(args[0]), value.ToString(args[1]))), nil
}

func fnStrIndexOf(_ *Env, args []value.Value) (value.Value, error) {
	s := value.ToString(args[0])
	i := strings.Index(s, value.ToString(args[1]))
	if i < 0 {
		return value.Int(-1), nil
	}
	return value.Int(utf8.RuneCountInString(s[:i])), nil
}

func fnStrSub(_ *Env, args []value.Value) (value.Value, error) {
	runes := []rune(value.ToString(args[0]))
	start, err := value.UnboxInt(args[1])
	if err != nil {
		return nil, err
	}
	end := int64(len(runes))
	if len(args) == 3 {
		if end, err = value.UnboxInt(args[2]); err != nil {
			return nil, err
		}
	}
	start = max(0, min(start, int64(len(runes))))
	end = max(start, min(end, int64(len(runes))))
	return value.String(string(runes[start:end])), nil
}

func fnStrLen(_ *Env, args []value.Value) (value.Value, error) {
	return value.Int(utf8.RuneCountInString(value.ToString(args[0]))), nil
}

func fnCSS(env *Env, args []value.Value) (value.Value, error) {
	if len(args) == 2 {
		base := value.ToString(args[0])
		return value.String(base + "-" + env.Ctx.RenameCSS(value.ToString(args[1]))), nil
	}
	return value.String(env.Ctx.RenameCSS(value.ToString(args[0]))), nil
}

func fnXID(env *Env, args []value.Value) (value.Value, error) {
	return value.String(env.Ctx.RenameXID(value.ToString(args[0]))), nil
}
