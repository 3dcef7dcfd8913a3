package expr

import (
	"fmt"
	"strings"

	"github.com/conneroisu/sojourn/internal/analysis"
	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// Compiler lowers expressions against one scope and allocator.
type Compiler struct {
	alloc    *frame.Allocator
	scope    Scope
	analyzer analysis.Analyzer
}

// NewCompiler returns a compiler allocating memo cells from alloc.
func NewCompiler(alloc *frame.Allocator, scope Scope, a analysis.Analyzer) *Compiler {
	if a == nil {
		a = analysis.Conservative{}
	}
	return &Compiler{alloc: alloc, scope: scope, analyzer: a}
}

// Compile lowers e. Memo cells, if any, are allocated in the allocator's
// current scope.
func (c *Compiler) Compile(e ast.Expr) (*Compiled, error) {
	if e == nil {
		return nil, serrors.NewInternalError(serrors.ErrCodeInternalError, "nil expression", nil)
	}
	may := c.analyzer.ExprMaySuspend(e, Settled(c.scope))
	width := c.countMemo(e, false)
	start := 0
	if width > 0 {
		var err error
		if start, err = c.alloc.AllocBlock("", frame.KindMemo, width); err != nil {
			return nil, err
		}
	}
	b := &builder{Compiler: c, next: start}
	root, err := b.compile(e, false)
	if err != nil {
		return nil, err
	}
	return newCompiled(e.Type(), root, may, start, width), nil
}

func (c *Compiler) countMemo(e ast.Expr, underSuspendable bool) int {
	may := c.analyzer.ExprMaySuspend(e, Settled(c.scope))
	if !may {
		if underSuspendable {
			return 1
		}
		return 0
	}
	n := 1
	for _, child := range ast.Children(e) {
		if child != nil {
			n += c.countMemo(child, true)
		}
	}
	return n
}

type builder struct {
	*Compiler
	next int
}

func (b *builder) compile(e ast.Expr, underSuspendable bool) (*node, error) {
	may := b.analyzer.ExprMaySuspend(e, Settled(b.scope))
	memo := may || underSuspendable
	n, err := b.lower(e, may)
	if err != nil {
		return nil, err
	}
	if memo {
		slot := b.next
		b.next++
		n = memoize(n, slot)
	}
	return n, nil
}

func (b *builder) lower(e ast.Expr, may bool) (*node, error) {
	sub := func(x ast.Expr) (*node, error) { return b.compile(x, may) }

	switch x := e.(type) {
	case *ast.Literal:
		return literal(x), nil
	case *ast.ParamRef:
		return paramRef(x), nil
	case *ast.VarRef:
		bind, ok := b.scope.Lookup(x.Name)
		if !ok {
			return nil, serrors.NewCompileError(serrors.ErrCodeUnknownVariable,
				fmt.Sprintf("unknown variable $%s", x.Name))
		}
		return varRef(x.Type(), bind), nil
	case *ast.Unary:
		operand, err := sub(x.X)
		if err != nil {
			return nil, err
		}
		return unary(x, operand)
	case *ast.Binary:
		l, err := sub(x.X)
		if err != nil {
			return nil, err
		}
		r, err := sub(x.Y)
		if err != nil {
			return nil, err
		}
		return binary(x, l, r)
	case *ast.Ternary:
		cond, err := sub(x.Cond)
		if err != nil {
			return nil, err
		}
		then, err := sub(x.Then)
		if err != nil {
			return nil, err
		}
		els, err := sub(x.Else)
		if err != nil {
			return nil, err
		}
		return ternary(x.Type(), cond, then, els), nil
	case *ast.FieldAccess:
		base, err := sub(x.X)
		if err != nil {
			return nil, err
		}
		return fieldAccess(x, base), nil
	case *ast.ItemAccess:
		base, err := sub(x.X)
		if err != nil {
			return nil, err
		}
		key, err := sub(x.Key)
		if err != nil {
			return nil, err
		}
		return itemAccess(x, base, key), nil
	case *ast.ListLit:
		items, err := b.compileAll(x.Items, may)
		if err != nil {
			return nil, err
		}
		return listLit(x.Type(), items), nil
	case *ast.MapLit:
		if len(x.Keys) != len(x.Values) {
			return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument, "map literal keys and values differ in length")
		}
		keys, err := b.compileAll(x.Keys, may)
		if err != nil {
			return nil, err
		}
		vals, err := b.compileAll(x.Values, may)
		if err != nil {
			return nil, err
		}
		return mapLit(x.Type(), keys, vals), nil
	case *ast.RecordLit:
		if len(x.Names) != len(x.Values) {
			return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument, "record literal names and values differ in length")
		}
		vals, err := b.compileAll(x.Values, may)
		if err != nil {
			return nil, err
		}
		return recordLit(x.Type(), x.Names, vals), nil
	case *ast.FuncCall:
		return b.funcCall(x, may)
	}
	return nil, serrors.NewCompileError(serrors.ErrCodeInvalidTemplate,
		fmt.Sprintf("unsupported expression %T", e))
}

// compileAll compiles children in order. Memo slots are handed out in the
// same order countMemo counted them.
func (b *builder) compileAll(es []ast.Expr, may bool) ([]*node, error) {
	out := make([]*node, len(es))
	for i, e := range es {
		n, err := b.compile(e, may)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func literal(x *ast.Literal) *node {
	v := x.Value
	if v == nil {
		v = value.Null
	}
	switch lv := v.(type) {
	case value.Int:
		i := int64(lv)
		return intNode(x.Type(), func(*Env) (int64, error) { return i, nil })
	case value.Float:
		f := float64(lv)
		return floatNode(x.Type(), func(*Env) (float64, error) { return f, nil })
	case value.Bool:
		bv := bool(lv)
		return boolNode(x.Type(), func(*Env) (bool, error) { return bv, nil })
	case value.String:
		s := string(lv)
		return stringNode(x.Type(), func(*Env) (string, error) { return s, nil })
	}
	return &node{typ: x.Type(), eval: func(*Env) (value.Value, error) { return v, nil }}
}

func paramRef(x *ast.ParamRef) *node {
	name, injected := x.Name, x.Injected
	return &node{typ: x.Type(), eval: func(env *Env) (value.Value, error) {
		m := env.Params
		if injected {
			m = env.Injected
		}
		v, ok := m[name]
		if !ok {
			return value.Undefined, nil
		}
		return Resolve(v)
	}}
}

func varRef(t types.Type, bind Binding) *node {
	slot := bind.Slot
	if bind.Loop == nil {
		switch bind.Kind {
		case frame.KindInt:
			return intNode(t, func(env *Env) (int64, error) { return env.Cells[slot].Int(), nil })
		case frame.KindFloat:
			return floatNode(t, func(env *Env) (float64, error) { return env.Cells[slot].Float(), nil })
		case frame.KindBool:
			return boolNode(t, func(env *Env) (bool, error) { return env.Cells[slot].Bool(), nil })
		case frame.KindString:
			return stringNode(t, func(env *Env) (string, error) { return env.Cells[slot].Str(), nil })
		}
	}
	return &node{typ: t, eval: func(env *Env) (value.Value, error) { return readBinding(bind, env) }}
}

func isInt(t types.Type) bool   { return !t.Nullable && t.Kind == types.Int }
func isFloat(t types.Type) bool { return !t.Nullable && t.Kind == types.Float }
func isNum(t types.Type) bool   { return isInt(t) || isFloat(t) }
func isStr(t types.Type) bool   { return !t.Nullable && t.Kind == types.String }

func unary(x *ast.Unary, operand *node) (*node, error) {
	switch x.Op {
	case ast.OpNot:
		fb := operand.asBool()
		return boolNode(x.Type(), func(env *Env) (bool, error) {
			v, err := fb(env)
			return !v, err
		}), nil
	case ast.OpNeg:
		switch {
		case isInt(operand.typ):
			fi := operand.asInt()
			return intNode(x.Type(), func(env *Env) (int64, error) {
				i, err := fi(env)
				return -i, err
			}), nil
		case isFloat(operand.typ):
			ff := operand.asFloat()
			return floatNode(x.Type(), func(env *Env) (float64, error) {
				f, err := ff(env)
				return -f, err
			}), nil
		}
		ev := operand.eval
		return &node{typ: x.Type(), eval: func(env *Env) (value.Value, error) {
			v, err := ev(env)
			if err != nil {
				return nil, err
			}
			return neg(v)
		}}, nil
	}
	return nil, serrors.NewCompileError(serrors.ErrCodeInvalidTemplate,
		fmt.Sprintf("unknown unary operator %q", x.Op))
}

func boxedBinary(t types.Type, l, r *node, op func(a, b value.Value) (value.Value, error)) *node {
	le, re := l.eval, r.eval
	return &node{typ: t, eval: func(env *Env) (value.Value, error) {
		a, err := le(env)
		if err != nil {
			return nil, err
		}
		b, err := re(env)
		if err != nil {
			return nil, err
		}
		return op(a, b)
	}}
}

func intBinary(t types.Type, l, r *node, op func(a, b int64) (int64, error)) *node {
	li, ri := l.asInt(), r.asInt()
	return intNode(t, func(env *Env) (int64, error) {
		a, err := li(env)
		if err != nil {
			return 0, err
		}
		b, err := ri(env)
		if err != nil {
			return 0, err
		}
		return op(a, b)
	})
}

func floatBinary(t types.Type, l, r *node, op func(a, b float64) float64) *node {
	lf, rf := l.asFloat(), r.asFloat()
	return floatNode(t, func(env *Env) (float64, error) {
		a, err := lf(env)
		if err != nil {
			return 0, err
		}
		b, err := rf(env)
		if err != nil {
			return 0, err
		}
		return op(a, b), nil
	})
}

func binary(x *ast.Binary, l, r *node) (*node, error) {
	t := x.Type()
	lt, rt := l.typ, r.typ
	bothInt := isInt(lt) && isInt(rt)
	bothNum := isNum(lt) && isNum(rt)

	switch x.Op {
	case ast.OpAnd, ast.OpOr:
		lb, rb := l.asBool(), r.asBool()
		and := x.Op == ast.OpAnd
		return boolNode(t, func(env *Env) (bool, error) {
			a, err := lb(env)
			if err != nil {
				return false, err
			}
			if a != and {
				return a, nil
			}
			return rb(env)
		}), nil

	case ast.OpNullCoal:
		le, re := l.eval, r.eval
		return &node{typ: t, eval: func(env *Env) (value.Value, error) {
			a, err := le(env)
			if err != nil {
				return nil, err
			}
			if !value.IsNullish(a) {
				return a, nil
			}
			return re(env)
		}}, nil

	case ast.OpAdd:
		switch {
		case bothInt:
			return intBinary(t, l, r, func(a, b int64) (int64, error) { return a + b, nil }), nil
		case bothNum:
			return floatBinary(t, l, r, func(a, b float64) float64 { return a + b }), nil
		case isStr(lt) || isStr(rt):
			ls, rs := l.asString(), r.asString()
			return stringNode(t, func(env *Env) (string, error) {
				a, err := ls(env)
				if err != nil {
					return "", err
				}
				b, err := rs(env)
				if err != nil {
					return "", err
				}
				return a + b, nil
			}), nil
		}
		return boxedBinary(t, l, r, add), nil

	case ast.OpSub:
		switch {
		case bothInt:
			return intBinary(t, l, r, func(a, b int64) (int64, error) { return a - b, nil }), nil
		case bothNum:
			return floatBinary(t, l, r, func(a, b float64) float64 { return a - b }), nil
		}
		return boxedBinary(t, l, r, sub), nil

	case ast.OpMul:
		switch {
		case bothInt:
			return intBinary(t, l, r, func(a, b int64) (int64, error) { return a * b, nil }), nil
		case bothNum:
			return floatBinary(t, l, r, func(a, b float64) float64 { return a * b }), nil
		}
		return boxedBinary(t, l, r, mul), nil

	case ast.OpDiv:
		if bothNum {
			return floatBinary(t, l, r, func(a, b float64) float64 { return a / b }), nil
		}
		return boxedBinary(t, l, r, div), nil

	case ast.OpMod:
		if bothInt {
			return intBinary(t, l, r, modInt), nil
		}
		return boxedBinary(t, l, r, mod), nil

	case ast.OpEq, ast.OpNotEq, ast.OpLess, ast.OpLessEq, ast.OpGreater, ast.OpGreaterEq:
		return comparison(x.Op, t, l, r), nil
	}
	return nil, serrors.NewCompileError(serrors.ErrCodeInvalidTemplate,
		fmt.Sprintf("unknown binary operator %q", x.Op))
}

func comparison(op ast.Operator, t types.Type, l, r *node) *node {
	lt, rt := l.typ, r.typ
	switch {
	case isInt(lt) && isInt(rt):
		li, ri := l.asInt(), r.asInt()
		cmp := intComparator(op)
		return boolNode(t, func(env *Env) (bool, error) {
			a, err := li(env)
			if err != nil {
				return false, err
			}
			b, err := ri(env)
			if err != nil {
				return false, err
			}
			return cmp(a, b), nil
		})
	case isNum(lt) && isNum(rt):
		lf, rf := l.asFloat(), r.asFloat()
		cmp := floatComparator(op)
		return boolNode(t, func(env *Env) (bool, error) {
			a, err := lf(env)
			if err != nil {
				return false, err
			}
			b, err := rf(env)
			if err != nil {
				return false, err
			}
			return cmp(a, b), nil
		})
	case isStr(lt) && isStr(rt):
		ls, rs := l.asString(), r.asString()
		cmp := stringComparator(op)
		return boolNode(t, func(env *Env) (bool, error) {
			a, err := ls(env)
			if err != nil {
				return false, err
			}
			b, err := rs(env)
			if err != nil {
				return false, err
			}
			return cmp(a, b), nil
		})
	}

	le, re := l.eval, r.eval
	return boolNode(t, func(env *Env) (bool, error) {
		a, err := le(env)
		if err != nil {
			return false, err
		}
		b, err := re(env)
		if err != nil {
			return false, err
		}
		switch op {
		case ast.OpEq:
			return value.Equal(a, b), nil
		case ast.OpNotEq:
			return value.NotEqual(a, b), nil
		case ast.OpLess:
			return value.Less(a, b)
		case ast.OpLessEq:
			return value.LessEq(a, b)
		case ast.OpGreater:
			return value.Less(b, a)
		default:
			return value.LessEq(b, a)
		}
	})
}

func intComparator(op ast.Operator) func(a, b int64) bool {
	switch op {
	case ast.OpEq:
		return func(a, b int64) bool { return a == b }
	case ast.OpNotEq:
		return func(a, b int64) bool { return a != b }
	case ast.OpLess:
		return func(a, b int64) bool { return a < b }
	case ast.OpLessEq:
		return func(a, b int64) bool { return a <= b }
	case ast.OpGreater:
		return func(a, b int64) bool { return a > b }
	default:
		return func(a, b int64) bool { return a >= b }
	}
}

// floatComparator relies on IEEE semantics: every comparison with NaN is
// false except !=.
func floatComparator(op ast.Operator) func(a, b float64) bool {
	switch op {
	case ast.OpEq:
		return func(a, b float64) bool { return a == b }
	case ast.OpNotEq:
		return func(a, b float64) bool { return a != b }
	case ast.OpLess:
		return func(a, b float64) bool { return a < b }
	case ast.OpLessEq:
		return func(a, b float64) bool { return a <= b }
	case ast.OpGreater:
		return func(a, b float64) bool { return a > b }
	default:
		return func(a, b float64) bool { return a >= b }
	}
}

func stringComparator(op ast.Operator) func(a, b string) bool {
	switch op {
	case ast.OpEq:
		return func(a, b string) bool { return a == b }
	case ast.OpNotEq:
		return func(a, b string) bool { return a != b }
	case ast.OpLess:
		return func(a, b string) bool { return a < b }
	case ast.OpLessEq:
		return func(a, b string) bool { return a <= b }
	case ast.OpGreater:
		return func(a, b string) bool { return a > b }
	default:
		return func(a, b string) bool { return a >= b }
	}
}

func ternary(t types.Type, cond, then, els *node) *node {
	cb := cond.asBool()
	switch {
	case then.i != nil && els.i != nil:
		ti, ei := then.i, els.i
		return intNode(t, func(env *Env) (int64, error) {
			c, err := cb(env)
			if err != nil {
				return 0, err
			}
			if c {
				return ti(env)
			}
			return ei(env)
		})
	case then.s != nil && els.s != nil:
		ts, es := then.s, els.s
		return stringNode(t, func(env *Env) (string, error) {
			c, err := cb(env)
			if err != nil {
				return "", err
			}
			if c {
				return ts(env)
			}
			return es(env)
		})
	}
	te, ee := then.eval, els.eval
	return &node{typ: t, eval: func(env *Env) (value.Value, error) {
		c, err := cb(env)
		if err != nil {
			return nil, err
		}
		if c {
			return te(env)
		}
		return ee(env)
	}}
}

func nullDeref(what string) error {
	return serrors.NewDataError(serrors.ErrCodeNullDereference,
		"cannot read "+what+" of null")
}

func fieldAccess(x *ast.FieldAccess, base *node) *node {
	field, nullSafe := x.Field, x.NullSafe
	be := base.eval
	return &node{typ: x.Type(), eval: func(env *Env) (value.Value, error) {
		v, err := be(env)
		if err != nil {
			return nil, err
		}
		if value.IsNullish(v) {
			if nullSafe {
				return value.Null, nil
			}
			return nil, nullDeref(fmt.Sprintf("field %q", field))
		}
		switch c := v.(type) {
		case *value.Record:
			f, ok := c.Get(field)
			if !ok {
				return value.Undefined, nil
			}
			return Resolve(f)
		case *value.Map:
			f, ok := c.Get(value.String(field))
			if !ok {
				return value.Undefined, nil
			}
			return Resolve(f)
		}
		return nil, serrors.ErrCast(value.KindRecord.String(), v.Kind().String()).
			WithContext("field", field)
	}}
}

func itemAccess(x *ast.ItemAccess, base, key *node) *node {
	nullSafe := x.NullSafe
	be, ke := base.eval, key.eval
	return &node{typ: x.Type(), eval: func(env *Env) (value.Value, error) {
		v, err := be(env)
		if err != nil {
			return nil, err
		}
		if value.IsNullish(v) {
			if nullSafe {
				return value.Null, nil
			}
			return nil, nullDeref("item")
		}
		k, err := ke(env)
		if err != nil {
			return nil, err
		}
		switch c := v.(type) {
		case *value.List:
			idx, err := listIndex(k)
			if err != nil {
				return nil, err
			}
			return Resolve(c.At(idx))
		case *value.Map:
			item, ok := c.Get(k)
			if !ok {
				return value.Undefined, nil
			}
			return Resolve(item)
		case *value.Record:
			name, err := value.UnboxString(k)
			if err != nil {
				return nil, err
			}
			item, ok := c.Get(name)
			if !ok {
				return value.Undefined, nil
			}
			return Resolve(item)
		}
		return nil, serrors.ErrCast("list or map", v.Kind().String())
	}}
}

func listIndex(k value.Value) (int, error) {
	switch x := k.(type) {
	case value.Int:
		return int(x), nil
	case value.Float:
		f := float64(x)
		if f == float64(int64(f)) {
			return int(f), nil
		}
	}
	return 0, serrors.ErrCast(value.KindInt.String(), k.Kind().String())
}

func evalAll(env *Env, ns []*node) ([]value.Value, error) {
	out := make([]value.Value, len(ns))
	for i, n := range ns {
		v, err := n.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func listLit(t types.Type, items []*node) *node {
	return &node{typ: t, eval: func(env *Env) (value.Value, error) {
		vs, err := evalAll(env, items)
		if err != nil {
			return nil, err
		}
		return value.NewList(vs...), nil
	}}
}

func mapLit(t types.Type, keys, vals []*node) *node {
	return &node{typ: t, eval: func(env *Env) (value.Value, error) {
		m := value.NewMap()
		for i := range keys {
			k, err := keys[i].eval(env)
			if err != nil {
				return nil, err
			}
			v, err := vals[i].eval(env)
			if err != nil {
				return nil, err
			}
			if !m.Set(k, v) {
				return nil, serrors.ErrCast("primitive map key", k.Kind().String())
			}
		}
		return m, nil
	}}
}

func recordLit(t types.Type, names []string, vals []*node) *node {
	return &node{typ: t, eval: func(env *Env) (value.Value, error) {
		fields := make(map[string]value.Value, len(names))
		for i, name := range names {
			v, err := vals[i].eval(env)
			if err != nil {
				return nil, err
			}
			fields[name] = v
		}
		return value.NewRecord(fields), nil
	}}
}

// describe renders an expression for error messages.
func describe(e ast.Expr) string {
	switch x := e.(type) {
	case *ast.VarRef:
		return "$" + x.Name
	case *ast.ParamRef:
		return "$" + x.Name
	case *ast.FuncCall:
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = describe(a)
		}
		return x.Name + "(" + strings.Join(args, ", ") + ")"
	}
	return fmt.Sprintf("%T", e)
}
