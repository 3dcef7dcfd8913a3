package expr

import (
	"strconv"

	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

type (
	evalFn   func(*Env) (value.Value, error)
	intFn    func(*Env) (int64, error)
	floatFn  func(*Env) (float64, error)
	boolFn   func(*Env) (bool, error)
	stringFn func(*Env) (string, error)
)

// node is an expression under construction. eval is always set; the
// unboxed forms are set only where a direct implementation exists.
type node struct {
	typ  types.Type
	eval evalFn
	i    intFn
	f    floatFn
	b    boolFn
	s    stringFn
}

func (n *node) typed() bool {
	return n.i != nil || n.f != nil || n.b != nil || n.s != nil
}

func (n *node) asInt() intFn {
	if n.i != nil {
		return n.i
	}
	ev := n.eval
	return func(env *Env) (int64, error) {
		v, err := ev(env)
		if err != nil {
			return 0, err
		}
		return value.UnboxInt(v)
	}
}

func (n *node) asFloat() floatFn {
	if n.f != nil {
		return n.f
	}
	if n.i != nil {
		fi := n.i
		return func(env *Env) (float64, error) {
			i, err := fi(env)
			return float64(i), err
		}
	}
	ev := n.eval
	return func(env *Env) (float64, error) {
		v, err := ev(env)
		if err != nil {
			return 0, err
		}
		return value.UnboxFloat(v)
	}
}

func (n *node) asBool() boolFn {
	if n.b != nil {
		return n.b
	}
	ev := n.eval
	return func(env *Env) (bool, error) {
		v, err := ev(env)
		if err != nil {
			return false, err
		}
		return value.Truthy(v), nil
	}
}

func (n *node) asString() stringFn {
	switch {
	case n.s != nil:
		return n.s
	case n.i != nil:
		fi := n.i
		return func(env *Env) (string, error) {
			i, err := fi(env)
			return strconv.FormatInt(i, 10), err
		}
	case n.f != nil:
		ff := n.f
		return func(env *Env) (string, error) {
			f, err := ff(env)
			return value.FormatFloat(f), err
		}
	case n.b != nil:
		fb := n.b
		return func(env *Env) (string, error) {
			b, err := fb(env)
			return strconv.FormatBool(b), err
		}
	}
	ev := n.eval
	return func(env *Env) (string, error) {
		v, err := ev(env)
		if err != nil {
			return "", err
		}
		return value.ToString(v), nil
	}
}

func intNode(t types.Type, fn intFn) *node {
	return &node{typ: t, i: fn, eval: func(env *Env) (value.Value, error) {
		i, err := fn(env)
		if err != nil {
			return nil, err
		}
		return value.Int(i), nil
	}}
}

func floatNode(t types.Type, fn floatFn) *node {
	return &node{typ: t, f: fn, eval: func(env *Env) (value.Value, error) {
		f, err := fn(env)
		if err != nil {
			return nil, err
		}
		return value.Float(f), nil
	}}
}

func boolNode(t types.Type, fn boolFn) *node {
	return &node{typ: t, b: fn, eval: func(env *Env) (value.Value, error) {
		b, err := fn(env)
		if err != nil {
			return nil, err
		}
		return value.Bool(b), nil
	}}
}

func stringNode(t types.Type, fn stringFn) *node {
	return &node{typ: t, s: fn, eval: func(env *Env) (value.Value, error) {
		s, err := fn(env)
		if err != nil {
			return nil, err
		}
		return value.String(s), nil
	}}
}

// memoize wraps n so its result is recorded in cell slot and reused.
// The unboxed forms are dropped so every read goes through the cell.
func memoize(n *node, slot int) *node {
	inner := n.eval
	return &node{typ: n.typ, eval: func(env *Env) (value.Value, error) {
		c := &env.Cells[slot]
		if v, ok := c.Ref.(value.Value); ok {
			return v, nil
		}
		v, err := inner(env)
		if err != nil {
			return nil, err
		}
		c.Set(v)
		return v, nil
	}}
}

// Compiled is a compiled expression.
type Compiled struct {
	// Type is the static type.
	Type types.Type
	// MaySuspend reports whether evaluation can detach.
	MaySuspend bool

	root      *node
	evalInt   intFn
	evalFloat floatFn
	evalBool  boolFn
	evalStr   stringFn
	memoStart int
	memoWidth int
}

func newCompiled(t types.Type, root *node, maySuspend bool, memoStart, memoWidth int) *Compiled {
	return &Compiled{
		Type:       t,
		MaySuspend: maySuspend,
		root:       root,
		evalInt:    root.asInt(),
		evalFloat:  root.asFloat(),
		evalBool:   root.asBool(),
		evalStr:    root.asString(),
		memoStart:  memoStart,
		memoWidth:  memoWidth,
	}
}

// Eval returns the boxed result.
func (c *Compiled) Eval(env *Env) (value.Value, error) { return c.root.eval(env) }

// EvalInt returns the result as an int64; a non-int result is a cast
// error.
func (c *Compiled) EvalInt(env *Env) (int64, error) { return c.evalInt(env) }

// EvalFloat returns the result as a float64. Ints widen.
func (c *Compiled) EvalFloat(env *Env) (float64, error) { return c.evalFloat(env) }

// EvalBool returns the truthiness of the result.
func (c *Compiled) EvalBool(env *Env) (bool, error) { return c.evalBool(env) }

// EvalString returns the result coerced to a string.
func (c *Compiled) EvalString(env *Env) (string, error) { return c.evalStr(env) }

// Unboxed reports whether the expression has a direct unboxed evaluator.
func (c *Compiled) Unboxed() bool { return c.root.typed() }

// Memo returns the memo block, or width 0 when there is none.
func (c *Compiled) Memo() (start, width int) { return c.memoStart, c.memoWidth }

// ClearMemo resets the memo block so the next evaluation starts over.
func (c *Compiled) ClearMemo(cells []frame.Cell) {
	if c == nil || c.memoWidth == 0 {
		return
	}
	clear(cells[c.memoStart : c.memoStart+c.memoWidth])
}
