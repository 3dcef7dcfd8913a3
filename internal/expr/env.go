// Package expr compiles type-annotated expressions into closures over a
// render's cell array.
//
// Every compiled expression has a boxed evaluator. When the static type is
// a non-nullable primitive and no part of the expression can suspend, it
// also gets an unboxed evaluator that works on int64, float64, bool or
// string without allocating.
//
// Expressions that can suspend get a block of memo cells. Each suspendable
// node, and each non-suspendable subtree directly below one, records its
// result in its memo cell, so re-running the expression after a detach
// skips everything that already completed. The owner clears the block
// once the expression has produced its final value.
package expr

import (
	"github.com/conneroisu/sojourn/internal/analysis"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// Env is what a compiled expression reads at run time.
type Env struct {
	Cells    []frame.Cell
	Params   map[string]value.Value
	Injected map[string]value.Value
	Ctx      *render.Context
}

// LoopHelpers locates the state of a for-each loop: the element of the
// loop variable is the list cell's item at IndexSlot.
type LoopHelpers struct {
	IndexSlot  int
	LengthSlot int
}

// Binding describes where a local variable lives.
type Binding struct {
	Slot int
	Kind frame.SlotKind
	Type types.Type
	// Loop is set for for-each variables; Slot then holds the list.
	Loop *LoopHelpers
}

// Scope resolves local variable names at compile time.
type Scope interface {
	Lookup(name string) (Binding, bool)
}

// Settled lets an analyzer consult s. Only unboxed slots count as
// settled: they are written once the value has resolved, while thunks and
// for-each lists can still hold pending values.
func Settled(s Scope) analysis.Locals {
	if s == nil {
		return nil
	}
	return settledScope{s}
}

type settledScope struct{ Scope }

func (s settledScope) Settled(name string) bool {
	b, ok := s.Lookup(name)
	if !ok || b.Loop != nil {
		return false
	}
	switch b.Kind {
	case frame.KindInt, frame.KindFloat, frame.KindBool, frame.KindString:
		return true
	}
	return false
}

// MapScope is a flat Scope.
type MapScope map[string]Binding

// Lookup implements Scope.
func (m MapScope) Lookup(name string) (Binding, bool) {
	b, ok := m[name]
	return b, ok
}

// Resolve follows providers until it reaches a plain value. An unready
// provider yields a *render.Detached error.
func Resolve(v value.Value) (value.Value, error) {
	for {
		p, ok := v.(value.Provider)
		if !ok {
			if v == nil {
				return value.Null, nil
			}
			return v, nil
		}
		if !p.Ready() {
			return nil, &render.Detached{Pending: p}
		}
		r, err := p.Resolve()
		if err != nil {
			e := serrors.NewDataError(serrors.ErrCodeFutureFailed, "pending value failed")
			e.Cause = err
			return nil, e
		}
		v = r
	}
}

// IsDetached reports whether err signals a suspension, and returns it.
func IsDetached(err error) (*render.Detached, bool) {
	d, ok := err.(*render.Detached)
	return d, ok
}

// readBinding returns the boxed value of a local.
func readBinding(b Binding, env *Env) (value.Value, error) {
	c := &env.Cells[b.Slot]
	if b.Loop != nil {
		list, ok := c.Ref.(*value.List)
		if !ok {
			return value.Undefined, nil
		}
		return Resolve(list.At(int(env.Cells[b.Loop.IndexSlot].Int())))
	}
	switch b.Kind {
	case frame.KindInt:
		return value.Int(c.Int()), nil
	case frame.KindFloat:
		return value.Float(c.Float()), nil
	case frame.KindBool:
		return value.Bool(c.Bool()), nil
	case frame.KindString:
		return value.String(c.Str()), nil
	case frame.KindThunk:
		t, ok := c.Ref.(*Thunk)
		if !ok {
			return value.Undefined, nil
		}
		return t.Force(env)
	}
	if v, ok := c.Ref.(value.Value); ok {
		return v, nil
	}
	return value.Undefined, nil
}
