package expr

import (
	"fmt"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/value"
)

type capture struct {
	outer, local int
}

// ThunkCode is a compiled lazy let. Its expression runs against a private
// cell array holding copies of the captured locals plus its own memo
// cells.
type ThunkCode struct {
	code   *Compiled
	copies []capture
	size   int
	names  []string
}

// CompileThunk compiles e for deferred evaluation. Every free variable is
// captured once, however often e reads it.
func (c *Compiler) CompileThunk(e ast.Expr) (*ThunkCode, error) {
	caps := frame.NewCaptures()
	for _, name := range ast.VarRefs(e) {
		caps.Add(name)
	}

	alloc := frame.NewAllocator()
	local := MapScope{}
	tc := &ThunkCode{names: caps.Names()}
	for _, name := range caps.Names() {
		outer, ok := c.scope.Lookup(name)
		if !ok {
			return nil, serrors.NewCompileError(serrors.ErrCodeUnknownVariable,
				fmt.Sprintf("unknown variable $%s", name))
		}
		if outer.Loop != nil {
			base, err := alloc.AllocBlock(name, frame.KindValue, 3)
			if err != nil {
				return nil, err
			}
			tc.copies = append(tc.copies,
				capture{outer.Slot, base},
				capture{outer.Loop.IndexSlot, base + 1},
				capture{outer.Loop.LengthSlot, base + 2})
			local[name] = Binding{
				Slot: base,
				Kind: frame.KindValue,
				Type: outer.Type,
				Loop: &LoopHelpers{IndexSlot: base + 1, LengthSlot: base + 2},
			}
			continue
		}
		slot, err := alloc.Alloc(name, outer.Kind)
		if err != nil {
			return nil, err
		}
		tc.copies = append(tc.copies, capture{outer.Slot, slot})
		local[name] = Binding{Slot: slot, Kind: outer.Kind, Type: outer.Type}
	}

	code, err := NewCompiler(alloc, local, c.analyzer).Compile(e)
	if err != nil {
		return nil, err
	}
	tc.code = code
	tc.size = alloc.Size()
	return tc, nil
}

// Captured returns the captured variable names in capture order.
func (tc *ThunkCode) Captured() []string { return tc.names }

// New creates a thunk, copying the captured cells out of cells.
func (tc *ThunkCode) New(cells []frame.Cell) *Thunk {
	local := make([]frame.Cell, tc.size)
	for _, cp := range tc.copies {
		local[cp.local] = cells[cp.outer]
	}
	return &Thunk{code: tc.code, cells: local}
}

// Thunk is a lazily evaluated value. It evaluates at most once to
// completion; a detach while forcing keeps its memo cells for the retry.
type Thunk struct {
	code  *Compiled
	cells []frame.Cell
	done  bool
	val   value.Value
}

// Force evaluates the thunk on first use and returns the cached value
// afterwards.
func (t *Thunk) Force(env *Env) (value.Value, error) {
	if t.done {
		return t.val, nil
	}
	local := &Env{Cells: t.cells, Params: env.Params, Injected: env.Injected, Ctx: env.Ctx}
	v, err := t.code.Eval(local)
	if err != nil {
		return nil, err
	}
	t.done, t.val, t.cells = true, v, nil
	return v, nil
}

// Forced reports whether the thunk has been evaluated.
func (t *Thunk) Forced() bool { return t.done }
