package compiler

import (
	"errors"
	"math"

	"github.com/conneroisu/sojourn/internal/directives"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/expr"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/value"
)

// errLimited stops the machine at a safe point because the sink asked for
// backpressure.
var errLimited = errors.New("sink soft limit reached")

type status uint8

const (
	statusReady status = iota
	statusSuspended
	statusDone
	statusFailed
	statusAbandoned
)

// Renderer is the render state of one template invocation. It is not safe
// for concurrent use; independent renderers may run on different
// goroutines.
type Renderer struct {
	tmpl   *Template
	env    expr.Env
	data   map[string]value.Value
	sink   output.Sink
	rc     *render.Context
	linker Linker

	cells  []frame.Cell
	frame  *frame.StackFrame
	status status
	err    error
}

// Template returns the template being rendered.
func (r *Renderer) Template() *Template { return r.tmpl }

// Frame returns the saved frame while suspended, or nil.
func (r *Renderer) Frame() *frame.StackFrame { return r.frame }

// Render runs until the template completes, a pending value is met, or the
// sink asks for backpressure at a safe point. Output written before a
// suspension is never written again. Calling Render while the pending
// value is still unresolved returns the same result without progress.
//
// After a fatal error every call returns that error.
func (r *Renderer) Render() (render.Result, error) {
	switch r.status {
	case statusDone:
		return render.Done(), nil
	case statusFailed:
		return render.Done(), r.err
	case statusAbandoned:
		return render.Done(), serrors.ErrAbandoned(r.tmpl.name)
	}

	pc, resumed := 0, -1
	r.cells = r.tmpl.pool.Get(r.tmpl.size)
	if r.frame != nil {
		pc = r.frame.State
		resumed = pc
		r.frame.Restore(r.cells, r.tmpl.prog[pc].site.slots)
		r.frame = nil
		if r.rc != nil && r.rc.DebugInfo {
			r.rc.Log().Debug(r.rc.Context(), "render resumed",
				"template", r.tmpl.name, "state", pc, "op", r.tmpl.prog[pc].op.String())
		}
	}
	r.env.Cells = r.cells
	r.status = statusReady

	for pc < len(r.tmpl.prog) {
		if pc != resumed {
			r.tmpl.prog[pc].clearScratch(r.cells)
		}
		resumed = -1
		next, err := r.exec(pc)
		if err != nil {
			return r.interrupt(pc, err)
		}
		pc = next
	}

	r.release()
	r.status = statusDone
	return render.Done(), nil
}

// Abandon discards a suspended render. Streaming wrappers of suspended
// calls are not flushed and pending values are left alone; Render returns
// ERR_ABANDONED afterwards. Abandoning a finished render does nothing.
func (r *Renderer) Abandon() {
	if r.status == statusDone || r.status == statusFailed {
		return
	}
	if r.frame != nil {
		for _, c := range r.frame.Cells {
			if st, ok := c.Ref.(*callState); ok {
				st.callee.Abandon()
			}
		}
	}
	r.frame = nil
	r.release()
	r.status = statusAbandoned
}

func (r *Renderer) release() {
	if r.cells != nil {
		r.tmpl.pool.Put(r.cells)
		r.cells = nil
		r.env.Cells = nil
	}
}

func (r *Renderer) interrupt(pc int, err error) (render.Result, error) {
	if d, ok := expr.IsDetached(err); ok {
		return r.suspend(pc, render.Detach(d.Pending))
	}
	if errors.Is(err, errLimited) {
		return r.suspend(pc, render.Limited())
	}
	return r.fail(err)
}

func (r *Renderer) suspend(pc int, res render.Result) (render.Result, error) {
	in := &r.tmpl.prog[pc]
	if in.site == nil {
		return r.fail(serrors.NewInternalError(serrors.ErrCodeInternalError,
			"instruction "+in.op.String()+" cannot suspend", nil))
	}
	r.frame = frame.Save(pc, in.site.layout, r.cells, in.site.slots)
	r.release()
	r.status = statusSuspended
	if err := output.FlushIfPossible(r.sink); err != nil {
		r.frame = nil
		return r.fail(serrors.ErrSink(err))
	}
	if r.rc != nil && r.rc.DebugInfo {
		r.rc.Log().Debug(r.rc.Context(), "render suspended",
			"template", r.tmpl.name,
			"state", pc,
			"op", in.op.String(),
			"result", res.String(),
			"layout", in.site.layout.Signature)
	}
	return res, nil
}

func (r *Renderer) fail(err error) (render.Result, error) {
	r.release()
	r.frame = nil
	r.status = statusFailed
	r.err = attribute(err, r.tmpl.name)
	return render.Done(), r.err
}

// wrapState is a sink wrapped in streaming directives, held in a cell while
// content renders into it.
type wrapState struct {
	entry    output.Sink
	wrappers []output.ClosingSink
}

func (r *Renderer) target(out int) output.Sink {
	if out == rootOut {
		return r.sink
	}
	if w, ok := r.cells[out].Ref.(*wrapState); ok {
		return w.entry
	}
	return r.cells[out].Ref.(*output.BufferingSink)
}

func (r *Renderer) write(out int, s string) error {
	if err := r.target(out).Append(s); err != nil {
		return serrors.ErrSink(err)
	}
	return nil
}

func (r *Renderer) evalArgs(groups [][]*expr.Compiled) ([][]value.Value, error) {
	if groups == nil {
		return nil, nil
	}
	out := make([][]value.Value, len(groups))
	for i, g := range groups {
		for _, a := range g {
			v, err := a.Eval(&r.env)
			if err != nil {
				return nil, err
			}
			out[i] = append(out[i], v)
		}
	}
	return out, nil
}

// exec runs the instruction at pc and returns the next pc.
func (r *Renderer) exec(pc int) (int, error) {
	in := &r.tmpl.prog[pc]
	cells := r.cells
	env := &r.env

	switch in.op {
	case opText:
		if err := r.write(in.out, in.text); err != nil {
			return 0, err
		}

	case opPrint:
		if err := r.print(in); err != nil {
			return 0, err
		}

	case opCheckLimit:
		if r.sink.SoftLimitReached() {
			return 0, errLimited
		}

	case opJump:
		return in.target, nil

	case opJumpIfFalse:
		ok, err := in.expr.EvalBool(env)
		if err != nil {
			return 0, err
		}
		in.clearMemo(cells)
		if !ok {
			return in.target, nil
		}

	case opCaseMatch:
		subject, _ := cells[in.slot].Ref.(value.Value)
		matched := false
		for _, a := range in.args {
			v, err := a.Eval(env)
			if err != nil {
				return 0, err
			}
			if value.Equal(subject, v) {
				matched = true
				break
			}
		}
		in.clearMemo(cells)
		if !matched {
			return in.target, nil
		}

	case opStore:
		if err := r.store(in); err != nil {
			return 0, err
		}
		in.clearMemo(cells)

	case opStoreThunk:
		cells[in.slot].Set(in.thunk.New(cells))

	case opRangeInit:
		if err := r.rangeInit(in); err != nil {
			return 0, err
		}
		in.clearMemo(cells)

	case opRangeNext:
		if cells[in.slot].Int() >= cells[in.slot+1].Int() {
			return in.target, nil
		}

	case opRangeStep:
		cur, step := cells[in.slot].Int(), cells[in.slot+2].Int()
		if cur > math.MaxInt64-step {
			// The next value would overflow, so it is past stop.
			cells[in.slot].SetInt(cells[in.slot+1].Int())
		} else {
			cells[in.slot].SetInt(cur + step)
		}
		return in.target, nil

	case opEachInit:
		n, err := r.eachInit(in)
		if err != nil {
			return 0, err
		}
		in.clearMemo(cells)
		if n == 0 {
			return in.target, nil
		}

	case opEachNext:
		if cells[in.slot+1].Int() >= cells[in.slot+2].Int() {
			return in.target, nil
		}

	case opEachStep:
		cells[in.slot+1].SetInt(cells[in.slot+1].Int() + 1)
		return in.target, nil

	case opBeginBuffer:
		cells[in.slot].Set(output.NewBufferingSink())

	case opEndBuffer:
		buf := cells[in.slot].Ref.(*output.BufferingSink)
		cells[in.slot2].Set(value.NewContent(in.ckind, buf.String()))
		cells[in.slot].Reset()

	case opCall:
		if err := r.call(in); err != nil {
			return 0, err
		}

	case opBeginWrap:
		args, err := r.evalArgs(in.dirArgs)
		if err != nil {
			return 0, err
		}
		sink := r.target(in.out)
		ws, err := directives.WrapAll(in.dirs, sink, in.ckind, args)
		if err != nil {
			return 0, err
		}
		w := &wrapState{entry: sink, wrappers: ws}
		if len(ws) > 0 {
			w.entry = ws[0]
		}
		cells[in.slot].Set(w)
		in.clearMemo(cells)

	case opEndWrap:
		w := cells[in.slot].Ref.(*wrapState)
		cells[in.slot].Reset()
		if err := directives.CloseAll(w.wrappers); err != nil {
			return 0, serrors.ErrSink(err)
		}

	case opLog:
		buf := cells[in.slot].Ref.(*output.BufferingSink)
		r.rc.Log().Info(r.rc.Context(), buf.String(), "template", r.tmpl.name)
		cells[in.slot].Reset()

	default:
		return 0, serrors.NewInternalError(serrors.ErrCodeInternalError, "unknown opcode "+in.op.String(), nil)
	}
	return pc + 1, nil
}

func (r *Renderer) print(in *instr) error {
	var s string
	if len(in.dirs) == 0 {
		str, err := in.expr.EvalString(&r.env)
		if err != nil {
			return err
		}
		s = str
	} else {
		v, err := in.expr.Eval(&r.env)
		if err != nil {
			return err
		}
		args, err := r.evalArgs(in.dirArgs)
		if err != nil {
			return err
		}
		if v, err = directives.ApplyAll(in.dirs, v, args); err != nil {
			return err
		}
		s = value.ToString(v)
	}
	if err := r.write(in.out, s); err != nil {
		return err
	}
	in.clearMemo(r.cells)
	return nil
}

func (r *Renderer) store(in *instr) error {
	c := &r.cells[in.slot]
	env := &r.env
	switch in.kind {
	case frame.KindInt:
		i, err := in.expr.EvalInt(env)
		if err != nil {
			return err
		}
		c.SetInt(i)
	case frame.KindFloat:
		f, err := in.expr.EvalFloat(env)
		if err != nil {
			return err
		}
		c.SetFloat(f)
	case frame.KindBool:
		b, err := in.expr.EvalBool(env)
		if err != nil {
			return err
		}
		c.SetBool(b)
	case frame.KindString:
		s, err := in.expr.EvalString(env)
		if err != nil {
			return err
		}
		c.SetStr(s)
	default:
		v, err := in.expr.Eval(env)
		if err != nil {
			return err
		}
		c.Set(v)
	}
	return nil
}

func (r *Renderer) rangeInit(in *instr) error {
	start, stop, step := int64(0), int64(0), int64(1)
	for i, dst := range []*int64{&start, &stop, &step} {
		if in.args[i] == nil {
			continue
		}
		n, err := rangeBound(in.args[i], &r.env)
		if err != nil {
			return err
		}
		*dst = n
	}
	if step <= 0 {
		return serrors.ErrInvalidRange(start, stop, step, "step must be positive")
	}
	if stop > start && stop-start < 0 {
		return serrors.ErrInvalidRange(start, stop, step, "range length overflows")
	}
	c := r.cells[in.slot : in.slot+3]
	c[0].SetInt(start)
	c[1].SetInt(stop)
	c[2].SetInt(step)
	return nil
}

func rangeBound(c *expr.Compiled, env *expr.Env) (int64, error) {
	v, err := c.Eval(env)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case value.Int:
		return int64(n), nil
	case value.Float:
		f := float64(n)
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, serrors.NewArgumentError(serrors.ErrCodeInvalidRange,
				"invalid range: bound is not an integer").WithContext("bound", n.String())
		}
		return int64(f), nil
	}
	return 0, serrors.ErrCast("int", v.Kind().String())
}

func (r *Renderer) eachInit(in *instr) (int, error) {
	v, err := in.expr.Eval(&r.env)
	if err != nil {
		return 0, err
	}
	list, ok := v.(*value.List)
	if !ok {
		if !value.IsNullish(v) {
			return 0, serrors.ErrCast("list", v.Kind().String())
		}
		list = value.NewList()
	}
	c := r.cells[in.slot : in.slot+3]
	c[0].Set(list)
	c[1].SetInt(0)
	c[2].SetInt(int64(list.Len()))
	return list.Len(), nil
}
