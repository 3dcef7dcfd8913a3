package compiler

import (
	"maps"

	"github.com/conneroisu/sojourn/internal/ast"
	"github.com/conneroisu/sojourn/internal/directives"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/value"
)

// callState lives in a call instruction's state cell while the callee is
// unfinished, so a suspension anywhere below resumes into the same callee.
type callState struct {
	callee   *Renderer
	wrappers []output.ClosingSink
	buf      *output.BufferingSink
	args     [][]value.Value
}

func (r *Renderer) call(in *instr) error {
	c := &r.cells[in.slot]
	st, _ := c.Ref.(*callState)
	if st == nil {
		var err error
		if st, err = r.startCall(in); err != nil {
			return err
		}
		in.clearMemo(r.cells)
		if st == nil {
			return nil
		}
		c.Set(st)
	}

	res, err := st.callee.Render()
	if err != nil {
		c.Reset()
		return err
	}
	switch res.Kind() {
	case render.KindDetach:
		return &render.Detached{Pending: res.Pending()}
	case render.KindLimited:
		return errLimited
	}
	c.Reset()
	return st.finish(in, r.target(in.out))
}

// startCall resolves the callee and binds its params. It returns nil when
// an empty delegate default applies.
func (r *Renderer) startCall(in *instr) (*callState, error) {
	cs := in.call
	env := &r.env

	var tmpl *Template
	var err error
	if cs.delegate {
		variant := ""
		if cs.variant != nil {
			v, err := cs.variant.Eval(env)
			if err != nil {
				return nil, err
			}
			if !value.IsNullish(v) {
				variant = value.ToString(v)
			}
		}
		tmpl, err = r.linker.Delegate(cs.callee, variant, cs.allowEmpty, r.rc)
	} else {
		tmpl, err = r.linker.Template(cs.callee)
	}
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, nil
	}

	params := map[string]value.Value{}
	switch cs.data {
	case ast.DataAll:
		maps.Copy(params, r.data)
	case ast.DataExpr:
		v, err := cs.dataExpr.Eval(env)
		if err != nil {
			return nil, err
		}
		switch d := v.(type) {
		case *value.Record:
			maps.Copy(params, d.Fields())
		default:
			if !value.IsNullish(v) {
				return nil, serrors.ErrCast("record", v.Kind().String())
			}
		}
	}
	for _, p := range cs.params {
		switch {
		case p.slot >= 0:
			params[p.name] = r.cells[p.slot].Ref.(value.Value)
		case p.forward != "":
			if v, ok := env.Params[p.forward]; ok {
				params[p.name] = v
			}
		default:
			v, err := p.expr.Eval(env)
			if err != nil {
				return nil, err
			}
			params[p.name] = v
		}
	}

	args, err := r.evalArgs(in.dirArgs)
	if err != nil {
		return nil, err
	}
	st := &callState{args: args}
	sink := r.target(in.out)
	calleeSink := sink
	switch {
	case cs.streaming:
		if st.wrappers, err = directives.WrapAll(in.dirs, sink, tmpl.kind, args); err != nil {
			return nil, err
		}
		calleeSink = st.wrappers[0]
	case len(in.dirs) > 0:
		st.buf = output.NewBufferingSink()
		calleeSink = st.buf
	}
	if st.callee, err = tmpl.NewRenderer(params, env.Injected, calleeSink, r.rc, r.linker); err != nil {
		return nil, err
	}
	return st, nil
}

// finish closes streaming wrappers innermost first, or filters the
// buffered callee output through the directive chain.
func (st *callState) finish(in *instr, sink output.Sink) error {
	if st.wrappers != nil {
		if err := directives.CloseAll(st.wrappers); err != nil {
			return serrors.ErrSink(err)
		}
		return nil
	}
	if st.buf == nil {
		return nil
	}
	v, err := directives.ApplyAll(in.dirs, value.NewContent(st.callee.tmpl.kind, st.buf.String()), st.args)
	if err != nil {
		return err
	}
	if err := sink.Append(value.ToString(v)); err != nil {
		return serrors.ErrSink(err)
	}
	return nil
}
