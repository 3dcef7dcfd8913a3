// Package compiler lowers template bodies to an instruction tape and runs
// them on a machine that can stop at any instruction reading a pending
// value and pick up from the same instruction later.
//
// Each instruction that can suspend owns a save site: the slots live at
// that point and the shared layout describing them. Suspending copies those
// slots into a frame.StackFrame tagged with the instruction index; resuming
// restores them and re-executes the instruction, whose memo cells make any
// already-resolved subexpressions free.
package compiler

import (
	"errors"

	"github.com/conneroisu/sojourn/internal/analysis"
	"github.com/conneroisu/sojourn/internal/ast"
	"github.com/conneroisu/sojourn/internal/directives"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/expr"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// Options configures compilation. Zero fields get defaults; templates that
// will call each other should share Layouts and Pool.
type Options struct {
	Directives *directives.Registry
	Analyzer   analysis.Analyzer
	Layouts    *frame.LayoutCache
	Pool       *frame.CellPool
}

func (o Options) withDefaults() Options {
	if o.Directives == nil {
		o.Directives = directives.Default()
	}
	if o.Analyzer == nil {
		o.Analyzer = analysis.Conservative{}
	}
	if o.Layouts == nil {
		o.Layouts = frame.NewLayoutCache()
	}
	if o.Pool == nil {
		o.Pool = frame.NewCellPool()
	}
	return o
}

// Compile lowers t into an executable template.
func Compile(t *ast.Template, opts Options) (*Template, error) {
	opts = opts.withDefaults()
	kind := t.Kind
	if kind == "" {
		kind = value.ContentHTML
	}
	tmpl := &Template{
		name:     t.Name,
		kind:     kind,
		source:   t.Source,
		delegate: t.Delegate,
		pool:     opts.Pool,
	}
	if err := tmpl.compileParams(t.Params, opts); err != nil {
		return nil, attribute(err, t.Name)
	}

	c := &bodyCompiler{opts: opts, alloc: frame.NewAllocator(), scope: newScopes()}
	c.exprs = expr.NewCompiler(c.alloc, c.scope, opts.Analyzer)
	c.checkLimit()
	if err := c.block(t.Body, rootOut); err != nil {
		return nil, attribute(err, t.Name)
	}
	tmpl.prog = c.prog
	tmpl.size = c.alloc.Size()
	return tmpl, nil
}

// attribute records the template an error was raised in.
func attribute(err error, name string) error {
	var se *serrors.SojournError
	if errors.As(err, &se) {
		se.WithTemplate(name)
	}
	return err
}

type bodyCompiler struct {
	opts  Options
	alloc *frame.Allocator
	scope *scopes
	exprs *expr.Compiler
	prog  []instr
	// streamed maps a print to the content let it renders in place.
	streamed map[*ast.Print]*ast.LetContent
}

func (c *bodyCompiler) emit(in instr) int {
	c.prog = append(c.prog, in)
	return len(c.prog) - 1
}

func (c *bodyCompiler) here() int { return len(c.prog) }

func (c *bodyCompiler) patch(at int) { c.prog[at].target = c.here() }

func (c *bodyCompiler) enter() {
	c.alloc.EnterScope()
	c.scope.push()
}

func (c *bodyCompiler) exit() {
	c.alloc.ExitScope()
	c.scope.pop()
}

// site snapshots the slots live right now.
func (c *bodyCompiler) site() *saveSite {
	live := c.alloc.Live()
	s := &saveSite{slots: make([]int, len(live))}
	kinds := make([]frame.SlotKind, len(live))
	for i, sl := range live {
		s.slots[i] = sl.Index
		kinds[i] = sl.Kind
	}
	s.layout = c.opts.Layouts.Lookup(kinds)
	return s
}

// step emits an instruction whose expressions are compiled by build. The
// expressions' memo cells, and a state cell of kind stateKind if one is
// asked for, live in a scope of their own that closes with the
// instruction.
func (c *bodyCompiler) step(in instr, stateKind frame.SlotKind, build func(in *instr) error) (int, error) {
	c.alloc.EnterScope()
	defer c.alloc.ExitScope()
	in.scratchLo = c.alloc.Mark()
	if stateKind != 0 {
		slot, err := c.alloc.Alloc("", stateKind)
		if err != nil {
			return 0, err
		}
		in.slot = slot
	}
	in.memoLo = c.alloc.Mark()
	if err := build(&in); err != nil {
		return 0, err
	}
	in.memoHi = c.alloc.Mark()
	in.site = c.site()
	return c.emit(in), nil
}

func (c *bodyCompiler) checkLimit() {
	c.emit(instr{op: opCheckLimit, site: c.site()})
}

func (c *bodyCompiler) compileOpt(e ast.Expr) (*expr.Compiled, error) {
	if e == nil {
		return nil, nil
	}
	return c.exprs.Compile(e)
}

func (c *bodyCompiler) directiveChain(ds []ast.Directive) ([]directives.Directive, [][]*expr.Compiled, error) {
	if len(ds) == 0 {
		return nil, nil, nil
	}
	out := make([]directives.Directive, len(ds))
	args := make([][]*expr.Compiled, len(ds))
	for i, d := range ds {
		dir, err := c.opts.Directives.Resolve(d.Name, len(d.Args))
		if err != nil {
			return nil, nil, err
		}
		out[i] = dir
		for _, a := range d.Args {
			ce, err := c.exprs.Compile(a)
			if err != nil {
				return nil, nil, err
			}
			args[i] = append(args[i], ce)
		}
	}
	return out, args, nil
}

func (c *bodyCompiler) block(nodes []ast.Node, out int) error {
	for i := range nodes {
		if err := c.stmt(nodes[i:], out); err != nil {
			return err
		}
	}
	return nil
}

func (c *bodyCompiler) nested(nodes []ast.Node, out int) error {
	c.enter()
	defer c.exit()
	return c.block(nodes, out)
}

// stmt compiles rest[0]; the remaining statements of the block decide how
// lets are evaluated.
func (c *bodyCompiler) stmt(rest []ast.Node, out int) error {
	switch x := rest[0].(type) {
	case *ast.RawText:
		if x.Text != "" {
			c.emit(instr{op: opText, out: out, text: x.Text})
		}
		return nil
	case *ast.Print:
		return c.print(x, out)
	case *ast.If:
		return c.ifChain(x, out)
	case *ast.Switch:
		return c.switchCases(x, out)
	case *ast.ForRange:
		return c.forRange(x, out)
	case *ast.ForEach:
		return c.forEach(x, out)
	case *ast.LetValue:
		return c.letValue(x, rest)
	case *ast.LetContent:
		return c.letContent(x, rest)
	case *ast.Call:
		return c.call(x, out)
	case *ast.Log:
		return c.log(x)
	}
	return serrors.NewCompileError(serrors.ErrCodeInvalidTemplate, "unsupported statement")
}

func (c *bodyCompiler) print(x *ast.Print, out int) error {
	if let, ok := c.streamed[x]; ok {
		return c.streamContent(let, x, out)
	}
	_, err := c.step(instr{op: opPrint, out: out}, 0, func(in *instr) error {
		var err error
		if in.expr, err = c.exprs.Compile(x.Expr); err != nil {
			return err
		}
		in.dirs, in.dirArgs, err = c.directiveChain(x.Directives)
		return err
	})
	return err
}

func (c *bodyCompiler) ifChain(x *ast.If, out int) error {
	c.checkLimit()
	var ends []int
	for i, br := range x.Branches {
		test, err := c.step(instr{op: opJumpIfFalse}, 0, func(in *instr) error {
			var err error
			in.expr, err = c.exprs.Compile(br.Cond)
			return err
		})
		if err != nil {
			return err
		}
		if err := c.nested(br.Body, out); err != nil {
			return err
		}
		if i < len(x.Branches)-1 || len(x.Else) > 0 {
			ends = append(ends, c.emit(instr{op: opJump}))
		}
		c.patch(test)
	}
	if len(x.Else) > 0 {
		if err := c.nested(x.Else, out); err != nil {
			return err
		}
	}
	for _, j := range ends {
		c.patch(j)
	}
	return nil
}

func (c *bodyCompiler) switchCases(x *ast.Switch, out int) error {
	c.checkLimit()
	c.enter()
	defer c.exit()
	subject := c.alloc.Synthetic("switch", frame.KindValue)
	_, err := c.step(instr{op: opStore, slot: subject, kind: frame.KindValue}, 0, func(in *instr) error {
		var err error
		in.expr, err = c.exprs.Compile(x.Expr)
		return err
	})
	if err != nil {
		return err
	}
	var ends []int
	for _, cs := range x.Cases {
		match, err := c.step(instr{op: opCaseMatch, slot: subject}, 0, func(in *instr) error {
			for _, v := range cs.Values {
				ce, err := c.exprs.Compile(v)
				if err != nil {
					return err
				}
				in.args = append(in.args, ce)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := c.nested(cs.Body, out); err != nil {
			return err
		}
		ends = append(ends, c.emit(instr{op: opJump}))
		c.patch(match)
	}
	if x.HasDefault {
		if err := c.nested(x.Default, out); err != nil {
			return err
		}
	}
	for _, j := range ends {
		c.patch(j)
	}
	return nil
}

// forRange lays out
//
//	rangeinit            cur, stop, step
//	head: rangenext      exit when cur >= stop
//	      [checklimit]
//	      body
//	      rangestep      cur += step, back to head
func (c *bodyCompiler) forRange(x *ast.ForRange, out int) error {
	c.checkLimit()
	c.enter()
	defer c.exit()
	base, err := c.alloc.Alloc(x.Var, frame.KindInt)
	if err != nil {
		return err
	}
	if _, err := c.alloc.AllocBlock("", frame.KindInt, 2); err != nil {
		return err
	}
	_, err = c.step(instr{op: opRangeInit, slot: base}, 0, func(in *instr) error {
		for _, e := range []ast.Expr{x.Start, x.Stop, x.Step} {
			ce, err := c.compileOpt(e)
			if err != nil {
				return err
			}
			in.args = append(in.args, ce)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.scope.bind(x.Var, expr.Binding{Slot: base, Kind: frame.KindInt, Type: types.IntType})

	head := c.emit(instr{op: opRangeNext, slot: base})
	if c.opts.Analyzer.BodyMaySuspend(x.Body, expr.Settled(c.scope)) {
		c.checkLimit()
	}
	if err := c.nested(x.Body, out); err != nil {
		return err
	}
	c.emit(instr{op: opRangeStep, slot: base, target: head})
	c.patch(head)
	return nil
}

// forEach lays out
//
//	eachinit             list, index, length; to empty when length is 0
//	head: eachnext       to end when index >= length
//	      [checklimit]
//	      body
//	      eachstep       index++, back to head
//	empty: ifempty
//	end:
func (c *bodyCompiler) forEach(x *ast.ForEach, out int) error {
	c.checkLimit()
	c.enter()
	defer c.exit()
	base, err := c.alloc.Alloc(x.Var, frame.KindValue)
	if err != nil {
		return err
	}
	if _, err := c.alloc.AllocBlock("", frame.KindInt, 2); err != nil {
		return err
	}
	start, err := c.step(instr{op: opEachInit, slot: base}, 0, func(in *instr) error {
		var err error
		in.expr, err = c.exprs.Compile(x.List)
		return err
	})
	if err != nil {
		return err
	}
	elem := types.AnyType
	if lt := x.List.Type(); lt.Kind == types.List && len(lt.Elem) == 1 {
		elem = lt.Elem[0]
	}
	c.scope.bind(x.Var, expr.Binding{
		Slot: base,
		Kind: frame.KindValue,
		Type: elem,
		Loop: &expr.LoopHelpers{IndexSlot: base + 1, LengthSlot: base + 2},
	})

	head := c.emit(instr{op: opEachNext, slot: base})
	if c.opts.Analyzer.BodyMaySuspend(x.Body, expr.Settled(c.scope)) {
		c.checkLimit()
	}
	if err := c.nested(x.Body, out); err != nil {
		return err
	}
	c.emit(instr{op: opEachStep, slot: base, target: head})
	c.patch(start)
	if len(x.IfEmpty) > 0 {
		if err := c.nested(x.IfEmpty, out); err != nil {
			return err
		}
	}
	c.patch(head)
	return nil
}

func (c *bodyCompiler) letValue(x *ast.LetValue, rest []ast.Node) error {
	mode := classifyLet(rest)
	if mode == letSkip {
		return nil
	}
	t := x.Value.Type()
	if mode == letLazy {
		slot, err := c.alloc.Alloc(x.Name, frame.KindThunk)
		if err != nil {
			return err
		}
		tc, err := c.exprs.CompileThunk(x.Value)
		if err != nil {
			return err
		}
		c.emit(instr{op: opStoreThunk, slot: slot, thunk: tc})
		c.scope.bind(x.Name, expr.Binding{Slot: slot, Kind: frame.KindThunk, Type: t})
		return nil
	}

	kind := slotKindOf(t)
	slot, err := c.alloc.Alloc(x.Name, kind)
	if err != nil {
		return err
	}
	_, err = c.step(instr{op: opStore, slot: slot, kind: kind}, 0, func(in *instr) error {
		var err error
		in.expr, err = c.exprs.Compile(x.Value)
		return err
	})
	if err != nil {
		return err
	}
	c.scope.bind(x.Name, expr.Binding{Slot: slot, Kind: kind, Type: t})
	return nil
}

func (c *bodyCompiler) letContent(x *ast.LetContent, rest []ast.Node) error {
	if !ast.References(rest[1:], x.Name) {
		return nil
	}
	if p := streamSite(x.Name, rest[1:]); p != nil && c.canStream(p) {
		if c.streamed == nil {
			c.streamed = map[*ast.Print]*ast.LetContent{}
		}
		c.streamed[p] = x
		return nil
	}
	slot, err := c.alloc.Alloc(x.Name, frame.KindValue)
	if err != nil {
		return err
	}
	kind := contentKind(x.Kind)
	if err := c.buffered(x.Body, slot, kind); err != nil {
		return err
	}
	c.scope.bind(x.Name, expr.Binding{Slot: slot, Kind: frame.KindValue, Type: contentType(kind)})
	return nil
}

// canStream reports whether every directive of p has a streaming form.
func (c *bodyCompiler) canStream(p *ast.Print) bool {
	ds := make([]directives.Directive, len(p.Directives))
	for i, d := range p.Directives {
		dir, err := c.opts.Directives.Resolve(d.Name, len(d.Args))
		if err != nil {
			return false
		}
		ds[i] = dir
	}
	return directives.AllStreaming(ds)
}

// streamContent renders the body of let where p prints it, through the
// streaming forms of p's directives, instead of buffering it at the let.
func (c *bodyCompiler) streamContent(let *ast.LetContent, p *ast.Print, out int) error {
	c.enter()
	defer c.exit()
	slot, err := c.alloc.Alloc("", frame.KindSink)
	if err != nil {
		return err
	}
	_, err = c.step(instr{op: opBeginWrap, out: out, slot: slot, ckind: contentKind(let.Kind)}, 0, func(in *instr) error {
		var err error
		in.dirs, in.dirArgs, err = c.directiveChain(p.Directives)
		return err
	})
	if err != nil {
		return err
	}
	if err := c.block(let.Body, slot); err != nil {
		return err
	}
	c.emit(instr{op: opEndWrap, slot: slot})
	return nil
}

// buffered renders body into a fresh buffer and stores the result as
// content of the given kind in dst.
func (c *bodyCompiler) buffered(body []ast.Node, dst int, kind value.ContentKind) error {
	c.enter()
	defer c.exit()
	buf, err := c.alloc.Alloc("", frame.KindBuffer)
	if err != nil {
		return err
	}
	c.emit(instr{op: opBeginBuffer, slot: buf})
	if err := c.block(body, buf); err != nil {
		return err
	}
	c.emit(instr{op: opEndBuffer, slot: buf, slot2: dst, ckind: kind})
	return nil
}

func (c *bodyCompiler) log(x *ast.Log) error {
	c.enter()
	defer c.exit()
	buf, err := c.alloc.Alloc("", frame.KindBuffer)
	if err != nil {
		return err
	}
	c.emit(instr{op: opBeginBuffer, slot: buf})
	if err := c.block(x.Body, buf); err != nil {
		return err
	}
	c.emit(instr{op: opLog, slot: buf})
	return nil
}

func (c *bodyCompiler) call(x *ast.Call, out int) error {
	c.checkLimit()
	c.enter()
	defer c.exit()

	site := &callSite{
		callee:     x.Callee,
		delegate:   x.Delegate,
		allowEmpty: x.AllowEmptyDefault,
		data:       x.Data,
		params:     make([]callParam, len(x.Params)),
	}
	for i, p := range x.Params {
		site.params[i] = callParam{name: p.Name, slot: -1}
		if !p.IsContent {
			if ref, ok := p.Value.(*ast.ParamRef); ok && !ref.Injected {
				site.params[i].forward = ref.Name
			}
			continue
		}
		slot, err := c.alloc.Alloc("", frame.KindValue)
		if err != nil {
			return err
		}
		if err := c.buffered(p.Body, slot, contentKind(p.Kind)); err != nil {
			return err
		}
		site.params[i].slot = slot
	}

	_, err := c.step(instr{op: opCall, out: out, call: site}, frame.KindRenderer, func(in *instr) error {
		var err error
		if site.variant, err = c.compileOpt(x.Variant); err != nil {
			return err
		}
		if x.Data == ast.DataExpr {
			if site.dataExpr, err = c.compileOpt(x.DataExpr); err != nil {
				return err
			}
		}
		for i, p := range x.Params {
			if p.IsContent || site.params[i].forward != "" {
				continue
			}
			if site.params[i].expr, err = c.exprs.Compile(p.Value); err != nil {
				return err
			}
		}
		if in.dirs, in.dirArgs, err = c.directiveChain(x.Directives); err != nil {
			return err
		}
		site.streaming = len(in.dirs) > 0 && directives.AllStreaming(in.dirs)
		return nil
	})
	return err
}

func slotKindOf(t types.Type) frame.SlotKind {
	if t.Nullable {
		return frame.KindValue
	}
	switch t.Kind {
	case types.Int:
		return frame.KindInt
	case types.Float:
		return frame.KindFloat
	case types.Bool:
		return frame.KindBool
	case types.String:
		return frame.KindString
	}
	return frame.KindValue
}

func contentKind(k value.ContentKind) value.ContentKind {
	if k == "" {
		return value.ContentHTML
	}
	return k
}

func contentType(k value.ContentKind) types.Type {
	switch k {
	case value.ContentText:
		return types.Of(types.Text)
	case value.ContentAttributes:
		return types.Of(types.Attributes)
	case value.ContentURI:
		return types.Of(types.URI)
	case value.ContentCSS:
		return types.Of(types.CSS)
	case value.ContentJS:
		return types.Of(types.JS)
	}
	return types.HTMLType
}
