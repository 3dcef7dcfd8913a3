package compiler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

var (
	intT  = types.IntType
	strT  = types.StringType
	boolT = types.BoolType
	anyT  = types.AnyType
)

func text(s string) ast.Node { return &ast.RawText{Text: s} }

func show(e ast.Expr, ds ...ast.Directive) ast.Node {
	return &ast.Print{Expr: e, Directives: ds}
}

func lit(v any, t types.Type) ast.Expr {
	return &ast.Literal{Typed: ast.Typed{T: t}, Value: value.MustBox(v)}
}

func param(name string, t types.Type) ast.Expr {
	return &ast.ParamRef{Typed: ast.Typed{T: t}, Name: name}
}

func local(name string, t types.Type) ast.Expr {
	return &ast.VarRef{Typed: ast.Typed{T: t}, Name: name}
}

func bin(op ast.Operator, x, y ast.Expr, t types.Type) ast.Expr {
	return &ast.Binary{Typed: ast.Typed{T: t}, Op: op, X: x, Y: y}
}

func fn(name string, t types.Type, args ...ast.Expr) ast.Expr {
	return &ast.FuncCall{Typed: ast.Typed{T: t}, Name: name, Args: args}
}

func not(x ast.Expr) ast.Expr {
	return &ast.Unary{Typed: ast.Typed{T: boolT}, Op: ast.OpNot, X: x}
}

func rangeLoop(v string, start, stop, step ast.Expr, body ...ast.Node) ast.Node {
	return &ast.ForRange{Var: v, Start: start, Stop: stop, Step: step, Body: body}
}

func tmpl(name string, params []ast.Param, body ...ast.Node) *ast.Template {
	return &ast.Template{Name: name, Kind: value.ContentHTML, Params: params, Body: body}
}

func required(name string, t types.Type) ast.Param {
	return ast.Param{Name: name, Type: t, Required: true}
}

type testLinker struct {
	templates map[string]*Template
	delegates map[string]*Template
}

func (l *testLinker) Template(name string) (*Template, error) {
	if t, ok := l.templates[name]; ok {
		return t, nil
	}
	return nil, serrors.ErrTemplateNotFound(name)
}

func (l *testLinker) Delegate(name, variant string, allowEmpty bool, _ *render.Context) (*Template, error) {
	if t, ok := l.delegates[name+":"+variant]; ok {
		return t, nil
	}
	if allowEmpty {
		return nil, nil
	}
	return nil, serrors.ErrDelegateNotFound(name, variant)
}

type harness struct {
	t      *testing.T
	opts   Options
	linker *testLinker
	rc     *render.Context
}

func newHarness(t *testing.T) *harness {
	return &harness{
		t:      t,
		opts:   Options{Layouts: frame.NewLayoutCache(), Pool: frame.NewCellPool()},
		linker: &testLinker{templates: map[string]*Template{}, delegates: map[string]*Template{}},
		rc:     &render.Context{},
	}
}

func (h *harness) compile(at *ast.Template) *Template {
	h.t.Helper()
	c, err := Compile(at, h.opts)
	require.NoError(h.t, err)
	h.linker.templates[at.Name] = c
	return c
}

func (h *harness) start(name string, params map[string]any, sink output.Sink) *Renderer {
	h.t.Helper()
	boxed := map[string]value.Value{}
	for k, v := range params {
		boxed[k] = value.MustBox(v)
	}
	r, err := h.linker.templates[name].NewRenderer(boxed, nil, sink, h.rc, h.linker)
	require.NoError(h.t, err)
	return r
}

// renderAll drives r to completion, resolving nothing; it fails the test
// on a suspension.
func renderAll(t *testing.T, r *Renderer) {
	t.Helper()
	res, err := r.Render()
	require.NoError(t, err)
	require.True(t, res.IsDone(), "unexpected %s", res)
}

// captureLogger records Info and Debug messages.
type captureLogger struct {
	logging.NopLogger
	mu     sync.Mutex
	infos  []string
	debugs []string
}

func (l *captureLogger) Info(_ context.Context, msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
}

func (l *captureLogger) Debug(_ context.Context, msg string, _ ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugs = append(l.debugs, msg)
}
