package compiler

import (
	"maps"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/expr"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// Linker resolves call targets while rendering.
type Linker interface {
	// Template returns the basic template called name.
	Template(name string) (*Template, error)
	// Delegate selects the implementation of a delegate call. It returns
	// nil without error when nothing matches and allowEmpty is set.
	Delegate(name, variant string, allowEmpty bool, rc *render.Context) (*Template, error)
}

// Template is a compiled template. It is immutable and may be shared by
// any number of concurrent renders.
type Template struct {
	name     string
	kind     value.ContentKind
	source   string
	delegate *ast.Delegate
	params   []paramDecl
	prog     []instr
	size     int
	pool     *frame.CellPool
}

type paramDecl struct {
	ParamInfo
	def     *expr.Compiled
	defSize int
}

// ParamInfo describes a declared parameter.
type ParamInfo struct {
	Name     string
	Type     types.Type
	Required bool
	Injected bool
}

func (t *Template) compileParams(ps []ast.Param, opts Options) error {
	seen := map[string]bool{}
	for _, p := range ps {
		key := p.Name
		if p.Injected {
			key = "$ij." + p.Name
		}
		if seen[key] {
			return serrors.ErrDuplicateSlot(p.Name)
		}
		seen[key] = true

		cp := paramDecl{ParamInfo: ParamInfo{
			Name:     p.Name,
			Type:     p.Type,
			Required: p.Required,
			Injected: p.Injected,
		}}
		if p.Default != nil {
			alloc := frame.NewAllocator()
			def, err := expr.NewCompiler(alloc, expr.MapScope{}, opts.Analyzer).Compile(p.Default)
			if err != nil {
				return err
			}
			cp.def, cp.defSize = def, alloc.Size()
		}
		t.params = append(t.params, cp)
	}
	return nil
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Kind returns the content kind the template renders.
func (t *Template) Kind() value.ContentKind { return t.kind }

// Source returns where the template was loaded from.
func (t *Template) Source() string { return t.source }

// Delegate returns the delegate declaration, or nil for basic templates.
func (t *Template) Delegate() *ast.Delegate { return t.delegate }

// Params describes the declared parameters in declaration order.
func (t *Template) Params() []ParamInfo {
	out := make([]ParamInfo, len(t.params))
	for i, p := range t.params {
		out[i] = p.ParamInfo
	}
	return out
}

// FrameSize is the number of cells a render of t works with.
func (t *Template) FrameSize() int { return t.size }

// Layouts returns the distinct frame layouts of t's save sites.
func (t *Template) Layouts() []*frame.Layout {
	var out []*frame.Layout
	seen := map[*frame.Layout]bool{}
	for i := range t.prog {
		if s := t.prog[i].site; s != nil && !seen[s.layout] {
			seen[s.layout] = true
			out = append(out, s.layout)
		}
	}
	return out
}

// NewRenderer binds params and returns a renderer that writes to sink. A
// required param missing from params (or injected, for injected params) is
// a data error naming it; absent optional params take their default or
// Undefined.
func (t *Template) NewRenderer(params, injected map[string]value.Value, sink output.Sink, rc *render.Context, linker Linker) (*Renderer, error) {
	data := maps.Clone(params)
	if data == nil {
		data = map[string]value.Value{}
	}
	bound := maps.Clone(data)
	ij := maps.Clone(injected)
	if ij == nil {
		ij = map[string]value.Value{}
	}
	for _, p := range t.params {
		src := bound
		if p.Injected {
			src = ij
		}
		if v, ok := src[p.Name]; ok && v != nil {
			continue
		}
		if p.Required {
			return nil, serrors.ErrMissingParam(t.name, p.Name)
		}
		if p.def == nil {
			src[p.Name] = value.Undefined
			continue
		}
		v, err := p.evalDefault(bound, ij, rc)
		if err != nil {
			return nil, attribute(err, t.name)
		}
		src[p.Name] = v
	}
	return &Renderer{
		tmpl:   t,
		env:    expr.Env{Params: bound, Injected: ij, Ctx: rc},
		data:   data,
		sink:   sink,
		rc:     rc,
		linker: linker,
	}, nil
}

func (p *paramDecl) evalDefault(params, injected map[string]value.Value, rc *render.Context) (value.Value, error) {
	env := &expr.Env{
		Cells:    make([]frame.Cell, p.defSize),
		Params:   params,
		Injected: injected,
		Ctx:      rc,
	}
	v, err := p.def.Eval(env)
	if _, ok := expr.IsDetached(err); ok {
		return nil, serrors.NewDataError(serrors.ErrCodeInvalidArgument,
			"default value of "+p.Name+" depends on a pending value").WithContext("param", p.Name)
	}
	return v, err
}
