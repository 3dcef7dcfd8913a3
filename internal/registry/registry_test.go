package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

func text(s string) ast.Node { return &ast.RawText{Text: s} }

func basic(name string, body ...ast.Node) *ast.Template {
	return &ast.Template{Name: name, Kind: value.ContentHTML, Body: body}
}

func impl(name, pkg, variant string, priority int, body ...ast.Node) *ast.Template {
	t := basic(name, body...)
	t.Delegate = &ast.Delegate{Package: pkg, Variant: variant, Priority: priority}
	return t
}

func delcall(name string, variant string, allowEmpty bool) ast.Node {
	c := &ast.Call{Callee: name, Delegate: true, AllowEmptyDefault: allowEmpty}
	if variant != "" {
		c.Variant = &ast.Literal{Typed: ast.Typed{T: types.StringType}, Value: value.String(variant)}
	}
	return c
}

func renderString(t *testing.T, reg *Registry, name string, params map[string]any, rc *render.Context) (string, error) {
	t.Helper()
	buf := output.NewBufferingSink()
	r, err := reg.NewRenderer(name, params, nil, buf, rc)
	if err != nil {
		return "", err
	}
	res, err := r.Render()
	if err != nil {
		return buf.String(), err
	}
	require.True(t, res.IsDone())
	return buf.String(), nil
}

func TestBuildAndRender(t *testing.T) {
	greet := basic("ns.greet",
		text("Hello, "),
		&ast.Print{Expr: &ast.ParamRef{Typed: ast.Typed{T: types.StringType}, Name: "name"}},
	)
	greet.Params = []ast.Param{{Name: "name", Type: types.StringType, Required: true}}
	page := basic("ns.page", text("<p>"), &ast.Call{Callee: "ns.greet", Data: ast.DataAll}, text("</p>"))

	reg, err := Build([]*ast.Template{page, greet}, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{"ns.greet", "ns.page"}, reg.Names())

	got, err := renderString(t, reg, "ns.page", map[string]any{"name": "<Ann>"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello, <Ann></p>", got)

	_, ok := reg.Get("ns.page")
	assert.True(t, ok)
	_, ok = reg.Get("ns.nope")
	assert.False(t, ok)
}

func TestBuildSharesLayouts(t *testing.T) {
	var ts []*ast.Template
	for _, n := range []string{"a", "b", "c", "d"} {
		ts = append(ts, basic(n, text(n)))
	}
	reg, err := Build(ts, Options{})
	require.NoError(t, err)

	first, _ := reg.Get("a")
	for _, n := range []string{"b", "c", "d"} {
		other, _ := reg.Get(n)
		assert.Same(t, first.Layouts()[0], other.Layouts()[0], n)
	}
	assert.Equal(t, 1, reg.Layouts().Len())
}

func TestBuildCollectsErrors(t *testing.T) {
	bad := func(name string) *ast.Template {
		return basic(name, &ast.Print{
			Expr:       &ast.Literal{Typed: ast.Typed{T: types.StringType}, Value: value.String("x")},
			Directives: []ast.Directive{{Name: "noSuchDirective"}},
		})
	}

	t.Run("single failure keeps its code", func(t *testing.T) {
		_, err := Build([]*ast.Template{basic("ok", text("fine")), bad("broken")}, Options{})
		require.Error(t, err)
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeUnknownDirective))
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("every failure is reported", func(t *testing.T) {
		_, err := Build([]*ast.Template{bad("one"), basic("ok", text("fine")), bad("two")}, Options{})
		require.Error(t, err)
		assert.True(t, serrors.IsCompileError(err))
		assert.Contains(t, err.Error(), "2 templates failed")
		assert.Contains(t, err.Error(), "one")
		assert.Contains(t, err.Error(), "two")
	})

	t.Run("duplicate names", func(t *testing.T) {
		a, b := basic("dup", text("a")), basic("dup", text("b"))
		a.Source, b.Source = "a.yaml", "b.yaml"
		_, err := Build([]*ast.Template{a, b}, Options{})
		require.Error(t, err)
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeDuplicateTemplate))
		assert.Contains(t, err.Error(), "a.yaml")
	})

	t.Run("duplicate delegate in one package", func(t *testing.T) {
		_, err := Build([]*ast.Template{
			impl("menu", "fancy", "", 1, text("x")),
			impl("menu", "fancy", "", 2, text("y")),
		}, Options{})
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeDuplicateTemplate))
	})

	t.Run("same delegate in different packages is fine", func(t *testing.T) {
		_, err := Build([]*ast.Template{
			impl("menu", "", "", 0, text("x")),
			impl("menu", "fancy", "", 1, text("y")),
		}, Options{})
		assert.NoError(t, err)
	})
}

func TestDelegateSelection(t *testing.T) {
	reg, err := Build([]*ast.Template{
		impl("menu", "", "", 0, text("default")),
		impl("menu", "fancy", "", 10, text("fancy")),
		impl("menu", "plain", "", 5, text("plain")),
		impl("menu", "", "wide", 0, text("wide-default")),
		impl("menu", "fancy", "wide", 3, text("wide-fancy")),
		impl("menu", "alt", "wide", 3, text("wide-alt")),
		basic("page", text("["), delcall("menu", "", false), text("]")),
		basic("widePage", text("["), delcall("menu", "wide", false), text("]")),
		basic("tall", text("["), delcall("menu", "tall", false), text("]")),
		basic("maybe", text("["), delcall("footer", "", true), text("]")),
		basic("must", text("["), delcall("footer", "", false), text("]")),
	}, Options{})
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "menu")
	assert.Len(t, reg.Implementations("menu"), 6)

	tests := []struct {
		name     string
		template string
		active   []string
		want     string
		code     string
	}{
		{name: "default only", template: "page", want: "[default]"},
		{name: "highest priority wins", template: "page", active: []string{"plain", "fancy"}, want: "[fancy]"},
		{name: "lower priority when higher inactive", template: "page", active: []string{"plain"}, want: "[plain]"},
		{name: "variant default", template: "widePage", want: "[wide-default]"},
		{name: "variant active", template: "widePage", active: []string{"fancy"}, want: "[wide-fancy]"},
		{name: "variant tie", template: "widePage", active: []string{"fancy", "alt"}, code: serrors.ErrCodeAmbiguousDelegate},
		{name: "unknown variant falls back", template: "tall", active: []string{"plain"}, want: "[plain]"},
		{name: "allow empty", template: "maybe", want: "[]"},
		{name: "missing delegate", template: "must", code: serrors.ErrCodeDelegateNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := &render.Context{ActiveDelegatePackage: render.ActivePackages(tt.active...)}
			got, err := renderString(t, reg, tt.template, nil, rc)
			if tt.code != "" {
				require.Error(t, err)
				assert.True(t, serrors.HasCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImplementationsOrder(t *testing.T) {
	reg, err := Build([]*ast.Template{
		impl("nav", "b", "", 1, text("b")),
		impl("nav", "a", "", 7, text("a")),
		impl("nav", "", "", 0, text("d")),
		impl("nav", "c", "x", 2, text("c")),
	}, Options{})
	require.NoError(t, err)

	var got []string
	for _, tmpl := range reg.Implementations("nav") {
		d := tmpl.Delegate()
		got = append(got, d.Variant+"/"+d.Package)
	}
	assert.Equal(t, []string{"/a", "/b", "/", "x/c"}, got)
	assert.Equal(t, 0, reg.Count())
}

func TestNewRenderer(t *testing.T) {
	reg, err := Build([]*ast.Template{basic("t", text("x"))}, Options{})
	require.NoError(t, err)

	_, err = reg.NewRenderer("missing", nil, nil, output.NewBufferingSink(), nil)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeTemplateNotFound))

	_, err = reg.NewRenderer("t", map[string]any{"ch": make(chan int)}, nil, output.NewBufferingSink(), nil)
	require.Error(t, err)
	assert.True(t, serrors.IsArgumentError(err))
	assert.Contains(t, err.Error(), "ch")
}

func TestConcurrentRenders(t *testing.T) {
	greet := basic("greet", text("hi "),
		&ast.Print{Expr: &ast.ParamRef{Typed: ast.Typed{T: types.IntType}, Name: "n"}})
	greet.Params = []ast.Param{{Name: "n", Type: types.IntType, Required: true}}
	reg, err := Build([]*ast.Template{greet}, Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buf := output.NewBufferingSink()
			r, err := reg.NewRenderer("greet", map[string]any{"n": i}, nil, buf, nil)
			if err != nil {
				return
			}
			if _, err := r.Render(); err == nil {
				results[i] = buf.String()
			}
		}(i)
	}
	wg.Wait()
	for i, got := range results {
		assert.Equal(t, "hi "+value.MustBox(i).String(), got)
	}
}

func TestDescribe(t *testing.T) {
	page := basic("page", text("p"))
	page.Source = "site.yaml"
	page.Params = []ast.Param{
		{Name: "title", Type: types.StringType, Required: true},
		{Name: "user", Type: types.StringType.OrNull(), Injected: true},
	}
	reg, err := Build([]*ast.Template{
		page,
		impl("nav", "fancy", "", 1, text("f")),
		impl("nav", "", "", 0, text("d")),
	}, Options{})
	require.NoError(t, err)

	infos := reg.Describe()
	require.Len(t, infos, 3)

	assert.Equal(t, "nav", infos[0].Name)
	assert.Equal(t, &DelegateInfo{Package: "fancy", Priority: 1}, infos[0].Delegate)
	assert.Equal(t, &DelegateInfo{}, infos[1].Delegate)

	assert.Equal(t, TemplateInfo{
		Name:   "page",
		Kind:   "html",
		Source: "site.yaml",
		Params: []ParamInfo{
			{Name: "title", Type: "string", Required: true},
			{Name: "user", Type: "?string", Injected: true},
		},
	}, infos[2])
}
