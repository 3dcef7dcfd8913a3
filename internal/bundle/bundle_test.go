package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

const shop = `
namespace: shop
templates:
  - name: .page
    params:
      - {name: title, type: string}
      - {name: items, type: "list<string>"}
      - {name: limit, type: int, default: 2}
      - {name: user, type: "?string", injected: true, optional: true}
    body:
      - text: "<h1>"
      - print: {param: title}
        directives: [escapeHtml]
      - text: "</h1>"
      - let: count
        value: {call: length, args: [{param: items}]}
      - for: item
        in: {param: items}
        body:
          - if: {op: "<", args: [{call: index, args: [{var: item}]}, {param: limit}]}
            then:
              - call: .row
                params:
                  - {name: label, value: {var: item}}
                  - name: extra
                    kind: html
                    body: ["#", {print: {call: index, args: [{var: item}]}}]
        ifempty:
          - text: "nothing"
      - switch: {var: count}
        cases:
          - case: 0
            body: [" none"]
          - case: [1, 2]
            body: [" few"]
        default: [" many"]
      - if: {op: "!=", args: [{ij: user}, null]}
        then: [" for ", {print: {ij: user}}]
  - name: .row
    params:
      - {name: label, type: string}
      - {name: extra, type: html, optional: true}
    body:
      - "<li>"
      - print: {param: label}
      - print: {op: "??", args: [{param: extra}, ""]}
      - "</li>"
  - name: .menu
    delegate: {package: fancy}
    body: ["fancy"]
`

func TestDecodeShape(t *testing.T) {
	ts, err := Parse([]byte(shop), "shop.yaml")
	require.NoError(t, err)
	require.Len(t, ts, 3)

	page := ts[0]
	assert.Equal(t, "shop.page", page.Name)
	assert.Equal(t, value.ContentHTML, page.Kind)
	assert.Equal(t, "shop.yaml", page.Source)

	require.Len(t, page.Params, 4)
	assert.True(t, page.Params[0].Required)
	assert.True(t, page.Params[1].Type.Equal(types.ListOf(types.StringType)))
	assert.False(t, page.Params[2].Required)
	assert.NotNil(t, page.Params[2].Default)
	assert.True(t, page.Params[3].Injected)

	let, ok := page.Body[3].(*ast.LetValue)
	require.True(t, ok)
	assert.Equal(t, "count", let.Name)
	assert.True(t, let.Value.Type().Equal(types.IntType))

	loop, ok := page.Body[4].(*ast.ForEach)
	require.True(t, ok)
	assert.Len(t, loop.IfEmpty, 1)
	cond := loop.Body[0].(*ast.If).Branches[0]
	call := cond.Body[0].(*ast.Call)
	assert.Equal(t, "shop.row", call.Callee)
	require.Len(t, call.Params, 2)
	assert.True(t, call.Params[0].Value.Type().Equal(types.StringType), "loop variable takes the element type")
	assert.True(t, call.Params[1].IsContent)

	sw := page.Body[5].(*ast.Switch)
	assert.True(t, sw.HasDefault)
	assert.Len(t, sw.Cases[1].Values, 2)

	row := ts[1]
	assert.True(t, row.Params[1].Type.Nullable, "optional params are nullable")

	menu := ts[2]
	assert.Equal(t, &ast.Delegate{Package: "fancy", Priority: DefaultDelegatePriority}, menu.Delegate)
}

func renderShop(t *testing.T, params, injected map[string]any) string {
	t.Helper()
	ts, err := Parse([]byte(shop), "shop.yaml")
	require.NoError(t, err)
	reg, err := registry.Build(ts, registry.Options{})
	require.NoError(t, err)

	buf := output.NewBufferingSink()
	r, err := reg.NewRenderer("shop.page", params, injected, buf, &render.Context{})
	require.NoError(t, err)
	res, err := r.Render()
	require.NoError(t, err)
	require.True(t, res.IsDone())
	return buf.String()
}

func TestDecodedBundleRenders(t *testing.T) {
	got := renderShop(t, map[string]any{
		"title": "A&B",
		"items": []any{"x", "y", "z"},
	}, map[string]any{"user": "ann"})
	want := "<h1>A&amp;B</h1><li>x#0</li><li>y#1</li> many for ann"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	got = renderShop(t, map[string]any{"title": "T", "items": []any{}}, nil)
	assert.Equal(t, "<h1>T</h1>nothing none", got)
}

func TestExplicitType(t *testing.T) {
	ts, err := Parse([]byte(`
templates:
  - name: t
    params: [{name: p}]
    body:
      - print: {param: p, type: int}
`), "t.yaml")
	require.NoError(t, err)
	pr := ts[0].Body[0].(*ast.Print)
	assert.True(t, pr.Expr.Type().Equal(types.IntType))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code string
		want string
	}{
		{
			name: "unknown statement",
			src:  "templates: [{name: t, body: [{loop: x}]}]",
			code: serrors.ErrCodeInvalidTemplate,
			want: "unknown statement",
		},
		{
			name: "unknown param",
			src:  "templates: [{name: t, body: [{print: {param: nope}}]}]",
			code: serrors.ErrCodeUnknownVariable,
			want: "$nope",
		},
		{
			name: "variable out of scope",
			src: `templates:
  - name: t
    body:
      - for: i
        range: [3]
      - print: {var: i}`,
			code: serrors.ErrCodeUnknownVariable,
			want: "t.yaml:6:",
		},
		{
			name: "bad type",
			src:  "templates: [{name: t, params: [{name: p, type: 'list<'}]}]",
			code: serrors.ErrCodeInvalidTemplate,
			want: "unterminated",
		},
		{
			name: "range arity",
			src:  "templates: [{name: t, body: [{for: i, range: [1, 2, 3, 4]}]}]",
			code: serrors.ErrCodeInvalidTemplate,
			want: "one to three",
		},
		{
			name: "let with value and body",
			src:  "templates: [{name: t, body: [{let: x, value: 1, body: []}]}]",
			code: serrors.ErrCodeInvalidTemplate,
			want: "both a value and a body",
		},
		{
			name: "unknown key",
			src:  "templates: [{name: t, colour: red}]",
			code: serrors.ErrCodeInvalidTemplate,
			want: `unknown key "colour"`,
		},
		{
			name: "malformed yaml",
			src:  "templates: [",
			code: serrors.ErrCodeInvalidTemplate,
			want: "t.yaml",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "t.yaml")
			require.Error(t, err)
			assert.True(t, serrors.HasCode(err, tt.code), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMultipleDocuments(t *testing.T) {
	src := "templates: [{name: a, body: [a]}]\n---\nnamespace: ns\ntemplates: [{name: .b, body: [b]}]\n"
	ts, err := Decode(strings.NewReader(src), "multi.yaml")
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "a", ts[0].Name)
	assert.Equal(t, "ns.b", ts[1].Name)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b.yaml", "templates: [{name: b}]")
	write("sub/a.yml", "templates: [{name: a}]")
	write("notes.txt", "not a bundle")

	ts, err := Load(dir)
	require.NoError(t, err)
	var names []string
	for _, tmpl := range ts {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"b", "a"}, names)
	assert.Equal(t, filepath.Join(dir, "sub", "a.yml"), ts[1].Source)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeFileNotFound))
}

func TestLoadFilesCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	bad1 := filepath.Join(dir, "one.yaml")
	bad2 := filepath.Join(dir, "two.yaml")
	require.NoError(t, os.WriteFile(bad1, []byte("templates: [{body: []}]"), 0o644))
	require.NoError(t, os.WriteFile(bad2, []byte("templates: 3"), 0o644))

	_, err := LoadFiles(bad1, bad2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one.yaml")
	assert.Contains(t, err.Error(), "two.yaml")
}

func TestIsBundleFile(t *testing.T) {
	assert.True(t, IsBundleFile("a/b.yaml"))
	assert.True(t, IsBundleFile("B.YML"))
	assert.False(t, IsBundleFile("b.json"))
}
