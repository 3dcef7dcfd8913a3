package renderer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

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

func text(s string) ast.Node { return &ast.RawText{Text: s} }

func show(name string) ast.Node {
	return &ast.Print{Expr: &ast.ParamRef{Typed: ast.Typed{T: types.StringType}, Name: name}}
}

func buildRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	page := &ast.Template{
		Name:   "page",
		Kind:   value.ContentHTML,
		Params: []ast.Param{{Name: "a", Type: types.StringType, Required: true}, {Name: "b", Type: types.StringType, Required: true}},
		Body:   []ast.Node{text("<"), show("a"), text("|"), show("b"), text(">")},
	}
	rows := &ast.Template{
		Name:   "rows",
		Kind:   value.ContentHTML,
		Params: []ast.Param{{Name: "items", Type: types.ListOf(types.AnyType), Required: true}},
		Body: []ast.Node{&ast.ForEach{
			Var:  "x",
			List: &ast.ParamRef{Typed: ast.Typed{T: types.ListOf(types.AnyType)}, Name: "items"},
			Body: []ast.Node{text("row"), &ast.Print{Expr: &ast.VarRef{Typed: ast.Typed{T: types.AnyType}, Name: "x"}}, text(";")},
		}},
	}
	reg, err := registry.Build([]*ast.Template{page, rows}, registry.Options{})
	require.NoError(t, err)
	return reg
}

func rowItems(n int) []any {
	items := make([]any, n)
	for i := range items {
		items[i] = i
	}
	return items
}

func TestInvokeResumes(t *testing.T) {
	reg := buildRegistry(t)
	fa, fb := value.NewFuture(), value.NewFuture()
	buf := output.NewBufferingSink()
	params := map[string]any{"a": fa, "b": fb}

	state, res, err := Invoke(nil, reg, "page", params, nil, buf, nil)
	require.NoError(t, err)
	assert.Equal(t, render.KindDetach, res.Kind())
	assert.Same(t, fa, res.Pending())
	assert.Equal(t, "<", buf.String())

	fa.Complete(value.String("x"))
	state, res, err = Invoke(state, reg, "ignored", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Same(t, fb, res.Pending())
	assert.Equal(t, "<x|", buf.String())

	fb.Complete(value.String("y"))
	_, res, err = Invoke(state, reg, "", nil, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.IsDone())
	assert.Equal(t, "<x|y>", buf.String())
}

func TestInvokeUnknownTemplate(t *testing.T) {
	_, _, err := Invoke(nil, buildRegistry(t), "nope", nil, nil, output.NewBufferingSink(), nil)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeTemplateNotFound))
}

func TestDriveWaitsOnFutures(t *testing.T) {
	reg := buildRegistry(t)
	buf := output.NewBufferingSink()
	r, err := reg.NewRenderer("page", map[string]any{
		"a": Delayed(value.String("late"), 5*time.Millisecond),
		"b": value.Resolved(value.String("now")),
	}, nil, buf, nil)
	require.NoError(t, err)

	require.NoError(t, Drive(context.Background(), r, buf))
	assert.Equal(t, "<late|now>", buf.String())
}

func TestDriveCancelAbandons(t *testing.T) {
	reg := buildRegistry(t)
	buf := output.NewBufferingSink()
	never := value.NewFuture()
	r, err := reg.NewRenderer("page", map[string]any{"a": never, "b": "b"}, nil, buf, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = Drive(ctx, r, buf)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = r.Render()
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeAbandoned))
}

func TestDriveFlushesAtSoftLimit(t *testing.T) {
	reg := buildRegistry(t)
	var out recordingWriter
	sink := output.NewWriterSink(&out, 8)
	r, err := reg.NewRenderer("rows", map[string]any{"items": rowItems(5)}, nil, sink, nil)
	require.NoError(t, err)

	require.NoError(t, Drive(context.Background(), r, sink))
	assert.Equal(t, "row0;row1;row2;row3;row4;", out.String())
	assert.Greater(t, out.writes, 1, "output reaches the writer in several flushes")
}

func TestDriveFlushesAtDefaultSoftLimit(t *testing.T) {
	reg := buildRegistry(t)
	var out recordingWriter
	sink := output.NewWriterSink(&out, 4096)
	r, err := reg.NewRenderer("rows", map[string]any{"items": rowItems(3000)}, nil, sink, nil)
	require.NoError(t, err)

	res, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, render.KindLimited, res.Kind(), "a 4096 byte limit produces backpressure")

	require.NoError(t, Drive(context.Background(), r, sink))
	assert.True(t, strings.HasSuffix(out.String(), "row2999;"))
	assert.GreaterOrEqual(t, out.writes, 5)
}

func TestDriveStuckSink(t *testing.T) {
	reg := buildRegistry(t)
	buf := output.NewBufferingSink()
	sink := output.WithSoftLimit(buf, func() bool { return true })
	r, err := reg.NewRenderer("rows", map[string]any{"items": rowItems(1)}, nil, sink, nil)
	require.NoError(t, err)

	err = Drive(context.Background(), r, sink)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeSinkFailed))
}

type opaque struct{ value.Value }

func (opaque) Kind() value.Kind              { return value.KindPending }
func (opaque) Ready() bool                   { return false }
func (opaque) Resolve() (value.Value, error) { return nil, value.ErrNotReady }

func TestDriveUnwaitableProvider(t *testing.T) {
	reg := buildRegistry(t)
	buf := output.NewBufferingSink()
	r, err := reg.NewRenderer("page", map[string]any{"a": opaque{value.Null}, "b": "b"}, nil, buf, nil)
	require.NoError(t, err)

	err = Drive(context.Background(), r, buf)
	assert.True(t, serrors.IsDataError(err))
}

func TestRendererFollowsHolder(t *testing.T) {
	holder := registry.NewHolder(nil)
	rd := New(holder, Options{})

	_, err := rd.RenderString(context.Background(), "page", nil, nil)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeTemplateNotFound))

	holder.Swap(buildRegistry(t))
	got, err := rd.RenderString(context.Background(), "page", map[string]any{"a": "1", "b": "2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<1|2>", got)
}

func TestComponent(t *testing.T) {
	rd := New(registry.NewHolder(buildRegistry(t)), Options{SoftLimit: 4})
	var buf bytes.Buffer
	c := rd.Component("rows", map[string]any{"items": rowItems(3)})
	require.NoError(t, c.Render(context.Background(), &buf))
	assert.Equal(t, "row0;row1;row2;", buf.String())

	err := rd.Component("rows", nil).Render(context.Background(), &buf)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeMissingParam))
}

func TestConcurrentDrives(t *testing.T) {
	rd := New(registry.NewHolder(buildRegistry(t)), Options{})
	var wg sync.WaitGroup
	errs := make([]error, 16)
	outs := make([]string, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = rd.RenderString(context.Background(), "page", map[string]any{
				"a": Delayed(value.String(strings.Repeat("a", i)), time.Millisecond),
				"b": "b",
			}, nil)
		}(i)
	}
	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, "<"+strings.Repeat("a", i)+"|b>", outs[i])
	}
}

type recordingWriter struct {
	bytes.Buffer
	writes int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	w.writes++
	return w.Buffer.Write(p)
}
