package compiler

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

func TestRenderWithoutPendingValuesCompletesInOneCall(t *testing.T) {
	h := newHarness(t)
	item := local("it", strT)
	h.compile(tmpl("page",
		[]ast.Param{
			required("name", strT),
			required("items", types.ListOf(strT)),
			required("n", intT),
		},
		text("Hi "),
		show(param("name", strT)),
		text(":"),
		&ast.ForEach{
			Var:  "it",
			List: param("items", types.ListOf(strT)),
			Body: []ast.Node{
				show(item),
				&ast.If{Branches: []ast.IfBranch{{
					Cond: not(fn("isLast", boolT, item)),
					Body: []ast.Node{text(",")},
				}}},
			},
			IfEmpty: []ast.Node{text("none")},
		},
		text("|"),
		rangeLoop("i", nil, lit(3, intT), nil, show(local("i", intT))),
		text("|"),
		&ast.Switch{
			Expr: param("n", intT),
			Cases: []ast.SwitchCase{
				{Values: []ast.Expr{lit(1, intT), lit(2, intT)}, Body: []ast.Node{text("low")}},
				{Values: []ast.Expr{lit(3, intT)}, Body: []ast.Node{text("three")}},
			},
			Default:    []ast.Node{text("other")},
			HasDefault: true,
		},
		&ast.LetValue{Name: "double", Value: bin(ast.OpMul, param("n", intT), lit(2, intT), intT)},
		show(local("double", intT)),
	))

	buf := output.NewBufferingSink()
	r := h.start("page", map[string]any{
		"name":  "Ann",
		"items": []any{"a", "b", "c"},
		"n":     3,
	}, buf)
	renderAll(t, r)
	if diff := cmp.Diff("Hi Ann:a,b,c|012|three6", buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	renderAll(t, h.start("page", map[string]any{"name": "Bo", "items": []any{}, "n": 9}, buf))
	assert.Equal(t, "Hi Bo:none|012|other18", buf.String())
}

func TestDetachAtPendingParamAndResume(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("greet", []ast.Param{required("name", strT)},
		text("hello "),
		show(param("name", strT)),
	))

	fut := value.NewFuture()
	buf := output.NewBufferingSink()
	r := h.start("greet", map[string]any{"name": fut}, buf)

	res, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, render.KindDetach, res.Kind())
	assert.Same(t, fut, res.Pending())
	assert.Equal(t, "hello ", buf.String())
	assert.NotNil(t, r.Frame())

	again, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, res.Kind(), again.Kind())
	assert.Same(t, fut, again.Pending())
	assert.Equal(t, "hello ", buf.String(), "no progress while unresolved")

	fut.Complete(value.String("world"))
	res, err = r.Render()
	require.NoError(t, err)
	assert.True(t, res.IsDone())
	assert.Equal(t, "hello world", buf.String())
	assert.Nil(t, r.Frame())
}

func TestLoopOfPendingValuesDetachesOncePerValue(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("list", []ast.Param{required("xs", types.ListOf(strT))},
		&ast.ForEach{Var: "x", List: param("xs", types.ListOf(strT)), Body: []ast.Node{
			text("["), show(local("x", strT)), text("]"),
		}},
	))

	futs := []*value.Future{value.NewFuture(), value.NewFuture(), value.NewFuture()}
	items := []any{futs[0], futs[1], futs[2]}
	buf := output.NewBufferingSink()
	r := h.start("list", map[string]any{"xs": items}, buf)

	var slices []string
	seen := 0
	detaches := 0
	for {
		res, err := r.Render()
		require.NoError(t, err)
		slices = append(slices, buf.String()[seen:])
		seen = buf.Len()
		if res.IsDone() {
			break
		}
		require.Equal(t, render.KindDetach, res.Kind())
		require.Same(t, futs[detaches], res.Pending())
		futs[detaches].Complete(value.String("v" + string(rune('0'+detaches))))
		detaches++
	}
	assert.Equal(t, 3, detaches)
	assert.Equal(t, []string{"[", "v0][", "v1][", "v2]"}, slices)
	assert.Equal(t, "[v0][v1][v2]", buf.String())
}

func TestSoftLimitStopsAtEntry(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", nil, text("body")))

	limited := true
	buf := output.NewBufferingSink()
	sink := output.WithSoftLimit(buf, func() bool { return limited })
	r := h.start("t", nil, sink)

	res, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, render.KindLimited, res.Kind())
	assert.Nil(t, res.Pending())
	assert.Empty(t, buf.String())

	limited = false
	renderAll(t, r)
	assert.Equal(t, "body", buf.String())
}

func TestSoftLimitCheckedOverPrimitiveElements(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("xs", types.ListOf(intT))},
		&ast.ForEach{Var: "x", List: param("xs", types.ListOf(intT)), Body: []ast.Node{
			show(local("x", intT)),
		}},
	))

	fut := value.NewFuture()
	buf := output.NewBufferingSink()
	sink := output.WithSoftLimit(buf, func() bool { return buf.Len() >= 2 })
	r := h.start("t", map[string]any{"xs": []any{1, 2, fut, 4}}, sink)

	res, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, render.KindLimited, res.Kind())
	assert.Equal(t, "12", buf.String())

	buf.Reset()
	res, err = r.Render()
	require.NoError(t, err)
	require.Equal(t, render.KindDetach, res.Kind())
	assert.Same(t, fut, res.Pending())

	fut.Complete(value.Int(3))
	renderAll(t, r)
	assert.Equal(t, "34", buf.String())
}

func TestSoftLimitCheckedAtLoopHeads(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("xs", types.ListOf(anyT))},
		&ast.ForEach{Var: "x", List: param("xs", types.ListOf(anyT)), Body: []ast.Node{
			show(local("x", anyT)),
		}},
	))

	buf := output.NewBufferingSink()
	sink := output.WithSoftLimit(buf, func() bool { return buf.Len() >= 2 })
	r := h.start("t", map[string]any{"xs": []any{1, 2, 3, 4}}, sink)

	res, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, render.KindLimited, res.Kind())
	assert.Equal(t, "12", buf.String())

	buf.Reset()
	renderAll(t, r)
	assert.Equal(t, "34", buf.String())
}

func TestSwitch(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("v", anyT)},
		&ast.Switch{
			Expr: param("v", anyT),
			Cases: []ast.SwitchCase{
				{Values: []ast.Expr{lit("12", strT)}, Body: []ast.Node{text("first")}},
				{Values: []ast.Expr{lit(12, intT)}, Body: []ast.Node{text("second")}},
				{Values: []ast.Expr{lit(nil, types.NullType)}, Body: []ast.Node{text("null")}},
			},
		},
	))

	tests := []struct {
		name string
		v    any
		want string
	}{
		{"first match wins", 12.0, "first"},
		{"numeric string equals number", "12.0", "second"},
		{"null matches null", nil, "null"},
		{"no match and no default", "a", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := output.NewBufferingSink()
			renderAll(t, h.start("t", map[string]any{"v": tt.v}, buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestForRange(t *testing.T) {
	tests := []struct {
		name              string
		start, stop, step ast.Expr
		want              string
	}{
		{"start stop step", lit(2, intT), lit(10, intT), lit(2, intT), "2468"},
		{"empty range", lit(2, intT), lit(2, intT), nil, ""},
		{"stop only", nil, lit(4, intT), nil, "0123"},
		{"integral float bounds", lit(1.0, types.FloatType), lit(3, intT), nil, "12"},
		{"step past max int", lit(int64(math.MaxInt64-1), intT), lit(int64(math.MaxInt64), intT), lit(5, intT), "9223372036854775806"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.compile(tmpl("t", nil, rangeLoop("i", tt.start, tt.stop, tt.step, show(local("i", intT)))))
			buf := output.NewBufferingSink()
			renderAll(t, h.start("t", nil, buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestForRangeRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name              string
		start, stop, step ast.Expr
	}{
		{"zero step", lit(0, intT), lit(3, intT), lit(0, intT)},
		{"negative step", lit(3, intT), lit(0, intT), lit(-1, intT)},
		{"length overflows", lit(int64(math.MinInt64), intT), lit(int64(math.MaxInt64), intT), nil},
		{"fractional bound", lit(0, intT), lit(2.5, types.FloatType), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.compile(tmpl("t", nil, rangeLoop("i", tt.start, tt.stop, tt.step, text("x"))))
			buf := output.NewBufferingSink()
			r := h.start("t", nil, buf)
			_, err := r.Render()
			require.Error(t, err)
			assert.True(t, serrors.IsArgumentError(err))
			assert.True(t, serrors.HasCode(err, serrors.ErrCodeInvalidRange))
			assert.Empty(t, buf.String())

			_, again := r.Render()
			assert.Equal(t, err, again, "fatal errors are not retried")
		})
	}
}

func TestIfElseChain(t *testing.T) {
	h := newHarness(t)
	n := param("n", intT)
	h.compile(tmpl("t", []ast.Param{required("n", intT)},
		&ast.If{
			Branches: []ast.IfBranch{
				{Cond: bin(ast.OpLess, n, lit(0, intT), boolT), Body: []ast.Node{text("neg")}},
				{Cond: bin(ast.OpEq, n, lit(0, intT), boolT), Body: []ast.Node{text("zero")}},
			},
			Else: []ast.Node{text("pos")},
		},
	))
	for n, want := range map[int]string{-4: "neg", 0: "zero", 7: "pos"} {
		buf := output.NewBufferingSink()
		renderAll(t, h.start("t", map[string]any{"n": n}, buf))
		assert.Equal(t, want, buf.String())
	}
}

func TestCastErrorIsFatal(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("n", intT)},
		text("a"),
		show(bin(ast.OpAdd, param("n", intT), lit(1, intT), intT)),
	))
	buf := output.NewBufferingSink()
	r := h.start("t", map[string]any{"n": "x"}, buf)
	_, err := r.Render()
	require.Error(t, err)
	assert.True(t, serrors.IsCastError(err))
	assert.Equal(t, "a", buf.String())

	var se *serrors.SojournError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "t", se.Template)
}

func TestMissingRequiredParam(t *testing.T) {
	h := newHarness(t)
	tm := h.compile(tmpl("t", []ast.Param{required("title", strT)}, show(param("title", strT))))
	_, err := tm.NewRenderer(nil, nil, output.NewBufferingSink(), nil, h.linker)
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeMissingParam))
	assert.Contains(t, err.Error(), "title")
}

func TestOptionalParams(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t",
		[]ast.Param{
			{Name: "greeting", Type: strT, Default: lit("hi", strT)},
			{Name: "extra", Type: strT.OrNull()},
		},
		show(param("greeting", strT)),
		text(" "),
		show(param("extra", strT.OrNull())),
	))
	buf := output.NewBufferingSink()
	renderAll(t, h.start("t", nil, buf))
	assert.Equal(t, "hi undefined", buf.String())

	buf.Reset()
	renderAll(t, h.start("t", map[string]any{"greeting": "yo", "extra": "!"}, buf))
	assert.Equal(t, "yo !", buf.String())
}

func TestDuplicateLetIsCompileError(t *testing.T) {
	at := tmpl("t", nil,
		&ast.LetValue{Name: "x", Value: lit(1, intT)},
		&ast.LetValue{Name: "x", Value: lit(2, intT)},
		show(local("x", intT)),
	)
	_, err := Compile(at, Options{})
	require.Error(t, err)
	assert.True(t, serrors.IsCompileError(err))
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeDuplicateSlot))
}

func TestUnknownDirectiveIsCompileError(t *testing.T) {
	at := tmpl("t", nil, show(lit("x", strT), ast.Directive{Name: "shout"}))
	_, err := Compile(at, Options{})
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeUnknownDirective))
}

func TestPrintDirectives(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("s", strT)},
		show(param("s", strT), ast.Directive{Name: "escapeHtml"}),
		text("|"),
		show(param("s", strT), ast.Directive{Name: "truncate", Args: []ast.Expr{lit(3, intT)}}, ast.Directive{Name: "upper"}),
	))
	buf := output.NewBufferingSink()
	renderAll(t, h.start("t", map[string]any{"s": "<b>"}, buf))
	assert.Equal(t, "&lt;b&gt;|<B>", buf.String())
}

func TestLayoutsAreSharedAcrossSaveSites(t *testing.T) {
	h := newHarness(t)
	a := h.compile(tmpl("a", []ast.Param{required("p", strT)},
		show(param("p", strT)), text("-"), show(param("p", strT)),
	))
	b := h.compile(tmpl("b", []ast.Param{required("q", strT)},
		text("x"), show(param("q", strT)),
	))
	la, lb := a.Layouts(), b.Layouts()
	require.Len(t, la, 2, "entry safe point and print")
	require.Len(t, lb, 2)
	for i := range la {
		assert.Same(t, la[i], lb[i])
	}
	assert.Equal(t, 2, h.opts.Layouts.Len())
}

func TestAbandonedRenderCannotResume(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("p", strT)}, text("a"), show(param("p", strT))))

	fut := value.NewFuture()
	buf := output.NewBufferingSink()
	r := h.start("t", map[string]any{"p": fut}, buf)
	res, err := r.Render()
	require.NoError(t, err)
	require.Equal(t, render.KindDetach, res.Kind())

	r.Abandon()
	assert.Nil(t, r.Frame())
	assert.False(t, fut.Ready(), "pending values are not cancelled")

	fut.Complete(value.String("b"))
	_, err = r.Render()
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeAbandoned))
	assert.Equal(t, "a", buf.String())
}

func TestAbandonAfterDoneIsNoop(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", nil, text("a")))
	r := h.start("t", nil, output.NewBufferingSink())
	renderAll(t, r)
	r.Abandon()
	renderAll(t, r)
}

func TestLogStatement(t *testing.T) {
	h := newHarness(t)
	logger := &captureLogger{}
	h.rc = &render.Context{Logger: logger}
	h.compile(tmpl("t", []ast.Param{required("n", intT)},
		text("a"),
		&ast.Log{Body: []ast.Node{text("n="), show(param("n", intT))}},
		text("b"),
	))
	buf := output.NewBufferingSink()
	renderAll(t, h.start("t", map[string]any{"n": 5}, buf))
	assert.Equal(t, "ab", buf.String())
	assert.Equal(t, []string{"n=5"}, logger.infos)
}

func TestDebugInfoTracesSuspensions(t *testing.T) {
	h := newHarness(t)
	logger := &captureLogger{}
	h.rc = &render.Context{Logger: logger, DebugInfo: true}
	h.compile(tmpl("t", []ast.Param{required("p", strT)}, show(param("p", strT))))

	fut := value.NewFuture()
	r := h.start("t", map[string]any{"p": fut}, output.NewBufferingSink())
	_, err := r.Render()
	require.NoError(t, err)
	fut.Complete(value.String("x"))
	renderAll(t, r)
	assert.Equal(t, []string{"render suspended", "render resumed"}, logger.debugs)
}

func TestFailedFutureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t", []ast.Param{required("p", strT)}, show(param("p", strT))))
	fut := value.NewFuture()
	fut.Fail(assert.AnError)
	_, err := h.start("t", map[string]any{"p": fut}, output.NewBufferingSink()).Render()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeFutureFailed))
}

func TestSiblingStatementsDoNotSeeReusedCells(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t",
		[]ast.Param{required("a", anyT), required("b", anyT), required("c", anyT)},
		&ast.If{Branches: []ast.IfBranch{{
			Cond: param("a", anyT),
			Body: []ast.Node{
				&ast.LetValue{Name: "y", Value: param("b", anyT)},
				show(local("y", anyT)),
			},
		}}},
		text("|"),
		show(param("c", anyT)),
	))

	buf := output.NewBufferingSink()
	renderAll(t, h.start("t", map[string]any{"a": true, "b": "B", "c": "C"}, buf))
	assert.Equal(t, "B|C", buf.String())
}

func TestResumedInstructionKeepsItsMemo(t *testing.T) {
	h := newHarness(t)
	h.compile(tmpl("t",
		[]ast.Param{required("a", anyT), required("b", anyT), required("c", anyT)},
		&ast.If{Branches: []ast.IfBranch{{
			Cond: param("a", anyT),
			Body: []ast.Node{
				&ast.LetValue{Name: "y", Value: param("b", anyT)},
				show(local("y", anyT)),
			},
		}}},
		text("|"),
		show(bin(ast.OpAdd, param("b", anyT), param("c", anyT), anyT)),
	))

	fut := value.NewFuture()
	buf := output.NewBufferingSink()
	r := h.start("t", map[string]any{"a": true, "b": "B", "c": fut}, buf)

	res, err := r.Render()
	require.NoError(t, err)
	require.Equal(t, render.KindDetach, res.Kind())
	assert.Equal(t, "B|", buf.String())

	fut.Complete(value.String("C"))
	renderAll(t, r)
	assert.Equal(t, "B|BC", buf.String())
}
