package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

func TestVarRefsDeduplicates(t *testing.T) {
	x := &VarRef{Typed: Typed{T: types.IntType}, Name: "x"}
	y := &VarRef{Typed: Typed{T: types.IntType}, Name: "y"}
	e := &Binary{Op: OpAdd, X: x, Y: &Binary{Op: OpMul, X: y, Y: x}}

	assert.Equal(t, []string{"x", "y"}, VarRefs(e))
}

func TestReferencesLooksIntoNestedBodies(t *testing.T) {
	body := []Node{
		&RawText{Text: "a"},
		&If{Branches: []IfBranch{{
			Cond: &Literal{Typed: Typed{T: types.BoolType}, Value: value.Bool(true)},
			Body: []Node{&Print{Expr: &VarRef{Name: "greeting"}}},
		}}},
	}

	assert.True(t, References(body, "greeting"))
	assert.False(t, References(body, "other"))
}

func TestExprsIncludesDirectiveArgs(t *testing.T) {
	arg := &Literal{Value: value.Int(3)}
	p := &Print{
		Expr:       &ParamRef{Name: "s"},
		Directives: []Directive{{Name: "truncate", Args: []Expr{arg}}},
	}

	got := Exprs(p)
	assert.Len(t, got, 2)
	assert.Same(t, arg, got[1])
}
