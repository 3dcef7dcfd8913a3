package ast

import (
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// Expr is a type-annotated expression.
type Expr interface {
	Type() types.Type
}

// Typed carries the static type of an expression.
type Typed struct {
	T types.Type
}

// Type returns the static type.
func (t Typed) Type() types.Type { return t.T }

// Operator names a unary or binary operator.
type Operator string

const (
	OpNeg       Operator = "-"
	OpNot       Operator = "not"
	OpAdd       Operator = "+"
	OpSub       Operator = "-"
	OpMul       Operator = "*"
	OpDiv       Operator = "/"
	OpMod       Operator = "%"
	OpLess      Operator = "<"
	OpLessEq    Operator = "<="
	OpGreater   Operator = ">"
	OpGreaterEq Operator = ">="
	OpEq        Operator = "=="
	OpNotEq     Operator = "!="
	OpAnd       Operator = "and"
	OpOr        Operator = "or"
	OpNullCoal  Operator = "??"
)

// Literal is a constant.
type Literal struct {
	Typed
	Value value.Value
}

// ParamRef reads a template parameter, or an injected parameter.
type ParamRef struct {
	Typed
	Name     string
	Injected bool
}

// VarRef reads a local variable: a let, a loop variable.
type VarRef struct {
	Typed
	Name string
}

// Unary applies "-" or "not".
type Unary struct {
	Typed
	Op Operator
	X  Expr
}

// Binary applies a binary operator. and, or and ?? short-circuit.
type Binary struct {
	Typed
	Op   Operator
	X, Y Expr
}

// Ternary evaluates only the taken branch.
type Ternary struct {
	Typed
	Cond, Then, Else Expr
}

// FieldAccess reads a record field. NullSafe yields null when X is null.
type FieldAccess struct {
	Typed
	X        Expr
	Field    string
	NullSafe bool
}

// ItemAccess indexes a list or map.
type ItemAccess struct {
	Typed
	X, Key   Expr
	NullSafe bool
}

// ListLit builds a list.
type ListLit struct {
	Typed
	Items []Expr
}

// MapLit builds a map from parallel key and value lists.
type MapLit struct {
	Typed
	Keys, Values []Expr
}

// RecordLit builds a record.
type RecordLit struct {
	Typed
	Names  []string
	Values []Expr
}

// FuncCall calls a builtin function.
type FuncCall struct {
	Typed
	Name string
	Args []Expr
}

// Children returns the direct subexpressions of e in evaluation order.
func Children(e Expr) []Expr {
	switch x := e.(type) {
	case *Unary:
		return []Expr{x.X}
	case *Binary:
		return []Expr{x.X, x.Y}
	case *Ternary:
		return []Expr{x.Cond, x.Then, x.Else}
	case *FieldAccess:
		return []Expr{x.X}
	case *ItemAccess:
		return []Expr{x.X, x.Key}
	case *ListLit:
		return x.Items
	case *MapLit:
		out := make([]Expr, 0, 2*len(x.Keys))
		for i := range x.Keys {
			out = append(out, x.Keys[i], x.Values[i])
		}
		return out
	case *RecordLit:
		return x.Values
	case *FuncCall:
		return x.Args
	}
	return nil
}

// InspectExpr walks e depth first, calling fn for each expression until fn
// returns false for a subtree.
func InspectExpr(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range Children(e) {
		InspectExpr(c, fn)
	}
}

// VarRefs returns the distinct local variable names read by e, in first
// occurrence order.
func VarRefs(e Expr) []string {
	var names []string
	seen := map[string]bool{}
	InspectExpr(e, func(x Expr) bool {
		if v, ok := x.(*VarRef); ok && !seen[v.Name] {
			seen[v.Name] = true
			names = append(names, v.Name)
		}
		return true
	})
	return names
}
