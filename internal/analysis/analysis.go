// Package analysis decides which expressions and loop bodies can reach a
// detach point. The compiler uses the answers to skip memo cells and
// per-iteration safe points where suspension is impossible.
//
// Answers only trade speed for checkpoint precision: an expression judged
// safe that does meet a pending value still detaches correctly, it is just
// re-evaluated from the start on resume.
package analysis

import (
	"github.com/conneroisu/sojourn/internal/ast"
)

// Locals tells an analyzer which local names hold settled values at the
// point being asked about. A nil Locals settles nothing.
type Locals interface {
	Settled(name string) bool
}

// Analyzer answers suspension questions about a template.
type Analyzer interface {
	// ExprMaySuspend reports whether evaluating e can meet a pending value.
	ExprMaySuspend(e ast.Expr, in Locals) bool
	// BodyMaySuspend reports whether executing body can detach.
	BodyMaySuspend(body []ast.Node, in Locals) bool
}

// Conservative assumes anything reading caller data may suspend: param
// reads, field and item reads, every call, and reads of locals that in does
// not report settled. The declared type of a local says nothing here, as a
// lazy let or a for-each element of any type can still be pending.
type Conservative struct{}

var _ Analyzer = Conservative{}

func (Conservative) ExprMaySuspend(e ast.Expr, in Locals) bool {
	may := false
	ast.InspectExpr(e, func(x ast.Expr) bool {
		if may {
			return false
		}
		switch v := x.(type) {
		case *ast.ParamRef, *ast.FieldAccess, *ast.ItemAccess:
			may = true
		case *ast.VarRef:
			may = in == nil || !in.Settled(v.Name)
		case *ast.FuncCall:
			// Loop helpers read loop state, not the loop variable.
			if isLoopHelper(v.Name) {
				return false
			}
		}
		return !may
	})
	return may
}

func (c Conservative) BodyMaySuspend(body []ast.Node, in Locals) bool {
	in = shadow(in, body)
	may := false
	ast.Inspect(body, func(n ast.Node) bool {
		if may {
			return false
		}
		switch n.(type) {
		case *ast.Call, *ast.ForEach:
			may = true
			return false
		}
		for _, e := range ast.Exprs(n) {
			if c.ExprMaySuspend(e, in) {
				may = true
				return false
			}
		}
		return true
	})
	return may
}

// shadowed hides every name body binds again, since a body-local binding
// may be lazy even where the outer one is settled.
type shadowed struct {
	outer Locals
	names map[string]struct{}
}

func (s shadowed) Settled(name string) bool {
	if _, ok := s.names[name]; ok {
		return false
	}
	return s.outer != nil && s.outer.Settled(name)
}

func shadow(in Locals, body []ast.Node) Locals {
	if in == nil {
		return nil
	}
	names := map[string]struct{}{}
	ast.Inspect(body, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.LetValue:
			names[x.Name] = struct{}{}
		case *ast.LetContent:
			names[x.Name] = struct{}{}
		case *ast.ForEach:
			names[x.Var] = struct{}{}
		case *ast.ForRange:
			names[x.Var] = struct{}{}
		}
		return true
	})
	if len(names) == 0 {
		return in
	}
	return shadowed{outer: in, names: names}
}

func isLoopHelper(name string) bool {
	switch name {
	case "isFirst", "isLast", "index":
		return true
	}
	return false
}

// NeverSuspend claims nothing suspends. It suits bundles rendered only with
// fully resolved data and removes all checkpoint overhead.
type NeverSuspend struct{}

var _ Analyzer = NeverSuspend{}

func (NeverSuspend) ExprMaySuspend(ast.Expr, Locals) bool { return false }

func (NeverSuspend) BodyMaySuspend([]ast.Node, Locals) bool { return false }
