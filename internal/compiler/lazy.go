package compiler

import (
	"slices"

	"github.com/conneroisu/sojourn/internal/ast"
)

// letMode says how a value let is compiled.
type letMode uint8

const (
	letSkip letMode = iota
	letEager
	letLazy
)

// classifyLet decides how the let at rest[0] is compiled. A let nobody
// reads is skipped. It is evaluated eagerly when the first statement that
// reads it does so on every path through that statement, and lazily
// otherwise.
func classifyLet(rest []ast.Node) letMode {
	let := rest[0].(*ast.LetValue)
	for i := 1; i < len(rest); i++ {
		n := rest[i]
		if !ast.References([]ast.Node{n}, let.Name) {
			continue
		}
		if other, ok := n.(*ast.LetValue); ok {
			if other.Name == let.Name {
				// Shadowed in the same block; the compiler rejects this.
				return letEager
			}
			if readsUnconditionally(other.Value, let.Name) && classifyLet(rest[i:]) == letEager {
				return letEager
			}
			return letLazy
		}
		for _, e := range headExprs(n) {
			if readsUnconditionally(e, let.Name) {
				return letEager
			}
		}
		return letLazy
	}
	return letSkip
}

// headExprs returns the expressions a statement always evaluates when it
// runs.
func headExprs(n ast.Node) []ast.Expr {
	var out []ast.Expr
	add := func(es ...ast.Expr) {
		for _, e := range es {
			if e != nil {
				out = append(out, e)
			}
		}
	}
	switch x := n.(type) {
	case *ast.Print:
		add(x.Expr)
		for _, d := range x.Directives {
			add(d.Args...)
		}
	case *ast.If:
		if len(x.Branches) > 0 {
			add(x.Branches[0].Cond)
		}
	case *ast.Switch:
		add(x.Expr)
	case *ast.ForRange:
		add(x.Start, x.Stop, x.Step)
	case *ast.ForEach:
		add(x.List)
	case *ast.Call:
		add(x.Variant, x.DataExpr)
		for _, p := range x.Params {
			add(p.Value)
		}
		for _, d := range x.Directives {
			add(d.Args...)
		}
	}
	return out
}

// readsUnconditionally reports whether evaluating e always reads the
// variable name.
func readsUnconditionally(e ast.Expr, name string) bool {
	found := false
	var walk func(ast.Expr)
	walk = func(e ast.Expr) {
		if e == nil || found {
			return
		}
		switch x := e.(type) {
		case *ast.VarRef:
			found = x.Name == name
		case *ast.Ternary:
			walk(x.Cond)
		case *ast.Binary:
			walk(x.X)
			switch x.Op {
			case ast.OpAnd, ast.OpOr, ast.OpNullCoal:
			default:
				walk(x.Y)
			}
		case *ast.ItemAccess:
			walk(x.X)
			if !x.NullSafe {
				walk(x.Key)
			}
		case *ast.FuncCall:
			switch x.Name {
			case "isFirst", "isLast", "index":
				return
			}
			for _, a := range x.Args {
				walk(a)
			}
		default:
			for _, c := range ast.Children(e) {
				walk(c)
			}
		}
	}
	walk(e)
	return found
}

// streamSite returns the print that is the only reader of the content let
// name in rest, provided it sits directly in rest and prints name bare. No
// let may come between the two, so the content renders at the print with
// the scope it was declared in.
func streamSite(name string, rest []ast.Node) *ast.Print {
	for i, n := range rest {
		switch x := n.(type) {
		case *ast.LetValue, *ast.LetContent:
			return nil
		case *ast.Print:
			if ref, ok := x.Expr.(*ast.VarRef); ok && ref.Name == name {
				for _, d := range x.Directives {
					for _, a := range d.Args {
						if slices.Contains(ast.VarRefs(a), name) {
							return nil
						}
					}
				}
				if ast.References(rest[i+1:], name) {
					return nil
				}
				return x
			}
		}
		if ast.References(rest[i:i+1], name) {
			return nil
		}
	}
	return nil
}
