package ast

// Exprs returns the expressions a statement evaluates itself, excluding
// those of nested bodies. Directive arguments are included.
func Exprs(n Node) []Expr {
	var out []Expr
	add := func(es ...Expr) {
		for _, e := range es {
			if e != nil {
				out = append(out, e)
			}
		}
	}
	addDirectives := func(ds []Directive) {
		for _, d := range ds {
			add(d.Args...)
		}
	}
	switch x := n.(type) {
	case *Print:
		add(x.Expr)
		addDirectives(x.Directives)
	case *If:
		for _, b := range x.Branches {
			add(b.Cond)
		}
	case *Switch:
		add(x.Expr)
		for _, c := range x.Cases {
			add(c.Values...)
		}
	case *ForRange:
		add(x.Start, x.Stop, x.Step)
	case *ForEach:
		add(x.List)
	case *LetValue:
		add(x.Value)
	case *Call:
		add(x.Variant, x.DataExpr)
		for _, p := range x.Params {
			add(p.Value)
		}
		addDirectives(x.Directives)
	}
	return out
}

// Bodies returns the nested statement lists of n.
func Bodies(n Node) [][]Node {
	switch x := n.(type) {
	case *If:
		out := make([][]Node, 0, len(x.Branches)+1)
		for _, b := range x.Branches {
			out = append(out, b.Body)
		}
		return append(out, x.Else)
	case *Switch:
		out := make([][]Node, 0, len(x.Cases)+1)
		for _, c := range x.Cases {
			out = append(out, c.Body)
		}
		return append(out, x.Default)
	case *ForRange:
		return [][]Node{x.Body}
	case *ForEach:
		return [][]Node{x.Body, x.IfEmpty}
	case *LetContent:
		return [][]Node{x.Body}
	case *Call:
		var out [][]Node
		for _, p := range x.Params {
			if p.IsContent {
				out = append(out, p.Body)
			}
		}
		return out
	case *Log:
		return [][]Node{x.Body}
	}
	return nil
}

// Inspect walks nodes depth first, calling fn for every statement until fn
// returns false for a subtree.
func Inspect(nodes []Node, fn func(Node) bool) {
	for _, n := range nodes {
		if !fn(n) {
			continue
		}
		for _, b := range Bodies(n) {
			Inspect(b, fn)
		}
	}
}

// References reports whether any statement in nodes reads the local
// variable name.
func References(nodes []Node, name string) bool {
	found := false
	Inspect(nodes, func(n Node) bool {
		if found {
			return false
		}
		for _, e := range Exprs(n) {
			for _, v := range VarRefs(e) {
				if v == name {
					found = true
				}
			}
		}
		return !found
	})
	return found
}
