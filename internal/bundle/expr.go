package bundle

import (
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

var binaryOps = map[string]ast.Operator{
	"+":   ast.OpAdd,
	"-":   ast.OpSub,
	"*":   ast.OpMul,
	"/":   ast.OpDiv,
	"%":   ast.OpMod,
	"<":   ast.OpLess,
	"<=":  ast.OpLessEq,
	">":   ast.OpGreater,
	">=":  ast.OpGreaterEq,
	"==":  ast.OpEq,
	"!=":  ast.OpNotEq,
	"and": ast.OpAnd,
	"or":  ast.OpOr,
	"??":  ast.OpNullCoal,
}

// resultTypes gives the static result type of builtins whose result does
// not depend on their arguments.
var resultTypes = map[string]types.Type{
	"length":      types.IntType,
	"strLen":      types.IntType,
	"strIndexOf":  types.IntType,
	"floor":       types.IntType,
	"ceil":        types.IntType,
	"index":       types.IntType,
	"isNonnull":   types.BoolType,
	"strContains": types.BoolType,
	"isFirst":     types.BoolType,
	"isLast":      types.BoolType,
	"join":        types.StringType,
	"strSub":      types.StringType,
	"css":         types.StringType,
	"xid":         types.StringType,
	"keys":        types.ListOf(types.AnyType),
	"concatLists": types.ListOf(types.AnyType),
}

var exprKeys = []string{"lit", "param", "ij", "var", "op", "not", "neg", "cond",
	"field", "item", "list", "map", "record", "call"}

func (d *decoder) exprList(n *yaml.Node) ([]ast.Expr, error) {
	if n == nil {
		return nil, nil
	}
	items, err := d.seq(n, "expression list")
	if err != nil {
		return nil, err
	}
	out := make([]ast.Expr, len(items))
	for i, item := range items {
		if out[i], err = d.expr(item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// expr decodes an expression. A bare scalar is a literal.
func (d *decoder) expr(n *yaml.Node) (ast.Expr, error) {
	if n == nil {
		return nil, d.errorf(nil, "missing expression")
	}
	if n.Kind == yaml.ScalarNode {
		return d.literal(n)
	}
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		return nil, d.errorf(n, "expression must be a scalar or a mapping")
	}

	var explicit *types.Type
	body := n
	if tn := mappingValue(n, "type"); tn != nil {
		t, err := d.typ(tn)
		if err != nil {
			return nil, err
		}
		explicit = &t
		body = withoutKey(n, "type")
	}
	e, err := d.exprBody(body)
	if err != nil {
		return nil, err
	}
	if explicit != nil {
		setType(e, *explicit)
	}
	return e, nil
}

func (d *decoder) exprBody(n *yaml.Node) (ast.Expr, error) {
	if len(n.Content) == 0 {
		return nil, d.errorf(n, "empty expression")
	}
	head := n.Content[0].Value
	switch head {
	case "lit":
		f, err := d.fields(n, "literal", "lit")
		if err != nil {
			return nil, err
		}
		return d.literal(f["lit"])
	case "param", "ij":
		f, err := d.fields(n, head, head)
		if err != nil {
			return nil, err
		}
		return d.paramRef(f[head], head == "ij")
	case "var":
		f, err := d.fields(n, "var", "var")
		if err != nil {
			return nil, err
		}
		name, err := d.str(f["var"], "variable name")
		if err != nil {
			return nil, err
		}
		t, ok := d.lookupLocal(name)
		if !ok {
			return nil, d.unknown(f["var"], "variable", name)
		}
		return &ast.VarRef{Typed: ast.Typed{T: t}, Name: name}, nil
	case "op":
		return d.binary(n)
	case "not", "neg":
		f, err := d.fields(n, head, head)
		if err != nil {
			return nil, err
		}
		x, err := d.expr(f[head])
		if err != nil {
			return nil, err
		}
		if head == "not" {
			return &ast.Unary{Typed: ast.Typed{T: types.BoolType}, Op: ast.OpNot, X: x}, nil
		}
		t := types.AnyType
		if x.Type().IsNumeric() {
			t = x.Type()
		}
		return &ast.Unary{Typed: ast.Typed{T: t}, Op: ast.OpNeg, X: x}, nil
	case "cond":
		return d.ternary(n)
	case "field":
		return d.fieldAccess(n)
	case "item":
		return d.itemAccess(n)
	case "list":
		f, err := d.fields(n, "list", "list")
		if err != nil {
			return nil, err
		}
		items, err := d.exprList(f["list"])
		if err != nil {
			return nil, err
		}
		return &ast.ListLit{Typed: ast.Typed{T: types.ListOf(common(items))}, Items: items}, nil
	case "map":
		return d.mapLit(n)
	case "record":
		return d.recordLit(n)
	case "call":
		return d.funcCall(n)
	}
	return nil, d.errorf(n.Content[0], "unknown expression %q, want one of %v", head, exprKeys)
}

func (d *decoder) unknown(n *yaml.Node, what, name string) error {
	return d.fail(n, serrors.ErrCodeUnknownVariable, "unknown %s $%s", what, name).
		WithContext("name", name)
}

func (d *decoder) literal(n *yaml.Node) (ast.Expr, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, d.errorf(n, "bad literal: %v", err)
	}
	v, err := value.Box(raw)
	if err != nil {
		return nil, d.errorf(n, "bad literal: %v", err)
	}
	return &ast.Literal{Typed: ast.Typed{T: typeOfValue(v)}, Value: v}, nil
}

func typeOfValue(v value.Value) types.Type {
	switch v.Kind() {
	case value.KindNull, value.KindUndefined:
		return types.NullType
	case value.KindBool:
		return types.BoolType
	case value.KindInt:
		return types.IntType
	case value.KindFloat:
		return types.FloatType
	case value.KindString:
		return types.StringType
	case value.KindList:
		return types.ListOf(types.AnyType)
	case value.KindRecord:
		return types.Of(types.Record)
	case value.KindMap:
		return types.MapOf(types.AnyType, types.AnyType)
	}
	return types.AnyType
}

func (d *decoder) paramRef(n *yaml.Node, injected bool) (ast.Expr, error) {
	name, err := d.str(n, "param name")
	if err != nil {
		return nil, err
	}
	decls := d.params
	what := "param"
	if injected {
		decls, what = d.injected, "injected param"
	}
	t, ok := decls[name]
	if !ok {
		return nil, d.unknown(n, what, name)
	}
	return &ast.ParamRef{Typed: ast.Typed{T: t}, Name: name, Injected: injected}, nil
}

func (d *decoder) binary(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "operator", "op", "args")
	if err != nil {
		return nil, err
	}
	sym, err := d.str(f["op"], "operator")
	if err != nil {
		return nil, err
	}
	op, ok := binaryOps[sym]
	if !ok {
		return nil, d.errorf(f["op"], "unknown operator %q", sym)
	}
	args, err := d.exprList(f["args"])
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, d.errorf(n, "operator %s takes two arguments, got %d", sym, len(args))
	}
	x, y := args[0], args[1]
	return &ast.Binary{Typed: ast.Typed{T: binaryType(op, x.Type(), y.Type())}, Op: op, X: x, Y: y}, nil
}

func binaryType(op ast.Operator, l, r types.Type) types.Type {
	isInt := func(t types.Type) bool { return !t.Nullable && t.Kind == types.Int }
	isNum := func(t types.Type) bool { return !t.Nullable && (t.Kind == types.Int || t.Kind == types.Float) }
	isStr := func(t types.Type) bool { return !t.Nullable && t.Kind == types.String }
	switch op {
	case ast.OpAnd, ast.OpOr, ast.OpEq, ast.OpNotEq, ast.OpLess, ast.OpLessEq, ast.OpGreater, ast.OpGreaterEq:
		return types.BoolType
	case ast.OpNullCoal:
		nn := l
		nn.Nullable = false
		if nn.Equal(r) {
			return r
		}
		return types.AnyType
	case ast.OpAdd:
		switch {
		case isInt(l) && isInt(r):
			return types.IntType
		case isNum(l) && isNum(r):
			return types.FloatType
		case isStr(l) || isStr(r):
			return types.StringType
		}
	case ast.OpSub, ast.OpMul:
		switch {
		case isInt(l) && isInt(r):
			return types.IntType
		case isNum(l) && isNum(r):
			return types.FloatType
		}
	case ast.OpDiv:
		if isNum(l) && isNum(r) {
			return types.FloatType
		}
	case ast.OpMod:
		if isInt(l) && isInt(r) {
			return types.IntType
		}
	}
	return types.AnyType
}

func (d *decoder) ternary(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "conditional", "cond", "then", "else")
	if err != nil {
		return nil, err
	}
	if f["then"] == nil || f["else"] == nil {
		return nil, d.errorf(n, "conditional needs then and else")
	}
	c, err := d.expr(f["cond"])
	if err != nil {
		return nil, err
	}
	a, err := d.expr(f["then"])
	if err != nil {
		return nil, err
	}
	b, err := d.expr(f["else"])
	if err != nil {
		return nil, err
	}
	return &ast.Ternary{Typed: ast.Typed{T: common([]ast.Expr{a, b})}, Cond: c, Then: a, Else: b}, nil
}

func (d *decoder) nullSafe(f map[string]*yaml.Node) (bool, error) {
	if ns := f["nullsafe"]; ns != nil {
		return d.boolean(ns, "nullsafe")
	}
	return false, nil
}

func (d *decoder) fieldAccess(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "field access", "field", "of", "nullsafe")
	if err != nil {
		return nil, err
	}
	name, err := d.str(f["field"], "field name")
	if err != nil {
		return nil, err
	}
	x, err := d.expr(f["of"])
	if err != nil {
		return nil, err
	}
	ns, err := d.nullSafe(f)
	if err != nil {
		return nil, err
	}
	return &ast.FieldAccess{Typed: ast.Typed{T: types.AnyType}, X: x, Field: name, NullSafe: ns}, nil
}

func (d *decoder) itemAccess(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "item access", "item", "of", "nullsafe")
	if err != nil {
		return nil, err
	}
	key, err := d.expr(f["item"])
	if err != nil {
		return nil, err
	}
	x, err := d.expr(f["of"])
	if err != nil {
		return nil, err
	}
	ns, err := d.nullSafe(f)
	if err != nil {
		return nil, err
	}
	// Items may be missing, so the element type is always nullable.
	t := types.AnyType
	switch xt := x.Type(); {
	case xt.Kind == types.List && len(xt.Elem) == 1:
		t = xt.Elem[0].OrNull()
	case xt.Kind == types.Map && len(xt.Elem) == 2:
		t = xt.Elem[1].OrNull()
	}
	if t.Kind == types.Any {
		t = types.AnyType
	}
	return &ast.ItemAccess{Typed: ast.Typed{T: t}, X: x, Key: key, NullSafe: ns}, nil
}

func (d *decoder) mapLit(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "map", "map")
	if err != nil {
		return nil, err
	}
	pairs, err := d.seq(f["map"], "map entries")
	if err != nil {
		return nil, err
	}
	m := &ast.MapLit{}
	for _, p := range pairs {
		kv, err := d.exprList(p)
		if err != nil {
			return nil, err
		}
		if len(kv) != 2 {
			return nil, d.errorf(p, "map entry must be [key, value]")
		}
		m.Keys = append(m.Keys, kv[0])
		m.Values = append(m.Values, kv[1])
	}
	m.T = types.MapOf(common(m.Keys), common(m.Values))
	return m, nil
}

func (d *decoder) recordLit(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "record", "record")
	if err != nil {
		return nil, err
	}
	body := f["record"]
	if body.Kind != yaml.MappingNode {
		return nil, d.errorf(body, "record must be a mapping")
	}
	r := &ast.RecordLit{Typed: ast.Typed{T: types.Of(types.Record)}}
	for i := 0; i+1 < len(body.Content); i += 2 {
		v, err := d.expr(body.Content[i+1])
		if err != nil {
			return nil, err
		}
		r.Names = append(r.Names, body.Content[i].Value)
		r.Values = append(r.Values, v)
	}
	return r, nil
}

func (d *decoder) funcCall(n *yaml.Node) (ast.Expr, error) {
	f, err := d.fields(n, "function call", "call", "args")
	if err != nil {
		return nil, err
	}
	name, err := d.str(f["call"], "function name")
	if err != nil {
		return nil, err
	}
	args, err := d.exprList(f["args"])
	if err != nil {
		return nil, err
	}
	t, ok := resultTypes[name]
	switch {
	case ok:
	case name == "checkNotNull" && len(args) == 1:
		t = args[0].Type()
		t.Nullable = false
	case name == "round" && len(args) == 1:
		t = types.IntType
	default:
		t = types.AnyType
	}
	return &ast.FuncCall{Typed: ast.Typed{T: t}, Name: name, Args: args}, nil
}

// common is the type shared by every expression, or any.
func common(es []ast.Expr) types.Type {
	if len(es) == 0 {
		return types.AnyType
	}
	t := es[0].Type()
	for _, e := range es[1:] {
		if !e.Type().Equal(t) {
			return types.AnyType
		}
	}
	return t
}

func setType(e ast.Expr, t types.Type) {
	switch x := e.(type) {
	case *ast.Literal:
		x.T = t
	case *ast.ParamRef:
		x.T = t
	case *ast.VarRef:
		x.T = t
	case *ast.Unary:
		x.T = t
	case *ast.Binary:
		x.T = t
	case *ast.Ternary:
		x.T = t
	case *ast.FieldAccess:
		x.T = t
	case *ast.ItemAccess:
		x.T = t
	case *ast.ListLit:
		x.T = t
	case *ast.MapLit:
		x.T = t
	case *ast.RecordLit:
		x.T = t
	case *ast.FuncCall:
		x.T = t
	}
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func withoutKey(n *yaml.Node, key string) *yaml.Node {
	out := *n
	out.Content = nil
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value != key {
			out.Content = append(out.Content, n.Content[i], n.Content[i+1])
		}
	}
	return &out
}
