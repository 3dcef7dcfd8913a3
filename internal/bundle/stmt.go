package bundle

import (
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/ast"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

var statementKeys = []string{"text", "print", "if", "switch", "for", "let", "call", "delcall", "log"}

func (d *decoder) pushScope() { d.locals = append(d.locals, map[string]types.Type{}) }

func (d *decoder) popScope() { d.locals = d.locals[:len(d.locals)-1] }

func (d *decoder) bindLocal(name string, t types.Type) {
	d.locals[len(d.locals)-1][name] = t
}

func (d *decoder) lookupLocal(name string) (types.Type, bool) {
	for i := len(d.locals) - 1; i >= 0; i-- {
		if t, ok := d.locals[i][name]; ok {
			return t, true
		}
	}
	return types.UnknownType, false
}

// block decodes a statement sequence in a scope of its own.
func (d *decoder) block(n *yaml.Node) ([]ast.Node, error) {
	items, err := d.seq(n, "body")
	if err != nil {
		return nil, err
	}
	d.pushScope()
	defer d.popScope()
	out := make([]ast.Node, 0, len(items))
	for _, item := range items {
		s, err := d.stmt(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) optBlock(n *yaml.Node) ([]ast.Node, error) {
	if n == nil {
		return nil, nil
	}
	return d.block(n)
}

func (d *decoder) stmt(n *yaml.Node) (ast.Node, error) {
	if n.Kind == yaml.ScalarNode {
		return &ast.RawText{Text: n.Value}, nil
	}
	if n.Kind != yaml.MappingNode || len(n.Content) == 0 {
		return nil, d.errorf(n, "statement must be a mapping")
	}
	head := n.Content[0].Value
	switch head {
	case "text":
		f, err := d.fields(n, "text", "text")
		if err != nil {
			return nil, err
		}
		s, err := d.str(f["text"], "text")
		return &ast.RawText{Text: s}, err
	case "print":
		return d.print(n)
	case "if":
		return d.ifStmt(n)
	case "switch":
		return d.switchStmt(n)
	case "for":
		return d.forStmt(n)
	case "let":
		return d.let(n)
	case "call", "delcall":
		return d.call(n, head == "delcall")
	case "log":
		f, err := d.fields(n, "log", "log")
		if err != nil {
			return nil, err
		}
		body, err := d.block(f["log"])
		return &ast.Log{Body: body}, err
	}
	return nil, d.errorf(n.Content[0], "unknown statement %q, want one of %v", head, statementKeys)
}

func (d *decoder) print(n *yaml.Node) (ast.Node, error) {
	f, err := d.fields(n, "print", "print", "directives")
	if err != nil {
		return nil, err
	}
	p := &ast.Print{}
	if p.Expr, err = d.expr(f["print"]); err != nil {
		return nil, err
	}
	p.Directives, err = d.directives(f["directives"])
	return p, err
}

func (d *decoder) directives(n *yaml.Node) ([]ast.Directive, error) {
	if n == nil {
		return nil, nil
	}
	items, err := d.seq(n, "directives")
	if err != nil {
		return nil, err
	}
	out := make([]ast.Directive, 0, len(items))
	for _, item := range items {
		if item.Kind == yaml.ScalarNode {
			out = append(out, ast.Directive{Name: item.Value})
			continue
		}
		f, err := d.fields(item, "directive", "name", "args")
		if err != nil {
			return nil, err
		}
		if f["name"] == nil {
			return nil, d.errorf(item, "directive without a name")
		}
		dir := ast.Directive{}
		if dir.Name, err = d.str(f["name"], "directive name"); err != nil {
			return nil, err
		}
		if dir.Args, err = d.exprList(f["args"]); err != nil {
			return nil, err
		}
		out = append(out, dir)
	}
	return out, nil
}

func (d *decoder) ifStmt(n *yaml.Node) (ast.Node, error) {
	f, err := d.fields(n, "if", "if", "then", "elif", "else")
	if err != nil {
		return nil, err
	}
	x := &ast.If{}
	br, err := d.branch(f["if"], f["then"])
	if err != nil {
		return nil, err
	}
	x.Branches = append(x.Branches, br)
	if elif := f["elif"]; elif != nil {
		items, err := d.seq(elif, "elif")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			ef, err := d.fields(item, "elif branch", "if", "then")
			if err != nil {
				return nil, err
			}
			br, err := d.branch(ef["if"], ef["then"])
			if err != nil {
				return nil, err
			}
			x.Branches = append(x.Branches, br)
		}
	}
	x.Else, err = d.optBlock(f["else"])
	return x, err
}

func (d *decoder) branch(cond, then *yaml.Node) (ast.IfBranch, error) {
	var br ast.IfBranch
	if cond == nil {
		return br, d.errorf(then, "branch without a condition")
	}
	var err error
	if br.Cond, err = d.expr(cond); err != nil {
		return br, err
	}
	br.Body, err = d.optBlock(then)
	return br, err
}

func (d *decoder) switchStmt(n *yaml.Node) (ast.Node, error) {
	f, err := d.fields(n, "switch", "switch", "cases", "default")
	if err != nil {
		return nil, err
	}
	x := &ast.Switch{}
	if x.Expr, err = d.expr(f["switch"]); err != nil {
		return nil, err
	}
	if cs := f["cases"]; cs != nil {
		items, err := d.seq(cs, "cases")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			cf, err := d.fields(item, "case", "case", "body")
			if err != nil {
				return nil, err
			}
			if cf["case"] == nil {
				return nil, d.errorf(item, "case without values")
			}
			var c ast.SwitchCase
			if cf["case"].Kind == yaml.SequenceNode {
				c.Values, err = d.exprList(cf["case"])
			} else {
				var v ast.Expr
				v, err = d.expr(cf["case"])
				c.Values = []ast.Expr{v}
			}
			if err != nil {
				return nil, err
			}
			if c.Body, err = d.optBlock(cf["body"]); err != nil {
				return nil, err
			}
			x.Cases = append(x.Cases, c)
		}
	}
	if def := f["default"]; def != nil {
		x.HasDefault = true
		if x.Default, err = d.block(def); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (d *decoder) forStmt(n *yaml.Node) (ast.Node, error) {
	f, err := d.fields(n, "for", "for", "range", "in", "body", "ifempty")
	if err != nil {
		return nil, err
	}
	name, err := d.str(f["for"], "loop variable")
	if err != nil {
		return nil, err
	}
	switch {
	case f["range"] != nil && f["in"] != nil:
		return nil, d.errorf(n, "loop over $%s has both range and in", name)
	case f["range"] != nil:
		return d.forRange(name, f)
	case f["in"] != nil:
		return d.forEach(name, f)
	}
	return nil, d.errorf(n, "loop over $%s needs range or in", name)
}

func (d *decoder) forRange(name string, f map[string]*yaml.Node) (ast.Node, error) {
	if f["ifempty"] != nil {
		return nil, d.errorf(f["ifempty"], "ifempty applies only to loops over lists")
	}
	args, err := d.exprList(f["range"])
	if err != nil {
		return nil, err
	}
	x := &ast.ForRange{Var: name}
	switch len(args) {
	case 1:
		x.Stop = args[0]
	case 2:
		x.Start, x.Stop = args[0], args[1]
	case 3:
		x.Start, x.Stop, x.Step = args[0], args[1], args[2]
	default:
		return nil, d.errorf(f["range"], "range takes one to three arguments, got %d", len(args))
	}
	x.Body, err = d.loopBody(f["body"], name, types.IntType)
	return x, err
}

func (d *decoder) forEach(name string, f map[string]*yaml.Node) (ast.Node, error) {
	x := &ast.ForEach{Var: name}
	var err error
	if x.List, err = d.expr(f["in"]); err != nil {
		return nil, err
	}
	elem := types.AnyType
	if lt := x.List.Type(); lt.Kind == types.List && len(lt.Elem) == 1 {
		elem = lt.Elem[0]
	}
	if x.Body, err = d.loopBody(f["body"], name, elem); err != nil {
		return nil, err
	}
	x.IfEmpty, err = d.optBlock(f["ifempty"])
	return x, err
}

func (d *decoder) loopBody(n *yaml.Node, name string, t types.Type) ([]ast.Node, error) {
	d.pushScope()
	defer d.popScope()
	d.bindLocal(name, t)
	return d.optBlock(n)
}

func (d *decoder) let(n *yaml.Node) (ast.Node, error) {
	f, err := d.fields(n, "let", "let", "value", "kind", "body")
	if err != nil {
		return nil, err
	}
	name, err := d.str(f["let"], "let name")
	if err != nil {
		return nil, err
	}
	if v := f["value"]; v != nil {
		if f["body"] != nil || f["kind"] != nil {
			return nil, d.errorf(n, "let $%s has both a value and a body", name)
		}
		e, err := d.expr(v)
		if err != nil {
			return nil, err
		}
		d.bindLocal(name, e.Type())
		return &ast.LetValue{Name: name, Value: e}, nil
	}
	x := &ast.LetContent{Name: name, Kind: value.ContentHTML}
	if k := f["kind"]; k != nil {
		if x.Kind, err = d.contentKind(k); err != nil {
			return nil, err
		}
	}
	if x.Body, err = d.optBlock(f["body"]); err != nil {
		return nil, err
	}
	d.bindLocal(name, contentType(x.Kind))
	return x, nil
}

func (d *decoder) call(n *yaml.Node, delegate bool) (ast.Node, error) {
	head := "call"
	if delegate {
		head = "delcall"
	}
	keys := []string{head, "data", "params", "directives"}
	if delegate {
		keys = append(keys, "variant", "allowemptydefault")
	}
	f, err := d.fields(n, head, keys...)
	if err != nil {
		return nil, err
	}
	x := &ast.Call{Delegate: delegate}
	callee, err := d.str(f[head], "callee")
	if err != nil {
		return nil, err
	}
	x.Callee = d.qualify(callee)
	if v := f["variant"]; v != nil {
		if x.Variant, err = d.expr(v); err != nil {
			return nil, err
		}
	}
	if a := f["allowemptydefault"]; a != nil {
		if x.AllowEmptyDefault, err = d.boolean(a, "allowemptydefault"); err != nil {
			return nil, err
		}
	}
	if data := f["data"]; data != nil {
		if data.Kind == yaml.ScalarNode && data.Value == "all" {
			x.Data = ast.DataAll
		} else {
			x.Data = ast.DataExpr
			if x.DataExpr, err = d.expr(data); err != nil {
				return nil, err
			}
		}
	}
	if ps := f["params"]; ps != nil {
		items, err := d.seq(ps, "call params")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			p, err := d.callParam(item)
			if err != nil {
				return nil, err
			}
			x.Params = append(x.Params, p)
		}
	}
	x.Directives, err = d.directives(f["directives"])
	return x, err
}

func (d *decoder) callParam(n *yaml.Node) (ast.CallParam, error) {
	var p ast.CallParam
	f, err := d.fields(n, "call param", "name", "value", "kind", "body")
	if err != nil {
		return p, err
	}
	if f["name"] == nil {
		return p, d.errorf(n, "call param without a name")
	}
	if p.Name, err = d.str(f["name"], "call param name"); err != nil {
		return p, err
	}
	if v := f["value"]; v != nil {
		if f["body"] != nil {
			return p, d.errorf(n, "call param %s has both a value and a body", p.Name)
		}
		p.Value, err = d.expr(v)
		return p, err
	}
	p.IsContent = true
	p.Kind = value.ContentHTML
	if k := f["kind"]; k != nil {
		if p.Kind, err = d.contentKind(k); err != nil {
			return p, err
		}
	}
	p.Body, err = d.optBlock(f["body"])
	return p, err
}

func contentType(k value.ContentKind) types.Type {
	switch k {
	case value.ContentText:
		return types.Of(types.Text)
	case value.ContentAttributes:
		return types.Of(types.Attributes)
	case value.ContentURI:
		return types.Of(types.URI)
	case value.ContentCSS:
		return types.Of(types.CSS)
	case value.ContentJS:
		return types.Of(types.JS)
	}
	return types.HTMLType
}
