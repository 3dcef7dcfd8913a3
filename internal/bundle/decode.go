package bundle

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/sojourn/internal/ast"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/types"
	"github.com/conneroisu/sojourn/internal/value"
)

// DefaultDelegatePriority is the priority of a delegate implementation in a
// non-default package that does not declare one. Default-package
// implementations default to zero so any active package overrides them.
const DefaultDelegatePriority = 1

type decoder struct {
	source    string
	namespace string
	params    map[string]types.Type
	injected  map[string]types.Type
	locals    []map[string]types.Type
}

func (d *decoder) errorf(n *yaml.Node, format string, args ...any) *serrors.SojournError {
	return d.fail(n, serrors.ErrCodeInvalidTemplate, format, args...)
}

func (d *decoder) fail(n *yaml.Node, code, format string, args ...any) *serrors.SojournError {
	msg := fmt.Sprintf(format, args...)
	if n == nil {
		return serrors.NewCompileError(code, d.source+": "+msg).WithContext("source", d.source)
	}
	return serrors.NewCompileError(code, fmt.Sprintf("%s:%d:%d: %s", d.source, n.Line, n.Column, msg)).
		WithContext("source", d.source).
		WithContext("line", n.Line)
}

// fields indexes a mapping node by key, rejecting keys outside allowed.
func (d *decoder) fields(n *yaml.Node, what string, allowed ...string) (map[string]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, d.errorf(n, "%s must be a mapping", what)
	}
	out := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k := n.Content[i].Value
		ok := len(allowed) == 0
		for _, a := range allowed {
			if a == k {
				ok = true
				break
			}
		}
		if !ok {
			return nil, d.errorf(n.Content[i], "unknown key %q in %s", k, what)
		}
		if _, dup := out[k]; dup {
			return nil, d.errorf(n.Content[i], "duplicate key %q in %s", k, what)
		}
		out[k] = n.Content[i+1]
	}
	return out, nil
}

func (d *decoder) str(n *yaml.Node, what string) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", d.errorf(n, "%s must be a scalar", what)
	}
	return n.Value, nil
}

func (d *decoder) boolean(n *yaml.Node, what string) (bool, error) {
	var b bool
	if err := n.Decode(&b); err != nil {
		return false, d.errorf(n, "%s must be a boolean", what)
	}
	return b, nil
}

func (d *decoder) seq(n *yaml.Node, what string) ([]*yaml.Node, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, d.errorf(n, "%s must be a sequence", what)
	}
	return n.Content, nil
}

func decodeDocument(doc *yaml.Node, source string) ([]*ast.Template, error) {
	d := &decoder{source: source}
	if doc.Kind == 0 {
		return nil, nil
	}
	root := doc
	if doc.Kind == yaml.DocumentNode {
		if len(doc.Content) == 0 {
			return nil, nil
		}
		root = doc.Content[0]
	}
	f, err := d.fields(root, "bundle", "namespace", "templates")
	if err != nil {
		return nil, err
	}
	if ns := f["namespace"]; ns != nil {
		if d.namespace, err = d.str(ns, "namespace"); err != nil {
			return nil, err
		}
	}
	ts := f["templates"]
	if ts == nil {
		return nil, nil
	}
	items, err := d.seq(ts, "templates")
	if err != nil {
		return nil, err
	}
	out := make([]*ast.Template, 0, len(items))
	for _, item := range items {
		t, err := d.template(item)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (d *decoder) qualify(name string) string {
	if strings.HasPrefix(name, ".") && d.namespace != "" {
		return d.namespace + name
	}
	return name
}

func (d *decoder) template(n *yaml.Node) (*ast.Template, error) {
	f, err := d.fields(n, "template", "name", "kind", "params", "delegate", "body")
	if err != nil {
		return nil, err
	}
	if f["name"] == nil {
		return nil, d.errorf(n, "template without a name")
	}
	name, err := d.str(f["name"], "template name")
	if err != nil {
		return nil, err
	}
	t := &ast.Template{Name: d.qualify(name), Kind: value.ContentHTML, Source: d.source}
	if k := f["kind"]; k != nil {
		if t.Kind, err = d.contentKind(k); err != nil {
			return nil, err
		}
	}

	d.params = map[string]types.Type{}
	d.injected = map[string]types.Type{}
	d.locals = nil
	if ps := f["params"]; ps != nil {
		items, err := d.seq(ps, "params")
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			p, err := d.param(item)
			if err != nil {
				return nil, err
			}
			t.Params = append(t.Params, p)
		}
	}
	if dn := f["delegate"]; dn != nil {
		if t.Delegate, err = d.delegate(dn); err != nil {
			return nil, err
		}
	}
	if b := f["body"]; b != nil {
		if t.Body, err = d.block(b); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (d *decoder) contentKind(n *yaml.Node) (value.ContentKind, error) {
	s, err := d.str(n, "kind")
	if err != nil {
		return "", err
	}
	k, ok := value.ParseContentKind(s)
	if !ok {
		return "", d.errorf(n, "unknown content kind %q", s)
	}
	return k, nil
}

func (d *decoder) typ(n *yaml.Node) (types.Type, error) {
	s, err := d.str(n, "type")
	if err != nil {
		return types.UnknownType, err
	}
	t, err := types.Parse(s)
	if err != nil {
		return types.UnknownType, d.errorf(n, "%v", err)
	}
	return t, nil
}

func (d *decoder) param(n *yaml.Node) (ast.Param, error) {
	var p ast.Param
	f, err := d.fields(n, "param", "name", "type", "optional", "injected", "default")
	if err != nil {
		return p, err
	}
	if f["name"] == nil {
		return p, d.errorf(n, "param without a name")
	}
	if p.Name, err = d.str(f["name"], "param name"); err != nil {
		return p, err
	}
	p.Type = types.AnyType
	if tn := f["type"]; tn != nil {
		if p.Type, err = d.typ(tn); err != nil {
			return p, err
		}
	}
	optional := false
	if o := f["optional"]; o != nil {
		if optional, err = d.boolean(o, "optional"); err != nil {
			return p, err
		}
	}
	if i := f["injected"]; i != nil {
		if p.Injected, err = d.boolean(i, "injected"); err != nil {
			return p, err
		}
	}
	if def := f["default"]; def != nil {
		// Defaults only see literals.
		saved := d.params
		d.params = map[string]types.Type{}
		p.Default, err = d.expr(def)
		d.params = saved
		if err != nil {
			return p, err
		}
		optional = true
	}
	p.Required = !optional
	if optional && !p.Type.Nullable && p.Default == nil && p.Type.Kind != types.Any {
		p.Type = p.Type.OrNull()
	}
	if p.Injected {
		d.injected[p.Name] = p.Type
	} else {
		d.params[p.Name] = p.Type
	}
	return p, nil
}

func (d *decoder) delegate(n *yaml.Node) (*ast.Delegate, error) {
	f, err := d.fields(n, "delegate", "package", "variant", "priority")
	if err != nil {
		return nil, err
	}
	del := &ast.Delegate{}
	if p := f["package"]; p != nil {
		if del.Package, err = d.str(p, "delegate package"); err != nil {
			return nil, err
		}
	}
	if v := f["variant"]; v != nil {
		if del.Variant, err = d.str(v, "delegate variant"); err != nil {
			return nil, err
		}
	}
	if del.Package != "" {
		del.Priority = DefaultDelegatePriority
	}
	if p := f["priority"]; p != nil {
		if err := p.Decode(&del.Priority); err != nil {
			return nil, d.errorf(p, "delegate priority must be an integer")
		}
	}
	return del, nil
}
