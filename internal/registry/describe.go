package registry

import "github.com/conneroisu/sojourn/internal/compiler"

// TemplateInfo summarises a compiled template for listings.
type TemplateInfo struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     string        `json:"kind" yaml:"kind"`
	Source   string        `json:"source,omitempty" yaml:"source,omitempty"`
	Delegate *DelegateInfo `json:"delegate,omitempty" yaml:"delegate,omitempty"`
	Params   []ParamInfo   `json:"params,omitempty" yaml:"params,omitempty"`
}

type DelegateInfo struct {
	Package  string `json:"package" yaml:"package"`
	Variant  string `json:"variant" yaml:"variant"`
	Priority int    `json:"priority" yaml:"priority"`
}

type ParamInfo struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Injected bool   `json:"injected,omitempty" yaml:"injected,omitempty"`
}

// Describe lists basic templates and delegate implementations in name
// order; implementations of one delegate follow Implementations order.
func (r *Registry) Describe() []TemplateInfo {
	var out []TemplateInfo
	for _, name := range r.names {
		if t, ok := r.templates[name]; ok {
			out = append(out, describe(t))
		}
		for _, impl := range r.Implementations(name) {
			out = append(out, describe(impl))
		}
	}
	return out
}

func describe(t *compiler.Template) TemplateInfo {
	info := TemplateInfo{Name: t.Name(), Kind: string(t.Kind()), Source: t.Source()}
	if d := t.Delegate(); d != nil {
		info.Delegate = &DelegateInfo{Package: d.Package, Variant: d.Variant, Priority: d.Priority}
	}
	for _, p := range t.Params() {
		info.Params = append(info.Params, ParamInfo{
			Name:     p.Name,
			Type:     p.Type.String(),
			Required: p.Required,
			Injected: p.Injected,
		})
	}
	return info
}
