// Package registry compiles a bundle of templates and resolves calls
// between them.
//
// A Registry is built once and never changes, so every render may share it
// without locking. Hot reload builds a fresh Registry and swaps it into a
// Holder; renders already running keep the one they started with.
package registry

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"

	"github.com/conneroisu/sojourn/internal/analysis"
	"github.com/conneroisu/sojourn/internal/ast"
	"github.com/conneroisu/sojourn/internal/compiler"
	"github.com/conneroisu/sojourn/internal/directives"
	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/frame"
	"github.com/conneroisu/sojourn/internal/logging"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/render"
	"github.com/conneroisu/sojourn/internal/value"
)

// Options configures Build.
type Options struct {
	Directives *directives.Registry
	Analyzer   analysis.Analyzer
	Logger     logging.Logger
	// Workers bounds concurrent compilation; zero means GOMAXPROCS.
	Workers int
}

// Registry holds compiled templates by name and delegate implementations
// by name and variant.
type Registry struct {
	templates map[string]*compiler.Template
	delegates map[delegateKey][]*compiler.Template
	names     []string
	layouts   *frame.LayoutCache
}

type delegateKey struct {
	name    string
	variant string
}

var _ compiler.Linker = (*Registry)(nil)

// Build compiles every template. Compile errors are collected across the
// bundle and returned together; no Registry is returned when any template
// fails.
func Build(templates []*ast.Template, opts Options) (*Registry, error) {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	reg := &Registry{
		templates: make(map[string]*compiler.Template),
		delegates: make(map[delegateKey][]*compiler.Template),
		layouts:   frame.NewLayoutCache(),
	}
	copts := compiler.Options{
		Directives: opts.Directives,
		Analyzer:   opts.Analyzer,
		Layouts:    reg.layouts,
		Pool:       frame.NewCellPool(),
	}

	compiled := make([]*compiler.Template, len(templates))
	failures := make([]error, len(templates))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				compiled[i], failures[i] = compiler.Compile(templates[i], copts)
			}
		}()
	}
	for i := range templates {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	collector := serrors.NewErrorCollector()
	seen := map[string]string{}
	for i, t := range templates {
		if failures[i] != nil {
			collector.Add(serrors.CompileError{
				Template: t.Name,
				Source:   t.Source,
				Message:  failures[i].Error(),
				Severity: serrors.ErrorSeverityError,
				Cause:    failures[i],
			})
			continue
		}
		key := t.Name
		if t.Delegate != nil {
			key = fmt.Sprintf("%s:%s@%s", t.Name, t.Delegate.Variant, t.Delegate.Package)
		}
		if prev, dup := seen[key]; dup {
			collector.Add(serrors.CompileError{
				Template: t.Name,
				Source:   t.Source,
				Message:  "duplicate template, first defined in " + prev,
				Severity: serrors.ErrorSeverityError,
				Cause: serrors.NewCompileError(serrors.ErrCodeDuplicateTemplate,
					"duplicate template "+key).WithTemplate(t.Name),
			})
			continue
		}
		seen[key] = t.Source
		reg.add(compiled[i])
	}
	if err := collector.Err(); err != nil {
		opts.Logger.Error(context.Background(), err, "registry build failed",
			"templates", len(templates), "errors", len(collector.GetErrors()))
		return nil, err
	}

	for k, impls := range reg.delegates {
		sort.SliceStable(impls, func(a, b int) bool {
			return impls[a].Delegate().Priority > impls[b].Delegate().Priority
		})
		reg.delegates[k] = impls
	}
	slices.Sort(reg.names)
	reg.names = slices.Compact(reg.names)
	opts.Logger.Info(context.Background(), "registry built",
		"templates", len(reg.templates),
		"delegates", len(reg.delegates),
		"layouts", reg.layouts.Len())
	return reg, nil
}

func (r *Registry) add(t *compiler.Template) {
	if d := t.Delegate(); d != nil {
		k := delegateKey{name: t.Name(), variant: d.Variant}
		r.delegates[k] = append(r.delegates[k], t)
	} else {
		r.templates[t.Name()] = t
	}
	r.names = append(r.names, t.Name())
}

// Template implements compiler.Linker.
func (r *Registry) Template(name string) (*compiler.Template, error) {
	if t, ok := r.templates[name]; ok {
		return t, nil
	}
	return nil, serrors.ErrTemplateNotFound(name)
}

// Delegate implements compiler.Linker. Among the implementations whose
// package is active, the highest priority wins and a tie is an error. When
// none is active for the variant the default variant is tried.
func (r *Registry) Delegate(name, variant string, allowEmpty bool, rc *render.Context) (*compiler.Template, error) {
	variants := []string{variant}
	if variant != "" {
		variants = append(variants, "")
	}
	for _, v := range variants {
		t, err := r.selectActive(name, v, rc)
		if err != nil || t != nil {
			return t, err
		}
	}
	if allowEmpty {
		return nil, nil
	}
	return nil, serrors.ErrDelegateNotFound(name, variant)
}

func (r *Registry) selectActive(name, variant string, rc *render.Context) (*compiler.Template, error) {
	var best *compiler.Template
	for _, t := range r.delegates[delegateKey{name: name, variant: variant}] {
		d := t.Delegate()
		if !rc.IsActive(d.Package) {
			continue
		}
		if best == nil {
			best = t
			continue
		}
		if d.Priority < best.Delegate().Priority {
			break
		}
		return nil, serrors.ErrAmbiguousDelegate(name, variant, best.Delegate().Package, d.Package)
	}
	return best, nil
}

// Get returns a basic template by name.
func (r *Registry) Get(name string) (*compiler.Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// Implementations returns the delegate implementations of name, grouped by
// variant and ordered by descending priority.
func (r *Registry) Implementations(name string) []*compiler.Template {
	var out []*compiler.Template
	for k, impls := range r.delegates {
		if k.name == name {
			out = append(out, impls...)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		da, db := out[a].Delegate(), out[b].Delegate()
		if da.Variant != db.Variant {
			return da.Variant < db.Variant
		}
		return da.Priority > db.Priority
	})
	return out
}

// Names returns every template and delegate name, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Count returns the number of basic templates.
func (r *Registry) Count() int { return len(r.templates) }

// Layouts returns the layout cache shared by every template.
func (r *Registry) Layouts() *frame.LayoutCache { return r.layouts }

// NewRenderer looks up a basic template and binds params to it. Go values
// in params and injected are boxed with value.Box.
func (r *Registry) NewRenderer(name string, params, injected map[string]any, sink output.Sink, rc *render.Context) (*compiler.Renderer, error) {
	t, err := r.Template(name)
	if err != nil {
		return nil, err
	}
	p, err := BoxAll(params)
	if err != nil {
		return nil, err
	}
	ij, err := BoxAll(injected)
	if err != nil {
		return nil, err
	}
	return t.NewRenderer(p, ij, sink, rc, r)
}

// BoxAll boxes every entry of m.
func BoxAll(m map[string]any) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		bv, err := value.Box(v)
		if err != nil {
			return nil, serrors.NewArgumentError(serrors.ErrCodeInvalidArgument,
				fmt.Sprintf("param %s: %v", k, err)).WithContext("param", k)
		}
		out[k] = bv
	}
	return out, nil
}
