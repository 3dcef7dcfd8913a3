// Package directives implements print directives. Every directive has a
// pure form applied to a fully resolved value; stream-capable directives
// also wrap a sink and transform output chunk by chunk, so a call whose
// directives all stream never has to buffer its callee.
package directives

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/output"
	"github.com/conneroisu/sojourn/internal/value"
)

// Directive is the pure form.
type Directive interface {
	Name() string
	// Arity returns the accepted argument count range.
	Arity() (min, max int)
	Apply(v value.Value, args []value.Value) (value.Value, error)
}

// Streaming is implemented by directives that can transform output as it
// is produced. Wrap returns a sink that writes into out; closing it emits
// anything withheld but never closes out. kind is the content kind of the
// stream entering the directive, so the chunks come out exactly as Apply
// would produce them for the whole value.
type Streaming interface {
	Directive
	Wrap(out output.Sink, kind value.ContentKind, args []value.Value) (output.ClosingSink, error)
}

// Registry maps directive names to implementations.
type Registry struct {
	mu         sync.RWMutex
	directives map[string]Directive
}

// NewRegistry creates a registry holding ds.
func NewRegistry(ds ...Directive) *Registry {
	r := &Registry{directives: make(map[string]Directive, len(ds))}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a directive.
func (r *Registry) Register(d Directive) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.directives[d.Name()] = d
}

// Lookup returns the directive called name.
func (r *Registry) Lookup(name string) (Directive, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.directives[name]
	return d, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.directives))
	for n := range r.directives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up name and checks the argument count.
func (r *Registry) Resolve(name string, nargs int) (Directive, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, serrors.NewCompileError(serrors.ErrCodeUnknownDirective,
			fmt.Sprintf("unknown print directive %q", name))
	}
	lo, hi := d.Arity()
	if nargs < lo || nargs > hi {
		return nil, serrors.NewCompileError(serrors.ErrCodeInvalidArgument,
			fmt.Sprintf("directive %q takes %d to %d arguments, got %d", name, lo, hi, nargs))
	}
	return d, nil
}

// Default returns a registry with the built-in directives.
func Default() *Registry {
	return NewRegistry(
		EscapeHTML{},
		CleanHTML{},
		ChangeNewlineToBr{},
		Truncate{},
		Upper{},
		Lower{},
		Title{},
		EscapeURI{},
		Identity{DirectiveName: "id"},
		Identity{DirectiveName: "noAutoescape"},
	)
}

// AllStreaming reports whether every directive in ds is stream-capable.
func AllStreaming(ds []Directive) bool {
	for _, d := range ds {
		if _, ok := d.(Streaming); !ok {
			return false
		}
	}
	return true
}

// ApplyAll applies ds to v left to right.
func ApplyAll(ds []Directive, v value.Value, args [][]value.Value) (value.Value, error) {
	var err error
	for i, d := range ds {
		var a []value.Value
		if i < len(args) {
			a = args[i]
		}
		if v, err = d.Apply(v, a); err != nil {
			var se *serrors.SojournError
			if errors.As(err, &se) {
				return nil, se.WithContext("directive", d.Name())
			}
			wrapped := serrors.NewDataError(serrors.ErrCodeDirectiveFailed,
				fmt.Sprintf("directive %q failed", d.Name()))
			wrapped.Cause = err
			return nil, wrapped
		}
	}
	return v, nil
}

// WrapAll wraps out so that output of content kind kind flows through ds
// left to right: the returned slice holds the wrappers in directive order
// and its first element is the sink to write into. Close them in that same
// order, which is the reverse of the order they were wrapped in, so content
// withheld by an earlier directive reaches the later ones before they
// close.
func WrapAll(ds []Directive, out output.Sink, kind value.ContentKind, args [][]value.Value) ([]output.ClosingSink, error) {
	argsAt := func(i int) []value.Value {
		if i < len(args) {
			return args[i]
		}
		return nil
	}

	kinds := make([]value.ContentKind, len(ds))
	for i, d := range ds {
		kinds[i] = kind
		kind = resultKind(d, kind, argsAt(i))
	}

	wrappers := make([]output.ClosingSink, len(ds))
	next := out
	for i := len(ds) - 1; i >= 0; i-- {
		s, ok := ds[i].(Streaming)
		if !ok {
			return nil, serrors.NewInternalError(serrors.ErrCodeInternalError,
				fmt.Sprintf("directive %q cannot stream", ds[i].Name()), nil)
		}
		w, err := s.Wrap(next, kinds[i], argsAt(i))
		if err != nil {
			return nil, err
		}
		wrappers[i] = w
		next = w
	}
	return wrappers, nil
}

// resultKind is the content kind d gives content of kind in. It asks the
// pure form, which owns the rule.
func resultKind(d Directive, in value.ContentKind, args []value.Value) value.ContentKind {
	v, err := d.Apply(value.NewContent(in, ""), args)
	if err != nil {
		return value.ContentText
	}
	if s, ok := v.(value.Sanitized); ok {
		return s.ContentKind
	}
	return value.ContentText
}

// CloseAll closes wrappers in order and returns the first error.
func CloseAll(wrappers []output.ClosingSink) error {
	var first error
	for _, w := range wrappers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
