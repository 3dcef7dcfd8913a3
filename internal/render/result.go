// Package render holds the types shared by the compiler and its callers:
// the outcome of one render call and the per-render context.
package render

import (
	"fmt"

	"github.com/conneroisu/sojourn/internal/value"
)

// ResultKind tags a Result.
type ResultKind uint8

const (
	// KindDone means the template finished.
	KindDone ResultKind = iota
	// KindLimited means the sink asked for a pause at a safe point.
	KindLimited
	// KindDetach means a value was not ready; see Result.Pending.
	KindDetach
)

func (k ResultKind) String() string {
	switch k {
	case KindDone:
		return "done"
	case KindLimited:
		return "limited"
	case KindDetach:
		return "detach"
	default:
		return "unknown"
	}
}

// Result is the outcome of one render call: Done, Limited or
// Detach(pending).
type Result struct {
	kind    ResultKind
	pending value.Provider
}

// Done returns the finished result.
func Done() Result { return Result{kind: KindDone} }

// Limited returns the backpressure result.
func Limited() Result { return Result{kind: KindLimited} }

// Detach returns a result waiting on p.
func Detach(p value.Provider) Result { return Result{kind: KindDetach, pending: p} }

// Kind returns the tag.
func (r Result) Kind() ResultKind { return r.kind }

// IsDone reports whether the render finished.
func (r Result) IsDone() bool { return r.kind == KindDone }

// Pending returns the value a detached render waits on, or nil.
func (r Result) Pending() value.Provider { return r.pending }

func (r Result) String() string {
	if r.kind == KindDetach {
		return fmt.Sprintf("detach(%s)", r.pending)
	}
	return r.kind.String()
}

// Detached is returned internally by evaluation that reached an unready
// provider. It never escapes a Renderer: the machine turns it into a
// Detach result.
type Detached struct {
	Pending value.Provider
}

func (d *Detached) Error() string {
	return "render detached on pending value"
}
