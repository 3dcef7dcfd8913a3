package compiler

import (
	"github.com/conneroisu/sojourn/internal/expr"
)

// scopes is the compile-time variable stack. It mirrors the allocator's
// scopes so a binding disappears when its slots are reclaimed.
type scopes struct {
	stack []map[string]expr.Binding
}

var _ expr.Scope = (*scopes)(nil)

func newScopes() *scopes {
	return &scopes{stack: []map[string]expr.Binding{{}}}
}

func (s *scopes) push() { s.stack = append(s.stack, map[string]expr.Binding{}) }

func (s *scopes) pop() { s.stack = s.stack[:len(s.stack)-1] }

func (s *scopes) bind(name string, b expr.Binding) {
	s.stack[len(s.stack)-1][name] = b
}

// Lookup implements expr.Scope, innermost binding first.
func (s *scopes) Lookup(name string) (expr.Binding, bool) {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if b, ok := s.stack[i][name]; ok {
			return b, true
		}
	}
	return expr.Binding{}, false
}
