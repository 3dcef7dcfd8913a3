package frame

import (
	serrors "github.com/conneroisu/sojourn/internal/errors"
)

// Slot is an allocated local.
type Slot struct {
	Index int
	Kind  SlotKind
	Name  string
}

type scope struct {
	start     int
	names     map[string]int
	synthetic map[string]int
}

// Allocator hands out cell indices at compile time. Scopes are a stack:
// exiting a scope releases every slot allocated inside it, so sibling
// blocks reuse the same cells.
type Allocator struct {
	slots  []Slot
	scopes []*scope
	size   int
}

// NewAllocator returns an allocator with its root scope open.
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.EnterScope()
	return a
}

// EnterScope opens a nested scope.
func (a *Allocator) EnterScope() {
	a.scopes = append(a.scopes, &scope{
		start:     len(a.slots),
		names:     map[string]int{},
		synthetic: map[string]int{},
	})
}

// ExitScope closes the innermost scope and reclaims its slots.
func (a *Allocator) ExitScope() {
	if len(a.scopes) == 0 {
		return
	}
	s := a.scopes[len(a.scopes)-1]
	a.scopes = a.scopes[:len(a.scopes)-1]
	a.slots = a.slots[:s.start]
}

// Depth returns the number of open scopes.
func (a *Allocator) Depth() int { return len(a.scopes) }

func (a *Allocator) current() *scope {
	if len(a.scopes) == 0 {
		a.EnterScope()
	}
	return a.scopes[len(a.scopes)-1]
}

// Alloc reserves one cell. An empty name allocates an anonymous slot;
// claiming a name twice in one scope is a compile error.
func (a *Allocator) Alloc(name string, kind SlotKind) (int, error) {
	return a.AllocBlock(name, kind, 1)
}

// AllocBlock reserves width contiguous cells of the same kind and returns
// the first index. The name, if any, refers to the first cell.
func (a *Allocator) AllocBlock(name string, kind SlotKind, width int) (int, error) {
	if width < 1 {
		width = 1
	}
	s := a.current()
	if name != "" {
		if _, dup := s.names[name]; dup {
			return -1, serrors.ErrDuplicateSlot(name)
		}
	}
	first := len(a.slots)
	for i := 0; i < width; i++ {
		n := ""
		if i == 0 {
			n = name
		}
		a.slots = append(a.slots, Slot{Index: first + i, Kind: kind, Name: n})
	}
	if name != "" {
		s.names[name] = first
	}
	if len(a.slots) > a.size {
		a.size = len(a.slots)
	}
	return first, nil
}

// Synthetic returns the slot for a compiler-introduced variable keyed by
// key, allocating it on first use within the current scope.
func (a *Allocator) Synthetic(key string, kind SlotKind) int {
	s := a.current()
	if idx, ok := s.synthetic[key]; ok {
		return idx
	}
	idx, _ := a.AllocBlock("", kind, 1)
	s.synthetic[key] = idx
	return idx
}

// Lookup finds a named slot, innermost scope first.
func (a *Allocator) Lookup(name string) (Slot, bool) {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if idx, ok := a.scopes[i].names[name]; ok {
			return a.slots[idx], true
		}
	}
	return Slot{}, false
}

// Live returns the currently allocated slots in index order.
func (a *Allocator) Live() []Slot {
	out := make([]Slot, len(a.slots))
	copy(out, a.slots)
	return out
}

// Mark returns the index the next allocation will receive.
func (a *Allocator) Mark() int { return len(a.slots) }

// Size returns the high-water mark: the number of cells a frame needs.
func (a *Allocator) Size() int { return a.size }

// Captures is the deduplicated free-variable set of a closure, in first
// capture order.
type Captures struct {
	names []string
	index map[string]int
}

// NewCaptures returns an empty capture set.
func NewCaptures() *Captures {
	return &Captures{index: map[string]int{}}
}

// Add records name and returns its position in the closure environment.
// Adding the same name again returns the existing position.
func (c *Captures) Add(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	c.index[name] = len(c.names)
	c.names = append(c.names, name)
	return c.index[name]
}

// Names returns the captured names in position order.
func (c *Captures) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Len returns the number of captured names.
func (c *Captures) Len() int { return len(c.names) }
