package frame

import (
	"strings"
	"sync"

	serrors "github.com/conneroisu/sojourn/internal/errors"
)

// Layout is an interned frame shape.
type Layout struct {
	// Signature is the kinds as a string, e.g. "IIIV".
	Signature string
	Kinds     []SlotKind
}

// Width returns the number of cells.
func (l *Layout) Width() int { return len(l.Kinds) }

// Signature builds the canonical signature of kinds.
func Signature(kinds []SlotKind) string {
	var b strings.Builder
	b.Grow(len(kinds))
	for _, k := range kinds {
		b.WriteByte(byte(k))
	}
	return b.String()
}

// LayoutCache interns layouts by signature. It is shared by every template
// in a registry and is safe for concurrent use.
type LayoutCache struct {
	mu      sync.RWMutex
	layouts map[string]*Layout
	named   map[string]*Layout
}

// NewLayoutCache creates an empty cache.
func NewLayoutCache() *LayoutCache {
	return &LayoutCache{
		layouts: map[string]*Layout{},
		named:   map[string]*Layout{},
	}
}

// Lookup returns the layout for kinds, creating it on first use.
func (c *LayoutCache) Lookup(kinds []SlotKind) *Layout {
	sig := Signature(kinds)

	c.mu.RLock()
	l, ok := c.layouts[sig]
	c.mu.RUnlock()
	if ok {
		return l
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.layouts[sig]; ok {
		return l
	}
	l = &Layout{Signature: sig, Kinds: append([]SlotKind(nil), kinds...)}
	c.layouts[sig] = l
	return l
}

// Define binds name to the layout of kinds. Redefining a name with a
// different shape is a compile error; the same shape is a no-op.
func (c *LayoutCache) Define(name string, kinds []SlotKind) (*Layout, error) {
	l := c.Lookup(kinds)

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.named[name]; ok {
		if prev != l {
			return nil, serrors.NewCompileError(serrors.ErrCodeLayoutRedefined,
				"frame layout redefined").
				WithContext("name", name).
				WithContext("previous", prev.Signature).
				WithContext("signature", l.Signature)
		}
		return prev, nil
	}
	c.named[name] = l
	return l, nil
}

// Len returns the number of distinct layouts.
func (c *LayoutCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layouts)
}

// StackFrame is the snapshot taken when a render detaches: the state
// number to resume at and the live cells, in layout order.
type StackFrame struct {
	State  int
	Layout *Layout
	Cells  []Cell
}

// Save copies the cells at slots out of cells into a new frame.
func Save(state int, layout *Layout, cells []Cell, slots []int) *StackFrame {
	f := &StackFrame{State: state, Layout: layout, Cells: make([]Cell, len(slots))}
	for i, idx := range slots {
		f.Cells[i] = cells[idx]
	}
	return f
}

// Restore writes the saved cells back into cells at slots.
func (f *StackFrame) Restore(cells []Cell, slots []int) {
	for i, idx := range slots {
		cells[idx] = f.Cells[i]
	}
}
