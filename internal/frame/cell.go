// Package frame manages the local state of a render: the compile-time slot
// allocator, the runtime cell array, and the stack frames that carry live
// cells across a detach.
//
// A frame's layout is its ordered list of slot kinds. Layouts are interned
// in a LayoutCache, so every save site with the same shape shares a single
// *Layout no matter how many templates or call sites produce it.
package frame

import (
	"math"
	"strings"
)

// SlotKind tags what a cell holds. The kind letters make up layout
// signatures.
type SlotKind byte

const (
	// KindValue holds a boxed value.Value in Ref.
	KindValue SlotKind = 'V'
	// KindInt holds an int64 in Bits.
	KindInt SlotKind = 'I'
	// KindFloat holds a float64 in Bits.
	KindFloat SlotKind = 'F'
	// KindBool holds a bool in Bits.
	KindBool SlotKind = 'Z'
	// KindString holds a string in Ref.
	KindString SlotKind = 'S'
	// KindMemo holds a checkpointed sub-result of a suspendable expression.
	KindMemo SlotKind = 'M'
	// KindRenderer holds the state of an in-progress call.
	KindRenderer SlotKind = 'R'
	// KindBuffer holds a nested output buffer.
	KindBuffer SlotKind = 'B'
	// KindThunk holds a lazily evaluated let.
	KindThunk SlotKind = 'T'
	// KindSink holds a wrapped output sink.
	KindSink SlotKind = 'W'
)

func (k SlotKind) String() string { return string(k) }

// Valid reports whether k is a known kind.
func (k SlotKind) Valid() bool {
	return strings.IndexByte("VIFZSMRBTW", byte(k)) >= 0
}

// Cell is one local slot. Primitives live in Bits, references in Ref.
type Cell struct {
	Bits uint64
	Ref  any
}

// Int returns the int64 held in Bits.
func (c *Cell) Int() int64 { return int64(c.Bits) }

// SetInt stores an int64.
func (c *Cell) SetInt(v int64) {
	c.Bits = uint64(v)
	c.Ref = nil
}

// Float returns the float64 held in Bits.
func (c *Cell) Float() float64 { return math.Float64frombits(c.Bits) }

// SetFloat stores a float64.
func (c *Cell) SetFloat(f float64) {
	c.Bits = math.Float64bits(f)
	c.Ref = nil
}

// Bool returns the bool held in Bits.
func (c *Cell) Bool() bool { return c.Bits != 0 }

// SetBool stores a bool.
func (c *Cell) SetBool(b bool) {
	c.Bits = 0
	if b {
		c.Bits = 1
	}
	c.Ref = nil
}

// Str returns the string held in Ref, or "" when unset.
func (c *Cell) Str() string {
	s, _ := c.Ref.(string)
	return s
}

// SetStr stores a string.
func (c *Cell) SetStr(s string) {
	c.Bits = 0
	c.Ref = s
}

// Set stores a reference.
func (c *Cell) Set(ref any) {
	c.Bits = 0
	c.Ref = ref
}

// Empty reports whether the cell holds no reference.
func (c *Cell) Empty() bool { return c.Ref == nil }

// Reset clears the cell.
func (c *Cell) Reset() { *c = Cell{} }
