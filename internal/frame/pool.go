package frame

import "sync"

// maxPooledCells bounds the arrays kept in the pool.
const maxPooledCells = 1024

// CellPool recycles working cell arrays between render calls. A renderer
// takes an array when it starts running and gives it back when it
// finishes or detaches.
type CellPool struct {
	pool sync.Pool
}

// NewCellPool creates a pool.
func NewCellPool() *CellPool {
	return &CellPool{
		pool: sync.Pool{
			New: func() interface{} {
				cells := make([]Cell, 0, 16)
				return &cells
			},
		},
	}
}

// Get returns a zeroed array of n cells.
func (p *CellPool) Get(n int) []Cell {
	ptr := p.pool.Get().(*[]Cell)
	cells := *ptr
	if cap(cells) < n {
		cells = make([]Cell, n)
	}
	cells = cells[:n]
	clear(cells)
	return cells
}

// Put returns cells to the pool. References are cleared so the pool does
// not keep values alive.
func (p *CellPool) Put(cells []Cell) {
	if cells == nil || cap(cells) > maxPooledCells {
		return
	}
	clear(cells[:cap(cells)])
	cells = cells[:0]
	p.pool.Put(&cells)
}
