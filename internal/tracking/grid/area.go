package grid

import "iter"

// AreaIterator lazily enumerates the hit indices stored in the bins that
// cover [x-dx, x+dx] x [y-dy, y+dy]. Bins are visited row-major and, inside
// a row, entries come out in storage order. Once Next reports false the
// iterator stays exhausted.
type AreaIterator struct {
	g *Grid

	ixStart, ixEnd int
	iy, iyEnd      int

	cur, end int // entry range of the current row
	done     bool
}

// NewAreaIterator positions an iterator on the query window. A window that
// does not overlap the grid extent yields nothing.
func NewAreaIterator(g *Grid, x, y, dx, dy float64) *AreaIterator {
	a := &AreaIterator{g: g}

	ix0, ix1 := g.rawIX(x-dx), g.rawIX(x+dx)
	iy0, iy1 := g.rawIY(y-dy), g.rawIY(y+dy)
	if ix1 < 0 || iy1 < 0 || ix0 >= g.Nx || iy0 >= g.Ny || ix0 > ix1 || iy0 > iy1 {
		a.done = true
		return a
	}

	a.ixStart = clampInt(ix0, 0, g.Nx-1)
	a.ixEnd = clampInt(ix1, 0, g.Nx-1)
	a.iy = clampInt(iy0, 0, g.Ny-1)
	a.iyEnd = clampInt(iy1, 0, g.Ny-1)
	a.loadRow()
	return a
}

func (a *AreaIterator) loadRow() {
	row := a.iy * a.g.Nx
	a.cur = a.g.FirstBinEntry[row+a.ixStart]
	a.end = a.g.FirstBinEntry[row+a.ixEnd+1]
}

// Next returns the next hit index in the window.
func (a *AreaIterator) Next() (int, bool) {
	if a.done {
		return 0, false
	}
	for a.cur >= a.end {
		if a.iy >= a.iyEnd {
			a.done = true
			return 0, false
		}
		a.iy++
		a.loadRow()
	}
	ih := a.g.Entries[a.cur]
	a.cur++
	return ih, true
}

// All drains the iterator as a range-over-func sequence.
func (a *AreaIterator) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for {
			ih, ok := a.Next()
			if !ok || !yield(ih) {
				return
			}
		}
	}
}
