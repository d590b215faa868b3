package grid

import (
	"math"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
)

// Grid is a regular 2D bucket index over the hits of one station.
// Bin (ix, iy) has flat index iy*Nx + ix.
type Grid struct {
	MinX, MinY float64
	StepX      float64
	StepY      float64
	Nx, Ny     int

	// FirstBinEntry[b] .. FirstBinEntry[b+1] is the Entries range of bin b.
	FirstBinEntry []int
	// Entries holds indices into the HitSet the grid was filled from.
	Entries []int

	// Largest per-hit range half-widths stored in the grid.
	MaxRangeX, MaxRangeY, MaxRangeT float64

	invStepX, invStepY float64
}

// New creates an empty grid covering [minX, maxX] x [minY, maxY] with the
// given bin steps. Degenerate inputs collapse to a single bin per axis.
func New(minX, maxX, minY, maxY, stepX, stepY float64) *Grid {
	if !(stepX > 0) {
		stepX = math.Max(maxX-minX, 1)
	}
	if !(stepY > 0) {
		stepY = math.Max(maxY-minY, 1)
	}
	g := &Grid{
		MinX:     minX,
		MinY:     minY,
		StepX:    stepX,
		StepY:    stepY,
		invStepX: 1 / stepX,
		invStepY: 1 / stepY,
	}
	g.Nx = int((maxX-minX)*g.invStepX) + 1
	g.Ny = int((maxY-minY)*g.invStepY) + 1
	if g.Nx < 1 {
		g.Nx = 1
	}
	if g.Ny < 1 {
		g.Ny = 1
	}
	g.FirstBinEntry = make([]int, g.NumBins()+1)
	return g
}

// NumBins is Nx*Ny.
func (g *Grid) NumBins() int { return g.Nx * g.Ny }

// rawIX is the column of x, saturated to [-1, Nx] so that far or infinite
// coordinates stay one cell outside the grid. NaN maps to -1.
func (g *Grid) rawIX(x float64) int { return cell((x-g.MinX)*g.invStepX, g.Nx) }
func (g *Grid) rawIY(y float64) int { return cell((y-g.MinY)*g.invStepY, g.Ny) }

func cell(v float64, n int) int {
	v = math.Floor(v)
	switch {
	case math.IsNaN(v), v < -1:
		return -1
	case v > float64(n):
		return n
	}
	return int(v)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// BinIX returns the column of x clamped to [0, Nx).
func (g *Grid) BinIX(x float64) int { return clampInt(g.rawIX(x), 0, g.Nx-1) }

// BinIY returns the row of y clamped to [0, Ny).
func (g *Grid) BinIY(y float64) int { return clampInt(g.rawIY(y), 0, g.Ny-1) }

// BinOf maps (x, y) to a flat bin index. Never out of range.
func (g *Grid) BinOf(x, y float64) int { return g.BinIY(y)*g.Nx + g.BinIX(x) }

// StoreHits counting-sorts the hits [start, start+n) of all into the grid.
// Entries keep the relative order of hits that share a bin. Hits with
// used[i] set are skipped; used may be nil.
func (g *Grid) StoreHits(all []hits.Hit, start, n int, used []bool) {
	for i := range g.FirstBinEntry {
		g.FirstBinEntry[i] = 0
	}
	g.MaxRangeX, g.MaxRangeY, g.MaxRangeT = 0, 0, 0

	bins := make([]int, n)
	kept := 0
	for i := 0; i < n; i++ {
		ih := start + i
		if used != nil && used[ih] {
			bins[i] = -1
			continue
		}
		h := &all[ih]
		b := g.BinOf(h.X, h.Y)
		bins[i] = b
		g.FirstBinEntry[b+1]++
		kept++
		g.MaxRangeX = math.Max(g.MaxRangeX, h.RangeX)
		g.MaxRangeY = math.Max(g.MaxRangeY, h.RangeY)
		g.MaxRangeT = math.Max(g.MaxRangeT, h.RangeT)
	}
	for b := 0; b < g.NumBins(); b++ {
		g.FirstBinEntry[b+1] += g.FirstBinEntry[b]
	}

	g.Entries = make([]int, kept)
	fill := make([]int, g.NumBins())
	for i, b := range bins {
		if b < 0 {
			continue
		}
		g.Entries[g.FirstBinEntry[b]+fill[b]] = start + i
		fill[b]++
	}
}

// RemoveUsed drops entries whose hit has been consumed, keeping the order of
// the survivors and recomputing the bin offsets and max ranges.
func (g *Grid) RemoveUsed(all []hits.Hit, used []bool) {
	counts := make([]int, g.NumBins())
	kept := g.Entries[:0]
	g.MaxRangeX, g.MaxRangeY, g.MaxRangeT = 0, 0, 0
	for b := 0; b < g.NumBins(); b++ {
		for _, ih := range g.BinEntries(b) {
			if used[ih] {
				continue
			}
			kept = append(kept, ih)
			counts[b]++
			h := &all[ih]
			g.MaxRangeX = math.Max(g.MaxRangeX, h.RangeX)
			g.MaxRangeY = math.Max(g.MaxRangeY, h.RangeY)
			g.MaxRangeT = math.Max(g.MaxRangeT, h.RangeT)
		}
	}
	g.Entries = kept
	g.FirstBinEntry[0] = 0
	for b, c := range counts {
		g.FirstBinEntry[b+1] = g.FirstBinEntry[b] + c
	}
}

// BinEntries returns the hit indices stored in bin b.
func (g *Grid) BinEntries(b int) []int {
	return g.Entries[g.FirstBinEntry[b]:g.FirstBinEntry[b+1]]
}
