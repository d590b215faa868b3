package grid

import (
	"math"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
)

// Grid sizing constants. Steps are proportional to hit spread and clamped to
// a fraction of the station's distance from the target.
const (
	boundsPad     = 0.1
	stepFactorX   = 0.8
	stepFactorY   = 0.3
	minStepFactor = 0.01
	maxStepFactor = 0.3
)

// Bounds is the extent and bin geometry chosen for one station.
type Bounds struct {
	MinX, MaxX, MinY, MaxY float64
	StepX, StepY           float64
}

// SizeFor picks the grid extent and steps for hits on one station located
// at stationZ, with the target at targetZ.
func SizeFor(stationHits []hits.Hit, stationZ, targetZ float64) Bounds {
	b := Bounds{MinX: -boundsPad, MaxX: boundsPad, MinY: -boundsPad, MaxY: boundsPad}
	for i := range stationHits {
		h := &stationHits[i]
		b.MinX = math.Min(b.MinX, h.X)
		b.MaxX = math.Max(b.MaxX, h.X)
		b.MinY = math.Min(b.MinY, h.Y)
		b.MaxY = math.Max(b.MaxY, h.Y)
	}

	nBins2D := float64(1 + len(stationHits))
	scale := math.Abs(stationZ - targetZ)
	lo, hi := minStepFactor*scale, maxStepFactor*scale

	b.StepX = stepFactorX * (b.MaxX - b.MinX) / math.Sqrt(nBins2D)
	b.StepY = stepFactorY * (b.MaxY - b.MinY) / math.Sqrt(nBins2D)
	if hi > 0 {
		b.StepX = math.Min(math.Max(b.StepX, lo), hi)
		b.StepY = math.Min(math.Max(b.StepY, lo), hi)
	}
	return b
}

// Build sizes and fills a grid for station s of hs. used may be nil.
func Build(hs *hits.HitSet, s int, stationZ, targetZ float64, used []bool) *Grid {
	start, end := hs.StationRange(s)
	b := SizeFor(hs.Hits[start:end], stationZ, targetZ)
	g := New(b.MinX, b.MaxX, b.MinY, b.MaxY, b.StepX, b.StepY)
	g.StoreHits(hs.Hits, start, end-start, used)
	return g
}
