package hits

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidHit is returned (wrapped) by Hit.Validate.
var ErrInvalidHit = errors.New("invalid hit")

// Hit is a single reconstructed detector hit. Positions are in cm, times in ns.
type Hit struct {
	ID      int // upstream identifier, carried through untouched
	Station int

	X, Y, Z float64
	T       float64

	// Variances and XY covariance of the measurement.
	DX2, DY2, DXY float64
	DT2           float64

	// Half-widths used to widen search windows.
	RangeX, RangeY, RangeT float64

	// Front/back raw-cluster keys, used downstream for de-duplication.
	FrontKey, BackKey int
}

// Validate rejects hits that would poison the filter: any non-finite
// coordinate or variance, the fully degenerate all-zero variance case, and
// non-positive X or Y variance (the rotated U filter divides by DX2).
func (h Hit) Validate() error {
	for _, v := range [...]float64{h.X, h.Y, h.Z, h.T, h.DX2, h.DY2, h.DXY, h.DT2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value in hit %d", ErrInvalidHit, h.ID)
		}
	}
	if h.DX2 == 0 && h.DY2 == 0 && h.DXY == 0 && h.DT2 == 0 {
		return fmt.Errorf("%w: hit %d has zero position and time variance", ErrInvalidHit, h.ID)
	}
	if h.DX2 <= 0 || h.DY2 <= 0 {
		return fmt.Errorf("%w: hit %d has non-positive position variance", ErrInvalidHit, h.ID)
	}
	if h.Station < 0 {
		return fmt.Errorf("%w: hit %d has negative station %d", ErrInvalidHit, h.ID, h.Station)
	}
	return nil
}

// MeasurementXY returns the hit as a two-dimensional position measurement
// with one degree of freedom per coordinate.
func (h Hit) MeasurementXY() MeasurementXY {
	return MeasurementXY{X: h.X, Y: h.Y, DX2: h.DX2, DY2: h.DY2, DXY: h.DXY, NdfX: 1, NdfY: 1}
}

// HitSet is a dense, station-sorted hit array.
type HitSet struct {
	Hits []Hit

	// stationStart[s] .. stationStart[s+1] is the index range of station s.
	stationStart []int

	// Rejected counts hits dropped by Validate while building the set.
	Rejected int
}

// NewHitSet validates hits, drops invalid ones and stable-sorts the rest by
// station. nStations bounds the station index; hits beyond it are rejected.
func NewHitSet(in []Hit, nStations int) *HitSet {
	hs := &HitSet{Hits: make([]Hit, 0, len(in))}
	for _, h := range in {
		if h.Validate() != nil || h.Station >= nStations {
			hs.Rejected++
			continue
		}
		hs.Hits = append(hs.Hits, h)
	}
	sort.SliceStable(hs.Hits, func(i, j int) bool { return hs.Hits[i].Station < hs.Hits[j].Station })

	hs.stationStart = make([]int, nStations+1)
	for _, h := range hs.Hits {
		hs.stationStart[h.Station+1]++
	}
	for s := 0; s < nStations; s++ {
		hs.stationStart[s+1] += hs.stationStart[s]
	}
	return hs
}

// Len is the number of valid hits.
func (hs *HitSet) Len() int { return len(hs.Hits) }

// NumStations is the station count the set was built for.
func (hs *HitSet) NumStations() int { return len(hs.stationStart) - 1 }

// StationRange returns the [start, end) hit index range of station s.
func (hs *HitSet) StationRange(s int) (start, end int) {
	if s < 0 || s >= hs.NumStations() {
		return 0, 0
	}
	return hs.stationStart[s], hs.stationStart[s+1]
}
