package pipeline

// EmptySlot marks an unused doublet or triplet slot.
const EmptySlot = -1

// Per-seed slot capacities. Candidates beyond the cap are dropped.
const (
	DefaultMaxDoubletsFromHit     = 150
	DefaultMaxTripletsFromDoublet = 15
)

// Doublet is a (left, middle) hit index pair.
type Doublet struct {
	Left, Middle int
}

// IsEmpty reports whether the slot holds no doublet.
func (d Doublet) IsEmpty() bool { return d.Middle == EmptySlot }

var emptyDoublet = Doublet{Left: EmptySlot, Middle: EmptySlot}

// hitTriple is the slot payload of the triplet search.
type hitTriple struct {
	Left, Middle, Right int
}

func (h hitTriple) IsEmpty() bool { return h.Right == EmptySlot }

var emptyTriple = hitTriple{Left: EmptySlot, Middle: EmptySlot, Right: EmptySlot}

const (
	stationBits = 6
	stationMask = 1<<stationBits - 1
)

// PackStations encodes three station indices, 6 bits each.
func PackStations(left, middle, right int) uint32 {
	return uint32(left&stationMask) |
		uint32(middle&stationMask)<<stationBits |
		uint32(right&stationMask)<<(2*stationBits)
}

// UnpackStations is the inverse of PackStations.
func UnpackStations(code uint32) (left, middle, right int) {
	return int(code & stationMask),
		int(code >> stationBits & stationMask),
		int(code >> (2 * stationBits) & stationMask)
}

// Triplet is a fitted three-hit segment. Chi2 is -1 for rejected
// candidates, which keep their slot.
type Triplet struct {
	Left, Middle, Right int

	stations uint32

	Chi2 float64

	Qp, Cqp float64
	Tx, Ctx float64
	Ty, Cty float64

	IsMomentumFitted bool

	// Filled in by track assembly, not by this package.
	Level          int
	FirstNeighbour int
	NeighbourCount int
}

// Stations returns the left, middle and right station indices.
func (t *Triplet) Stations() (left, middle, right int) { return UnpackStations(t.stations) }

// LeftStation is the station of the left hit.
func (t *Triplet) LeftStation() int {
	l, _, _ := t.Stations()
	return l
}

// Valid reports whether the triplet passed the final fit.
func (t *Triplet) Valid() bool { return t.Chi2 >= 0 }
