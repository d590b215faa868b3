// Package material holds the per-station radiation-thickness lookup tables.
//
// Every station owns a square NBins x NBins map over [-XYMax, XYMax]^2.
// Tables from all stations are packed into one shared slice and each Map
// records its Offset into it.
package material

import (
	"fmt"
	"math"
)

// NoBin is returned by Map.Bin for positions outside the table support.
const NoBin = -1

// Map describes one station's table inside the packed Tables slice.
type Map struct {
	NBins  int
	XYMax  float64
	Offset int

	factor float64
}

// NewMap returns a map with nBins per axis covering [-xyMax, xyMax]. A map
// with nBins <= 0 or xyMax <= 0 misses everywhere and is rejected by Pack.
func NewMap(nBins int, xyMax float64) Map {
	m := Map{NBins: nBins, XYMax: xyMax}
	if nBins > 0 && xyMax > 0 {
		m.factor = 0.5 * float64(nBins) / xyMax
	}
	return m
}

// Bin returns the packed-table index for (x, y), or NoBin when the point is
// outside the square support.
func (m Map) Bin(x, y float64) int {
	if m.NBins <= 0 || !(m.factor > 0) {
		return NoBin
	}
	fi := math.Floor((x + m.XYMax) * m.factor)
	fj := math.Floor((y + m.XYMax) * m.factor)
	n := float64(m.NBins)
	if !(fi >= 0 && fi < n && fj >= 0 && fj < n) {
		return NoBin
	}
	return m.Offset + int(fj)*m.NBins + int(fi)
}

// Tables is the shared, read-only radiation-thickness buffer.
type Tables struct {
	Maps   []Map
	Values []float64
}

// Pack concatenates per-station tables. tables[i] must hold
// maps[i].NBins^2 values in row-major (j*NBins + i) order.
func Pack(maps []Map, tables [][]float64) (*Tables, error) {
	if len(maps) != len(tables) {
		return nil, fmt.Errorf("material: %d maps but %d tables", len(maps), len(tables))
	}
	t := &Tables{Maps: make([]Map, len(maps))}
	offset := 0
	for i, m := range maps {
		if m.NBins <= 0 || !(m.XYMax > 0) {
			return nil, fmt.Errorf("material: station %d map needs positive bins and extent, got %d bins over %g", i, m.NBins, m.XYMax)
		}
		m = NewMap(m.NBins, m.XYMax)
		want := m.NBins * m.NBins
		if len(tables[i]) != want {
			return nil, fmt.Errorf("material: station %d table has %d values, want %d", i, len(tables[i]), want)
		}
		m.Offset = offset
		t.Maps[i] = m
		t.Values = append(t.Values, tables[i]...)
		offset += want
	}
	return t, nil
}

// Uniform is a convenience for a station with constant thickness.
func Uniform(nBins int, xyMax, radThick float64) (Map, []float64) {
	v := make([]float64, nBins*nBins)
	for i := range v {
		v[i] = radThick
	}
	return NewMap(nBins, xyMax), v
}

// RadiationLength returns the table value at bin. Callers must not pass
// NoBin; use Lookup when the bin may be a miss.
func (t *Tables) RadiationLength(bin int) float64 { return t.Values[bin] }

// Lookup returns the thickness under (x, y) on station ista and whether
// the point hit the table.
func (t *Tables) Lookup(ista int, x, y float64) (float64, bool) {
	if ista < 0 || ista >= len(t.Maps) {
		return 0, false
	}
	bin := t.Maps[ista].Bin(x, y)
	if bin == NoBin {
		return 0, false
	}
	return t.RadiationLength(bin), true
}
