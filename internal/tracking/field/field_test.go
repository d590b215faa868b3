package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func quad(z float64) Value {
	return Value{
		X: 0.1 + 0.02*z - 0.001*z*z,
		Y: -5 + 0.3*z + 0.004*z*z,
		Z: 0.5 * z * z,
	}
}

func assertValue(t *testing.T, want, got Value, tol float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol)
	assert.InDelta(t, want.Y, got.Y, tol)
	assert.InDelta(t, want.Z, got.Z, tol)
}

// ---------------------------------------------------------------------------
// Region
// ---------------------------------------------------------------------------

func TestRegionSet3(t *testing.T) {
	t.Parallel()

	var r Region
	r.Set3(quad(10), 10, quad(20), 20, quad(35), 35)

	for _, z := range []float64{5, 10, 17, 20, 30, 35, 40} {
		assertValue(t, quad(z), r.Get(0, 0, z), 1e-9)
	}
	// transverse position is ignored
	assertValue(t, r.Get(0, 0, 12), r.Get(100, -40, 12), 0)
}

func TestRegionSet2(t *testing.T) {
	t.Parallel()

	var r Region
	r.Set2(Value{X: 1, Y: 2, Z: 3}, 0, Value{X: 3, Y: 2, Z: -1}, 10)
	assertValue(t, Value{X: 2, Y: 2, Z: 1}, r.Get(0, 0, 5), 1e-12)
	assertValue(t, Value{X: 1, Y: 2, Z: 3}, r.Get(0, 0, 0), 1e-12)

	r.Set2(Value{Y: 1}, 4, Value{Y: 7}, 4)
	assertValue(t, Value{Y: 1}, r.Get(0, 0, 100), 0)
}

func TestRegionSet3CoincidentPlanes(t *testing.T) {
	t.Parallel()

	b0, b1, b2 := Value{X: 1, Y: 2, Z: 3}, Value{X: 3, Y: 2, Z: -1}, Value{Y: 9}

	tests := []struct {
		name       string
		z0, z1, z2 float64
		want       func(z float64) Value
	}{
		{"first two coincide", 0, 0, 10, func(z float64) Value { return b0.add(b2.sub(b0).scale(z / 10)) }},
		{"last two coincide", 0, 10, 10, func(z float64) Value { return b0.add(b1.sub(b0).scale(z / 10)) }},
		{"outer two coincide", 0, 10, 0, func(z float64) Value { return b0.add(b1.sub(b0).scale(z / 10)) }},
		{"all coincide", 4, 4, 4, func(float64) Value { return b0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var r Region
			r.Set3(b0, tt.z0, b1, tt.z1, b2, tt.z2)
			assert.Equal(t, tt.z0, r.Z0)
			assert.Equal(t, Value{}, r.C2)
			for _, z := range []float64{-5, 0, 4, 7, 10} {
				got := r.Get(0, 0, z)
				assertValue(t, tt.want(z), got, 1e-12)
			}
		})
	}
}

func TestRegionShift(t *testing.T) {
	t.Parallel()

	var r Region
	r.Set3(quad(0), 0, quad(10), 10, quad(20), 20)
	before := []Value{r.Get(0, 0, -3), r.Get(0, 0, 7), r.Get(0, 0, 25)}
	r.shift(12)
	assert.Equal(t, 12.0, r.Z0)
	after := []Value{r.Get(0, 0, -3), r.Get(0, 0, 7), r.Get(0, 0, 25)}
	for i := range before {
		assertValue(t, before[i], after[i], 1e-9)
	}
}

func TestRegionIsZero(t *testing.T) {
	t.Parallel()

	var r Region
	assert.True(t, r.IsZero())
	r.SetConst(Value{Y: 1e-5})
	assert.True(t, r.IsZero())
	r.SetConst(Value{Y: 0.2})
	assert.False(t, r.IsZero())
}

// ---------------------------------------------------------------------------
// Slice
// ---------------------------------------------------------------------------

func TestSliceValue(t *testing.T) {
	t.Parallel()

	s := Slice{Z: 50}
	// Bx = 1 + 2x + 3y + x^2 y^3 ; order: index 18 is x^2 y^3
	s.Cx[0], s.Cx[1], s.Cx[2], s.Cx[18] = 1, 2, 3, 1
	// By = y^5 (last) ; Bz = x^5 (index 15)
	s.Cy[20] = 1
	s.Cz[15] = 2

	x, y := 1.5, -0.5
	got := s.Value(x, y)
	assert.InDelta(t, 1+2*x+3*y+x*x*y*y*y, got.X, 1e-12)
	assert.InDelta(t, y*y*y*y*y, got.Y, 1e-12)
	assert.InDelta(t, 2*x*x*x*x*x, got.Z, 1e-12)

	// line crossing: from z=30 with slopes (0.1, 0.05) reaches (x+2, y+1) at z=50
	line := s.ValueForLine(x-2, y-1, 30, 0.1, 0.05)
	assertValue(t, got, line, 1e-12)
}

func TestUniformSlice(t *testing.T) {
	t.Parallel()

	b := Value{X: 0.1, Y: -9.8, Z: 0.3}
	s := UniformSlice(20, b)
	assertValue(t, b, s.Value(13, -77), 0)
	assert.False(t, s.IsZero())
	assert.True(t, (&Slice{}).IsZero())
	assert.InDelta(t, 9.8051, math.Sqrt(b.X*b.X+b.Y*b.Y+b.Z*b.Z), 1e-4)
}
