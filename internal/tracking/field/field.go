// Package field approximates the magnetic field for short track segments.
//
// A Slice is a degree-5 polynomial in (x, y) fitted at one station's z.
// A Region is a quadratic in z built from two or three field samples
// along a segment; it is valid only over the z-span it was built from and is
// rebuilt for every segment. Field values are in kG, lengths in cm.
package field

// zeroFieldThreshold2 is the |B|^2 below which a value counts as no field.
const zeroFieldThreshold2 = 1e-8

// Value is a field vector.
type Value struct {
	X, Y, Z float64
}

// IsZero reports whether |B|^2 is below the zero-field threshold.
func (b Value) IsZero() bool {
	return b.X*b.X+b.Y*b.Y+b.Z*b.Z <= zeroFieldThreshold2
}

func (b Value) add(o Value) Value     { return Value{b.X + o.X, b.Y + o.Y, b.Z + o.Z} }
func (b Value) sub(o Value) Value     { return Value{b.X - o.X, b.Y - o.Y, b.Z - o.Z} }
func (b Value) scale(s float64) Value { return Value{b.X * s, b.Y * s, b.Z * s} }

// PolDegree is the degree of the slice approximation.
const PolDegree = 5

// NumCoeff is the number of monomials of total degree <= PolDegree.
const NumCoeff = (PolDegree + 1) * (PolDegree + 2) / 2

// Slice approximates the field on the plane z = Z. Coefficients follow the
// graded monomial order 1, x, y, x^2, xy, y^2, x^3, x^2y, ... , y^5.
type Slice struct {
	Z          float64
	Cx, Cy, Cz [NumCoeff]float64
}

// UniformSlice returns a slice whose field is b everywhere.
func UniformSlice(z float64, b Value) Slice {
	s := Slice{Z: z}
	s.Cx[0], s.Cy[0], s.Cz[0] = b.X, b.Y, b.Z
	return s
}

// monomials fills m with the graded monomials of (x, y).
func monomials(x, y float64, m *[NumCoeff]float64) {
	k := 0
	xp := [PolDegree + 1]float64{1}
	yp := [PolDegree + 1]float64{1}
	for i := 1; i <= PolDegree; i++ {
		xp[i] = xp[i-1] * x
		yp[i] = yp[i-1] * y
	}
	for d := 0; d <= PolDegree; d++ {
		for j := 0; j <= d; j++ {
			m[k] = xp[d-j] * yp[j]
			k++
		}
	}
}

// Value evaluates the slice at (x, y).
func (s *Slice) Value(x, y float64) Value {
	var m [NumCoeff]float64
	monomials(x, y, &m)
	var b Value
	for i := 0; i < NumCoeff; i++ {
		b.X += s.Cx[i] * m[i]
		b.Y += s.Cy[i] * m[i]
		b.Z += s.Cz[i] * m[i]
	}
	return b
}

// ValueForLine evaluates the slice where the straight line through
// (x, y, z) with slopes (tx, ty) crosses the slice plane.
func (s *Slice) ValueForLine(x, y, z, tx, ty float64) Value {
	dz := s.Z - z
	return s.Value(x+tx*dz, y+ty*dz)
}

// IsZero reports whether every coefficient vanishes.
func (s *Slice) IsZero() bool {
	for i := 0; i < NumCoeff; i++ {
		if s.Cx[i] != 0 || s.Cy[i] != 0 || s.Cz[i] != 0 {
			return false
		}
	}
	return true
}

// Region is B(z) = C0 + C1*(z-Z0) + C2*(z-Z0)^2.
type Region struct {
	C0, C1, C2 Value
	Z0         float64
}

// Set3 fits the quadratic through three samples. When two of the z values
// coincide it falls back to the line through the distinct ones.
func (r *Region) Set3(b0 Value, z0 float64, b1 Value, z1 float64, b2 Value, z2 float64) {
	switch {
	case z1 == z0:
		r.Set2(b0, z0, b2, z2)
		return
	case z2 == z0 || z2 == z1:
		r.Set2(b0, z0, b1, z1)
		return
	}
	r.Z0 = z0
	dz1 := z1 - z0
	dz2 := z2 - z0
	det := 1 / (dz1 * dz2 * (z2 - z1))

	w21 := -dz2 * det
	w22 := dz1 * det
	w11 := -dz2 * w21
	w12 := -dz1 * w22

	db1 := b1.sub(b0)
	db2 := b2.sub(b0)

	r.C0 = b0
	r.C1 = db1.scale(w11).add(db2.scale(w12))
	r.C2 = db1.scale(w21).add(db2.scale(w22))
}

// Set2 fits a line through two samples, or the constant b0 when z0 == z1.
func (r *Region) Set2(b0 Value, z0 float64, b1 Value, z1 float64) {
	dz := z1 - z0
	if dz == 0 {
		r.SetConst(b0)
		r.Z0 = z0
		return
	}
	r.Z0 = z0
	r.C0 = b0
	r.C1 = b1.sub(b0).scale(1 / dz)
	r.C2 = Value{}
}

// SetConst makes the region a constant field.
func (r *Region) SetConst(b Value) {
	*r = Region{C0: b}
}

// Get evaluates the region. x and y are accepted for call-site symmetry;
// the field is taken as homogeneous in the transverse plane.
func (r *Region) Get(_, _, z float64) Value {
	dz := z - r.Z0
	return r.C0.add(r.C1.scale(dz)).add(r.C2.scale(dz * dz))
}

// shift re-expands the region around z without changing B(z).
func (r *Region) shift(z float64) {
	dz := z - r.Z0
	r.C0 = r.Get(0, 0, z)
	r.C1 = r.C1.add(r.C2.scale(2 * dz))
	r.Z0 = z
}

// IsZero reports whether all coefficients are below the zero threshold.
func (r *Region) IsZero() bool {
	return r.C0.IsZero() && r.C1.IsZero() && r.C2.IsZero()
}
