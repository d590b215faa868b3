package kf

import (
	"math"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/field"
)

// MaxExtrapolationStep bounds a single Runge-Kutta step in Extrapolate (cm).
const MaxExtrapolationStep = 50.0

// extrapolateTolerance is the z distance (cm) below which Extrapolate stops.
const extrapolateTolerance = 1e-6

// ExtrapolateStep propagates the state to zOut with one 4th-order
// Runge-Kutta step through fld. The equations of motion are linearised at
// q/p = qp0; the state's own q/p enters through the Jacobian column.
// The covariance is transported as C' = R C R^T with the analytic Jacobian.
//
//	d(x, y)/dz  = (tx, ty)
//	d(tx)/dz    = c L qp (tx ty Bx - (1+tx^2) By + ty Bz)
//	d(ty)/dz    = c L qp ((1+ty^2) Bx - tx ty By - tx Bz)
//	d(t)/dz     = L vi,  L = sqrt(1 + tx^2 + ty^2)
func (s *TrackState) ExtrapolateStep(zOut, qp0 float64, fld *field.Region) {
	h := zOut - s.Z
	stepDz := [5]float64{0, 0, 0.5 * h, 0.5 * h, h}
	stepW := [5]float64{0, h / 6, h / 3, h / 3, h / 6}

	var f [5][NumParams]float64
	var F [5][NumParams][NumParams]float64

	r0 := [NumParams]float64{s.X, s.Y, s.Tx, s.Ty, qp0, s.T, s.Vi}

	for step := 1; step <= 4; step++ {
		var rs [NumParams]float64
		for i := range rs {
			rs[i] = r0[i] + stepDz[step]*f[step-1][i]
		}
		B := fld.Get(rs[0], rs[1], s.Z+stepDz[step])

		tx, ty := rs[2], rs[3]
		tx2, ty2, txty := tx*tx, ty*ty, tx*ty
		L2 := 1 + tx2 + ty2
		L2i := 1 / L2
		L := math.Sqrt(L2)
		cL := CLight * L
		cLqp0 := cL * qp0

		f[step][0] = tx
		F[step][0][2] = 1

		f[step][1] = ty
		F[step][1][3] = 1

		f2 := txty*B.X - (1+tx2)*B.Y + ty*B.Z
		f[step][2] = cLqp0 * f2
		F[step][2][2] = cLqp0 * (tx*f2*L2i + ty*B.X - 2*tx*B.Y)
		F[step][2][3] = cLqp0 * (ty*f2*L2i + tx*B.X + B.Z)
		F[step][2][4] = cL * f2

		f3 := -txty*B.Y - tx*B.Z + (1+ty2)*B.X
		f[step][3] = cLqp0 * f3
		F[step][3][2] = cLqp0 * (tx*f3*L2i - ty*B.Y - B.Z)
		F[step][3][3] = cLqp0 * (ty*f3*L2i + 2*ty*B.X - tx*B.Y)
		F[step][3][4] = cL * f3

		vi := rs[6]
		f[step][5] = vi * L
		F[step][5][2] = vi * tx / L
		F[step][5][3] = vi * ty / L
		F[step][5][6] = L
	}

	// k[step] = F[step] (I + stepDz[step] k[step-1]) accumulated per sub-stage.
	var k [5][NumParams][NumParams]float64
	for step := 1; step <= 4; step++ {
		for i := 0; i < NumParams; i++ {
			for j := 0; j < NumParams; j++ {
				v := F[step][i][j]
				for m := 0; m < NumParams; m++ {
					v += stepDz[step] * F[step][i][m] * k[step-1][m][j]
				}
				k[step][i][j] = v
			}
		}
	}

	var R [NumParams][NumParams]float64
	for i := 0; i < NumParams; i++ {
		R[i][i] = 1
		for j := 0; j < NumParams; j++ {
			for step := 1; step <= 4; step++ {
				R[i][j] += stepW[step] * k[step][i][j]
			}
		}
	}

	dqp := s.Qp - qp0
	var r [NumParams]float64
	for i := 0; i < NumParams; i++ {
		r[i] = r0[i]
		for step := 1; step <= 4; step++ {
			r[i] += stepW[step] * f[step][i]
		}
		r[i] += R[i][4] * dqp
	}
	s.SetParams(r)
	s.Z = zOut

	s.transport(&R)
}

// transport replaces C with R C R^T.
func (s *TrackState) transport(R *[NumParams][NumParams]float64) {
	C := s.C.Dense()
	var RC [NumParams][NumParams]float64
	for i := 0; i < NumParams; i++ {
		for j := 0; j < NumParams; j++ {
			var v float64
			for m := 0; m < NumParams; m++ {
				v += R[i][m] * C[m][j]
			}
			RC[i][j] = v
		}
	}
	for i := 0; i < NumParams; i++ {
		for j := 0; j <= i; j++ {
			var v float64
			for m := 0; m < NumParams; m++ {
				v += RC[i][m] * R[j][m]
			}
			s.C.Set(i, j, v)
		}
	}
}

// Extrapolate propagates to zOut in Runge-Kutta steps no longer than
// MaxExtrapolationStep, all linearised at qp0. A non-finite zOut leaves the
// state unchanged.
func (s *TrackState) Extrapolate(zOut, qp0 float64, fld *field.Region) {
	if math.IsNaN(zOut) || math.IsInf(zOut, 0) {
		return
	}
	for math.Abs(zOut-s.Z) > extrapolateTolerance {
		z := zOut
		if zOut-s.Z > MaxExtrapolationStep {
			z = s.Z + MaxExtrapolationStep
		} else if s.Z-zOut > MaxExtrapolationStep {
			z = s.Z - MaxExtrapolationStep
		}
		s.ExtrapolateStep(z, qp0, fld)
	}
}

// ExtrapolateLineNoField is the closed-form straight-line transport to zOut.
// q/p does not couple to position without a field, so only the x, y and t
// rows of the Jacobian differ from identity.
func (s *TrackState) ExtrapolateLineNoField(zOut float64) {
	dz := zOut - s.Z
	tx, ty, vi := s.Tx, s.Ty, s.Vi
	L := math.Sqrt(1 + tx*tx + ty*ty)

	j52 := dz * tx * vi / L
	j53 := dz * ty * vi / L
	j56 := dz * L

	s.X += tx * dz
	s.Y += ty * dz
	s.T += L * vi * dz
	s.Z = zOut

	c := &s.C

	jc00 := c.At(0, 0) + dz*c.At(2, 0)
	jc02 := c.At(0, 2) + dz*c.At(2, 2)

	jc10 := c.At(1, 0) + dz*c.At(3, 0)
	jc11 := c.At(1, 1) + dz*c.At(3, 1)
	jc12 := c.At(1, 2) + dz*c.At(3, 2)
	jc13 := c.At(1, 3) + dz*c.At(3, 3)

	var jc5 [NumParams]float64
	for k := 0; k < NumParams; k++ {
		jc5[k] = c.At(5, k) + j52*c.At(2, k) + j53*c.At(3, k) + j56*c.At(6, k)
	}

	c22, c23, c26 := c.At(2, 2), c.At(2, 3), c.At(2, 6)
	c33, c36, c66 := c.At(3, 3), c.At(3, 6), c.At(6, 6)

	c.Set(0, 0, jc00+jc02*dz)
	c.Set(1, 0, jc10+jc12*dz)
	c.Add(2, 0, c22*dz)
	c.Add(3, 0, c.At(3, 2)*dz)
	c.Add(4, 0, c.At(4, 2)*dz)
	c.Set(5, 0, jc5[0]+jc5[2]*dz)
	c.Add(6, 0, c26*dz)

	c.Set(1, 1, jc11+jc13*dz)
	c.Add(2, 1, c23*dz)
	c.Add(3, 1, c33*dz)
	c.Add(4, 1, c.At(4, 3)*dz)
	c.Set(5, 1, jc5[1]+jc5[3]*dz)
	c.Add(6, 1, c36*dz)

	c.Set(5, 2, jc5[2])
	c.Set(5, 3, jc5[3])
	c.Set(5, 4, jc5[4])
	c.Set(5, 5, jc5[5]+jc5[2]*j52+jc5[3]*j53+jc5[6]*j56)
	c.Add(6, 5, c26*j52+c36*j53+c66*j56)
}
