package kf

import (
	"math"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/field"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
)

// Numerical guards for the scalar updates. When the predicted variance HCH
// is already far below the measurement variance the residual weight drops
// the measurement variance term.
const (
	hchGuardFactor = 16.0
	hchInflation   = 1.0000001
)

// update applies the rank-1 Kalman update with gain column F, weight wi and
// scaled residual zetawi to the parameters and the lower-triangle covariance.
func (s *TrackState) update(F *[NumParams]float64, wi, zetawi float64) {
	r := s.Params()
	for i := range r {
		r[i] -= F[i] * zetawi
	}
	s.SetParams(r)
	for i := 0; i < NumParams; i++ {
		ki := F[i] * wi
		for j := 0; j <= i; j++ {
			s.C.Add(i, j, -ki*F[j])
		}
	}
}

// Filter1d updates the state with u = CosPhi*x + SinPhi*y.
func (s *TrackState) Filter1d(m hits.MeasurementU) {
	zeta := m.CosPhi*s.X + m.SinPhi*s.Y - m.U

	var F [NumParams]float64
	for i := 0; i < NumParams; i++ {
		F[i] = m.CosPhi*s.C.At(i, 0) + m.SinPhi*s.C.At(i, 1)
	}
	HCH := F[0]*m.CosPhi + F[1]*m.SinPhi

	doFilter := HCH < m.DU2*hchGuardFactor

	wi := 1 / (m.DU2 + hchInflation*HCH)
	if !(m.DU2 > 0) {
		wi = 0
	}
	den := HCH
	if doFilter {
		den += m.DU2
	}
	zetawi := zeta / den

	s.Chi2 += m.Ndf * zeta * zeta * wi
	s.Ndf += m.Ndf

	s.update(&F, wi, zetawi)
}

// FilterXY applies a 2D position measurement as two sequential scalar
// updates: the X axis first, then the U axis that decorrelates Y from X.
func (s *TrackState) FilterXY(m hits.MeasurementXY) {
	mx, mu := m.Decompose()
	s.Filter1d(mx)
	s.Filter1d(mu)
}

// FilterTime updates the state with a time measurement t of variance dt2.
// Stations without time information leave the state untouched.
func (s *TrackState) FilterTime(t, dt2 float64, timeInfo bool) {
	if !timeInfo {
		return
	}
	var F [NumParams]float64
	for i := 0; i < NumParams; i++ {
		F[i] = s.C.At(5, i)
	}
	HCH := s.C.At(5, 5)

	doFilter := HCH < dt2*hchGuardFactor

	wi := 1 / (dt2 + hchInflation*HCH)
	zeta := s.T - t
	den := HCH
	if doFilter {
		den += dt2
	}
	zetawi := zeta / den

	if doFilter {
		s.Chi2Time += zeta * zeta * wi
	}
	s.NdfTime++

	s.update(&F, wi, zetawi)
}

// ExtrapolatedXYLine returns the position at z of the straight line through
// the state, and the rows Jx, Jy of its Jacobian including the first-order
// bending term from fld.
func (s *TrackState) ExtrapolatedXYLine(z float64, fld *field.Region) (x, y float64, jx, jy [NumParams]float64) {
	tx, ty := s.Tx, s.Ty
	dz := z - s.Z
	dz2 := dz * dz

	xx, yy, xy := tx*tx, ty*ty, tx*ty
	ctdz2 := CLight * math.Sqrt(1+xx+yy) * dz2

	dzc6 := dz / 6
	dz2c12 := dz2 / 12
	sx := fld.C0.X*0.5 + fld.C1.X*dzc6 + fld.C2.X*dz2c12
	sy := fld.C0.Y*0.5 + fld.C1.Y*dzc6 + fld.C2.Y*dz2c12
	sz := fld.C0.Z*0.5 + fld.C1.Z*dzc6 + fld.C2.Z*dz2c12

	x = s.X + tx*dz
	y = s.Y + ty*dz

	jx[0] = 1
	jx[2] = dz
	jx[4] = ctdz2 * (sx*xy + sy*(-xx-1) + sz*ty)

	jy[1] = 1
	jy[3] = dz
	jy[4] = ctdz2 * (sx*(yy+1) - sy*xy - sz*tx)
	return x, y, jx, jy
}

// FilterExtrapolatedXY filters a position measurement m taken at another z,
// given the line-extrapolated position (ex, ey) and Jacobian rows jx, jy.
// It assumes the slope and q/p blocks of C are still diagonal, as they are
// right after ResetErrors; the cross terms are assigned, not accumulated.
func (s *TrackState) FilterExtrapolatedXY(m hits.MeasurementXY, ex, ey float64, jx, jy [NumParams]float64) {
	c := &s.C

	zeta0 := ex - m.X
	zeta1 := ey - m.Y

	F00 := c.At(0, 0)
	F01 := c.At(1, 0)
	F10 := F01
	F11 := c.At(1, 1)

	F20 := jx[2] * c.At(2, 2)
	F21 := jy[2] * c.At(2, 2)
	F30 := jx[3] * c.At(3, 3)
	F31 := jy[3] * c.At(3, 3)
	F40 := jx[4] * c.At(4, 4)
	F41 := jy[4] * c.At(4, 4)

	S00 := m.DX2 + F00 + jx[2]*F20 + jx[3]*F30 + jx[4]*F40
	S10 := m.DXY + F10 + jy[2]*F20 + jy[3]*F30 + jy[4]*F40
	S11 := m.DY2 + F11 + jy[2]*F21 + jy[3]*F31 + jy[4]*F41

	si := 1 / (S00*S11 - S10*S10)
	S00, S10, S11 = si*S11, -si*S10, si*S00

	s.Chi2 += zeta0*zeta0*S00 + 2*zeta0*zeta1*S10 + zeta1*zeta1*S11
	s.Ndf += m.NdfX + m.NdfY

	K00 := F00*S00 + F01*S10
	K01 := F00*S10 + F01*S11
	K10 := F10*S00 + F11*S10
	K11 := F10*S10 + F11*S11
	K20 := F20*S00 + F21*S10
	K21 := F20*S10 + F21*S11
	K30 := F30*S00 + F31*S10
	K31 := F30*S10 + F31*S11
	K40 := F40*S00 + F41*S10
	K41 := F40*S10 + F41*S11

	s.X -= K00*zeta0 + K01*zeta1
	s.Y -= K10*zeta0 + K11*zeta1
	s.Tx -= K20*zeta0 + K21*zeta1
	s.Ty -= K30*zeta0 + K31*zeta1
	s.Qp -= K40*zeta0 + K41*zeta1

	c.Add(0, 0, -(K00*F00 + K01*F01))
	c.Add(1, 0, -(K10*F00 + K11*F01))
	c.Add(1, 1, -(K10*F10 + K11*F11))

	c.Set(2, 0, -(K20*F00 + K21*F01))
	c.Set(2, 1, -(K20*F10 + K21*F11))
	c.Add(2, 2, -(K20*F20 + K21*F21))

	c.Set(3, 0, -(K30*F00 + K31*F01))
	c.Set(3, 1, -(K30*F10 + K31*F11))
	c.Set(3, 2, -(K30*F20 + K31*F21))
	c.Add(3, 3, -(K30*F30 + K31*F31))

	c.Set(4, 0, -(K40*F00 + K41*F01))
	c.Set(4, 1, -(K40*F10 + K41*F11))
	c.Set(4, 2, -(K40*F20 + K41*F21))
	c.Set(4, 3, -(K40*F30 + K41*F31))
	c.Add(4, 4, -(K40*F40 + K41*F41))
}

// FilterWithTargetAtLine constrains the track to pass through the target
// measurement at targetZ using the line approximation of the track.
func (s *TrackState) FilterWithTargetAtLine(targetZ float64, target hits.MeasurementXY, fld *field.Region) {
	ex, ey, jx, jy := s.ExtrapolatedXYLine(targetZ, fld)
	s.FilterExtrapolatedXY(target, ex, ey, jx, jy)
}

// Chi2XChi2U returns the chi2 of the X component of m for a track at (x, y)
// with position covariance (c00, c10, c11), and the chi2 of the
// decorrelated U component after the X update.
func Chi2XChi2U(m hits.MeasurementXY, x, y, c00, c10, c11 float64) (chi2x, chi2u float64) {
	{
		zeta := x - m.X
		F0, F1 := c00, c10
		wi := 1 / (m.DX2 + F0)
		zetawi := zeta * wi
		chi2x = m.NdfX * zeta * zetawi

		k1 := F1 * wi
		x -= F0 * zetawi
		y -= F1 * zetawi
		c00 -= F0 * F0 * wi
		c10 -= k1 * F0
		c11 -= k1 * F1
	}

	cosPhi := -m.DXY / m.DX2
	u := cosPhi*m.X + m.Y
	du2 := m.DY2 + cosPhi*m.DXY

	zeta := cosPhi*x + y - u
	F0 := cosPhi*c00 + c10
	F1 := cosPhi*c10 + c11
	HCH := F0*cosPhi + F1

	chi2u = m.NdfY * zeta * zeta / (du2 + HCH)
	return chi2x, chi2u
}
