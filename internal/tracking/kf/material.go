package kf

import "math"

// Direction selects the sign of the energy-loss correction.
type Direction int

const (
	// Downstream fits lose energy along the propagation direction.
	Downstream Direction = -1
	// Upstream fits regain the energy lost before the current point.
	Upstream Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Downstream:
		return "downstream"
	case Upstream:
		return "upstream"
	}
	return "unknown"
}

// MultipleScattering adds the Highland-type scattering noise of a layer with
// radiation thickness radThick (in X0) to the slope block of the covariance.
// The momentum enters through qp0, mass is the assumed particle mass.
// Layers with no material are skipped.
func (s *TrackState) MultipleScattering(radThick, qp0, mass float64) {
	if !(radThick > 0) {
		return
	}
	tx, ty := s.Tx, s.Ty
	txtx, tyty, txty := tx*tx, ty*ty, tx*ty

	h := txtx + tyty
	t := math.Sqrt(1 + h)

	const (
		c1 = 0.0136
		c2 = c1 * 0.038
		c3 = c2 * 0.5
		c4 = -c3 * 0.5
		c5 = c3 * 0.333333
		c6 = -c3 * 0.25
	)

	bracket := c1 + c2*math.Log(radThick) + c3*h + h*h*(c4+c5*h+c6*h*h)
	if bracket < 0 {
		bracket = 0
	}
	s0 := bracket * qp0 * t
	a := (t + mass*mass*qp0*qp0*t) * radThick * s0 * s0

	s.C.Add(2, 2, (1+txtx)*a)
	s.C.Add(3, 2, txty*a)
	s.C.Add(3, 3, (1+tyty)*a)
}

// Bethe-Bloch parameterisation for silicon.
const (
	bbRho  = 2.33
	bbX0   = 0.2 * 2.303
	bbX1   = 3.0 * 2.303
	bbMI   = 173e-9
	bbMZA  = 0.49848
	bbK    = 0.307075e-3
	bb2me  = 1.022e-3
	bbPlas = 28.816e-9

	// radiation length of silicon in g/cm^2 divided by its density
	siliconX0 = 9.34961
)

// ApproximateBetheBloch returns the mean energy loss per g/cm^2 in silicon
// for a particle with (beta gamma)^2 = bg2.
func ApproximateBetheBloch(bg2 float64) float64 {
	maxT := bb2me * bg2
	lhwI := math.Log(bbPlas * math.Sqrt(bbRho*bbMZA) / bbMI)

	x := 0.5 * math.Log(bg2)
	var d2 float64
	if x > bbX1 {
		d2 = lhwI + x - 0.5
	} else if x > bbX0 {
		r := (bbX1 - x) / (bbX1 - bbX0)
		d2 = lhwI + x - 0.5 + (0.5-lhwI-bbX0)*r*r*r
	}
	return bbK * bbMZA * (1 + bg2) / bg2 *
		(0.5*math.Log(bb2me*bg2*maxT/(bbMI*bbMI)) - bg2/(1+bg2) - d2)
}

// minQp2 caps the momentum used for the loss estimate at 10 GeV/c.
const minQp2 = 0.01

// EnergyLossCorrection rescales q/p and its covariance row for the energy
// lost in a layer of radThick X0. Downstream removes energy, Upstream adds
// it back. A correction that is not finite leaves the state unchanged.
// The applied factor is returned so the caller can rescale its q/p
// linearisation point.
func (s *TrackState) EnergyLossCorrection(radThick float64, dir Direction, mass float64) float64 {
	if !(radThick > 0) {
		return 1
	}
	m2 := mass * mass
	p2 := 1 / math.Max(s.Qp*s.Qp, minQp2)
	e2 := m2 + p2

	bethe := ApproximateBetheBloch(p2 / m2)
	tr := math.Sqrt(1 + s.Tx*s.Tx + s.Ty*s.Ty)
	dE := bethe * radThick * tr * bbRho * siliconX0

	eCorr := math.Sqrt(e2) + float64(dir)*dE
	corr := math.Sqrt(p2 / (eCorr*eCorr - m2))
	if math.IsNaN(corr) || math.IsInf(corr, 0) {
		corr = 1
	}

	s.Qp *= corr
	for j := 0; j < 4; j++ {
		s.C.Scale(4, j, corr)
	}
	s.C.Scale(4, 4, corr*corr)
	s.C.Scale(5, 4, corr)
	s.C.Scale(6, 4, corr)
	return corr
}
