package kf

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Physical constants.
const (
	// CLight converts q/p * B into curvature, [(GeV/c)/kG/cm].
	CLight = 0.000299792458

	// SpeedOfLight in cm/ns.
	SpeedOfLight = 29.9792458

	// SpeedOfLightInv is 1/c in ns/cm.
	SpeedOfLightInv = 1 / SpeedOfLight

	MuonMass     = 0.105658375523     // GeV/c^2
	ElectronMass = 0.0005109989500015 // GeV/c^2
	ProtonMass   = 0.93827208816      // GeV/c^2
)

// NumParams is the dimension of the track state.
const NumParams = 7

// Parameter indices into the state vector and covariance.
const (
	IdxX = iota
	IdxY
	IdxTx
	IdxTy
	IdxQp
	IdxT
	IdxVi
)

// Covariance is a symmetric 7x7 matrix stored as its lower triangle.
// At(i, j) and At(j, i) address the same element.
type Covariance [NumParams * (NumParams + 1) / 2]float64

func triIndex(i, j int) int {
	if i < j {
		i, j = j, i
	}
	return i*(i+1)/2 + j
}

// At returns C(i, j).
func (c *Covariance) At(i, j int) float64 { return c[triIndex(i, j)] }

// Set assigns C(i, j) (and therefore C(j, i)).
func (c *Covariance) Set(i, j int, v float64) { c[triIndex(i, j)] = v }

// Add adds v to C(i, j).
func (c *Covariance) Add(i, j int, v float64) { c[triIndex(i, j)] += v }

// Scale multiplies C(i, j) by s.
func (c *Covariance) Scale(i, j int, s float64) { c[triIndex(i, j)] *= s }

// Dense expands the covariance into a full row-major matrix.
func (c *Covariance) Dense() [NumParams][NumParams]float64 {
	var m [NumParams][NumParams]float64
	for i := 0; i < NumParams; i++ {
		for j := 0; j <= i; j++ {
			v := c.At(i, j)
			m[i][j] = v
			m[j][i] = v
		}
	}
	return m
}

// TrackState is the parameter vector, its covariance and the fit quality
// accumulated so far. It is owned by exactly one worker at a time.
type TrackState struct {
	X, Y   float64
	Tx, Ty float64
	Qp     float64
	T      float64
	Vi     float64
	Z      float64

	C Covariance

	Chi2, Chi2Time float64
	Ndf, NdfTime   float64
}

// Params returns the state vector in index order.
func (s *TrackState) Params() [NumParams]float64 {
	return [NumParams]float64{s.X, s.Y, s.Tx, s.Ty, s.Qp, s.T, s.Vi}
}

// SetParams assigns the state vector from index order.
func (s *TrackState) SetParams(r [NumParams]float64) {
	s.X, s.Y, s.Tx, s.Ty, s.Qp, s.T, s.Vi = r[0], r[1], r[2], r[3], r[4], r[5], r[6]
}

// Fit bookkeeping after ResetErrors: the five track parameters and the
// two time parameters are still unconstrained.
const (
	resetNdf     = -5
	resetNdfTime = -2
)

// ResetErrors clears the covariance to a diagonal with the given variances
// and restarts the chi2 and NDF bookkeeping.
func (s *TrackState) ResetErrors(c00, c11, c22, c33, c44, c55, c66 float64) {
	s.C = Covariance{}
	s.C.Set(0, 0, c00)
	s.C.Set(1, 1, c11)
	s.C.Set(2, 2, c22)
	s.C.Set(3, 3, c33)
	s.C.Set(4, 4, c44)
	s.C.Set(5, 5, c55)
	s.C.Set(6, 6, c66)

	s.Chi2, s.Ndf = 0, resetNdf
	s.Chi2Time, s.NdfTime = 0, resetNdfTime
}

// SetXYCovariance overwrites the position block with a hit's covariance.
func (s *TrackState) SetXYCovariance(dx2, dxy, dy2 float64) {
	s.C.Set(0, 0, dx2)
	s.C.Set(1, 0, dxy)
	s.C.Set(1, 1, dy2)
}

// InitVelocityRange sets 1/v and its variance for particles between the
// speed of light and a proton of momentum minP (GeV/c).
func (s *TrackState) InitVelocityRange(minP float64) {
	maxVi := math.Sqrt(1+(ProtonMass/minP)*(ProtonMass/minP)) * SpeedOfLightInv
	minVi := SpeedOfLightInv
	vmean := minVi + 0.4*(maxVi-minVi)
	dvi := (maxVi - vmean) / 3
	s.Vi = vmean
	s.C.Set(6, 6, dvi*dvi)
}

// TotalChi2 is the position plus time chi2.
func (s *TrackState) TotalChi2() float64 { return s.Chi2 + s.Chi2Time }

// Covariance returns the covariance as a gonum symmetric matrix.
func (s *TrackState) Covariance() *mat.SymDense {
	d := s.C.Dense()
	data := make([]float64, 0, NumParams*NumParams)
	for i := range d {
		data = append(data, d[i][:]...)
	}
	return mat.NewSymDense(NumParams, data)
}

// IsPositiveSemiDefinite reports whether every eigenvalue of the covariance
// is >= -tol times the largest eigenvalue magnitude.
func (s *TrackState) IsPositiveSemiDefinite(tol float64) bool {
	var es mat.EigenSym
	if !es.Factorize(s.Covariance(), false) {
		return false
	}
	vals := es.Values(nil)
	maxAbs := 0.0
	for _, v := range vals {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	for _, v := range vals {
		if v < -tol*math.Max(maxAbs, 1) {
			return false
		}
	}
	return true
}

// IsFinite reports whether the state vector and covariance are finite.
func (s *TrackState) IsFinite() bool {
	for _, v := range s.Params() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, v := range s.C {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
