package pipeline

import (
	"math"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/field"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/grid"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/kf"
)

// Shared is the read-only block every stage worker sees. It is built once
// per iteration and never written while a stage runs.
type Shared struct {
	Setup  *Setup
	Params *IterationParameters
	Hits   []hits.Hit
	Grids  []*grid.Grid

	// Seeds lists hit indices in grid order, station by station. Seed i owns
	// doublet window i.
	Seeds []int
}

// Window-search constants for the time gate.
const (
	timeGateScale = 1.4
	timeGateSigma = 3.5
)

// Initial variances for the singlet seed and the triplet refit.
const (
	seedPosErr2       = 1.0
	seedNoTimeErr2    = 1e6
	seedViErr2        = 1e10
	refitSlopeErr2    = 1.0
	refitQpErr2       = 100.0
	refitViErr2       = 1e2
	tripletQpVarFloor = 0.001
	tripletFitPasses  = 2

	// covPSDTolerance is the relative eigenvalue tolerance for the fitted
	// covariance health check.
	covPSDTolerance = 1e-9
)

func (sh *Shared) station(i int) *Station { return &sh.Setup.Stations[i] }

// regionForLine builds the field region through stations a, b, c sampled
// where the straight line of s crosses them.
func (sh *Shared) regionForLine(s *kf.TrackState, a, b, c int) field.Region {
	sa, sb, sc := sh.station(a), sh.station(b), sh.station(c)
	var r field.Region
	r.Set3(
		sa.Field.ValueForLine(s.X, s.Y, s.Z, s.Tx, s.Ty), sa.Z,
		sb.Field.ValueForLine(s.X, s.Y, s.Z, s.Tx, s.Ty), sb.Z,
		sc.Field.ValueForLine(s.X, s.Y, s.Z, s.Tx, s.Ty), sc.Z,
	)
	return r
}

// seedStation reports whether a hit on station ista can start a triplet.
func (sh *Shared) seedStation(ista int) bool {
	return ista >= 0 && ista <= sh.Setup.NumStations()-3
}

// makeSinglet seeds a state from hit ihit and a straight line to the
// target, applies the target constraint and the scattering of the hit's
// station, and propagates it to the next station. ok is false for hits on
// the last two stations.
func makeSinglet(sh *Shared, ihit int) (s kf.TrackState, ok bool) {
	h := &sh.Hits[ihit]
	ista := h.Station
	if !sh.seedStation(ista) {
		return s, false
	}
	p := sh.Params
	staL := sh.station(ista)
	staM := sh.station(ista + 1)

	dzli := 1 / (h.Z - p.TargetZ)
	s.X, s.Y, s.Z = h.X, h.Y, h.Z
	s.Tx = (h.X - p.TargetX) * dzli
	s.Ty = (h.Y - p.TargetY) * dzli
	s.Qp = 0
	s.T = h.T
	s.Vi = kf.SpeedOfLightInv

	txErr2 := p.MaxSlopePV * p.MaxSlopePV / 9
	qpErr2 := p.MaxQp * p.MaxQp / 9
	timeErr2 := seedNoTimeErr2
	if staL.TimeInfo {
		timeErr2 = h.DT2
	}
	s.ResetErrors(seedPosErr2, seedPosErr2, txErr2, txErr2, qpErr2, timeErr2, seedViErr2)
	s.InitVelocityRange(1 / p.MaxQp)
	s.SetXYCovariance(h.DX2, h.DXY, h.DY2)

	s.Ndf = 0
	if p.Primary {
		s.Ndf = 2
	}
	s.NdfTime = -1
	if staL.TimeInfo {
		s.NdfTime = 0
	}

	// Field between the target and the hit: target value plus the station
	// halfway to the target and the hit's own station.
	sta1 := max(ista, 1)
	sta0 := sta1 / 2
	var fld0 field.Region
	fld0.Set3(
		p.TargB, p.TargetZ,
		sh.station(sta0).Field.ValueForLine(s.X, s.Y, s.Z, s.Tx, s.Ty), sh.station(sta0).Z,
		sh.station(sta1).Field.ValueForLine(s.X, s.Y, s.Z, s.Tx, s.Ty), sh.station(sta1).Z,
	)
	fld1 := sh.regionForLine(&s, ista, ista+1, ista+2)

	s.FilterWithTargetAtLine(p.TargetZ, p.TargetMeasurement, &fld0)
	s.MultipleScattering(sh.Setup.radThick(ista, s.X, s.Y), p.MaxQp, p.ParticleMass)
	s.ExtrapolateStep(staM.Z, 0, &fld1)
	return s, true
}

// searchWindow walks the grid of station ista around the state s and calls
// emit for up to maxN hits that pass the time gate, the position window and
// the chi2 gate. It returns the number of emitted hits.
func searchWindow(sh *Shared, s kf.TrackState, ista int, chi2Cut float64, maxN int, emit func(k, ihit int)) int {
	sta := sh.station(ista)
	g := sh.Grids[ista]
	p := sh.Params

	s.Chi2 = 0
	pick := chi2Cut - s.Chi2

	timeErr2 := s.C.At(5, 5)
	rangeX := math.Sqrt(pick*s.C.At(0, 0)) + g.MaxRangeX + p.MaxDZ*math.Abs(s.Tx)
	rangeY := math.Sqrt(pick*s.C.At(1, 1)) + g.MaxRangeY + p.MaxDZ*math.Abs(s.Ty)

	n := 0
	for ih := range grid.NewAreaIterator(g, s.X, s.Y, rangeX, rangeY).All() {
		if n >= maxN {
			break
		}
		h := &sh.Hits[ih]

		if sta.TimeInfo && s.NdfTime >= 0 {
			if math.Abs(s.T-h.T) > timeGateScale*(timeGateSigma*math.Sqrt(timeErr2)+h.RangeT) {
				continue
			}
		}

		dz := h.Z - s.Z

		y := s.Y + s.Ty*dz
		c11 := s.C.At(1, 1) + dz*(2*s.C.At(3, 1)+dz*s.C.At(3, 3))
		if math.Abs(h.Y-y) > math.Sqrt(pick*c11)+h.RangeY {
			continue
		}

		x := s.X + s.Tx*dz
		c00 := s.C.At(0, 0) + dz*(2*s.C.At(2, 0)+dz*s.C.At(2, 2))
		if math.Abs(h.X-x) > math.Sqrt(pick*c00)+h.RangeX {
			continue
		}

		c10 := s.C.At(1, 0) + dz*(s.C.At(2, 1)+s.C.At(3, 0)+dz*s.C.At(3, 2))
		chi2x, chi2u := kf.Chi2XChi2U(h.MeasurementXY(), x, y, c00, c10, c11)
		if chi2x > chi2Cut || chi2x+chi2u > chi2Cut {
			continue
		}

		emit(n, ih)
		n++
	}
	return n
}

// makeDoublets fills window with (left, middle) pairs for the singlet of
// hit ileft and returns how many slots it used.
func makeDoublets(sh *Shared, ileft int, singlet *kf.TrackState, window []Doublet) int {
	ista := sh.Hits[ileft].Station
	if !sh.seedStation(ista) {
		return 0
	}
	return searchWindow(sh, *singlet, ista+1, sh.Params.DoubletChi2Cut, len(window), func(k, ih int) {
		window[k] = Doublet{Left: ileft, Middle: ih}
	})
}

// fitDoublet adds the middle hit to the singlet of the left hit with a
// straight-line step and applies the middle station's scattering.
func fitDoublet(sh *Shared, d Doublet, singlet kf.TrackState) (kf.TrackState, bool) {
	if d.Left < 0 || d.Middle < 0 {
		return singlet, false
	}
	ista := sh.Hits[d.Left].Station
	if !sh.seedStation(ista) {
		return singlet, false
	}
	p := sh.Params
	staL := sh.station(ista)
	staM := sh.station(ista + 1)
	isMomentumFitted := p.IsTargetField || staL.FieldStatus || staM.FieldStatus

	s := singlet
	hm := &sh.Hits[d.Middle]
	s.ExtrapolateLineNoField(hm.Z)
	s.FilterXY(hm.MeasurementXY())
	s.FilterTime(hm.T, hm.DT2, staM.TimeInfo)

	qp0 := p.MaxQp
	if isMomentumFitted {
		qp0 = s.Qp
	}
	s.MultipleScattering(sh.Setup.radThick(ista+1, s.X, s.Y), qp0, p.ParticleMass)
	return s, true
}

// makeTriplets propagates the doublet state through the field to the
// right station and fills window with right-hit candidates. The state is
// updated in place.
func makeTriplets(sh *Shared, d Doublet, s *kf.TrackState, window []hitTriple) int {
	ista := sh.Hits[d.Left].Station
	if !sh.seedStation(ista) {
		return 0
	}
	fld := sh.regionForLine(s, ista, ista+1, ista+2)
	// Scattering in the middle station was already added by fitDoublet.
	s.Extrapolate(sh.station(ista+2).Z, 0, &fld)

	return searchWindow(sh, *s, ista+2, sh.Params.TripletChi2Cut, len(window), func(k, ih int) {
		window[k] = hitTriple{Left: d.Left, Middle: d.Middle, Right: ih}
	})
}

// fitTriplet refits the three hits from scratch: a forward pass from the
// left hit with the target constraint, a backward pass from the right hit,
// then a second forward pass. Each pass linearises the field at the q/p of
// the previous one. covOK reports whether the final covariance is positive
// semi-definite.
func fitTriplet(sh *Shared, ht hitTriple) (tr Triplet, covOK bool) {
	p := sh.Params
	ihit := [3]int{ht.Left, ht.Middle, ht.Right}

	var ista [3]int
	ista[0] = sh.Hits[ht.Left].Station
	ista[1] = ista[0] + 1
	ista[2] = ista[0] + 2

	var sta [3]*Station
	for i := range sta {
		sta[i] = sh.station(ista[i])
	}

	isMomentumFitted := sta[0].FieldStatus || sta[1].FieldStatus || sta[2].FieldStatus
	ndfTrackModel := 4.0
	if isMomentumFitted {
		ndfTrackModel++
	}

	var x, y, z, t, dt2 [3]float64
	var mxy [3]hits.MeasurementXY
	for i, ih := range ihit {
		h := &sh.Hits[ih]
		mxy[i] = h.MeasurementXY()
		x[i], y[i], z[i], t[i], dt2[i] = h.X, h.Y, h.Z, h.T, h.DT2
	}

	// Sample the field where the chords between the hits cross each station.
	tx := [3]float64{(x[1] - x[0]) / (z[1] - z[0]), (x[2] - x[0]) / (z[2] - z[0]), (x[2] - x[1]) / (z[2] - z[1])}
	ty := [3]float64{(y[1] - y[0]) / (z[1] - z[0]), (y[2] - y[0]) / (z[2] - z[0]), (y[2] - y[1]) / (z[2] - z[1])}
	var B [3]field.Value
	for i := range B {
		dz := sta[i].Z - z[i]
		B[i] = sta[i].Field.Value(x[i]+tx[i]*dz, y[i]+ty[i]*dz)
	}
	var fld, fldTarget field.Region
	fld.Set3(B[0], sta[0].Z, B[1], sta[1].Z, B[2], sta[2].Z)
	fldTarget.Set3(p.TargB, p.TargetZ, B[0], sta[0].Z, B[1], sta[1].Z)

	var s kf.TrackState
	s.Tx = tx[0]
	s.Ty = ty[0]

	// restart resets the state onto hit i for a new pass.
	restart := func(i int) float64 {
		qp0 := math.Max(-p.MaxQp, math.Min(p.MaxQp, s.Qp))
		s.X, s.Y, s.Z, s.T = x[i], y[i], z[i], t[i]
		s.Qp, s.Vi = 0, 0
		timeErr2 := seedNoTimeErr2
		if sta[i].TimeInfo {
			timeErr2 = dt2[i]
		}
		s.ResetErrors(seedPosErr2, seedPosErr2, refitSlopeErr2, refitSlopeErr2, refitQpErr2, timeErr2, refitViErr2)
		s.SetXYCovariance(mxy[i].DX2, mxy[i].DXY, mxy[i].DY2)
		s.Ndf = 2 - ndfTrackModel
		s.NdfTime = -1
		if sta[i].TimeInfo {
			s.NdfTime = 0
		}
		return qp0
	}

	// addHit propagates to hit i and filters it, with material effects
	// taken at the propagated position.
	addHit := func(i int, qp0 float64, dir kf.Direction) {
		s.Extrapolate(z[i], qp0, &fld)
		rt := sh.Setup.radThick(ista[i], s.X, s.Y)
		s.MultipleScattering(rt, qp0, p.ParticleMass)
		// The returned q/p scale factor is not applied to qp0.
		_ = s.EnergyLossCorrection(rt, dir, p.ParticleMass)
		s.FilterXY(mxy[i])
		s.FilterTime(t[i], dt2[i], sta[i].TimeInfo)
	}

	for pass := 0; pass < tripletFitPasses; pass++ {
		qp0 := restart(0)
		s.FilterWithTargetAtLine(p.TargetZ, p.TargetMeasurement, &fldTarget)
		for i := 1; i < 3; i++ {
			addHit(i, qp0, kf.Downstream)
		}
		if pass == tripletFitPasses-1 {
			break
		}

		qp0 = restart(2)
		for i := 1; i >= 0; i-- {
			addHit(i, qp0, kf.Upstream)
		}
	}

	chi2 := s.TotalChi2()
	if chi2 > p.TripletFinalChi2Cut || math.IsNaN(chi2) || math.IsInf(chi2, 0) || chi2 < 0 {
		chi2 = -1
	}

	tr = Triplet{
		Left:             ihit[0],
		Middle:           ihit[1],
		Right:            ihit[2],
		stations:         PackStations(ista[0], ista[1], ista[2]),
		Chi2:             chi2,
		Qp:               s.Qp,
		Cqp:              s.C.At(4, 4) + tripletQpVarFloor,
		Tx:               s.Tx,
		Ctx:              s.C.At(2, 2),
		Ty:               s.Ty,
		Cty:              s.C.At(3, 3),
		IsMomentumFitted: isMomentumFitted,
	}
	return tr, s.IsPositiveSemiDefinite(covPSDTolerance)
}
