package kf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/field"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
)

func seedState() TrackState {
	s := TrackState{X: 1.5, Y: -0.7, Tx: 0.12, Ty: -0.05, Qp: 0.5, T: 3.2, Vi: SpeedOfLightInv, Z: 10}
	s.ResetErrors(0.01, 0.02, 0.1, 0.1, 0.25, 1.0, 1e-4)
	s.C.Set(1, 0, 0.003)
	s.C.Set(3, 2, 0.01)
	return s
}

func assertStateNear(t *testing.T, want, got TrackState, tol float64) {
	t.Helper()
	wp, gp := want.Params(), got.Params()
	for i := range wp {
		assert.InDelta(t, wp[i], gp[i], tol, "param %d", i)
	}
	for i := range want.C {
		assert.InDelta(t, want.C[i], got.C[i], tol, "cov %d", i)
	}
	assert.InDelta(t, want.Z, got.Z, tol)
}

// ---------------------------------------------------------------------------
// Covariance
// ---------------------------------------------------------------------------

func TestCovarianceSymmetricAccess(t *testing.T) {
	t.Parallel()

	var c Covariance
	c.Set(2, 5, 7)
	assert.Equal(t, 7.0, c.At(5, 2))
	c.Add(5, 2, 1)
	c.Scale(2, 5, 2)
	assert.Equal(t, 16.0, c.At(2, 5))

	d := c.Dense()
	assert.Equal(t, d[2][5], d[5][2])
	assert.Len(t, c, 28)
}

func TestResetErrorsRestartsBookkeeping(t *testing.T) {
	t.Parallel()

	s := TrackState{Chi2: 3, Chi2Time: 1, Ndf: 4, NdfTime: 2}
	s.C.Set(3, 1, 0.5)
	s.ResetErrors(1, 2, 3, 4, 5, 6, 7)

	assert.Equal(t, 0.0, s.Chi2)
	assert.Equal(t, 0.0, s.Chi2Time)
	assert.Equal(t, -5.0, s.Ndf)
	assert.Equal(t, -2.0, s.NdfTime)
	assert.Equal(t, 0.0, s.C.At(3, 1))
	assert.Equal(t, 7.0, s.C.At(6, 6))
}

func TestInitVelocityRange(t *testing.T) {
	t.Parallel()

	var s TrackState
	s.InitVelocityRange(0.5)
	assert.Greater(t, s.Vi, SpeedOfLightInv)
	assert.Greater(t, s.C.At(6, 6), 0.0)

	// faster particles allowed for higher minimum momentum
	var fast TrackState
	fast.InitVelocityRange(5)
	assert.Less(t, fast.Vi, s.Vi)
}

func TestStatePositiveSemiDefinite(t *testing.T) {
	t.Parallel()

	s := seedState()
	assert.True(t, s.IsPositiveSemiDefinite(1e-12))
	assert.True(t, s.IsFinite())

	s.C.Set(4, 4, -1)
	assert.False(t, s.IsPositiveSemiDefinite(1e-12))

	s.Qp = math.NaN()
	assert.False(t, s.IsFinite())
}

// ---------------------------------------------------------------------------
// Extrapolation
// ---------------------------------------------------------------------------

func TestExtrapolateStepZeroFieldMatchesLine(t *testing.T) {
	t.Parallel()

	var fld field.Region
	rk := seedState()
	line := seedState()

	rk.ExtrapolateStep(42, rk.Qp, &fld)
	line.ExtrapolateLineNoField(42)

	assertStateNear(t, line, rk, 1e-9)
	assert.Equal(t, 42.0, rk.Z)
	assert.InDelta(t, 1.5+0.12*32, rk.X, 1e-12)
}

func TestExtrapolateRoundTripConstantField(t *testing.T) {
	t.Parallel()

	var fld field.Region
	fld.SetConst(field.Value{X: 0.3, Y: -10, Z: 0.2})

	start := seedState()
	s := start
	s.Extrapolate(130, s.Qp, &fld)
	assert.Equal(t, 130.0, s.Z)
	assert.NotEqual(t, start.Tx, s.Tx, "field must bend the track")
	require.True(t, s.IsPositiveSemiDefinite(1e-9))

	s.Extrapolate(start.Z, s.Qp, &fld)
	assertStateNear(t, start, s, 1e-6)
}

func TestExtrapolateBendsWithCharge(t *testing.T) {
	t.Parallel()

	var fld field.Region
	fld.SetConst(field.Value{Y: 10})

	pos := TrackState{Qp: 1, Vi: SpeedOfLightInv}
	neg := TrackState{Qp: -1, Vi: SpeedOfLightInv}
	pos.Extrapolate(100, pos.Qp, &fld)
	neg.Extrapolate(100, neg.Qp, &fld)

	// By > 0 bends positive tracks towards -x.
	assert.Less(t, pos.Tx, 0.0)
	assert.InDelta(t, -pos.Tx, neg.Tx, 1e-12)
	assert.InDelta(t, -CLight*10*100, pos.Tx, 0.02)
}

func TestExtrapolateLinearisationPoint(t *testing.T) {
	t.Parallel()

	var fld field.Region
	fld.SetConst(field.Value{Y: 10})

	exact := seedState()
	exact.ExtrapolateStep(60, exact.Qp, &fld)

	// Linearising at a nearby q/p must land close to the exact propagation.
	lin := seedState()
	lin.ExtrapolateStep(60, exact.Qp*1.01, &fld)
	assert.InDelta(t, exact.X, lin.X, 1e-5)
	assert.InDelta(t, exact.Tx, lin.Tx, 1e-6)
}

func TestExtrapolateSplitsLongSteps(t *testing.T) {
	t.Parallel()

	var fld field.Region
	fld.SetConst(field.Value{X: 0.1, Y: 8, Z: -0.3})

	t.Run("long gap matches manual steps", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		manual := seedState()
		require.Equal(t, 10.0, s.Z)

		s.Extrapolate(130, s.Qp, &fld)
		for _, z := range []float64{60, 110, 130} {
			manual.ExtrapolateStep(z, manual.Qp, &fld)
		}
		assert.Equal(t, manual, s)
	})

	t.Run("backward gap matches manual steps", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		manual := seedState()

		s.Extrapolate(-75, s.Qp, &fld)
		for _, z := range []float64{-40, -75} {
			manual.ExtrapolateStep(z, manual.Qp, &fld)
		}
		assert.Equal(t, manual, s)
	})

	t.Run("short gap is a single step", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		single := seedState()
		s.Extrapolate(10+MaxExtrapolationStep, s.Qp, &fld)
		single.ExtrapolateStep(10+MaxExtrapolationStep, single.Qp, &fld)
		assert.Equal(t, single, s)
	})

	t.Run("sub-tolerance gap does nothing", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		s.Extrapolate(10+1e-9, s.Qp, &fld)
		assert.Equal(t, seedState(), s)
	})

	t.Run("non-finite target leaves the state unchanged", func(t *testing.T) {
		t.Parallel()
		for _, z := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			s := seedState()
			s.Extrapolate(z, s.Qp, &fld)
			assert.Equal(t, seedState(), s, "zOut=%g", z)
		}
	})
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

func TestFilter1dScalar(t *testing.T) {
	t.Parallel()

	var s TrackState
	s.ResetErrors(1, 1, 1, 1, 1, 1, 1)
	s.Filter1d(hits.MeasurementU{CosPhi: 1, U: 1, DU2: 1, Ndf: 1})

	assert.InDelta(t, 0.5, s.X, 1e-12)
	assert.InDelta(t, 0.5, s.C.At(0, 0), 1e-6)
	assert.InDelta(t, 0.5, s.Chi2, 1e-6)
	assert.Equal(t, -4.0, s.Ndf)
	assert.Equal(t, 0.0, s.Y)
}

func TestFilter1dZeroVarianceHasNoWeight(t *testing.T) {
	t.Parallel()

	var s TrackState
	s.ResetErrors(1, 1, 1, 1, 1, 1, 1)
	s.Filter1d(hits.MeasurementU{CosPhi: 1, U: 1, DU2: 0, Ndf: 1})
	assert.Equal(t, 0.0, s.Chi2)
	assert.Equal(t, 1.0, s.C.At(0, 0))
}

func TestFilterXYShrinksPositionErrors(t *testing.T) {
	t.Parallel()

	s := seedState()
	before := s
	m := hits.MeasurementXY{X: 1.52, Y: -0.69, DX2: 0.001, DY2: 0.002, DXY: 0.0004, NdfX: 1, NdfY: 1}
	s.FilterXY(m)

	assert.Less(t, s.C.At(0, 0), before.C.At(0, 0))
	assert.Less(t, s.C.At(1, 1), before.C.At(1, 1))
	assert.Greater(t, s.Chi2, 0.0)
	assert.Equal(t, before.Ndf+2, s.Ndf)
	assert.InDelta(t, m.X, s.X, 0.005)
	assert.InDelta(t, m.Y, s.Y, 0.005)
	assert.True(t, s.IsPositiveSemiDefinite(1e-9))

	// A second identical measurement pulls less and adds a smaller chi2.
	chi2 := s.Chi2
	x := s.X
	s.FilterXY(m)
	assert.Less(t, s.Chi2-chi2, chi2)
	assert.InDelta(t, x, s.X, 0.001)
}

func TestFilterXYConvergedStateIsStable(t *testing.T) {
	t.Parallel()

	const eps = 1e-12
	m := hits.MeasurementXY{X: 1.5, Y: -0.7, DX2: 0.001, DY2: 0.002, DXY: 0.0004, NdfX: 1, NdfY: 1}

	s := seedState()
	s.X, s.Y = m.X, m.Y
	c00 := s.C.At(0, 0)

	s.FilterXY(m)
	assert.InDelta(t, m.X, s.X, eps)
	assert.InDelta(t, m.Y, s.Y, eps)
	assert.InDelta(t, 0.0, s.Chi2, eps)
	require.Less(t, s.C.At(0, 0), c00)

	first := s
	s.FilterXY(m)
	assert.InDelta(t, first.X, s.X, eps)
	assert.InDelta(t, first.Y, s.Y, eps)
	assert.InDelta(t, first.Chi2, s.Chi2, eps)
	assert.Less(t, s.C.At(0, 0), first.C.At(0, 0))
	assert.Less(t, s.C.At(1, 1), first.C.At(1, 1))
	assert.True(t, s.IsPositiveSemiDefinite(1e-9))
}

func TestFilterTime(t *testing.T) {
	t.Parallel()

	s := seedState()
	before := s
	s.FilterTime(10, 1, false)
	assert.Equal(t, before, s)

	s.FilterTime(4.2, 1, true)
	assert.InDelta(t, 3.7, s.T, 1e-6)
	assert.InDelta(t, 0.5, s.C.At(5, 5), 1e-6)
	assert.InDelta(t, 0.5, s.Chi2Time, 1e-6)
	assert.Equal(t, before.NdfTime+1, s.NdfTime)
	assert.Equal(t, before.Chi2, s.Chi2)
}

func TestFilterWithTargetAtLineSeedsSlopes(t *testing.T) {
	t.Parallel()

	s := TrackState{X: 1, Y: 2, Z: 10, Vi: SpeedOfLightInv}
	s.ResetErrors(1e-4, 1e-4, 1, 1, 1, 1, 1)

	target := hits.MeasurementXY{DX2: 1e-4, DY2: 1e-4, NdfX: 1, NdfY: 1}
	var fld field.Region
	s.FilterWithTargetAtLine(0, target, &fld)

	assert.InDelta(t, 0.1, s.Tx, 1e-3)
	assert.InDelta(t, 0.2, s.Ty, 1e-3)
	assert.InDelta(t, 1, s.X, 1e-3)
	assert.Less(t, s.C.At(2, 2), 1e-5)
	assert.Equal(t, -3.0, s.Ndf)
	assert.True(t, s.IsPositiveSemiDefinite(1e-9))
}

func TestExtrapolatedXYLineCurvatureTerm(t *testing.T) {
	t.Parallel()

	var s TrackState
	var fld field.Region
	fld.SetConst(field.Value{Y: 10})

	x, y, jx, jy := s.ExtrapolatedXYLine(-20, &fld)
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 0.0, y)
	assert.Equal(t, -20.0, jx[IdxTx])
	assert.Equal(t, -20.0, jy[IdxTy])
	assert.InDelta(t, -CLight*400*5, jx[IdxQp], 1e-12)
	assert.Equal(t, 0.0, jy[IdxQp])
}

func TestChi2XChi2U(t *testing.T) {
	t.Parallel()

	m := hits.MeasurementXY{X: 1, Y: 1, DX2: 1, DY2: 1, NdfX: 1, NdfY: 1}
	chi2x, chi2u := Chi2XChi2U(m, 0, 0, 1, 0, 1)
	assert.InDelta(t, 0.5, chi2x, 1e-12)
	assert.InDelta(t, 0.5, chi2u, 1e-12)

	// Agrees with the sequential filter on an uncorrelated measurement.
	var s TrackState
	s.ResetErrors(1, 1, 1, 1, 1, 1, 1)
	s.FilterXY(m)
	assert.InDelta(t, chi2x+chi2u, s.Chi2, 1e-6)
}

// ---------------------------------------------------------------------------
// Material effects
// ---------------------------------------------------------------------------

func TestMultipleScattering(t *testing.T) {
	t.Parallel()

	thin := seedState()
	thick := seedState()
	none := seedState()

	thin.MultipleScattering(0.003, thin.Qp, MuonMass)
	thick.MultipleScattering(0.03, thick.Qp, MuonMass)
	none.MultipleScattering(0, none.Qp, MuonMass)

	base := seedState()
	assert.Equal(t, base.C, none.C)
	assert.Greater(t, thin.C.At(2, 2), base.C.At(2, 2))
	assert.Greater(t, thick.C.At(2, 2), thin.C.At(2, 2))
	assert.Greater(t, thick.C.At(3, 3), thin.C.At(3, 3))
	// only the slope block changes
	assert.Equal(t, base.C.At(0, 0), thick.C.At(0, 0))
	assert.Equal(t, base.C.At(4, 4), thick.C.At(4, 4))
	assert.True(t, thick.IsPositiveSemiDefinite(1e-12))
}

func TestApproximateBetheBlochMinimumIonising(t *testing.T) {
	t.Parallel()

	// silicon at beta*gamma = 3.5 loses about 1.66 MeV cm^2/g
	assert.InDelta(t, 1.66e-3, ApproximateBetheBloch(3.5*3.5), 0.05e-3)
	assert.Greater(t, ApproximateBetheBloch(0.5), ApproximateBetheBloch(12.25))
}

func TestEnergyLossCorrection(t *testing.T) {
	t.Parallel()

	t.Run("downstream raises q/p", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		corr := s.EnergyLossCorrection(0.01, Downstream, MuonMass)
		assert.Greater(t, corr, 1.0)
		assert.InDelta(t, 0.5*corr, s.Qp, 1e-12)
		assert.InDelta(t, 0.25*corr*corr, s.C.At(4, 4), 1e-12)
	})

	t.Run("upstream lowers q/p", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		corr := s.EnergyLossCorrection(0.01, Upstream, MuonMass)
		assert.Less(t, corr, 1.0)
		assert.Less(t, s.Qp, 0.5)
	})

	t.Run("downstream then upstream cancels", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		s.EnergyLossCorrection(0.005, Downstream, MuonMass)
		s.EnergyLossCorrection(0.005, Upstream, MuonMass)
		assert.InDelta(t, 0.5, s.Qp, 1e-4)
	})

	t.Run("non-finite factor is replaced by one", func(t *testing.T) {
		t.Parallel()
		s := TrackState{Qp: 1 / 0.01}
		s.ResetErrors(1, 1, 1, 1, 1, 1, 1)
		p2 := 0.01 * 0.01
		m2 := MuonMass * MuonMass
		e := math.Sqrt(p2 + m2)
		// lose enough energy to end up below the rest mass
		rt := (e - MuonMass/2) / (ApproximateBetheBloch(p2/m2) * bbRho * siliconX0)

		corr := s.EnergyLossCorrection(rt, Downstream, MuonMass)
		assert.Equal(t, 1.0, corr)
		assert.Equal(t, 100.0, s.Qp)
		assert.True(t, s.IsFinite())
	})

	t.Run("no material", func(t *testing.T) {
		t.Parallel()
		s := seedState()
		assert.Equal(t, 1.0, s.EnergyLossCorrection(0, Downstream, MuonMass))
		assert.Equal(t, seedState(), s)
	})
}

func TestDirectionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "downstream", Downstream.String())
	assert.Equal(t, "upstream", Upstream.String())
	assert.Equal(t, "unknown", Direction(0).String())
}
