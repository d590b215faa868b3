package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/field"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/kf"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/material"
)

// Station limits. A triplet needs three consecutive stations and station
// indices are packed into 6 bits.
const (
	MinStations = 3
	MaxStations = 1 << stationBits
)

var (
	ErrTooFewStations    = errors.New("too few stations")
	ErrTooManyStations   = errors.New("too many stations")
	ErrStationOrder      = errors.New("stations are not ordered in z")
	ErrMaterialMismatch  = errors.New("material maps do not match stations")
	ErrTargetInsideSetup = errors.New("target is not upstream of the first station")
	ErrInvalidIteration  = errors.New("invalid iteration parameters")
	ErrIterationStations = errors.New("iteration station count does not match setup")
	ErrInvalidConfig     = errors.New("invalid pipeline config")
)

// Station is the read-only description of one detector plane.
type Station struct {
	Z float64

	// TimeInfo is set when hits on the station carry a usable time.
	TimeInfo bool

	// FieldStatus is set when the station sits in a non-zero field.
	FieldStatus bool

	Field field.Slice
}

// Setup is the geometry shared by every iteration of an event.
type Setup struct {
	Stations []Station
	Material *material.Tables

	// VertexField is the field at the target.
	VertexField field.Value
}

// NumStations returns the number of stations in the setup.
func (s *Setup) NumStations() int { return len(s.Stations) }

// Validate checks the station count, z ordering and material table shape.
func (s *Setup) Validate() error {
	n := len(s.Stations)
	if n < MinStations {
		return fmt.Errorf("%w: %d, need at least %d", ErrTooFewStations, n, MinStations)
	}
	if n > MaxStations {
		return fmt.Errorf("%w: %d, at most %d", ErrTooManyStations, n, MaxStations)
	}
	for i := 1; i < n; i++ {
		if !(s.Stations[i].Z > s.Stations[i-1].Z) {
			return fmt.Errorf("%w: station %d at z=%g follows z=%g", ErrStationOrder, i, s.Stations[i].Z, s.Stations[i-1].Z)
		}
	}
	if s.Material == nil || len(s.Material.Maps) != n {
		got := 0
		if s.Material != nil {
			got = len(s.Material.Maps)
		}
		return fmt.Errorf("%w: %d maps for %d stations", ErrMaterialMismatch, got, n)
	}
	return nil
}

// radThick returns the material under (x, y) on station ista. A miss means
// no material correction.
func (s *Setup) radThick(ista int, x, y float64) float64 {
	rt, ok := s.Material.Lookup(ista, x, y)
	if !ok {
		return 0
	}
	return rt
}

// IterationParameters is the read-only parameter snapshot of one tracking
// iteration. Every stage receives it explicitly.
type IterationParameters struct {
	Name string

	DoubletChi2Cut      float64
	TripletChi2Cut      float64
	TripletFinalChi2Cut float64

	MaxQp      float64
	MaxSlopePV float64
	MaxSlope   float64
	MaxDZ      float64

	ParticleMass float64
	Primary      bool
	Electron     bool

	TargetX, TargetY, TargetZ float64
	TargetMeasurement         hits.MeasurementXY

	TargB         field.Value
	IsTargetField bool

	NumStations int
}

// Defaults of the first (fast primary) iteration.
const (
	DefaultTripletChi2Cut   = 21.1075
	DefaultDoubletChi2Cut   = 11.3449 * 2.0 / 3.0
	DefaultMaxQp            = 2.0
	DefaultMaxSlopePV       = 1.1
	DefaultMaxSlope         = 2.748
	DefaultTargetPosSigmaXY = 1.0
)

// targetFieldThreshold is the |By| above which the target region is
// treated as magnetised.
const targetFieldThreshold = 0.001

// DefaultIteration returns primary muon parameters for setup, with the
// target at (x, y, z) measured with sigmaX, sigmaY.
func DefaultIteration(setup *Setup, x, y, z, sigmaX, sigmaY float64) IterationParameters {
	p := IterationParameters{
		Name:                "FastPrim",
		DoubletChi2Cut:      DefaultDoubletChi2Cut,
		TripletChi2Cut:      DefaultTripletChi2Cut,
		TripletFinalChi2Cut: DefaultTripletChi2Cut,
		MaxQp:               DefaultMaxQp,
		MaxSlopePV:          DefaultMaxSlopePV,
		MaxSlope:            DefaultMaxSlope,
		Primary:             true,
	}
	p.SetTarget(setup, x, y, z, sigmaX, sigmaY)
	return p
}

// SetTarget derives the target measurement, target field, particle mass and
// station count from setup and the Primary and Electron flags.
func (p *IterationParameters) SetTarget(setup *Setup, x, y, z, sigmaX, sigmaY float64) {
	p.TargetX, p.TargetY, p.TargetZ = x, y, z
	p.TargetMeasurement = hits.MeasurementXY{
		X: x, Y: y,
		DX2:  sigmaX * sigmaX,
		DY2:  sigmaY * sigmaY,
		NdfX: 1, NdfY: 1,
	}

	p.ParticleMass = kf.MuonMass
	if p.Electron {
		p.ParticleMass = kf.ElectronMass
	}

	p.NumStations = setup.NumStations()
	switch {
	case p.Primary:
		p.TargB = setup.VertexField
	case p.NumStations > 0:
		p.TargB = setup.Stations[0].Field.Value(0, 0)
	default:
		p.TargB = field.Value{}
	}
	p.IsTargetField = math.Abs(p.TargB.Y) > targetFieldThreshold
}

// Validate checks the parameters against setup.
func (p *IterationParameters) Validate(setup *Setup) error {
	for _, v := range []float64{p.DoubletChi2Cut, p.TripletChi2Cut, p.TripletFinalChi2Cut, p.MaxQp, p.MaxSlopePV} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%w %q: cuts and bounds must be positive and finite", ErrInvalidIteration, p.Name)
		}
	}
	if p.MaxDZ < 0 {
		return fmt.Errorf("%w %q: negative max_dz", ErrInvalidIteration, p.Name)
	}
	if !(p.ParticleMass > 0) {
		return fmt.Errorf("%w %q: particle mass must be positive", ErrInvalidIteration, p.Name)
	}
	if !(p.TargetMeasurement.DX2 > 0) || !(p.TargetMeasurement.DY2 > 0) {
		return fmt.Errorf("%w %q: target position sigma must be positive", ErrInvalidIteration, p.Name)
	}
	if p.NumStations != setup.NumStations() {
		return fmt.Errorf("%w: %d vs %d", ErrIterationStations, p.NumStations, setup.NumStations())
	}
	if len(setup.Stations) > 0 && !(p.TargetZ < setup.Stations[0].Z) {
		return fmt.Errorf("%w: target z=%g, first station z=%g", ErrTargetInsideSetup, p.TargetZ, setup.Stations[0].Z)
	}
	return nil
}
