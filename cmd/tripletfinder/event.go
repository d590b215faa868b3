package main

import (
	"fmt"
	"math/rand"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/field"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/material"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/pipeline"
)

// fieldBend converts kGauss*cm to the slope change per unit q/p.
const fieldBend = 0.000299792458

// eventConfig describes the toy detector and the event drawn on it.
type eventConfig struct {
	Stations int
	Spacing  float64 // cm between stations, first station at Spacing
	RadThick float64 // per-station radiation thickness (X/X0)
	FieldY   float64 // uniform By in kGauss, 0 for no field
	Tracks   int
	Noise    int // uniform noise hits per station
	Smear    float64
	Seed     int64
}

func (c eventConfig) validate() error {
	if c.Stations < pipeline.MinStations || c.Stations > pipeline.MaxStations {
		return fmt.Errorf("stations must be in [%d, %d], got %d", pipeline.MinStations, pipeline.MaxStations, c.Stations)
	}
	if c.Spacing <= 0 {
		return fmt.Errorf("spacing must be positive, got %g", c.Spacing)
	}
	if c.Tracks < 0 || c.Noise < 0 {
		return fmt.Errorf("tracks and noise must be non-negative")
	}
	if c.Smear <= 0 {
		return fmt.Errorf("smear must be positive, got %g", c.Smear)
	}
	return nil
}

// buildSetup returns equally spaced stations with a uniform field and
// material budget, the target at z=0.
func buildSetup(c eventConfig) (*pipeline.Setup, error) {
	b := field.Value{Y: c.FieldY}
	maps := make([]material.Map, c.Stations)
	tables := make([][]float64, c.Stations)
	stations := make([]pipeline.Station, c.Stations)
	for i := range stations {
		z := c.Spacing * float64(i+1)
		maps[i], tables[i] = material.Uniform(40, 100, c.RadThick)
		slice := field.UniformSlice(z, b)
		stations[i] = pipeline.Station{
			Z:           z,
			FieldStatus: !slice.IsZero(),
			Field:       slice,
		}
	}
	mt, err := material.Pack(maps, tables)
	if err != nil {
		return nil, fmt.Errorf("failed to pack material: %w", err)
	}
	setup := &pipeline.Setup{Stations: stations, Material: mt, VertexField: b}
	if err := setup.Validate(); err != nil {
		return nil, err
	}
	return setup, nil
}

// generateEvent draws tracks from the origin plus uniform noise. Tracks
// bend in x with a parabolic approximation of the uniform field.
func generateEvent(c eventConfig, setup *pipeline.Setup) *hits.HitSet {
	rng := rand.New(rand.NewSource(c.Seed))
	sigma2 := c.Smear * c.Smear

	newHit := func(station int, x, y, z float64) hits.Hit {
		return hits.Hit{
			Station: station,
			X:       x, Y: y, Z: z,
			DX2: sigma2, DY2: sigma2, DT2: 1,
			RangeX: 3.5 * c.Smear, RangeY: 3.5 * c.Smear, RangeT: 3,
		}
	}

	var in []hits.Hit
	for k := 0; k < c.Tracks; k++ {
		tx := rng.Float64()*0.5 - 0.25
		ty := rng.Float64()*0.5 - 0.25
		qp := 0.0
		if c.FieldY != 0 {
			qp = (rng.Float64()*2 - 1) * 0.5
		}
		for s, st := range setup.Stations {
			z := st.Z
			x := tx*z - 0.5*fieldBend*qp*c.FieldY*z*z + c.Smear*rng.NormFloat64()
			y := ty*z + c.Smear*rng.NormFloat64()
			in = append(in, newHit(s, x, y, z))
		}
	}
	for s, st := range setup.Stations {
		half := 0.25 * st.Z
		for k := 0; k < c.Noise; k++ {
			in = append(in, newHit(s, (rng.Float64()*2-1)*half, (rng.Float64()*2-1)*half, st.Z))
		}
	}
	for i := range in {
		in[i].ID = i
	}
	return hits.NewHitSet(in, len(setup.Stations))
}
