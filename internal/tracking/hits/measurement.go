package hits

// MeasurementXY is a 2D position measurement with its covariance.
type MeasurementXY struct {
	X, Y          float64
	DX2, DY2, DXY float64
	NdfX, NdfY    float64
}

// MeasurementU is a 1D measurement of u = CosPhi*x + SinPhi*y.
type MeasurementU struct {
	CosPhi, SinPhi float64
	U              float64
	DU2            float64
	Ndf            float64
}

// Decompose splits m into two uncorrelated 1D measurements: the literal X
// coordinate and a rotated U axis that absorbs the XY correlation.
func (m MeasurementXY) Decompose() (mx, mu MeasurementU) {
	mx = MeasurementU{CosPhi: 1, SinPhi: 0, U: m.X, DU2: m.DX2, Ndf: m.NdfX}

	cosPhi := -m.DXY / m.DX2
	mu = MeasurementU{
		CosPhi: cosPhi,
		SinPhi: 1,
		U:      cosPhi*m.X + m.Y,
		DU2:    m.DY2 - m.DXY*m.DXY/m.DX2,
		Ndf:    m.NdfY,
	}
	return mx, mu
}
