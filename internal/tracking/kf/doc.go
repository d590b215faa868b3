// Package kf implements the track state and the Kalman-filter primitives
// used to build and fit track segments.
//
// Responsibilities: the 7-parameter TrackState {x, y, tx, ty, q/p, t, 1/v}
// with its symmetric covariance, Runge-Kutta and straight-line
// extrapolation with analytic Jacobians, sequential 1D/XY/time measurement
// updates, the target-at-line constraint, multiple-scattering noise and
// Bethe-Bloch energy-loss correction.
// Key types: TrackState, Covariance, Direction.
//
// Nothing in this package returns an error. Numerical trouble is handled
// in-band: zero weights, unity correction factors, or a chi2 the caller
// marks invalid.
//
// Units: cm, ns, GeV/c, kG.
package kf
