// Package hits owns the detector hit model consumed by the track-segment
// engine.
//
// Responsibilities: the Hit record, XY and generalized 1D measurements, the
// hit validity rule, and the station-sorted HitSet that every later stage
// indexes into.
// Key types: Hit, HitSet, MeasurementXY, MeasurementU.
//
// Dependency rule: hits depends on nothing else in internal/tracking.
// Hits are immutable once a HitSet has been built.
package hits
