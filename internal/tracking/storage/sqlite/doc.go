// Package sqlite persists triplet-finder runs: one row per iteration run,
// its fitted triplets and its per-stage timings.
//
// The pipeline itself has no storage; callers that want a record of a run
// hand the Result to a RunStore after the fact.
package sqlite
