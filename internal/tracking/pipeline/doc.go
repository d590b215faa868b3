// Package pipeline owns the staged doublet/triplet construction for one
// tracking iteration.
//
// Responsibilities: seeding singlets from hits, windowed doublet and triplet
// searches over the station grids, the doublet and triplet Kalman fits, slot
// compaction between stages and the optional triplet ordering pass.
// Key types: Orchestrator, Setup, Station, IterationParameters, Executor,
// SlotArena, Doublet, Triplet, Result.
//
// Every stage is a per-item function over a read-only Shared block. The same
// function runs under SequentialExecutor and PoolExecutor; the only state
// that crosses workers is an atomic counter used to hand out compacted slot
// indices. Per-item results do not depend on the executor, but the order of
// compacted slices does unless Config.SortTriplets is set.
//
// Dependency rule: pipeline imports hits, grid, material, field and kf. It
// does not import storage or config.
package pipeline
