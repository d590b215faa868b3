package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/timeutil"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/grid"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/hits"
	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/kf"
)

// Config holds the engine settings shared by every iteration.
type Config struct {
	// Executor drives every stage. Nil means SequentialExecutor.
	Executor Executor

	// Clock times the stages. Nil means the wall clock.
	Clock timeutil.Clock

	// Per-seed slot capacities. Zero means the package default.
	MaxDoubletsFromHit     int
	MaxTripletsFromDoublet int

	// SortTriplets orders the output by hit indices after the fit.
	SortTriplets bool
}

// Orchestrator runs the staged doublet/triplet construction for one setup.
type Orchestrator struct {
	setup *Setup
	cfg   Config
}

// NewOrchestrator validates setup and fills config defaults.
func NewOrchestrator(setup *Setup, cfg Config) (*Orchestrator, error) {
	if setup == nil {
		return nil, fmt.Errorf("%w: nil setup", ErrInvalidConfig)
	}
	if err := setup.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate setup: %w", err)
	}
	if cfg.MaxDoubletsFromHit < 0 || cfg.MaxTripletsFromDoublet < 0 {
		return nil, fmt.Errorf("%w: negative slot capacity", ErrInvalidConfig)
	}
	if cfg.Executor == nil {
		cfg.Executor = SequentialExecutor{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.MaxDoubletsFromHit == 0 {
		cfg.MaxDoubletsFromHit = DefaultMaxDoubletsFromHit
	}
	if cfg.MaxTripletsFromDoublet == 0 {
		cfg.MaxTripletsFromDoublet = DefaultMaxTripletsFromDoublet
	}
	return &Orchestrator{setup: setup, cfg: cfg}, nil
}

// Setup returns the geometry the orchestrator was built for.
func (o *Orchestrator) Setup() *Setup { return o.setup }

// Result is the output of one iteration.
type Result struct {
	Iteration string

	// Triplets holds every fitted candidate, including those flagged
	// invalid (Chi2 == -1).
	Triplets []Triplet

	NDoublets int
	NTriplets int
	NValid    int
	// NNonPSD counts fitted triplets whose covariance lost positive
	// semi-definiteness.
	NNonPSD int

	Timings StageTimings
}

// BuildGrids builds one grid per station of hs with the target at targetZ.
// Hits marked in used are left out; used may be nil.
func (o *Orchestrator) BuildGrids(hs *hits.HitSet, targetZ float64, used []bool) ([]*grid.Grid, error) {
	if hs.NumStations() != o.setup.NumStations() {
		return nil, fmt.Errorf("%w: hit set has %d stations, setup has %d", ErrInvalidConfig, hs.NumStations(), o.setup.NumStations())
	}
	grids := make([]*grid.Grid, o.setup.NumStations())
	for s := range grids {
		grids[s] = grid.Build(hs, s, o.setup.Stations[s].Z, targetZ, used)
	}
	return grids, nil
}

// Run builds grids for hs and runs a single iteration.
func (o *Orchestrator) Run(ctx context.Context, hs *hits.HitSet, p *IterationParameters) (*Result, error) {
	if err := p.Validate(o.setup); err != nil {
		return nil, err
	}
	RecordInvalidHits(hs.Rejected)
	grids, err := o.BuildGrids(hs, p.TargetZ, nil)
	if err != nil {
		return nil, err
	}
	return o.runIteration(ctx, hs, grids, p)
}

// RunIterations runs iters in order on the same hits. Hits used by a valid
// triplet of one iteration are removed from the grids before the next.
func (o *Orchestrator) RunIterations(ctx context.Context, hs *hits.HitSet, iters []IterationParameters) ([]*Result, error) {
	if len(iters) == 0 {
		return nil, nil
	}
	for i := range iters {
		if err := iters[i].Validate(o.setup); err != nil {
			return nil, err
		}
	}
	RecordInvalidHits(hs.Rejected)

	used := make([]bool, hs.Len())
	grids, err := o.BuildGrids(hs, iters[0].TargetZ, used)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0, len(iters))
	for i := range iters {
		if i > 0 {
			for _, g := range grids {
				g.RemoveUsed(hs.Hits, used)
			}
		}
		res, err := o.runIteration(ctx, hs, grids, &iters[i])
		if err != nil {
			return results, fmt.Errorf("failed to run iteration %q: %w", iters[i].Name, err)
		}
		nUsed := markUsed(res.Triplets, used)
		diagf("iteration %q marked %d hits used", iters[i].Name, nUsed)
		results = append(results, res)
	}
	return results, nil
}

// markUsed flags the hits of valid triplets and returns how many were newly
// flagged.
func markUsed(ts []Triplet, used []bool) int {
	n := 0
	for i := range ts {
		t := &ts[i]
		if !t.Valid() {
			continue
		}
		for _, ih := range [3]int{t.Left, t.Middle, t.Right} {
			if !used[ih] {
				used[ih] = true
				n++
			}
		}
	}
	return n
}

// seedsFrom lists the grid entries of every station that can start a
// triplet, station by station.
func seedsFrom(grids []*grid.Grid) []int {
	n := 0
	for s := 0; s+2 < len(grids); s++ {
		n += len(grids[s].Entries)
	}
	seeds := make([]int, 0, n)
	for s := 0; s+2 < len(grids); s++ {
		seeds = append(seeds, grids[s].Entries...)
	}
	return seeds
}

// runIteration executes the eight stages. Each stage's buffers are sized
// from the previous stage's counts and dropped once consumed.
func (o *Orchestrator) runIteration(ctx context.Context, hs *hits.HitSet, grids []*grid.Grid, p *IterationParameters) (*Result, error) {
	sh := &Shared{
		Setup:  o.setup,
		Params: p,
		Hits:   hs.Hits,
		Grids:  grids,
		Seeds:  seedsFrom(grids),
	}
	ex := o.cfg.Executor
	res := &Result{Iteration: p.Name}
	timer := stageTimer{clock: o.cfg.Clock, iteration: p.Name, timings: &res.Timings}
	run := func(s Stage, fn func() error) error {
		if err := timer.time(s, fn); err != nil {
			return fmt.Errorf("failed to run stage %s: %w", s, err)
		}
		tracef("iteration %q stage %s done in %s", p.Name, s, res.Timings[s])
		return nil
	}

	// Singlets are indexed by hit so fitted doublets can find their seed.
	singlets := make([]kf.TrackState, len(sh.Hits))
	seeded := make([]bool, len(sh.Hits))
	err := run(StageMakeSinglets, func() error {
		return ex.Run(ctx, len(sh.Seeds), func(i int) {
			ih := sh.Seeds[i]
			singlets[ih], seeded[ih] = makeSinglet(sh, ih)
		})
	})
	if err != nil {
		return nil, err
	}

	dArena := NewSlotArena(len(sh.Seeds), o.cfg.MaxDoubletsFromHit, emptyDoublet)
	err = run(StageMakeDoublets, func() error {
		return ex.Run(ctx, len(sh.Seeds), func(i int) {
			ih := sh.Seeds[i]
			if !seeded[ih] {
				return
			}
			dArena.Add(makeDoublets(sh, ih, &singlets[ih], dArena.Window(i)))
		})
	})
	if err != nil {
		return nil, err
	}

	var doublets []Doublet
	err = run(StageCompressDoublets, func() error {
		var cerr error
		doublets, cerr = dArena.Compact(ctx, ex)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	dArena.Release()
	res.NDoublets = len(doublets)

	fitted := make([]kf.TrackState, len(doublets))
	fitOK := make([]bool, len(doublets))
	err = run(StageFitDoublets, func() error {
		return ex.Run(ctx, len(doublets), func(i int) {
			d := doublets[i]
			fitted[i], fitOK[i] = fitDoublet(sh, d, singlets[d.Left])
		})
	})
	if err != nil {
		return nil, err
	}
	singlets, seeded = nil, nil

	tArena := NewSlotArena(len(doublets), o.cfg.MaxTripletsFromDoublet, emptyTriple)
	err = run(StageMakeTriplets, func() error {
		return ex.Run(ctx, len(doublets), func(i int) {
			if !fitOK[i] {
				return
			}
			s := fitted[i]
			tArena.Add(makeTriplets(sh, doublets[i], &s, tArena.Window(i)))
		})
	})
	if err != nil {
		return nil, err
	}
	doublets, fitted, fitOK = nil, nil, nil

	var triples []hitTriple
	err = run(StageCompressTriplets, func() error {
		var cerr error
		triples, cerr = tArena.Compact(ctx, ex)
		return cerr
	})
	if err != nil {
		return nil, err
	}
	tArena.Release()

	triplets := make([]Triplet, len(triples))
	covOK := make([]bool, len(triples))
	err = run(StageFitTriplets, func() error {
		return ex.Run(ctx, len(triples), func(i int) {
			triplets[i], covOK[i] = fitTriplet(sh, triples[i])
		})
	})
	if err != nil {
		return nil, err
	}
	for _, ok := range covOK {
		if !ok {
			res.NNonPSD++
		}
	}
	if res.NNonPSD > 0 {
		diagf("iteration %q: %d fitted triplets have a non-PSD covariance", p.Name, res.NNonPSD)
	}

	err = run(StageSortTriplets, func() error {
		if o.cfg.SortTriplets {
			SortTriplets(triplets)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Triplets = triplets
	res.NTriplets = len(triplets)
	for i := range triplets {
		if triplets[i].Valid() {
			res.NValid++
		}
	}
	recordCounts(p.Name, res)
	diagf("iteration %q: seeds=%d doublets=%d triplets=%d valid=%d in %s",
		p.Name, len(sh.Seeds), res.NDoublets, res.NTriplets, res.NValid, res.Timings.Total())
	return res, nil
}

// SortTriplets orders ts by left hit index, breaking ties by middle and
// right hit so the order does not depend on the executor.
func SortTriplets(ts []Triplet) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := &ts[i], &ts[j]
		if a.Left != b.Left {
			return a.Left < b.Left
		}
		if a.Middle != b.Middle {
			return a.Middle < b.Middle
		}
		return a.Right < b.Right
	})
}
