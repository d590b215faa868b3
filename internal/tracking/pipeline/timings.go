package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/timeutil"
)

// Stage identifies one pipeline stage.
type Stage int

const (
	StageMakeSinglets Stage = iota
	StageMakeDoublets
	StageCompressDoublets
	StageFitDoublets
	StageMakeTriplets
	StageCompressTriplets
	StageFitTriplets
	StageSortTriplets
	numStages
)

var stageNames = [numStages]string{
	"make_singlets",
	"make_doublets",
	"compress_doublets",
	"fit_doublets",
	"make_triplets",
	"compress_triplets",
	"fit_triplets",
	"sort_triplets",
}

func (s Stage) String() string {
	if s < 0 || s >= numStages {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// StageTimings is the wall time spent in each stage of one iteration.
type StageTimings [numStages]time.Duration

// Total sums all stages.
func (t StageTimings) Total() time.Duration {
	var d time.Duration
	for _, v := range t {
		d += v
	}
	return d
}

func (t StageTimings) String() string {
	var b strings.Builder
	for i, v := range t {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%s", Stage(i), v)
	}
	return b.String()
}

// stageTimer records stage durations into a StageTimings and the stage
// histogram.
type stageTimer struct {
	clock     timeutil.Clock
	iteration string
	timings   *StageTimings
}

// time runs fn and charges its wall time to st.
func (st stageTimer) time(s Stage, fn func() error) error {
	start := st.clock.Now()
	err := fn()
	d := st.clock.Since(start)
	st.timings[s] += d
	observeStage(st.iteration, s, d.Seconds())
	return err
}
