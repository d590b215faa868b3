package pipeline

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Summary describes the triplets of one iteration.
type Summary struct {
	Total          int
	Valid          int
	MomentumFitted int

	// Chi2 statistics over valid triplets only. Zero when Valid == 0.
	Chi2Mean, Chi2StdDev float64
	QpMean, QpStdDev     float64
}

// Summarize computes triplet counts and the chi2 and q/p spread of the
// valid ones.
func Summarize(ts []Triplet) Summary {
	s := Summary{Total: len(ts)}
	chi2 := make([]float64, 0, len(ts))
	qp := make([]float64, 0, len(ts))
	for i := range ts {
		t := &ts[i]
		if !t.Valid() {
			continue
		}
		s.Valid++
		if t.IsMomentumFitted {
			s.MomentumFitted++
		}
		chi2 = append(chi2, t.Chi2)
		qp = append(qp, t.Qp)
	}
	switch len(chi2) {
	case 0:
	case 1:
		s.Chi2Mean, s.QpMean = chi2[0], qp[0]
	default:
		s.Chi2Mean, s.Chi2StdDev = stat.MeanStdDev(chi2, nil)
		s.QpMean, s.QpStdDev = stat.MeanStdDev(qp, nil)
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("triplets=%d valid=%d momentum_fitted=%d chi2=%.3f±%.3f qp=%.4f±%.4f",
		s.Total, s.Valid, s.MomentumFitted, s.Chi2Mean, s.Chi2StdDev, s.QpMean, s.QpStdDev)
}
