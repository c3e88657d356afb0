package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/diffpole/internal/dynamo"
)

type SurvivalMean struct {
	name  string
	steps []float64
}

func NewSurvivalMean() *SurvivalMean {
	return &SurvivalMean{name: "survival_mean"}
}

func (s *SurvivalMean) Name() string { return s.name }

func (s *SurvivalMean) Observe(rec dynamo.IterationRecord) {
	s.steps = append(s.steps, float64(rec.Steps))
}

func (s *SurvivalMean) Value() float64 {
	if len(s.steps) == 0 {
		return 0
	}
	return stat.Mean(s.steps, nil)
}

func (s *SurvivalMean) Reset() { s.steps = s.steps[:0] }

// SurvivalSpread is the sample standard deviation of steps survived.
type SurvivalSpread struct {
	name  string
	steps []float64
}

func NewSurvivalSpread() *SurvivalSpread {
	return &SurvivalSpread{name: "survival_stddev"}
}

func (s *SurvivalSpread) Name() string { return s.name }

func (s *SurvivalSpread) Observe(rec dynamo.IterationRecord) {
	s.steps = append(s.steps, float64(rec.Steps))
}

func (s *SurvivalSpread) Value() float64 {
	if len(s.steps) < 2 {
		return 0
	}
	return stat.StdDev(s.steps, nil)
}

func (s *SurvivalSpread) Reset() { s.steps = s.steps[:0] }

// SurvivalTrend is the least-squares slope of steps survived against
// iteration number over a sliding window. Positive means improving.
type SurvivalTrend struct {
	name   string
	window int
	iters  []float64
	steps  []float64
}

func NewSurvivalTrend(window int) *SurvivalTrend {
	if window < 2 {
		window = 2
	}
	return &SurvivalTrend{name: "survival_trend", window: window}
}

func (s *SurvivalTrend) Name() string { return s.name }

func (s *SurvivalTrend) Observe(rec dynamo.IterationRecord) {
	s.iters = append(s.iters, float64(rec.Iteration))
	s.steps = append(s.steps, float64(rec.Steps))
	if len(s.iters) > s.window {
		s.iters = s.iters[1:]
		s.steps = s.steps[1:]
	}
}

func (s *SurvivalTrend) Value() float64 {
	if len(s.iters) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(s.iters, s.steps, nil, false)
	return beta
}

func (s *SurvivalTrend) Reset() {
	s.iters = s.iters[:0]
	s.steps = s.steps[:0]
}

type BestSurvival struct {
	name string
	best int
}

func NewBestSurvival() *BestSurvival {
	return &BestSurvival{name: "best_survival"}
}

func (b *BestSurvival) Name() string { return b.name }

func (b *BestSurvival) Observe(rec dynamo.IterationRecord) {
	if rec.Steps > b.best {
		b.best = rec.Steps
	}
}

func (b *BestSurvival) Value() float64 { return float64(b.best) }

func (b *BestSurvival) Reset() { b.best = 0 }
