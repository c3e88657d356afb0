package metrics

import "github.com/san-kum/diffpole/internal/dynamo"

// Metric accumulates one statistic over completed training iterations.
type Metric interface {
	Name() string
	Observe(rec dynamo.IterationRecord)
	Value() float64
	Reset()
}

// Standard returns the metrics reported after every iteration. The trend
// is fitted over the most recent window iterations.
func Standard(window int) []Metric {
	return []Metric{
		NewSurvivalMean(),
		NewSurvivalSpread(),
		NewSurvivalTrend(window),
		NewBestSurvival(),
		NewControlEffort(),
		NewTerminalRate(),
	}
}

// Summarize replays records through the standard metrics.
func Summarize(records []dynamo.IterationRecord, window int) map[string]float64 {
	ms := Standard(window)
	for _, rec := range records {
		for _, m := range ms {
			m.Observe(rec)
		}
	}
	return Values(ms)
}

func Values(ms []Metric) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out
}
