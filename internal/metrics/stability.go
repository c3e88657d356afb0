package metrics

import (
	"github.com/san-kum/diffpole/internal/dynamo"
)

// TerminalRate is the fraction of iterations whose episode hit a failure
// bound before running out of steps.
type TerminalRate struct {
	name     string
	failures int
	samples  int
}

func NewTerminalRate() *TerminalRate {
	return &TerminalRate{
		name: "terminal_rate",
	}
}

func (s *TerminalRate) Name() string {
	return s.name
}

func (s *TerminalRate) Observe(rec dynamo.IterationRecord) {
	s.samples++
	if rec.Terminal {
		s.failures++
	}
}

func (s *TerminalRate) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.failures) / float64(s.samples)
}

func (s *TerminalRate) Reset() {
	s.failures = 0
	s.samples = 0
}
