package metrics

import (
	"github.com/san-kum/diffpole/internal/dynamo"
)

// ControlEffort is the mean absolute normalized action, averaged over
// iterations.
type ControlEffort struct {
	name    string
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(rec dynamo.IterationRecord) {
	if rec.Steps == 0 {
		return
	}
	c.sum += rec.Effort
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}
