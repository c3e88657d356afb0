package trainer

import (
	"math"

	G "gorgonia.org/gorgonia"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// Optimizer applies Adam updates to bound policy parameters. Its moment
// estimates are keyed by parameter position, so every Apply must pass the
// parameters in the same order.
type Optimizer struct {
	LearningRate float64
	Clip         float64

	solver *G.AdamSolver
	steps  int
}

// NewOptimizer builds an Adam optimizer. A clip of zero disables gradient
// clipping.
func NewOptimizer(learningRate, clip float64) (*Optimizer, error) {
	if !(learningRate > 0) || math.IsInf(learningRate, 1) {
		return nil, &dynamo.ValidationError{Field: "learning_rate", Value: learningRate, Reason: "must be a positive finite number"}
	}
	if clip < 0 || math.IsNaN(clip) || math.IsInf(clip, 0) {
		return nil, &dynamo.ValidationError{Field: "clip", Value: clip, Reason: "must be zero or a positive finite number"}
	}

	o := &Optimizer{LearningRate: learningRate, Clip: clip}
	o.Reset()
	return o, nil
}

// Reset discards the moment estimates and the update count. The solver's
// state is not copyable, so a run that throws away updates starts Adam
// afresh instead of rewinding it.
func (o *Optimizer) Reset() {
	opts := []G.SolverOpt{G.WithLearnRate(o.LearningRate)}
	if o.Clip > 0 {
		opts = append(opts, G.WithClip(o.Clip))
	}
	o.solver = G.NewAdamSolver(opts...)
	o.steps = 0
}

// Apply performs one update in place on the node values using the
// gradients left on them by the last tape-machine run.
func (o *Optimizer) Apply(params G.Nodes) error {
	if err := o.solver.Step(G.NodesToValueGrads(params)); err != nil {
		return err
	}
	o.steps++
	return nil
}

// Steps is the number of updates applied so far.
func (o *Optimizer) Steps() int {
	return o.steps
}
