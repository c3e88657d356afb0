package trainer

import (
	"context"
	"errors"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
)

// Trajectory is a recorded rollout. States has one more entry than Actions:
// the start state comes first.
type Trajectory struct {
	States   []dynamo.State
	Actions  []float64
	Times    []float64
	Steps    int
	Terminal bool
}

// Evaluate rolls pol out from the current state of phys with plain float64
// physics and no gradients, for at most maxSteps steps. The observer, if
// any, sees every step.
func Evaluate(ctx context.Context, pol *policy.Policy, phys *physics.CartPole, maxSteps int, obs dynamo.Observer) (*Trajectory, error) {
	if maxSteps <= 0 {
		return nil, &dynamo.ValidationError{Field: "max_steps", Value: maxSteps, Reason: "must be greater than 0"}
	}

	tr := &Trajectory{
		States:  make([]dynamo.State, 0, maxSteps+1),
		Actions: make([]float64, 0, maxSteps),
		Times:   make([]float64, 0, maxSteps+1),
	}
	tr.States = append(tr.States, phys.State())
	tr.Times = append(tr.Times, 0)
	tr.Terminal = phys.IsTerminal()

	for tr.Steps < maxSteps && !tr.Terminal {
		select {
		case <-ctx.Done():
			return tr, ctx.Err()
		default:
		}

		u := pol.Predict(phys.State())
		if err := phys.Step(u); err != nil {
			var div *dynamo.DivergenceError
			if errors.As(err, &div) {
				div.Step = tr.Steps
			}
			return tr, err
		}
		tr.Steps++
		tr.States = append(tr.States, phys.State())
		tr.Actions = append(tr.Actions, u)
		tr.Times = append(tr.Times, float64(tr.Steps)*phys.Tau)
		tr.Terminal = phys.Done

		if obs != nil {
			snap := phys.Snapshot()
			snap.Step = tr.Steps
			snap.Action = u
			obs.OnBlock(snap)
		}
	}
	return tr, nil
}
