package trainer

import (
	"context"
	"math/rand"
	"runtime"
	"sync"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
)

// Ensemble rolls one policy out from many start states in parallel. The
// policy is only read; each run gets its own clone of Physics.
type Ensemble struct {
	Policy   *policy.Policy
	Physics  *physics.CartPole
	MaxSteps int
	// Workers bounds concurrent rollouts; zero means GOMAXPROCS.
	Workers int
}

// Run evaluates every start state and returns the trajectories in order.
// The first error wins.
func (e *Ensemble) Run(ctx context.Context, starts []dynamo.State) ([]*Trajectory, error) {
	results := make([]*Trajectory, len(starts))
	errs := make([]error, len(starts))

	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, x0 := range starts {
		wg.Add(1)
		go func(idx int, x0 dynamo.State) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			sim := e.Physics.Clone()
			if err := sim.SetState(x0); err != nil {
				errs[idx] = err
				return
			}
			results[idx], errs[idx] = Evaluate(ctx, e.Policy, sim, e.MaxSteps, nil)
		}(i, x0)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// SurvivalRate rolls pol out from episodes random starts drawn from rng and
// returns the mean fraction of maxSteps survived. phys is not modified.
func SurvivalRate(ctx context.Context, pol *policy.Policy, phys *physics.CartPole, rng *rand.Rand, episodes, maxSteps int) (float64, error) {
	if episodes <= 0 {
		return 0, &dynamo.ValidationError{Field: "episodes", Value: episodes, Reason: "must be greater than 0"}
	}

	// draw sequentially so the starts depend only on rng
	starts := make([]dynamo.State, episodes)
	for i := range starts {
		sim := phys.Clone()
		sim.Reset(rng)
		starts[i] = sim.State()
	}

	ens := &Ensemble{Policy: pol, Physics: phys, MaxSteps: maxSteps}
	runs, err := ens.Run(ctx, starts)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, tr := range runs {
		total += tr.Steps
	}
	return float64(total) / float64(episodes*maxSteps), nil
}
