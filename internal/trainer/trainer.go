package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
	G "gorgonia.org/gorgonia"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
	"github.com/san-kum/diffpole/internal/policy"
)

const DefaultUnroll = 8

// IterationResult describes one training episode.
type IterationResult struct {
	Iteration int
	Steps     int
	Blocks    int
	// Loss is the failure-margin loss at the end of the last block.
	Loss float64
	// Effort is the mean absolute normalized action over surviving steps.
	Effort   float64
	Terminal bool
	Stopped  bool
	Duration time.Duration
}

func (r IterationResult) Record() dynamo.IterationRecord {
	return dynamo.IterationRecord{
		Iteration: r.Iteration,
		Steps:     r.Steps,
		Blocks:    r.Blocks,
		Loss:      r.Loss,
		Effort:    r.Effort,
		Terminal:  r.Terminal,
		Duration:  r.Duration,
	}
}

// Trainer runs training iterations. It is not safe for concurrent use.
type Trainer struct {
	// Unroll is the number of simulation steps differentiated together.
	Unroll int
	// Observer, when set, receives a snapshot between blocks.
	Observer dynamo.Observer
	// Stop is polled between blocks; returning true ends the episode early.
	Stop func() bool
	// Initial, when set, replaces the random reset at the start of every
	// iteration.
	Initial dynamo.State

	rng       *rand.Rand
	logger    *log.Logger
	iteration int
}

func New(rng *rand.Rand, logger *log.Logger) *Trainer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Trainer{
		Unroll: DefaultUnroll,
		rng:    rng,
		logger: logger,
	}
}

// Iteration is the number of iterations started so far.
func (t *Trainer) Iteration() int {
	return t.iteration
}

// SetIteration continues numbering after a resumed run.
func (t *Trainer) SetIteration(n int) {
	t.iteration = n
}

type blockResult struct {
	steps  int
	loss   float64
	effort float64
	action float64
	update bool
}

// RunIteration resets phys and trains pol over one episode of at most
// maxSteps steps. Invalid arguments fail before any simulation runs. On
// divergence the failing block leaves both pol and phys untouched.
func (t *Trainer) RunIteration(ctx context.Context, pol *policy.Policy, phys *physics.CartPole, opt *Optimizer, maxSteps int) (IterationResult, error) {
	if maxSteps <= 1 {
		return IterationResult{}, &dynamo.ValidationError{Field: "max_steps", Value: maxSteps, Reason: "must be greater than 1"}
	}
	if opt == nil {
		return IterationResult{}, &dynamo.ValidationError{Field: "optimizer", Value: nil, Reason: "is required"}
	}
	if !(opt.LearningRate > 0) {
		return IterationResult{}, &dynamo.ValidationError{Field: "learning_rate", Value: opt.LearningRate, Reason: "must be a positive finite number"}
	}
	if t.Unroll < 2 {
		return IterationResult{}, &dynamo.ValidationError{Field: "unroll", Value: t.Unroll, Reason: "must be at least 2"}
	}

	t.iteration++
	start := time.Now()
	res := IterationResult{Iteration: t.iteration}

	if t.Initial != nil {
		if err := phys.SetState(t.Initial); err != nil {
			return res, err
		}
	} else {
		phys.Reset(t.rng)
	}
	res.Loss = phys.FailureMarginLoss()
	res.Terminal = phys.Done

	effort := 0.0
	for res.Steps < maxSteps && !phys.Done {
		select {
		case <-ctx.Done():
			res.Stopped = true
			res.Duration = time.Since(start)
			return res, ctx.Err()
		default:
		}

		n := min(t.Unroll, maxSteps-res.Steps)
		var blk blockResult
		var err error
		if n < 2 {
			blk, err = t.plainStep(pol, phys)
		} else {
			blk, err = t.runBlock(pol, phys, opt, n)
		}
		if err != nil {
			var div *dynamo.DivergenceError
			if errors.As(err, &div) {
				div.Iteration = t.iteration
				div.Step += res.Steps
			}
			res.Duration = time.Since(start)
			return res, err
		}

		res.Steps += blk.steps
		if blk.update {
			res.Blocks++
		}
		res.Loss = blk.loss
		res.Terminal = phys.Done
		effort += blk.effort

		t.logger.Debug("block", "iteration", t.iteration, "step", res.Steps, "loss", blk.loss, "action", blk.action)

		if t.Observer != nil {
			snap := phys.Snapshot()
			snap.Iteration = t.iteration
			snap.Step = res.Steps
			snap.Action = blk.action
			t.Observer.OnBlock(snap)
		}
		if t.Stop != nil && t.Stop() {
			res.Stopped = true
			break
		}
	}

	if res.Steps > 0 {
		res.Effort = effort / float64(res.Steps)
	}
	res.Duration = time.Since(start)
	return res, nil
}

// runBlock unrolls n steps from the current physics state, applies one
// optimizer update for the block's final loss and advances phys to the
// first terminal state reached, or to the block's last state.
func (t *Trainer) runBlock(pol *policy.Policy, phys *physics.CartPole, opt *Optimizer, n int) (blk blockResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("trainer: building unroll block: %v", r)
		}
	}()

	g := G.NewGraph()
	bound := pol.Bind(g)
	sim := physics.NewGraph(g, phys)
	s, err := sim.Input(phys.State())
	if err != nil {
		return blk, err
	}

	actions := make([]G.Value, n)
	states := make([][4]G.Value, n)
	for i := 0; i < n; i++ {
		u := bound.Forward(s.Slice())
		G.Read(u, &actions[i])
		s = sim.Step(s, u)
		for j, node := range s.Slice() {
			G.Read(node, &states[i][j])
		}
	}
	loss := sim.Loss(s)
	var lossVal G.Value
	G.Read(loss, &lossVal)

	params := bound.Nodes()
	if _, err := G.Grad(loss, params...); err != nil {
		return blk, fmt.Errorf("trainer: differentiating block: %w", err)
	}

	vm := G.NewTapeMachine(g, G.BindDualValues(params...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return blk, fmt.Errorf("trainer: running block: %w", err)
	}

	diverged := func(step int, detail string, st dynamo.State) error {
		return &dynamo.DivergenceError{Step: step, State: st, Detail: detail}
	}

	us := make([]float64, n)
	xs := make([]dynamo.State, n)
	for i := 0; i < n; i++ {
		var ok bool
		if us[i], ok = scalar(actions[i]); !ok {
			return blk, diverged(i, "non-finite action", phys.State())
		}
		xs[i] = make(dynamo.State, 4)
		for j := range states[i] {
			xs[i][j], _ = scalar(states[i][j])
		}
		if !xs[i].IsValid() {
			return blk, diverged(i+1, "non-finite state in unroll block", xs[i])
		}
	}
	if _, ok := scalar(lossVal); !ok {
		return blk, diverged(n, "non-finite loss", xs[n-1])
	}
	for _, p := range params {
		grad, err := p.Grad()
		if err != nil {
			return blk, fmt.Errorf("trainer: reading gradient of %s: %w", p.Name(), err)
		}
		if !finite(grad) {
			return blk, diverged(n, "non-finite gradient for "+p.Name(), xs[n-1])
		}
	}

	if err := opt.Apply(params); err != nil {
		return blk, fmt.Errorf("trainer: optimizer step: %w", err)
	}
	for _, p := range params {
		if !finite(p.Value()) {
			return blk, diverged(n, "non-finite parameter after update: "+p.Name(), xs[n-1])
		}
	}
	if err := bound.Commit(pol); err != nil {
		return blk, err
	}

	blk.update = true
	for i := 0; i < n; i++ {
		if err := phys.SetState(xs[i]); err != nil {
			return blk, err
		}
		blk.steps++
		blk.effort += math.Abs(us[i])
		blk.action = us[i]
		if phys.Done {
			break
		}
	}
	// the unrolled loss is for xs[n-1]; report the state phys actually holds
	blk.loss = phys.FailureMarginLoss()
	return blk, nil
}

// plainStep advances a single step without a gradient update. A one-step
// block has no gradient path from its action to its loss.
func (t *Trainer) plainStep(pol *policy.Policy, phys *physics.CartPole) (blockResult, error) {
	u := pol.Predict(phys.State())
	if err := phys.Step(u); err != nil {
		return blockResult{}, err
	}
	return blockResult{
		steps:  1,
		loss:   phys.FailureMarginLoss(),
		effort: math.Abs(u),
		action: u,
	}, nil
}

func scalar(v G.Value) (float64, bool) {
	if v == nil {
		return 0, false
	}
	var f float64
	switch d := v.Data().(type) {
	case float64:
		f = d
	case []float64:
		if len(d) != 1 {
			return 0, false
		}
		f = d[0]
	default:
		return 0, false
	}
	return f, !math.IsNaN(f) && !math.IsInf(f, 0)
}

func finite(v G.Value) bool {
	if v == nil {
		return false
	}
	switch d := v.Data().(type) {
	case float64:
		return !math.IsNaN(d) && !math.IsInf(d, 0)
	case []float64:
		for _, f := range d {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
		return true
	}
	return false
}
