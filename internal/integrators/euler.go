package integrators

import "github.com/san-kum/diffpole/internal/dynamo"

// Euler is the explicit forward Euler stepper of the classic pole-balancing
// benchmark: every component advances with the derivative evaluated at the
// pre-update state, so positions move with the old velocities.
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t float64, dt float64) dynamo.State {
	dx := dyn.Derive(x, u, t)
	return x.Add(dx.Scale(dt))
}
