package integrators

import (
	"math"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// RK4 is the classic fourth-order Runge-Kutta stepper. Training never uses
// it; it is the reference for measuring how far Euler strays at a given Tau.
type RK4 struct {
	stage dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

// offset writes x + h*k into the reusable stage buffer.
func (r *RK4) offset(x, k dynamo.State, h float64) dynamo.State {
	if len(r.stage) != len(x) {
		r.stage = make(dynamo.State, len(x))
	}
	for i := range x {
		r.stage[i] = x[i] + h*k[i]
	}
	return r.stage
}

func (r *RK4) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	k1 := dyn.Derive(x, u, t)
	k2 := dyn.Derive(r.offset(x, k1, dt/2), u, t+dt/2)
	k3 := dyn.Derive(r.offset(x, k2, dt/2), u, t+dt/2)
	k4 := dyn.Derive(r.offset(x, k3, dt), u, t+dt)

	next := make(dynamo.State, len(x))
	for i := range x {
		next[i] = x[i] + dt/6*(k1[i]+2*k2[i]+2*k3[i]+k4[i])
	}
	return next
}

// Drift runs a and b side by side from x0 under a constant control and
// returns the largest absolute difference seen in any state component.
// A non-finite state from either stepper gives +Inf.
func Drift(dyn dynamo.System, a, b dynamo.Integrator, x0 dynamo.State, u dynamo.Control, dt float64, steps int) float64 {
	xa, xb := x0.Clone(), x0.Clone()
	worst := 0.0
	for i := 0; i < steps; i++ {
		t := float64(i) * dt
		xa = a.Step(dyn, xa, u, t, dt)
		xb = b.Step(dyn, xb, u, t, dt)
		if !xa.IsValid() || !xb.IsValid() {
			return math.Inf(1)
		}
		for j := range xa {
			worst = max(worst, math.Abs(xa[j]-xb[j]))
		}
	}
	return worst
}
