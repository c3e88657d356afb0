package integrators

import (
	"math"
	"testing"

	"github.com/san-kum/diffpole/internal/dynamo"
)

type decay struct{}

func (decay) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{-x[0]}
}

func (decay) StateDim() int   { return 1 }
func (decay) ControlDim() int { return 0 }

// position/velocity pair with constant acceleration a = u[0]
type ballistic struct{}

func (ballistic) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], u[0]}
}

func (ballistic) StateDim() int   { return 2 }
func (ballistic) ControlDim() int { return 1 }

func TestEulerDecay(t *testing.T) {
	integ := NewEuler()
	x := dynamo.State{1.0}
	dt := 0.01
	for i := 0; i < 100; i++ {
		x = integ.Step(decay{}, x, nil, float64(i)*dt, dt)
	}

	expected := math.Exp(-1.0)
	if math.Abs(x[0]-expected) > 0.01 {
		t.Errorf("expected ~%.4f, got %.4f", expected, x[0])
	}
}

func TestEulerUsesPreUpdateVelocity(t *testing.T) {
	integ := NewEuler()
	x := integ.Step(ballistic{}, dynamo.State{0, 0}, dynamo.Control{10}, 0, 0.1)

	if x[0] != 0 {
		t.Errorf("position should move with the old velocity (0), got %f", x[0])
	}
	if math.Abs(x[1]-1.0) > 1e-12 {
		t.Errorf("expected velocity 1.0, got %f", x[1])
	}
}

func TestEulerDoesNotMutateInput(t *testing.T) {
	integ := NewEuler()
	x0 := dynamo.State{1.0, 2.0}
	_ = integ.Step(ballistic{}, x0, dynamo.Control{1}, 0, 0.5)
	if x0[0] != 1.0 || x0[1] != 2.0 {
		t.Errorf("input state mutated: %v", x0)
	}
}
