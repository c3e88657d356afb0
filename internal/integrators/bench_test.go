package integrators

import (
	"testing"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// linearised pole: theta'' = (g/l) theta + u
type invertedPendulum struct{}

func (invertedPendulum) StateDim() int   { return 2 }
func (invertedPendulum) ControlDim() int { return 1 }
func (invertedPendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{x[1], 19.6*x[0] + u[0]}
}

func BenchmarkEuler(b *testing.B) {
	integ := NewEuler()
	x := dynamo.State{0.01, 0.0}
	u := dynamo.Control{0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x = integ.Step(invertedPendulum{}, x, u, 0, 0.02)
		if i%100 == 99 {
			x = dynamo.State{0.01, 0.0}
		}
	}
}

func BenchmarkRK4(b *testing.B) {
	integ := NewRK4()
	x := dynamo.State{0.01, 0.0}
	u := dynamo.Control{0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x = integ.Step(invertedPendulum{}, x, u, 0, 0.02)
		if i%100 == 99 {
			x = dynamo.State{0.01, 0.0}
		}
	}
}
