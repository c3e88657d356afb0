package dynamo

import (
	"math"
	"time"
)

// Indices into a cart-pole State.
const (
	IdxX = iota
	IdxXDot
	IdxTheta
	IdxThetaDot
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

// Geometry is the fixed shape of the cart-pole, in meters.
type Geometry struct {
	CartWidth      float64
	CartHeight     float64
	PoleLength     float64
	XThreshold     float64
	ThetaThreshold float64
}

// Snapshot is a copy of the simulation taken at an unroll-block boundary.
// Renderers may keep it; nothing in it aliases trainer state.
type Snapshot struct {
	Iteration int
	Step      int
	X         float64
	XDot      float64
	Theta     float64
	ThetaDot  float64
	Action    float64
	Loss      float64
	Geometry  Geometry
}

// Observer receives a snapshot once per cooperative yield. Implementations
// must return promptly and must not retain references into the trainer.
type Observer interface {
	OnBlock(s Snapshot)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnBlock(s Snapshot) { f(s) }

// IterationObserver is implemented by observers that also want a summary
// after each completed iteration.
type IterationObserver interface {
	OnIteration(rec IterationRecord)
}

// IterationRecord summarises one completed training iteration.
type IterationRecord struct {
	Iteration int
	Steps     int
	Blocks    int
	Loss      float64
	Effort    float64
	Terminal  bool
	Duration  time.Duration
}
