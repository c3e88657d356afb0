package physics

import (
	"math"
	"math/rand"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/integrators"
)

const (
	// PositionWeight scales the position term of the failure-margin loss.
	PositionWeight = 0.01

	defaultXThreshold     = 2.4
	defaultThetaThreshold = 12 * math.Pi / 180
)

// ResetRange holds the half-widths of the uniform draws used by Reset.
type ResetRange struct {
	X        float64
	XDot     float64
	Theta    float64
	ThetaDot float64
}

// CartPole is the classic pole-balancing system. The four state variables
// are mutated in place by Step; everything else is a fixed constant.
type CartPole struct {
	X        float64
	XDot     float64
	Theta    float64
	ThetaDot float64

	Gravity    float64
	CartMass   float64
	PoleMass   float64
	HalfLength float64
	CartWidth  float64
	CartHeight float64
	ForceMag   float64
	Tau        float64

	XThreshold     float64
	ThetaThreshold float64
	// PositionSlack is the half-width of the band around the track center
	// in which the position term of the loss is exactly zero.
	PositionSlack float64
	Start         ResetRange

	Done bool

	integ dynamo.Integrator
}

func NewCartPole() *CartPole {
	return &CartPole{
		Gravity:        9.8,
		CartMass:       1.0,
		PoleMass:       0.1,
		HalfLength:     0.5,
		CartWidth:      0.5,
		CartHeight:     0.25,
		ForceMag:       10.0,
		Tau:            0.02,
		XThreshold:     defaultXThreshold,
		ThetaThreshold: defaultThetaThreshold,
		PositionSlack:  0.5,
		Start: ResetRange{
			X:        0.5,
			XDot:     0.5,
			Theta:    6 * math.Pi / 180,
			ThetaDot: 0.5,
		},
		integ: integrators.NewEuler(),
	}
}

func (c *CartPole) StateDim() int {
	return 4
}

func (c *CartPole) ControlDim() int {
	return 1
}

func (c *CartPole) TotalMass() float64 {
	return c.CartMass + c.PoleMass
}

// PoleMassLength is the pole moment, pole mass times half length.
func (c *CartPole) PoleMassLength() float64 {
	return c.PoleMass * c.HalfLength
}

// Reset draws a fresh episode start, each variable independently uniform
// within its Start range.
func (c *CartPole) Reset(rng *rand.Rand) {
	c.X = uniform(rng, c.Start.X)
	c.XDot = uniform(rng, c.Start.XDot)
	c.Theta = uniform(rng, c.Start.Theta)
	c.ThetaDot = uniform(rng, c.Start.ThetaDot)
	c.Done = false
}

func uniform(rng *rand.Rand, half float64) float64 {
	return (rng.Float64()*2 - 1) * half
}

func (c *CartPole) State() dynamo.State {
	return dynamo.State{c.X, c.XDot, c.Theta, c.ThetaDot}
}

// SetState overwrites the state variables and recomputes Done.
func (c *CartPole) SetState(x dynamo.State) error {
	if len(x) != c.StateDim() {
		return &dynamo.ValidationError{Field: "state", Value: len(x), Reason: "expected 4 components"}
	}
	c.X, c.XDot, c.Theta, c.ThetaDot = x[0], x[1], x[2], x[3]
	c.Done = c.IsTerminal()
	return nil
}

// Accelerations returns the linear and angular acceleration for the given
// state under a normalized action in [-1, 1].
func (c *CartPole) Accelerations(x dynamo.State, action float64) (xAcc, thetaAcc float64) {
	force := action * c.ForceMag
	thetaDot := x[dynamo.IdxThetaDot]
	sin := math.Sin(x[dynamo.IdxTheta])
	cos := math.Cos(x[dynamo.IdxTheta])
	total := c.TotalMass()
	pml := c.PoleMassLength()

	temp := (force + pml*(thetaDot*thetaDot)*sin) / total
	thetaAcc = (c.Gravity*sin - cos*temp) / (c.HalfLength * (4.0/3.0 - c.PoleMass*(cos*cos)/total))
	xAcc = temp - pml*thetaAcc*cos/total
	return xAcc, thetaAcc
}

func (c *CartPole) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	action := 0.0
	if len(u) > 0 {
		action = u[0]
	}
	xAcc, thetaAcc := c.Accelerations(x, action)
	return dynamo.State{x[dynamo.IdxXDot], xAcc, x[dynamo.IdxThetaDot], thetaAcc}
}

// Step advances the state by one Tau under the given normalized action.
// A non-finite result leaves the state untouched and returns a
// *dynamo.DivergenceError.
func (c *CartPole) Step(action float64) error {
	integ := c.integ
	if integ == nil {
		integ = integrators.NewEuler()
	}
	next := integ.Step(c, c.State(), dynamo.Control{action}, 0, c.Tau)
	if !next.IsValid() {
		return &dynamo.DivergenceError{State: next, Detail: "non-finite state after integration"}
	}
	return c.SetState(next)
}

// IsTerminal reports whether the state lies strictly outside either bound.
func (c *CartPole) IsTerminal() bool {
	return math.Abs(c.X) > c.XThreshold || math.Abs(c.Theta) > c.ThetaThreshold
}

// margin is the clamped distance from v to the nearer of the symmetric
// bounds -t and t.
func margin(v, t float64) float64 {
	return math.Max(0, math.Min(v-(-t), t-v))
}

// FailureMarginLoss is zero in the safe region and grows quadratically as
// the state approaches either bound.
func (c *CartPole) FailureMarginLoss() float64 {
	mx := margin(c.X, c.XThreshold)
	shortfall := math.Max(0, (c.XThreshold-c.PositionSlack)-mx)
	mt := margin(c.Theta, c.ThetaThreshold)
	dt := mt - c.ThetaThreshold
	return PositionWeight*shortfall*shortfall + dt*dt
}

func (c *CartPole) Geometry() dynamo.Geometry {
	return dynamo.Geometry{
		CartWidth:      c.CartWidth,
		CartHeight:     c.CartHeight,
		PoleLength:     2 * c.HalfLength,
		XThreshold:     c.XThreshold,
		ThetaThreshold: c.ThetaThreshold,
	}
}

func (c *CartPole) Snapshot() dynamo.Snapshot {
	return dynamo.Snapshot{
		X:        c.X,
		XDot:     c.XDot,
		Theta:    c.Theta,
		ThetaDot: c.ThetaDot,
		Loss:     c.FailureMarginLoss(),
		Geometry: c.Geometry(),
	}
}

// Clone returns an independent copy with the same constants and state.
func (c *CartPole) Clone() *CartPole {
	cp := *c
	return &cp
}
