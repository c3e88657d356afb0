package physics

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// Nodes is the cart-pole state expressed as scalar graph nodes.
type Nodes struct {
	X        *G.Node
	XDot     *G.Node
	Theta    *G.Node
	ThetaDot *G.Node
}

// Slice returns the nodes in State order.
func (n Nodes) Slice() []*G.Node {
	return []*G.Node{n.X, n.XDot, n.Theta, n.ThetaDot}
}

// Graph emits the cart-pole dynamics and the failure-margin loss as
// differentiable gorgonia expressions. Physical constants enter the graph as
// plain scalar inputs; only values derived from the action carry gradients
// back to the policy.
//
// Every expression mirrors the float64 arithmetic in CartPole operation for
// operation, so a graph rollout reproduces CartPole.Step.
type Graph struct {
	g *G.ExprGraph

	forceMag, gravity, total, pml, poleMass, halfLength, fourThirds, tau *G.Node
	xThreshold, thetaThreshold, xSafe, posWeight                                *G.Node
}

func NewGraph(g *G.ExprGraph, cp *CartPole) *Graph {
	k := func(name string, v float64) *G.Node {
		return G.NewScalar(g, tensor.Float64, G.WithName("cartpole_"+name), G.WithValue(v))
	}
	return &Graph{
		g:              g,
		forceMag:       k("force_mag", cp.ForceMag),
		gravity:        k("gravity", cp.Gravity),
		total:          k("total_mass", cp.TotalMass()),
		pml:            k("pole_mass_length", cp.PoleMassLength()),
		poleMass:       k("pole_mass", cp.PoleMass),
		halfLength:     k("half_length", cp.HalfLength),
		fourThirds:     k("four_thirds", 4.0/3.0),
		tau:            k("tau", cp.Tau),
		xThreshold:     k("x_threshold", cp.XThreshold),
		thetaThreshold: k("theta_threshold", cp.ThetaThreshold),
		xSafe:          k("x_safe", cp.XThreshold-cp.PositionSlack),
		posWeight:      k("position_weight", PositionWeight),
	}
}

// Input creates the initial state nodes holding x.
func (gr *Graph) Input(x dynamo.State) (Nodes, error) {
	if len(x) != 4 {
		return Nodes{}, fmt.Errorf("physics: graph input needs 4 components, got %d", len(x))
	}
	in := func(name string, v float64) *G.Node {
		return G.NewScalar(gr.g, tensor.Float64, G.WithName("state0_"+name), G.WithValue(v))
	}
	return Nodes{
		X:        in("x", x[dynamo.IdxX]),
		XDot:     in("x_dot", x[dynamo.IdxXDot]),
		Theta:    in("theta", x[dynamo.IdxTheta]),
		ThetaDot: in("theta_dot", x[dynamo.IdxThetaDot]),
	}, nil
}

// Step appends one explicit Euler step driven by the scalar action node.
// It panics on malformed graphs, as gorgonia's Must does.
func (gr *Graph) Step(s Nodes, action *G.Node) Nodes {
	force := G.Must(G.Mul(action, gr.forceMag))
	sin := G.Must(G.Sin(s.Theta))
	cos := G.Must(G.Cos(s.Theta))

	// temp = (F + pml*thetaDot^2*sin) / M
	omega2 := G.Must(G.Mul(s.ThetaDot, s.ThetaDot))
	spin := G.Must(G.Mul(G.Must(G.Mul(gr.pml, omega2)), sin))
	temp := G.Must(G.Div(G.Must(G.Add(force, spin)), gr.total))

	// thetaAcc = (g*sin - cos*temp) / (L*(4/3 - pm*cos^2/M))
	num := G.Must(G.Sub(G.Must(G.Mul(gr.gravity, sin)), G.Must(G.Mul(cos, temp))))
	cos2 := G.Must(G.Mul(cos, cos))
	frac := G.Must(G.Div(G.Must(G.Mul(gr.poleMass, cos2)), gr.total))
	den := G.Must(G.Mul(gr.halfLength, G.Must(G.Sub(gr.fourThirds, frac))))
	thetaAcc := G.Must(G.Div(num, den))

	// xAcc = temp - pml*thetaAcc*cos/M
	coupling := G.Must(G.Div(G.Must(G.Mul(G.Must(G.Mul(gr.pml, thetaAcc)), cos)), gr.total))
	xAcc := G.Must(G.Sub(temp, coupling))

	euler := func(v, dv *G.Node) *G.Node {
		return G.Must(G.Add(v, G.Must(G.Mul(dv, gr.tau))))
	}
	return Nodes{
		X:        euler(s.X, s.XDot),
		XDot:     euler(s.XDot, xAcc),
		Theta:    euler(s.Theta, s.ThetaDot),
		ThetaDot: euler(s.ThetaDot, thetaAcc),
	}
}

// Loss emits the failure-margin loss of s as a scalar node.
func (gr *Graph) Loss(s Nodes) *G.Node {
	margin := func(v, t *G.Node) *G.Node {
		// for symmetric bounds min(v+t, t-v) == t-|v|
		return G.Must(G.Rectify(G.Must(G.Sub(t, G.Must(G.Abs(v))))))
	}

	mx := margin(s.X, gr.xThreshold)
	shortfall := G.Must(G.Rectify(G.Must(G.Sub(gr.xSafe, mx))))
	posTerm := G.Must(G.Mul(G.Must(G.Mul(gr.posWeight, shortfall)), shortfall))

	mt := margin(s.Theta, gr.thetaThreshold)
	dt := G.Must(G.Sub(mt, gr.thetaThreshold))
	angleTerm := G.Must(G.Mul(dt, dt))

	return G.Must(G.Add(posTerm, angleTerm))
}
