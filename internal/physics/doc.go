// Package physics provides the cart-pole simulator used for training.
//
// [CartPole] integrates the classic pole-balancing equations in plain
// float64 and implements [dynamo.System]. [Graph] emits the very same
// equations as gorgonia expressions so that the failure-margin loss can be
// differentiated through a chain of steps:
//
//	g := gorgonia.NewGraph()
//	sim := physics.NewGraph(g, cp)
//	s, _ := sim.Input(cp.State())
//	for i := 0; i < 8; i++ {
//	    s = sim.Step(s, action(s))
//	}
//	loss := sim.Loss(s)
//
// Physical constants are plain fields; only the state and the action are
// graph values.
package physics
