// Package dynamo provides the primitives shared by the simulator, the
// policy and the trainer.
//
//   - [State]: the cart-pole state vector (x, xDot, theta, thetaDot)
//   - [System]: continuous dynamics dX/dt = f(X, u, t)
//   - [Snapshot]: read-only view handed to renderers between unroll blocks
//   - [Observer]: the cooperative yield hook invoked by the trainer
//   - [IterationRecord]: one line of training history
//
// # Errors
//
// Error kinds are exposed as sentinels ([ErrValidation], [ErrDivergence],
// [ErrPersistence]) wrapped by typed errors carrying context, so callers can
// use errors.Is and errors.As:
//
//	var div *dynamo.DivergenceError
//	if errors.As(err, &div) {
//	    fmt.Println("diverged at step", div.Step)
//	}
package dynamo
