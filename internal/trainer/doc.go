// Package trainer couples the differentiable cart-pole to a policy network.
//
// Each iteration resets the simulator and runs the episode as a sequence of
// short unrolled blocks. A block is its own gorgonia graph: the policy picks
// an action from the current symbolic state, the physics graph advances it,
// and after the last step the failure-margin loss is differentiated back
// through every step to the policy parameters. One Adam step is applied per
// block, and the machine is closed before the next block is built.
//
// Between blocks the trainer hands a Snapshot to an optional observer and
// checks for a stop request. Session wraps the loop with configuration
// checks, resume from a saved policy, persistence after every iteration and
// progress metrics.
package trainer
