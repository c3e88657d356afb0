// Package policy implements the feed-forward control policy, a 4-24-48-1
// network with ReLU hidden layers and a tanh output, so every prediction is
// a valid normalized force.
//
// The network has two forward paths over the same parameters: [Policy.Predict]
// evaluates it with gonum matrices for plain inference, and [Bound.Forward]
// emits it into a gorgonia graph so the trainer can differentiate through it.
package policy
