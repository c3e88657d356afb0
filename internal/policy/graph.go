package policy

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Bound holds graph nodes initialised with a copy of a policy's parameters.
// Gradients and optimizer updates land on the copy; Commit publishes them.
type Bound struct {
	nodes G.Nodes
}

// Bind adds the policy's parameters to g as learnable nodes.
func (p *Policy) Bind(g *G.ExprGraph) *Bound {
	b := &Bound{nodes: make(G.Nodes, 0, len(p.params))}
	for _, pr := range p.params {
		v := pr.Value.Clone().(*tensor.Dense)
		opts := []G.NodeConsOpt{G.WithShape(v.Shape()...), G.WithName(pr.Name), G.WithValue(v)}
		var n *G.Node
		if v.Dims() == 2 {
			n = G.NewMatrix(g, tensor.Float64, opts...)
		} else {
			n = G.NewVector(g, tensor.Float64, opts...)
		}
		b.nodes = append(b.nodes, n)
	}
	return b
}

// Nodes returns the learnable nodes in Params order.
func (b *Bound) Nodes() G.Nodes {
	return b.nodes
}

// Forward emits the network applied to four scalar state nodes and returns
// the scalar action node.
func (b *Bound) Forward(state []*G.Node) *G.Node {
	w0, b0 := b.nodes[0], b.nodes[1]

	// the state arrives as separate scalars, so the first layer is
	// accumulated row by row: b0 + sum_i s_i * w0[i,:]
	h := b0
	for i, s := range state {
		row := G.Must(G.Slice(w0, G.S(i)))
		h = G.Must(G.Add(h, G.Must(G.Mul(s, row))))
	}
	h = G.Must(G.Rectify(h))

	last := len(Sizes) - 2
	for l := 1; l <= last; l++ {
		z := G.Must(G.Add(G.Must(G.Mul(h, b.nodes[2*l])), b.nodes[2*l+1]))
		if l < last {
			z = G.Must(G.Rectify(z))
		}
		h = z
	}
	return G.Must(G.Tanh(G.Must(G.Sum(h))))
}

// Commit copies the node values, typically just updated by a solver step,
// back into p.
func (b *Bound) Commit(p *Policy) error {
	if len(b.nodes) != len(p.params) {
		return fmt.Errorf("policy: bound %d nodes, policy has %d parameters", len(b.nodes), len(p.params))
	}
	for i, n := range b.nodes {
		src, ok := n.Value().Data().([]float64)
		if !ok {
			return fmt.Errorf("policy: node %s holds %T", n.Name(), n.Value().Data())
		}
		dst := p.data(i)
		if len(src) != len(dst) {
			return fmt.Errorf("policy: node %s has %d values, want %d", n.Name(), len(src), len(dst))
		}
		copy(dst, src)
	}
	return nil
}
