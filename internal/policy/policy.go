package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/san-kum/diffpole/internal/dynamo"
)

// Layer widths of the network, input first.
var Sizes = []int{4, 24, 48, 1}

// Param is one named, shaped parameter tensor.
type Param struct {
	Name  string
	Value *tensor.Dense
}

// Policy maps a cart-pole state to a normalized force in [-1, 1] through
// two ReLU hidden layers and a tanh output. Parameters are its only state.
type Policy struct {
	params []Param
}

type layout struct {
	name  string
	shape tensor.Shape
}

func layouts() []layout {
	out := make([]layout, 0, 2*(len(Sizes)-1))
	for l := 0; l < len(Sizes)-1; l++ {
		out = append(out,
			layout{fmt.Sprintf("w%d", l), tensor.Shape{Sizes[l], Sizes[l+1]}},
			layout{fmt.Sprintf("b%d", l), tensor.Shape{Sizes[l+1]}},
		)
	}
	return out
}

// New builds a randomly initialised policy: Glorot-uniform weights drawn
// from rng and zero biases.
func New(rng *rand.Rand) *Policy {
	p := &Policy{}
	for _, s := range layouts() {
		data := make([]float64, s.shape.TotalSize())
		if len(s.shape) == 2 {
			limit := math.Sqrt(6.0 / float64(s.shape[0]+s.shape[1]))
			for i := range data {
				data[i] = (rng.Float64()*2 - 1) * limit
			}
		}
		p.params = append(p.params, Param{
			Name:  s.name,
			Value: tensor.New(tensor.WithShape(s.shape...), tensor.WithBacking(data)),
		})
	}
	return p
}

// FromParams restores a policy from a persisted parameter set. Values are
// copied; the caller keeps ownership of params.
func FromParams(params []Param) (*Policy, error) {
	shapes := layouts()
	if len(params) != len(shapes) {
		return nil, fmt.Errorf("policy: expected %d parameters, got %d", len(shapes), len(params))
	}
	p := &Policy{params: make([]Param, len(params))}
	for i, s := range shapes {
		in := params[i]
		if in.Name != s.name {
			return nil, fmt.Errorf("policy: parameter %d is %q, want %q", i, in.Name, s.name)
		}
		if in.Value == nil || !in.Value.Shape().Eq(s.shape) {
			return nil, fmt.Errorf("policy: parameter %s has wrong shape, want %v", s.name, s.shape)
		}
		src, ok := in.Value.Data().([]float64)
		if !ok {
			return nil, fmt.Errorf("policy: parameter %s is not float64", s.name)
		}
		data := make([]float64, len(src))
		copy(data, src)
		p.params[i] = Param{Name: s.name, Value: tensor.New(tensor.WithShape(s.shape...), tensor.WithBacking(data))}
	}
	return p, nil
}

// Params returns the live parameters in a fixed order: w0 b0 w1 b1 w2 b2.
// Only the trainer's optimizer step writes to them.
func (p *Policy) Params() []Param {
	return p.params
}

// NumParams is the total count of learnable scalars.
func (p *Policy) NumParams() int {
	n := 0
	for _, pr := range p.params {
		n += pr.Value.Shape().TotalSize()
	}
	return n
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	c, err := FromParams(p.params)
	if err != nil {
		panic(err)
	}
	return c
}

// Restore overwrites the parameters with those of other, which must have
// been produced by this package.
func (p *Policy) Restore(other *Policy) {
	for i := range p.params {
		copy(p.data(i), other.data(i))
	}
}

func (p *Policy) data(i int) []float64 {
	return p.params[i].Value.Data().([]float64)
}

// Predict runs the network on a 4-component state. Any other length is a
// programming error and panics, as gonum does on a shape mismatch.
func (p *Policy) Predict(x dynamo.State) float64 {
	if len(x) != Sizes[0] {
		panic(fmt.Sprintf("policy: Predict needs %d state components, got %d", Sizes[0], len(x)))
	}
	act := mat.NewDense(1, Sizes[0], []float64{x[0], x[1], x[2], x[3]})
	last := len(Sizes) - 2
	for l := 0; l <= last; l++ {
		w := mat.NewDense(Sizes[l], Sizes[l+1], p.data(2*l))
		bias := p.data(2*l + 1)

		var next mat.Dense
		next.Mul(act, w)
		row := next.RawRowView(0)
		for j := range row {
			row[j] += bias[j]
			if l < last && row[j] < 0 {
				row[j] = 0
			}
		}
		act = &next
	}
	return math.Tanh(act.At(0, 0))
}
