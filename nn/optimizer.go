package nn

// SGD updates named parameters with momentum and L2 weight decay:
//
//	g = grad + weightDecay * w
//	v = momentum * v + g
//	w = w - lr * v
//
// Momentum buffers are keyed by parameter name and created lazily.
// Parameters with a nil gradient (running buffers) are skipped.
type SGD struct {
	Momentum    float32
	WeightDecay float32

	velocities map[string][]float32
}

// NewSGD creates an SGD optimizer.
func NewSGD(momentum, weightDecay float32) *SGD {
	return &SGD{
		Momentum:    momentum,
		WeightDecay: weightDecay,
		velocities:  make(map[string][]float32),
	}
}

// Step applies one update to every optimizable parameter.
func (opt *SGD) Step(params []NamedParameter, learningRate float32) {
	for _, p := range params {
		if p.Grad == nil {
			continue
		}

		if opt.Momentum == 0 {
			for j := range p.Value {
				g := p.Grad[j] + opt.WeightDecay*p.Value[j]
				p.Value[j] -= learningRate * g
			}
			continue
		}

		v := opt.velocities[p.Name]
		if v == nil {
			v = make([]float32, len(p.Value))
			opt.velocities[p.Name] = v
		}
		for j := range p.Value {
			g := p.Grad[j] + opt.WeightDecay*p.Value[j]
			v[j] = opt.Momentum*v[j] + g
			p.Value[j] -= learningRate * v[j]
		}
	}
}

// Reset clears the momentum buffers.
func (opt *SGD) Reset() {
	opt.velocities = make(map[string][]float32)
}

// Name returns the optimizer name.
func (opt *SGD) Name() string {
	if opt.Momentum > 0 {
		return "SGD (momentum)"
	}
	return "SGD"
}
