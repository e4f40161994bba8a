package nn

// Linear is a fully-connected layer used for the embedding projectors and
// the classifier head.
//
// Weight layout: [inFeatures][outFeatures], flattened row-major.
type Linear struct {
	InFeatures  int
	OutFeatures int

	Weights []float32
	Bias    []float32

	GradWeights []float32
	GradBias    []float32

	input []float32 // cached forward input
	batch int
}

// NewLinear initializes a dense layer with He-initialized weights and zero
// bias.
func NewLinear(inFeatures, outFeatures int) *Linear {
	return &Linear{
		InFeatures:  inFeatures,
		OutFeatures: outFeatures,
		Weights:     HeInit(inFeatures*outFeatures, inFeatures),
		Bias:        make([]float32, outFeatures),
		GradWeights: make([]float32, inFeatures*outFeatures),
		GradBias:    make([]float32, outFeatures),
	}
}

// Forward computes input @ weights + bias for a (batch, inFeatures) input.
func (l *Linear) Forward(input []float32, batch int) []float32 {
	l.input = input
	l.batch = batch

	output := make([]float32, batch*l.OutFeatures)
	for b := 0; b < batch; b++ {
		for o := 0; o < l.OutFeatures; o++ {
			sum := l.Bias[o]
			for i := 0; i < l.InFeatures; i++ {
				sum += input[b*l.InFeatures+i] * l.Weights[i*l.OutFeatures+o]
			}
			output[b*l.OutFeatures+o] = sum
		}
	}
	return output
}

// Backward accumulates weight/bias gradients and returns the gradient with
// respect to the cached input.
func (l *Linear) Backward(gradOutput []float32) []float32 {
	gradInput := make([]float32, l.batch*l.InFeatures)

	for b := 0; b < l.batch; b++ {
		for o := 0; o < l.OutFeatures; o++ {
			grad := gradOutput[b*l.OutFeatures+o]
			l.GradBias[o] += grad
			for i := 0; i < l.InFeatures; i++ {
				l.GradWeights[i*l.OutFeatures+o] += l.input[b*l.InFeatures+i] * grad
				gradInput[b*l.InFeatures+i] += l.Weights[i*l.OutFeatures+o] * grad
			}
		}
	}
	return gradInput
}
