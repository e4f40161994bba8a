package nn

import "math"

// BatchNorm2D normalizes an NCHW feature map per channel over the batch and
// spatial dimensions. Training mode uses the current batch statistics and
// maintains running estimates for evaluation mode.
type BatchNorm2D struct {
	Channels int

	Gamma       []float32
	Beta        []float32
	RunningMean []float32
	RunningVar  []float32

	GradGamma []float32
	GradBeta  []float32

	Epsilon  float32
	Momentum float32

	// forward caches
	input    []float32
	mean     []float64
	invStd   []float64
	batch    int
	height   int
	width    int
	training bool
}

// NewBatchNorm2D creates a batch normalization layer with unit scale and
// zero shift.
func NewBatchNorm2D(channels int) *BatchNorm2D {
	gamma := make([]float32, channels)
	runningVar := make([]float32, channels)
	for i := range gamma {
		gamma[i] = 1
		runningVar[i] = 1
	}
	return &BatchNorm2D{
		Channels:    channels,
		Gamma:       gamma,
		Beta:        make([]float32, channels),
		RunningMean: make([]float32, channels),
		RunningVar:  runningVar,
		GradGamma:   make([]float32, channels),
		GradBeta:    make([]float32, channels),
		Epsilon:     1e-5,
		Momentum:    0.1,
	}
}

// Forward normalizes the input. With train set, batch statistics are used
// and the running estimates advance; otherwise the running estimates apply.
func (bn *BatchNorm2D) Forward(input []float32, batch, height, width int, train bool) []float32 {
	plane := height * width
	n := batch * plane

	bn.input = input
	bn.batch = batch
	bn.height = height
	bn.width = width
	bn.training = train
	bn.mean = make([]float64, bn.Channels)
	bn.invStd = make([]float64, bn.Channels)

	output := make([]float32, len(input))

	for c := 0; c < bn.Channels; c++ {
		var mean, variance float64

		if train {
			var sum float64
			for b := 0; b < batch; b++ {
				base := b*bn.Channels*plane + c*plane
				for i := 0; i < plane; i++ {
					sum += float64(input[base+i])
				}
			}
			mean = sum / float64(n)

			for b := 0; b < batch; b++ {
				base := b*bn.Channels*plane + c*plane
				for i := 0; i < plane; i++ {
					diff := float64(input[base+i]) - mean
					variance += diff * diff
				}
			}
			variance /= float64(n)

			// Running estimates use the unbiased variance.
			unbiased := variance
			if n > 1 {
				unbiased = variance * float64(n) / float64(n-1)
			}
			m := float64(bn.Momentum)
			bn.RunningMean[c] = float32((1-m)*float64(bn.RunningMean[c]) + m*mean)
			bn.RunningVar[c] = float32((1-m)*float64(bn.RunningVar[c]) + m*unbiased)
		} else {
			mean = float64(bn.RunningMean[c])
			variance = float64(bn.RunningVar[c])
		}

		invStd := 1.0 / math.Sqrt(variance+float64(bn.Epsilon))
		bn.mean[c] = mean
		bn.invStd[c] = invStd

		g := float64(bn.Gamma[c])
		bt := float64(bn.Beta[c])
		for b := 0; b < batch; b++ {
			base := b*bn.Channels*plane + c*plane
			for i := 0; i < plane; i++ {
				xhat := (float64(input[base+i]) - mean) * invStd
				output[base+i] = float32(xhat*g + bt)
			}
		}
	}

	return output
}

// Backward accumulates gamma/beta gradients and returns the gradient with
// respect to the forward input.
//
// Training mode backpropagates through the batch statistics:
//
//	dx_i = invStd * (dxhat_i - mean(dxhat) - xhat_i * mean(dxhat * xhat))
//
// Evaluation mode treats the running statistics as constants.
func (bn *BatchNorm2D) Backward(gradOutput []float32) []float32 {
	plane := bn.height * bn.width
	n := bn.batch * plane

	gradInput := make([]float32, len(gradOutput))

	for c := 0; c < bn.Channels; c++ {
		mean := bn.mean[c]
		invStd := bn.invStd[c]
		g := float64(bn.Gamma[c])

		var sumDxhat, sumDxhatXhat float64
		for b := 0; b < bn.batch; b++ {
			base := b*bn.Channels*plane + c*plane
			for i := 0; i < plane; i++ {
				dy := float64(gradOutput[base+i])
				xhat := (float64(bn.input[base+i]) - mean) * invStd

				bn.GradBeta[c] += float32(dy)
				bn.GradGamma[c] += float32(dy * xhat)

				dxhat := dy * g
				sumDxhat += dxhat
				sumDxhatXhat += dxhat * xhat
			}
		}

		if !bn.training {
			// Constant statistics: dx = gamma * invStd * dy.
			for b := 0; b < bn.batch; b++ {
				base := b*bn.Channels*plane + c*plane
				for i := 0; i < plane; i++ {
					gradInput[base+i] = float32(float64(gradOutput[base+i]) * g * invStd)
				}
			}
			continue
		}

		meanDxhat := sumDxhat / float64(n)
		meanDxhatXhat := sumDxhatXhat / float64(n)

		for b := 0; b < bn.batch; b++ {
			base := b*bn.Channels*plane + c*plane
			for i := 0; i < plane; i++ {
				dy := float64(gradOutput[base+i])
				xhat := (float64(bn.input[base+i]) - mean) * invStd
				dxhat := dy * g
				gradInput[base+i] = float32(invStd * (dxhat - meanDxhat - xhat*meanDxhatXhat))
			}
		}
	}

	return gradInput
}
