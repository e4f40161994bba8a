package nn

import "math"

// Sigmoid computes 1 / (1 + exp(-v)).
func Sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(v))))
}

// LogSigmoid computes log(sigmoid(v)) in a numerically stable form.
func LogSigmoid(v float32) float32 {
	// log(sigmoid(v)) = min(v, 0) - log(1 + exp(-|v|))
	x := float64(v)
	m := math.Min(x, 0)
	return float32(m - math.Log1p(math.Exp(-math.Abs(x))))
}

// ReLUForward applies max(0, v) element-wise into a new slice.
func ReLUForward(x []float32) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// ReLUBackward gates gradOutput by the sign of the cached pre-activation.
func ReLUBackward(gradOutput, preAct []float32) []float32 {
	grad := make([]float32, len(gradOutput))
	for i := range gradOutput {
		if preAct[i] > 0 {
			grad[i] = gradOutput[i]
		}
	}
	return grad
}
