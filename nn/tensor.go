package nn

import (
	"math"
	"math/rand"
)

// HeInit returns n weights drawn from N(0, sqrt(2/fanIn)).
func HeInit(n, fanIn int) []float32 {
	stddev := float32(math.Sqrt(2.0 / float64(fanIn)))
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(rand.NormFloat64()) * stddev
	}
	return w
}

// SpatialMean averages an NCHW feature map over its spatial extent,
// producing a (batch, channels) signal.
func SpatialMean(x []float32, batch, channels, height, width int) []float32 {
	plane := height * width
	out := make([]float32, batch*channels)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			base := b*channels*plane + c*plane
			sum := float64(0)
			for i := 0; i < plane; i++ {
				sum += float64(x[base+i])
			}
			out[b*channels+c] = float32(sum / float64(plane))
		}
	}
	return out
}

// spreadSpatialGrad distributes a (batch, channels) gradient uniformly back
// over the spatial extent it was averaged from, accumulating into dst.
func spreadSpatialGrad(dst, grad []float32, batch, channels, height, width int) {
	plane := height * width
	inv := 1.0 / float32(plane)
	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			g := grad[b*channels+c] * inv
			base := b*channels*plane + c*plane
			for i := 0; i < plane; i++ {
				dst[base+i] += g
			}
		}
	}
}

// zeroSlice resets a gradient buffer in place.
func zeroSlice(v []float32) {
	for i := range v {
		v[i] = 0
	}
}

// addInto accumulates src into dst element-wise.
func addInto(dst, src []float32) {
	for i := range src {
		dst[i] += src[i]
	}
}

// convOutputSize computes one spatial output dimension of a convolution.
func convOutputSize(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}
