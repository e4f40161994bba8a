package nn

// Conv2D is a bias-free 2D convolution layer. The residual blocks pair every
// convolution with a batch normalization, so the affine shift lives there.
//
// Kernel layout: [filters][inChannels][kernelH][kernelW], flattened.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int

	InputHeight  int
	InputWidth   int
	OutputHeight int
	OutputWidth  int

	Kernel     []float32
	GradKernel []float32

	input []float32 // cached forward input
	batch int
}

// NewConv2D initializes a convolution with He-initialized weights.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding, inputHeight, inputWidth int) *Conv2D {
	total := outChannels * inChannels * kernelSize * kernelSize
	return &Conv2D{
		InChannels:   inChannels,
		OutChannels:  outChannels,
		KernelSize:   kernelSize,
		Stride:       stride,
		Padding:      padding,
		InputHeight:  inputHeight,
		InputWidth:   inputWidth,
		OutputHeight: convOutputSize(inputHeight, kernelSize, stride, padding),
		OutputWidth:  convOutputSize(inputWidth, kernelSize, stride, padding),
		Kernel:       HeInit(total, inChannels*kernelSize*kernelSize),
		GradKernel:   make([]float32, total),
	}
}

// Forward convolves an NCHW input and caches it for the backward pass.
func (c *Conv2D) Forward(input []float32, batch int) []float32 {
	c.input = input
	c.batch = batch

	inH, inW, inC := c.InputHeight, c.InputWidth, c.InChannels
	outH, outW := c.OutputHeight, c.OutputWidth
	kSize, stride, padding := c.KernelSize, c.Stride, c.Padding

	output := make([]float32, batch*c.OutChannels*outH*outW)

	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := float32(0)
					for ic := 0; ic < inC; ic++ {
						for kh := 0; kh < kSize; kh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < kSize; kw++ {
								iw := ow*stride + kw - padding
								if iw < 0 || iw >= inW {
									continue
								}
								inputIdx := b*inC*inH*inW + ic*inH*inW + ih*inW + iw
								kernelIdx := f*inC*kSize*kSize + ic*kSize*kSize + kh*kSize + kw
								sum += input[inputIdx] * c.Kernel[kernelIdx]
							}
						}
					}
					output[b*c.OutChannels*outH*outW+f*outH*outW+oh*outW+ow] = sum
				}
			}
		}
	}

	return output
}

// Backward accumulates the kernel gradient and returns the gradient with
// respect to the cached input.
func (c *Conv2D) Backward(gradOutput []float32) []float32 {
	inH, inW, inC := c.InputHeight, c.InputWidth, c.InChannels
	outH, outW := c.OutputHeight, c.OutputWidth
	kSize, stride, padding := c.KernelSize, c.Stride, c.Padding

	gradInput := make([]float32, c.batch*inC*inH*inW)

	for b := 0; b < c.batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					gradOut := gradOutput[b*c.OutChannels*outH*outW+f*outH*outW+oh*outW+ow]
					if gradOut == 0 {
						continue
					}
					for ic := 0; ic < inC; ic++ {
						for kh := 0; kh < kSize; kh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < kSize; kw++ {
								iw := ow*stride + kw - padding
								if iw < 0 || iw >= inW {
									continue
								}
								inputIdx := b*inC*inH*inW + ic*inH*inW + ih*inW + iw
								kernelIdx := f*inC*kSize*kSize + ic*kSize*kSize + kh*kSize + kw

								gradInput[inputIdx] += gradOut * c.Kernel[kernelIdx]
								c.GradKernel[kernelIdx] += gradOut * c.input[inputIdx]
							}
						}
					}
				}
			}
		}
	}

	return gradInput
}
