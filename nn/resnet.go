package nn

import "fmt"

// NamedParameter exposes one parameter tensor for the optimizer, the
// checkpoint store and diagnostics. Buffers that are persisted but not
// optimized (batch-norm running statistics) carry a nil Grad.
type NamedParameter struct {
	Name  string
	Value []float32
	Grad  []float32
}

// stageWidths are the channel counts of the four residual stages.
var stageWidths = [4]int{64, 128, 256, 512}

// stageStrides are the strides of the first block of each stage. The input
// resolution is small, so the first stage keeps stride 1.
var stageStrides = [4]int{1, 2, 2, 2}

// blockPlan describes one residual block of the staged layout.
type blockPlan struct {
	stage       int
	inChannels  int
	outChannels int
	stride      int
	inH, inW    int
}

// planStages lays out the blocks of all four stages for the given depths
// and input resolution. Both network variants build from the same plan.
func planStages(depths [4]int, inputHeight, inputWidth int) []blockPlan {
	var plans []blockPlan
	inC := stageWidths[0]
	h, w := inputHeight, inputWidth
	for stage := 0; stage < 4; stage++ {
		outC := stageWidths[stage]
		for b := 0; b < depths[stage]; b++ {
			stride := 1
			if b == 0 {
				stride = stageStrides[stage]
			}
			plans = append(plans, blockPlan{
				stage:       stage,
				inChannels:  inC,
				outChannels: outC,
				stride:      stride,
				inH:         h,
				inW:         w,
			})
			h = convOutputSize(h, 3, stride, 1)
			w = convOutputSize(w, 3, stride, 1)
			inC = outC
		}
	}
	return plans
}

// MonoResNet is the embedding-augmented classifier variant:
// Forward(images, embeddings, activations) -> (logits, aux loss or signals).
type MonoResNet struct {
	NumClasses  int
	EmbedDim    int
	InputHeight int
	InputWidth  int

	StemConv *Conv2D
	StemBN   *BatchNorm2D

	Stages [4]*MonoSequential
	Head   *Linear

	// forward caches
	batch     int
	stemBNOut []float32
	lastH     int
	lastW     int
}

// NewMonoResNet assembles a MonoResNet from per-stage depths.
func NewMonoResNet(depths [4]int, numClasses, embedDim, inputHeight, inputWidth int) *MonoResNet {
	n := &MonoResNet{
		NumClasses:  numClasses,
		EmbedDim:    embedDim,
		InputHeight: inputHeight,
		InputWidth:  inputWidth,
		StemConv:    NewConv2D(3, stageWidths[0], 3, 1, 1, inputHeight, inputWidth),
		StemBN:      NewBatchNorm2D(stageWidths[0]),
	}
	for i := range n.Stages {
		n.Stages[i] = &MonoSequential{}
	}
	for _, p := range planStages(depths, inputHeight, inputWidth) {
		blk := NewMonoBlock(p.inChannels, p.outChannels, p.stride, embedDim, p.inH, p.inW)
		n.Stages[p.stage].Blocks = append(n.Stages[p.stage].Blocks, blk)
		n.lastH = blk.OutputHeight
		n.lastW = blk.OutputWidth
	}
	n.Head = NewLinear(stageWidths[3], numClasses)
	return n
}

// MonoResNet18 returns the [2,2,2,2] depth variant.
func MonoResNet18(numClasses, embedDim, inputHeight, inputWidth int) *MonoResNet {
	return NewMonoResNet([4]int{2, 2, 2, 2}, numClasses, embedDim, inputHeight, inputWidth)
}

// MonoResNet34 returns the [3,4,6,3] depth variant.
func MonoResNet34(numClasses, embedDim, inputHeight, inputWidth int) *MonoResNet {
	return NewMonoResNet([4]int{3, 4, 6, 3}, numClasses, embedDim, inputHeight, inputWidth)
}

// Forward runs the stem, the four stages, global average pooling and the
// classifier head. The total auxiliary loss sums the per-stage
// contributions; inspection mode collects the flattened signal pairs of all
// blocks instead.
func (n *MonoResNet) Forward(images, embeddings []float32, batch int, train, activations bool) ([]float32, float32, []SignalPair, error) {
	if len(images) != batch*3*n.InputHeight*n.InputWidth {
		return nil, 0, nil, fmt.Errorf("image batch size %d does not match %dx3x%dx%d",
			len(images), batch, n.InputHeight, n.InputWidth)
	}
	if len(embeddings) != batch*n.EmbedDim {
		return nil, 0, nil, fmt.Errorf("embedding batch size %d does not match %dx%d",
			len(embeddings), batch, n.EmbedDim)
	}
	n.batch = batch

	n.stemBNOut = n.StemBN.Forward(n.StemConv.Forward(images, batch), batch, n.InputHeight, n.InputWidth, train)
	out := ReLUForward(n.stemBNOut)

	aux := float32(0.0)
	var pairs []SignalPair
	for _, stage := range n.Stages {
		var stageLoss float32
		var stagePairs []SignalPair
		out, stageLoss, stagePairs = stage.Forward(out, embeddings, batch, train, activations)
		if activations {
			pairs = append(pairs, stagePairs...)
		} else {
			aux += stageLoss
		}
	}

	pooled := SpatialMean(out, batch, stageWidths[3], n.lastH, n.lastW)
	logits := n.Head.Forward(pooled, batch)
	return logits, aux, pairs, nil
}

// Backward propagates the classifier gradient and injects the auxiliary
// divergence gradients, scaled by auxWeight, at every tap point.
func (n *MonoResNet) Backward(gradLogits []float32, auxWeight float32) {
	gradPooled := n.Head.Backward(gradLogits)

	gradMap := make([]float32, n.batch*stageWidths[3]*n.lastH*n.lastW)
	spreadSpatialGrad(gradMap, gradPooled, n.batch, stageWidths[3], n.lastH, n.lastW)

	for i := len(n.Stages) - 1; i >= 0; i-- {
		gradMap = n.Stages[i].Backward(gradMap, auxWeight)
	}

	g := ReLUBackward(gradMap, n.stemBNOut)
	g = n.StemBN.Backward(g)
	n.StemConv.Backward(g)
}

// Parameters returns every named parameter and buffer of the network.
func (n *MonoResNet) Parameters() []NamedParameter {
	params := []NamedParameter{
		{Name: "stem.conv.kernel", Value: n.StemConv.Kernel, Grad: n.StemConv.GradKernel},
	}
	params = append(params, batchNormParameters("stem.bn", n.StemBN)...)
	for i, stage := range n.Stages {
		params = append(params, stage.parameters(fmt.Sprintf("stage%d", i+1))...)
	}
	params = append(params,
		NamedParameter{Name: "head.weight", Value: n.Head.Weights, Grad: n.Head.GradWeights},
		NamedParameter{Name: "head.bias", Value: n.Head.Bias, Grad: n.Head.GradBias},
	)
	return params
}

// ZeroGrad clears all gradient buffers before a training step.
func (n *MonoResNet) ZeroGrad() {
	for _, p := range n.Parameters() {
		if p.Grad != nil {
			zeroSlice(p.Grad)
		}
	}
}

// ResNet is the classification-only variant: Forward(images) -> logits.
type ResNet struct {
	NumClasses  int
	InputHeight int
	InputWidth  int

	StemConv *Conv2D
	StemBN   *BatchNorm2D

	Stages [4]*Sequential
	Head   *Linear

	batch     int
	stemBNOut []float32
	lastH     int
	lastW     int
}

// NewResNet assembles a plain ResNet from per-stage depths.
func NewResNet(depths [4]int, numClasses, inputHeight, inputWidth int) *ResNet {
	n := &ResNet{
		NumClasses:  numClasses,
		InputHeight: inputHeight,
		InputWidth:  inputWidth,
		StemConv:    NewConv2D(3, stageWidths[0], 3, 1, 1, inputHeight, inputWidth),
		StemBN:      NewBatchNorm2D(stageWidths[0]),
	}
	for i := range n.Stages {
		n.Stages[i] = &Sequential{}
	}
	for _, p := range planStages(depths, inputHeight, inputWidth) {
		blk := NewBlock(p.inChannels, p.outChannels, p.stride, p.inH, p.inW)
		n.Stages[p.stage].Blocks = append(n.Stages[p.stage].Blocks, blk)
		n.lastH = blk.OutputHeight
		n.lastW = blk.OutputWidth
	}
	n.Head = NewLinear(stageWidths[3], numClasses)
	return n
}

// ResNet18 returns the [2,2,2,2] depth variant.
func ResNet18(numClasses, inputHeight, inputWidth int) *ResNet {
	return NewResNet([4]int{2, 2, 2, 2}, numClasses, inputHeight, inputWidth)
}

// ResNet34 returns the [3,4,6,3] depth variant.
func ResNet34(numClasses, inputHeight, inputWidth int) *ResNet {
	return NewResNet([4]int{3, 4, 6, 3}, numClasses, inputHeight, inputWidth)
}

// Forward produces class logits for an image batch.
func (n *ResNet) Forward(images []float32, batch int, train bool) ([]float32, error) {
	if len(images) != batch*3*n.InputHeight*n.InputWidth {
		return nil, fmt.Errorf("image batch size %d does not match %dx3x%dx%d",
			len(images), batch, n.InputHeight, n.InputWidth)
	}
	n.batch = batch

	n.stemBNOut = n.StemBN.Forward(n.StemConv.Forward(images, batch), batch, n.InputHeight, n.InputWidth, train)
	out := ReLUForward(n.stemBNOut)

	for _, stage := range n.Stages {
		out = stage.Forward(out, batch, train)
	}

	pooled := SpatialMean(out, batch, stageWidths[3], n.lastH, n.lastW)
	return n.Head.Forward(pooled, batch), nil
}

// Backward propagates the classifier gradient through the network.
func (n *ResNet) Backward(gradLogits []float32) {
	gradPooled := n.Head.Backward(gradLogits)

	gradMap := make([]float32, n.batch*stageWidths[3]*n.lastH*n.lastW)
	spreadSpatialGrad(gradMap, gradPooled, n.batch, stageWidths[3], n.lastH, n.lastW)

	for i := len(n.Stages) - 1; i >= 0; i-- {
		gradMap = n.Stages[i].Backward(gradMap)
	}

	g := ReLUBackward(gradMap, n.stemBNOut)
	g = n.StemBN.Backward(g)
	n.StemConv.Backward(g)
}

// Parameters returns every named parameter and buffer of the network.
func (n *ResNet) Parameters() []NamedParameter {
	params := []NamedParameter{
		{Name: "stem.conv.kernel", Value: n.StemConv.Kernel, Grad: n.StemConv.GradKernel},
	}
	params = append(params, batchNormParameters("stem.bn", n.StemBN)...)
	for i, stage := range n.Stages {
		params = append(params, stage.parameters(fmt.Sprintf("stage%d", i+1))...)
	}
	params = append(params,
		NamedParameter{Name: "head.weight", Value: n.Head.Weights, Grad: n.Head.GradWeights},
		NamedParameter{Name: "head.bias", Value: n.Head.Bias, Grad: n.Head.GradBias},
	)
	return params
}

// ZeroGrad clears all gradient buffers before a training step.
func (n *ResNet) ZeroGrad() {
	for _, p := range n.Parameters() {
		if p.Grad != nil {
			zeroSlice(p.Grad)
		}
	}
}
