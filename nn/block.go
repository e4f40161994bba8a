package nn

// SignalPair is one tap point's (batch, channels) activation signal and the
// embedding-projected prediction signal it is scored against.
type SignalPair struct {
	Activation []float32
	Prediction []float32
	Batch      int
	Channels   int
}

// MonoBlock is a dual-path residual unit. The residual transformation is
// split into a first part (the strided 3x3 convolution) and a second part
// (BN -> ReLU -> 3x3 conv -> BN) so that two tap points exist: the first
// part's output and the pre-activation residual sum. Each tap derives a
// per-channel activation signal (spatial mean plus a learned bias) that is
// scored against a learned linear projection of the external embedding.
type MonoBlock struct {
	InChannels  int
	OutChannels int
	Stride      int
	EmbedDim    int

	InputHeight  int
	InputWidth   int
	OutputHeight int
	OutputWidth  int

	Conv1 *Conv2D
	BN1   *BatchNorm2D
	Conv2 *Conv2D
	BN2   *BatchNorm2D

	// Shortcut projection; nil means identity.
	ShortcutConv *Conv2D
	ShortcutBN   *BatchNorm2D

	TapBias1     []float32
	GradTapBias1 []float32
	Proj1        *Linear

	TapBias2     []float32
	GradTapBias2 []float32
	Proj2        *Linear

	Div *Divergence

	// forward caches
	batch  int
	step1  []float32
	bn1Out []float32
	preAct []float32
	act1   []float32
	pred1  []float32
	act2   []float32
	pred2  []float32
}

// NewMonoBlock builds a dual-path residual unit. The shortcut becomes a
// projected 1x1 convolution + BN whenever the stride or channel count
// changes; otherwise it is a strict identity.
func NewMonoBlock(inChannels, outChannels, stride, embedDim, inputHeight, inputWidth int) *MonoBlock {
	b := &MonoBlock{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Stride:      stride,
		EmbedDim:    embedDim,
		InputHeight: inputHeight,
		InputWidth:  inputWidth,

		Conv1: NewConv2D(inChannels, outChannels, 3, stride, 1, inputHeight, inputWidth),

		TapBias1:     make([]float32, outChannels),
		GradTapBias1: make([]float32, outChannels),
		Proj1:        NewLinear(embedDim, outChannels),

		TapBias2:     make([]float32, outChannels),
		GradTapBias2: make([]float32, outChannels),
		Proj2:        NewLinear(embedDim, outChannels),

		Div: NewDivergence(),
	}
	b.OutputHeight = b.Conv1.OutputHeight
	b.OutputWidth = b.Conv1.OutputWidth

	b.BN1 = NewBatchNorm2D(outChannels)
	b.Conv2 = NewConv2D(outChannels, outChannels, 3, 1, 1, b.OutputHeight, b.OutputWidth)
	b.BN2 = NewBatchNorm2D(outChannels)

	if stride != 1 || inChannels != outChannels {
		b.ShortcutConv = NewConv2D(inChannels, outChannels, 1, stride, 0, inputHeight, inputWidth)
		b.ShortcutBN = NewBatchNorm2D(outChannels)
	}
	return b
}

// Forward runs the residual transformation and the tap comparisons.
//
// With activations set it returns the block output and the raw signal pairs
// (inspection mode, no loss). Otherwise it returns the output and the
// summed symmetric divergence of both tap points. Both modes derive the
// signals identically.
func (blk *MonoBlock) Forward(x, embed []float32, batch int, train, activations bool) ([]float32, float32, []SignalPair) {
	blk.batch = batch
	outH, outW := blk.OutputHeight, blk.OutputWidth

	blk.step1 = blk.Conv1.Forward(x, batch)

	blk.bn1Out = blk.BN1.Forward(blk.step1, batch, outH, outW, train)
	relu1 := ReLUForward(blk.bn1Out)
	conv2Out := blk.Conv2.Forward(relu1, batch)
	bn2Out := blk.BN2.Forward(conv2Out, batch, outH, outW, train)

	var shortcut []float32
	if blk.ShortcutConv != nil {
		shortcut = blk.ShortcutBN.Forward(blk.ShortcutConv.Forward(x, batch), batch, outH, outW, train)
	} else {
		shortcut = x
	}

	blk.preAct = make([]float32, len(bn2Out))
	for i := range bn2Out {
		blk.preAct[i] = bn2Out[i] + shortcut[i]
	}
	fx := ReLUForward(blk.preAct)

	blk.act1 = blk.tapSignal(blk.step1, blk.TapBias1)
	blk.pred1 = blk.Proj1.Forward(embed, batch)
	blk.act2 = blk.tapSignal(blk.preAct, blk.TapBias2)
	blk.pred2 = blk.Proj2.Forward(embed, batch)

	if activations {
		pairs := []SignalPair{
			{Activation: blk.act1, Prediction: blk.pred1, Batch: batch, Channels: blk.OutChannels},
			{Activation: blk.act2, Prediction: blk.pred2, Batch: batch, Channels: blk.OutChannels},
		}
		return fx, 0, pairs
	}

	loss := blk.Div.Loss(blk.act1, blk.pred1, batch, blk.OutChannels) +
		blk.Div.Loss(blk.act2, blk.pred2, batch, blk.OutChannels)
	return fx, loss, nil
}

// tapSignal spatially averages a feature map and adds the tap bias.
func (blk *MonoBlock) tapSignal(fm, bias []float32) []float32 {
	signal := SpatialMean(fm, blk.batch, blk.OutChannels, blk.OutputHeight, blk.OutputWidth)
	for b := 0; b < blk.batch; b++ {
		for c := 0; c < blk.OutChannels; c++ {
			signal[b*blk.OutChannels+c] += bias[c]
		}
	}
	return signal
}

// Backward propagates the gradient of the block output and, when auxWeight
// is non-zero, injects the weighted gradients of the tap divergences at
// their tap points. Returns the gradient with respect to the block input.
func (blk *MonoBlock) Backward(gradOutput []float32, auxWeight float32) []float32 {
	batch, outH, outW := blk.batch, blk.OutputHeight, blk.OutputWidth

	gradPre := ReLUBackward(gradOutput, blk.preAct)

	var gradAct1 []float32
	if auxWeight != 0 {
		ga1, gp1 := blk.Div.Grads(blk.act1, blk.pred1, batch, blk.OutChannels)
		ga2, gp2 := blk.Div.Grads(blk.act2, blk.pred2, batch, blk.OutChannels)
		scale(ga1, auxWeight)
		scale(gp1, auxWeight)
		scale(ga2, auxWeight)
		scale(gp2, auxWeight)

		blk.accumulateTapBias(blk.GradTapBias1, ga1)
		blk.accumulateTapBias(blk.GradTapBias2, ga2)
		blk.Proj1.Backward(gp1)
		blk.Proj2.Backward(gp2)

		// Tap 2 reads the pre-activation sum directly.
		spreadSpatialGrad(gradPre, ga2, batch, blk.OutChannels, outH, outW)
		gradAct1 = ga1
	}

	var gradShortcut []float32
	if blk.ShortcutConv != nil {
		gradShortcut = blk.ShortcutConv.Backward(blk.ShortcutBN.Backward(gradPre))
	} else {
		gradShortcut = make([]float32, len(gradPre))
		copy(gradShortcut, gradPre)
	}

	g := blk.BN2.Backward(gradPre)
	g = blk.Conv2.Backward(g)
	g = ReLUBackward(g, blk.bn1Out)
	gradStep1 := blk.BN1.Backward(g)

	if gradAct1 != nil {
		spreadSpatialGrad(gradStep1, gradAct1, batch, blk.OutChannels, outH, outW)
	}

	gradInput := blk.Conv1.Backward(gradStep1)
	addInto(gradInput, gradShortcut)
	return gradInput
}

// accumulateTapBias reduces a (batch, channels) signal gradient into the
// per-channel tap bias gradient.
func (blk *MonoBlock) accumulateTapBias(dst, gradSignal []float32) {
	for b := 0; b < blk.batch; b++ {
		for c := 0; c < blk.OutChannels; c++ {
			dst[c] += gradSignal[b*blk.OutChannels+c]
		}
	}
}

// parameters appends the block's named parameters and buffers.
func (blk *MonoBlock) parameters(prefix string) []NamedParameter {
	params := []NamedParameter{
		{Name: prefix + ".conv1.kernel", Value: blk.Conv1.Kernel, Grad: blk.Conv1.GradKernel},
		{Name: prefix + ".tap1_bias", Value: blk.TapBias1, Grad: blk.GradTapBias1},
		{Name: prefix + ".proj1.weight", Value: blk.Proj1.Weights, Grad: blk.Proj1.GradWeights},
		{Name: prefix + ".proj1.bias", Value: blk.Proj1.Bias, Grad: blk.Proj1.GradBias},
		{Name: prefix + ".conv2.kernel", Value: blk.Conv2.Kernel, Grad: blk.Conv2.GradKernel},
		{Name: prefix + ".tap2_bias", Value: blk.TapBias2, Grad: blk.GradTapBias2},
		{Name: prefix + ".proj2.weight", Value: blk.Proj2.Weights, Grad: blk.Proj2.GradWeights},
		{Name: prefix + ".proj2.bias", Value: blk.Proj2.Bias, Grad: blk.Proj2.GradBias},
	}
	params = append(params, batchNormParameters(prefix+".bn1", blk.BN1)...)
	params = append(params, batchNormParameters(prefix+".bn2", blk.BN2)...)
	if blk.ShortcutConv != nil {
		params = append(params, NamedParameter{
			Name: prefix + ".shortcut.kernel", Value: blk.ShortcutConv.Kernel, Grad: blk.ShortcutConv.GradKernel,
		})
		params = append(params, batchNormParameters(prefix+".shortcut.bn", blk.ShortcutBN)...)
	}
	return params
}

// Block is the plain residual unit used by the classification-only network
// variant: conv -> BN -> ReLU -> conv -> BN plus shortcut, then ReLU.
type Block struct {
	InChannels  int
	OutChannels int
	Stride      int

	InputHeight  int
	InputWidth   int
	OutputHeight int
	OutputWidth  int

	Conv1 *Conv2D
	BN1   *BatchNorm2D
	Conv2 *Conv2D
	BN2   *BatchNorm2D

	ShortcutConv *Conv2D
	ShortcutBN   *BatchNorm2D

	batch  int
	bn1Out []float32
	preAct []float32
}

// NewBlock builds a plain residual unit.
func NewBlock(inChannels, outChannels, stride, inputHeight, inputWidth int) *Block {
	b := &Block{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Stride:      stride,
		InputHeight: inputHeight,
		InputWidth:  inputWidth,
		Conv1:       NewConv2D(inChannels, outChannels, 3, stride, 1, inputHeight, inputWidth),
	}
	b.OutputHeight = b.Conv1.OutputHeight
	b.OutputWidth = b.Conv1.OutputWidth
	b.BN1 = NewBatchNorm2D(outChannels)
	b.Conv2 = NewConv2D(outChannels, outChannels, 3, 1, 1, b.OutputHeight, b.OutputWidth)
	b.BN2 = NewBatchNorm2D(outChannels)
	if stride != 1 || inChannels != outChannels {
		b.ShortcutConv = NewConv2D(inChannels, outChannels, 1, stride, 0, inputHeight, inputWidth)
		b.ShortcutBN = NewBatchNorm2D(outChannels)
	}
	return b
}

// Forward runs the residual transformation.
func (blk *Block) Forward(x []float32, batch int, train bool) []float32 {
	blk.batch = batch
	outH, outW := blk.OutputHeight, blk.OutputWidth

	step1 := blk.Conv1.Forward(x, batch)
	blk.bn1Out = blk.BN1.Forward(step1, batch, outH, outW, train)
	relu1 := ReLUForward(blk.bn1Out)
	conv2Out := blk.Conv2.Forward(relu1, batch)
	bn2Out := blk.BN2.Forward(conv2Out, batch, outH, outW, train)

	var shortcut []float32
	if blk.ShortcutConv != nil {
		shortcut = blk.ShortcutBN.Forward(blk.ShortcutConv.Forward(x, batch), batch, outH, outW, train)
	} else {
		shortcut = x
	}

	blk.preAct = make([]float32, len(bn2Out))
	for i := range bn2Out {
		blk.preAct[i] = bn2Out[i] + shortcut[i]
	}
	return ReLUForward(blk.preAct)
}

// Backward returns the gradient with respect to the block input.
func (blk *Block) Backward(gradOutput []float32) []float32 {
	gradPre := ReLUBackward(gradOutput, blk.preAct)

	var gradShortcut []float32
	if blk.ShortcutConv != nil {
		gradShortcut = blk.ShortcutConv.Backward(blk.ShortcutBN.Backward(gradPre))
	} else {
		gradShortcut = make([]float32, len(gradPre))
		copy(gradShortcut, gradPre)
	}

	g := blk.BN2.Backward(gradPre)
	g = blk.Conv2.Backward(g)
	g = ReLUBackward(g, blk.bn1Out)
	g = blk.BN1.Backward(g)

	gradInput := blk.Conv1.Backward(g)
	addInto(gradInput, gradShortcut)
	return gradInput
}

// parameters appends the block's named parameters and buffers.
func (blk *Block) parameters(prefix string) []NamedParameter {
	params := []NamedParameter{
		{Name: prefix + ".conv1.kernel", Value: blk.Conv1.Kernel, Grad: blk.Conv1.GradKernel},
		{Name: prefix + ".conv2.kernel", Value: blk.Conv2.Kernel, Grad: blk.Conv2.GradKernel},
	}
	params = append(params, batchNormParameters(prefix+".bn1", blk.BN1)...)
	params = append(params, batchNormParameters(prefix+".bn2", blk.BN2)...)
	if blk.ShortcutConv != nil {
		params = append(params, NamedParameter{
			Name: prefix + ".shortcut.kernel", Value: blk.ShortcutConv.Kernel, Grad: blk.ShortcutConv.GradKernel,
		})
		params = append(params, batchNormParameters(prefix+".shortcut.bn", blk.ShortcutBN)...)
	}
	return params
}

// batchNormParameters names a BatchNorm2D's parameters and running buffers.
// Buffers carry a nil Grad and are skipped by the optimizer but included in
// checkpoints.
func batchNormParameters(prefix string, bn *BatchNorm2D) []NamedParameter {
	return []NamedParameter{
		{Name: prefix + ".gamma", Value: bn.Gamma, Grad: bn.GradGamma},
		{Name: prefix + ".beta", Value: bn.Beta, Grad: bn.GradBeta},
		{Name: prefix + ".running_mean", Value: bn.RunningMean},
		{Name: prefix + ".running_var", Value: bn.RunningVar},
	}
}

// scale multiplies a gradient buffer in place.
func scale(v []float32, s float32) {
	for i := range v {
		v[i] *= s
	}
}
