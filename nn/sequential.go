package nn

import "strconv"

// MonoSequential chains MonoBlocks, threading the evolving feature map
// forward while broadcasting the same embedding to every unit. Auxiliary
// losses sum across the chain (starting at exactly 0.0); in inspection mode
// the per-unit signal pairs concatenate in block order instead.
type MonoSequential struct {
	Blocks []*MonoBlock
}

// Forward applies every block in order.
func (s *MonoSequential) Forward(x, embed []float32, batch int, train, activations bool) ([]float32, float32, []SignalPair) {
	out := x
	loss := float32(0.0)
	var pairs []SignalPair
	for _, blk := range s.Blocks {
		var blockLoss float32
		var blockPairs []SignalPair
		out, blockLoss, blockPairs = blk.Forward(out, embed, batch, train, activations)
		if activations {
			pairs = append(pairs, blockPairs...)
		} else {
			loss += blockLoss
		}
	}
	return out, loss, pairs
}

// Backward propagates through the chain in reverse order.
func (s *MonoSequential) Backward(gradOutput []float32, auxWeight float32) []float32 {
	grad := gradOutput
	for i := len(s.Blocks) - 1; i >= 0; i-- {
		grad = s.Blocks[i].Backward(grad, auxWeight)
	}
	return grad
}

// parameters appends all block parameters.
func (s *MonoSequential) parameters(prefix string) []NamedParameter {
	var params []NamedParameter
	for i, blk := range s.Blocks {
		params = append(params, blk.parameters(blockName(prefix, i))...)
	}
	return params
}

// Sequential chains plain residual blocks.
type Sequential struct {
	Blocks []*Block
}

// Forward applies every block in order.
func (s *Sequential) Forward(x []float32, batch int, train bool) []float32 {
	out := x
	for _, blk := range s.Blocks {
		out = blk.Forward(out, batch, train)
	}
	return out
}

// Backward propagates through the chain in reverse order.
func (s *Sequential) Backward(gradOutput []float32) []float32 {
	grad := gradOutput
	for i := len(s.Blocks) - 1; i >= 0; i-- {
		grad = s.Blocks[i].Backward(grad)
	}
	return grad
}

// parameters appends all block parameters.
func (s *Sequential) parameters(prefix string) []NamedParameter {
	var params []NamedParameter
	for i, blk := range s.Blocks {
		params = append(params, blk.parameters(blockName(prefix, i))...)
	}
	return params
}

func blockName(prefix string, i int) string {
	return prefix + ".block" + strconv.Itoa(i)
}
