package nn

import (
	"math"
	"math/rand"
	"testing"
)

func randomTensor(rng *rand.Rand, n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestMonoBlockShortcutSelection(t *testing.T) {
	identity := NewMonoBlock(16, 16, 1, 8, 8, 8)
	if identity.ShortcutConv != nil {
		t.Error("stride-1 same-width block should use an identity shortcut")
	}

	strided := NewMonoBlock(16, 32, 2, 8, 8, 8)
	if strided.ShortcutConv == nil {
		t.Fatal("strided block should use a projected shortcut")
	}
	if strided.ShortcutConv.KernelSize != 1 || strided.ShortcutConv.Stride != 2 {
		t.Errorf("shortcut is %dx%d stride %d, want 1x1 stride 2",
			strided.ShortcutConv.KernelSize, strided.ShortcutConv.KernelSize, strided.ShortcutConv.Stride)
	}

	widened := NewMonoBlock(16, 32, 1, 8, 8, 8)
	if widened.ShortcutConv == nil {
		t.Error("channel-changing block should use a projected shortcut")
	}
}

func TestMonoBlockOutputShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	batch := 2

	blk := NewMonoBlock(8, 16, 2, 12, 8, 8)
	x := randomTensor(rng, batch*8*8*8)
	embed := randomTensor(rng, batch*12)

	fx, _, _ := blk.Forward(x, embed, batch, false, false)
	if blk.OutputHeight != 4 || blk.OutputWidth != 4 {
		t.Fatalf("output extent = %dx%d, want 4x4", blk.OutputHeight, blk.OutputWidth)
	}
	if len(fx) != batch*16*4*4 {
		t.Errorf("output length = %d, want %d", len(fx), batch*16*4*4)
	}
}

func TestMonoBlockInspectionMatchesLossMode(t *testing.T) {
	// Both modes derive the tap signals identically; scoring the inspection
	// pairs must reproduce the loss-mode result exactly. Eval mode keeps the
	// running statistics fixed between the two passes.
	rng := rand.New(rand.NewSource(13))
	batch := 20

	blk := NewMonoBlock(4, 8, 1, 6, 5, 5)
	x := randomTensor(rng, batch*4*5*5)
	embed := randomTensor(rng, batch*6)

	_, loss, _ := blk.Forward(x, embed, batch, false, false)
	_, zero, pairs := blk.Forward(x, embed, batch, false, true)

	if zero != 0 {
		t.Errorf("inspection mode returned loss %v, want 0", zero)
	}
	if len(pairs) != 2 {
		t.Fatalf("got %d signal pairs, want 2", len(pairs))
	}

	var rescored float32
	for _, p := range pairs {
		if p.Batch != batch || p.Channels != 8 {
			t.Fatalf("pair shape = (%d, %d), want (%d, 8)", p.Batch, p.Channels, batch)
		}
		rescored += blk.Div.Loss(p.Activation, p.Prediction, p.Batch, p.Channels)
	}
	if rescored != loss {
		t.Errorf("rescored pairs give %v, loss mode gave %v", rescored, loss)
	}
}

func TestMonoBlockBackwardGradShape(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	batch := 4

	blk := NewMonoBlock(4, 8, 2, 6, 6, 6)
	x := randomTensor(rng, batch*4*6*6)
	embed := randomTensor(rng, batch*6)

	fx, _, _ := blk.Forward(x, embed, batch, true, false)
	gradInput := blk.Backward(randomTensor(rng, len(fx)), 0.3)

	if len(gradInput) != len(x) {
		t.Fatalf("input gradient length = %d, want %d", len(gradInput), len(x))
	}

	nonZero := func(v []float32) bool {
		for _, g := range v {
			if g != 0 {
				return true
			}
		}
		return false
	}
	if !nonZero(blk.GradTapBias1) || !nonZero(blk.GradTapBias2) {
		t.Error("tap bias gradients are all zero after a weighted backward pass")
	}
	if !nonZero(blk.Proj1.GradWeights) || !nonZero(blk.Proj2.GradWeights) {
		t.Error("projector gradients are all zero after a weighted backward pass")
	}
}

func TestMonoBlockZeroAuxWeightSkipsTapGrads(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	batch := 4

	blk := NewMonoBlock(4, 4, 1, 6, 4, 4)
	x := randomTensor(rng, batch*4*4*4)
	embed := randomTensor(rng, batch*6)

	fx, _, _ := blk.Forward(x, embed, batch, true, false)
	blk.Backward(randomTensor(rng, len(fx)), 0)

	for i, g := range blk.GradTapBias1 {
		if g != 0 {
			t.Fatalf("tap bias gradient %d = %v with zero aux weight", i, g)
		}
	}
	for i, g := range blk.Proj1.GradWeights {
		if g != 0 {
			t.Fatalf("projector gradient %d = %v with zero aux weight", i, g)
		}
	}
}

func TestLinearGradNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(37))
	batch, in, out := 3, 4, 2

	l := NewLinear(in, out)
	input := randomTensor(rng, batch*in)
	coeff := randomTensor(rng, batch*out)

	// Scalar objective: sum(coeff * output).
	objective := func() float64 {
		output := l.Forward(input, batch)
		var s float64
		for i := range output {
			s += float64(coeff[i]) * float64(output[i])
		}
		return s
	}

	objective()
	l.Backward(coeff)

	const eps = 1e-2
	for _, i := range []int{0, 3, 7} {
		orig := l.Weights[i]
		l.Weights[i] = orig + eps
		plus := objective()
		l.Weights[i] = orig - eps
		minus := objective()
		l.Weights[i] = orig

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-float64(l.GradWeights[i])) > 1e-3 {
			t.Errorf("weight grad[%d] = %v, numeric %v", i, l.GradWeights[i], numeric)
		}
	}
}
