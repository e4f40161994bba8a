package nn

import (
	"math/rand"
	"strings"
	"testing"
)

func TestMonoResNetForwardShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(53))
	batch := 2

	net := MonoResNet18(10, 8, 8, 8)
	images := randomTensor(rng, batch*3*8*8)
	embed := randomTensor(rng, batch*8)

	logits, _, pairs, err := net.Forward(images, embed, batch, true, false)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(logits) != batch*10 {
		t.Errorf("logits length = %d, want %d", len(logits), batch*10)
	}
	if pairs != nil {
		t.Error("loss mode returned signal pairs")
	}

	_, _, pairs, err = net.Forward(images, embed, batch, false, true)
	if err != nil {
		t.Fatalf("inspection forward: %v", err)
	}
	// Two taps per block, [2,2,2,2] depths.
	if len(pairs) != 16 {
		t.Errorf("got %d signal pairs, want 16", len(pairs))
	}
}

func TestMonoResNetShapeValidation(t *testing.T) {
	net := MonoResNet18(10, 8, 8, 8)

	if _, _, _, err := net.Forward(make([]float32, 7), make([]float32, 2*8), 2, false, false); err == nil {
		t.Error("expected an error for a mis-sized image batch")
	}
	if _, _, _, err := net.Forward(make([]float32, 2*3*8*8), make([]float32, 5), 2, false, false); err == nil {
		t.Error("expected an error for a mis-sized embedding batch")
	}
}

func TestMonoResNetParameterNames(t *testing.T) {
	net := MonoResNet18(10, 8, 8, 8)
	params := net.Parameters()

	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			t.Errorf("duplicate parameter name %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Value) == 0 {
			t.Errorf("parameter %q has an empty tensor", p.Name)
		}
	}

	for _, want := range []string{
		"stem.conv.kernel",
		"stem.bn.gamma",
		"stage1.block0.conv1.kernel",
		"stage1.block0.tap1_bias",
		"stage1.block0.proj2.weight",
		"stage2.block0.shortcut.kernel",
		"stage4.block1.tap2_bias",
		"head.weight",
		"head.bias",
	} {
		if !seen[want] {
			t.Errorf("missing parameter %q", want)
		}
	}

	// Running statistics are buffers: persisted, never optimized.
	for _, p := range params {
		isBuffer := strings.HasSuffix(p.Name, ".running_mean") || strings.HasSuffix(p.Name, ".running_var")
		if isBuffer && p.Grad != nil {
			t.Errorf("buffer %q carries a gradient", p.Name)
		}
		if !isBuffer && p.Grad == nil {
			t.Errorf("parameter %q is missing its gradient buffer", p.Name)
		}
	}
}

func TestResNetForwardBackward(t *testing.T) {
	rng := rand.New(rand.NewSource(59))
	batch := 2

	net := ResNet18(10, 8, 8)
	images := randomTensor(rng, batch*3*8*8)

	logits, err := net.Forward(images, batch, true)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(logits) != batch*10 {
		t.Fatalf("logits length = %d, want %d", len(logits), batch*10)
	}

	labels := []int{3, 7}
	_, grad := SoftmaxCrossEntropy(logits, labels, batch, 10)
	net.Backward(grad)

	var sum float32
	for _, g := range net.StemConv.GradKernel {
		if g < 0 {
			sum -= g
		} else {
			sum += g
		}
	}
	if sum == 0 {
		t.Error("stem gradient is all zero after backward")
	}
}

func TestSoftmaxCrossEntropyGradientSumsToZero(t *testing.T) {
	rng := rand.New(rand.NewSource(61))
	batch, classes := 4, 10

	logits := randomTensor(rng, batch*classes)
	labels := []int{0, 3, 9, 5}
	loss, grad := SoftmaxCrossEntropy(logits, labels, batch, classes)

	if loss <= 0 {
		t.Errorf("loss = %v, want positive for random logits", loss)
	}
	for b := 0; b < batch; b++ {
		var rowSum float64
		for c := 0; c < classes; c++ {
			rowSum += float64(grad[b*classes+c])
		}
		if rowSum > 1e-6 || rowSum < -1e-6 {
			t.Errorf("row %d gradient sums to %v, want 0", b, rowSum)
		}
	}
}
