package nn

import (
	"math/rand"
	"testing"
)

func TestMonoSequentialEmptyChain(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	s := &MonoSequential{}

	x := randomTensor(rng, 2*4*4*4)
	embed := randomTensor(rng, 2*6)

	out, loss, pairs := s.Forward(x, embed, 2, true, false)
	if loss != 0 {
		t.Errorf("empty chain loss = %v, want exactly 0", loss)
	}
	if pairs != nil {
		t.Errorf("empty chain returned %d pairs, want none", len(pairs))
	}
	for i := range x {
		if out[i] != x[i] {
			t.Fatal("empty chain should pass the feature map through unchanged")
		}
	}
}

func TestMonoSequentialLossSumsBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	batch := 20

	s := &MonoSequential{Blocks: []*MonoBlock{
		NewMonoBlock(4, 4, 1, 6, 5, 5),
		NewMonoBlock(4, 4, 1, 6, 5, 5),
	}}

	x := randomTensor(rng, batch*4*5*5)
	embed := randomTensor(rng, batch*6)

	_, total, _ := s.Forward(x, embed, batch, false, false)

	// Replay the chain block by block and sum the per-unit losses.
	var want float32
	out := x
	for _, blk := range s.Blocks {
		var blockLoss float32
		out, blockLoss, _ = blk.Forward(out, embed, batch, false, false)
		want += blockLoss
	}
	if total != want {
		t.Errorf("chain loss = %v, want the per-block sum %v", total, want)
	}
}

func TestMonoSequentialInspectionOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(47))
	batch := 4

	s := &MonoSequential{Blocks: []*MonoBlock{
		NewMonoBlock(4, 4, 1, 6, 5, 5),
		NewMonoBlock(4, 8, 2, 6, 5, 5),
	}}

	x := randomTensor(rng, batch*4*5*5)
	embed := randomTensor(rng, batch*6)

	_, _, pairs := s.Forward(x, embed, batch, false, true)
	if len(pairs) != 4 {
		t.Fatalf("got %d pairs from 2 blocks, want 4", len(pairs))
	}
	wantChannels := []int{4, 4, 8, 8}
	for i, p := range pairs {
		if p.Channels != wantChannels[i] {
			t.Errorf("pair %d has %d channels, want %d", i, p.Channels, wantChannels[i])
		}
	}
}
