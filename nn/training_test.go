package nn

import (
	"math/rand"
	"testing"
)

// memorySource is an in-memory BatchSource over synthetic samples.
type memorySource struct {
	batches []*Batch
	pos     int
}

func newMemorySource(rng *rand.Rand, batches, size, classes, embedDim, height, width int) *memorySource {
	src := &memorySource{}
	for i := 0; i < batches; i++ {
		b := &Batch{
			Images: randomTensor(rng, size*3*height*width),
			Labels: make([]int, size),
			Size:   size,
		}
		for j := range b.Labels {
			b.Labels[j] = rng.Intn(classes)
		}
		if embedDim > 0 {
			b.Embeddings = randomTensor(rng, size*embedDim)
		}
		src.batches = append(src.batches, b)
	}
	return src
}

func (s *memorySource) Reset() { s.pos = 0 }

func (s *memorySource) Next() (*Batch, bool) {
	if s.pos >= len(s.batches) {
		return nil, false
	}
	b := s.batches[s.pos]
	s.pos++
	return b, true
}

func (s *memorySource) Batches() int { return len(s.batches) }

func (s *memorySource) Samples() int {
	total := 0
	for _, b := range s.batches {
		total += b.Size
	}
	return total
}

func smallConfig() *TrainingConfig {
	cfg := DefaultTrainingConfig()
	cfg.Epochs = 2
	cfg.WarmEpochs = 1
	cfg.LearningRate = 0.01
	cfg.SaveEvery = 1
	cfg.BestAfter = 10
	cfg.Verbose = false
	return cfg
}

func TestNewTrainingContextValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(97))
	src := newMemorySource(rng, 1, 2, 4, 0, 8, 8)

	cfg := smallConfig()
	cfg.Mono = true
	if _, err := NewTrainingContext(cfg, nil, ResNet18(4, 8, 8), src, src, nil); err == nil {
		t.Error("mono mode without a mono network should fail")
	}

	cfg = smallConfig()
	if _, err := NewTrainingContext(cfg, nil, nil, src, src, nil); err == nil {
		t.Error("classification mode without a network should fail")
	}
}

func TestTrainingRunSavesAndResumes(t *testing.T) {
	rng := rand.New(rand.NewSource(101))
	train := newMemorySource(rng, 2, 2, 4, 0, 8, 8)
	test := newMemorySource(rng, 1, 2, 4, 0, 8, 8)
	store := NewCheckpointStore(t.TempDir(), "resnet18")

	cfg := smallConfig()
	ctx, err := NewTrainingContext(cfg, nil, ResNet18(4, 8, 8), train, test, store)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if err := ctx.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	path, epoch, err := store.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if epoch != cfg.Epochs {
		t.Errorf("latest checkpoint epoch = %d, want %d", epoch, cfg.Epochs)
	}

	// A fresh run resuming from that snapshot skips the completed epochs.
	cfg2 := smallConfig()
	cfg2.Resume = true
	resumed, err := NewTrainingContext(cfg2, nil, ResNet18(4, 8, 8), train, test, store)
	if err != nil {
		t.Fatalf("resume context: %v", err)
	}
	if err := resumed.Run(); err != nil {
		t.Fatalf("resumed run: %v", err)
	}

	before := append([]float32(nil), resumed.parameters()[0].Value...)
	if err := store.LoadInto(path, resumed.parameters()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	after := resumed.parameters()[0].Value
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("resumed run past the final epoch should not modify the weights")
		}
	}
}

func TestTrainingResumeWithoutCheckpointsFails(t *testing.T) {
	rng := rand.New(rand.NewSource(103))
	src := newMemorySource(rng, 1, 2, 4, 0, 8, 8)
	store := NewCheckpointStore(t.TempDir(), "resnet18")

	cfg := smallConfig()
	cfg.Resume = true
	ctx, err := NewTrainingContext(cfg, nil, ResNet18(4, 8, 8), src, src, store)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if err := ctx.Run(); err == nil {
		t.Fatal("resuming from an empty store should fail")
	}
}

func TestWarmUpFirstBatchTrainsAtZeroLR(t *testing.T) {
	rng := rand.New(rand.NewSource(109))
	train := newMemorySource(rng, 1, 2, 4, 0, 8, 8)
	test := newMemorySource(rng, 1, 2, 4, 0, 8, 8)

	cfg := smallConfig()
	ctx, err := NewTrainingContext(cfg, nil, ResNet18(4, 8, 8), train, test, nil)
	if err != nil {
		t.Fatalf("context: %v", err)
	}

	before := append([]float32(nil), ctx.parameters()[0].Value...)
	if err := ctx.TrainEpoch(1); err != nil {
		t.Fatalf("train epoch: %v", err)
	}
	after := ctx.parameters()[0].Value
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("the first warm-up batch should train at LR 0 and leave the weights unchanged")
		}
	}

	// The next iteration has a non-zero rate and must move the weights.
	if err := ctx.TrainEpoch(1); err != nil {
		t.Fatalf("second epoch: %v", err)
	}
	moved := false
	for i := range before {
		if before[i] != after[i] {
			moved = true
			break
		}
	}
	if !moved {
		t.Fatal("later warm-up batches should train at a non-zero rate")
	}
}

func TestMonoTrainAndEvalEpoch(t *testing.T) {
	rng := rand.New(rand.NewSource(107))
	train := newMemorySource(rng, 2, 4, 4, 8, 8, 8)
	test := newMemorySource(rng, 1, 4, 4, 8, 8, 8)

	cfg := smallConfig()
	cfg.Mono = true
	net := MonoResNet18(4, 8, 8, 8)
	ctx, err := NewTrainingContext(cfg, net, nil, train, test, NewCheckpointStore(t.TempDir(), "monoresnet18"))
	if err != nil {
		t.Fatalf("context: %v", err)
	}

	if err := ctx.TrainEpoch(1); err != nil {
		t.Fatalf("train epoch: %v", err)
	}
	acc, err := ctx.EvalEpoch(1)
	if err != nil {
		t.Fatalf("eval epoch: %v", err)
	}
	if acc < 0 || acc > 1 {
		t.Errorf("accuracy = %v, want within [0, 1]", acc)
	}
}
