package nn

import (
	"fmt"
	"time"
)

// Batch is one training or evaluation batch. Embeddings is nil outside
// mono mode.
type Batch struct {
	Images     []float32
	Embeddings []float32
	Labels     []int
	Size       int
}

// BatchSource is the opaque iterable the training loop consumes. The only
// ordering guarantee required is that Next yields the next element of the
// current epoch's iteration.
type BatchSource interface {
	// Reset starts a new epoch's iteration.
	Reset()
	// Next returns the next batch, or false when the epoch is exhausted.
	Next() (*Batch, bool)
	// Batches returns the number of batches per epoch.
	Batches() int
	// Samples returns the number of samples per epoch.
	Samples() int
}

// TrainingConfig collects the training hyperparameters.
type TrainingConfig struct {
	Epochs       int
	WarmEpochs   int
	LearningRate float32
	Momentum     float32
	WeightDecay  float32
	Milestones   []int
	Gamma        float32

	// Alpha weights the auxiliary loss against the classification loss.
	Alpha float32
	Mono  bool

	Resume    bool
	SaveEvery int
	// BestAfter gates best-checkpoint saving until the learning rate has
	// decayed enough for accuracy to be meaningful.
	BestAfter int

	Verbose bool
}

// DefaultTrainingConfig returns the standard schedule for the 200-epoch
// CIFAR run.
func DefaultTrainingConfig() *TrainingConfig {
	return &TrainingConfig{
		Epochs:       200,
		WarmEpochs:   1,
		LearningRate: 0.1,
		Momentum:     0.9,
		WeightDecay:  5e-4,
		Milestones:   []int{60, 120, 160},
		Gamma:        0.2,
		Alpha:        0.3,
		SaveEvery:    10,
		BestAfter:    120,
		Verbose:      true,
	}
}

// TrainingContext threads everything a training run mutates through the
// train/eval functions explicitly. Exactly one of Mono or Plain is set,
// matching the configured mode.
type TrainingContext struct {
	Config *TrainingConfig

	Mono  *MonoResNet
	Plain *ResNet

	Optimizer *SGD
	Decay     *MultiStepLR
	Warmup    *WarmUpLR

	Train BatchSource
	Test  BatchSource
	Store *CheckpointStore

	BestAcc float32

	warmupIter int
}

// NewTrainingContext wires the optimizer and schedulers for the given
// networks and data sources.
func NewTrainingContext(cfg *TrainingConfig, mono *MonoResNet, plain *ResNet, train, test BatchSource, store *CheckpointStore) (*TrainingContext, error) {
	if cfg.Mono && mono == nil {
		return nil, fmt.Errorf("mono mode requires a MonoResNet")
	}
	if !cfg.Mono && plain == nil {
		return nil, fmt.Errorf("classification mode requires a ResNet")
	}
	return &TrainingContext{
		Config:    cfg,
		Mono:      mono,
		Plain:     plain,
		Optimizer: NewSGD(cfg.Momentum, cfg.WeightDecay),
		Decay:     NewMultiStepLR(cfg.LearningRate, cfg.Gamma, cfg.Milestones),
		Warmup:    NewWarmUpLR(cfg.LearningRate, train.Batches()*cfg.WarmEpochs),
		Train:     train,
		Test:      test,
		Store:     store,
	}, nil
}

func (ctx *TrainingContext) parameters() []NamedParameter {
	if ctx.Config.Mono {
		return ctx.Mono.Parameters()
	}
	return ctx.Plain.Parameters()
}

func (ctx *TrainingContext) zeroGrad() {
	if ctx.Config.Mono {
		ctx.Mono.ZeroGrad()
	} else {
		ctx.Plain.ZeroGrad()
	}
}

// TrainEpoch runs one epoch of training. During the warm-up window the
// learning rate advances per iteration; afterwards the milestone decay
// applies per epoch.
func (ctx *TrainingContext) TrainEpoch(epoch int) error {
	cfg := ctx.Config
	start := time.Now()

	lr := ctx.Decay.GetLR(epoch)
	total := ctx.Train.Samples()
	trained := 0

	ctx.Train.Reset()
	for {
		batch, ok := ctx.Train.Next()
		if !ok {
			break
		}

		// The warm-up counter advances after the optimizer step, so the
		// very first batch trains at LR 0.
		if epoch <= cfg.WarmEpochs {
			lr = ctx.Warmup.GetLR(ctx.warmupIter)
		}

		ctx.zeroGrad()

		var classLoss, auxLoss float32
		if cfg.Mono {
			logits, aux, _, err := ctx.Mono.Forward(batch.Images, batch.Embeddings, batch.Size, true, false)
			if err != nil {
				return err
			}
			loss, gradLogits := SoftmaxCrossEntropy(logits, batch.Labels, batch.Size, ctx.Mono.NumClasses)
			ctx.Mono.Backward(gradLogits, cfg.Alpha)
			classLoss, auxLoss = loss, aux
		} else {
			logits, err := ctx.Plain.Forward(batch.Images, batch.Size, true)
			if err != nil {
				return err
			}
			loss, gradLogits := SoftmaxCrossEntropy(logits, batch.Labels, batch.Size, ctx.Plain.NumClasses)
			ctx.Plain.Backward(gradLogits)
			classLoss = loss
		}

		ctx.Optimizer.Step(ctx.parameters(), lr)
		if epoch <= cfg.WarmEpochs {
			ctx.warmupIter++
		}
		trained += batch.Size

		if cfg.Verbose {
			if cfg.Mono {
				fmt.Printf("Training Epoch: %d [%d/%d]\tClassification Loss: %.4f\tAux Loss: %.8f\tLR: %.6f\n",
					epoch, trained, total, classLoss, auxLoss, lr)
			} else {
				fmt.Printf("Training Epoch: %d [%d/%d]\tLoss: %.4f\tLR: %.6f\n",
					epoch, trained, total, classLoss, lr)
			}
		}
	}

	if cfg.Verbose {
		fmt.Printf("epoch %d training time consumed: %.2fs\n", epoch, time.Since(start).Seconds())
	}
	return nil
}

// EvalEpoch evaluates the network on the test source and returns the
// accuracy. In mono mode it additionally runs the inspection-mode
// diagnostics: per-tap rank-agreement reports and tap bias statistics.
func (ctx *TrainingContext) EvalEpoch(epoch int) (float32, error) {
	cfg := ctx.Config
	start := time.Now()

	var testLoss float64
	correct := 0
	acc := &SignalAccumulator{}

	ctx.Test.Reset()
	for {
		batch, ok := ctx.Test.Next()
		if !ok {
			break
		}

		var logits []float32
		var classes int
		if cfg.Mono {
			out, _, pairs, err := ctx.Mono.Forward(batch.Images, batch.Embeddings, batch.Size, false, true)
			if err != nil {
				return 0, err
			}
			acc.Add(pairs)
			logits, classes = out, ctx.Mono.NumClasses
		} else {
			out, err := ctx.Plain.Forward(batch.Images, batch.Size, false)
			if err != nil {
				return 0, err
			}
			logits, classes = out, ctx.Plain.NumClasses
		}

		loss, _ := SoftmaxCrossEntropy(logits, batch.Labels, batch.Size, classes)
		testLoss += float64(loss) * float64(batch.Size)
		correct += CountCorrect(logits, batch.Labels, batch.Size, classes)
	}

	samples := ctx.Test.Samples()
	accuracy := float32(correct) / float32(samples)

	if cfg.Mono && cfg.Verbose {
		for _, s := range TapBiasStats(ctx.parameters()) {
			fmt.Printf("%s| mean: %v, std: %v\n", s.Name, s.Mean, s.Std)
		}
		for _, report := range acc.Reports(AgreementCutoffs) {
			fmt.Printf("Layer %d ", report.Tap)
			for j, k := range report.Cutoffs {
				tn, fp, fn, tp := report.Counts[j].Fractions()
				fmt.Printf("|top%g%% tn:%.4f, fp:%.4f, fn:%.4f, tp:%.4f ", k*100, tn, fp, fn, tp)
			}
			fmt.Println()
		}
	}

	if cfg.Verbose {
		fmt.Printf("Test set: Epoch: %d, Average loss: %.4f, Accuracy: %.4f, Time consumed:%.2fs\n\n",
			epoch, testLoss/float64(samples), accuracy, time.Since(start).Seconds())
	}
	return accuracy, nil
}

// Run executes the full training schedule, including resume and the
// best/regular checkpoint policy.
func (ctx *TrainingContext) Run() error {
	cfg := ctx.Config

	resumeEpoch := 0
	if cfg.Resume {
		if bestPath, _, err := ctx.Store.LatestBest(); err == nil {
			if err := ctx.Store.LoadInto(bestPath, ctx.parameters()); err != nil {
				return fmt.Errorf("load best weights: %w", err)
			}
			best, err := ctx.EvalEpoch(0)
			if err != nil {
				return err
			}
			ctx.BestAcc = best
			if cfg.Verbose {
				fmt.Printf("best acc is %0.2f\n", best)
			}
		}

		path, epoch, err := ctx.Store.Latest()
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		if cfg.Verbose {
			fmt.Printf("loading weights file %s to resume training.....\n", path)
		}
		if err := ctx.Store.LoadInto(path, ctx.parameters()); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		resumeEpoch = epoch
	}

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if epoch <= resumeEpoch {
			continue
		}

		if err := ctx.TrainEpoch(epoch); err != nil {
			return err
		}
		accuracy, err := ctx.EvalEpoch(epoch)
		if err != nil {
			return err
		}

		if epoch > cfg.BestAfter && accuracy > ctx.BestAcc {
			path, err := ctx.Store.Save(ctx.parameters(), epoch, "best")
			if err != nil {
				return err
			}
			if cfg.Verbose {
				fmt.Printf("saving weights file to %s\n", path)
			}
			ctx.BestAcc = accuracy
			continue
		}

		if cfg.SaveEvery > 0 && epoch%cfg.SaveEvery == 0 {
			path, err := ctx.Store.Save(ctx.parameters(), epoch, "regular")
			if err != nil {
				return err
			}
			if cfg.Verbose {
				fmt.Printf("saving weights file to %s\n", path)
			}
		}
	}
	return nil
}
