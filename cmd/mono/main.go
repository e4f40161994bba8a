// Command mono trains ResNet classifiers on CIFAR-100, optionally with the
// embedding-alignment auxiliary objective and its tap diagnostics.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/openfluke/mono/data"
	"github.com/openfluke/mono/nn"
)

func main() {
	var (
		netName  = flag.String("net", "resnet18", "network architecture (resnet18, resnet34)")
		gpu      = flag.Bool("gpu", false, "request GPU execution")
		batch    = flag.Int("b", 128, "batch size")
		warm     = flag.Int("warm", 1, "warm-up epochs")
		lr       = flag.Float64("lr", 0.1, "initial learning rate")
		epochs   = flag.Int("epochs", 200, "training epochs")
		resume   = flag.Bool("resume", false, "resume from the latest checkpoint")
		mono     = flag.Bool("mono", false, "train with the embedding-alignment auxiliary loss")
		alpha    = flag.Float64("alpha", 0.3, "auxiliary loss weight")
		dataDir  = flag.String("data", "./cifar-100-binary", "CIFAR-100 binary directory")
		embed    = flag.String("embed", "", "embedding file prefix; <prefix>-train.f32 and <prefix>-test.f32 are loaded")
		embedDim = flag.Int("embed-dim", 768, "embedding dimensionality")
		ckptDir  = flag.String("ckpt", "./checkpoint", "checkpoint directory")
		seed     = flag.Int64("seed", 1, "shuffle and augmentation seed")
	)
	flag.Parse()

	if *gpu {
		log.Println("gpu execution is not available in this build, running on CPU")
	}

	cfg := nn.DefaultTrainingConfig()
	cfg.Epochs = *epochs
	cfg.WarmEpochs = *warm
	cfg.LearningRate = float32(*lr)
	cfg.Alpha = float32(*alpha)
	cfg.Mono = *mono
	cfg.Resume = *resume

	trainSet, err := data.LoadSplit(*dataDir, "train")
	if err != nil {
		log.Fatalf("load training split: %v", err)
	}
	testSet, err := data.LoadSplit(*dataDir, "test")
	if err != nil {
		log.Fatalf("load test split: %v", err)
	}

	if cfg.Mono {
		if *embed == "" {
			log.Fatalf("-mono requires -embed")
		}
		if err := trainSet.AttachEmbeddings(*embed+"-train.f32", *embedDim); err != nil {
			log.Fatalf("attach training embeddings: %v", err)
		}
		if err := testSet.AttachEmbeddings(*embed+"-test.f32", *embedDim); err != nil {
			log.Fatalf("attach test embeddings: %v", err)
		}
	}

	trainLoader, err := data.NewLoader(trainSet, *batch, true, true, *seed)
	if err != nil {
		log.Fatalf("training loader: %v", err)
	}
	testLoader, err := data.NewLoader(testSet, *batch, false, false, *seed)
	if err != nil {
		log.Fatalf("test loader: %v", err)
	}

	var monoNet *nn.MonoResNet
	var plainNet *nn.ResNet
	storeName := *netName
	switch *netName {
	case "resnet18":
		if cfg.Mono {
			monoNet = nn.MonoResNet18(data.NumClasses, *embedDim, data.ImageHeight, data.ImageWidth)
		} else {
			plainNet = nn.ResNet18(data.NumClasses, data.ImageHeight, data.ImageWidth)
		}
	case "resnet34":
		if cfg.Mono {
			monoNet = nn.MonoResNet34(data.NumClasses, *embedDim, data.ImageHeight, data.ImageWidth)
		} else {
			plainNet = nn.ResNet34(data.NumClasses, data.ImageHeight, data.ImageWidth)
		}
	default:
		log.Fatalf("the network %s is not supported", *netName)
	}
	if cfg.Mono {
		storeName = "mono" + storeName
	}

	store := nn.NewCheckpointStore(*ckptDir, storeName)
	ctx, err := nn.NewTrainingContext(cfg, monoNet, plainNet, trainLoader, testLoader, store)
	if err != nil {
		log.Fatalf("training setup: %v", err)
	}

	fmt.Printf("training %s on %d samples, testing on %d\n", storeName, trainLoader.Samples(), testLoader.Samples())
	if err := ctx.Run(); err != nil {
		log.Fatalf("training: %v", err)
	}
}
