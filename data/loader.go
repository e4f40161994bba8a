package data

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/openfluke/mono/nn"
)

// Loader batches a Dataset for the training loop. Training loaders shuffle
// every epoch and apply crop/flip augmentation; evaluation loaders iterate
// in sample order without augmentation.
type Loader struct {
	dataset   *Dataset
	batchSize int
	shuffle   bool
	augment   bool
	cropPad   int

	rng   *rand.Rand
	order []int
	pos   int
}

// NewLoader creates a loader over ds. When augment is set, each training
// image gets a random horizontal flip and a random crop from a cropPad-pixel
// reflection-free zero border, matching the usual CIFAR recipe.
func NewLoader(ds *Dataset, batchSize int, shuffle, augment bool, seed int64) (*Loader, error) {
	if ds.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	l := &Loader{
		dataset:   ds,
		batchSize: batchSize,
		shuffle:   shuffle,
		augment:   augment,
		cropPad:   4,
		rng:       rand.New(rand.NewSource(seed)),
		order:     make([]int, ds.Len()),
	}
	for i := range l.order {
		l.order[i] = i
	}
	l.pos = ds.Len()
	return l, nil
}

// Reset starts a new epoch, reshuffling if configured.
func (l *Loader) Reset() {
	if l.shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
}

// Next assembles the next batch. The final batch of an epoch may be short.
func (l *Loader) Next() (*nn.Batch, bool) {
	if l.pos >= len(l.order) {
		return nil, false
	}

	end := l.pos + l.batchSize
	if end > len(l.order) {
		end = len(l.order)
	}
	indices := l.order[l.pos:end]
	l.pos = end

	size := len(indices)
	batch := &nn.Batch{
		Images: make([]float32, size*imagePixels),
		Labels: make([]int, size),
		Size:   size,
	}
	if l.dataset.Embeddings != nil {
		batch.Embeddings = make([]float32, size*l.dataset.EmbedDim)
	}

	for i, idx := range indices {
		img := l.dataset.Images[idx]
		if l.augment {
			img = l.augmentImage(img)
		}
		copy(batch.Images[i*imagePixels:], img)
		batch.Labels[i] = l.dataset.Labels[idx]
		if batch.Embeddings != nil {
			copy(batch.Embeddings[i*l.dataset.EmbedDim:], l.dataset.Embeddings[idx])
		}
	}
	return batch, true
}

// Batches returns the number of batches per epoch, counting the short tail.
func (l *Loader) Batches() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Samples returns the number of samples per epoch.
func (l *Loader) Samples() int {
	return l.dataset.Len()
}

// augmentImage applies a random horizontal flip and a random crop out of a
// zero-padded border.
func (l *Loader) augmentImage(img []float32) []float32 {
	out := make([]float32, imagePixels)

	flip := l.rng.Intn(2) == 1
	// Crop offsets into the padded image, in [0, 2*cropPad].
	offY := l.rng.Intn(2*l.cropPad + 1)
	offX := l.rng.Intn(2*l.cropPad + 1)

	for c := 0; c < ImageChannels; c++ {
		plane := img[c*ImageHeight*ImageWidth:]
		outPlane := out[c*ImageHeight*ImageWidth:]
		for y := 0; y < ImageHeight; y++ {
			srcY := y + offY - l.cropPad
			if srcY < 0 || srcY >= ImageHeight {
				continue
			}
			for x := 0; x < ImageWidth; x++ {
				srcX := x + offX - l.cropPad
				if srcX < 0 || srcX >= ImageWidth {
					continue
				}
				if flip {
					srcX = ImageWidth - 1 - srcX
				}
				outPlane[y*ImageWidth+x] = plane[srcY*ImageWidth+srcX]
			}
		}
	}
	return out
}

// ChannelStats computes the per-channel mean and standard deviation over a
// dataset, for verifying normalization constants against a local copy of the
// training split.
func ChannelStats(ds *Dataset) (mean, std [3]float64) {
	for c := 0; c < ImageChannels; c++ {
		values := make([]float64, 0, ds.Len()*ImageHeight*ImageWidth)
		for _, img := range ds.Images {
			plane := img[c*ImageHeight*ImageWidth : (c+1)*ImageHeight*ImageWidth]
			for _, v := range plane {
				values = append(values, float64(v))
			}
		}
		mean[c] = stat.Mean(values, nil)
		std[c] = stat.StdDev(values, nil)
	}
	return mean, std
}
