// Package data loads the CIFAR-100 binary distribution and the precomputed
// caption embeddings, and batches them for training.
package data

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

const (
	// CIFAR-100 image geometry.
	ImageChannels = 3
	ImageHeight   = 32
	ImageWidth    = 32
	NumClasses    = 100

	imagePixels = ImageChannels * ImageHeight * ImageWidth
	// Each binary record is a coarse label byte, a fine label byte and the
	// image bytes in channel-major order.
	recordBytes = 2 + imagePixels
)

// Per-channel normalization statistics of the CIFAR-100 training split.
var (
	TrainMean = [3]float32{0.5070751592371323, 0.48654887331495095, 0.4409178433670343}
	TrainStd  = [3]float32{0.2673342858792401, 0.2564384629170883, 0.27615047132568404}
)

// Dataset holds a split in memory: normalized CHW float32 images, integer
// fine labels and, when loaded, one embedding row per sample.
type Dataset struct {
	Images     [][]float32
	Labels     []int
	Embeddings [][]float32
	EmbedDim   int
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.Images)
}

// LoadCIFAR100 reads one binary split file (train.bin or test.bin),
// scales pixels to [0,1] and normalizes with the training statistics.
func LoadCIFAR100(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cifar split %s: %w", path, err)
	}
	if len(raw)%recordBytes != 0 {
		return nil, fmt.Errorf("cifar split %s is %d bytes, not a multiple of the %d-byte record", path, len(raw), recordBytes)
	}

	count := len(raw) / recordBytes
	ds := &Dataset{
		Images: make([][]float32, count),
		Labels: make([]int, count),
	}
	for i := 0; i < count; i++ {
		rec := raw[i*recordBytes : (i+1)*recordBytes]
		ds.Labels[i] = int(rec[1])

		img := make([]float32, imagePixels)
		for c := 0; c < ImageChannels; c++ {
			mean, std := TrainMean[c], TrainStd[c]
			for p := 0; p < ImageHeight*ImageWidth; p++ {
				v := float32(rec[2+c*ImageHeight*ImageWidth+p]) / 255.0
				img[c*ImageHeight*ImageWidth+p] = (v - mean) / std
			}
		}
		ds.Images[i] = img
	}
	return ds, nil
}

// LoadSplit loads the named split ("train" or "test") from the standard
// cifar-100-binary directory layout.
func LoadSplit(dir, split string) (*Dataset, error) {
	return LoadCIFAR100(filepath.Join(dir, split+".bin"))
}

// AttachEmbeddings reads a raw little-endian float32 file of shape
// (samples, embedDim) and attaches one row per sample, in sample order.
func (d *Dataset) AttachEmbeddings(path string, embedDim int) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read embeddings %s: %w", path, err)
	}
	want := d.Len() * embedDim * 4
	if len(raw) != want {
		return fmt.Errorf("embeddings %s are %d bytes, expected %d (%d samples x %d dims)",
			path, len(raw), want, d.Len(), embedDim)
	}

	d.Embeddings = make([][]float32, d.Len())
	d.EmbedDim = embedDim
	for i := 0; i < d.Len(); i++ {
		row := make([]float32, embedDim)
		base := i * embedDim * 4
		for j := 0; j < embedDim; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[base+j*4:]))
		}
		d.Embeddings[i] = row
	}
	return nil
}
