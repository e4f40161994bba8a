package nn

import (
	"strings"

	"gonum.org/v1/gonum/stat"
)

// AgreementCutoffs are the top-fraction cutoffs reported by the diagnostic
// evaluation, in report order.
var AgreementCutoffs = []float32{0.05, 0.01, 0.10}

// ConfusionCounts is a 2x2 agreement count between two top-k memberships:
// the activation mask plays the target role, the prediction mask the
// predicted role.
type ConfusionCounts struct {
	TN int
	FP int
	FN int
	TP int
}

// Total returns the number of counted elements.
func (c ConfusionCounts) Total() int {
	return c.TN + c.FP + c.FN + c.TP
}

// Fractions normalizes the counts by the total element count.
func (c ConfusionCounts) Fractions() (tn, fp, fn, tp float64) {
	total := float64(c.Total())
	if total == 0 {
		return 0, 0, 0, 0
	}
	return float64(c.TN) / total, float64(c.FP) / total, float64(c.FN) / total, float64(c.TP) / total
}

// RankAgreement recomputes top-k masks independently for an activation and
// a prediction signal of shape (n, channels) and counts their element-wise
// agreement.
func RankAgreement(activation, prediction []float32, n, channels int, k float32) ConfusionCounts {
	actMask := TopKMask(activation, n, channels, k)
	predMask := TopKMask(prediction, n, channels, k)

	var c ConfusionCounts
	for i := range actMask {
		switch {
		case actMask[i] == 1 && predMask[i] == 1:
			c.TP++
		case actMask[i] == 0 && predMask[i] == 0:
			c.TN++
		case actMask[i] == 0 && predMask[i] == 1:
			c.FP++
		default:
			c.FN++
		}
	}
	return c
}

// TapAgreement is the per-tap-point rank-agreement report across all
// configured cutoffs.
type TapAgreement struct {
	Tap     int
	Cutoffs []float32
	Counts  []ConfusionCounts
}

// SignalAccumulator concatenates inspection-mode signal pairs across
// evaluation batches, one growing (rows, channels) pair per tap point.
type SignalAccumulator struct {
	Activations [][]float32
	Predictions [][]float32
	Channels    []int
	Rows        []int
}

// Add appends one forward pass's signal pairs. Tap order must be stable
// across calls, which the sequential composition guarantees.
func (a *SignalAccumulator) Add(pairs []SignalPair) {
	for i, p := range pairs {
		if i >= len(a.Activations) {
			a.Activations = append(a.Activations, append([]float32(nil), p.Activation...))
			a.Predictions = append(a.Predictions, append([]float32(nil), p.Prediction...))
			a.Channels = append(a.Channels, p.Channels)
			a.Rows = append(a.Rows, p.Batch)
			continue
		}
		a.Activations[i] = append(a.Activations[i], p.Activation...)
		a.Predictions[i] = append(a.Predictions[i], p.Prediction...)
		a.Rows[i] += p.Batch
	}
}

// Reports computes the rank-agreement report for every accumulated tap
// point at every cutoff.
func (a *SignalAccumulator) Reports(cutoffs []float32) []TapAgreement {
	reports := make([]TapAgreement, len(a.Activations))
	for i := range a.Activations {
		counts := make([]ConfusionCounts, len(cutoffs))
		for j, k := range cutoffs {
			counts[j] = RankAgreement(a.Activations[i], a.Predictions[i], a.Rows[i], a.Channels[i], k)
		}
		reports[i] = TapAgreement{Tap: i, Cutoffs: cutoffs, Counts: counts}
	}
	return reports
}

// ParamStat is the mean and standard deviation of one parameter tensor.
type ParamStat struct {
	Name string
	Mean float64
	Std  float64
}

// TapBiasStats summarizes every tap bias parameter. The tap biases absorb
// the offset between the spatial-mean activations and the projected
// embeddings, so their drift is worth watching during training.
func TapBiasStats(params []NamedParameter) []ParamStat {
	var stats []ParamStat
	for _, p := range params {
		if !strings.HasSuffix(p.Name, "_bias") || !strings.Contains(p.Name, "tap") {
			continue
		}
		v := make([]float64, len(p.Value))
		for i, x := range p.Value {
			v[i] = float64(x)
		}
		stats = append(stats, ParamStat{
			Name: p.Name,
			Mean: stat.Mean(v, nil),
			Std:  stat.StdDev(v, nil),
		})
	}
	return stats
}
