package nn

import (
	"math"
	"sort"
)

// TopKMask builds a binary mask over a (batch, channels) signal. For every
// channel column the floor(k*batch) rows with the largest values are marked
// 1, the rest 0. Ties resolve to the lower row index, so the selection is
// deterministic for repeated calls on the same input.
//
// floor(k*batch) may be 0, in which case the mask is all zeros.
//
// Mask construction is a ranking step: no gradient ever flows through it.
// The analytic gradients below treat the mask as a constant.
func TopKMask(target []float32, batch, channels int, k float32) []float32 {
	topK := int(k * float32(batch))
	mask := make([]float32, batch*channels)
	if topK <= 0 {
		return mask
	}
	if topK > batch {
		topK = batch
	}

	rows := make([]int, batch)
	for c := 0; c < channels; c++ {
		for r := range rows {
			rows[r] = r
		}
		col := c
		sort.SliceStable(rows, func(i, j int) bool {
			return target[rows[i]*channels+col] > target[rows[j]*channels+col]
		})
		for r := 0; r < topK; r++ {
			mask[rows[r]*channels+col] = 1
		}
	}
	return mask
}

// AsymmetricTopKLoss scores how well an output signal (as logits) predicts
// membership in the top-k fraction of a target signal. The positive class is
// up-weighted by 1/k - 1 to counter its imbalance, and the whole weight is
// scaled down by 100 (kept exactly for parity with the established scheme).
type AsymmetricTopKLoss struct {
	K float32
}

// elementWeight returns the per-element weight for a mask entry.
func (l AsymmetricTopKLoss) elementWeight(masked bool) float64 {
	w := 1.0
	if masked {
		w = float64(1.0/l.K - 2.0 + 1.0)
	}
	return w / 100.0
}

// Loss computes the weighted binary-cross-entropy-with-logits mean between
// output (logits) and the top-k mask of target.
func (l AsymmetricTopKLoss) Loss(output, target []float32, batch, channels int) float32 {
	mask := TopKMask(target, batch, channels, l.K)
	n := float64(len(output))

	var sum float64
	for i := range output {
		x := float64(output[i])
		z := float64(mask[i])
		// Stable BCE-with-logits: max(x,0) - x*z + log(1 + exp(-|x|))
		bce := math.Max(x, 0) - x*z + math.Log1p(math.Exp(-math.Abs(x)))
		sum += l.elementWeight(mask[i] == 1) * bce
	}
	return float32(sum / n)
}

// Grad returns dLoss/dOutput. The target enters only through the detached
// mask, so it receives no gradient from this direction.
func (l AsymmetricTopKLoss) Grad(output, target []float32, batch, channels int) []float32 {
	mask := TopKMask(target, batch, channels, l.K)
	n := float64(len(output))

	grad := make([]float32, len(output))
	for i := range output {
		w := l.elementWeight(mask[i] == 1)
		grad[i] = float32(w * (float64(Sigmoid(output[i])) - float64(mask[i])) / n)
	}
	return grad
}

// Divergence scores the agreement of two logit-space signals symmetrically
// by applying a one-sided measure in both directions and summing. The
// default measure is the asymmetric top-k loss with k = 0.05; UseKL selects
// the historical log-sigmoid KL measure instead (not numerically
// equivalent).
type Divergence struct {
	TopK  AsymmetricTopKLoss
	UseKL bool
}

// NewDivergence returns the default dual top-k divergence.
func NewDivergence() *Divergence {
	return &Divergence{TopK: AsymmetricTopKLoss{K: 0.05}}
}

// Loss is symmetric by construction: Loss(a, b) == Loss(b, a).
func (d *Divergence) Loss(activation, prediction []float32, batch, channels int) float32 {
	if d.UseKL {
		return KLLogitDivergence(activation, prediction) + KLLogitDivergence(prediction, activation)
	}
	return d.TopK.Loss(activation, prediction, batch, channels) +
		d.TopK.Loss(prediction, activation, batch, channels)
}

// Grads returns the gradients of Loss with respect to both signals. Each
// signal collects an output-side gradient from one direction; with the KL
// measure it additionally collects a target-side term.
func (d *Divergence) Grads(activation, prediction []float32, batch, channels int) (gradAct, gradPred []float32) {
	if d.UseKL {
		gradAct = make([]float32, len(activation))
		gradPred = make([]float32, len(prediction))
		oa, ta := klLogitGrads(activation, prediction)
		op, tp := klLogitGrads(prediction, activation)
		for i := range gradAct {
			gradAct[i] = oa[i] + tp[i]
			gradPred[i] = op[i] + ta[i]
		}
		return gradAct, gradPred
	}
	gradAct = d.TopK.Grad(activation, prediction, batch, channels)
	gradPred = d.TopK.Grad(prediction, activation, batch, channels)
	return gradAct, gradPred
}

// KLLogitDivergence is the retained alternative measure: both signals pass
// through a log-sigmoid transform and are compared as Bernoulli
// log-probabilities with an element-mean KL divergence, target side
// providing the reference distribution.
func KLLogitDivergence(output, target []float32) float32 {
	n := float64(len(output))
	var sum float64
	for i := range output {
		lt := float64(LogSigmoid(target[i]))
		lo := float64(LogSigmoid(output[i]))
		sum += math.Exp(lt) * (lt - lo)
	}
	return float32(sum / n)
}

// klLogitGrads returns d(KLLogitDivergence)/dOutput and /dTarget.
func klLogitGrads(output, target []float32) (gradOutput, gradTarget []float32) {
	n := float64(len(output))
	gradOutput = make([]float32, len(output))
	gradTarget = make([]float32, len(target))
	for i := range output {
		lt := float64(LogSigmoid(target[i]))
		lo := float64(LogSigmoid(output[i]))
		pt := math.Exp(lt)
		// d logsigmoid(v)/dv = 1 - sigmoid(v)
		gradOutput[i] = float32(-pt * (1 - float64(Sigmoid(output[i]))) / n)
		gradTarget[i] = float32(pt * (1 + lt - lo) * (1 - float64(Sigmoid(target[i]))) / n)
	}
	return gradOutput, gradTarget
}
