package nn

import "math"

// SoftmaxCrossEntropy computes the mean cross-entropy of a (batch, classes)
// logit matrix against integer labels, and the gradient with respect to the
// logits: (softmax - onehot) / batch.
func SoftmaxCrossEntropy(logits []float32, labels []int, batch, classes int) (float32, []float32) {
	grad := make([]float32, len(logits))
	var totalLoss float64

	for b := 0; b < batch; b++ {
		row := logits[b*classes : (b+1)*classes]

		maxLogit := float64(row[0])
		for _, v := range row[1:] {
			if float64(v) > maxLogit {
				maxLogit = float64(v)
			}
		}

		var sumExp float64
		for _, v := range row {
			sumExp += math.Exp(float64(v) - maxLogit)
		}
		logSumExp := math.Log(sumExp) + maxLogit

		label := labels[b]
		totalLoss += logSumExp - float64(row[label])

		for c := 0; c < classes; c++ {
			p := math.Exp(float64(row[c]) - logSumExp)
			target := 0.0
			if c == label {
				target = 1.0
			}
			grad[b*classes+c] = float32((p - target) / float64(batch))
		}
	}

	return float32(totalLoss / float64(batch)), grad
}

// CountCorrect counts argmax predictions matching the labels.
func CountCorrect(logits []float32, labels []int, batch, classes int) int {
	correct := 0
	for b := 0; b < batch; b++ {
		row := logits[b*classes : (b+1)*classes]
		best := 0
		for c := 1; c < classes; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if best == labels[b] {
			correct++
		}
	}
	return correct
}
