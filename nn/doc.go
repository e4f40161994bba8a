// Package nn implements a residual image classifier with an auxiliary
// alignment loss against external embeddings.
//
// Alongside the usual residual transformation, every MonoBlock taps two
// per-channel summaries of its feature map and scores them against linear
// projections of an external embedding with a top-k focused divergence.
// The per-block scores accumulate across all blocks into a single scalar
// that is added, weighted, to the classification loss.
//
// Two network variants share the staged builder:
//   - ResNet: Forward(images) -> logits
//   - MonoResNet: Forward(images, embeddings, activations) -> (logits, aux)
//
// All tensors are flat []float32 slices in NCHW order. Every layer owns its
// parameters and gradient buffers and implements a Forward/Backward pair:
//
//	logits, aux, _, _ := net.Forward(images, embeds, batch, true, false)
//	loss, dLogits := SoftmaxCrossEntropy(logits, labels, batch, classes)
//	net.Backward(dLogits, alpha)
//	opt.Step(net.Parameters(), lr)
package nn
