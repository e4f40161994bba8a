package nn

// LRScheduler yields the learning rate for a given step counter. What the
// counter means (batch iteration or epoch) depends on the scheduler.
type LRScheduler interface {
	GetLR(step int) float32
	Name() string
}

// WarmUpLR ramps the learning rate linearly from zero to the base rate over
// the first totalIters batch iterations.
type WarmUpLR struct {
	BaseLR     float32
	TotalIters int
}

// NewWarmUpLR creates a warm-up scheduler over totalIters iterations.
func NewWarmUpLR(baseLR float32, totalIters int) *WarmUpLR {
	return &WarmUpLR{BaseLR: baseLR, TotalIters: totalIters}
}

// GetLR returns baseLR * iter/totalIters, capped at baseLR.
func (s *WarmUpLR) GetLR(iter int) float32 {
	if s.TotalIters <= 0 || iter >= s.TotalIters {
		return s.BaseLR
	}
	return s.BaseLR * float32(iter) / float32(s.TotalIters)
}

// Name returns the scheduler name.
func (s *WarmUpLR) Name() string {
	return "WarmUpLR"
}

// MultiStepLR decays the base rate by gamma at every milestone epoch.
type MultiStepLR struct {
	BaseLR     float32
	Gamma      float32
	Milestones []int
}

// NewMultiStepLR creates a milestone decay scheduler. Milestones must be
// ascending epoch numbers.
func NewMultiStepLR(baseLR, gamma float32, milestones []int) *MultiStepLR {
	return &MultiStepLR{BaseLR: baseLR, Gamma: gamma, Milestones: milestones}
}

// GetLR returns baseLR * gamma^(number of milestones <= epoch).
func (s *MultiStepLR) GetLR(epoch int) float32 {
	lr := s.BaseLR
	for _, m := range s.Milestones {
		if epoch >= m {
			lr *= s.Gamma
		}
	}
	return lr
}

// Name returns the scheduler name.
func (s *MultiStepLR) Name() string {
	return "MultiStepLR"
}
