package nn

import (
	"math/rand"
	"testing"
)

func TestRankAgreementIdenticalSignals(t *testing.T) {
	rng := rand.New(rand.NewSource(67))
	n, channels := 100, 8
	signal := randomTensor(rng, n*channels)

	for _, k := range AgreementCutoffs {
		c := RankAgreement(signal, signal, n, channels, k)
		if c.FP != 0 || c.FN != 0 {
			t.Errorf("k=%v: identical signals gave fp=%d fn=%d, want 0", k, c.FP, c.FN)
		}
		wantTP := int(k*float32(n)) * channels
		if c.TP != wantTP {
			t.Errorf("k=%v: tp=%d, want %d", k, c.TP, wantTP)
		}
		if c.Total() != n*channels {
			t.Errorf("k=%v: total=%d, want %d", k, c.Total(), n*channels)
		}
	}
}

func TestConfusionFractions(t *testing.T) {
	c := ConfusionCounts{TN: 90, FP: 3, FN: 3, TP: 4}
	tn, fp, fn, tp := c.Fractions()
	if tn != 0.90 || fp != 0.03 || fn != 0.03 || tp != 0.04 {
		t.Errorf("fractions = %v %v %v %v", tn, fp, fn, tp)
	}

	var empty ConfusionCounts
	tn, fp, fn, tp = empty.Fractions()
	if tn != 0 || fp != 0 || fn != 0 || tp != 0 {
		t.Error("empty counts should give zero fractions")
	}
}

func TestSignalAccumulatorConcatenatesBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(71))
	channels := 4

	acc := &SignalAccumulator{}
	for batch := 0; batch < 3; batch++ {
		pairs := []SignalPair{
			{Activation: randomTensor(rng, 5*channels), Prediction: randomTensor(rng, 5*channels), Batch: 5, Channels: channels},
			{Activation: randomTensor(rng, 5*channels), Prediction: randomTensor(rng, 5*channels), Batch: 5, Channels: channels},
		}
		acc.Add(pairs)
	}

	if len(acc.Activations) != 2 {
		t.Fatalf("accumulated %d tap points, want 2", len(acc.Activations))
	}
	for i := range acc.Activations {
		if acc.Rows[i] != 15 {
			t.Errorf("tap %d rows = %d, want 15", i, acc.Rows[i])
		}
		if len(acc.Activations[i]) != 15*channels {
			t.Errorf("tap %d activation length = %d, want %d", i, len(acc.Activations[i]), 15*channels)
		}
	}

	reports := acc.Reports(AgreementCutoffs)
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	for _, r := range reports {
		if len(r.Counts) != len(AgreementCutoffs) {
			t.Errorf("tap %d has %d cutoff counts, want %d", r.Tap, len(r.Counts), len(AgreementCutoffs))
		}
		for _, c := range r.Counts {
			if c.Total() != 15*channels {
				t.Errorf("tap %d count total = %d, want %d", r.Tap, c.Total(), 15*channels)
			}
		}
	}
}

func TestTapBiasStats(t *testing.T) {
	params := []NamedParameter{
		{Name: "stage1.block0.tap1_bias", Value: []float32{1, 2, 3}},
		{Name: "stage1.block0.proj1.bias", Value: []float32{9, 9}},
		{Name: "head.bias", Value: []float32{5}},
		{Name: "stage1.block0.tap2_bias", Value: []float32{0, 0, 0, 0}},
	}

	stats := TapBiasStats(params)
	if len(stats) != 2 {
		t.Fatalf("got %d tap bias stats, want 2", len(stats))
	}
	if stats[0].Name != "stage1.block0.tap1_bias" || stats[0].Mean != 2 {
		t.Errorf("first stat = %+v, want mean 2 of the tap1 bias", stats[0])
	}
	if stats[1].Mean != 0 || stats[1].Std != 0 {
		t.Errorf("zero bias should have zero mean and std, got %+v", stats[1])
	}
}
