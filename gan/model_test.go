package gan

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rainmetry/rainmetry/tensor"
	"github.com/rainmetry/rainmetry/training"
)

// passthrough is a parameterless identity network.
type passthrough struct{}

func (p *passthrough) Forward(input *tensor.Tensor) (*tensor.Tensor, error) { return input, nil }
func (p *passthrough) Parameters() []*tensor.Tensor                        { return nil }
func (p *passthrough) Train()                                              {}
func (p *passthrough) Eval()                                               {}
func (p *passthrough) IsTraining() bool                                    { return true }

func testOptions() Options {
	opt := DefaultOptions()
	opt.SliceLenA = 8
	opt.SliceLenB = 8
	opt.ChannelsA = 1
	opt.ChannelsB = 1
	opt.HiddenSize = 8
	opt.PoolSize = 4
	return opt
}

func testModel(t *testing.T, opt Options, seed int64) *Model {
	t.Helper()
	m, err := NewModel(opt, rand.New(rand.NewSource(seed)), tensor.CPU)
	if err != nil {
		t.Fatalf("NewModel failed: %v", err)
	}
	return m
}

func zeroBatch(t *testing.T, samples, channels, length int) *Batch {
	t.Helper()
	a, err := tensor.Zeros([]int{samples, channels, length}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	b, err := tensor.Zeros([]int{samples, channels, length}, tensor.Float32, tensor.CPU)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return &Batch{
		A:             a,
		B:             b,
		LinkID:        "link-1",
		GaugeID:       "gauge-1",
		DataTransform: &Transform{Min: []float32{0}, Max: []float32{60}},
	}
}

func randomBatch(t *testing.T, rng *rand.Rand, samples, channels, length int) *Batch {
	t.Helper()
	b := zeroBatch(t, samples, channels, length)
	var err error
	if b.A, err = tensor.RandomNormal([]int{samples, channels, length}, 0, 0.5, rng, tensor.CPU); err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	if b.B, err = tensor.RandomNormal([]int{samples, channels, length}, 0, 0.5, rng, tensor.CPU); err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return b
}

func TestIdentityTranslatorsGiveZeroCycleLoss(t *testing.T) {
	opt := testOptions()
	opt.LambdaIdentity = 0
	m := testModel(t, opt, 1)

	// With identity translators and all-zero inputs, both reconstructions
	// equal the originals and the thresholded backward cycle compares zero
	// to zero.
	m.gA = &passthrough{}
	m.gB = &passthrough{}

	if err := m.SetInput(zeroBatch(t, 1, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if err := m.backwardG(); err != nil {
		t.Fatalf("backwardG failed: %v", err)
	}

	losses := m.CurrentLosses()
	if losses["cycle_A"] != 0 {
		t.Errorf("expected cycle_A == 0, got %f", losses["cycle_A"])
	}
	if losses["cycle_B"] != 0 {
		t.Errorf("expected cycle_B == 0, got %f", losses["cycle_B"])
	}
}

func TestIdentityLossGating(t *testing.T) {
	opt := testOptions()
	opt.LambdaIdentity = 0
	m := testModel(t, opt, 2)

	rng := rand.New(rand.NewSource(3))
	if err := m.SetInput(randomBatch(t, rng, 2, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if err := m.backwardG(); err != nil {
		t.Fatalf("backwardG failed: %v", err)
	}

	losses := m.CurrentLosses()
	if losses["idt_A"] != 0 || losses["idt_B"] != 0 {
		t.Errorf("expected exact zero identity losses, got idt_A=%f idt_B=%f",
			losses["idt_A"], losses["idt_B"])
	}
	if m.idtA != nil || m.idtB != nil {
		t.Error("expected no identity forward passes with zero identity weight")
	}
}

func TestFrozenCriticsReceiveNoTranslatorGradients(t *testing.T) {
	m := testModel(t, testOptions(), 4)
	rng := rand.New(rand.NewSource(5))
	if err := m.SetInput(randomBatch(t, rng, 2, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	critics := []training.Module{m.dA, m.dB}
	training.SetRequiresGrad(critics, false)
	m.optG.ZeroGrad()
	if err := m.backwardG(); err != nil {
		t.Fatalf("backwardG failed: %v", err)
	}
	training.SetRequiresGrad(critics, true)

	for i, p := range append(m.dA.Parameters(), m.dB.Parameters()...) {
		if p.Grad() != nil {
			t.Errorf("critic parameter %d received a translator-phase gradient", i)
		}
	}
	gotGrad := false
	for _, p := range append(m.gA.Parameters(), m.gB.Parameters()...) {
		if p.Grad() != nil {
			gotGrad = true
			break
		}
	}
	if !gotGrad {
		t.Error("expected gradients on translator parameters")
	}
}

func TestCriticUpdateLeavesTranslatorsUntouched(t *testing.T) {
	m := testModel(t, testOptions(), 6)
	rng := rand.New(rand.NewSource(7))
	if err := m.SetInput(randomBatch(t, rng, 2, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	before := snapshotParams(t, append(m.gA.Parameters(), m.gB.Parameters()...))

	m.optD.ZeroGrad()
	pooled, err := m.fakeBPool.Query(m.fakeB)
	if err != nil {
		t.Fatalf("pool query failed: %v", err)
	}
	if _, err := m.backwardDBasic(m.dA, m.realB, pooled); err != nil {
		t.Fatalf("backwardDBasic failed: %v", err)
	}
	if err := m.optD.Step(); err != nil {
		t.Fatalf("critic step failed: %v", err)
	}

	after := snapshotParams(t, append(m.gA.Parameters(), m.gB.Parameters()...))
	for i := range before {
		for j := range before[i] {
			if before[i][j] != after[i][j] {
				t.Fatalf("translator parameter %d changed during critic update", i)
			}
		}
	}
	for _, p := range append(m.gA.Parameters(), m.gB.Parameters()...) {
		if p.Grad() != nil {
			t.Error("translator received a gradient from the critic update")
			break
		}
	}
}

func TestCriticLossIsSumOfRealAndFakeTerms(t *testing.T) {
	m := testModel(t, testOptions(), 20)
	rng := rand.New(rand.NewSource(21))
	if err := m.SetInput(randomBatch(t, rng, 2, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Compute the two criterion terms independently; the critic objective
	// is their plain, unweighted sum.
	predReal, err := m.dA.Forward(m.realB)
	if err != nil {
		t.Fatalf("critic forward failed: %v", err)
	}
	lossReal, err := m.criterionGAN.Forward(predReal, true)
	if err != nil {
		t.Fatalf("criterion failed: %v", err)
	}
	predFake, err := m.dA.Forward(m.fakeB.Detach())
	if err != nil {
		t.Fatalf("critic forward failed: %v", err)
	}
	lossFake, err := m.criterionGAN.Forward(predFake, false)
	if err != nil {
		t.Fatalf("criterion failed: %v", err)
	}
	vReal, err := lossReal.Float()
	if err != nil {
		t.Fatalf("Float failed: %v", err)
	}
	vFake, err := lossFake.Float()
	if err != nil {
		t.Fatalf("Float failed: %v", err)
	}

	got, err := m.backwardDBasic(m.dA, m.realB, m.fakeB)
	if err != nil {
		t.Fatalf("backwardDBasic failed: %v", err)
	}
	want := vReal + vFake
	if math.Abs(got-want) > 1e-5 {
		t.Errorf("expected critic loss %f (real %f + fake %f), got %f", want, vReal, vFake, got)
	}
}

func TestOptimizeParametersReportsAllLosses(t *testing.T) {
	m := testModel(t, testOptions(), 8)
	rng := rand.New(rand.NewSource(9))
	if err := m.SetInput(randomBatch(t, rng, 2, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.OptimizeParameters(); err != nil {
		t.Fatalf("OptimizeParameters failed: %v", err)
	}

	losses := m.CurrentLosses()
	for _, name := range LossNames {
		if _, ok := losses[name]; !ok {
			t.Errorf("loss %s was not reported", name)
		}
	}

	visuals := m.CurrentVisuals()
	for _, name := range []string{"real_A", "fake_B", "rec_A", "real_B", "fake_A", "rec_B", "idt_A", "idt_B"} {
		if visuals[name] == nil {
			t.Errorf("visual %s was not reported", name)
		}
	}
}

func TestPoolsQueriedOncePerStep(t *testing.T) {
	opt := testOptions()
	opt.PoolSize = 10
	m := testModel(t, opt, 10)
	rng := rand.New(rand.NewSource(11))

	for step := 1; step <= 3; step++ {
		if err := m.SetInput(randomBatch(t, rng, 2, 1, 8)); err != nil {
			t.Fatalf("SetInput failed: %v", err)
		}
		if err := m.OptimizeParameters(); err != nil {
			t.Fatalf("OptimizeParameters failed: %v", err)
		}
		// Each step contributes exactly one 2-sample batch per pool.
		if got := m.fakeBPool.Len(); got != 2*step {
			t.Errorf("after step %d: fake_B pool holds %d samples, want %d", step, got, 2*step)
		}
		if got := m.fakeAPool.Len(); got != 2*step {
			t.Errorf("after step %d: fake_A pool holds %d samples, want %d", step, got, 2*step)
		}
	}
}

func TestInferenceModel(t *testing.T) {
	opt := testOptions()
	opt.IsTrain = false
	m := testModel(t, opt, 12)

	nets := m.NamedNetworks()
	if len(nets) != 2 || nets["G_A"] == nil || nets["G_B"] == nil {
		t.Errorf("expected translators only at inference, got %d networks", len(nets))
	}

	if err := m.OptimizeParameters(); err == nil {
		t.Error("expected OptimizeParameters to fail at inference")
	}

	rng := rand.New(rand.NewSource(13))
	if err := m.SetInput(randomBatch(t, rng, 1, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Test(); err != nil {
		t.Fatalf("Test failed: %v", err)
	}

	visuals := m.CurrentVisuals()
	if visuals["fake_B"] == nil {
		t.Fatal("expected fake_B after inference forward")
	}
	if visuals["fake_B"].RequiresGrad() {
		t.Error("inference forward built an autograd graph")
	}
}

func TestDirectionControlsInputAssignment(t *testing.T) {
	opt := testOptions()
	opt.Direction = BtoA
	m := testModel(t, opt, 14)

	batch := zeroBatch(t, 1, 1, 8)
	if err := m.SetInput(batch); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if m.realA != batch.B || m.realB != batch.A {
		t.Error("BtoA direction must feed the rain-rate sequence as the source")
	}
}

func TestPeakRainRate(t *testing.T) {
	m := testModel(t, testOptions(), 15)

	if _, err := m.PeakRainRate(0); err == nil {
		t.Error("expected error before any forward pass")
	}

	rng := rand.New(rand.NewSource(16))
	if err := m.SetInput(randomBatch(t, rng, 1, 1, 8)); err != nil {
		t.Fatalf("SetInput failed: %v", err)
	}
	if err := m.Forward(); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Translator output is tanh-bounded, so the denormalized peak lies in
	// the transform's physical range.
	peak, err := m.PeakRainRate(0)
	if err != nil {
		t.Fatalf("PeakRainRate failed: %v", err)
	}
	if peak < 0 || peak > 60 {
		t.Errorf("expected peak in [0, 60], got %f", peak)
	}
}

func snapshotParams(t *testing.T, params []*tensor.Tensor) [][]float32 {
	t.Helper()
	out := make([][]float32, len(params))
	for i, p := range params {
		data, err := p.GetFloat32Data()
		if err != nil {
			t.Fatalf("failed to read parameter %d: %v", i, err)
		}
		out[i] = append([]float32(nil), data...)
	}
	return out
}
