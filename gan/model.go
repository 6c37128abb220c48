package gan

import (
	"fmt"
	"math/rand"

	"github.com/rainmetry/rainmetry/tensor"
	"github.com/rainmetry/rainmetry/training"
)

// LossNames lists the scalar losses the model reports, in reporting order.
// The mse entries are monitoring diagnostics, not part of the optimized
// objective.
var LossNames = []string{
	"D_A", "G_A", "cycle_A", "idt_A",
	"D_B", "G_B", "cycle_B", "idt_B",
	"mse_A", "mse_B",
}

// Model trains a pair of translators between attenuation and rain-rate
// signals against a pair of critics, without paired examples. G_A maps the
// source domain to the target domain and G_B maps back; D_A judges the
// target domain and D_B the source domain.
//
// All tensors produced during a step (translations, reconstructions,
// identity outputs, losses) are per-iteration state, overwritten by the
// next step. The model is single-threaded: one goroutine drives SetInput,
// OptimizeParameters and Test.
type Model struct {
	opt    Options
	device tensor.DeviceType
	rng    *rand.Rand

	gA training.Module
	gB training.Module
	dA training.Module
	dB training.Module

	fakeAPool *SignalPool
	fakeBPool *SignalPool

	criterionGAN   *training.GANLoss
	criterionCycle *training.L1Loss
	criterionIdt   *training.L1Loss
	criterionBCE   *training.BCELoss
	criterionMSE   *training.MSELoss

	optG training.Optimizer
	optD training.Optimizer

	batch *Batch
	realA *tensor.Tensor
	realB *tensor.Tensor
	fakeA *tensor.Tensor
	fakeB *tensor.Tensor
	recA  *tensor.Tensor
	recB  *tensor.Tensor
	idtA  *tensor.Tensor
	idtB  *tensor.Tensor

	// classB is the saturating classification view of fake_B used by the
	// wet/dry penalty and reported visuals.
	classB *tensor.Tensor

	losses map[string]float64
}

// NewModel builds translators, critics, criteria, replay pools and
// optimizers according to opt. The rng seeds parameter initialization and
// drives the replay pools; inject a fixed-seed source for deterministic
// runs.
func NewModel(opt Options, rng *rand.Rand, device tensor.DeviceType) (*Model, error) {
	if err := opt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model options: %v", err)
	}
	if rng == nil {
		return nil, fmt.Errorf("model requires a random source")
	}

	srcChannels, srcLen := opt.ChannelsA, opt.SliceLenA
	tgtChannels, tgtLen := opt.ChannelsB, opt.SliceLenB
	if opt.Direction == BtoA {
		srcChannels, srcLen, tgtChannels, tgtLen = tgtChannels, tgtLen, srcChannels, srcLen
	}

	m := &Model{
		opt:    opt,
		device: device,
		rng:    rng,
		losses: make(map[string]float64, len(LossNames)),
	}

	var err error
	if m.gA, err = NewTranslator(srcChannels, srcLen, tgtChannels, tgtLen, opt.HiddenSize, device); err != nil {
		return nil, err
	}
	if m.gB, err = NewTranslator(tgtChannels, tgtLen, srcChannels, srcLen, opt.HiddenSize, device); err != nil {
		return nil, err
	}

	if !opt.IsTrain {
		return m, nil
	}

	if m.dA, err = NewCritic(tgtChannels, tgtLen, opt.HiddenSize, device); err != nil {
		return nil, err
	}
	if m.dB, err = NewCritic(srcChannels, srcLen, opt.HiddenSize, device); err != nil {
		return nil, err
	}

	if m.fakeAPool, err = NewSignalPool(opt.PoolSize, rng); err != nil {
		return nil, err
	}
	if m.fakeBPool, err = NewSignalPool(opt.PoolSize, rng); err != nil {
		return nil, err
	}

	if m.criterionGAN, err = training.NewGANLoss(opt.GANMode); err != nil {
		return nil, err
	}
	m.criterionCycle = training.NewL1Loss()
	m.criterionIdt = training.NewL1Loss()
	m.criterionBCE = training.NewBCELoss()
	m.criterionMSE = training.NewMSELoss()

	gParams := append(m.gA.Parameters(), m.gB.Parameters()...)
	dParams := append(m.dA.Parameters(), m.dB.Parameters()...)
	m.optG = training.NewAdam(gParams, opt.LR, opt.Beta1, 0.999, 1e-8)
	m.optD = training.NewAdam(dParams, opt.LR, opt.Beta1, 0.999, 1e-8)

	return m, nil
}

// SetInput stores the next batch, assigning its two sequences to the
// source and target side according to the configured direction. The batch
// is validated here so a misconfigured dataset fails before any network
// runs.
func (m *Model) SetInput(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	m.batch = batch
	if m.opt.Direction == AtoB {
		m.realA, m.realB = batch.A, batch.B
	} else {
		m.realA, m.realB = batch.B, batch.A
	}
	return nil
}

// Forward runs both translation round trips: real_A -> fake_B -> rec_A and
// real_B -> fake_A -> rec_B, plus the saturating classification view of
// fake_B.
func (m *Model) Forward() error {
	if m.realA == nil || m.realB == nil {
		return fmt.Errorf("no input batch set")
	}

	var err error
	if m.fakeB, err = m.gA.Forward(m.realA); err != nil {
		return fmt.Errorf("translation A->B failed: %v", err)
	}
	m.classB = tensor.SigmoidAutograd(m.fakeB)
	if m.recA, err = m.gB.Forward(m.fakeB); err != nil {
		return fmt.Errorf("reconstruction A->B->A failed: %v", err)
	}
	if m.fakeA, err = m.gB.Forward(m.realB); err != nil {
		return fmt.Errorf("translation B->A failed: %v", err)
	}
	if m.recB, err = m.gA.Forward(m.fakeA); err != nil {
		return fmt.Errorf("reconstruction B->A->B failed: %v", err)
	}
	return nil
}

// backwardDBasic computes one critic's loss against a real batch and a
// pooled fake batch and backpropagates it. The fake batch is detached so
// no gradient reaches the translator that produced it.
func (m *Model) backwardDBasic(critic training.Module, real, fake *tensor.Tensor) (float64, error) {
	predReal, err := critic.Forward(real)
	if err != nil {
		return 0, fmt.Errorf("critic forward on real batch failed: %v", err)
	}
	lossReal, err := m.criterionGAN.Forward(predReal, true)
	if err != nil {
		return 0, err
	}

	predFake, err := critic.Forward(fake.Detach())
	if err != nil {
		return 0, fmt.Errorf("critic forward on fake batch failed: %v", err)
	}
	lossFake, err := m.criterionGAN.Forward(predFake, false)
	if err != nil {
		return 0, err
	}

	loss := tensor.AddAutograd(lossReal, lossFake)
	if err := loss.Backward(); err != nil {
		return 0, fmt.Errorf("critic backward failed: %v", err)
	}
	return loss.Float()
}

// backwardG composes the full translator objective and backpropagates it
// through both translators at once:
//
//   - identity terms, gated on the identity weight;
//   - adversarial terms, asymmetric: the A->B direction carries only the
//     critic score, the B->A direction additionally carries a wet/dry
//     cross-entropy between the clamped classification view of fake_B and
//     real_B, because the rain-rate domain has a meaningful zero class;
//   - cycle terms, with the backward cycle thresholded so near-zero
//     rain-rate noise in rec_B is not penalized.
//
// It also records the two monitoring MSE diagnostics, which do not
// contribute to the objective.
func (m *Model) backwardG() error {
	lambdaA := m.opt.LambdaA
	lambdaB := m.opt.LambdaB
	lambdaIdt := m.opt.LambdaIdentity

	var lossIdtA, lossIdtB *tensor.Tensor
	if lambdaIdt > 0 {
		var err error
		if m.idtA, err = m.gA.Forward(m.realB); err != nil {
			return fmt.Errorf("identity pass of G_A failed: %v", err)
		}
		if lossIdtA, err = m.criterionIdt.Forward(m.idtA, m.realB); err != nil {
			return err
		}
		lossIdtA = tensor.ScaleAutograd(lossIdtA, lambdaB*lambdaIdt)

		if m.idtB, err = m.gB.Forward(m.realA); err != nil {
			return fmt.Errorf("identity pass of G_B failed: %v", err)
		}
		if lossIdtB, err = m.criterionIdt.Forward(m.idtB, m.realA); err != nil {
			return err
		}
		lossIdtB = tensor.ScaleAutograd(lossIdtB, lambdaA*lambdaIdt)
	} else {
		m.idtA, m.idtB = nil, nil
	}

	predFakeB, err := m.dA.Forward(m.fakeB)
	if err != nil {
		return fmt.Errorf("critic D_A forward failed: %v", err)
	}
	lossGA, err := m.criterionGAN.Forward(predFakeB, true)
	if err != nil {
		return err
	}

	predFakeA, err := m.dB.Forward(m.fakeA)
	if err != nil {
		return fmt.Errorf("critic D_B forward failed: %v", err)
	}
	lossGB, err := m.criterionGAN.Forward(predFakeA, true)
	if err != nil {
		return err
	}
	classClamped := tensor.ZeroBelowAutograd(m.classB, float32(m.opt.ClassificationClamp))
	lossClass, err := m.criterionBCE.Forward(classClamped, m.realB)
	if err != nil {
		return fmt.Errorf("wet/dry classification loss failed: %v", err)
	}
	lossGB = tensor.AddAutograd(lossGB, lossClass)

	lossCycleA, err := m.criterionCycle.Forward(m.recA, m.realA)
	if err != nil {
		return err
	}
	lossCycleA = tensor.ScaleAutograd(lossCycleA, lambdaA)

	recBThresholded := tensor.ZeroBelowAutograd(m.recB, float32(m.opt.CycleThreshold))
	lossCycleB, err := m.criterionCycle.Forward(recBThresholded, m.realB)
	if err != nil {
		return err
	}
	lossCycleB = tensor.ScaleAutograd(lossCycleB, lambdaB)

	total := tensor.AddAutograd(lossGA, lossGB)
	total = tensor.AddAutograd(total, lossCycleA)
	total = tensor.AddAutograd(total, lossCycleB)
	if lossIdtA != nil {
		total = tensor.AddAutograd(total, lossIdtA)
		total = tensor.AddAutograd(total, lossIdtB)
	}
	if err := total.Backward(); err != nil {
		return fmt.Errorf("translator backward failed: %v", err)
	}

	if err := m.recordLoss("G_A", lossGA); err != nil {
		return err
	}
	if err := m.recordLoss("G_B", lossGB); err != nil {
		return err
	}
	if err := m.recordLoss("cycle_A", lossCycleA); err != nil {
		return err
	}
	if err := m.recordLoss("cycle_B", lossCycleB); err != nil {
		return err
	}
	if lossIdtA != nil {
		if err := m.recordLoss("idt_A", lossIdtA); err != nil {
			return err
		}
		if err := m.recordLoss("idt_B", lossIdtB); err != nil {
			return err
		}
	} else {
		m.losses["idt_A"] = 0
		m.losses["idt_B"] = 0
	}

	return m.recordDiagnostics()
}

// recordDiagnostics computes the monitoring MSEs over detached views, so
// they never feed gradients back into either translator.
func (m *Model) recordDiagnostics() error {
	mseA, err := m.criterionMSE.Forward(m.fakeA.Detach(), m.realA.Detach())
	if err != nil {
		return fmt.Errorf("diagnostic mse_A failed: %v", err)
	}
	if err := m.recordLoss("mse_A", mseA); err != nil {
		return err
	}

	fakeBThresholded, err := tensor.ZeroBelow(m.fakeB.Detach(), float32(m.opt.CycleThreshold))
	if err != nil {
		return err
	}
	mseB, err := m.criterionMSE.Forward(fakeBThresholded, m.realB.Detach())
	if err != nil {
		return fmt.Errorf("diagnostic mse_B failed: %v", err)
	}
	return m.recordLoss("mse_B", mseB)
}

// OptimizeParameters runs one full training step: forward pass, translator
// update against frozen critics, then critic update against pooled fakes.
// Exactly one translator-optimizer step and one critic-optimizer step
// happen per call, and each replay pool is queried exactly once, only in
// the critic phase.
func (m *Model) OptimizeParameters() error {
	if !m.opt.IsTrain {
		return fmt.Errorf("model was built for inference; OptimizeParameters is unavailable")
	}

	if err := m.Forward(); err != nil {
		return err
	}

	critics := []training.Module{m.dA, m.dB}
	training.SetRequiresGrad(critics, false)
	m.optG.ZeroGrad()
	if err := m.backwardG(); err != nil {
		return err
	}
	if err := m.optG.Step(); err != nil {
		return fmt.Errorf("translator optimizer step failed: %v", err)
	}
	training.SetRequiresGrad(critics, true)

	m.optD.ZeroGrad()
	pooledFakeB, err := m.fakeBPool.Query(m.fakeB)
	if err != nil {
		return fmt.Errorf("fake_B pool query failed: %v", err)
	}
	lossDA, err := m.backwardDBasic(m.dA, m.realB, pooledFakeB)
	if err != nil {
		return fmt.Errorf("critic D_A update failed: %v", err)
	}
	m.losses["D_A"] = lossDA

	pooledFakeA, err := m.fakeAPool.Query(m.fakeA)
	if err != nil {
		return fmt.Errorf("fake_A pool query failed: %v", err)
	}
	lossDB, err := m.backwardDBasic(m.dB, m.realA, pooledFakeA)
	if err != nil {
		return fmt.Errorf("critic D_B update failed: %v", err)
	}
	m.losses["D_B"] = lossDB

	if err := m.optD.Step(); err != nil {
		return fmt.Errorf("critic optimizer step failed: %v", err)
	}
	return nil
}

// Test runs the forward pass with gradient tracking disabled and no
// parameter or pool mutation.
func (m *Model) Test() error {
	translators := []training.Module{m.gA, m.gB}
	training.SetRequiresGrad(translators, false)
	err := m.Forward()
	if m.opt.IsTrain {
		training.SetRequiresGrad(translators, true)
	}
	return err
}

func (m *Model) recordLoss(name string, loss *tensor.Tensor) error {
	v, err := loss.Float()
	if err != nil {
		return fmt.Errorf("loss %s is not scalar: %v", name, err)
	}
	m.losses[name] = v
	return nil
}

// CurrentLosses returns the scalar losses of the most recent training step,
// keyed by the names in LossNames.
func (m *Model) CurrentLosses() map[string]float64 {
	out := make(map[string]float64, len(m.losses))
	for k, v := range m.losses {
		out[k] = v
	}
	return out
}

// CurrentVisuals returns the tensors of the most recent forward pass, keyed
// by conventional names, for external plotting or inspection.
func (m *Model) CurrentVisuals() map[string]*tensor.Tensor {
	visuals := map[string]*tensor.Tensor{
		"real_A": m.realA,
		"fake_B": m.fakeB,
		"rec_A":  m.recA,
		"real_B": m.realB,
		"fake_A": m.fakeA,
		"rec_B":  m.recB,
	}
	if m.idtA != nil {
		visuals["idt_A"] = m.idtA
		visuals["idt_B"] = m.idtB
	}
	return visuals
}

// NamedNetworks returns the trainable networks by name: both translators
// and both critics during training, translators only at inference.
func (m *Model) NamedNetworks() map[string]training.Module {
	nets := map[string]training.Module{
		"G_A": m.gA,
		"G_B": m.gB,
	}
	if m.opt.IsTrain {
		nets["D_A"] = m.dA
		nets["D_B"] = m.dB
	}
	return nets
}

// Optimizers returns the translator and critic optimizers for external
// learning-rate scheduling. The critic optimizer is nil at inference.
func (m *Model) Optimizers() (g, d training.Optimizer) {
	return m.optG, m.optD
}

// PeakRainRate denormalizes the maximum value of the latest fake_B into
// physical rain-rate units using the batch's data transform. It is a hook
// for physically-informed loss shaping and reporting.
func (m *Model) PeakRainRate(channel int) (float64, error) {
	if m.fakeB == nil {
		return 0, fmt.Errorf("no forward pass has run")
	}
	if m.batch == nil || m.batch.DataTransform == nil {
		return 0, fmt.Errorf("no data transform available")
	}
	peak, err := tensor.MaxAll(m.fakeB)
	if err != nil {
		return 0, err
	}
	return m.batch.DataTransform.Inverse(float64(peak), channel)
}
