package training

// LRScheduler adjusts an optimizer's learning rate between epochs.
type LRScheduler interface {
	// Step advances the schedule by one epoch and applies the new rate.
	Step()
	// GetLR returns the learning rate the schedule currently prescribes.
	GetLR() float64
}

// LinearDecayLRScheduler keeps the initial learning rate constant for
// nEpochs epochs, then decays it linearly to zero over the following
// nEpochsDecay epochs. This is the schedule used for adversarial
// signal-translation training.
type LinearDecayLRScheduler struct {
	optimizer    Optimizer
	initialLR    float64
	nEpochs      int
	nEpochsDecay int
	epoch        int
}

func NewLinearDecayLRScheduler(optimizer Optimizer, nEpochs, nEpochsDecay int) *LinearDecayLRScheduler {
	return &LinearDecayLRScheduler{
		optimizer:    optimizer,
		initialLR:    optimizer.GetLR(),
		nEpochs:      nEpochs,
		nEpochsDecay: nEpochsDecay,
	}
}

func (s *LinearDecayLRScheduler) Step() {
	s.epoch++
	s.optimizer.SetLR(s.GetLR())
}

func (s *LinearDecayLRScheduler) GetLR() float64 {
	if s.epoch <= s.nEpochs || s.nEpochsDecay <= 0 {
		return s.initialLR
	}
	over := s.epoch - s.nEpochs
	if over >= s.nEpochsDecay {
		return 0
	}
	factor := 1.0 - float64(over)/float64(s.nEpochsDecay)
	return s.initialLR * factor
}

// StepLRScheduler multiplies the learning rate by gamma every stepSize
// epochs.
type StepLRScheduler struct {
	optimizer Optimizer
	initialLR float64
	stepSize  int
	gamma     float64
	epoch     int
}

func NewStepLRScheduler(optimizer Optimizer, stepSize int, gamma float64) *StepLRScheduler {
	return &StepLRScheduler{
		optimizer: optimizer,
		initialLR: optimizer.GetLR(),
		stepSize:  stepSize,
		gamma:     gamma,
	}
}

func (s *StepLRScheduler) Step() {
	s.epoch++
	s.optimizer.SetLR(s.GetLR())
}

func (s *StepLRScheduler) GetLR() float64 {
	if s.stepSize <= 0 {
		return s.initialLR
	}
	lr := s.initialLR
	for i := s.stepSize; i <= s.epoch; i += s.stepSize {
		lr *= s.gamma
	}
	return lr
}
