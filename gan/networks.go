package gan

import (
	"fmt"

	"github.com/rainmetry/rainmetry/tensor"
	"github.com/rainmetry/rainmetry/training"
)

// NewTranslator builds a translator mapping a [batch, inChannels, inLen]
// sequence to a [batch, outChannels, outLen] sequence. The final Tanh keeps
// outputs in the normalized [-1, 1] range the dataset uses.
func NewTranslator(inChannels, inLen, outChannels, outLen, hiddenSize int, device tensor.DeviceType) (training.Module, error) {
	fc1, err := training.NewLinear(inChannels*inLen, hiddenSize, true, device)
	if err != nil {
		return nil, fmt.Errorf("failed to build translator input layer: %v", err)
	}
	fc2, err := training.NewLinear(hiddenSize, hiddenSize, true, device)
	if err != nil {
		return nil, fmt.Errorf("failed to build translator hidden layer: %v", err)
	}
	fc3, err := training.NewLinear(hiddenSize, outChannels*outLen, true, device)
	if err != nil {
		return nil, fmt.Errorf("failed to build translator output layer: %v", err)
	}

	return training.NewSequential(
		training.NewFlatten(),
		fc1,
		training.NewLeakyReLU(0.2),
		fc2,
		training.NewLeakyReLU(0.2),
		fc3,
		training.NewTanh(),
		training.NewUnflatten(outChannels, outLen),
	), nil
}

// NewCritic builds a critic scoring a [batch, channels, length] sequence as
// a single realness value per sample. The output is a raw score; the GAN
// criterion decides whether to squash it.
func NewCritic(channels, length, hiddenSize int, device tensor.DeviceType) (training.Module, error) {
	fc1, err := training.NewLinear(channels*length, hiddenSize, true, device)
	if err != nil {
		return nil, fmt.Errorf("failed to build critic input layer: %v", err)
	}
	fc2, err := training.NewLinear(hiddenSize, hiddenSize, true, device)
	if err != nil {
		return nil, fmt.Errorf("failed to build critic hidden layer: %v", err)
	}
	fc3, err := training.NewLinear(hiddenSize, 1, true, device)
	if err != nil {
		return nil, fmt.Errorf("failed to build critic output layer: %v", err)
	}

	return training.NewSequential(
		training.NewFlatten(),
		fc1,
		training.NewLeakyReLU(0.2),
		fc2,
		training.NewLeakyReLU(0.2),
		fc3,
	), nil
}
