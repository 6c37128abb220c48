package training

import (
	"fmt"

	"github.com/rainmetry/rainmetry/tensor"
)

// The criteria here build autograd graphs, so a scalar loss returned by
// Forward can be backpropagated through arbitrary compositions, including
// the summed multi-criterion objective the adversarial trainer uses.

// checkSameShape enforces the no-silent-broadcast rule for criteria.
func checkSameShape(name string, predicted, target *tensor.Tensor) error {
	if predicted.DType != target.DType {
		return fmt.Errorf("%s: predicted and target tensors must have the same dtype", name)
	}
	if len(predicted.Shape) != len(target.Shape) {
		return fmt.Errorf("%s: shape mismatch: %v vs %v", name, predicted.Shape, target.Shape)
	}
	for i, dim := range predicted.Shape {
		if dim != target.Shape[i] {
			return fmt.Errorf("%s: shape mismatch: %v vs %v", name, predicted.Shape, target.Shape)
		}
	}
	return nil
}

// L1Loss implements mean absolute error.
type L1Loss struct{}

func NewL1Loss() *L1Loss {
	return &L1Loss{}
}

// Forward computes L = mean(|predicted - target|).
func (l *L1Loss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape("L1Loss", predicted, target); err != nil {
		return nil, err
	}

	diff := tensor.SubAutograd(predicted, target)
	return tensor.MeanAutograd(tensor.AbsAutograd(diff)), nil
}

// MSELoss implements mean squared error.
type MSELoss struct{}

func NewMSELoss() *MSELoss {
	return &MSELoss{}
}

// Forward computes L = mean((predicted - target)^2).
func (mse *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape("MSELoss", predicted, target); err != nil {
		return nil, err
	}

	diff := tensor.SubAutograd(predicted, target)
	return tensor.MeanAutograd(tensor.MulAutograd(diff, diff)), nil
}

// BCELoss implements mean binary cross-entropy over probabilities.
type BCELoss struct{}

func NewBCELoss() *BCELoss {
	return &BCELoss{}
}

// Forward computes L = -mean(t*log(p) + (1-t)*log(1-p)). Probabilities are
// clamped away from 0 and 1 internally; targets carry no gradient.
func (bce *BCELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape("BCELoss", predicted, target); err != nil {
		return nil, err
	}

	return tensor.BCEAutograd(predicted, target), nil
}

// GANLoss scores critic output against a real/fake target label. The
// lsgan mode uses least squares against the label; the vanilla mode runs
// the raw critic output through sigmoid + binary cross-entropy.
type GANLoss struct {
	mode            string
	targetRealLabel float32
	targetFakeLabel float32
}

// NewGANLoss creates a GAN criterion for mode "lsgan" or "vanilla".
func NewGANLoss(mode string) (*GANLoss, error) {
	switch mode {
	case "lsgan", "vanilla":
	default:
		return nil, fmt.Errorf("gan mode %q is not supported", mode)
	}
	return &GANLoss{
		mode:            mode,
		targetRealLabel: 1.0,
		targetFakeLabel: 0.0,
	}, nil
}

// Forward computes the criterion for a critic prediction tensor of any
// shape; the target label is expanded to the prediction's shape.
func (g *GANLoss) Forward(prediction *tensor.Tensor, targetIsReal bool) (*tensor.Tensor, error) {
	label := g.targetFakeLabel
	if targetIsReal {
		label = g.targetRealLabel
	}

	target, err := tensor.Full(prediction.Shape, label, tensor.Float32, prediction.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to create target tensor: %v", err)
	}

	switch g.mode {
	case "lsgan":
		diff := tensor.SubAutograd(prediction, target)
		return tensor.MeanAutograd(tensor.MulAutograd(diff, diff)), nil
	case "vanilla":
		probs := tensor.SigmoidAutograd(prediction)
		return tensor.BCEAutograd(probs, target), nil
	default:
		return nil, fmt.Errorf("gan mode %q is not supported", g.mode)
	}
}
