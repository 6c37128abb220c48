package gan

import "fmt"

// Direction selects which domain is the translation source.
type Direction string

const (
	// AtoB translates attenuation signals into rain-rate signals.
	AtoB Direction = "AtoB"
	// BtoA translates rain-rate signals into attenuation signals.
	BtoA Direction = "BtoA"
)

// Options configures a translation model. Zero values are filled in by
// DefaultOptions; callers typically start from that and override fields.
type Options struct {
	// IsTrain selects training mode (critics, criteria, optimizers, pools)
	// versus inference mode (translators only).
	IsTrain bool

	// Direction selects the source domain for the primary translation.
	Direction Direction

	// SliceLenA and SliceLenB are the per-sample sequence lengths of the
	// attenuation and rain-rate signals.
	SliceLenA int
	SliceLenB int

	// ChannelsA and ChannelsB are the per-timestep feature counts.
	ChannelsA int
	ChannelsB int

	// HiddenSize is the width of translator and critic hidden layers.
	HiddenSize int

	// LambdaA weights the A -> B -> A cycle-consistency loss.
	LambdaA float64
	// LambdaB weights the B -> A -> B cycle-consistency loss.
	LambdaB float64
	// LambdaIdentity scales the identity losses; zero disables them.
	LambdaIdentity float64

	// GANMode selects the adversarial criterion: "lsgan" or "vanilla".
	GANMode string

	// PoolSize is the capacity of each generated-sample replay pool.
	PoolSize int

	// LR, Beta1 configure the Adam optimizers.
	LR    float64
	Beta1 float64

	// CycleThreshold is the rain-rate floor: reconstructed rain-rate
	// values at or below it are zeroed before the B-cycle loss.
	CycleThreshold float64

	// ClassificationClamp is the floor applied to the sigmoid of a
	// translated rain-rate signal in the wet/dry classification term.
	ClassificationClamp float64
}

// DefaultOptions returns training options for the attenuation/rain-rate
// translation task.
func DefaultOptions() Options {
	return Options{
		IsTrain:             true,
		Direction:           AtoB,
		SliceLenA:           4,
		SliceLenB:           1,
		ChannelsA:           4,
		ChannelsB:           1,
		HiddenSize:          64,
		LambdaA:             10.0,
		LambdaB:             10.0,
		LambdaIdentity:      0.5,
		GANMode:             "lsgan",
		PoolSize:            50,
		LR:                  0.0002,
		Beta1:               0.5,
		CycleThreshold:      0.25,
		ClassificationClamp: 0.1,
	}
}

// Validate rejects option combinations the model cannot run with.
func (o Options) Validate() error {
	switch o.Direction {
	case AtoB, BtoA:
	default:
		return fmt.Errorf("direction %q is not supported", o.Direction)
	}
	switch o.GANMode {
	case "lsgan", "vanilla":
	default:
		return fmt.Errorf("gan mode %q is not supported", o.GANMode)
	}
	if o.SliceLenA <= 0 || o.SliceLenB <= 0 {
		return fmt.Errorf("slice lengths must be positive, got A=%d B=%d", o.SliceLenA, o.SliceLenB)
	}
	if o.ChannelsA <= 0 || o.ChannelsB <= 0 {
		return fmt.Errorf("channel counts must be positive, got A=%d B=%d", o.ChannelsA, o.ChannelsB)
	}
	if o.HiddenSize <= 0 {
		return fmt.Errorf("hidden size must be positive, got %d", o.HiddenSize)
	}
	if o.IsTrain {
		if o.LambdaA < 0 || o.LambdaB < 0 || o.LambdaIdentity < 0 {
			return fmt.Errorf("loss weights must be non-negative")
		}
		if o.LR <= 0 {
			return fmt.Errorf("learning rate must be positive, got %g", o.LR)
		}
	}
	return nil
}
