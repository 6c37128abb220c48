package gan

import (
	"fmt"

	"github.com/rainmetry/rainmetry/tensor"
)

// Transform holds per-channel min/max normalization bounds. The training
// data is normalized into [-1, 1]; Inverse maps a normalized value back to
// physical units.
type Transform struct {
	Min []float32
	Max []float32
}

// MinMaxInverse maps x from the symmetric normalized range [-1, 1] back to
// the physical range [min, max].
func MinMaxInverse(x, min, max float64) float64 {
	return (x+1)*(max-min)/2 + min
}

// Inverse denormalizes x using the bounds of the given channel.
func (t *Transform) Inverse(x float64, channel int) (float64, error) {
	if t == nil {
		return 0, fmt.Errorf("transform is missing")
	}
	if channel < 0 || channel >= len(t.Min) || channel >= len(t.Max) {
		return 0, fmt.Errorf("transform has no bounds for channel %d", channel)
	}
	return MinMaxInverse(x, float64(t.Min[channel]), float64(t.Max[channel])), nil
}

// Validate rejects transforms with mismatched or empty bounds.
func (t *Transform) Validate() error {
	if t == nil {
		return fmt.Errorf("transform is missing")
	}
	if len(t.Min) == 0 || len(t.Max) == 0 {
		return fmt.Errorf("transform bounds are empty")
	}
	if len(t.Min) != len(t.Max) {
		return fmt.Errorf("transform has %d min bounds but %d max bounds", len(t.Min), len(t.Max))
	}
	return nil
}

// Batch is one unpaired sample pair from the two domains, plus the
// auxiliary descriptors the dataset attaches to it. The two sequences share
// a batch dimension but are not temporally aligned. The model treats the
// descriptors as read-only.
type Batch struct {
	// A is the attenuation sequence, B the rain-rate sequence.
	A *tensor.Tensor
	B *tensor.Tensor

	// LinkID and GaugeID identify the microwave link and rain gauge the
	// sequences were recorded at.
	LinkID  string
	GaugeID string

	// MetadataA and MetadataB carry per-sample auxiliary features
	// (coordinates, sensor descriptors) for each domain.
	MetadataA *tensor.Tensor
	MetadataB *tensor.Tensor

	// RainProb and AttenuationProb are the occurrence probabilities of
	// nonzero rain rate and attenuation within the sample window.
	RainProb        float64
	AttenuationProb float64

	// DataTransform and MetadataTransform hold the per-channel min/max
	// bounds the dataset normalized with.
	DataTransform     *Transform
	MetadataTransform *Transform
}

// Validate fails fast on a batch with missing required fields.
func (b *Batch) Validate() error {
	if b == nil {
		return fmt.Errorf("batch is nil")
	}
	if b.A == nil {
		return fmt.Errorf("batch is missing the attenuation sequence")
	}
	if b.B == nil {
		return fmt.Errorf("batch is missing the rain-rate sequence")
	}
	if len(b.A.Shape) == 0 || len(b.B.Shape) == 0 {
		return fmt.Errorf("batch sequences must be non-scalar tensors")
	}
	if b.A.Shape[0] != b.B.Shape[0] {
		return fmt.Errorf("batch dimensions differ: A has %d samples, B has %d", b.A.Shape[0], b.B.Shape[0])
	}
	if err := b.DataTransform.Validate(); err != nil {
		return fmt.Errorf("batch data transform: %v", err)
	}
	if b.MetadataTransform != nil {
		if err := b.MetadataTransform.Validate(); err != nil {
			return fmt.Errorf("batch metadata transform: %v", err)
		}
	}
	return nil
}
