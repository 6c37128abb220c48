package gan

import (
	"fmt"
	"math/rand"

	"github.com/rainmetry/rainmetry/tensor"
)

// SignalPool buffers previously generated signal samples so critics can be
// updated against a history of translator outputs instead of only the most
// recent batch. Samples are stored and returned detached from any autograd
// graph.
//
// The pool has two modes, chosen from its state at the start of each Query
// call and held for the whole call: while it has not yet reached capacity it
// stores incoming samples and returns them unchanged; once full, each
// incoming sample either swaps with a uniformly chosen stored sample or
// passes through, with probability one half each.
type SignalPool struct {
	capacity int
	samples  []*tensor.Tensor
	rng      *rand.Rand
}

// NewSignalPool creates a pool holding up to capacity samples. A capacity
// of zero or less yields an identity pool: Query returns its input batch
// untouched and stores nothing. The rng drives swap decisions and stored
// sample selection; it must not be nil when capacity is positive.
func NewSignalPool(capacity int, rng *rand.Rand) (*SignalPool, error) {
	if capacity > 0 && rng == nil {
		return nil, fmt.Errorf("signal pool with capacity %d requires a random source", capacity)
	}
	return &SignalPool{
		capacity: capacity,
		samples:  make([]*tensor.Tensor, 0, max(capacity, 0)),
		rng:      rng,
	}, nil
}

// Len returns the number of samples currently stored.
func (p *SignalPool) Len() int {
	return len(p.samples)
}

// Capacity returns the configured capacity.
func (p *SignalPool) Capacity() int {
	return p.capacity
}

// Query passes a batch of generated samples through the pool. The batch is
// split along dimension 0; the returned tensor has the same shape as the
// input and is detached from the autograd graph. An empty batch returns an
// empty batch without touching pool state.
func (p *SignalPool) Query(batch *tensor.Tensor) (*tensor.Tensor, error) {
	if batch == nil {
		return nil, fmt.Errorf("signal pool query requires a batch tensor")
	}
	if p.capacity <= 0 {
		return batch, nil
	}
	if len(batch.Shape) < 1 {
		return nil, fmt.Errorf("signal pool query requires a batched tensor, got shape %v", batch.Shape)
	}

	n := batch.Shape[0]
	if n == 0 {
		return batch, nil
	}

	storing := len(p.samples) < p.capacity

	out := make([]*tensor.Tensor, 0, n)
	for i := 0; i < n; i++ {
		sample, err := sliceSample(batch, i)
		if err != nil {
			return nil, err
		}

		if storing {
			if len(p.samples) < p.capacity {
				stored, err := sample.Clone()
				if err != nil {
					return nil, err
				}
				p.samples = append(p.samples, stored.Detach())
			}
			out = append(out, sample)
			continue
		}

		if p.rng.Float64() < 0.5 {
			idx := p.rng.Intn(len(p.samples))
			returned := p.samples[idx]
			stored, err := sample.Clone()
			if err != nil {
				return nil, err
			}
			p.samples[idx] = stored.Detach()
			out = append(out, returned)
		} else {
			out = append(out, sample)
		}
	}

	return stackSamples(out, batch.Shape)
}

// sliceSample extracts sample i of a batched tensor as a detached tensor
// of shape [1, rest...].
func sliceSample(batch *tensor.Tensor, i int) (*tensor.Tensor, error) {
	sampleShape := make([]int, len(batch.Shape))
	sampleShape[0] = 1
	copy(sampleShape[1:], batch.Shape[1:])

	sampleSize := 1
	for _, dim := range batch.Shape[1:] {
		sampleSize *= dim
	}

	data, err := batch.GetFloat32Data()
	if err != nil {
		return nil, fmt.Errorf("failed to slice sample %d: %v", i, err)
	}

	sample := make([]float32, sampleSize)
	copy(sample, data[i*sampleSize:(i+1)*sampleSize])
	return tensor.NewTensor(sampleShape, tensor.Float32, batch.Device, sample)
}

// stackSamples concatenates per-sample tensors back into a batch of the
// given shape.
func stackSamples(samples []*tensor.Tensor, shape []int) (*tensor.Tensor, error) {
	outShape := make([]int, len(shape))
	copy(outShape, shape)

	sampleSize := 1
	for _, dim := range shape[1:] {
		sampleSize *= dim
	}

	data := make([]float32, len(samples)*sampleSize)
	for i, s := range samples {
		sd, err := s.GetFloat32Data()
		if err != nil {
			return nil, fmt.Errorf("failed to stack sample %d: %v", i, err)
		}
		copy(data[i*sampleSize:], sd)
	}
	return tensor.NewTensor(outShape, tensor.Float32, samples[0].Device, data)
}
