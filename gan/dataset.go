package gan

import (
	"fmt"
	"math/rand"
)

// Dataset supplies unpaired sample batches. Implementations own the data
// files, normalization statistics and metadata; the model only consumes
// the Batch structures they hand out.
type Dataset interface {
	// Len returns the number of batches available.
	Len() int
	// Get returns batch i. Implementations should validate their own
	// fields; the model re-validates on SetInput.
	Get(i int) (*Batch, error)
}

// Loader iterates a Dataset in shuffled order, reshuffling at the start of
// every epoch. Shuffling uses an injected random source so runs are
// reproducible.
type Loader struct {
	dataset Dataset
	rng     *rand.Rand
	shuffle bool
	order   []int
	pos     int
}

func NewLoader(dataset Dataset, shuffle bool, rng *rand.Rand) (*Loader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("loader requires a dataset")
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling loader requires a random source")
	}
	l := &Loader{
		dataset: dataset,
		rng:     rng,
		shuffle: shuffle,
		order:   make([]int, dataset.Len()),
	}
	l.Reset()
	return l, nil
}

// Reset starts a new epoch, reshuffling if configured.
func (l *Loader) Reset() {
	for i := range l.order {
		l.order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	l.pos = 0
}

// Next returns the next batch of the epoch, or false when the epoch is
// exhausted.
func (l *Loader) Next() (*Batch, bool, error) {
	if l.pos >= len(l.order) {
		return nil, false, nil
	}
	batch, err := l.dataset.Get(l.order[l.pos])
	if err != nil {
		return nil, false, fmt.Errorf("failed to load batch %d: %v", l.order[l.pos], err)
	}
	l.pos++
	return batch, true, nil
}

// SliceDataset is an in-memory Dataset over pre-built batches.
type SliceDataset struct {
	batches []*Batch
}

func NewSliceDataset(batches []*Batch) *SliceDataset {
	return &SliceDataset{batches: batches}
}

func (d *SliceDataset) Len() int {
	return len(d.batches)
}

func (d *SliceDataset) Get(i int) (*Batch, error) {
	if i < 0 || i >= len(d.batches) {
		return nil, fmt.Errorf("batch index %d out of range [0, %d)", i, len(d.batches))
	}
	return d.batches[i], nil
}
