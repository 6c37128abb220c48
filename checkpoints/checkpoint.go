// Package checkpoints persists and restores named network parameters as
// JSON, together with enough run metadata to identify where a file came
// from.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rainmetry/rainmetry/training"
)

// WeightTensor is one parameter tensor in flattened form.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NetworkWeights holds all parameters of one named network, in the order
// the network reports them.
type NetworkWeights struct {
	Name    string         `json:"name"`
	Weights []WeightTensor `json:"weights"`
}

// TrainingState records where in the run the checkpoint was taken.
type TrainingState struct {
	Epoch        int                `json:"epoch"`
	LearningRate float64            `json:"learning_rate"`
	Losses       map[string]float64 `json:"losses,omitempty"`
}

// Metadata identifies the run that produced a checkpoint.
type Metadata struct {
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	CreatedAt  time.Time `json:"created_at"`
}

// Checkpoint is the on-disk document.
type Checkpoint struct {
	Metadata Metadata         `json:"metadata"`
	Training TrainingState    `json:"training"`
	Networks []NetworkWeights `json:"networks"`
}

// NewRunID returns a fresh identifier for a training run.
func NewRunID() string {
	return uuid.New().String()
}

// Capture snapshots the parameters of the given named networks. Networks
// are stored in sorted name order so the document is stable across runs.
func Capture(networks map[string]training.Module, runID, experiment string, state TrainingState) (*Checkpoint, error) {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)

	ckpt := &Checkpoint{
		Metadata: Metadata{
			RunID:      runID,
			Experiment: experiment,
			CreatedAt:  time.Now().UTC(),
		},
		Training: state,
		Networks: make([]NetworkWeights, 0, len(names)),
	}

	for _, name := range names {
		params := networks[name].Parameters()
		nw := NetworkWeights{
			Name:    name,
			Weights: make([]WeightTensor, 0, len(params)),
		}
		for i, p := range params {
			data, err := p.GetFloat32Data()
			if err != nil {
				return nil, fmt.Errorf("network %s parameter %d: %v", name, i, err)
			}
			shape := make([]int, len(p.Shape))
			copy(shape, p.Shape)
			values := make([]float32, len(data))
			copy(values, data)
			nw.Weights = append(nw.Weights, WeightTensor{
				Name:  fmt.Sprintf("%s.param_%d", name, i),
				Shape: shape,
				Data:  values,
			})
		}
		ckpt.Networks = append(ckpt.Networks, nw)
	}
	return ckpt, nil
}

// Apply restores the checkpoint's parameters into matching networks.
// Every network named in the checkpoint must be present with the same
// parameter count and shapes.
func (c *Checkpoint) Apply(networks map[string]training.Module) error {
	for _, nw := range c.Networks {
		net, ok := networks[nw.Name]
		if !ok {
			return fmt.Errorf("checkpoint names network %q, which is not present", nw.Name)
		}
		params := net.Parameters()
		if len(params) != len(nw.Weights) {
			return fmt.Errorf("network %s has %d parameters, checkpoint has %d", nw.Name, len(params), len(nw.Weights))
		}
		for i, w := range nw.Weights {
			if !sameShape(params[i].Shape, w.Shape) {
				return fmt.Errorf("network %s parameter %d: shape %v does not match checkpoint shape %v",
					nw.Name, i, params[i].Shape, w.Shape)
			}
			if err := params[i].SetData(w.Data); err != nil {
				return fmt.Errorf("network %s parameter %d: %v", nw.Name, i, err)
			}
		}
	}
	return nil
}

// Save writes the checkpoint as JSON, creating parent directories as
// needed.
func (c *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	return nil
}

// Load reads a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	ckpt := &Checkpoint{}
	if err := json.Unmarshal(data, ckpt); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return ckpt, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
