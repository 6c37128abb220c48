// Package config loads and saves experiment configuration for the
// attenuation/rain-rate translation trainer.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full experiment configuration, serialized as YAML.
type Config struct {
	// Name identifies the experiment; checkpoints are stored under it.
	Name string `yaml:"name"`

	// Seed initializes every random source of the run.
	Seed int64 `yaml:"seed"`

	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
}

// ModelConfig configures the translation model.
type ModelConfig struct {
	Direction           string  `yaml:"direction"`
	SliceLenA           int     `yaml:"slice_len_a"`
	SliceLenB           int     `yaml:"slice_len_b"`
	ChannelsA           int     `yaml:"channels_a"`
	ChannelsB           int     `yaml:"channels_b"`
	HiddenSize          int     `yaml:"hidden_size"`
	LambdaA             float64 `yaml:"lambda_a"`
	LambdaB             float64 `yaml:"lambda_b"`
	LambdaIdentity      float64 `yaml:"lambda_identity"`
	GANMode             string  `yaml:"gan_mode"`
	PoolSize            int     `yaml:"pool_size"`
	CycleThreshold      float64 `yaml:"cycle_threshold"`
	ClassificationClamp float64 `yaml:"classification_clamp"`
}

// TrainingConfig configures the outer training loop.
type TrainingConfig struct {
	// NEpochs is the number of epochs at the initial learning rate;
	// NEpochsDecay is the number of epochs over which it then decays
	// linearly to zero.
	NEpochs      int `yaml:"n_epochs"`
	NEpochsDecay int `yaml:"n_epochs_decay"`

	LR    float64 `yaml:"lr"`
	Beta1 float64 `yaml:"beta1"`

	// PrintFreq and SaveFreq are in iterations and epochs respectively.
	PrintFreq int `yaml:"print_freq"`
	SaveFreq  int `yaml:"save_freq"`

	// CheckpointDir is the root directory for saved networks.
	CheckpointDir string `yaml:"checkpoint_dir"`
}

// Default returns a configuration with working defaults for the
// attenuation/rain-rate task.
func Default() *Config {
	return &Config{
		Name: "cml2rain",
		Seed: 42,
		Model: ModelConfig{
			Direction:           "AtoB",
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
			CycleThreshold:      0.25,
			ClassificationClamp: 0.1,
		},
		Training: TrainingConfig{
			NEpochs:       100,
			NEpochsDecay:  100,
			LR:            0.0002,
			Beta1:         0.5,
			PrintFreq:     100,
			SaveFreq:      5,
			CheckpointDir: "checkpoints",
		},
	}
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the file if it exists and falls back to Default
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the configuration as YAML, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the trainer cannot run with.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("experiment name must not be empty")
	}
	switch c.Model.Direction {
	case "AtoB", "BtoA":
	default:
		return fmt.Errorf("direction %q is not supported", c.Model.Direction)
	}
	if c.Training.NEpochs < 0 || c.Training.NEpochsDecay < 0 {
		return fmt.Errorf("epoch counts must be non-negative")
	}
	if c.Training.LR <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", c.Training.LR)
	}
	return nil
}
