package config

import (
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/diffpole/internal/dynamo"
	"github.com/san-kum/diffpole/internal/physics"
)

const (
	DefaultModel        = "cartpole"
	DefaultDataDir      = "runs"
	DefaultLogLevel     = "info"
	DefaultIterations   = 50
	DefaultMaxSteps     = 500
	DefaultLearningRate = 0.01
	DefaultUnroll       = 8
	DefaultClip         = 5.0
)

type Config struct {
	Model    string         `yaml:"model"`
	DataDir  string         `yaml:"data_dir"`
	Seed     int64          `yaml:"seed"`
	LogLevel string         `yaml:"log_level"`
	Training TrainingConfig `yaml:"training"`
	Physics  PhysicsConfig  `yaml:"physics"`
}

// TrainingConfig is the per-run configuration checked at the start of
// every training call.
type TrainingConfig struct {
	Iterations   int     `yaml:"iterations"`
	MaxSteps     int     `yaml:"max_steps"`
	LearningRate float64 `yaml:"learning_rate"`
	Render       bool    `yaml:"render"`
	Unroll       int     `yaml:"unroll"`
	Clip         float64 `yaml:"clip"`
}

// PhysicsConfig overrides cart-pole constants. Zero leaves the default.
type PhysicsConfig struct {
	ForceMag   float64 `yaml:"force_mag,omitempty"`
	Tau        float64 `yaml:"tau,omitempty"`
	PoleMass   float64 `yaml:"pole_mass,omitempty"`
	HalfLength float64 `yaml:"half_length,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:    DefaultModel,
		DataDir:  DefaultDataDir,
		LogLevel: DefaultLogLevel,
		Training: TrainingConfig{
			Iterations:   DefaultIterations,
			MaxSteps:     DefaultMaxSteps,
			LearningRate: DefaultLearningRate,
			Render:       true,
			Unroll:       DefaultUnroll,
			Clip:         DefaultClip,
		},
	}
}

// Load reads a config file over the defaults. Keys missing from the file
// keep their default values.
func Load(path string) (*Config, error) {
	return LoadOnto(path, DefaultConfig())
}

// LoadOnto reads a config file over base, which is modified and returned.
func LoadOnto(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, err
	}
	return base, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports the first rejected field as a *dynamo.ValidationError.
func (c *Config) Validate() error {
	if c.Model == "" {
		return invalid("model", c.Model, "must name a policy handle")
	}
	if err := c.Training.Validate(); err != nil {
		return err
	}
	return c.Physics.Validate()
}

func (t TrainingConfig) Validate() error {
	switch {
	case t.Iterations <= 0:
		return invalid("iterations", t.Iterations, "must be greater than 0")
	case t.MaxSteps <= 1:
		return invalid("max_steps", t.MaxSteps, "must be greater than 1")
	case !positive(t.LearningRate):
		return invalid("learning_rate", t.LearningRate, "must be a positive finite number")
	case t.Unroll < 2:
		// a one-step block has no gradient path from the action to the loss
		return invalid("unroll", t.Unroll, "must be at least 2")
	case t.Clip < 0 || math.IsNaN(t.Clip) || math.IsInf(t.Clip, 0):
		return invalid("clip", t.Clip, "must be zero or a positive finite number")
	}
	return nil
}

func (p PhysicsConfig) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"physics.force_mag", p.ForceMag},
		{"physics.tau", p.Tau},
		{"physics.pole_mass", p.PoleMass},
		{"physics.half_length", p.HalfLength},
	}
	for _, f := range fields {
		if f.v != 0 && !positive(f.v) {
			return invalid(f.name, f.v, "must be a positive finite number")
		}
	}
	return nil
}

// NewCartPole builds the simulator with any overrides applied.
func (c *Config) NewCartPole() *physics.CartPole {
	cp := physics.NewCartPole()
	if c.Physics.ForceMag != 0 {
		cp.ForceMag = c.Physics.ForceMag
	}
	if c.Physics.Tau != 0 {
		cp.Tau = c.Physics.Tau
	}
	if c.Physics.PoleMass != 0 {
		cp.PoleMass = c.Physics.PoleMass
	}
	if c.Physics.HalfLength != 0 {
		cp.HalfLength = c.Physics.HalfLength
	}
	return cp
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func invalid(field string, value any, reason string) error {
	return &dynamo.ValidationError{Field: field, Value: value, Reason: reason}
}
