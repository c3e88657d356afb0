package config

import "sort"

var Presets = map[string]*Config{
	"quick": {
		Model: "quick", DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
		Training: TrainingConfig{Iterations: 10, MaxSteps: 200, LearningRate: 0.02, Render: false, Unroll: 8, Clip: DefaultClip},
	},
	"standard": {
		Model: DefaultModel, DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
		Training: TrainingConfig{Iterations: 50, MaxSteps: 500, LearningRate: 0.01, Render: true, Unroll: 8, Clip: DefaultClip},
	},
	"long": {
		Model: "long", DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
		Training: TrainingConfig{Iterations: 300, MaxSteps: 1000, LearningRate: 0.005, Render: true, Unroll: 8, Clip: DefaultClip},
	},
	"short-horizon": {
		Model: "short-horizon", DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
		Training: TrainingConfig{Iterations: 100, MaxSteps: 500, LearningRate: 0.01, Render: true, Unroll: 4, Clip: DefaultClip},
	},
	"heavy-pole": {
		Model: "heavy-pole", DataDir: DefaultDataDir, LogLevel: DefaultLogLevel,
		Training: TrainingConfig{Iterations: 100, MaxSteps: 500, LearningRate: 0.01, Render: true, Unroll: 8, Clip: DefaultClip},
		Physics:  PhysicsConfig{PoleMass: 0.5, HalfLength: 0.75, ForceMag: 15},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
