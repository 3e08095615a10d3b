// Package config loads training configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/seqcrf"
	"github.com/happyhackingspace/seqcrf/crf"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid value")

// Prior selects the parameter penalty.
type Prior struct {
	Kind      string  `yaml:"kind"` // gaussian, hyperbolic or none
	Variance  float64 `yaml:"variance"`
	Slope     float64 `yaml:"slope"`
	Sharpness float64 `yaml:"sharpness"`
}

// Optimizer holds L-BFGS settings.
type Optimizer struct {
	MaxIterations     int     `yaml:"max-iterations"`
	Memory            int     `yaml:"memory"`
	Tolerance         float64 `yaml:"tolerance"`
	GradientTolerance float64 `yaml:"gradient-tolerance"`
}

// Config mirrors the YAML training file.
type Config struct {
	Topology     string    `yaml:"topology"`
	Orders       []int     `yaml:"orders"`
	StartLabel   string    `yaml:"start-label"`
	StartState   string    `yaml:"start-state"`
	Forbidden    string    `yaml:"forbidden"`
	Allowed      string    `yaml:"allowed"`
	ObservedOnly bool      `yaml:"observed-only"`
	Prior        Prior     `yaml:"prior"`
	Optimizer    Optimizer `yaml:"optimizer"`
	Workers      int       `yaml:"workers"`
	Strict       bool      `yaml:"strict"`
	Dense        bool      `yaml:"dense"`
	InitScale    float64   `yaml:"init-scale"`
	Seed         uint64    `yaml:"seed"`
	Proportions  []float64 `yaml:"proportions"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	d := seqcrf.DefaultTrainConfig()
	tc := d.Trainer
	return Config{
		Topology: string(d.Topology),
		Orders:   d.Orders,
		Prior:    Prior{Kind: "gaussian", Variance: 10, Slope: 0.2, Sharpness: 10},
		Optimizer: Optimizer{
			MaxIterations:     tc.MaxIterations,
			Memory:            tc.Memory,
			Tolerance:         tc.Tolerance,
			GradientTolerance: tc.GradientTolerance,
		},
		Strict: tc.Strict,
		Seed:   tc.Seed,
	}
}

// Parse reads YAML over the defaults; keys absent from data keep their
// default values.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads a YAML configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Validate checks value ranges that the training code would otherwise
// reject much later.
func (c Config) Validate() error {
	switch seqcrf.Topology(c.Topology) {
	case seqcrf.FullyConnected, seqcrf.ConnectedAsIn, seqcrf.HalfConnected, seqcrf.OrderN:
	default:
		return invalid("topology %q", c.Topology)
	}
	if _, err := c.prior(); err != nil {
		return err
	}
	if c.Optimizer.MaxIterations <= 0 {
		return invalid("max-iterations %d", c.Optimizer.MaxIterations)
	}
	if c.Workers < 0 {
		return invalid("workers %d", c.Workers)
	}
	if c.InitScale < 0 {
		return invalid("init-scale %v", c.InitScale)
	}
	for _, p := range c.Proportions {
		if p <= 0 || p > 1 {
			return invalid("proportion %v outside (0, 1]", p)
		}
	}
	return nil
}

func (c Config) prior() (crf.Prior, error) {
	switch c.Prior.Kind {
	case "gaussian", "":
		if c.Prior.Variance <= 0 {
			return nil, invalid("gaussian variance %v", c.Prior.Variance)
		}
		return crf.GaussianPrior{Variance: c.Prior.Variance}, nil
	case "hyperbolic":
		if c.Prior.Slope <= 0 || c.Prior.Sharpness <= 0 {
			return nil, invalid("hyperbolic slope %v sharpness %v", c.Prior.Slope, c.Prior.Sharpness)
		}
		return crf.HyperbolicPrior{Slope: c.Prior.Slope, Sharpness: c.Prior.Sharpness}, nil
	case "none":
		return crf.NoPrior{}, nil
	default:
		return nil, invalid("prior %q", c.Prior.Kind)
	}
}

// TrainConfig converts the file form into the training configuration.
func (c Config) TrainConfig() (seqcrf.TrainConfig, error) {
	if err := c.Validate(); err != nil {
		return seqcrf.TrainConfig{}, err
	}
	prior, _ := c.prior()
	tc := crf.DefaultTrainerConfig()
	tc.Prior = prior
	tc.MaxIterations = c.Optimizer.MaxIterations
	tc.Memory = c.Optimizer.Memory
	tc.Tolerance = c.Optimizer.Tolerance
	tc.GradientTolerance = c.Optimizer.GradientTolerance
	tc.Workers = c.Workers
	tc.Strict = c.Strict
	tc.DenseWeights = c.Dense
	tc.InitScale = c.InitScale
	tc.Seed = c.Seed
	tc.Proportions = c.Proportions

	return seqcrf.TrainConfig{
		Topology:     seqcrf.Topology(c.Topology),
		Orders:       c.Orders,
		StartLabel:   c.StartLabel,
		Forbidden:    c.Forbidden,
		Allowed:      c.Allowed,
		ObservedOnly: c.ObservedOnly,
		StartState:   c.StartState,
		Trainer:      tc,
	}, nil
}
