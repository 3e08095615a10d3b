package crf

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/exp/rand"

	"github.com/happyhackingspace/seqcrf/optimize"
)

// TrainerConfig holds CRF training hyperparameters.
type TrainerConfig struct {
	Prior             Prior
	MaxIterations     int
	Memory            int     // L-BFGS correction pairs
	Tolerance         float64 // relative change in objective
	GradientTolerance float64 // infinity norm of the gradient
	Workers           int     // parallel instances, 0 for GOMAXPROCS
	Strict            bool    // fail if an instance's feasibility changes mid-training
	DenseWeights      bool    // weight sets cover every feature, not just observed ones
	InitScale         float64 // uniform random init in [-InitScale, InitScale]; 0 starts at zero
	Seed              uint64
	Proportions       []float64 // train on growing prefixes of a seeded shuffle
	OnIteration       func(optimize.Iteration)
}

// DefaultTrainerConfig returns the default training config.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Prior:             GaussianPrior{Variance: 10},
		MaxIterations:     500,
		Memory:            4,
		Tolerance:         1e-4,
		GradientTolerance: 1e-3,
		Strict:            true,
		Seed:              1,
	}
}

// TrainResult reports how training ended. Converged is false when the
// optimizer stopped on a line-search failure or the iteration cap; the graph
// then holds the best parameters found.
type TrainResult struct {
	Status       optimize.Status
	Iterations   int
	Value        float64
	GradientNorm float64
	Excluded     []int
}

// Converged reports whether training reached a convergence criterion.
func (r TrainResult) Converged() bool { return r.Status == optimize.Converged }

// SetWeightsDimensionAsIn gives every weight set sparse support over the
// features that occur on label-consistent transitions of instances.
func SetWeightsDimensionAsIn(g *Graph, instances []Instance) error {
	if err := g.Resolve(); err != nil {
		return err
	}
	support := make([]map[int]bool, g.weights.Len())
	for i := range support {
		support[i] = make(map[int]bool)
	}
	for n, inst := range instances {
		lat, err := NewLattice(g, inst.Input, inst.Output)
		if err != nil {
			return fmt.Errorf("instance %d: %w", n, err)
		}
		if !lat.Feasible() {
			continue
		}
		for t := range lat.Length() {
			for tr := range g.transitions {
				if IsInfinite(lat.Xi(t, tr)) {
					continue
				}
				for _, w := range g.transitions[tr].Weights {
					for _, f := range inst.Input[t].Indices {
						support[w][f] = true
					}
				}
			}
		}
	}
	for w, fs := range support {
		features := make([]int, 0, len(fs))
		for f := range fs {
			features = append(features, f)
		}
		g.weights.AddSupport(w, features)
	}
	return nil
}

// Train fits the graph's trainable parameters to instances by minimizing the
// penalized negative conditional log-likelihood with L-BFGS.
func Train(ctx context.Context, g *Graph, instances []Instance, config TrainerConfig) (TrainResult, error) {
	if err := g.Resolve(); err != nil {
		return TrainResult{}, err
	}
	if len(instances) == 0 {
		return TrainResult{}, ErrNoInstances
	}
	if config.DenseWeights {
		g.weights.Densify()
	} else if err := SetWeightsDimensionAsIn(g, instances); err != nil {
		return TrainResult{}, err
	}

	objCfg := ObjectiveConfig{Prior: config.Prior, Workers: config.Workers, Strict: config.Strict}
	rng := rand.New(rand.NewSource(config.Seed))
	if config.InitScale > 0 {
		obj, err := NewObjective(g, nil, objCfg)
		if err != nil {
			return TrainResult{}, err
		}
		x := make([]float64, obj.NumParameters())
		obj.Parameters(x)
		for i := range x {
			x[i] += config.InitScale * (2*rng.Float64() - 1)
		}
		obj.SetParameters(x)
	}

	proportions := config.Proportions
	if len(proportions) == 0 {
		proportions = []float64{1}
	}
	order := rng.Perm(len(instances))

	slog.Info("CRF training", "instances", len(instances), "states", g.NumStates(),
		"transitions", g.NumTransitions(), "weight_sets", g.weights.Len())

	var result TrainResult
	for _, p := range proportions {
		n := int(math.Ceil(p * float64(len(instances))))
		n = max(1, min(n, len(instances)))
		subset := instances
		if n < len(instances) {
			subset = make([]Instance, n)
			for i := range n {
				subset[i] = instances[order[i]]
			}
		}

		obj, err := NewObjective(g, subset, objCfg)
		if err != nil {
			return TrainResult{}, err
		}
		opt := optimize.NewLBFGS(optimize.Config{
			Memory:            config.Memory,
			Tolerance:         config.Tolerance,
			GradientTolerance: config.GradientTolerance,
		})
		opt.OnIteration = config.OnIteration

		slog.Debug("CRF training stage", "proportion", p, "instances", n, "parameters", obj.NumParameters())
		res, err := opt.Optimize(ctx, obj, config.MaxIterations)
		if err != nil {
			return TrainResult{}, err
		}
		result = TrainResult{
			Status:       res.Status,
			Iterations:   result.Iterations + res.Iterations,
			Value:        res.Value,
			GradientNorm: res.GradientNorm,
			Excluded:     obj.Excluded(),
		}
	}

	if result.Converged() {
		slog.Info("CRF converged", "iterations", result.Iterations, "value", result.Value)
	} else {
		slog.Warn("CRF did not fully converge", "reason", result.Status, "iterations", result.Iterations, "value", result.Value)
	}
	return result, nil
}
