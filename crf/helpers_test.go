package crf

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
)

// randomGraph builds a fully connected graph over labels with dense random
// weights over numFeatures features and random boundary costs.
func randomGraph(t *testing.T, seed uint64, labels []string, numFeatures int) *Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	features := NewAlphabet()
	for f := range numFeatures {
		features.Add(string(rune('a' + f)))
	}
	g := NewGraph(nil, features)
	if err := g.AddFullyConnectedStates(labels); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	g.Weights().Densify()
	for s := range g.NumStates() {
		g.SetInitialCost(s, rng.Float64())
		g.SetFinalCost(s, rng.Float64())
	}
	for w := range g.Weights().Len() {
		g.Weights().SetDefault(w, rng.NormFloat64())
		for f := range numFeatures {
			g.Weights().SetWeight(w, f, rng.NormFloat64())
		}
	}
	return g
}

func randomSequence(seed uint64, length, numFeatures int) Sequence {
	rng := rand.New(rand.NewSource(seed))
	seq := make(Sequence, length)
	for t := range seq {
		var idx []int
		var val []float64
		for f := range numFeatures {
			if rng.Float64() < 0.6 {
				idx = append(idx, f)
				val = append(val, rng.Float64()*2)
			}
		}
		seq[t] = NewFeatureVector(idx, val)
	}
	return seq
}

// enumeratePaths returns the cost of every complete transition path through
// g for input, consistent with output when non-nil.
func enumeratePaths(g *Graph, input Sequence, output []int) []float64 {
	var costs []float64
	var walk func(t, s int, acc float64)
	walk = func(t, s int, acc float64) {
		if t == len(input) {
			if fc := g.State(s).FinalCost; !IsInfinite(fc) {
				costs = append(costs, acc+fc)
			}
			return
		}
		out := g.TransitionCosts(s, input[t], labelAt(output, t), nil)
		first, _ := g.TransitionRange(s)
		for k, c := range out {
			if IsInfinite(c) {
				continue
			}
			walk(t+1, g.Transition(first+k).Dest, acc+c)
		}
	}
	for s := range g.NumStates() {
		if ic := g.State(s).InitialCost; !IsInfinite(ic) {
			walk(0, s, ic)
		}
	}
	return costs
}

func approxEqual(a, b, tol float64) bool {
	if IsInfinite(a) || IsInfinite(b) {
		return IsInfinite(a) && IsInfinite(b)
	}
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
