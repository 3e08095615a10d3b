package crf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Lattice holds forward-backward costs of one input sequence over a graph.
// Node t sits between frames t-1 and t, so there are len(input)+1 nodes and
// the transition leaving node t consumes frame t. A Lattice is never mutated
// after NewLattice returns.
type Lattice struct {
	graph  *Graph
	length int
	alpha  [][]float64 // [N+1][S]
	beta   [][]float64 // [N+1][S]
	gamma  [][]float64 // [N+1][S]
	costs  [][]float64 // [N][T]
	total  float64
}

func checkSequence(g *Graph, input Sequence, output []int) error {
	if !g.resolved {
		return configErr("lattice", ErrNotResolved)
	}
	if output != nil && len(output) != len(input) {
		return fmt.Errorf("%w: input %d, output %d", ErrLengthMismatch, len(input), len(output))
	}
	for t, l := range output {
		if l != NoLabel && (l < 0 || l >= g.labels.Size()) {
			return fmt.Errorf("%w: label %d at position %d", ErrAlphabetMismatch, l, t)
		}
	}
	return nil
}

func labelAt(output []int, t int) int {
	if output == nil {
		return NoLabel
	}
	return output[t]
}

// NewLattice runs forward-backward over input. A non-nil output constrains
// every position to transitions emitting that label (NoLabel leaves a
// position free). A constrained lattice with no consistent path has an
// infinite TotalCost; it is returned without error and Feasible reports false.
func NewLattice(g *Graph, input Sequence, output []int) (*Lattice, error) {
	if err := checkSequence(g, input, output); err != nil {
		return nil, err
	}
	N, S, T := len(input), len(g.states), len(g.transitions)
	l := &Lattice{
		graph:  g,
		length: N,
		alpha:  newCostMatrix(N+1, S),
		beta:   newCostMatrix(N+1, S),
		costs:  make([][]float64, N),
	}

	memo := newScoreMemo(g.weights.Len())
	for t := range N {
		l.costs[t] = make([]float64, T)
		g.frameCosts(input[t], labelAt(output, t), memo, l.costs[t])
	}

	// Forward
	for s := range S {
		l.alpha[0][s] = g.states[s].InitialCost
	}
	for t := range N {
		cur, next := l.alpha[t], l.alpha[t+1]
		for s := range S {
			if IsInfinite(cur[s]) {
				continue
			}
			st := &g.states[s]
			for i := st.first; i < st.last; i++ {
				c := l.costs[t][i]
				if IsInfinite(c) {
					continue
				}
				d := g.transitions[i].Dest
				next[d] = Combine(next[d], cur[s]+c)
			}
		}
	}

	l.total = InfiniteCost
	for s := range S {
		l.total = Combine(l.total, AddCost(l.alpha[N][s], g.states[s].FinalCost))
	}

	// Backward
	for s := range S {
		l.beta[N][s] = g.states[s].FinalCost
	}
	for t := N - 1; t >= 0; t-- {
		cur, next := l.beta[t], l.beta[t+1]
		for s := range S {
			st := &g.states[s]
			for i := st.first; i < st.last; i++ {
				c := l.costs[t][i]
				d := g.transitions[i].Dest
				if IsInfinite(c) || IsInfinite(next[d]) {
					continue
				}
				cur[s] = Combine(cur[s], c+next[d])
			}
		}
	}

	l.gamma = newCostMatrix(N+1, S)
	if !l.Feasible() {
		return l, nil
	}
	for t := 0; t <= N; t++ {
		for s := range S {
			c := AddCost(l.alpha[t][s], l.beta[t][s])
			if !IsInfinite(c) {
				l.gamma[t][s] = c - l.total
			}
		}
	}
	return l, nil
}

func newCostMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = InfiniteCost
		}
	}
	return m
}

// Length returns the number of input frames.
func (l *Lattice) Length() int { return l.length }

// TotalCost returns the combined cost of all paths (−log Z in cost space).
func (l *Lattice) TotalCost() float64 { return l.total }

// Feasible reports whether at least one path has finite cost.
func (l *Lattice) Feasible() bool { return !IsInfinite(l.total) && !math.IsNaN(l.total) }

// Alpha returns the forward cost of reaching state s at node t.
func (l *Lattice) Alpha(t, s int) float64 { return l.alpha[t][s] }

// Beta returns the backward cost of finishing from state s at node t.
func (l *Lattice) Beta(t, s int) float64 { return l.beta[t][s] }

// Gamma returns the normalized cost of occupying state s at node t.
func (l *Lattice) Gamma(t, s int) float64 { return l.gamma[t][s] }

// GammaProbability returns the posterior probability of state s at node t.
func (l *Lattice) GammaProbability(t, s int) float64 { return Probability(l.gamma[t][s]) }

// Xi returns the normalized cost of taking arena transition tr out of node t.
func (l *Lattice) Xi(t, tr int) float64 {
	if !l.Feasible() {
		return InfiniteCost
	}
	src := l.graph.transitions[tr].Source
	dst := l.graph.transitions[tr].Dest
	c := AddCost(AddCost(l.alpha[t][src], l.costs[t][tr]), l.beta[t+1][dst])
	if IsInfinite(c) {
		return InfiniteCost
	}
	return c - l.total
}

// XiProbability returns the posterior probability of transition tr out of node t.
func (l *Lattice) XiProbability(t, tr int) float64 { return Probability(l.Xi(t, tr)) }

// TransitionCostAt returns the cost of arena transition tr consuming frame t.
func (l *Lattice) TransitionCostAt(t, tr int) float64 { return l.costs[t][tr] }

// LabelMarginals returns, for every frame, the posterior probability of each
// output label, normalized to sum to one.
func (l *Lattice) LabelMarginals() [][]float64 {
	L := l.graph.labels.Size()
	out := make([][]float64, l.length)
	for t := range l.length {
		costs := make([]float64, L)
		for i := range costs {
			costs[i] = InfiniteCost
		}
		for tr := range l.graph.transitions {
			x := l.Xi(t, tr)
			lab := l.graph.transitions[tr].Label
			costs[lab] = Combine(costs[lab], x)
		}
		out[t] = make([]float64, L)
		for i, c := range costs {
			out[t][i] = Probability(c)
		}
		if sum := floats.Sum(out[t]); sum > 0 {
			floats.Scale(1/sum, out[t])
		}
	}
	return out
}

// accumulate adds this lattice's state and transition posteriors, weighted
// by the frames of input, into acc.
func (l *Lattice) accumulate(acc *counts, input Sequence) {
	if !l.Feasible() {
		return
	}
	g := l.graph
	for s := range g.states {
		acc.initial[s] += Probability(l.gamma[0][s])
		acc.final[s] += Probability(l.gamma[l.length][s])
	}
	for t := range l.length {
		frame := input[t]
		for tr := range g.transitions {
			p := l.XiProbability(t, tr)
			if p == 0 {
				continue
			}
			for _, w := range g.transitions[tr].Weights {
				acc.addFrame(g.weights, w, frame, p)
			}
		}
	}
}

// TotalCost computes only the forward pass and returns the combined cost of
// all paths consistent with output (nil for unconstrained).
func TotalCost(g *Graph, input Sequence, output []int) (float64, error) {
	if err := checkSequence(g, input, output); err != nil {
		return 0, err
	}
	S := len(g.states)
	cur := make([]float64, S)
	next := make([]float64, S)
	costs := make([]float64, len(g.transitions))
	memo := newScoreMemo(g.weights.Len())
	for s := range S {
		cur[s] = g.states[s].InitialCost
	}
	for t := range input {
		g.frameCosts(input[t], labelAt(output, t), memo, costs)
		for s := range next {
			next[s] = InfiniteCost
		}
		for s := range S {
			if IsInfinite(cur[s]) {
				continue
			}
			st := &g.states[s]
			for i := st.first; i < st.last; i++ {
				if IsInfinite(costs[i]) {
					continue
				}
				d := g.transitions[i].Dest
				next[d] = Combine(next[d], cur[s]+costs[i])
			}
		}
		cur, next = next, cur
	}
	total := InfiniteCost
	for s := range S {
		total = Combine(total, AddCost(cur[s], g.states[s].FinalCost))
	}
	return total, nil
}
