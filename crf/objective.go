package crf

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// counts mirrors the shape of a graph's trainable state: one slot per
// initial/final cost, per default weight and per stored weight.
type counts struct {
	initial  []float64
	final    []float64
	defaults []float64
	values   [][]float64
}

func newCounts(g *Graph) counts {
	c := counts{
		initial:  make([]float64, len(g.states)),
		final:    make([]float64, len(g.states)),
		defaults: make([]float64, g.weights.Len()),
		values:   make([][]float64, g.weights.Len()),
	}
	for i := range c.values {
		c.values[i] = make([]float64, len(g.weights.sets[i].Values))
	}
	return c
}

func (c *counts) addFrame(ws *WeightStore, w int, frame FeatureVector, p float64) {
	c.defaults[w] += p
	set := &ws.sets[w]
	vals := c.values[w]
	for k, f := range frame.Indices {
		if loc := set.locate(f); loc >= 0 {
			vals[loc] += p * frame.Values[k]
		}
	}
}

func (c *counts) add(o *counts) {
	floats.Add(c.initial, o.initial)
	floats.Add(c.final, o.final)
	floats.Add(c.defaults, o.defaults)
	for i := range c.values {
		floats.Add(c.values[i], o.values[i])
	}
}

// Constraints are empirical expectations: posteriors of lattices
// constrained to the true labels.
type Constraints struct{ counts }

// Expectations are model expectations: posteriors of unconstrained lattices.
type Expectations struct{ counts }

// layout fixes the order of trainable parameters in a flat vector: finite
// initial costs, finite final costs, then default and stored weights of
// every unfrozen weight set.
type layout struct {
	initial []int
	final   []int
	sets    []int
	size    int
}

func newLayout(g *Graph) layout {
	var l layout
	for s := range g.states {
		if !IsInfinite(g.states[s].InitialCost) {
			l.initial = append(l.initial, s)
		}
	}
	for s := range g.states {
		if !IsInfinite(g.states[s].FinalCost) {
			l.final = append(l.final, s)
		}
	}
	l.size = len(l.initial) + len(l.final)
	for i := range g.weights.sets {
		if !g.weights.sets[i].Frozen {
			l.sets = append(l.sets, i)
			l.size += 1 + len(g.weights.sets[i].Values)
		}
	}
	return l
}

func (l *layout) read(g *Graph, dst []float64) {
	k := 0
	for _, s := range l.initial {
		dst[k] = g.states[s].InitialCost
		k++
	}
	for _, s := range l.final {
		dst[k] = g.states[s].FinalCost
		k++
	}
	for _, w := range l.sets {
		set := &g.weights.sets[w]
		dst[k] = set.Default
		k++
		k += copy(dst[k:], set.Values)
	}
}

func (l *layout) write(g *Graph, src []float64) {
	k := 0
	for _, s := range l.initial {
		g.states[s].InitialCost = src[k]
		k++
	}
	for _, s := range l.final {
		g.states[s].FinalCost = src[k]
		k++
	}
	for _, w := range l.sets {
		set := &g.weights.sets[w]
		set.Default = src[k]
		k++
		k += copy(set.Values, src[k:k+len(set.Values)])
	}
	g.weights.touch()
}

// gradient writes d(labeled − unlabeled)/dθ. Costs enter paths with a plus
// sign, weights with a minus sign, hence the opposite differences.
func (l *layout) gradient(dst []float64, ex *Expectations, cs *Constraints) {
	k := 0
	for _, s := range l.initial {
		dst[k] = cs.initial[s] - ex.initial[s]
		k++
	}
	for _, s := range l.final {
		dst[k] = cs.final[s] - ex.final[s]
		k++
	}
	for _, w := range l.sets {
		dst[k] = ex.defaults[w] - cs.defaults[w]
		k++
		for j := range ex.values[w] {
			dst[k] = ex.values[w][j] - cs.values[w][j]
			k++
		}
	}
}

type cached[T any] struct {
	value   T
	version uint64
	valid   bool
}

func (c *cached[T]) fresh(version uint64) bool {
	return c.valid && c.version == version
}

func (c *cached[T]) store(v T, version uint64) {
	c.value, c.version, c.valid = v, version, true
}

// ObjectiveConfig configures an Objective.
type ObjectiveConfig struct {
	Prior   Prior
	Workers int  // parallel instances; 0 means GOMAXPROCS
	Strict  bool // fail when an instance's feasibility changes between evaluations
}

// Objective is the penalized negative conditional log-likelihood of a set of
// instances as a function of the graph's trainable parameters:
//
//	value = Σ (labeledCost − unlabeledCost) + Σ prior(θ)
//
// Instances without a label-consistent path are excluded and logged. The
// excluded set is fixed by the first evaluation.
type Objective struct {
	graph     *Graph
	instances []Instance
	prior     Prior
	workers   int
	strict    bool
	layout    layout

	checked  bool
	feasible []bool

	value    cached[float64]
	gradient cached[[]float64]
}

// NewObjective validates instances against g and prepares the parameter layout.
// The graph must be resolved; its structure and weight support must not
// change while the Objective is in use.
func NewObjective(g *Graph, instances []Instance, cfg ObjectiveConfig) (*Objective, error) {
	if !g.resolved {
		return nil, configErr("objective", ErrNotResolved)
	}
	for i, inst := range instances {
		if inst.Output == nil {
			return nil, fmt.Errorf("instance %d: %w: missing labels", i, ErrLengthMismatch)
		}
		if err := checkSequence(g, inst.Input, inst.Output); err != nil {
			return nil, fmt.Errorf("instance %d: %w", i, err)
		}
	}
	prior := cfg.Prior
	if prior == nil {
		prior = NoPrior{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Objective{
		graph:     g,
		instances: instances,
		prior:     prior,
		workers:   workers,
		strict:    cfg.Strict,
		layout:    newLayout(g),
		feasible:  make([]bool, len(instances)),
	}, nil
}

// NumParameters returns the length of the parameter vector.
func (o *Objective) NumParameters() int { return o.layout.size }

// Parameters copies the current parameters into dst.
func (o *Objective) Parameters(dst []float64) { o.layout.read(o.graph, dst) }

// SetParameters writes x into the graph. Cached values and gradients become
// stale, and previously returned gradients must not be reused.
func (o *Objective) SetParameters(x []float64) { o.layout.write(o.graph, x) }

// Excluded returns the indices of instances left out of the objective.
func (o *Objective) Excluded() []int {
	var out []int
	if !o.checked {
		return out
	}
	for i, ok := range o.feasible {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

type partial struct {
	value        float64
	status       []int // instance indices seen infeasible by this worker
	constraints  Constraints
	expectations Expectations
	err          error
}

// run maps fn over instances on o.workers goroutines with contiguous chunks
// and returns the per-worker partials in chunk order.
func (o *Objective) run(withCounts bool, fn func(p *partial, i int) error) []*partial {
	n := len(o.instances)
	workers := min(o.workers, max(n, 1))
	parts := make([]*partial, workers)
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := range workers {
		p := &partial{}
		if withCounts {
			p.constraints = Constraints{newCounts(o.graph)}
			p.expectations = Expectations{newCounts(o.graph)}
		}
		parts[w] = p
		lo, hi := w*chunk, min((w+1)*chunk, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if err := fn(p, i); err != nil {
					p.err = err
					return
				}
			}
		}()
	}
	wg.Wait()
	return parts
}

// include decides whether instance i contributes, given whether it is
// feasible under the current parameters. It only reads shared state.
func (o *Objective) include(i int, feasibleNow bool) bool {
	if !feasibleNow {
		return false
	}
	return !o.checked || o.feasible[i]
}

// reconcile records feasibility after the first evaluation and checks it
// against the record afterwards.
func (o *Objective) reconcile(parts []*partial) error {
	infeasible := make(map[int]bool)
	for _, p := range parts {
		for _, i := range p.status {
			infeasible[i] = true
		}
	}
	if !o.checked {
		for i := range o.instances {
			o.feasible[i] = !infeasible[i]
			if infeasible[i] {
				slog.Warn("Excluding instance from training",
					"error", &InfeasibleError{Instance: i, Name: o.instances[i].Name})
			}
		}
		o.checked = true
		if len(o.instances) > 0 && len(infeasible) == len(o.instances) {
			return ErrNoInstances
		}
		return nil
	}
	for i := range o.instances {
		if o.feasible[i] == !infeasible[i] {
			continue
		}
		if o.strict {
			return fmt.Errorf("instance %d (%s): %w", i, o.instances[i].Name, ErrFeasibilityChanged)
		}
		if o.feasible[i] {
			slog.Warn("Instance became infeasible, excluding", "instance", i, "name", o.instances[i].Name)
			o.feasible[i] = false
		}
	}
	return nil
}

func (o *Objective) penalty() float64 {
	x := make([]float64, o.layout.size)
	o.layout.read(o.graph, x)
	var v float64
	for _, w := range x {
		v += o.prior.Penalty(w)
	}
	return v
}

// Value returns the objective at the current parameters, running only the
// forward pass of each lattice.
func (o *Objective) Value() (float64, error) {
	version := o.graph.Version()
	if o.value.fresh(version) {
		return o.value.value, nil
	}
	parts := o.run(false, func(p *partial, i int) error {
		inst := &o.instances[i]
		labeled, err := TotalCost(o.graph, inst.Input, inst.Output)
		if err != nil {
			return err
		}
		unlabeled, err := TotalCost(o.graph, inst.Input, nil)
		if err != nil {
			return err
		}
		ok := !IsInfinite(labeled) && !IsInfinite(unlabeled)
		if !ok {
			p.status = append(p.status, i)
		}
		if o.include(i, ok) {
			p.value += labeled - unlabeled
		}
		return nil
	})
	value, err := o.reduce(parts, nil, nil)
	if err != nil {
		return 0, err
	}
	o.value.store(value, version)
	return value, nil
}

// Gradient writes the gradient at the current parameters into dst. It also
// refreshes the cached value.
func (o *Objective) Gradient(dst []float64) error {
	version := o.graph.Version()
	if o.gradient.fresh(version) {
		copy(dst, o.gradient.value)
		return nil
	}
	parts := o.run(true, func(p *partial, i int) error {
		inst := &o.instances[i]
		unlabeled, err := NewLattice(o.graph, inst.Input, nil)
		if err != nil {
			return err
		}
		labeled, err := NewLattice(o.graph, inst.Input, inst.Output)
		if err != nil {
			return err
		}
		ok := labeled.Feasible() && unlabeled.Feasible()
		if !ok {
			p.status = append(p.status, i)
		}
		if o.include(i, ok) {
			p.value += labeled.TotalCost() - unlabeled.TotalCost()
			labeled.accumulate(&p.constraints.counts, inst.Input)
			unlabeled.accumulate(&p.expectations.counts, inst.Input)
		}
		return nil
	})
	cs := Constraints{newCounts(o.graph)}
	ex := Expectations{newCounts(o.graph)}
	value, err := o.reduce(parts, &cs, &ex)
	if err != nil {
		return err
	}

	grad := make([]float64, o.layout.size)
	o.layout.gradient(grad, &ex, &cs)
	x := make([]float64, o.layout.size)
	o.layout.read(o.graph, x)
	for k, w := range x {
		grad[k] += o.prior.Derivative(w)
	}

	o.value.store(value, version)
	o.gradient.store(grad, version)
	copy(dst, grad)
	return nil
}

func (o *Objective) reduce(parts []*partial, cs *Constraints, ex *Expectations) (float64, error) {
	var value float64
	for _, p := range parts {
		if p.err != nil {
			return 0, p.err
		}
	}
	if err := o.reconcile(parts); err != nil {
		return 0, err
	}
	for _, p := range parts {
		value += p.value
		if cs != nil {
			cs.add(&p.constraints.counts)
			ex.add(&p.expectations.counts)
		}
	}
	return value + o.penalty(), nil
}
