package crf

import (
	"fmt"
	"sort"
)

// NoLabel leaves a position unconstrained.
const NoLabel = -1

// State is a node of the transition graph. Its outgoing transitions occupy
// the arena range [first, last) once the graph is resolved.
type State struct {
	Name        string
	Index       int
	InitialCost float64
	FinalCost   float64
	first, last int
}

// Transition is an edge from Source to Dest emitting Label. Its score is the
// sum of the referenced weight sets applied to the input frame.
type Transition struct {
	Source   int
	Dest     int
	DestName string
	Label    int
	Weights  []int
}

// Graph is a fixed set of states and transitions sharing one WeightStore.
// Build it with AddState/AddTransition, then call Resolve exactly once before
// running lattices, decoders or training.
type Graph struct {
	states      []State
	byName      map[string]int
	transitions []Transition
	labels      *Alphabet
	weights     *WeightStore
	resolved    bool
}

// NewGraph creates an empty graph over the given label and feature alphabets.
// Nil alphabets are replaced with empty ones.
func NewGraph(labels, features *Alphabet) *Graph {
	if labels == nil {
		labels = NewAlphabet()
	}
	return &Graph{
		byName:  make(map[string]int),
		labels:  labels,
		weights: NewWeightStore(features),
	}
}

// Labels returns the output label alphabet.
func (g *Graph) Labels() *Alphabet { return g.labels }

// Features returns the input feature alphabet.
func (g *Graph) Features() *Alphabet { return g.weights.features }

// Weights returns the weight store.
func (g *Graph) Weights() *WeightStore { return g.weights }

// Resolved reports whether Resolve has succeeded.
func (g *Graph) Resolved() bool { return g.resolved }

// Version changes whenever any parameter of the graph changes.
func (g *Graph) Version() uint64 { return g.weights.Version() }

// AddState appends a state and returns its index.
func (g *Graph) AddState(name string, initialCost, finalCost float64) (int, error) {
	if g.resolved {
		return -1, configErr("add state "+name, ErrGraphFrozen)
	}
	if _, ok := g.byName[name]; ok {
		return -1, configErr("add state "+name, ErrDuplicateState)
	}
	idx := len(g.states)
	g.states = append(g.states, State{
		Name:        name,
		Index:       idx,
		InitialCost: initialCost,
		FinalCost:   finalCost,
	})
	g.byName[name] = idx
	return idx, nil
}

// AddTransition appends a transition from source to dest emitting label and
// tied to the given weight set indices. The destination is bound by Resolve.
func (g *Graph) AddTransition(source, dest, label string, weights ...int) error {
	op := fmt.Sprintf("add transition %s->%s", source, dest)
	if g.resolved {
		return configErr(op, ErrGraphFrozen)
	}
	src, ok := g.byName[source]
	if !ok {
		return configErr(op, fmt.Errorf("%w: %q", ErrUnknownState, source))
	}
	for _, w := range weights {
		if w < 0 || w >= g.weights.Len() {
			return configErr(op, fmt.Errorf("weight set %d out of range", w))
		}
	}
	g.transitions = append(g.transitions, Transition{
		Source:   src,
		Dest:     -1,
		DestName: dest,
		Label:    g.labels.Add(label),
		Weights:  append([]int(nil), weights...),
	})
	return nil
}

// AddTransitionNamed is AddTransition with weight sets referenced by name;
// missing sets are created.
func (g *Graph) AddTransitionNamed(source, dest, label string, weightNames ...string) error {
	weights := make([]int, len(weightNames))
	for i, name := range weightNames {
		weights[i] = g.weights.Index(name)
	}
	return g.AddTransition(source, dest, label, weights...)
}

// Resolve binds destination names to state indices and lays transitions out
// contiguously per source state. The graph is immutable in structure afterwards.
func (g *Graph) Resolve() error {
	if g.resolved {
		return nil
	}
	for i := range g.transitions {
		tr := &g.transitions[i]
		dest, ok := g.byName[tr.DestName]
		if !ok {
			return configErr(
				fmt.Sprintf("resolve %s->%s", g.states[tr.Source].Name, tr.DestName),
				ErrUnresolvedDestination,
			)
		}
		tr.Dest = dest
	}
	sort.SliceStable(g.transitions, func(i, j int) bool {
		return g.transitions[i].Source < g.transitions[j].Source
	})
	for i := range g.states {
		g.states[i].first, g.states[i].last = 0, 0
	}
	for i := 0; i < len(g.transitions); {
		src := g.transitions[i].Source
		j := i
		for j < len(g.transitions) && g.transitions[j].Source == src {
			j++
		}
		g.states[src].first, g.states[src].last = i, j
		i = j
	}
	g.resolved = true
	return nil
}

// NumStates returns the number of states.
func (g *Graph) NumStates() int { return len(g.states) }

// NumTransitions returns the number of transitions.
func (g *Graph) NumTransitions() int { return len(g.transitions) }

// State returns a copy of state i.
func (g *Graph) State(i int) State { return g.states[i] }

// StateIndex returns the index of the named state, or -1.
func (g *Graph) StateIndex(name string) int {
	if i, ok := g.byName[name]; ok {
		return i
	}
	return -1
}

// Transition returns transition i of the arena.
func (g *Graph) Transition(i int) Transition { return g.transitions[i] }

// TransitionRange returns the arena range of state s's outgoing transitions.
func (g *Graph) TransitionRange(s int) (first, last int) {
	return g.states[s].first, g.states[s].last
}

// SetInitialCost sets the entry cost of state i.
func (g *Graph) SetInitialCost(i int, c float64) {
	g.states[i].InitialCost = c
	g.weights.touch()
}

// SetFinalCost sets the exit cost of state i.
func (g *Graph) SetFinalCost(i int, c float64) {
	g.states[i].FinalCost = c
	g.weights.touch()
}

// TransitionCosts writes into out the cost of each outgoing transition of
// state for one input frame. When label is not NoLabel, transitions emitting
// another label cost InfiniteCost.
func (g *Graph) TransitionCosts(state int, frame FeatureVector, label int, out []float64) []float64 {
	st := &g.states[state]
	out = out[:0]
	for i := st.first; i < st.last; i++ {
		out = append(out, g.transitionCost(&g.transitions[i], frame, label, nil))
	}
	return out
}

func (g *Graph) transitionCost(tr *Transition, frame FeatureVector, label int, memo *scoreMemo) float64 {
	if label != NoLabel && tr.Label != label {
		return InfiniteCost
	}
	var score float64
	for _, w := range tr.Weights {
		if memo != nil {
			score += memo.score(g.weights, w, frame)
		} else {
			score += g.weights.Score(w, frame)
		}
	}
	return -score
}

// scoreMemo caches weight-set scores for one frame; tied sets are scored once.
type scoreMemo struct {
	scores []float64
	stamp  []int
	frame  int
}

func newScoreMemo(n int) *scoreMemo {
	return &scoreMemo{scores: make([]float64, n), stamp: make([]int, n)}
}

func (m *scoreMemo) next() { m.frame++ }

func (m *scoreMemo) score(ws *WeightStore, w int, frame FeatureVector) float64 {
	if m.stamp[w] != m.frame {
		m.scores[w] = ws.Score(w, frame)
		m.stamp[w] = m.frame
	}
	return m.scores[w]
}

// frameCosts fills costs (indexed by arena position) for one frame.
func (g *Graph) frameCosts(frame FeatureVector, label int, memo *scoreMemo, costs []float64) {
	memo.next()
	for i := range g.transitions {
		costs[i] = g.transitionCost(&g.transitions[i], frame, label, memo)
	}
}
