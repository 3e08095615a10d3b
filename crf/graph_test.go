package crf

import (
	"errors"
	"regexp"
	"testing"
)

func TestResolveUnknownDestination(t *testing.T) {
	g := NewGraph(nil, nil)
	if _, err := g.AddState("A", 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := g.AddTransitionNamed("A", "B", "b", "A->B"); err != nil {
		t.Fatal(err)
	}
	err := g.Resolve()
	if !errors.Is(err, ErrUnresolvedDestination) {
		t.Fatalf("Resolve err = %v, want ErrUnresolvedDestination", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Resolve err = %T, want *ConfigError", err)
	}
	if IsRecoverable(err) {
		t.Error("configuration errors must not be recoverable")
	}
}

func TestGraphFrozenAfterResolve(t *testing.T) {
	g := NewGraph(nil, nil)
	if err := g.AddFullyConnectedStates([]string{"A", "B"}); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddState("C", 0, 0); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddState after Resolve: err = %v, want ErrGraphFrozen", err)
	}
	if err := g.AddTransition("A", "B", "B"); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddTransition after Resolve: err = %v, want ErrGraphFrozen", err)
	}
	if err := g.Resolve(); err != nil {
		t.Errorf("second Resolve should be a no-op, got %v", err)
	}
}

func TestAddStateErrors(t *testing.T) {
	g := NewGraph(nil, nil)
	if _, err := g.AddState("A", 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AddState("A", 0, 0); !errors.Is(err, ErrDuplicateState) {
		t.Errorf("duplicate state: err = %v", err)
	}
	if err := g.AddTransition("missing", "A", "a"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("unknown source: err = %v", err)
	}
	if err := g.AddTransition("A", "A", "a", 3); err == nil {
		t.Error("out of range weight set should fail")
	}
}

func TestTransitionCosts(t *testing.T) {
	features := NewAlphabetOf("f0", "f1")
	g := NewGraph(nil, features)
	if _, err := g.AddState("S", 0, 0); err != nil {
		t.Fatal(err)
	}
	shared := g.Weights().Index("shared")
	own := g.Weights().Index("own")
	for _, tr := range []struct {
		label   string
		weights []int
	}{
		{"x", []int{shared}},
		{"y", []int{shared}},
		{"z", []int{shared, own}},
	} {
		if err := g.AddTransition("S", "S", tr.label, tr.weights...); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	g.Weights().Densify()
	g.Weights().SetWeight(shared, 0, 2)
	g.Weights().SetWeight(shared, 1, -1)
	g.Weights().SetDefault(shared, 0.5)
	g.Weights().SetWeight(own, 1, 3)

	frame := NewFeatureVector([]int{0, 1}, []float64{1, 2})
	costs := g.TransitionCosts(0, frame, NoLabel, nil)
	// shared: 0.5 + 2*1 - 1*2 = 0.5; own: 3*2 = 6
	want := []float64{-0.5, -0.5, -6.5}
	for i := range want {
		if !approxEqual(costs[i], want[i], 1e-12) {
			t.Errorf("cost[%d] = %v, want %v", i, costs[i], want[i])
		}
	}

	constrained := g.TransitionCosts(0, frame, g.Labels().Get("y"), nil)
	if !IsInfinite(constrained[0]) || IsInfinite(constrained[1]) || !IsInfinite(constrained[2]) {
		t.Errorf("constrained costs = %v, want only label y finite", constrained)
	}
}

func TestSparseSupport(t *testing.T) {
	ws := NewWeightStore(NewAlphabetOf("a", "b", "c", "d"))
	i := ws.Index("w")
	ws.AddSupport(i, []int{3, 1})
	if ws.SetWeight(i, 0, 1) {
		t.Error("feature 0 is outside the support")
	}
	ws.SetWeight(i, 3, 2)
	ws.AddSupport(i, []int{2})
	if got := ws.Weight(i, 3); got != 2 {
		t.Errorf("support extension lost weight: %v", got)
	}
	fv := NewFeatureVector([]int{0, 2, 3}, []float64{5, 1, 1})
	if got := ws.Score(i, fv); got != 2 {
		t.Errorf("Score = %v, want 2", got)
	}
	v := ws.Version()
	ws.Densify()
	if ws.Version() == v {
		t.Error("Densify should advance the version")
	}
	if got := ws.Weight(i, 3); got != 2 {
		t.Errorf("Densify lost weight: %v", got)
	}
}

func TestOrderNTopology(t *testing.T) {
	newGraph := func() *Graph { return NewGraph(NewAlphabetOf("A", "B"), nil) }

	g := newGraph()
	if err := g.AddOrderNStates(OrderN{Orders: []int{0, 1}, FullyConnected: true}); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	if g.NumStates() != 2 || g.NumTransitions() != 4 {
		t.Fatalf("states=%d transitions=%d, want 2 and 4", g.NumStates(), g.NumTransitions())
	}
	// order 0 weights are tied across sources
	intoB := g.Weights().Lookup("B")
	n := 0
	for i := range g.NumTransitions() {
		for _, w := range g.Transition(i).Weights {
			if w == intoB {
				n++
			}
		}
	}
	if n != 2 {
		t.Errorf("weight set B used by %d transitions, want 2", n)
	}

	g = newGraph()
	err := g.AddOrderNStates(OrderN{
		Orders:         []int{1},
		FullyConnected: true,
		Forbidden:      regexp.MustCompile(`^A,B$`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	if g.NumTransitions() != 3 {
		t.Errorf("forbidden pair kept: %d transitions, want 3", g.NumTransitions())
	}

	g = newGraph()
	if err := g.AddOrderNStates(OrderN{Orders: []int{2}, Start: "A", FullyConnected: true}); err != nil {
		t.Fatal(err)
	}
	if g.NumStates() != 4 {
		t.Errorf("order 2 over 2 labels: %d states, want 4", g.NumStates())
	}
	for s := range g.NumStates() {
		st := g.State(s)
		if (st.Name == "A,A") == IsInfinite(st.InitialCost) {
			t.Errorf("state %s initial cost %v", st.Name, st.InitialCost)
		}
	}

	for _, bad := range [][]int{nil, {-1}, {1, 1}, {2, 1}} {
		err := newGraph().AddOrderNStates(OrderN{Orders: bad})
		if !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("orders %v: err = %v, want ErrInvalidOrder", bad, err)
		}
	}
	if err := newGraph().AddOrderNStates(OrderN{Orders: []int{1}, Start: "Q"}); !errors.Is(err, ErrAlphabetMismatch) {
		t.Errorf("unknown start label: err = %v", err)
	}
}

func TestConnectedAsIn(t *testing.T) {
	labels := NewAlphabetOf("O", "B", "I")
	insts := []Instance{{Output: []int{0, 1, 2, 2, 0}}}

	g := NewGraph(labels, nil)
	if err := g.AddStatesConnectedAsIn(insts); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	// O->B, B->I, I->I, I->O, plus O->O and B->O into the first label
	if g.NumTransitions() != 6 {
		t.Errorf("transitions = %d, want 6", g.NumTransitions())
	}

	half := NewGraph(NewAlphabetOf("O", "B", "I"), nil)
	if err := half.AddHalfStatesConnectedAsIn(insts); err != nil {
		t.Fatal(err)
	}
	if half.Weights().Len() != 3 {
		t.Errorf("half-tied weight sets = %d, want 3", half.Weights().Len())
	}

	if err := NewGraph(NewAlphabetOf("O"), nil).AddStatesConnectedAsIn(insts); !errors.Is(err, ErrAlphabetMismatch) {
		t.Errorf("labels outside alphabet: err = %v", err)
	}
}

func TestAddStartState(t *testing.T) {
	g := NewGraph(nil, nil)
	if err := g.AddFullyConnectedStates([]string{"start", "notstart"}); err != nil {
		t.Fatal(err)
	}
	if err := g.AddStartState("<s>"); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	for s := range g.NumStates() {
		st := g.State(s)
		if (st.Name == "<s>") == IsInfinite(st.InitialCost) {
			t.Errorf("state %s initial cost %v", st.Name, st.InitialCost)
		}
	}
	first, last := g.TransitionRange(g.StateIndex("<s>"))
	if last-first != 2 {
		t.Errorf("start state has %d transitions, want 2", last-first)
	}
}

func TestObservedTopologiesAdmitGoldPath(t *testing.T) {
	labels := []string{"DET", "NOUN", "VERB", "ADJ"}
	gold := []int{0, 1, 2}
	insts := []Instance{{Output: gold}}
	frame := NewFeatureVector(nil, nil)
	input := Sequence{frame, frame, frame}

	builders := map[string]func(g *Graph) error{
		"connected": func(g *Graph) error { return g.AddStatesConnectedAsIn(insts) },
		"half":      func(g *Graph) error { return g.AddHalfStatesConnectedAsIn(insts) },
		"order1": func(g *Graph) error {
			return g.AddOrderNStates(OrderN{Orders: []int{1}, Instances: insts})
		},
		"order012": func(g *Graph) error {
			return g.AddOrderNStates(OrderN{Orders: []int{0, 1, 2}, Instances: insts})
		},
	}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			g := NewGraph(NewAlphabetOf(labels...), nil)
			if err := build(g); err != nil {
				t.Fatal(err)
			}
			if err := g.Resolve(); err != nil {
				t.Fatal(err)
			}
			lat, err := NewLattice(g, input, gold)
			if err != nil {
				t.Fatal(err)
			}
			if !lat.Feasible() {
				t.Errorf("gold path blocked: total cost %v", lat.TotalCost())
			}
			// a label never seen stays unreachable
			if lat, _ := NewLattice(g, input, []int{3, 1, 2}); lat.Feasible() {
				t.Error("unobserved first label should have no path")
			}
		})
	}
}
