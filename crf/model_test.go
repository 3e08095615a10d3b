package crf

import (
	"path/filepath"
	"slices"
	"testing"
)

func TestModelRoundTrip(t *testing.T) {
	g := NewGraph(nil, NewAlphabetOf("f0", "f1", "f2"))
	if err := g.AddFullyConnectedStates([]string{"A", "B"}); err != nil {
		t.Fatal(err)
	}
	if err := g.AddStartState("S"); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	ws := g.Weights()
	ws.AddSupport(ws.Lookup("A->B"), []int{0, 2})
	ws.SetWeight(ws.Lookup("A->B"), 2, 1.5)
	ws.SetDefault(ws.Lookup("S->A"), -0.25)
	ws.Freeze(ws.Lookup("B->B"), true)

	m, err := g.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	data, err := MarshalModel(m)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := UnmarshalModel(data)
	if err != nil {
		t.Fatal(err)
	}
	h, err := loaded.Graph()
	if err != nil {
		t.Fatal(err)
	}

	if h.NumStates() != g.NumStates() || h.NumTransitions() != g.NumTransitions() {
		t.Fatalf("shape %d/%d, want %d/%d", h.NumStates(), h.NumTransitions(), g.NumStates(), g.NumTransitions())
	}
	for s := range g.NumStates() {
		a, b := g.State(s), h.State(s)
		if a.Name != b.Name || !approxEqual(a.InitialCost, b.InitialCost, 0) || !approxEqual(a.FinalCost, b.FinalCost, 0) {
			t.Errorf("state %d: %+v vs %+v", s, a, b)
		}
	}
	if !IsInfinite(h.State(h.StateIndex("A")).InitialCost) {
		t.Error("infinite initial cost lost in serialization")
	}
	if !h.Weights().Frozen(h.Weights().Lookup("B->B")) {
		t.Error("frozen flag lost in serialization")
	}

	input := Sequence{
		NewFeatureVector([]int{0, 2}, nil),
		NewFeatureVector([]int{1}, []float64{3}),
		NewFeatureVector([]int{2}, nil),
	}
	want, err := TotalCost(g, input, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := TotalCost(h, input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("total cost %v after round trip, want %v", got, want)
	}
	pg, err := Viterbi(g, input)
	if err != nil {
		t.Fatal(err)
	}
	ph, err := Viterbi(h, input)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(pg.States, ph.States) || pg.Cost != ph.Cost {
		t.Errorf("viterbi %v (%v) after round trip, want %v (%v)", ph.States, ph.Cost, pg.States, pg.Cost)
	}
}

func TestSaveLoadModel(t *testing.T) {
	g := randomGraph(t, 31, []string{"A", "B"}, 2)
	m, err := g.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(m, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := loaded.Graph()
	if err != nil {
		t.Fatal(err)
	}
	input := randomSequence(32, 5, 2)
	a, _ := TotalCost(g, input, nil)
	b, _ := TotalCost(h, input, nil)
	if a != b {
		t.Errorf("total cost %v after save/load, want %v", b, a)
	}
}

func TestSnapshotRequiresResolve(t *testing.T) {
	if _, err := NewGraph(nil, nil).Snapshot(); err == nil {
		t.Error("snapshot of an unresolved graph should fail")
	}
}

func TestCostJSON(t *testing.T) {
	var c Cost
	if err := c.UnmarshalJSON([]byte(`"inf"`)); err != nil || !IsInfinite(float64(c)) {
		t.Errorf("inf: %v %v", c, err)
	}
	if err := c.UnmarshalJSON([]byte(`"nan"`)); err == nil {
		t.Error("unknown string should fail")
	}
	if err := c.UnmarshalJSON([]byte(`1.25`)); err != nil || c != 1.25 {
		t.Errorf("1.25: %v %v", c, err)
	}
}
