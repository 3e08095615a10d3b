package crf

import (
	"errors"
	"sort"
	"testing"
)

func TestViterbiMatchesEnumeration(t *testing.T) {
	for seed := uint64(1); seed <= 8; seed++ {
		labels := []string{"A", "B", "C", "D", "E"}[:2+seed%4]
		g := randomGraph(t, seed, labels, 3)
		input := randomSequence(seed+50, 1+int(seed%4), 3)

		path, err := Viterbi(g, input)
		if err != nil {
			t.Fatal(err)
		}
		costs := enumeratePaths(g, input, nil)
		sort.Float64s(costs)
		if !approxEqual(path.Cost, costs[0], 1e-9) {
			t.Errorf("seed %d: viterbi cost %v, best enumerated %v", seed, path.Cost, costs[0])
		}
		if len(path.States) != len(input)+1 || len(path.Labels) != len(input) {
			t.Fatalf("seed %d: path shape %d/%d for %d frames", seed, len(path.States), len(path.Labels), len(input))
		}

		// the decoded labels must reproduce the decoded cost
		constrained := CombineAll(enumeratePaths(g, input, path.Labels))
		if constrained > path.Cost+1e-9 {
			t.Errorf("seed %d: decoded labels cost %v > path cost %v", seed, constrained, path.Cost)
		}
	}
}

func TestNBest(t *testing.T) {
	for seed := uint64(1); seed <= 6; seed++ {
		g := randomGraph(t, seed, []string{"A", "B", "C"}, 3)
		input := randomSequence(seed+10, 3, 3)

		costs := enumeratePaths(g, input, nil)
		sort.Float64s(costs)

		const k = 5
		paths, err := NBest(g, input, k)
		if err != nil {
			t.Fatal(err)
		}
		if len(paths) != k {
			t.Fatalf("seed %d: got %d paths, want %d", seed, len(paths), k)
		}
		for i, p := range paths {
			if !approxEqual(p.Cost, costs[i], 1e-9) {
				t.Errorf("seed %d: path %d cost %v, enumerated %v", seed, i, p.Cost, costs[i])
			}
			if i > 0 && p.Cost < paths[i-1].Cost {
				t.Errorf("seed %d: costs not sorted at %d", seed, i)
			}
		}

		v, err := Viterbi(g, input)
		if err != nil {
			t.Fatal(err)
		}
		one, err := NBest(g, input, 1)
		if err != nil {
			t.Fatal(err)
		}
		if one[0].Cost != v.Cost {
			t.Errorf("seed %d: 1-best cost %v, viterbi %v", seed, one[0].Cost, v.Cost)
		}
		for i := range v.States {
			if one[0].States[i] != v.States[i] {
				t.Errorf("seed %d: 1-best states %v, viterbi %v", seed, one[0].States, v.States)
				break
			}
		}
	}
}

func TestNBestMoreThanPaths(t *testing.T) {
	g := randomGraph(t, 4, []string{"A", "B"}, 2)
	input := randomSequence(5, 2, 2)
	paths, err := NBest(g, input, 100)
	if err != nil {
		t.Fatal(err)
	}
	// 2 start states * 2 * 2 transitions
	if len(paths) != 8 {
		t.Errorf("got %d paths, want all 8", len(paths))
	}
	if _, err := NBest(g, input, 0); err == nil {
		t.Error("k = 0 should fail")
	}
}

func TestViterbiNoPath(t *testing.T) {
	g := NewGraph(nil, nil)
	if _, err := g.AddState("A", 0, InfiniteCost); err != nil {
		t.Fatal(err)
	}
	if err := g.AddTransitionNamed("A", "A", "a", "w"); err != nil {
		t.Fatal(err)
	}
	if err := g.Resolve(); err != nil {
		t.Fatal(err)
	}
	input := Sequence{NewFeatureVector(nil, nil)}
	if _, err := Viterbi(g, input); !errors.Is(err, ErrNoPath) {
		t.Errorf("Viterbi err = %v, want ErrNoPath", err)
	}
	if _, err := NBest(g, input, 3); !errors.Is(err, ErrNoPath) {
		t.Errorf("NBest err = %v, want ErrNoPath", err)
	}
}

func TestPathLabelStrings(t *testing.T) {
	g := randomGraph(t, 9, []string{"X", "Y"}, 2)
	path, err := Viterbi(g, randomSequence(3, 4, 2))
	if err != nil {
		t.Fatal(err)
	}
	names := path.LabelStrings(g)
	for i, l := range path.Labels {
		if names[i] != g.Labels().String(l) {
			t.Errorf("label %d: %q vs %q", i, names[i], g.Labels().String(l))
		}
		// every state in a fully connected graph is named after the label that enters it
		if g.State(path.States[i+1]).Name != names[i] {
			t.Errorf("state %d is %q, label %q", i+1, g.State(path.States[i+1]).Name, names[i])
		}
	}
}
