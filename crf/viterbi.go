package crf

import (
	"fmt"
	"sort"
)

// Path is a decoded state sequence. States has one entry per lattice node
// (len(input)+1); Labels has one entry per input frame.
type Path struct {
	Cost   float64
	States []int
	Labels []int
}

// LabelStrings maps the path's label IDs through the graph's label alphabet.
func (p Path) LabelStrings(g *Graph) []string {
	out := make([]string, len(p.Labels))
	for i, l := range p.Labels {
		out[i] = g.labels.String(l)
	}
	return out
}

// Viterbi finds the minimum-cost path for input. It uses the same per-frame
// transition costs as NewLattice, with Combine replaced by min.
func Viterbi(g *Graph, input Sequence) (Path, error) {
	if err := checkSequence(g, input, nil); err != nil {
		return Path{}, err
	}
	N, S := len(input), len(g.states)

	// delta[t][s] = best cost reaching s at node t
	delta := newCostMatrix(N+1, S)
	// back[t][s] = arena index of the transition into s at node t
	back := make([][]int, N+1)
	for t := range back {
		back[t] = make([]int, S)
	}
	for s := range S {
		delta[0][s] = g.states[s].InitialCost
		back[0][s] = -1
	}

	costs := make([]float64, len(g.transitions))
	memo := newScoreMemo(g.weights.Len())
	for t := range N {
		g.frameCosts(input[t], NoLabel, memo, costs)
		cur, next := delta[t], delta[t+1]
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
				if c := cur[s] + costs[i]; c < next[d] {
					next[d] = c
					back[t+1][d] = i
				}
			}
		}
	}

	best, bestState := InfiniteCost, -1
	for s := range S {
		if c := AddCost(delta[N][s], g.states[s].FinalCost); c < best {
			best, bestState = c, s
		}
	}
	if bestState < 0 {
		return Path{}, ErrNoPath
	}

	path := Path{
		Cost:   best,
		States: make([]int, N+1),
		Labels: make([]int, N),
	}
	s := bestState
	for t := N; t > 0; t-- {
		tr := &g.transitions[back[t][s]]
		path.States[t] = s
		path.Labels[t-1] = tr.Label
		s = tr.Source
	}
	path.States[0] = s
	return path, nil
}

type beamEntry struct {
	cost     float64
	tr       int // arena transition into this node, -1 at node 0
	prevRank int
}

type candidate struct {
	beamEntry
	state int
}

// NBest returns up to k lowest-cost paths in order of increasing cost. Every
// (node, state) keeps its k best partial paths; equal costs keep discovery
// order, so k = 1 reproduces Viterbi.
func NBest(g *Graph, input Sequence, k int) ([]Path, error) {
	if k < 1 {
		return nil, fmt.Errorf("crf: n-best size %d must be positive", k)
	}
	if err := checkSequence(g, input, nil); err != nil {
		return nil, err
	}
	N, S := len(input), len(g.states)

	beams := make([][][]beamEntry, N+1)
	beams[0] = make([][]beamEntry, S)
	for s := range S {
		if c := g.states[s].InitialCost; !IsInfinite(c) {
			beams[0][s] = []beamEntry{{cost: c, tr: -1, prevRank: -1}}
		}
	}

	costs := make([]float64, len(g.transitions))
	memo := newScoreMemo(g.weights.Len())
	for t := range N {
		g.frameCosts(input[t], NoLabel, memo, costs)
		next := make([][]beamEntry, S)
		for s := range S {
			st := &g.states[s]
			for r, e := range beams[t][s] {
				for i := st.first; i < st.last; i++ {
					if IsInfinite(costs[i]) {
						continue
					}
					d := g.transitions[i].Dest
					next[d] = append(next[d], beamEntry{cost: e.cost + costs[i], tr: i, prevRank: r})
				}
			}
		}
		for d := range next {
			next[d] = keepBest(next[d], k)
		}
		beams[t+1] = next
	}

	var finals []candidate
	for s := range S {
		fc := g.states[s].FinalCost
		if IsInfinite(fc) {
			continue
		}
		for r, e := range beams[N][s] {
			finals = append(finals, candidate{
				beamEntry: beamEntry{cost: e.cost + fc, tr: e.tr, prevRank: r},
				state:     s,
			})
		}
	}
	if len(finals) == 0 {
		return nil, ErrNoPath
	}
	sort.SliceStable(finals, func(i, j int) bool { return finals[i].cost < finals[j].cost })
	if len(finals) > k {
		finals = finals[:k]
	}

	paths := make([]Path, len(finals))
	for n, f := range finals {
		p := Path{
			Cost:   f.cost,
			States: make([]int, N+1),
			Labels: make([]int, N),
		}
		s, r := f.state, f.prevRank
		for t := N; t > 0; t-- {
			e := beams[t][s][r]
			tr := &g.transitions[e.tr]
			p.States[t] = s
			p.Labels[t-1] = tr.Label
			s, r = tr.Source, e.prevRank
		}
		p.States[0] = s
		paths[n] = p
	}
	return paths, nil
}

func keepBest(entries []beamEntry, k int) []beamEntry {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].cost < entries[j].cost })
	if len(entries) > k {
		entries = entries[:k:k]
	}
	return entries
}
