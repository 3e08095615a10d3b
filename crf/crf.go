// Package crf implements a linear-chain Conditional Random Field over an
// explicit state/transition graph.
//
// Scores are kept in cost space (negative log-probabilities). A Graph holds
// named states and their outgoing transitions; each transition carries an
// output label and references one or more weight sets in a WeightStore.
// Lattices run forward-backward over a Graph for one input sequence,
// Viterbi and NBest decode it, and Train fits the WeightStore by L-BFGS.
package crf

import "sort"

// Alphabet maps between string labels/attributes and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{
		ToID: make(map[string]int),
	}
}

// NewAlphabetOf creates an alphabet holding entries in order.
func NewAlphabetOf(entries ...string) *Alphabet {
	a := NewAlphabet()
	for _, e := range entries {
		a.Add(e)
	}
	return a
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a string, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// String returns the entry for id, or "" when out of range.
func (a *Alphabet) String(id int) string {
	if id < 0 || id >= len(a.ToStr) {
		return ""
	}
	return a.ToStr[id]
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

// FeatureVector is a sparse input frame: sorted feature indices and their values.
type FeatureVector struct {
	Indices []int
	Values  []float64
}

// NewFeatureVector builds a vector from parallel index/value slices.
// Duplicate indices are summed. A nil values slice means all ones.
func NewFeatureVector(indices []int, values []float64) FeatureVector {
	type entry struct {
		idx int
		val float64
	}
	entries := make([]entry, len(indices))
	for i, idx := range indices {
		v := 1.0
		if values != nil {
			v = values[i]
		}
		entries[i] = entry{idx, v}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].idx < entries[j].idx })

	fv := FeatureVector{
		Indices: make([]int, 0, len(entries)),
		Values:  make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		n := len(fv.Indices)
		if n > 0 && fv.Indices[n-1] == e.idx {
			fv.Values[n-1] += e.val
			continue
		}
		fv.Indices = append(fv.Indices, e.idx)
		fv.Values = append(fv.Values, e.val)
	}
	return fv
}

// Nnz returns the number of stored entries.
func (fv FeatureVector) Nnz() int {
	return len(fv.Indices)
}

// Sequence is an ordered list of input frames.
type Sequence []FeatureVector

// Instance is one training pair. Output holds label IDs, one per frame.
type Instance struct {
	Name   string
	Input  Sequence
	Output []int
	Group  int // for grouped cross-validation
}

// TrainingSequence represents a labeled sequence before alphabet lookup.
type TrainingSequence struct {
	Name     string
	Features []map[string]float64 // per-position feature dicts
	Labels   []string             // gold labels
	Group    int
}
