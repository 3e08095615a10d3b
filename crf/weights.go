package crf

import "sort"

// WeightSet is one tied weight vector over the input feature alphabet plus an
// always-on default weight. Sparse sets store only Features (sorted) and the
// parallel Values; dense sets index Values by feature ID directly.
type WeightSet struct {
	Name     string
	Default  float64
	Dense    bool
	Features []int
	Values   []float64
	Frozen   bool
}

func (ws *WeightSet) locate(feature int) int {
	if ws.Dense {
		if feature >= 0 && feature < len(ws.Values) {
			return feature
		}
		return -1
	}
	i := sort.SearchInts(ws.Features, feature)
	if i < len(ws.Features) && ws.Features[i] == feature {
		return i
	}
	return -1
}

// NumLocations returns the number of stored weights, excluding the default.
func (ws WeightSet) NumLocations() int {
	return len(ws.Values)
}

// WeightStore holds every weight set of a model. Its version counter
// advances on every mutation, so cached quantities can check staleness.
type WeightStore struct {
	names    *Alphabet
	sets     []WeightSet
	features *Alphabet
	version  uint64
}

// NewWeightStore creates an empty store over the given input feature alphabet.
func NewWeightStore(features *Alphabet) *WeightStore {
	if features == nil {
		features = NewAlphabet()
	}
	return &WeightStore{
		names:    NewAlphabet(),
		features: features,
	}
}

// Features returns the input feature alphabet.
func (w *WeightStore) Features() *Alphabet {
	return w.features
}

// Index returns the index of the named weight set, creating an empty sparse
// set if it does not exist yet.
func (w *WeightStore) Index(name string) int {
	if i := w.names.Get(name); i >= 0 {
		return i
	}
	i := w.names.Add(name)
	w.sets = append(w.sets, WeightSet{Name: name})
	w.version++
	return i
}

// Lookup returns the index of the named weight set, or -1.
func (w *WeightStore) Lookup(name string) int {
	return w.names.Get(name)
}

// Len returns the number of weight sets.
func (w *WeightStore) Len() int {
	return len(w.sets)
}

// Name returns the name of weight set i.
func (w *WeightStore) Name(i int) string {
	return w.sets[i].Name
}

// Set returns a copy of weight set i.
func (w *WeightStore) Set(i int) WeightSet {
	ws := w.sets[i]
	ws.Features = append([]int(nil), ws.Features...)
	ws.Values = append([]float64(nil), ws.Values...)
	return ws
}

// Version returns the mutation counter.
func (w *WeightStore) Version() uint64 {
	return w.version
}

func (w *WeightStore) touch() {
	w.version++
}

// Default returns the default weight of set i.
func (w *WeightStore) Default(i int) float64 {
	return w.sets[i].Default
}

// SetDefault sets the default weight of set i.
func (w *WeightStore) SetDefault(i int, v float64) {
	w.sets[i].Default = v
	w.touch()
}

// Weight returns the weight of feature in set i; unsupported features weigh 0.
func (w *WeightStore) Weight(i, feature int) float64 {
	ws := &w.sets[i]
	if loc := ws.locate(feature); loc >= 0 {
		return ws.Values[loc]
	}
	return 0
}

// SetWeight sets the weight of feature in set i. It reports false when the
// feature is outside the set's support.
func (w *WeightStore) SetWeight(i, feature int, v float64) bool {
	ws := &w.sets[i]
	loc := ws.locate(feature)
	if loc < 0 {
		return false
	}
	ws.Values[loc] = v
	w.touch()
	return true
}

// Freeze excludes set i from training.
func (w *WeightStore) Freeze(i int, frozen bool) {
	w.sets[i].Frozen = frozen
	w.touch()
}

// Frozen reports whether set i is excluded from training.
func (w *WeightStore) Frozen(i int) bool {
	return w.sets[i].Frozen
}

// AddSupport extends the sparse support of set i with features. Existing
// weights are kept; new locations start at zero. Dense sets are unchanged.
func (w *WeightStore) AddSupport(i int, features []int) {
	ws := &w.sets[i]
	if ws.Dense || len(features) == 0 {
		return
	}
	merged := make(map[int]float64, len(ws.Features)+len(features))
	for k, f := range ws.Features {
		merged[f] = ws.Values[k]
	}
	for _, f := range features {
		if _, ok := merged[f]; !ok {
			merged[f] = 0
		}
	}
	ws.Features = make([]int, 0, len(merged))
	for f := range merged {
		ws.Features = append(ws.Features, f)
	}
	sort.Ints(ws.Features)
	ws.Values = make([]float64, len(ws.Features))
	for k, f := range ws.Features {
		ws.Values[k] = merged[f]
	}
	w.touch()
}

// Densify makes every set dense over the current feature alphabet.
func (w *WeightStore) Densify() {
	n := w.features.Size()
	for i := range w.sets {
		ws := &w.sets[i]
		values := make([]float64, n)
		if ws.Dense {
			copy(values, ws.Values)
		} else {
			for k, f := range ws.Features {
				if f < n {
					values[f] = ws.Values[k]
				}
			}
		}
		ws.Dense = true
		ws.Features = nil
		ws.Values = values
	}
	w.touch()
}

// Score returns the default weight of set i plus its dot product with fv.
func (w *WeightStore) Score(i int, fv FeatureVector) float64 {
	ws := &w.sets[i]
	s := ws.Default
	if ws.Dense {
		for k, f := range fv.Indices {
			if f >= 0 && f < len(ws.Values) {
				s += ws.Values[f] * fv.Values[k]
			}
		}
		return s
	}
	for k, f := range fv.Indices {
		if loc := ws.locate(f); loc >= 0 {
			s += ws.Values[loc] * fv.Values[k]
		}
	}
	return s
}

// NumParameters returns the number of trainable weights including defaults.
func (w *WeightStore) NumParameters() int {
	n := 0
	for i := range w.sets {
		if !w.sets[i].Frozen {
			n += 1 + len(w.sets[i].Values)
		}
	}
	return n
}

// Zero resets every weight and default to zero.
func (w *WeightStore) Zero() {
	for i := range w.sets {
		w.sets[i].Default = 0
		clear(w.sets[i].Values)
	}
	w.touch()
}
