// Package seqcrf labels token sequences with a linear-chain CRF.
//
// It wraps the crf package with string-keyed features and labels:
//
//	t, _ := seqcrf.Load("model.json")
//	labels, _ := t.Tag([]map[string]float64{
//	    {"w=the": 1},
//	    {"w=dog": 1, "suffix=og": 1},
//	})
//	fmt.Println(labels) // [DET NOUN]
package seqcrf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/happyhackingspace/seqcrf/crf"
)

// Tagger decodes feature sequences with a trained graph. It is safe for
// concurrent use as long as the graph is not modified.
type Tagger struct {
	graph *crf.Graph
}

// Prediction is one decoded label sequence.
type Prediction struct {
	Labels      []string `json:"labels"`
	Cost        float64  `json:"cost"`
	Probability float64  `json:"probability"`
}

// NewTagger wraps a graph, resolving it if needed.
func NewTagger(g *crf.Graph) (*Tagger, error) {
	if err := g.Resolve(); err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	return &Tagger{graph: g}, nil
}

// New loads the tagger from "model.json", searching the current directory
// and parent directories up to the module root (where go.mod lives).
func New() (*Tagger, error) {
	path, err := findModel("model.json")
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	return Load(path)
}

func findModel(name string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found", name)
}

// Load loads a trained tagger from a model file.
func Load(path string) (*Tagger, error) {
	m, err := crf.LoadModel(path)
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	g, err := m.Graph()
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	return &Tagger{graph: g}, nil
}

// Save writes the tagger to a model file.
func (t *Tagger) Save(path string) error {
	if t.graph == nil {
		return fmt.Errorf("seqcrf: tagger not initialized")
	}
	m, err := t.graph.Snapshot()
	if err != nil {
		return fmt.Errorf("seqcrf: %w", err)
	}
	if err := crf.SaveModel(m, path); err != nil {
		return fmt.Errorf("seqcrf: %w", err)
	}
	return nil
}

// Graph returns the underlying graph.
func (t *Tagger) Graph() *crf.Graph { return t.graph }

// Labels returns the label alphabet in ID order.
func (t *Tagger) Labels() []string {
	return append([]string(nil), t.graph.Labels().ToStr...)
}

// Attributes converts typed per-position feature dicts, such as
// {"word": "dog", "length": 3, "title": false}, to the form Tag expects.
func Attributes(features []map[string]any) []map[string]float64 {
	out := make([]map[string]float64, len(features))
	for i, f := range features {
		out[i] = crf.FeaturesToAttributes(f)
	}
	return out
}

func (t *Tagger) input(features []map[string]float64) (crf.Sequence, error) {
	if t.graph == nil {
		return nil, fmt.Errorf("seqcrf: tagger not initialized")
	}
	return crf.Input(features, t.graph.Features(), false), nil
}

// Tag returns the most likely label of every position. Features unknown to
// the model are ignored.
func (t *Tagger) Tag(features []map[string]float64) ([]string, error) {
	input, err := t.input(features)
	if err != nil {
		return nil, err
	}
	path, err := crf.Viterbi(t.graph, input)
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	return path.LabelStrings(t.graph), nil
}

// TagNBest returns up to k label sequences in order of decreasing
// probability.
func (t *Tagger) TagNBest(features []map[string]float64, k int) ([]Prediction, error) {
	input, err := t.input(features)
	if err != nil {
		return nil, err
	}
	paths, err := crf.NBest(t.graph, input, k)
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	total, err := crf.TotalCost(t.graph, input, nil)
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	out := make([]Prediction, len(paths))
	for i, p := range paths {
		out[i] = Prediction{
			Labels:      p.LabelStrings(t.graph),
			Cost:        p.Cost,
			Probability: crf.Probability(p.Cost - total),
		}
	}
	return out, nil
}

// Marginals returns, for every position, the posterior probability of each
// label.
func (t *Tagger) Marginals(features []map[string]float64) ([]map[string]float64, error) {
	input, err := t.input(features)
	if err != nil {
		return nil, err
	}
	lat, err := crf.NewLattice(t.graph, input, nil)
	if err != nil {
		return nil, fmt.Errorf("seqcrf: %w", err)
	}
	if !lat.Feasible() {
		return nil, fmt.Errorf("seqcrf: %w", crf.ErrNoPath)
	}
	labels := t.graph.Labels()
	out := make([]map[string]float64, len(input))
	for pos, probs := range lat.LabelMarginals() {
		m := make(map[string]float64, len(probs))
		for id, p := range probs {
			if p > 0 {
				m[labels.String(id)] = p
			}
		}
		out[pos] = m
	}
	return out, nil
}
