package crf

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Cost is a float64 that survives JSON when infinite.
type Cost float64

func (c Cost) MarshalJSON() ([]byte, error) {
	if IsInfinite(float64(c)) {
		return []byte(`"inf"`), nil
	}
	return json.Marshal(float64(c))
}

func (c *Cost) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "inf" {
			return fmt.Errorf("crf: invalid cost %q", s)
		}
		*c = Cost(InfiniteCost)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*c = Cost(f)
	return nil
}

// Model is a self-contained copy of a graph: topology, alphabets and weights.
// It shares no memory with the graph it was taken from.
type Model struct {
	Labels   *Alphabet        `json:"labels"`
	Features *Alphabet        `json:"features"`
	Weights  []WeightSetModel `json:"weights"`
	States   []StateModel     `json:"states"`
}

// WeightSetModel is the persisted form of a WeightSet.
type WeightSetModel struct {
	Name     string    `json:"name"`
	Default  float64   `json:"default"`
	Dense    bool      `json:"dense,omitempty"`
	Features []int     `json:"features,omitempty"`
	Values   []float64 `json:"values"`
	Frozen   bool      `json:"frozen,omitempty"`
}

// StateModel is the persisted form of a State and its transitions.
type StateModel struct {
	Name        string            `json:"name"`
	InitialCost Cost              `json:"initial_cost"`
	FinalCost   Cost              `json:"final_cost"`
	Transitions []TransitionModel `json:"transitions"`
}

// TransitionModel references its destination, label and weight sets by name.
type TransitionModel struct {
	Dest    string   `json:"dest"`
	Label   string   `json:"label"`
	Weights []string `json:"weights"`
}

func copyAlphabet(a *Alphabet) *Alphabet {
	return NewAlphabetOf(a.ToStr...)
}

// Snapshot copies the graph into a Model. The graph must be resolved.
func (g *Graph) Snapshot() (*Model, error) {
	if !g.resolved {
		return nil, configErr("snapshot", ErrNotResolved)
	}
	m := &Model{
		Labels:   copyAlphabet(g.labels),
		Features: copyAlphabet(g.weights.features),
		Weights:  make([]WeightSetModel, g.weights.Len()),
		States:   make([]StateModel, len(g.states)),
	}
	for i := range g.weights.sets {
		ws := g.weights.Set(i)
		m.Weights[i] = WeightSetModel{
			Name:     ws.Name,
			Default:  ws.Default,
			Dense:    ws.Dense,
			Features: ws.Features,
			Values:   ws.Values,
			Frozen:   ws.Frozen,
		}
	}
	for s, st := range g.states {
		sm := StateModel{
			Name:        st.Name,
			InitialCost: Cost(st.InitialCost),
			FinalCost:   Cost(st.FinalCost),
			Transitions: make([]TransitionModel, 0, st.last-st.first),
		}
		for i := st.first; i < st.last; i++ {
			tr := g.transitions[i]
			names := make([]string, len(tr.Weights))
			for k, w := range tr.Weights {
				names[k] = g.weights.Name(w)
			}
			sm.Transitions = append(sm.Transitions, TransitionModel{
				Dest:    g.states[tr.Dest].Name,
				Label:   g.labels.String(tr.Label),
				Weights: names,
			})
		}
		m.States[s] = sm
	}
	return m, nil
}

// Graph rebuilds and resolves a graph from the model.
func (m *Model) Graph() (*Graph, error) {
	labels, features := NewAlphabet(), NewAlphabet()
	if m.Labels != nil {
		labels = copyAlphabet(m.Labels)
	}
	if m.Features != nil {
		features = copyAlphabet(m.Features)
	}
	g := NewGraph(labels, features)
	for _, wm := range m.Weights {
		i := g.weights.Index(wm.Name)
		ws := &g.weights.sets[i]
		if !wm.Dense && len(wm.Features) != len(wm.Values) {
			return nil, configErr("load weights "+wm.Name, ErrAlphabetMismatch)
		}
		ws.Default = wm.Default
		ws.Dense = wm.Dense
		ws.Features = append([]int(nil), wm.Features...)
		ws.Values = append([]float64(nil), wm.Values...)
		ws.Frozen = wm.Frozen
	}
	for _, sm := range m.States {
		if _, err := g.AddState(sm.Name, float64(sm.InitialCost), float64(sm.FinalCost)); err != nil {
			return nil, err
		}
	}
	for _, sm := range m.States {
		for _, tm := range sm.Transitions {
			weights := make([]int, len(tm.Weights))
			for k, name := range tm.Weights {
				weights[k] = g.weights.Lookup(name)
				if weights[k] < 0 {
					return nil, configErr("load transition "+sm.Name+"->"+tm.Dest,
						fmt.Errorf("unknown weight set %q", name))
				}
			}
			if err := g.AddTransition(sm.Name, tm.Dest, tm.Label, weights...); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Resolve(); err != nil {
		return nil, err
	}
	return g, nil
}

// SaveModel serializes the model to JSON.
func SaveModel(model *Model, path string) error {
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadModel deserializes a model from JSON.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalModel(data)
}

// MarshalModel serializes the model to JSON bytes.
func MarshalModel(model *Model) ([]byte, error) {
	return json.Marshal(model)
}

// UnmarshalModel deserializes a model from JSON bytes.
func UnmarshalModel(data []byte) (*Model, error) {
	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, err
	}
	return &model, nil
}
