package crf

import (
	"fmt"
	"maps"
	"slices"
)

// FeaturesToAttributes converts a feature dict (with mixed value types)
// to CRF attribute strings with float64 values.
//
// Conversion rules:
//   - string value: "key=value" → 1.0
//   - []string value: "key:item" → 1.0 for each item
//   - bool value: "key" → 1.0 if true
//   - int/float value: "key" → float64(value)
func FeaturesToAttributes(features map[string]any) map[string]float64 {
	attrs := make(map[string]float64)
	for key, val := range features {
		switch v := val.(type) {
		case string:
			attrs[fmt.Sprintf("%s=%s", key, v)] = 1.0
		case []string:
			for _, item := range v {
				attrs[fmt.Sprintf("%s:%s", key, item)] = 1.0
			}
		case bool:
			if v {
				attrs[key] = 1.0
			}
		case int:
			attrs[key] = float64(v)
		case float64:
			attrs[key] = v
		default:
			attrs[key] = 1.0
		}
	}
	return attrs
}

// BuildAttributeAlphabet builds the attribute alphabet from training sequences.
func BuildAttributeAlphabet(sequences []TrainingSequence) *Alphabet {
	alpha := NewAlphabet()
	for _, seq := range sequences {
		for _, feats := range seq.Features {
			for _, attr := range slices.Sorted(maps.Keys(feats)) {
				alpha.Add(attr)
			}
		}
	}
	return alpha
}

// BuildLabelAlphabet builds the label alphabet from training sequences.
func BuildLabelAlphabet(sequences []TrainingSequence) *Alphabet {
	alpha := NewAlphabet()
	for _, seq := range sequences {
		for _, label := range seq.Labels {
			alpha.Add(label)
		}
	}
	return alpha
}

// Frame converts one feature dict to a vector. Attributes missing from the
// alphabet are dropped unless grow is set, in which case they are added.
func Frame(features map[string]float64, attrs *Alphabet, grow bool) FeatureVector {
	indices := make([]int, 0, len(features))
	values := make([]float64, 0, len(features))
	for _, attr := range slices.Sorted(maps.Keys(features)) {
		val := features[attr]
		id := attrs.Get(attr)
		if id < 0 && grow {
			id = attrs.Add(attr)
		}
		if id < 0 {
			continue
		}
		indices = append(indices, id)
		values = append(values, val)
	}
	return NewFeatureVector(indices, values)
}

// Input converts per-position feature dicts to a Sequence.
func Input(features []map[string]float64, attrs *Alphabet, grow bool) Sequence {
	seq := make(Sequence, len(features))
	for t, f := range features {
		seq[t] = Frame(f, attrs, grow)
	}
	return seq
}

// Compile converts training sequences to instances over the given alphabets.
// Every label must already be in labels.
func Compile(sequences []TrainingSequence, attrs, labels *Alphabet, grow bool) ([]Instance, error) {
	instances := make([]Instance, len(sequences))
	for i, seq := range sequences {
		if len(seq.Labels) != len(seq.Features) {
			return nil, fmt.Errorf("sequence %d: %w: %d frames, %d labels",
				i, ErrLengthMismatch, len(seq.Features), len(seq.Labels))
		}
		out := make([]int, len(seq.Labels))
		for t, l := range seq.Labels {
			out[t] = labels.Get(l)
			if out[t] < 0 {
				return nil, fmt.Errorf("sequence %d: %w: label %q", i, ErrAlphabetMismatch, l)
			}
		}
		instances[i] = Instance{
			Name:   seq.Name,
			Input:  Input(seq.Features, attrs, grow),
			Output: out,
			Group:  seq.Group,
		}
	}
	return instances, nil
}
