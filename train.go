package seqcrf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"golang.org/x/exp/rand"

	"github.com/happyhackingspace/seqcrf/crf"
)

// Topology selects how states and transitions are laid out over the labels.
type Topology string

const (
	// FullyConnected has one state per label and every label pair connected.
	FullyConnected Topology = "fully-connected"
	// ConnectedAsIn keeps only label pairs seen adjacent in training data.
	ConnectedAsIn Topology = "connected-as-in"
	// HalfConnected is ConnectedAsIn with weights tied by destination label.
	HalfConnected Topology = "half-connected"
	// OrderN has one state per label history of the largest order.
	OrderN Topology = "order-n"
)

// TrainConfig holds configuration for training.
type TrainConfig struct {
	Topology Topology

	// Order-n settings.
	Orders       []int
	StartLabel   string // pads histories at sequence start
	Forbidden    string // regexp over adjacent label pairs "A,B"
	Allowed      string // regexp every adjacent label pair must match
	ObservedOnly bool   // keep only label n-grams seen in training data

	// StartState, if set, names a state every path must begin in.
	StartState string

	Trainer crf.TrainerConfig
}

// DefaultTrainConfig returns a first-order fully connected configuration.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Topology: FullyConnected,
		Orders:   []int{1},
		Trainer:  crf.DefaultTrainerConfig(),
	}
}

// EvalConfig holds configuration for evaluation.
type EvalConfig struct {
	Folds int
	Train TrainConfig
}

// EvalResult holds cross-validation evaluation results.
type EvalResult struct {
	TokenAccuracy    float64
	SequenceAccuracy float64
	TokenCorrect     int
	TokenTotal       int
	SequenceCorrect  int
	SequenceTotal    int
	Folds            int
}

// BuildGraph compiles sequences over fresh alphabets and lays out the
// configured topology. The returned graph is resolved and untrained.
func BuildGraph(sequences []crf.TrainingSequence, config TrainConfig) (*crf.Graph, []crf.Instance, error) {
	attrs := crf.BuildAttributeAlphabet(sequences)
	labels := crf.BuildLabelAlphabet(sequences)
	if config.Topology == OrderN && config.StartLabel != "" {
		labels.Add(config.StartLabel)
	}
	instances, err := crf.Compile(sequences, attrs, labels, false)
	if err != nil {
		return nil, nil, fmt.Errorf("seqcrf: %w", err)
	}

	g := crf.NewGraph(labels, attrs)
	switch config.Topology {
	case FullyConnected, "":
		err = g.AddFullyConnectedStates(slices.Clone(labels.ToStr))
	case ConnectedAsIn:
		err = g.AddStatesConnectedAsIn(instances)
	case HalfConnected:
		err = g.AddHalfStatesConnectedAsIn(instances)
	case OrderN:
		var o crf.OrderN
		o, err = orderN(config, instances)
		if err == nil {
			err = g.AddOrderNStates(o)
		}
	default:
		err = fmt.Errorf("unknown topology %q", config.Topology)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("seqcrf: %w", err)
	}
	if config.StartState != "" {
		if err := g.AddStartState(config.StartState); err != nil {
			return nil, nil, fmt.Errorf("seqcrf: %w", err)
		}
	}
	if err := g.Resolve(); err != nil {
		return nil, nil, fmt.Errorf("seqcrf: %w", err)
	}
	return g, instances, nil
}

func orderN(config TrainConfig, instances []crf.Instance) (crf.OrderN, error) {
	o := crf.OrderN{
		Orders:         config.Orders,
		Start:          config.StartLabel,
		FullyConnected: !config.ObservedOnly,
		Instances:      instances,
	}
	var err error
	if config.Forbidden != "" {
		if o.Forbidden, err = regexp.Compile(config.Forbidden); err != nil {
			return o, fmt.Errorf("forbidden pattern: %w", err)
		}
	}
	if config.Allowed != "" {
		if o.Allowed, err = regexp.Compile(config.Allowed); err != nil {
			return o, fmt.Errorf("allowed pattern: %w", err)
		}
	}
	return o, nil
}

// Train trains a tagger on labeled sequences.
func Train(ctx context.Context, sequences []crf.TrainingSequence, config TrainConfig) (*Tagger, crf.TrainResult, error) {
	if len(sequences) == 0 {
		return nil, crf.TrainResult{}, fmt.Errorf("seqcrf: %w", crf.ErrNoInstances)
	}
	g, instances, err := BuildGraph(sequences, config)
	if err != nil {
		return nil, crf.TrainResult{}, err
	}
	slog.Debug("Graph built", "topology", config.Topology, "labels", g.Labels().Size(),
		"features", g.Features().Size(), "states", g.NumStates(), "transitions", g.NumTransitions())

	res, err := crf.Train(ctx, g, instances, config.Trainer)
	if err != nil {
		return nil, res, fmt.Errorf("seqcrf: %w", err)
	}
	return &Tagger{graph: g}, res, nil
}

// Evaluate runs grouped k-fold cross-validation: sequences sharing a Group
// always land in the same fold.
func Evaluate(ctx context.Context, sequences []crf.TrainingSequence, config EvalConfig) (*EvalResult, error) {
	nFolds := config.Folds
	if nFolds == 0 {
		nFolds = 10
	}
	if nFolds < 2 {
		return nil, fmt.Errorf("seqcrf: need at least 2 folds, got %d", nFolds)
	}
	if len(sequences) == 0 {
		return nil, fmt.Errorf("seqcrf: %w", crf.ErrNoInstances)
	}

	groups := make([]int, len(sequences))
	for i, seq := range sequences {
		groups[i] = seq.Group
	}
	if !slices.ContainsFunc(groups, func(g int) bool { return g != groups[0] }) {
		// a single group cannot be split; fall back to one group per sequence
		for i := range groups {
			groups[i] = i
		}
	}
	rng := rand.New(rand.NewSource(config.Train.Trainer.Seed))
	folds := groupKFold(groups, nFolds, rng)

	result := &EvalResult{Folds: len(folds)}
	for k, testIdx := range folds {
		testSet := makeTestSet(len(sequences), testIdx)
		var trainSeqs []crf.TrainingSequence
		for i, seq := range sequences {
			if !testSet[i] {
				trainSeqs = append(trainSeqs, seq)
			}
		}
		if len(trainSeqs) == 0 {
			continue
		}
		slog.Info("Training fold", "fold", k+1, "of", len(folds), "train", len(trainSeqs), "test", len(testIdx))
		tagger, _, err := Train(ctx, trainSeqs, config.Train)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", k+1, err)
		}

		for _, idx := range testIdx {
			seq := sequences[idx]
			pred, err := tagger.Tag(seq.Features)
			if err != nil && !errors.Is(err, crf.ErrNoPath) {
				return nil, err
			}
			allCorrect := true
			for j := range seq.Labels {
				if j < len(pred) && pred[j] == seq.Labels[j] {
					result.TokenCorrect++
				} else {
					allCorrect = false
				}
				result.TokenTotal++
			}
			if allCorrect {
				result.SequenceCorrect++
			}
			result.SequenceTotal++
		}
	}
	if result.TokenTotal > 0 {
		result.TokenAccuracy = float64(result.TokenCorrect) / float64(result.TokenTotal)
	}
	if result.SequenceTotal > 0 {
		result.SequenceAccuracy = float64(result.SequenceCorrect) / float64(result.SequenceTotal)
	}
	return result, nil
}

// groupKFold assigns whole groups to folds round-robin after a seeded
// shuffle of the distinct groups.
func groupKFold(groups []int, nFolds int, rng *rand.Rand) [][]int {
	uniqueGroups := make(map[int]bool)
	for _, g := range groups {
		uniqueGroups[g] = true
	}
	sortedGroups := make([]int, 0, len(uniqueGroups))
	for g := range uniqueGroups {
		sortedGroups = append(sortedGroups, g)
	}
	slices.Sort(sortedGroups)
	rng.Shuffle(len(sortedGroups), func(i, j int) {
		sortedGroups[i], sortedGroups[j] = sortedGroups[j], sortedGroups[i]
	})

	if nFolds > len(sortedGroups) {
		nFolds = len(sortedGroups)
	}

	groupToFold := make(map[int]int)
	for i, g := range sortedGroups {
		groupToFold[g] = i % nFolds
	}

	folds := make([][]int, nFolds)
	for i, g := range groups {
		fold := groupToFold[g]
		folds[fold] = append(folds[fold], i)
	}
	return folds
}

func makeTestSet(n int, testIdx []int) []bool {
	set := make([]bool, n)
	for _, i := range testIdx {
		set[i] = true
	}
	return set
}
