package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqcrf"
	"github.com/happyhackingspace/seqcrf/crf"
	"github.com/happyhackingspace/seqcrf/internal/corpus"
	"github.com/happyhackingspace/seqcrf/internal/featurize"
)

// sequenceResult is the JSON output for one sequence.
type sequenceResult struct {
	Name        string               `json:"name"`
	Predictions []seqcrf.Prediction  `json:"predictions,omitempty"`
	Marginals   []map[string]float64 `json:"marginals,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func (c *CLI) newTagCommand() *cobra.Command {
	var modelPath string
	var nbest int
	var marginals bool
	var labeled bool
	var words bool

	cmd := &cobra.Command{
		Use:   "tag [file]",
		Short: "Label token sequences from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Tag a file, one token per line, blank lines between sequences
  seqcrf tag input.txt --model model.json

  # Pipe tokens from stdin
  cat input.txt | seqcrf tag --model model.json

  # Show the 3 best label sequences with probabilities
  seqcrf tag input.txt --model model.json --nbest 3

  # Show per-token label probabilities
  seqcrf tag input.txt --model model.json --marginals

  # Input carries gold labels in its last column
  seqcrf tag test.txt --model model.json --labeled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := corpus.ReadOptions{Labeled: labeled}
			var seqs []corpus.Sequence
			var err error
			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				opts.Source = "stdin"
				seqs, err = corpus.Read(cmd.InOrStdin(), opts)
			} else {
				seqs, err = corpus.ReadFile(args[0], opts)
			}
			if err != nil {
				return err
			}
			if words {
				expandWords(seqs)
			}
			slog.Debug("Input read", "sequences", len(seqs))

			start := time.Now()
			tagger, err := loadTagger(modelPath)
			if err != nil {
				return err
			}
			slog.Debug("Model loaded", "duration", time.Since(start), "labels", len(tagger.Labels()))

			out := cmd.OutOrStdout()
			if nbest > 0 || marginals {
				return writeJSON(out, tagger, seqs, nbest, marginals)
			}
			return writeTagged(out, tagger, seqs)
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: model.json in current or parent directories)")
	cmd.Flags().IntVar(&nbest, "nbest", 0, "Output the K best label sequences as JSON")
	cmd.Flags().BoolVar(&marginals, "marginals", false, "Output per-token label probabilities as JSON")
	cmd.Flags().BoolVar(&labeled, "labeled", false, "Input lines end with a gold label, which is ignored")
	cmd.Flags().BoolVar(&words, "words", false, "First column is a word; generate its features as in training")
	return cmd
}

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// expandWords replaces the first column of every token with the features
// generated for it; remaining columns are kept as extra features.
func expandWords(seqs []corpus.Sequence) {
	opts := featurize.DefaultOptions()
	for i := range seqs {
		seq := &seqs[i]
		words := make([]string, len(seq.Tokens))
		for j, tok := range seq.Tokens {
			if len(tok) > 0 {
				words[j] = tok[0]
			}
		}
		feats := featurize.Sequence(words, opts)
		for j, tok := range seq.Tokens {
			if len(tok) > 1 {
				feats[j] = append(feats[j], tok[1:]...)
			}
		}
		seq.Tokens = feats
	}
}

func loadTagger(modelPath string) (*seqcrf.Tagger, error) {
	if modelPath != "" {
		slog.Debug("Loading custom model", "path", modelPath)
		return seqcrf.Load(modelPath)
	}
	return seqcrf.New()
}

func writeTagged(w io.Writer, tagger *seqcrf.Tagger, seqs []corpus.Sequence) error {
	for i := range seqs {
		labels, err := tagger.Tag(seqs[i].Features())
		if errors.Is(err, crf.ErrNoPath) {
			slog.Warn("No labeling possible", "sequence", seqs[i].Name)
			continue
		}
		if err != nil {
			return err
		}
		if err := corpus.WriteTagged(w, &seqs[i], labels); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, tagger *seqcrf.Tagger, seqs []corpus.Sequence, nbest int, marginals bool) error {
	results := make([]sequenceResult, 0, len(seqs))
	for i := range seqs {
		res := sequenceResult{Name: seqs[i].Name}
		feats := seqs[i].Features()
		var err error
		if nbest > 0 {
			res.Predictions, err = tagger.TagNBest(feats, nbest)
		}
		if err == nil && marginals {
			res.Marginals, err = tagger.Marginals(feats)
		}
		if errors.Is(err, crf.ErrNoPath) {
			res.Predictions, res.Marginals = nil, nil
			res.Error = err.Error()
		} else if err != nil {
			return err
		}
		results = append(results, res)
	}
	output, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}
