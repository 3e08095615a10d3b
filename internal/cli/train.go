package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/happyhackingspace/seqcrf"
	"github.com/happyhackingspace/seqcrf/internal/config"
	"github.com/happyhackingspace/seqcrf/internal/corpus"
	"github.com/happyhackingspace/seqcrf/optimize"
)

// trainFlags are shared by train and evaluate.
type trainFlags struct {
	dataPath   string
	configPath string
	topology   string
	iterations int
	workers    int
	seed       uint64
	lenient    bool
	words      bool
}

func (f *trainFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.dataPath, "data", "train.txt", "Path to labeled token-per-line data")
	fs.StringVar(&f.configPath, "config", "", "Path to YAML training configuration")
	fs.StringVar(&f.topology, "topology", "", "Override topology (fully-connected, connected-as-in, half-connected, order-n)")
	fs.IntVar(&f.iterations, "iterations", 0, "Override maximum L-BFGS iterations")
	fs.IntVar(&f.workers, "workers", 0, "Override parallel workers (0 uses all CPUs)")
	fs.Uint64Var(&f.seed, "seed", 0, "Override random seed")
	fs.BoolVar(&f.lenient, "lenient", false, "Exclude instances whose feasibility changes instead of failing")
	fs.BoolVar(&f.words, "words", false, "First column is a word; generate its features")
}

// trainConfig loads the configuration file, if any, and applies flags the
// user set explicitly.
func (f *trainFlags) trainConfig(fs *pflag.FlagSet) (seqcrf.TrainConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return seqcrf.TrainConfig{}, err
		}
	}
	if fs.Changed("topology") {
		cfg.Topology = f.topology
	}
	if fs.Changed("iterations") {
		cfg.Optimizer.MaxIterations = f.iterations
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("seed") {
		cfg.Seed = f.seed
	}
	if f.lenient {
		cfg.Strict = false
	}
	return cfg.TrainConfig()
}

func (f *trainFlags) readData() ([]corpus.Sequence, error) {
	seqs, err := corpus.ReadFile(f.dataPath, corpus.DefaultReadOptions())
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("no sequences found in %s", f.dataPath)
	}
	if f.words {
		expandWords(seqs)
	}
	return seqs, nil
}

func (c *CLI) newTrainCommand() *cobra.Command {
	var flags trainFlags

	cmd := &cobra.Command{
		Use:   "train <modelfile>",
		Short: "Train a model on labeled sequences",
		Args:  cobra.ExactArgs(1),
		Example: `  seqcrf train model.json --data train.txt
  seqcrf train model.json --data train.txt --config crf.yaml --workers 4 -v`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath := args[0]
			tc, err := flags.trainConfig(cmd.Flags())
			if err != nil {
				return err
			}
			seqs, err := flags.readData()
			if err != nil {
				return err
			}

			if c.showProgress() {
				stages := max(1, len(tc.Trainer.Proportions))
				bar := progressbar.NewOptions(tc.Trainer.MaxIterations*stages,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("training"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
				tc.Trainer.OnIteration = func(it optimize.Iteration) {
					bar.Describe(fmt.Sprintf("training (objective %.4f)", it.Value))
					_ = bar.Add(1)
				}
				defer func() { _ = bar.Finish() }()
			}

			slog.Info("Training tagger", "data", flags.dataPath, "sequences", len(seqs),
				"topology", tc.Topology, "output", modelPath)
			start := time.Now()
			tagger, res, err := seqcrf.Train(cmd.Context(), corpus.TrainingSequences(seqs), tc)
			if err != nil {
				return err
			}
			slog.Debug("Training completed", "duration", time.Since(start), "status", res.Status)
			if len(res.Excluded) > 0 {
				slog.Warn("Some sequences were excluded from training", "count", len(res.Excluded))
			}
			if err := tagger.Save(modelPath); err != nil {
				return err
			}
			slog.Info("Model saved", "path", modelPath)
			return nil
		},
	}

	flags.register(cmd.Flags())
	return cmd
}
