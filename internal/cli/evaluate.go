package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/seqcrf"
	"github.com/happyhackingspace/seqcrf/internal/corpus"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var flags trainFlags
	var cvFolds int

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate tagging accuracy via grouped cross-validation",
		Example: `  seqcrf evaluate --data train.txt --cv 10
  seqcrf evaluate --data train.txt --config crf.yaml --cv 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := flags.trainConfig(cmd.Flags())
			if err != nil {
				return err
			}
			seqs, err := flags.readData()
			if err != nil {
				return err
			}
			training := corpus.TrainingSequences(seqs)
			for i, g := range corpus.Groups(seqs) {
				training[i].Group = g
			}

			slog.Info("Evaluating", "folds", cvFolds, "data", flags.dataPath, "sequences", len(seqs))
			start := time.Now()
			result, err := seqcrf.Evaluate(cmd.Context(), training, seqcrf.EvalConfig{
				Folds: cvFolds,
				Train: tc,
			})
			if err != nil {
				return err
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			fmt.Printf("Token accuracy: %.1f%% (%d/%d tokens)\n",
				result.TokenAccuracy*100, result.TokenCorrect, result.TokenTotal)
			fmt.Printf("Sequence accuracy: %.1f%% (%d/%d sequences)\n",
				result.SequenceAccuracy*100, result.SequenceCorrect, result.SequenceTotal)
			return nil
		},
	}

	flags.register(cmd.Flags())
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	return cmd
}
