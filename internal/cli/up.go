package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const releaseSlug = "happyhackingspace/seqcrf"

func (c *CLI) newUpCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Replace the seqcrf binary with the latest release",
		Long: `Replace the running seqcrf binary with the latest GitHub release for this
platform. Trained model files are not touched; models saved by older
releases load unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.selfUpdate(cmd.Context(), cmd.OutOrStdout(), check)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "Only report whether a newer release exists")
	return cmd
}

func (c *CLI) selfUpdate(ctx context.Context, w io.Writer, check bool) error {
	current := c.version
	if current == "dev" {
		current = "0.0.0"
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug(releaseSlug))
	if err != nil {
		return fmt.Errorf("detect latest seqcrf release: %w", err)
	}
	if !found {
		return fmt.Errorf("no seqcrf release found for this platform")
	}

	if latest.LessOrEqual(current) {
		_, _ = fmt.Fprintf(w, "seqcrf %s is the latest release\n", c.version)
		return nil
	}
	if check {
		_, _ = fmt.Fprintf(w, "seqcrf %s is available (running %s); run \"seqcrf up\" to install\n",
			latest.Version(), c.version)
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	slog.Info("Updating seqcrf binary", "from", c.version, "to", latest.Version(), "path", exe, "asset", latest.AssetName)

	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("update %s: %w", exe, err)
	}

	_, _ = fmt.Fprintf(w, "seqcrf updated to %s\n", latest.Version())
	return nil
}
