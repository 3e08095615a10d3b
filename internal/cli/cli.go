package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// CLI encapsulates the command-line interface with its dependencies.
type CLI struct {
	version     string
	verbose     bool
	silent      bool
	logFormat   string
	initialized bool
	rootCmd     *cobra.Command
}

// New creates a new CLI instance with the given version string.
func New(version string) *CLI {
	c := &CLI{version: version}
	c.setupCommands()
	return c
}

// setupCommands initializes all CLI commands and their configurations.
func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:     "seqcrf",
		Short:   "Linear-chain CRF sequence labeler",
		Version: c.version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initApp(cmd.ErrOrStderr())
		},
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	c.rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose/debug output")
	c.rootCmd.PersistentFlags().BoolVarP(&c.silent, "silent", "s", false, "Suppress all logging and progress output")
	c.rootCmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "Log format: text or json")

	c.rootCmd.AddCommand(c.newTrainCommand())
	c.rootCmd.AddCommand(c.newTagCommand())
	c.rootCmd.AddCommand(c.newEvaluateCommand())
	c.rootCmd.AddCommand(c.newUpCommand())
}

// Run executes the CLI and returns any error.
func (c *CLI) Run() error {
	return c.rootCmd.Execute()
}

// SetArgs overrides the command-line arguments, for tests.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// initApp installs the default logger on w.
func (c *CLI) initApp(w io.Writer) error {
	if c.initialized {
		return nil
	}

	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	if c.silent {
		level = slog.Level(100)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch c.logFormat {
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", c.logFormat)
	}
	slog.SetDefault(slog.New(handler))
	c.initialized = true
	return nil
}

// showProgress reports whether a progress bar would not collide with logs.
func (c *CLI) showProgress() bool {
	return !c.silent && !c.verbose
}
