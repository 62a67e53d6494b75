// Package cli implements the lifecycle operator command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/blackmichael/listing-lifecycle/internal/app"
	"github.com/blackmichael/listing-lifecycle/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// LoadConfig overrides config.Load (for testing).
	LoadConfig func() (*config.Config, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lifecycle CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{LoadConfig: config.Load})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Operate the listing lifecycle engine",
		Long: `Operator tooling for the listing lifecycle engine.

Commands run against the store selected by DATABASE_DRIVER / DATABASE_URL
(or CONFIG_FILE), the same configuration the server uses.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewToggleCommand(opts))
	cmd.AddCommand(NewPruneRunsCommand(opts))

	return cmd
}

func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// open loads configuration and wires the application.
func (o *RootOptions) open(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg, o.logger(cmd.ErrOrStderr()))
}

// print writes v as JSON, or calls text when the format is text.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
