// Package cli implements the edenctl command tree.
package cli

import (
	"fmt"
	"io"
	"log"
	"slices"

	"github.com/spf13/cobra"

	"github.com/MJE43/eden-env/internal/config"
	"github.com/MJE43/eden-env/internal/version"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"

	// Config is resolved before any subcommand runs.
	Config config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "edenctl",
		Short:   "Drive multi-agent engines over HTTP or JavaScript",
		Long:    "edenctl hosts engines behind the reset/update/observe/result call surface, as an HTTP service or for JavaScript driver scripts.",
		Version: version.Get().String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.LoadFromPath(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (default: edenctl.yaml, configs/edenctl.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewEpisodesCommand(opts))

	return cmd
}

// logger returns a component logger on w, or a discarding one unless
// verbose.
func (o *RootOptions) logger(w io.Writer, component string, always bool) *log.Logger {
	if !always && !o.Verbose {
		w = io.Discard
	}
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
