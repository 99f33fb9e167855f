package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/game"
	"github.com/MJE43/eden-env/internal/nested"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Kind string
	Seed int
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <config-dir>",
		Short: "Open an engine, reset it and print what it reports",
		Long: `Open an engine from a config directory, reset it with the given seed and
print its agent count, observations and per-agent UI vectors.

Example:
  edenctl inspect ./worlds/arena --seed 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "sandbox", "engine kind")
	cmd.Flags().IntVar(&opts.Seed, "seed", 0, "reset seed")

	return cmd
}

type inspectReport struct {
	Config      string  `json:"config"`
	Kind        string  `json:"kind"`
	Seed        int     `json:"seed"`
	AgentCount  []any   `json:"agent_count"`
	Observation []any   `json:"observation"`
	// RowLengths and Rectangular describe Observation; dead agents show up as
	// short rows.
	RowLengths  []int   `json:"row_lengths"`
	Rectangular bool    `json:"rectangular"`
	UI          [][]any `json:"ui"`
}

func runInspect(opts *InspectOptions, dir string, out io.Writer) error {
	g, err := game.Open(opts.Kind, dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open engine", err)
	}
	defer game.Close(g)

	env := bridge.New(g)
	report := inspectReport{Config: dir, Kind: opts.Kind, Seed: opts.Seed}

	if err := env.Reset(opts.Seed); err != nil {
		return WrapExitError(ExitFailure, "reset failed", err)
	}
	if report.AgentCount, err = env.AgentCount(); err != nil {
		return WrapExitError(ExitFailure, "agent_count failed", err)
	}
	if report.Observation, err = env.Observe(); err != nil {
		return WrapExitError(ExitFailure, "observe failed", err)
	}
	obs, err := nested.Decode2[float32](report.Observation)
	if err != nil {
		return WrapExitError(ExitFailure, "observe returned a non-numeric value", err)
	}
	_, report.RowLengths = nested.Shape2(obs)
	report.Rectangular = nested.IsRectangular2(obs)

	n, _ := report.AgentCount[0].(int)
	for i := 0; i < n; i++ {
		ui, err := env.GetUI(i)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("get_ui %d failed", i), err)
		}
		report.UI = append(report.UI, ui)
	}

	if opts.Format == "json" {
		return writeJSON(out, report)
	}

	fmt.Fprintf(out, "config: %s\n", report.Config)
	fmt.Fprintf(out, "kind: %s\n", report.Kind)
	fmt.Fprintf(out, "seed: %d\n", report.Seed)
	fmt.Fprintf(out, "agent_count: %v\n", report.AgentCount)
	fmt.Fprintf(out, "observe: %d rows %v rectangular=%t\n", len(report.RowLengths), report.RowLengths, report.Rectangular)
	for i, row := range report.Observation {
		fmt.Fprintf(out, "  [%d] %v\n", i, row)
	}
	fmt.Fprintln(out, "ui:")
	for i, row := range report.UI {
		fmt.Fprintf(out, "  [%d] %v\n", i, row)
	}
	return nil
}
