package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/jshost"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Kind string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script.js>",
		Short: "Run a JavaScript driver script",
		Long: `Run a JavaScript driver script. The script opens engines with
Env(config[, kind]) and steps them through reset, update, observe, result,
agent_count, get_ui, run_script and step. Its log output is printed, followed by the
script's completion value.

Example:
  edenctl run ./drive.js --kind sandbox`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "sandbox", "engine kind used when Env names none")

	return cmd
}

func runScript(opts *RunOptions, path string, cmd *cobra.Command) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read script", err)
	}

	hostOpts := []jshost.Option{
		jshost.WithTimeout(opts.Config.Script.Timeout),
		jshost.WithKind(opts.Kind),
		jshost.WithLogger(opts.logger(cmd.ErrOrStderr(), "JS", false)),
	}
	if opts.Config.Bridge.StrictShapes {
		hostOpts = append(hostOpts, jshost.WithBridgeOptions(bridge.WithStrictShapes()))
	}
	host := jshost.New(hostOpts...)
	defer host.Close()

	value, runErr := host.Run(string(src))
	out := cmd.OutOrStdout()

	if opts.Format == "json" {
		resp := map[string]any{"logs": host.Logs(), "value": value}
		if runErr != nil {
			resp["error"] = runErr.Error()
		}
		if err := writeJSON(out, resp); err != nil {
			return err
		}
	} else {
		for _, l := range host.Logs() {
			fmt.Fprintln(out, l.Message)
		}
		if value != nil && runErr == nil {
			fmt.Fprintln(out, formatValue(value))
		}
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "script failed", runErr)
	}
	return nil
}

// formatValue prints strings bare and everything else as compact JSON.
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return compactJSON(v)
}
