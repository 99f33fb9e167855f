package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/eden-env/internal/store"
)

// EpisodesOptions holds flags for the episodes command.
type EpisodesOptions struct {
	*RootOptions
	StorePath string
	Limit     int
	Offset    int
}

// NewEpisodesCommand creates the episodes command.
func NewEpisodesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EpisodesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "episodes [episode-id]",
		Short: "List recorded episodes, or the steps of one",
		Long: `List episodes recorded by "edenctl serve", newest first. With an episode id,
print that episode's steps instead.

Example:
  edenctl episodes --store ./episodes.db --limit 10
  edenctl episodes --store ./episodes.db 3f2c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpisodes(opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.StorePath, "store", "", "SQLite path (overrides store.path)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows to print")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip")

	return cmd
}

func runEpisodes(opts *EpisodesOptions, args []string, out io.Writer) error {
	path := opts.StorePath
	if path == "" {
		path = opts.Config.Store.Path
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no store configured: pass --store or set store.path")
	}
	st, err := store.New(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		return WrapExitError(ExitCommandError, "failed to migrate store", err)
	}

	if len(args) == 1 {
		return printSteps(opts, st, args[0], out)
	}

	eps, total, err := st.ListEpisodes(opts.Limit, opts.Offset)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list episodes", err)
	}
	if opts.Format == "json" {
		return writeJSON(out, map[string]any{"episodes": eps, "total": total})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCONFIG\tSEED\tSTEPS\tCREATED\tENDED")
	for _, ep := range eps {
		ended := "-"
		if ep.EndedAt != nil {
			ended = ep.EndedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			ep.ID, ep.Kind, ep.Config, ep.Seed, ep.Steps, ep.CreatedAt.Format(time.RFC3339), ended)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d episodes\n", len(eps), total)
	return nil
}

func printSteps(opts *EpisodesOptions, st *store.Store, id string, out io.Writer) error {
	if _, err := st.GetEpisode(id); err != nil {
		return WrapExitError(ExitCommandError, "unknown episode", err)
	}
	page, err := st.GetSteps(id, opts.Offset/max(opts.Limit, 1)+1, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read steps", err)
	}
	if opts.Format == "json" {
		return writeJSON(out, page)
	}
	for _, s := range page.Steps {
		fmt.Fprintf(out, "#%d action=%s observation=%s result=%s\n", s.Step, s.Action, s.Observation, s.Result)
	}
	fmt.Fprintf(out, "%d of %d steps\n", len(page.Steps), page.TotalCount)
	return nil
}
