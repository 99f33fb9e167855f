package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/eden-env/internal/api"
	"github.com/MJE43/eden-env/internal/bridge"
	"github.com/MJE43/eden-env/internal/metrics"
	"github.com/MJE43/eden-env/internal/ratelimit"
	"github.com/MJE43/eden-env/internal/store"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr      string
	StorePath string
	Kind      string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve engines over HTTP",
		Long: `Start the HTTP host. Clients open environments with POST /api/v1/envs
and drive them with reset, update, step, observe, result, agent_count, ui and
run_script. With a store path every episode is recorded to SQLite.

Example:
  edenctl serve --addr 127.0.0.1:8080 --store ./episodes.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&opts.StorePath, "store", "", "SQLite path for episode recording (overrides store.path)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "sandbox", "engine kind used when a request names none")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg := opts.Config
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	logger := opts.logger(cmd.ErrOrStderr(), "API", true)

	var st *store.Store
	if cfg.Store.Path != "" {
		var err error
		if st, err = store.New(cfg.Store.Path); err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		defer st.Close()
		if err := st.Migrate(); err != nil {
			return WrapExitError(ExitCommandError, "failed to migrate store", err)
		}
	}

	var bridgeOpts []bridge.Option
	if cfg.Bridge.StrictShapes {
		bridgeOpts = append(bridgeOpts, bridge.WithStrictShapes())
	}
	srv := api.NewServer(api.Options{
		Logger:        logger,
		Store:         st,
		Metrics:       metrics.New(),
		Limiter:       ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 0),
		BridgeOptions: bridgeOpts,
		DefaultKind:   opts.Kind,
		Verbose:       opts.Verbose,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	logger.Printf("listening addr=%s store=%q strict_shapes=%t", ln.Addr(), cfg.Store.Path, cfg.Bridge.StrictShapes)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Printf("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	return nil
}
