package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-entry/internal/api"
	"github.com/sells-group/lead-entry/internal/monitoring"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the lead monitor, operator API, call webhook, and alert checker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		env, err := buildAutomation(st)
		if err != nil {
			_ = st.Close()
			return err
		}
		defer env.Close()

		srv := api.NewServer(api.Deps{
			Store:      env.Store,
			Automation: env.Monitor,
			Calls:      env.Calls,
			Browser:    env.Engine,
		}, cfg.Server, cfg.Portal)

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return env.Monitor.Run(gctx) })
		g.Go(func() error { return startServer(gctx, srv.Router(), resolvePort(servePort, cfg.Server.Port)) })
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		return g.Wait()
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler until ctx ends, then shuts down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
