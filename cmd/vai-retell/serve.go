package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-retell/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-retell/pkg/gateway/server"
)

type serveDeps struct {
	newGateway   func(config.Config, *slog.Logger) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServeDeps() serveDeps {
	return serveDeps{
		newGateway: func(cfg config.Config, logger *slog.Logger) (*gatewayserver.Server, error) {
			return gatewayserver.New(cfg, logger)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func newServeCmd(deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.loadConfig == nil {
				return errors.New("missing loadConfig dependency")
			}
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.ValidateForServe(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return runServe(cmd.Context(), cfg, logger, deps.serve)
		},
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger, deps serveDeps) error {
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	gw, err := deps.newGateway(cfg, logger)
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Warn("close metadata store", "error", err)
		}
	}()
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting server",
		"addr", cfg.Addr,
		"provider", cfg.Provider,
		"model", cfg.Model,
		"metadata_backend", gw.Metadata().Backend(),
		"admin_auth_mode", cfg.AuthMode,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context done, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()

	// Hijacked websocket connections are not tracked by Shutdown; calls are
	// drained separately below.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitCalls(waitCtx) {
		gw.CancelCalls()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
