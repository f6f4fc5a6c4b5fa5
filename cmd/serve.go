package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NEXORA-Studios/NovaCL/internal/logging"
	"github.com/NEXORA-Studios/NovaCL/internal/metrics"
	"github.com/NEXORA-Studios/NovaCL/internal/router"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download service and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			logger, logCloser, err := logging.New(cfg.Log, os.Stdout)
			if err != nil {
				return err
			}
			defer func() { _ = logCloser.Close() }()

			metrics.Register()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, logger, true)
			if err != nil {
				return err
			}
			if err := a.svc.Restore(ctx, cfg.ResumeOnStart); err != nil {
				logger.Error("restore downloads", "err", err)
			}

			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           router.New(logger, a.svc, router.Options{Token: cfg.APIToken, Events: a.hub, Ready: a.ready}),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("starting NovaCL API", "addr", server.Addr, "version", Version, "auth", cfg.APIToken != "")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					logger.Error("server error", "err", err)
					_ = a.Close(context.Background())
					return err
				}
			case <-ctx.Done():
				logger.Info("received terminate, graceful shutdown")
			}

			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(sctx); err != nil {
				logger.Error("http shutdown", "err", err)
			}
			if err := a.Close(sctx); err != nil {
				logger.Error("download shutdown", "err", err)
				return err
			}
			logger.Info("stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}
