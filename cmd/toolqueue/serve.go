package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aagnone3/toolqueue/api"
	"github.com/aagnone3/toolqueue/engine"
)

// ServeCmd runs the HTTP API with workers and the sweep scheduler in the
// same process.
func ServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		noWorkers bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, run workers and schedule sweeps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.settings.Server.Addr = addr
			}
			return a.serve(cmd.Context(), !noWorkers)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&noWorkers, "no-workers", false, "serve the API only; another process runs workers")
	return cmd
}

func (a *app) serve(ctx context.Context, workers bool) error {
	exporter, err := otelprom.New()
	if err != nil {
		return fmt.Errorf("prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			a.logger.Warn("meter provider shutdown failed", slog.String("error", err.Error()))
		}
	}()

	opts := []engine.Option{engine.WithMeterProvider(meterProvider)}
	if !workers {
		opts = append(opts, engine.WithoutWorkers())
	}
	eng, b, err := a.buildEngine(ctx, opts...)
	if err != nil {
		return err
	}
	defer b.close() //nolint:errcheck // best-effort on exit

	if err := eng.Start(ctx); err != nil {
		return err
	}

	srv := a.settings.Server
	handler := api.New(eng,
		api.WithLogger(a.logger),
		api.WithCronSecret(srv.CronSecret),
		api.WithKeepAlive(srv.KeepAlive),
	)

	r := chi.NewRouter()
	if srv.MetricsPath != "" {
		r.Handle(srv.MetricsPath, promhttp.Handler())
	}
	r.Mount("/", handler.Handler())

	httpServer := &http.Server{
		Addr:              srv.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.settings.Pipeline.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		a.logger.Warn("engine shutdown failed", slog.String("error", err.Error()))
	}
	return serveErr
}
