package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/crimson-sun/sentinel/internal/config"
	"github.com/crimson-sun/sentinel/internal/engine"
	"github.com/crimson-sun/sentinel/internal/engine/artifact"
	"github.com/crimson-sun/sentinel/internal/logging"
	"github.com/crimson-sun/sentinel/internal/metrics"
	"github.com/crimson-sun/sentinel/internal/pipeline"
	"github.com/crimson-sun/sentinel/internal/server"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "sentinel: %v\n", err)
		return exitFatal
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", cfg.Server.Addr, "listen address")
	modelDir := fs.String("model", cfg.Model.Dir, "model bundle directory or manifest file")
	describe := fs.Bool("describe", cfg.Narrative.Enabled, "enable narrative overviews")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return exitFatal
	}

	logging.Init(true, logging.ParseLevel(*logLevel))
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	art, err := artifact.Load(*modelDir, artifact.WithONNXLibrary(cfg.Model.ONNXLibrary))
	if err != nil {
		slog.Error("failed to load model", "error", err)
		return exitFatal
	}
	defer art.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	alerts, cleanup, err := alertSinks(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up alert sinks", "error", err)
		return exitFatal
	}
	defer cleanup()

	h := &server.Handler{
		Threshold:      cfg.Model.Threshold,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ModelName:      art.Name,
	}
	opts := []pipeline.Option{pipeline.WithSinks(alerts...), pipeline.WithMetrics(m)}
	// Narratives are requested per call by the handler, not by the pipeline.
	if *describe {
		h.Describer = newDescriber(cfg)
	}
	h.Runner = pipeline.New(engine.FromArtifact(art, engine.WithMetrics(m)), opts...)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      server.NewRouter(h, reg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("sentinel listening", "addr", *addr, "model", art.Name, "version", art.Version)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			return exitFatal
		}
		return exitClean
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
		return exitFatal
	}
	return exitClean
}
