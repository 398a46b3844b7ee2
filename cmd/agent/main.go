package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/app"
	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/engine"

	_ "net/http/pprof"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	candidatesPath := flag.String("candidates", "candidates.json", "path to the verdict engine output file")
	flag.Parse()

	// Metrics + pprof on localhost only.
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		slog.Info("metrics server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	source := &engine.FileCandidateSource{Path: *candidatesPath}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath, source, flag.Args()); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("agent failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("agent stopped")
}
