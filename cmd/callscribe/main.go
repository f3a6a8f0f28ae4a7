// Command callscribe transcribes a live call from two capture paths at once:
// the microphone and the system loopback. Transcripts are deduplicated across
// the streams, analyzed for sales-framework progress and logged to stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentic-k/call-card-ai-assistant-sub000/internal/bootstrap"
)

func main() {
	// Missing .env is fine; the environment itself may carry everything.
	_ = godotenv.Load()

	log := newLogger(os.Getenv("CALLSCRIBE_LOG_LEVEL"), os.Getenv("CALLSCRIBE_LOG_FORMAT"))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("callscribe exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	services, err := bootstrap.Build(newConsoleSink(log), registry, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if services.Config.Metrics.Enabled {
		metricsSrv = serveMetrics(services, registry, log)
	}

	if err := services.Orchestrator.StartBoth(ctx); err != nil {
		if !services.Orchestrator.Running() {
			services.Orchestrator.StopBoth(true)
			return err
		}
		log.Warn("running with one stream down", "error", err)
	}
	log.Info("callscribe is live",
		"backend", services.Config.Backend.Endpoint,
		"mic_device", services.Config.Mic.InputDevice,
		"system_device", services.Config.System.InputDevice)

	pauseToggle := make(chan os.Signal, 1)
	signal.Notify(pauseToggle, syscall.SIGUSR1, syscall.SIGUSR2)

	// Both streams reaching a terminal state ends the session without
	// needing an interrupt.
	watchdog := time.NewTicker(time.Second)
	defer watchdog.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-watchdog.C:
			if !services.Orchestrator.Running() {
				break loop
			}
		case sig := <-pauseToggle:
			switch sig {
			case syscall.SIGUSR1:
				if err := services.Orchestrator.PauseBoth(); err != nil {
					log.Warn("pause failed", "error", err)
				}
			case syscall.SIGUSR2:
				if err := services.Orchestrator.ResumeBoth(); err != nil {
					log.Warn("resume failed", "error", err)
				}
			}
		}
	}

	// Restore default signal handling so a second interrupt kills the
	// process even if the polite shutdown hangs.
	stop()

	log.Info("shutting down")
	if err := services.Orchestrator.StopBoth(false); err != nil {
		log.Warn("shutdown finished with errors", "error", err)
	}
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info("session summary",
		"duplicates_suppressed", services.Deduplicator.Suppressed(),
		"label_counts", services.Analysis.LabelCounts())
	for _, status := range services.Analysis.Progress() {
		log.Info("framework question",
			"question", status.Question,
			"status", status.Status,
			"confidence", status.Confidence)
	}
	return nil
}

func serveMetrics(services bootstrap.Services, registry *prometheus.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		states := services.Orchestrator.States()
		w.Header().Set("Content-Type", "application/json")
		if !services.Orchestrator.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(states)
	})

	srv := &http.Server{
		Addr:              services.Config.Metrics.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
