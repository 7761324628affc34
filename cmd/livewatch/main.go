// livewatch connects to the MarketPulse live channel and streams
// connection transitions, cache invalidations, and (optionally) the
// progress of one job to the console.
// Usage: go run ./cmd/livewatch --config configs/livewatch.example.yaml --job <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marketpulse/realtime/internal/cache"
	"github.com/marketpulse/realtime/internal/config"
	"github.com/marketpulse/realtime/internal/connection"
	"github.com/marketpulse/realtime/internal/event"
	"github.com/marketpulse/realtime/internal/job"
	"github.com/marketpulse/realtime/internal/model"
	"github.com/marketpulse/realtime/internal/sched"
	"github.com/marketpulse/realtime/internal/status"
	"github.com/marketpulse/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/livewatch.example.yaml", "path to config file")
	jobID := flag.String("job", "", "job ID to track (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting livewatch",
		"version", version.Version,
		"commit", version.Commit,
		"ws_url", cfg.Server.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	clock := sched.New()
	dispatcher := event.NewDispatcher(logger)

	// Connection manager drives every state transition.
	manager := connection.NewManager(cfg.ManagerConfig(), dispatcher, clock, logger)

	cancelStatus := manager.OnStatusChange(func(s model.ConnectionState) {
		logger.Info("channel state", "state", s.String())
	})
	defer cancelStatus()

	cancelFallback := manager.OnFallback(func() {
		fmt.Println(">>> live channel unavailable, job updates delivered by polling")
	})
	defer cancelFallback()

	// Cache synchronizer; the invalidator just logs the refetches a real
	// dashboard cache would perform.
	synchronizer := cache.NewSynchronizer(cfg.CacheSyncConfig(), cache.InvalidatorFunc(func(keyPrefix string) {
		logger.Info("cache refetch", "key_prefix", keyPrefix)
	}), clock, logger)
	defer synchronizer.Close()

	dataSub := dispatcher.On(event.KindDataUpdated, "", synchronizer.HandleEvent)
	defer dataSub.Cancel()

	// REST status client backs the polling fallback.
	statusClient := status.NewClient(cfg.Server.RestURL, cfg.Server.AuthToken,
		status.WithLogger(logger),
		status.WithTimeout(cfg.Server.Timeout),
	)

	tracker := job.NewTracker(cfg.JobConfig(), manager, dispatcher, statusClient, synchronizer, clock, logger)
	defer tracker.Close()

	cancelWatch := tracker.Watch(printSnapshot)
	defer cancelWatch()

	if err := manager.Connect(ctx); err != nil {
		// Retries continue in the background; degraded mode still tracks.
		logger.Warn("initial connection attempt failed", "error", err)
	}
	defer manager.Disconnect()

	if *jobID != "" {
		tracker.Track(*jobID)
	}

	<-ctx.Done()
	logger.Info("shutting down")
}

// printSnapshot renders one tracker update as a console line.
func printSnapshot(s model.JobSnapshot) {
	switch s.Status {
	case model.JobIdle:
		return
	case model.JobError:
		fmt.Printf("[%s] FAILED: %s\n", s.JobID, s.Err)
	case model.JobCompleted:
		fmt.Printf("[%s] done (100%%)\n", s.JobID)
	default:
		eta := ""
		if s.EstimatedSecondsRemaining != nil {
			eta = fmt.Sprintf(" ~%ds left", *s.EstimatedSecondsRemaining)
		}
		fmt.Printf("[%s] %3d%% %s%s\n", s.JobID, s.Progress, s.CurrentActivity, eta)
	}
}

// buildLogger constructs the slog logger described by the log section.
func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
