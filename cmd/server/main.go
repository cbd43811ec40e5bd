// seenslide daemon - captures the screen, drops repeated slides and serves session control
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/phaysaal/seenslide-desktop/internal/capture"
	"github.com/phaysaal/seenslide-desktop/internal/config"
	"github.com/phaysaal/seenslide-desktop/internal/diagnostics"
	"github.com/phaysaal/seenslide-desktop/internal/events"
	"github.com/phaysaal/seenslide-desktop/internal/logging"
	"github.com/phaysaal/seenslide-desktop/internal/orchestrator"
	"github.com/phaysaal/seenslide-desktop/internal/server"
	"github.com/phaysaal/seenslide-desktop/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)
	defer func() { _ = logCloser.Close() }()

	strategy, err := cfg.DedupConfig()
	if err != nil {
		slog.Error("invalid strategy", "error", err)
		os.Exit(1)
	}

	source, err := newSource(cfg)
	if err != nil {
		slog.Error("failed to open capture source", "error", err)
		os.Exit(1)
	}

	bus := events.NewBus(events.DefaultBuffer)
	defer func() { _ = bus.Close() }()

	sinks := []diagnostics.Sink{diagnostics.NewLogSink(logger), diagnostics.NewBusSink(bus)}
	var disk *diagnostics.DiskSink
	if cfg.DiagnosticsDir != "" {
		disk, err = diagnostics.NewDiskSink(cfg.DiagnosticsDir, diagnostics.DefaultDiskOptions())
		if err != nil {
			slog.Error("failed to open diagnostics dir", "dir", cfg.DiagnosticsDir, "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, disk)
	}
	dispatcher := diagnostics.NewDispatcher(diagnostics.Multi(sinks...), diagnostics.DispatcherOptions{})

	mgr := orchestrator.New(source, dispatcher, orchestrator.Options{
		CaptureRate: cfg.CaptureRate,
		Strategy:    strategy,
		RecentSize:  cfg.RecentSize,
	})
	srv := server.New(mgr, bus, dispatcher)

	grpcServer, health := server.NewGRPC()
	mgr.OnStateChange(server.HealthReporter(health))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("seenslide server starting", "http", cfg.HTTPAddr, "grpc", cfg.GRPCAddr, "strategy", strategy.Name())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			slog.Error("failed to listen for grpc", "addr", cfg.GRPCAddr, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				slog.Error("grpc server error", "error", err)
			}
		}()
	}

	if cfg.AutoStart {
		if _, err := mgr.StartSession(context.Background(), orchestrator.StartRequest{}); err != nil {
			slog.Error("auto start failed", "error", err)
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	grpcServer.GracefulStop()

	if snap, active := mgr.Snapshot(); active {
		logFinal(snap)
	}
	mgr.Stop()
	dispatcher.Stop()
	if disk != nil {
		if err := disk.Close(); err != nil {
			slog.Error("diagnostics close error", "error", err)
		}
	}
	slog.Info("shutdown complete", "diagnostics", dispatcher.Stats())
}

// newSource replays a directory when replay_dir is set, otherwise captures the screen.
func newSource(cfg *config.Config) (capture.Source, error) {
	if cfg.ReplayDir != "" {
		return capture.NewReplay(cfg.ReplayDir, cfg.MonitorID)
	}
	return capture.New(cfg.MonitorID)
}

func logFinal(snap session.Snapshot) {
	slog.Info("final session statistics",
		"session_id", snap.SessionID,
		"unique", snap.UniqueCount,
		"duplicate", snap.DuplicateCount,
		"rejection_rate", snap.RejectionRate,
	)
}
