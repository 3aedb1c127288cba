//go:build linux
// +build linux

// File: cmd/presence-server/main.go
// Package main
// Presence server: tracks logged-in clients with a ping/pang heartbeat and
// reports disconnected users to an HTTP backend.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/internal/presence"
	"github.com/momentics/hioload-tcp/server"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "server.conf", "path to the JSON config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *debug); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(configPath string, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("invalid configuration", zap.String("path", configPath), zap.Error(err))
		return err
	}

	backend := presence.NotifierConfig{
		IP:         cfg.BackendIP,
		Port:       cfg.BackendPort,
		RequestURL: cfg.BackendURL,
	}
	notifier, err := presence.NewHTTPNotifier(backend, logger.Named("notifier"))
	if err != nil {
		return err
	}
	defer notifier.Close()

	svc := presence.NewService(presence.NewTracker(0), notifier, cfg.HeartbeatInterval, logger.Named("presence"))
	srv := server.New(server.DefaultConfig(),
		server.WithLogger(logger.Named("server")),
		server.WithPort(cfg.Port),
		server.WithDataHandler(svc.HandleData),
		server.WithCloseHandler(svc.HandleClose))

	if err := srv.Initialize(); err != nil {
		logger.Error("failed to start", zap.String("reason", srv.Error()))
		return err
	}
	logger.Info("presence server started",
		zap.Uint16("port", cfg.Port),
		zap.Duration("heartbeat", cfg.HeartbeatInterval),
		zap.String("backend", backend.URL()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := svc.Run(ctx, srv); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("heartbeat stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	if err := srv.Run(); err != nil && !errors.Is(err, api.ErrServerClosed) {
		return err
	}
	logger.Info("presence server stopped")
	return nil
}
