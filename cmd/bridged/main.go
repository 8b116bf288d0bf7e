package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebas/callbridge/internal/banner"
	"github.com/sebas/callbridge/internal/bridge/app"
	"github.com/sebas/callbridge/internal/bridge/config"
	"github.com/sebas/callbridge/internal/logger"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger.Init(os.Stdout, cfg.LogLevel)

	daemon, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to create bridge daemon", "error", err)
		os.Exit(1)
	}
	defer daemon.Close()

	banner.Fprint(os.Stdout, "Callbridge Outbound Bridge Daemon", []banner.Line{
		{Label: "Node", Value: cfg.Node},
		{Label: "Bus", Value: orDefault(cfg.BusURL, "in-memory loopback")},
		{Label: "Accounts", Value: orDefault(cfg.RedisAddr, "in-memory")},
		{Label: "Validate emergency CID", Value: onOff(cfg.EnsureValidEmergencyCID)},
		{Label: "Deny unconfigured E911", Value: onOff(cfg.DenyInvalidEmergencyCID)},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("starting bridge daemon", "node", cfg.Node)
	if err := daemon.Run(ctx); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
