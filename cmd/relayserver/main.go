// Package main provides the relay server binary: a WebSocket chat relay with
// a fixed set of rooms.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/chat"
	"github.com/cory-johannsen/chatrelay/internal/config"
	"github.com/cory-johannsen/chatrelay/internal/observability"
	"github.com/cory-johannsen/chatrelay/internal/server"
	"github.com/cory-johannsen/chatrelay/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/relay.yaml", "path to configuration file; defaults apply if absent")
	flag.Parse()

	ctx := context.Background()

	cfg := config.Default()
	if _, statErr := os.Stat(*configPath); statErr == nil {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
		cfg = loaded
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	store := chat.NewStore()
	hub := ws.NewHub(logger)
	coord := chat.NewCoordinator(store, hub, cfg.Rooms.Names, logger)
	srv := ws.NewServer(cfg.Server, hub, coord, logger)

	logger.Info("relay server initialized",
		zap.String("addr", cfg.Server.Addr()),
		zap.Strings("rooms", cfg.Rooms.Names),
		zap.Duration("startup", time.Since(start)),
	)

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout+5*time.Second)
	lifecycle.Add("http", srv)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
