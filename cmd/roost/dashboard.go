package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/cache"
	"github.com/roost-app/roost/internal/daemon"
	"github.com/roost-app/roost/internal/dashboard"
	"github.com/roost-app/roost/internal/store"
)

// startDashboard starts the WebSocket server and installs its handler as the
// daemon's publisher. The returned function stops the server.
func startDashboard(port int, st *store.Store, respCache *cache.Cache, dcfg *daemon.Config) (func(), error) {
	server := dashboard.NewServer(&dashboard.Config{
		Port:   port,
		Logger: logger,
	})
	dcfg.Publisher = dashboard.NewHandler(server, st, respCache, logger)

	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dashboard: %w", err)
	}
	logger.Info("dashboard started",
		zap.String("websocket", fmt.Sprintf("ws://%s/ws", server.GetAddr())),
		zap.String("health", fmt.Sprintf("http://%s/health", server.GetAddr())))

	return func() {
		if err := server.Stop(); err != nil {
			logger.Warn("dashboard shutdown failed", zap.Error(err))
		}
	}, nil
}
