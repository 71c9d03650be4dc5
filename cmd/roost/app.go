package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/cache"
	"github.com/roost-app/roost/internal/config"
	"github.com/roost-app/roost/internal/decode"
	"github.com/roost-app/roost/internal/remote"
	"github.com/roost-app/roost/internal/store"
	roostsync "github.com/roost-app/roost/internal/sync"
)

// openStore opens the configured store, creating the data directory first.
func openStore(ctx context.Context, c *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store.ConfigureRuntime(c.Store.MemoryLimitMB)
	return store.OpenContext(ctx, c.StorePath(),
		store.WithLogger(logger),
		store.WithDriver(c.Store.Driver),
		store.WithBusyRetry(c.Store.BusyRetries, c.Store.BusyDelay),
	)
}

// newCache builds the response cache. A swap folder that cannot be prepared
// only disables overflow.
func newCache(c *config.Config) *cache.Cache {
	rc := cache.New(cache.Config{
		Capacity: int64(c.Cache.CapacityMB) << 20,
		SwapDir:  c.SwapDir(),
		Logger:   logger,
	})
	if err := rc.InitializeSwapFolder(); err != nil {
		logger.Warn("disk overflow disabled", zap.String("dir", c.SwapDir()), zap.Error(err))
	}
	return rc
}

// newRemote returns the replay client when replay (or remote.replay) names a
// recording, the HTTP client otherwise.
func newRemote(c *config.Config, replay string) (roostsync.RemoteClient, error) {
	if replay == "" {
		replay = c.Remote.Replay
	}
	if replay != "" {
		logger.Info("serving responses from recording", zap.String("file", replay))
		return remote.LoadReplay(replay)
	}
	if err := c.ValidateRemote(); err != nil {
		return nil, err
	}
	return remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:  c.Remote.BaseURL,
		Token:    c.Remote.Token,
		Timeout:  c.Remote.Timeout,
		PageSize: c.Remote.PageSize,
		Retries:  c.Remote.Retries,
		Logger:   logger,
	})
}

func newOrchestrator(c *config.Config, st *store.Store, rc roostsync.RemoteClient, respCache *cache.Cache) *roostsync.Orchestrator {
	return roostsync.New(st, rc, decode.New(logger),
		roostsync.WithCache(respCache),
		roostsync.WithLogger(logger),
		roostsync.WithUserTimelineTTL(c.Cache.UserTimelineTTL),
	)
}

// lastRemoteError returns the HTTP client's last failure, if rc is one.
func lastRemoteError(rc roostsync.RemoteClient) string {
	if hc, ok := rc.(*remote.HTTPClient); ok {
		return hc.LastError()
	}
	return ""
}
