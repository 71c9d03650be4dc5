package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/cache"
	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
	roostsync "github.com/roost-app/roost/internal/sync"
)

// SyncCompleteData describes one finished source run.
type SyncCompleteData struct {
	RunID       string        `json:"run_id"`
	Account     string        `json:"account"`
	Source      string        `json:"source"`
	NewStatuses int           `json:"new_statuses"`
	Removed     int           `json:"removed"`
	Failures    int           `json:"failures"`
	Complete    bool          `json:"complete"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// CheckpointClearedData reports a bulk checkpoint reset.
type CheckpointClearedData struct {
	Source  string `json:"source"`
	Cleared int64  `json:"cleared"`
}

// StatsData carries store and cache counters plus run totals.
type StatsData struct {
	Store    store.Counts `json:"store"`
	Cache    *cache.Stats `json:"cache,omitempty"`
	Runs     int          `json:"runs"`
	Failures int          `json:"failures"`
	LastRun  time.Time    `json:"last_run,omitempty"`
}

// CountSource provides store counters. *store.Store implements it.
type CountSource interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// CacheSource provides cache counters. *cache.Cache implements it.
type CacheSource interface {
	Stats() cache.Stats
}

// Handler turns sync events into dashboard messages. It implements the
// daemon's Publisher.
type Handler struct {
	server *Server
	counts CountSource
	cache  CacheSource
	logger *zap.Logger

	mu       sync.Mutex
	runs     int
	failures int
	lastRun  time.Time
}

// NewHandler creates a handler broadcasting on server. counts and cache may
// be nil.
func NewHandler(server *Server, counts CountSource, c CacheSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{server: server, counts: counts, cache: c, logger: logger.Named("dashboard")}
	server.SetWelcome(func() (Message, bool) {
		msg, err := h.statsMessage(context.Background())
		if err != nil {
			h.logger.Warn("failed to build stats", zap.Error(err))
			return Message{}, false
		}
		return msg, true
	})
	return h
}

func newMessage(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}

// PublishReport broadcasts a sync_complete message followed by fresh stats.
func (h *Handler) PublishReport(r roostsync.Report) {
	h.mu.Lock()
	h.runs++
	h.failures += r.Failures
	h.lastRun = r.Started.Add(r.Duration)
	h.mu.Unlock()

	msg, err := newMessage(MessageTypeSyncComplete, SyncCompleteData{
		RunID:       r.RunID,
		Account:     r.Account,
		Source:      r.SourceName,
		NewStatuses: r.NewStatuses,
		Removed:     r.Removed,
		Failures:    r.Failures,
		Complete:    r.Complete,
		Error:       r.Error,
		Duration:    r.Duration,
	})
	if err != nil {
		h.logger.Warn("failed to marshal sync data", zap.Error(err))
		return
	}
	h.server.Broadcast(msg)
	h.broadcastStats()
}

// OnCheckpointCleared broadcasts a checkpoint_cleared message.
func (h *Handler) OnCheckpointCleared(source schema.Source, cleared int64) {
	msg, err := newMessage(MessageTypeCheckpointCleared, CheckpointClearedData{
		Source:  source.String(),
		Cleared: cleared,
	})
	if err != nil {
		h.logger.Warn("failed to marshal checkpoint data", zap.Error(err))
		return
	}
	h.server.Broadcast(msg)
}

// Stats returns the current counters.
func (h *Handler) Stats(ctx context.Context) (StatsData, error) {
	h.mu.Lock()
	data := StatsData{Runs: h.runs, Failures: h.failures, LastRun: h.lastRun}
	h.mu.Unlock()

	if h.counts != nil {
		c, err := h.counts.Counts(ctx)
		if err != nil {
			return data, err
		}
		data.Store = c
	}
	if h.cache != nil {
		cs := h.cache.Stats()
		data.Cache = &cs
	}
	return data, nil
}

func (h *Handler) statsMessage(ctx context.Context) (Message, error) {
	data, err := h.Stats(ctx)
	if err != nil {
		return Message{}, err
	}
	return newMessage(MessageTypeStats, data)
}

func (h *Handler) broadcastStats() {
	msg, err := h.statsMessage(context.Background())
	if err != nil {
		h.logger.Warn("failed to build stats", zap.Error(err))
		return
	}
	h.server.Broadcast(msg)
}
