package api

import (
	"context"
	"log/slog"
	"time"

	"nudge/internal/logging"
	"nudge/internal/registry"
)

// SnapshotStore persists health snapshots. *registry.Store satisfies it.
type SnapshotStore interface {
	RecordSnapshot(ctx context.Context, snap registry.Snapshot) error
}

// Monitor periodically records a health snapshot so the history endpoint has
// data spanning restarts.
type Monitor struct {
	store    SnapshotStore
	presence PresenceView
	started  time.Time
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor builds a snapshot recorder. Intervals below one second are
// clamped to one second.
func NewMonitor(store SnapshotStore, presence PresenceView, started time.Time, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval < time.Second {
		interval = time.Second
	}
	return &Monitor{
		store:    store,
		presence: presence,
		started:  started,
		interval: interval,
		logger:   logging.NewComponentLogger(logger, "monitor"),
	}
}

// Run records snapshots until ctx is cancelled. The first snapshot is taken
// immediately so a short-lived process still leaves a trace.
func (m *Monitor) Run(ctx context.Context) {
	m.record(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.record(ctx)
		}
	}
}

func (m *Monitor) record(ctx context.Context) {
	snap := registry.Snapshot{
		BrokerConnected: m.presence.IsConnected(),
		OnlineDevices:   m.presence.OnlineCount(),
		UptimeSeconds:   int64(time.Since(m.started).Seconds()),
		CheckedAt:       time.Now().UTC(),
	}
	if err := m.store.RecordSnapshot(ctx, snap); err != nil {
		m.logger.Error("snapshot record failed", logging.Error(err))
	}
}
