// Package health runs the periodic lobby checks: the status heartbeat and
// host resource monitoring.
package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/multisnake-project/multisnake/internal/config"
	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/lobby"
	"github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/util"
)

// memoryWarnPercent is the host memory usage that triggers a warning.
const memoryWarnPercent = 90

// Manager runs periodic checks against the lobby and the host.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	reactor  *network.Reactor
	lobby    *lobby.Lobby

	resources func() util.ResourceUsage
}

// NewManager creates a new health check manager.
func NewManager(cfg *config.Config, eventBus *events.EventBus, reactor *network.Reactor, lb *lobby.Lobby) *Manager {
	return &Manager{
		cfg:       cfg,
		eventBus:  eventBus,
		reactor:   reactor,
		lobby:     lb,
		resources: util.GetResourceUsage,
	}
}

// Start launches every check and blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.GetApplicationData().Timers.HeartbeatInterval

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"heartbeat", interval, m.heartbeat},
		{"resource_usage", interval, m.checkResources},
	}

	started := 0
	for _, check := range checks {
		check := check // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					check.fn(ctx)
				}
			}
		}()
	}

	log.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	log.Info().Msg("health check manager stopped")
}

// Snapshot reads the lobby summary on the reactor goroutine.
func (m *Manager) Snapshot(ctx context.Context) (events.LobbyStatusPayload, error) {
	var p events.LobbyStatusPayload
	err := m.reactor.Do(ctx, func() {
		s := m.lobby.Status()
		p = events.LobbyStatusPayload{
			Running:     s.Running,
			Connections: m.reactor.Connections().Count(),
			Players:     s.Players,
			Ready:       s.Ready,
			CanStart:    s.CanStart,
		}
	})
	return p, err
}

// heartbeat emits the lobby status on the bus.
func (m *Manager) heartbeat(ctx context.Context) {
	status, err := m.Snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat skipped, lobby unavailable")
		return
	}

	log.Debug().
		Bool("running", status.Running).
		Int("players", status.Players).
		Int("ready", status.Ready).
		Int("connections", status.Connections).
		Msg("heartbeat")

	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventLobbyStatus,
		Source:  "heartbeat",
		Payload: status,
	})
}

// checkResources logs host and process usage and warns on memory pressure.
func (m *Manager) checkResources(ctx context.Context) {
	usage := m.resources()

	log.Debug().
		Float64("cpu_percent", usage.HostCPUPercent).
		Float64("memory_percent", usage.HostMemoryPercent).
		Uint64("rss_mb", usage.ProcessRSSMB).
		Int("goroutines", usage.Goroutines).
		Msg("resource usage")

	if usage.HostMemoryPercent >= memoryWarnPercent {
		log.Warn().Float64("memory_percent", usage.HostMemoryPercent).Msg("host memory usage is high")
	}
}
