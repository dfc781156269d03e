// Package health runs the periodic checks that report on the game server:
// the status heartbeat, tick load and the disk under the player database.
package health

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/engine"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/util"
)

// ConnectionCounter reports open client sockets.
type ConnectionCounter interface {
	Count() int
	Pending() int
}

// Manager runs periodic health checks.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus
	engine   *engine.Engine
	conns    ConnectionCounter
	started  time.Time
}

// NewManager creates a new health check manager. conns may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus, eng *engine.Engine, conns ConnectionCounter) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		engine:   eng,
		conns:    conns,
		started:  time.Now(),
	}
}

// Start launches the checks and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	timers := m.cfg.GetApplicationData().Timers

	checks := []struct {
		name     string
		interval int
		fn       func(context.Context)
	}{
		{"heartbeat", timers.HeartbeatInterval, m.heartbeat},
		{"tick_health", timers.TickReportInterval, m.checkTickHealth},
		{"disk_utilization", timers.DiskCheckInterval, m.checkDiskUtilization},
	}

	started := 0
	for _, check := range checks {
		if check.interval <= 0 {
			continue
		}
		started++

		go func() {
			ticker := time.NewTicker(time.Duration(check.interval) * time.Second)
			defer ticker.Stop()

			log.Debug().Str("check", check.name).Msg("running initial health check")
			check.fn(ctx)

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

// heartbeat publishes the server status on the MQTT status topic.
func (m *Manager) heartbeat(ctx context.Context) {
	if m.eventBus == nil {
		return
	}
	m.eventBus.Emit(ctx, events.Event{
		Type:    events.EventNotifyMQTT,
		Source:  "heartbeat",
		Payload: m.heartbeatPayload(),
	})
}

func (m *Manager) heartbeatPayload() events.NotifyPayload {
	stats := m.engine.Monitor().Stats()
	players := m.engine.PlayerCount()

	fields := map[string]interface{}{
		"type":           "heartbeat",
		"players":        players,
		"tick":           m.engine.Tick(),
		"load_percent":   stats.LoadPercent,
		"avg_tick_ms":    stats.AvgElapsed.Milliseconds(),
		"overloads_hour": stats.OverloadsThisHour,
		"uptime_sec":     int64(time.Since(m.started).Seconds()),
	}
	if m.conns != nil {
		fields["connections"] = m.conns.Count()
		fields["handshaking"] = m.conns.Pending()
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		fields["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		fields["memory_used_percent"] = mem.UsedPercent
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		fields["rss_mb"] = proc.RSSMB
		fields["goroutines"] = proc.Goroutines
	}

	return events.NotifyPayload{
		Title:   "heartbeat",
		Message: fmt.Sprintf("%d players online", players),
		Level:   "info",
		Fields:  fields,
	}
}

// checkTickHealth logs cycle timings and warns when the tick runs close to
// its budget.
func (m *Manager) checkTickHealth(ctx context.Context) {
	stats := m.engine.Monitor().Stats()

	event := log.Info()
	if stats.Rate > 0 && stats.AvgElapsed > stats.Rate*8/10 {
		event = log.Warn()
	}
	event.
		Uint64("tick", stats.Tick).
		Int("players", stats.Players).
		Dur("avg", stats.AvgElapsed).
		Dur("max", stats.MaxElapsed).
		Int("overloads_hour", stats.OverloadsThisHour).
		Msg("tick report")
}

// checkDiskUtilization alerts when the volume holding the database fills up.
func (m *Manager) checkDiskUtilization(ctx context.Context) {
	path := filepath.Dir(m.cfg.GetApplicationData().Storage.Path)

	usage, err := util.GetDiskUsage(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("disk utilization check failed")
		return
	}

	log.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_mb", usage.Free).
		Msg("disk utilization")

	level := diskAlertLevel(usage.UsedPercent)
	if level == "" {
		return
	}

	message := fmt.Sprintf("Disk usage at %.1f%% (%d MB free of %d MB)",
		usage.UsedPercent, usage.Free, usage.Total)
	log.Warn().Str("level", level).Msg(message)

	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.Event{
			Type:   events.EventNotifyMQTT,
			Source: "health_check",
			Payload: events.NotifyPayload{
				Title:   "Disk Space Alert",
				Message: message,
				Level:   level,
			},
		})
	}
}

// diskAlertLevel maps usage to an alert level, empty below 90%.
func diskAlertLevel(usedPercent float64) string {
	switch {
	case usedPercent >= 98:
		return "error"
	case usedPercent >= 90:
		return "warning"
	}
	return ""
}
