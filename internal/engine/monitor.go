package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/events"
)

// Overload alert thresholds, in overloaded cycles per hour.
const (
	OverloadWarningThreshold  = 10
	OverloadCriticalThreshold = 50
)

const overloadHistoryLimit = 1000

// TickMonitor aggregates cycle timings and overloads for the admin
// surfaces and raises alerts when the world falls behind.
type TickMonitor struct {
	mu       sync.RWMutex
	eventBus *events.EventBus

	stats   TickStats
	history []OverloadRecord

	warningThreshold  int
	criticalThreshold int
}

// TickStats is a snapshot of cycle timings.
type TickStats struct {
	Tick              uint64        `json:"tick"`
	Rate              time.Duration `json:"rate_ns"`
	LastElapsed       time.Duration `json:"last_elapsed_ns"`
	MaxElapsed        time.Duration `json:"max_elapsed_ns"`
	AvgElapsed        time.Duration `json:"avg_elapsed_ns"`
	LoadPercent       int           `json:"load_percent"`
	TotalOverloads    int           `json:"total_overloads"`
	OverloadsThisHour int           `json:"overloads_this_hour"`
	LastOverload      time.Time     `json:"last_overload,omitempty"`
	Players           int           `json:"players"`
}

// OverloadRecord is one cycle that ran past the cycle rate.
type OverloadRecord struct {
	Timestamp   time.Time     `json:"timestamp"`
	Tick        uint64        `json:"tick"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	LoadPercent int           `json:"load_percent"`
}

// OverloadAlert is raised when overloads pass a threshold.
type OverloadAlert struct {
	Level   string `json:"level"`
	Events  int    `json:"events"`
	Message string `json:"message"`
}

// NewTickMonitor creates a monitor fed by tick overload events.
func NewTickMonitor(eventBus *events.EventBus, rate time.Duration) *TickMonitor {
	tm := &TickMonitor{
		eventBus:          eventBus,
		stats:             TickStats{Rate: rate},
		history:           make([]OverloadRecord, 0, 100),
		warningThreshold:  OverloadWarningThreshold,
		criticalThreshold: OverloadCriticalThreshold,
	}
	if eventBus != nil {
		eventBus.Subscribe(events.EventTickOverload, "tick_monitor", tm.handleOverload)
	}
	return tm
}

// Observe records one finished cycle.
func (tm *TickMonitor) Observe(tick uint64, elapsed time.Duration, players int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	s := &tm.stats
	s.Tick = tick
	s.LastElapsed = elapsed
	s.Players = players
	if elapsed > s.MaxElapsed {
		s.MaxElapsed = elapsed
	}
	// Running mean over every cycle observed.
	if tick > 0 {
		s.AvgElapsed += (elapsed - s.AvgElapsed) / time.Duration(tick)
	}
	if s.Rate > 0 {
		s.LoadPercent = int(elapsed * 100 / s.Rate)
	}
}

func (tm *TickMonitor) handleOverload(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TickOverloadPayload)
	if !ok {
		return nil
	}
	tm.recordOverload(payload, time.Now())
	return nil
}

func (tm *TickMonitor) recordOverload(payload events.TickOverloadPayload, now time.Time) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.history = append(tm.history, OverloadRecord{
		Timestamp:   now,
		Tick:        payload.Tick,
		Elapsed:     payload.Elapsed,
		LoadPercent: payload.LoadPercent,
	})
	if len(tm.history) > overloadHistoryLimit {
		tm.history = tm.history[len(tm.history)-overloadHistoryLimit:]
	}

	tm.stats.TotalOverloads++
	tm.stats.LastOverload = now
	tm.stats.OverloadsThisHour = tm.countSince(now.Add(-time.Hour))
}

func (tm *TickMonitor) countSince(since time.Time) int {
	n := 0
	for _, r := range tm.history {
		if r.Timestamp.After(since) {
			n++
		}
	}
	return n
}

// Stats returns a copy of the current timings.
func (tm *TickMonitor) Stats() TickStats {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.stats
}

// History returns the recorded overloads, oldest first.
func (tm *TickMonitor) History() []OverloadRecord {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return append([]OverloadRecord(nil), tm.history...)
}

// CheckThresholds evaluates the last hour of overloads.
func (tm *TickMonitor) CheckThresholds(now time.Time) *OverloadAlert {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	n := tm.countSince(now.Add(-time.Hour))
	tm.stats.OverloadsThisHour = n
	msg := fmt.Sprintf("%d overloaded cycles in the last hour", n)
	switch {
	case n >= tm.criticalThreshold:
		return &OverloadAlert{Level: "critical", Events: n, Message: msg}
	case n >= tm.warningThreshold:
		return &OverloadAlert{Level: "warning", Events: n, Message: msg}
	}
	return nil
}

// Start runs periodic threshold checks until ctx is done.
func (tm *TickMonitor) Start(ctx context.Context, checkInterval time.Duration) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alert := tm.CheckThresholds(time.Now())
			if alert == nil {
				continue
			}
			log.Warn().
				Str("level", alert.Level).
				Int("events", alert.Events).
				Msg("tick overload alert")

			if alert.Level == "critical" && tm.eventBus != nil {
				tm.eventBus.Emit(ctx, events.Event{
					Type:   events.EventNotifyMQTT,
					Source: "tick_monitor",
					Payload: events.NotifyPayload{
						Title:   "Tick Overload - Critical",
						Message: alert.Message,
						Level:   "error",
					},
				})
			}
		}
	}
}
