package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-project/ember/internal/events"
)

func TestObserveTracksTimings(t *testing.T) {
	tm := NewTickMonitor(nil, 600*time.Millisecond)

	tm.Observe(1, 100*time.Millisecond, 3)
	tm.Observe(2, 300*time.Millisecond, 4)

	s := tm.Stats()
	assert.Equal(t, uint64(2), s.Tick)
	assert.Equal(t, 300*time.Millisecond, s.LastElapsed)
	assert.Equal(t, 300*time.Millisecond, s.MaxElapsed)
	assert.Equal(t, 200*time.Millisecond, s.AvgElapsed)
	assert.Equal(t, 50, s.LoadPercent)
	assert.Equal(t, 4, s.Players)
}

func TestOverloadThresholds(t *testing.T) {
	tm := NewTickMonitor(nil, 600*time.Millisecond)
	now := time.Now()

	assert.Nil(t, tm.CheckThresholds(now))

	// Old overloads fall out of the hourly window.
	for i := 0; i < OverloadCriticalThreshold; i++ {
		tm.recordOverload(events.TickOverloadPayload{Tick: uint64(i)}, now.Add(-2*time.Hour))
	}
	assert.Nil(t, tm.CheckThresholds(now))

	for i := 0; i < OverloadWarningThreshold; i++ {
		tm.recordOverload(events.TickOverloadPayload{Tick: uint64(i), LoadPercent: 150}, now)
	}
	alert := tm.CheckThresholds(now)
	require.NotNil(t, alert)
	assert.Equal(t, "warning", alert.Level)
	assert.Equal(t, OverloadWarningThreshold, alert.Events)

	for i := 0; i < OverloadCriticalThreshold; i++ {
		tm.recordOverload(events.TickOverloadPayload{Tick: uint64(i)}, now)
	}
	alert = tm.CheckThresholds(now)
	require.NotNil(t, alert)
	assert.Equal(t, "critical", alert.Level)

	s := tm.Stats()
	assert.Equal(t, 2*OverloadCriticalThreshold+OverloadWarningThreshold, s.TotalOverloads)
	assert.Len(t, tm.History(), 2*OverloadCriticalThreshold+OverloadWarningThreshold)
}

func TestMonitorReceivesOverloadEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()
	tm := NewTickMonitor(bus, 600*time.Millisecond)

	e := &Engine{cfg: Config{CycleRate: 600 * time.Millisecond}, eventBus: bus, monitor: tm, logger: zerolog.Nop()}
	e.reportOverload(t.Context(), 7, 900*time.Millisecond, 12)
	bus.Wait()

	history := tm.History()
	require.Len(t, history, 1)
	assert.Equal(t, uint64(7), history[0].Tick)
	assert.Equal(t, 150, history[0].LoadPercent)
}
