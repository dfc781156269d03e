// Package scheduler runs the periodic background tasks of the game server:
// player autosave and the handshake timeout sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/events"
)

// Saver persists every online player.
type Saver interface {
	SaveAll(ctx context.Context, reason string) (saved, failed int, err error)
}

// HandshakeSweeper closes sockets stuck in the login handshake.
type HandshakeSweeper interface {
	SweepHandshakes() int
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	saver    Saver
	sweeper  HandshakeSweeper
}

// NewScheduler creates a new task scheduler. sweeper may be nil.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, saver Saver, sweeper HandshakeSweeper) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		saver:    saver,
		sweeper:  sweeper,
	}
}

// Start runs every scheduled task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")
	timers := s.cfg.GetApplicationData().Timers

	if timers.AutosaveInterval > 0 {
		go s.runLoop(ctx, "autosave", config.Seconds(timers.AutosaveInterval), s.autosave)
	}
	if s.sweeper != nil && timers.HandshakeSweepInterval > 0 {
		go s.runLoop(ctx, "handshake_sweep", config.Seconds(timers.HandshakeSweepInterval), s.sweepHandshakes)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	log.Debug().Str("task", name).Dur("interval", interval).Msg("task scheduled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// autosave writes every online player. A save that outlives the interval
// is abandoned on the next tick of the clock.
func (s *Scheduler) autosave(ctx context.Context) {
	interval := config.Seconds(s.cfg.GetApplicationData().Timers.AutosaveInterval)
	saveCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	saved, failed, err := s.saver.SaveAll(saveCtx, "autosave")
	if err != nil {
		log.Error().Err(err).Int("saved", saved).Int("failed", failed).Msg("autosave failed")
		return
	}
	log.Debug().Int("saved", saved).Msg("autosave completed")
}

func (s *Scheduler) sweepHandshakes(context.Context) {
	if n := s.sweeper.SweepHandshakes(); n > 0 {
		log.Info().Int("closed", n).Msg("closed stalled handshakes")
	}
}
