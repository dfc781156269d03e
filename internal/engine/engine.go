// Package engine runs the game tick: a single goroutine that admits logins,
// dispatches every queued client packet, advances the world and flushes
// output once per cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/metrics"
	"github.com/ember-project/ember/internal/protocol"
	"github.com/ember-project/ember/internal/session"
	"github.com/ember-project/ember/internal/util"
	"github.com/ember-project/ember/internal/world"
)

var (
	// ErrAlreadyRunning is returned by Run when the loop is already active.
	ErrAlreadyRunning = errors.New("engine: already running")

	// ErrStopped is returned by Do once the loop has exited.
	ErrStopped = errors.New("engine: stopped")
)

// loginSuccess is the status byte of an accepted login.
const loginSuccess = 2

// Config holds the tick settings.
type Config struct {
	CycleRate         time.Duration
	IdleTimeout       time.Duration
	MaxUnknownOpcodes int
	AlreadyOnlineCode byte
	WorldFullCode     byte
}

// PlayerSaver persists player details.
type PlayerSaver interface {
	Save(details *db.Details) error
	SaveAll(all []*db.Details) (int, error)
}

type loginRequest struct {
	sess    *session.Session
	details *db.Details
	isNew   bool
}

// Engine owns the world and runs it on one goroutine.
type Engine struct {
	cfg      Config
	world    *world.World
	store    PlayerSaver
	eventBus *events.EventBus
	monitor  *TickMonitor
	logger   zerolog.Logger

	mu     sync.Mutex
	logins []loginRequest
	tasks  []func(*world.World)

	// kicked holds players removed by an operator. Tick goroutine only.
	kicked map[*world.Player]bool

	tick    atomic.Uint64
	running atomic.Bool
	done    chan struct{}
	saves   sync.WaitGroup
}

// New creates an engine around w. store may be nil, in which case nothing
// is persisted.
func New(cfg Config, w *world.World, store PlayerSaver, eventBus *events.EventBus) *Engine {
	if cfg.CycleRate <= 0 {
		cfg.CycleRate = 600 * time.Millisecond
	}
	return &Engine{
		cfg:      cfg,
		world:    w,
		store:    store,
		eventBus: eventBus,
		monitor:  NewTickMonitor(eventBus, cfg.CycleRate),
		logger:   util.ComponentLogger("engine"),
		kicked:   make(map[*world.Player]bool),
		done:     make(chan struct{}),
	}
}

// World returns the world the engine runs. Only touch it from a task.
func (e *Engine) World() *world.World { return e.world }

// Monitor returns the tick monitor.
func (e *Engine) Monitor() *TickMonitor { return e.monitor }

// Tick returns the number of completed cycles.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// PlayerCount returns the number of registered players.
func (e *Engine) PlayerCount() int { return e.world.Registry().Count() }

// Admit queues a logged in session for registration at the start of the
// next cycle.
func (e *Engine) Admit(sess *session.Session, details *db.Details, isNew bool) {
	e.mu.Lock()
	e.logins = append(e.logins, loginRequest{sess: sess, details: details, isNew: isNew})
	e.mu.Unlock()
}

// Submit queues fn to run on the tick goroutine at the start of the next
// cycle.
func (e *Engine) Submit(fn func(*world.World)) {
	e.mu.Lock()
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()
}

// Do runs fn on the tick goroutine and waits for it to finish. If ctx ends
// before the task is reached, fn is skipped.
func (e *Engine) Do(ctx context.Context, fn func(*world.World)) error {
	_, err := query(ctx, e, func(w *world.World) struct{} {
		fn(w)
		return struct{}{}
	})
	return err
}

// query runs fn on the tick goroutine and hands its result back over a
// channel, so nothing the caller owns is touched after it gives up.
func query[T any](ctx context.Context, e *Engine, fn func(*world.World) T) (T, error) {
	result := make(chan T, 1)
	e.Submit(func(w *world.World) {
		if ctx.Err() != nil {
			return
		}
		result <- fn(w)
	})

	var zero T
	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrStopped
	}
}

// Run ticks until ctx is cancelled, then logs every player out.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	e.logger.Info().Dur("rate", e.cfg.CycleRate).Msg("engine started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			e.logger.Info().Uint64("ticks", e.tick.Load()).Msg("engine stopped")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		e.cycle(start)
		elapsed := time.Since(start)
		tick := e.tick.Add(1)
		players := e.world.Registry().Count()

		metrics.TickDurationSeconds.Observe(elapsed.Seconds())
		metrics.TickLoadPercent.Set(float64(elapsed*100) / float64(e.cfg.CycleRate))
		e.monitor.Observe(tick, elapsed, players)

		next := e.cfg.CycleRate - elapsed
		if next < 0 {
			e.reportOverload(ctx, tick, elapsed, players)
			next = 0
		}
		timer.Reset(next)
	}
}

// LoadPercent converts a cycle duration into the overload percentage:
// 100 plus the overrun in hundredths of the rate.
func LoadPercent(elapsed, rate time.Duration) int {
	if rate < 100 {
		return 100
	}
	overrun := elapsed - rate
	return 100 + int(overrun/(rate/100))
}

func (e *Engine) reportOverload(ctx context.Context, tick uint64, elapsed time.Duration, players int) {
	load := LoadPercent(elapsed, e.cfg.CycleRate)
	metrics.TickOverloadsTotal.Inc()
	e.logger.Warn().
		Uint64("tick", tick).
		Dur("elapsed", elapsed).
		Int("load_percent", load).
		Int("players", players).
		Msg("server can't keep up")

	if e.eventBus != nil {
		e.eventBus.Emit(ctx, events.Event{
			Type:   events.EventTickOverload,
			Source: "engine",
			Payload: events.TickOverloadPayload{
				Tick:        tick,
				Elapsed:     elapsed,
				Rate:        e.cfg.CycleRate,
				LoadPercent: load,
				Players:     players,
			},
		})
	}
}

// cycle runs one tick.
func (e *Engine) cycle(now time.Time) {
	e.runTasks()
	e.admitLogins()

	players := e.world.Players()
	for _, p := range players {
		if p.Session().Closed() {
			e.remove(p, events.CauseSocketClosed)
			continue
		}
		e.dispatch(p)
	}

	for _, p := range e.world.Players() {
		sess := p.Session()
		switch {
		case sess.Closed():
			e.remove(p, events.CauseSocketClosed)
		case e.cfg.IdleTimeout > 0 && sess.IdleFor(now) > e.cfg.IdleTimeout:
			e.remove(p, events.CauseIdleTimeout)
		default:
			e.world.Process(p)
		}
	}

	for _, p := range e.world.Players() {
		if err := p.Session().Flush(); err != nil {
			p.Logger().Debug().Err(err).Msg("flush failed")
			e.remove(p, events.CauseSocketClosed)
			continue
		}
		if p.LogoutRequested() {
			cause := events.CauseLogout
			if e.kicked[p] {
				cause = events.CauseKicked
			}
			e.remove(p, cause)
		}
	}
}

func (e *Engine) runTasks() {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()

	for _, task := range tasks {
		e.runTask(task)
	}
}

func (e *Engine) runTask(task func(*world.World)) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	task(e.world)
}

func (e *Engine) admitLogins() {
	e.mu.Lock()
	logins := e.logins
	e.logins = nil
	e.mu.Unlock()

	for _, req := range logins {
		if req.sess.Closed() {
			continue
		}
		p, err := e.world.Register(req.sess, req.details, req.isNew)
		if err != nil {
			e.rejectLogin(req.sess, err)
			continue
		}

		req.sess.SendRaw([]byte{loginSuccess, byte(req.details.Rights), 0})
		e.world.Enter(p)
		online := e.world.Registry().Count()
		metrics.PlayersOnline.Set(float64(online))
		e.emit(events.EventPlayerLogin, events.PlayerPayload{
			Username: p.Name(),
			Index:    p.Index(),
			Rights:   p.Rights(),
			Remote:   req.sess.RemoteAddr(),
			Online:   online,
			New:      p.IsNew(),
		})
	}
}

func (e *Engine) rejectLogin(sess *session.Session, err error) {
	code := e.cfg.WorldFullCode
	reason := "world_full"
	if errors.Is(err, world.ErrAlreadyOnline) {
		code = e.cfg.AlreadyOnlineCode
		reason = "already_online"
	}
	sess.Logger().Info().Err(err).Msg("login refused")
	metrics.HandshakeRejectsTotal.WithLabelValues(reason).Inc()
	sess.Reject(code)
	e.emit(events.EventHandshakeRejected, events.HandshakeRejectedPayload{
		Remote: sess.RemoteAddr(),
		Reason: reason,
		Code:   int(code),
	})
}

// dispatch handles every packet queued for p, in arrival order.
func (e *Engine) dispatch(p *world.Player) {
	sess := p.Session()
	for _, pkt := range sess.Drain() {
		if sess.Closed() {
			return
		}
		err := e.handle(p, pkt)
		switch {
		case err == nil:
			sess.NoteKnown()
			metrics.PacketsDispatchedTotal.WithLabelValues(metrics.ResultHandled).Inc()
		case errors.Is(err, world.ErrUnhandledOpcode):
			metrics.PacketsDispatchedTotal.WithLabelValues(metrics.ResultUnknown).Inc()
			streak := sess.NoteUnknown()
			p.Logger().Debug().Int("opcode", pkt.Opcode).Int("length", pkt.Length).Msg("unhandled packet")
			if e.cfg.MaxUnknownOpcodes > 0 && streak >= e.cfg.MaxUnknownOpcodes {
				p.Logger().Warn().Int("streak", streak).Msg("too many unknown opcodes, assuming desync")
				e.remove(p, events.CauseUnknownOpcodes)
				return
			}
		default:
			sess.NoteKnown()
			p.Logger().Error().Err(err).Int("opcode", pkt.Opcode).Msg("packet handler failed")
		}
	}
}

// handle runs the packet handler, turning a panic into an error.
func (e *Engine) handle(p *world.Player, pkt *protocol.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PacketsDispatchedTotal.WithLabelValues(metrics.ResultRecovered).Inc()
			err = fmt.Errorf("handler for opcode %d panicked: %v", pkt.Opcode, r)
		}
	}()
	if err := e.world.Dispatch(p, pkt); err != nil {
		if !errors.Is(err, world.ErrUnhandledOpcode) {
			metrics.PacketsDispatchedTotal.WithLabelValues(metrics.ResultError).Inc()
		}
		return err
	}
	return nil
}

// remove takes p out of the world, closes its session and saves it in the
// background.
func (e *Engine) remove(p *world.Player, cause events.DisconnectCause) {
	if e.world.Registry().ByIndex(p.Index()) != p {
		return
	}
	e.world.Remove(p)
	delete(e.kicked, p)
	p.Session().Close(cause.String())

	online := e.world.Registry().Count()
	metrics.PlayersOnline.Set(float64(online))
	metrics.DisconnectsTotal.WithLabelValues(cause.String()).Inc()
	e.emit(events.EventPlayerLogout, events.PlayerPayload{
		Username: p.Name(),
		Index:    p.Index(),
		Rights:   p.Rights(),
		Remote:   p.Session().RemoteAddr(),
		Online:   online,
		Cause:    cause,
	})

	if e.store == nil {
		return
	}
	snapshot := p.Snapshot()
	e.saves.Add(1)
	go func() {
		defer e.saves.Done()
		if err := e.store.Save(snapshot); err != nil {
			e.logger.Error().Err(err).Str("player", snapshot.Username).Msg("failed to save player on logout")
		}
	}()
}

// shutdown logs every player out, flushing the logout packet first, and
// waits for their saves.
func (e *Engine) shutdown() {
	e.runTasks()
	for _, p := range e.world.Players() {
		e.world.Logout(p)
		if err := p.Session().Flush(); err != nil {
			p.Logger().Debug().Err(err).Msg("flush failed during shutdown")
		}
		e.remove(p, events.CauseShutdown)
	}
	e.saves.Wait()
}

// Kick logs the named player out. It reports whether they were online.
func (e *Engine) Kick(ctx context.Context, name string) (bool, error) {
	return query(ctx, e, func(w *world.World) bool {
		p := w.FindPlayer(name)
		if p == nil {
			return false
		}
		e.kicked[p] = true
		w.Logout(p)
		return true
	})
}

// Broadcast sends a chat box line to every player.
func (e *Engine) Broadcast(ctx context.Context, text string) (int, error) {
	return query(ctx, e, func(w *world.World) int {
		return w.Broadcast(text)
	})
}

// Players returns a view of every online player.
func (e *Engine) Players(ctx context.Context) ([]world.PlayerInfo, error) {
	return query(ctx, e, func(w *world.World) []world.PlayerInfo {
		now := time.Now()
		var infos []world.PlayerInfo
		for _, p := range w.Players() {
			infos = append(infos, p.Info(now))
		}
		return infos
	})
}

// SaveAll snapshots every player on the tick goroutine and writes them on
// the caller's. It returns how many were saved and how many failed.
func (e *Engine) SaveAll(ctx context.Context, reason string) (int, int, error) {
	if e.store == nil {
		return 0, 0, nil
	}
	snapshots, err := query(ctx, e, func(w *world.World) []*db.Details {
		var out []*db.Details
		for _, p := range w.Players() {
			out = append(out, p.Snapshot())
		}
		return out
	})
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot players: %w", err)
	}

	saved, err := e.store.SaveAll(snapshots)
	failed := len(snapshots) - saved
	e.logger.Info().Int("saved", saved).Int("failed", failed).Str("reason", reason).Msg("players saved")
	e.emit(events.EventPlayersSaved, events.PlayersSavedPayload{
		Saved:  saved,
		Failed: failed,
		Reason: reason,
	})
	if err != nil {
		return saved, failed, fmt.Errorf("save players: %w", err)
	}
	return saved, failed, nil
}

func (e *Engine) emit(t events.EventType, payload interface{}) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Emit(context.Background(), events.Event{
		Type:    t,
		Source:  "engine",
		Payload: payload,
	})
}
