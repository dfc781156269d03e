package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/isaac"
	"github.com/ember-project/ember/internal/login"
	"github.com/ember-project/ember/internal/protocol"
	"github.com/ember-project/ember/internal/session"
	"github.com/ember-project/ember/internal/world"
)

type fakeTransport struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.data = append(f.data, data...)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "10.0.0.1:40000" }

func (f *fakeTransport) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...)
}

type fakeStore struct {
	mu    sync.Mutex
	saved []*db.Details
	fail  bool
}

func (s *fakeStore) Save(d *db.Details) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.saved = append(s.saved, d)
	return nil
}

func (s *fakeStore) SaveAll(all []*db.Details) (int, error) {
	n := 0
	var first error
	for _, d := range all {
		if err := s.Save(d); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		n++
	}
	return n, first
}

func (s *fakeStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.saved {
		out = append(out, d.Username)
	}
	return out
}

// client is the far end of one session.
type client struct {
	sess *session.Session
	tr   *fakeTransport
	out  *isaac.Cipher // encodes what the client sends
}

var ids atomic.Uint64

func connect(t *testing.T, name string) *client {
	t.Helper()
	seed := [4]uint32{9, 8, 7, 6}
	creds := &login.Credentials{
		Username:     name,
		InboundSeed:  seed,
		OutboundSeed: isaac.OutboundSeed(seed),
	}
	tr := &fakeTransport{}
	return &client{
		sess: session.New(ids.Add(1), tr, creds, nil),
		tr:   tr,
		out:  isaac.New(seed[:]),
	}
}

func (c *client) send(t *testing.T, opcode int, payload ...byte) {
	t.Helper()
	frame := append([]byte{byte(uint32(opcode) + c.out.Next())}, payload...)
	_, err := c.sess.Feed(frame)
	require.NoError(t, err)
}

func testConfig() Config {
	return Config{
		CycleRate:         10 * time.Millisecond,
		IdleTimeout:       time.Minute,
		MaxUnknownOpcodes: 3,
		AlreadyOnlineCode: 5,
		WorldFullCode:     7,
	}
}

func newTestEngine(maxPlayers int) (*Engine, *fakeStore) {
	store := &fakeStore{}
	w := world.New(world.Config{WorldID: 1, MaxPlayers: maxPlayers, WelcomeMessage: "Hi."})
	return New(testConfig(), w, store, nil), store
}

func TestAdmitSendsLoginResponseFirst(t *testing.T) {
	e, _ := newTestEngine(10)
	c := connect(t, "alice")
	details := db.NewDetails("alice")
	details.Rights = 1

	e.Admit(c.sess, details, false)
	assert.Equal(t, 0, e.PlayerCount())
	e.cycle(time.Now())

	assert.Equal(t, 1, e.PlayerCount())
	out := c.tr.written()
	require.Greater(t, len(out), 3)
	assert.Equal(t, []byte{2, 1, 0}, out[:3])
	assert.False(t, c.sess.Closed())
}

func TestAdmitRejections(t *testing.T) {
	e, _ := newTestEngine(1)
	first := connect(t, "alice")
	dup := connect(t, "Alice")
	full := connect(t, "bob")

	e.Admit(first.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())
	e.Admit(dup.sess, db.NewDetails("alice"), false)
	e.Admit(full.sess, db.NewDetails("bob"), false)
	e.cycle(time.Now())

	assert.Equal(t, []byte{5}, dup.tr.written())
	assert.True(t, dup.sess.Closed())
	assert.Equal(t, []byte{7}, full.tr.written())
	assert.True(t, full.sess.Closed())
	assert.Equal(t, 1, e.PlayerCount())
}

func TestAdmitSkipsClosedSessions(t *testing.T) {
	e, _ := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	c.sess.Close("socket closed")

	e.cycle(time.Now())
	assert.Equal(t, 0, e.PlayerCount())
}

func TestLogoutButtonClosesAfterFlush(t *testing.T) {
	e, store := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())
	before := len(c.tr.written())

	c.send(t, protocol.InButton, byte(world.ButtonLogout>>8), byte(world.ButtonLogout&0xff))
	e.cycle(time.Now())
	e.saves.Wait()

	assert.Greater(t, len(c.tr.written()), before, "logout packet was flushed")
	assert.True(t, c.sess.Closed())
	assert.Equal(t, "logout", c.sess.CloseReason())
	assert.Equal(t, 0, e.PlayerCount())
	assert.Equal(t, []string{"alice"}, store.names())
}

func TestUnknownOpcodeFloodDisconnects(t *testing.T) {
	e, _ := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())

	// A known opcode in between resets the streak.
	c.send(t, 17, 0, 0)
	c.send(t, 17, 0, 0)
	c.send(t, 0)
	c.send(t, 17, 0, 0)
	c.send(t, 17, 0, 0)
	e.cycle(time.Now())
	assert.False(t, c.sess.Closed())

	c.send(t, 17, 0, 0)
	e.cycle(time.Now())
	assert.True(t, c.sess.Closed())
	assert.Equal(t, "unknown_opcodes", c.sess.CloseReason())
}

func TestIdlePlayersAreDropped(t *testing.T) {
	e, store := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())

	e.cycle(time.Now().Add(30 * time.Second))
	assert.False(t, c.sess.Closed())

	e.cycle(time.Now().Add(2 * time.Minute))
	e.saves.Wait()
	assert.True(t, c.sess.Closed())
	assert.Equal(t, "idle_timeout", c.sess.CloseReason())
	assert.Equal(t, []string{"alice"}, store.names())
}

func TestClosedSocketIsRemoved(t *testing.T) {
	e, _ := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())

	c.sess.Close("read failed")
	e.cycle(time.Now())
	assert.Equal(t, 0, e.PlayerCount())
}

func TestPacketsAreHandledInOrder(t *testing.T) {
	e, _ := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())

	// Run on, then run off: the last one wins.
	c.send(t, protocol.InButton, 0, 153)
	c.send(t, protocol.InButton, 0, 152)
	e.cycle(time.Now())

	var run bool
	e.Submit(func(w *world.World) {
		run = w.FindPlayer("alice").Details().Settings.Run
	})
	e.cycle(time.Now())
	assert.False(t, run)
}

func TestTaskPanicIsRecovered(t *testing.T) {
	e, _ := newTestEngine(10)
	ran := false
	e.Submit(func(*world.World) { panic("boom") })
	e.Submit(func(*world.World) { ran = true })

	assert.NotPanics(t, func() { e.cycle(time.Now()) })
	assert.True(t, ran)
}

func TestCancelledRequestIsSkipped(t *testing.T) {
	e, _ := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())
	require.Equal(t, 1, e.PlayerCount())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	found, err := e.Kick(ctx, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, found)

	ran := false
	err = e.Do(ctx, func(*world.World) { ran = true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned requests reach the tick goroutine only now.
	e.cycle(time.Now())
	assert.False(t, ran)
	assert.Equal(t, 1, e.PlayerCount())
	assert.False(t, c.sess.Closed())
}

func TestRunServesRequestsAndShutsDown(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	var logouts atomic.Int32
	bus.Subscribe(events.EventPlayerLogout, "test", func(_ context.Context, ev events.Event) error {
		logouts.Add(1)
		return nil
	})

	store := &fakeStore{}
	w := world.New(world.Config{WorldID: 1, MaxPlayers: 10})
	e := New(testConfig(), w, store, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	alice := connect(t, "alice")
	bob := connect(t, "bob")
	e.Admit(alice.sess, db.NewDetails("alice"), false)
	e.Admit(bob.sess, db.NewDetails("bob"), true)

	require.Eventually(t, func() bool { return e.PlayerCount() == 2 }, time.Second, 5*time.Millisecond)

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()

	infos, err := e.Players(reqCtx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "Alice", infos[0].Name)
	assert.Equal(t, 1, infos[0].Index)

	n, err := e.Broadcast(reqCtx, "Restarting.")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	saved, failed, err := e.SaveAll(reqCtx, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, saved)
	assert.Equal(t, 0, failed)

	found, err := e.Kick(reqCtx, "bob")
	require.NoError(t, err)
	assert.True(t, found)
	require.Eventually(t, bob.sess.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, "kicked", bob.sess.CloseReason())

	found, err = e.Kick(reqCtx, "carol")
	require.NoError(t, err)
	assert.False(t, found)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, alice.sess.Closed())
	assert.Equal(t, "shutdown", alice.sess.CloseReason())
	assert.Equal(t, 0, e.PlayerCount())

	_, err = e.Players(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)

	bus.Wait()
	assert.Equal(t, int32(2), logouts.Load())
	// Two from SaveAll, one on kick and one on shutdown.
	assert.Len(t, store.names(), 4)
}

func TestSaveAllReportsFailures(t *testing.T) {
	e, store := newTestEngine(10)
	c := connect(t, "alice")
	e.Admit(c.sess, db.NewDetails("alice"), false)
	e.cycle(time.Now())
	store.fail = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	defer cancel()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	saved, failed, err := e.SaveAll(reqCtx, "autosave")
	assert.Error(t, err)
	assert.Equal(t, 0, saved)
	assert.Equal(t, 1, failed)
}

func TestLoadPercent(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    int
	}{
		{600 * time.Millisecond, 100},
		{900 * time.Millisecond, 150},
		{1200 * time.Millisecond, 200},
		{606 * time.Millisecond, 101},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LoadPercent(tt.elapsed, 600*time.Millisecond), "elapsed %s", tt.elapsed)
	}
}
