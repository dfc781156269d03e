package session

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-project/ember/internal/login"
	"github.com/ember-project/ember/internal/protocol"
)

type zeroKeystream struct{}

func (zeroKeystream) Next() uint32 { return 0 }

type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	writeErr error
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:43594" }

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	creds := &login.Credentials{Username: "tester"}
	return newSession(1, tr, creds, nil, zeroKeystream{}, zeroKeystream{}), tr
}

func TestFeedQueuesPacketsInOrder(t *testing.T) {
	s, _ := newTestSession(t)

	// button 185 (2 bytes), chat 4 (var byte), button again split over reads
	n, err := s.Feed([]byte{185, 0, 1, 4, 3, 'a', 'b'})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Feed([]byte{'c', 185})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Feed([]byte{0, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pkts := s.Drain()
	require.Len(t, pkts, 3)
	assert.Equal(t, protocol.InButton, pkts[0].Opcode)
	assert.Equal(t, protocol.InChat, pkts[1].Opcode)
	assert.Equal(t, []byte("abc"), pkts[1].Payload)
	assert.Equal(t, []byte{0, 2}, pkts[2].Payload)
	assert.Empty(t, s.Drain())
}

func TestFeedTouchesIdleTimer(t *testing.T) {
	s, _ := newTestSession(t)
	s.lastActivity.Store(time.Now().Add(-time.Minute).UnixNano())
	assert.Greater(t, s.IdleFor(time.Now()), 50*time.Second)

	_, err := s.Feed([]byte{185})
	require.NoError(t, err)
	assert.Greater(t, s.IdleFor(time.Now()), 50*time.Second, "a partial frame is not activity")

	_, err = s.Feed([]byte{0, 0})
	require.NoError(t, err)
	assert.Less(t, s.IdleFor(time.Now()), time.Second)
}

func TestCloseDiscardsQueueAndPartialFrame(t *testing.T) {
	s, tr := newTestSession(t)
	_, err := s.Feed([]byte{185, 0, 1, 185, 0})
	require.NoError(t, err)
	require.Equal(t, 1, s.Queued())

	s.Close("test")
	assert.True(t, s.Closed())
	assert.True(t, tr.isClosed())
	assert.Equal(t, "test", s.CloseReason())
	assert.Zero(t, s.Queued())
	assert.True(t, s.frame.Idle())

	_, err = s.Feed([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, s.Drain())

	// Second close is a no-op.
	s.Close("again")
	assert.Equal(t, "test", s.CloseReason())
}

func TestSendDropsFailedBuffer(t *testing.T) {
	s, tr := newTestSession(t)

	bad := protocol.NewOutBuffer(1)
	bad.PutShort(1)
	assert.ErrorIs(t, s.Send(bad), protocol.ErrBufferOverflow)

	good := protocol.NewOutBuffer(3)
	good.PutHeader(s.OutCipher(), protocol.OutLogout)
	require.NoError(t, s.Send(good))
	s.SendRaw([]byte{2, 0, 0})

	require.NoError(t, s.Flush())
	require.Len(t, tr.writes, 1)
	assert.Equal(t, []byte{protocol.OutLogout, 2, 0, 0}, tr.writes[0])

	// Nothing pending means nothing written.
	require.NoError(t, s.Flush())
	assert.Len(t, tr.writes, 1)
}

func TestFlushFailureClosesSession(t *testing.T) {
	s, tr := newTestSession(t)
	tr.writeErr = errors.New("broken pipe")

	s.SendRaw([]byte{1})
	assert.Error(t, s.Flush())
	assert.True(t, s.Closed())
}

func TestReject(t *testing.T) {
	s, tr := newTestSession(t)
	s.Reject(5)
	assert.True(t, s.Closed())
	require.Len(t, tr.writes, 1)
	assert.Equal(t, []byte{5}, tr.writes[0])
}

func TestUnknownStreak(t *testing.T) {
	s, _ := newTestSession(t)
	assert.Equal(t, 1, s.NoteUnknown())
	assert.Equal(t, 2, s.NoteUnknown())
	s.NoteKnown()
	assert.Equal(t, 1, s.NoteUnknown())
}

// Packets from each producer must come out in the order that producer
// pushed them, whatever the interleaving with other producers and the
// consumer.
func TestQueueOrderingUnderConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 500

	q := NewQueue()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(p)))
			for i := 0; i < perProducer; i++ {
				q.Push(&protocol.Packet{Opcode: p, Length: i})
				if rng.Intn(10) == 0 {
					time.Sleep(time.Duration(rng.Intn(50)) * time.Microsecond)
				}
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	next := make([]int, producers)
	total := 0
	check := func(pkts []*protocol.Packet) {
		for _, pkt := range pkts {
			require.Equal(t, next[pkt.Opcode], pkt.Length, "producer %d out of order", pkt.Opcode)
			next[pkt.Opcode]++
			total++
		}
	}

	for {
		select {
		case <-done:
			check(q.Drain())
			assert.Equal(t, producers*perProducer, total)
			return
		default:
			check(q.Drain())
		}
	}
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := NewQueue()
	assert.True(t, q.Push(&protocol.Packet{}))
	q.Close()
	assert.False(t, q.Push(&protocol.Packet{}))
	assert.Zero(t, q.Len())
	assert.Nil(t, q.Drain())
}
