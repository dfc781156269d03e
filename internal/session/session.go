// Package session holds the per-connection state shared between a client's
// read goroutine and the game tick: the frame decoder position, the packet
// queue, both keystreams and the pending outbound bytes.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ember-project/ember/internal/login"
	"github.com/ember-project/ember/internal/metrics"
	"github.com/ember-project/ember/internal/protocol"
	"github.com/ember-project/ember/internal/util"
)

// ErrClosed is returned for operations on a closed session.
var ErrClosed = errors.New("session: closed")

// Transport is the socket side of a session.
type Transport interface {
	Write(data []byte) error
	Close() error
	RemoteAddr() string
}

// Session is one authenticated client connection.
//
// Feed runs on the connection's read goroutine and owns the inbound
// keystream. Drain, Send and Flush run on the tick goroutine and own the
// outbound keystream. Close may be called from anywhere.
type Session struct {
	id        uint64
	transport Transport
	creds     *login.Credentials
	sizes     *protocol.SizeTable
	logger    zerolog.Logger
	createdAt time.Time

	inCipher  protocol.Keystream
	outCipher protocol.Keystream

	// mu guards the decoder position and the close transition so a closed
	// session never queues another packet.
	mu      sync.Mutex
	frame   protocol.FrameState
	pending []byte
	queue   *Queue
	closed  atomic.Bool
	reason  string

	outMu    sync.Mutex
	outbound [][]byte

	lastActivity  atomic.Int64
	unknownStreak int
}

// New builds a session from a completed handshake.
func New(id uint64, transport Transport, creds *login.Credentials, sizes *protocol.SizeTable) *Session {
	in, out := creds.Ciphers()
	return newSession(id, transport, creds, sizes, in, out)
}

func newSession(id uint64, transport Transport, creds *login.Credentials, sizes *protocol.SizeTable, in, out protocol.Keystream) *Session {
	if sizes == nil {
		sizes = &protocol.ClientPacketSizes
	}
	now := time.Now()
	s := &Session{
		id:        id,
		transport: transport,
		creds:     creds,
		sizes:     sizes,
		createdAt: now,
		inCipher:  in,
		outCipher: out,
		queue:     NewQueue(),
		logger: util.ComponentLogger("session").With().
			Uint64("session", id).
			Str("player", creds.Username).
			Str("remote", transport.RemoteAddr()).
			Logger(),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ID returns the connection id.
func (s *Session) ID() uint64 { return s.id }

// Credentials returns what the client logged in with.
func (s *Session) Credentials() *login.Credentials { return s.creds }

// Username returns the login name.
func (s *Session) Username() string { return s.creds.Username }

// RemoteAddr returns the client address.
func (s *Session) RemoteAddr() string { return s.transport.RemoteAddr() }

// Logger returns the session's logger.
func (s *Session) Logger() *zerolog.Logger { return &s.logger }

// CreatedAt returns when the handshake completed.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// OutCipher returns the keystream that obfuscates outbound opcodes.
func (s *Session) OutCipher() protocol.Keystream { return s.outCipher }

// Feed decodes every complete frame in data, appending to any partial
// frame left by the previous call, and queues the packets. It returns the
// number of packets queued.
func (s *Session) Feed(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return 0, ErrClosed
	}
	metrics.BytesTotal.WithLabelValues("in").Add(float64(len(data)))

	s.pending = append(s.pending, data...)
	rest := s.pending
	decoded := 0
	var decodeErr error
	for {
		st, pkt, n, err := protocol.DecodeFrame(s.frame, rest, s.inCipher, s.sizes)
		s.frame = st
		rest = rest[n:]
		if err != nil {
			decodeErr = fmt.Errorf("decode frame: %w", err)
			break
		}
		if pkt == nil {
			break
		}
		s.queue.Push(pkt)
		decoded++
	}
	s.pending = s.pending[:copy(s.pending, rest)]

	if decoded > 0 {
		s.Touch()
		metrics.PacketsDecodedTotal.Add(float64(decoded))
	}
	return decoded, decodeErr
}

// Drain returns the queued packets in arrival order.
func (s *Session) Drain() []*protocol.Packet {
	return s.queue.Drain()
}

// Queued returns the number of packets waiting for the tick.
func (s *Session) Queued() int {
	return s.queue.Len()
}

// Touch resets the idle timer.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns when the last packet was decoded.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor returns how long the session has gone without a packet.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// NoteUnknown records an unrecognised opcode and returns the current run of
// consecutive unknown opcodes.
func (s *Session) NoteUnknown() int {
	s.unknownStreak++
	return s.unknownStreak
}

// NoteKnown ends a run of unknown opcodes.
func (s *Session) NoteKnown() {
	s.unknownStreak = 0
}

// Send queues an encoded packet for the next flush. A buffer that failed to
// encode is dropped and logged.
func (s *Session) Send(buf *protocol.OutBuffer) error {
	data, err := buf.Bytes()
	if err != nil {
		metrics.BuffersDroppedTotal.Inc()
		s.logger.Error().Err(err).Int("length", buf.Len()).Msg("dropping outbound buffer")
		return err
	}
	s.SendRaw(data)
	return nil
}

// SendRaw queues bytes that need no framing.
func (s *Session) SendRaw(data []byte) {
	if len(data) == 0 || s.closed.Load() {
		return
	}
	s.outMu.Lock()
	s.outbound = append(s.outbound, data)
	s.outMu.Unlock()
}

// Flush writes all queued output in one socket write. A write failure
// closes the session.
func (s *Session) Flush() error {
	s.outMu.Lock()
	chunks := s.outbound
	s.outbound = nil
	s.outMu.Unlock()

	if len(chunks) == 0 || s.closed.Load() {
		return nil
	}

	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}

	if err := s.transport.Write(data); err != nil {
		s.Close("write failed")
		return fmt.Errorf("flush session %d: %w", s.id, err)
	}
	metrics.BytesTotal.WithLabelValues("out").Add(float64(len(data)))
	return nil
}

// Reject writes a single status byte and closes the session.
func (s *Session) Reject(code byte) {
	if s.closed.Load() {
		return
	}
	if err := s.transport.Write([]byte{code}); err != nil {
		s.logger.Debug().Err(err).Msg("failed to write reject code")
	}
	s.Close(fmt.Sprintf("rejected with code %d", code))
}

// Close discards queued packets and the partial frame, then closes the
// socket. Only the first call has an effect.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	s.closed.Store(true)
	s.reason = reason
	s.frame = protocol.FrameState{}
	s.pending = nil
	s.queue.Close()
	s.mu.Unlock()

	s.outMu.Lock()
	s.outbound = nil
	s.outMu.Unlock()

	if err := s.transport.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("error closing transport")
	}
	s.logger.Info().Str("reason", reason).Msg("session closed")
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// CloseReason returns why the session was closed.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
