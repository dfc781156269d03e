package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/login"
	"github.com/ember-project/ember/internal/metrics"
	"github.com/ember-project/ember/internal/protocol"
	"github.com/ember-project/ember/internal/session"
)

const readBufferSize = 4096

// ErrHandshakeTimeout is returned when a client does not finish logging in
// within the handshake timeout.
var ErrHandshakeTimeout = errors.New("handshake timed out")

// PlayerLoader loads or creates the saved details for a login.
type PlayerLoader interface {
	Load(username, password string) (*db.Details, db.LoadResult, error)
}

// Admitter takes authenticated sessions into the world.
type Admitter interface {
	Admit(sess *session.Session, details *db.Details, isNew bool)
}

// TCPListener accepts game clients, runs the login handshake on each one
// and then feeds its bytes to the session the engine ticks.
type TCPListener struct {
	cfg      *config.Config
	eventBus *events.EventBus
	loader   PlayerLoader
	admitter Admitter
	registry *ConnectionRegistry
	listener net.Listener
	nextID   atomic.Uint64

	// random supplies the server seed halves; nil means crypto/rand.
	random io.Reader
}

// NewTCPListener creates a new TCP listener.
func NewTCPListener(cfg *config.Config, eventBus *events.EventBus, loader PlayerLoader, admitter Admitter) *TCPListener {
	return &TCPListener{
		cfg:      cfg,
		eventBus: eventBus,
		loader:   loader,
		admitter: admitter,
		registry: NewConnectionRegistry(),
	}
}

// Registry returns the open connections.
func (l *TCPListener) Registry() *ConnectionRegistry { return l.registry }

// Start listens on the configured game address and serves clients until ctx
// is done.
func (l *TCPListener) Start(ctx context.Context) error {
	srv := l.cfg.GetServer()
	addr := srv.Address()

	// SO_REUSEADDR so a restarted server can rebind at once.
	lc := ReuseAddrListenConfig()
	var err error
	l.listener, err = lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start game listener on %s: %w", addr, err)
	}

	log.Info().Str("addr", addr).Msg("game listener started")

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Info().Msg("game listener stopping")
				return nil
			default:
				log.Error().Err(err).Msg("failed to accept connection")
				continue
			}
		}

		go l.handleConnection(ctx, conn)
	}
}

// Stop closes the listening socket and every client still connected. The
// engine should have flushed its logouts first.
func (l *TCPListener) Stop() error {
	l.registry.CloseAll()
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}

// SweepHandshakes closes sockets that have been in the handshake for longer
// than the configured timeout.
func (l *TCPListener) SweepHandshakes() int {
	return l.registry.CleanStale(l.cfg.GetServer().HandshakeTimeout())
}

// handleConnection serves one client from accept to disconnect. The read
// loop owns the handshake state, and after login the session's inbound
// keystream.
func (l *TCPListener) handleConnection(ctx context.Context, rawConn net.Conn) {
	conn := NewConnection(l.nextID.Add(1), rawConn)
	l.registry.Register(conn)
	defer l.registry.Unregister(conn.ID())

	metrics.ConnectionsTotal.Inc()
	logger := conn.logger
	logger.Debug().Msg("new client connection")

	srv := l.cfg.GetServer()
	creds, leftover, err := l.handshake(conn, srv)
	if err != nil {
		l.rejectHandshake(ctx, conn, err, srv, logger)
		return
	}

	details, result, err := l.loader.Load(creds.Username, creds.Password)
	switch result {
	case db.LoadBadPassword:
		l.refuse(ctx, conn, "invalid_credentials", srv.RejectCodes.InvalidCredentials)
		return
	case db.LoadError:
		logger.Error().Err(err).Str("player", creds.Username).Msg("failed to load player")
		l.refuse(ctx, conn, "load_error", srv.RejectCodes.LoadError)
		return
	}

	conn.MarkLoggedIn()
	sess := session.New(conn.ID(), conn, creds, &protocol.ClientPacketSizes)
	l.admitter.Admit(sess, details, result == db.LoadNew)

	// Anything sent right behind the login block is the first game data.
	if len(leftover) > 0 {
		if _, err := sess.Feed(leftover); err != nil {
			sess.Logger().Warn().Err(err).Msg("bad frame after login")
			sess.Close("decode error")
			return
		}
	}

	l.readLoop(conn, sess)
}

func (l *TCPListener) readLoop(conn *Connection, sess *session.Session) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf, 0)
		if n > 0 {
			if _, ferr := sess.Feed(buf[:n]); ferr != nil {
				if !errors.Is(ferr, session.ErrClosed) {
					sess.Logger().Warn().Err(ferr).Msg("closing session on bad frame")
				}
				sess.Close("decode error")
				return
			}
		}
		if err != nil {
			if !sess.Closed() && !errors.Is(err, io.EOF) && !conn.IsClosed() {
				sess.Logger().Debug().Err(err).Msg("read error")
			}
			sess.Close("socket closed")
			return
		}
	}
}

// handshake runs the login state machine over the socket and returns the
// credentials plus any bytes read past the login block.
func (l *TCPListener) handshake(conn *Connection, srv config.ServerData) (*login.Credentials, []byte, error) {
	lcfg := login.Config{
		Build:               srv.ProtocolBuild,
		InvalidUsernameCode: byte(srv.RejectCodes.InvalidUsername),
		Random:              l.random,
	}

	var st login.State
	var pending []byte
	buf := make([]byte, readBufferSize)
	deadline := time.Now().Add(srv.HandshakeTimeout())

	for {
		for {
			next, res := login.Step(st, pending, lcfg)
			st = next
			pending = pending[res.Consumed:]
			if res.Response != nil {
				if err := conn.Write(res.Response); err != nil {
					return nil, nil, err
				}
			}
			if res.Close {
				return nil, nil, res.Err
			}
			if res.Credentials != nil {
				return res.Credentials, pending, nil
			}
			if res.Consumed == 0 {
				break
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, ErrHandshakeTimeout
		}
		n, err := conn.Read(buf, remaining)
		pending = append(pending, buf[:n]...)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return nil, nil, ErrHandshakeTimeout
			}
			return nil, nil, err
		}
	}
}

func (l *TCPListener) rejectHandshake(ctx context.Context, conn *Connection, err error, srv config.ServerData, logger zerolog.Logger) {
	reason := rejectReason(err)
	if reason == "disconnected" {
		logger.Debug().Msg("client left during handshake")
		return
	}

	code := 0
	switch {
	case errors.Is(err, login.ErrInvalidUsername):
		// Already written by the handshake.
		code = srv.RejectCodes.InvalidUsername
	case errors.Is(err, login.ErrBuildMismatch):
		code = srv.RejectCodes.ProtocolMismatch
		if werr := conn.Write([]byte{byte(code)}); werr != nil {
			logger.Debug().Err(werr).Msg("failed to write reject code")
		}
	}

	logger.Warn().Err(err).Str("reason", reason).Msg("handshake rejected")
	l.recordReject(ctx, conn, reason, code)
}

// refuse writes a login status code and closes.
func (l *TCPListener) refuse(ctx context.Context, conn *Connection, reason string, code int) {
	if err := conn.Write([]byte{byte(code)}); err != nil {
		conn.logger.Debug().Err(err).Msg("failed to write reject code")
	}
	conn.logger.Info().Str("reason", reason).Int("code", code).Msg("login refused")
	l.recordReject(ctx, conn, reason, code)
}

func (l *TCPListener) recordReject(ctx context.Context, conn *Connection, reason string, code int) {
	metrics.HandshakeRejectsTotal.WithLabelValues(reason).Inc()
	if l.eventBus == nil {
		return
	}
	l.eventBus.Emit(ctx, events.Event{
		Type:   events.EventHandshakeRejected,
		Source: "network",
		Payload: events.HandshakeRejectedPayload{
			Remote: conn.RemoteAddr(),
			Reason: reason,
			Code:   code,
		},
	})
}

var rejectReasons = []struct {
	err    error
	reason string
}{
	{login.ErrBadRequestCode, "bad_request"},
	{login.ErrBadLoginType, "bad_login_type"},
	{login.ErrBadBlockLength, "bad_block_length"},
	{login.ErrBuildMismatch, "build_mismatch"},
	{login.ErrBadMagic, "bad_magic"},
	{login.ErrMalformedBlock, "malformed_block"},
	{login.ErrInvalidUsername, "invalid_username"},
	{ErrHandshakeTimeout, "timeout"},
	{io.EOF, "disconnected"},
	{io.ErrClosedPipe, "disconnected"},
	{ErrConnectionClosed, "disconnected"},
	{net.ErrClosed, "disconnected"},
}

// rejectReason maps a handshake error to its metrics label.
func rejectReason(err error) string {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "error"
}
