// Package network accepts client sockets, runs the login handshake on them
// and feeds the bytes of logged in clients to their sessions.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ember-project/ember/internal/metrics"
	"github.com/ember-project/ember/internal/util"
)

// WriteTimeout bounds a single socket write.
const WriteTimeout = 10 * time.Second

// ErrConnectionClosed is returned when writing to a closed connection.
var ErrConnectionClosed = errors.New("connection is closed")

// Connection wraps one client socket. It is the session transport once the
// client has logged in.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	id     uint64
	remote string
	logger zerolog.Logger

	// Timestamps
	connectedAt  time.Time
	lastActivity time.Time

	// State
	closed   bool
	loggedIn atomic.Bool
}

// NewConnection wraps an accepted net.Conn.
func NewConnection(id uint64, conn net.Conn) *Connection {
	now := time.Now()
	remote := conn.RemoteAddr().String()
	return &Connection{
		conn:         conn,
		id:           id,
		remote:       remote,
		connectedAt:  now,
		lastActivity: now,
		logger: util.ComponentLogger("connection").With().
			Uint64("conn", id).
			Str("remote", remote).
			Logger(),
	}
}

// ID returns the connection id, reused as the session id.
func (c *Connection) ID() uint64 { return c.id }

// Read reads whatever the client has sent. A positive timeout sets a read
// deadline; zero clears it.
func (c *Connection) Read(buf []byte, timeout time.Duration) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.conn.SetReadDeadline(deadline)

	n, err := c.conn.Read(buf)
	if n > 0 {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
	}
	return n, err
}

// Write sends data to the client.
func (c *Connection) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(data), err)
	}
	metrics.BytesTotal.WithLabelValues("out").Add(float64(len(data)))

	c.lastActivity = time.Now()
	return nil
}

// Close closes the socket. Closing twice is a no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MarkLoggedIn records that the handshake finished.
func (c *Connection) MarkLoggedIn() { c.loggedIn.Store(true) }

// LoggedIn reports whether the handshake finished.
func (c *Connection) LoggedIn() bool { return c.loggedIn.Load() }

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the client address.
func (c *Connection) RemoteAddr() string {
	return c.remote
}

// ConnectionRegistry tracks open client sockets.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

// NewConnectionRegistry creates a new ConnectionRegistry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[uint64]*Connection),
	}
}

// Register adds a connection to the registry.
func (r *ConnectionRegistry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.id] = conn
}

// Unregister closes and removes a connection.
func (r *ConnectionRegistry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		conn.Close()
		delete(r.conns, id)
	}
}

// Get returns the connection with the given id.
func (r *ConnectionRegistry) Get(id uint64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Count returns the number of open connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Pending returns the number of connections still in the handshake.
func (r *ConnectionRegistry) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, conn := range r.conns {
		if !conn.LoggedIn() {
			n++
		}
	}
	return n
}

// CloseAll closes every connection in the registry.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}

	log.Info().Msg("all connections closed")
}

// CleanStale closes connections that have not finished logging in within
// timeout of being accepted. Logged in sockets are left to the tick's idle
// check.
func (r *ConnectionRegistry) CleanStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	cutoff := time.Now().Add(-timeout)

	for id, conn := range r.conns {
		if conn.LoggedIn() || !conn.ConnectedAt().Before(cutoff) {
			continue
		}
		conn.Close()
		delete(r.conns, id)
		cleaned++
		metrics.HandshakeRejectsTotal.WithLabelValues("timeout").Inc()
		log.Warn().
			Uint64("conn", id).
			Str("remote", conn.RemoteAddr()).
			Time("connected_at", conn.ConnectedAt()).
			Msg("closed connection stuck in handshake")
	}

	return cleaned
}
