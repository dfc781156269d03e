package network

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConnection(t *testing.T, id uint64) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewConnection(id, server), client
}

func TestConnectionWriteAndClose(t *testing.T) {
	conn, client := pipeConnection(t, 1)

	go func() {
		_ = conn.Write([]byte{1, 2, 3})
	}()
	got := make([]byte, 3)
	_, err := io.ReadFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.Write([]byte{4}), ErrConnectionClosed)
}

func TestConnectionReadTimeout(t *testing.T) {
	conn, _ := pipeConnection(t, 1)

	buf := make([]byte, 8)
	_, err := conn.Read(buf, 20*time.Millisecond)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestCleanStaleSkipsLoggedInConnections(t *testing.T) {
	r := NewConnectionRegistry()

	stuck, _ := pipeConnection(t, 1)
	stuck.connectedAt = time.Now().Add(-time.Minute)
	playing, _ := pipeConnection(t, 2)
	playing.connectedAt = time.Now().Add(-time.Minute)
	playing.MarkLoggedIn()
	fresh, _ := pipeConnection(t, 3)

	r.Register(stuck)
	r.Register(playing)
	r.Register(fresh)
	assert.Equal(t, 2, r.Pending())

	assert.Equal(t, 1, r.CleanStale(15*time.Second))
	assert.True(t, stuck.IsClosed())
	assert.False(t, playing.IsClosed())
	assert.False(t, fresh.IsClosed())

	_, ok := r.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 2, r.Count())

	r.Unregister(2)
	assert.True(t, playing.IsClosed())
	r.CloseAll()
	assert.True(t, fresh.IsClosed())
	assert.Zero(t, r.Count())
}
