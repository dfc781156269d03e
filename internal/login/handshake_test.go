package login

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember-project/ember/internal/protocol"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Random = bytes.NewReader([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	return cfg
}

type blockOpts struct {
	loginType  int
	build      int
	magic      int
	clientHalf int64
	serverHalf int64
	username   string
	password   string
}

func defaultBlock() blockOpts {
	return blockOpts{
		loginType:  TypeNewLogin,
		build:      DefaultBuild,
		magic:      RSAMagic,
		clientHalf: 0x0000000100000002,
		serverHalf: 0x0000000300000004,
		username:   "Zezima",
		password:   "hunter2",
	}
}

// loginBlock returns the type, length and body bytes a client sends after
// reading the server challenge.
func loginBlock(o blockOpts) []byte {
	body := protocol.NewOutBuffer(256)
	body.PutByte(255)
	body.PutShort(o.build)
	body.PutByte(0)
	for i := 0; i < 9; i++ {
		body.PutInt(0)
	}
	rsa := protocol.NewOutBuffer(128)
	rsa.PutByte(o.magic)
	rsa.PutLong(o.clientHalf)
	rsa.PutLong(o.serverHalf)
	rsa.PutInt(1337)
	rsa.PutString(o.username)
	rsa.PutString(o.password)
	rsaBytes, _ := rsa.Bytes()
	body.PutByte(len(rsaBytes))
	body.PutBytes(rsaBytes)
	data, _ := body.Bytes()

	return append([]byte{byte(o.loginType), byte(len(data))}, data...)
}

func authenticate(t *testing.T, o blockOpts) (State, Result) {
	t.Helper()
	cfg := testConfig()
	st, res := Step(State{}, []byte{RequestGameLogin, 7}, cfg)
	require.Equal(t, AwaitingLoginBlock, st.Phase)
	require.Equal(t, 2, res.Consumed)
	return Step(st, loginBlock(o), cfg)
}

func TestHandshakeChallenge(t *testing.T) {
	st, res := Step(State{}, []byte{RequestGameLogin, 42}, testConfig())

	assert.Equal(t, AwaitingLoginBlock, st.Phase)
	assert.Equal(t, 2, res.Consumed)
	assert.False(t, res.Close)
	require.Len(t, res.Response, 17)
	assert.Equal(t, make([]byte, 9), res.Response[:9])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, res.Response[9:])
}

func TestHandshakeWaitsForInput(t *testing.T) {
	st, res := Step(State{}, []byte{RequestGameLogin}, testConfig())
	assert.Equal(t, AwaitingHandshake, st.Phase)
	assert.Zero(t, res.Consumed)
	assert.Nil(t, res.Response)

	st, res = Step(State{Phase: AwaitingLoginBlock}, []byte{TypeNewLogin}, testConfig())
	assert.Equal(t, AwaitingLoginBlock, st.Phase)
	assert.Zero(t, res.Consumed)
}

func TestBadRequestCodeClosesSilently(t *testing.T) {
	st, res := Step(State{}, []byte{15, 0}, testConfig())
	assert.Equal(t, Rejected, st.Phase)
	assert.True(t, res.Close)
	assert.Empty(t, res.Response)
	assert.ErrorIs(t, res.Err, ErrBadRequestCode)
}

func TestSuccessfulLogin(t *testing.T) {
	block := defaultBlock()
	st, res := authenticate(t, block)

	require.NoError(t, res.Err)
	assert.Equal(t, Authenticated, st.Phase)
	assert.Equal(t, len(loginBlock(block)), res.Consumed)
	assert.Empty(t, res.Response)

	creds := res.Credentials
	require.NotNil(t, creds)
	assert.Equal(t, "Zezima", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Equal(t, 7, creds.NameHash)
	assert.Equal(t, int32(1337), creds.Version)
	assert.False(t, creds.Reconnecting)
	assert.Equal(t, [4]uint32{1, 2, 3, 4}, creds.InboundSeed)
	assert.Equal(t, [4]uint32{51, 52, 53, 54}, creds.OutboundSeed)

	in, out := creds.Ciphers()
	assert.NotEqual(t, in.Next(), out.Next())
}

func TestReconnectType(t *testing.T) {
	block := defaultBlock()
	block.loginType = TypeReconnect
	_, res := authenticate(t, block)
	require.NotNil(t, res.Credentials)
	assert.True(t, res.Credentials.Reconnecting)
}

func TestLoginBlockArrivesInPieces(t *testing.T) {
	cfg := testConfig()
	st, _ := Step(State{}, []byte{RequestGameLogin, 0}, cfg)

	wire := loginBlock(defaultBlock())
	var pending []byte
	var res Result
	for _, b := range wire {
		pending = append(pending, b)
		st, res = Step(st, pending, cfg)
		pending = pending[res.Consumed:]
		if st.Phase != AwaitingLoginBlock {
			break
		}
	}

	assert.Equal(t, Authenticated, st.Phase)
	require.NotNil(t, res.Credentials)
	assert.Equal(t, "Zezima", res.Credentials.Username)
	assert.Empty(t, pending)
}

func TestLoginRejections(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*blockOpts)
		wantErr  error
		response []byte
	}{
		{"bad type", func(o *blockOpts) { o.loginType = 17 }, ErrBadLoginType, nil},
		{"build mismatch", func(o *blockOpts) { o.build = 377 }, ErrBuildMismatch, nil},
		{"bad magic", func(o *blockOpts) { o.magic = 9 }, ErrBadMagic, nil},
		{"empty username", func(o *blockOpts) { o.username = "" }, ErrInvalidUsername, []byte{16}},
		{"long username", func(o *blockOpts) { o.username = "abcdefghijklm" }, ErrInvalidUsername, []byte{16}},
		{"symbol username", func(o *blockOpts) { o.username = "bad_name" }, ErrInvalidUsername, []byte{16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block := defaultBlock()
			tt.mutate(&block)
			st, res := authenticate(t, block)

			assert.Equal(t, Rejected, st.Phase)
			assert.True(t, res.Close)
			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Equal(t, tt.response, res.Response)
			assert.Nil(t, res.Credentials)
		})
	}
}

func TestShortBlockLengthRejected(t *testing.T) {
	st, res := Step(State{Phase: AwaitingLoginBlock}, []byte{TypeNewLogin, 40}, testConfig())
	assert.Equal(t, Rejected, st.Phase)
	assert.ErrorIs(t, res.Err, ErrBadBlockLength)
	assert.Empty(t, res.Response)
}

func TestTruncatedBlockIsMalformed(t *testing.T) {
	// A declared length that covers the fixed header but not the seeds.
	wire := []byte{TypeNewLogin, 45, 255, 0x01, 0x3d, 0}
	wire = append(wire, make([]byte, 36)...)
	wire = append(wire, 10, 10, 0, 0, 0)

	st, res := Step(State{Phase: AwaitingLoginBlock}, wire, testConfig())
	assert.Equal(t, Rejected, st.Phase)
	assert.ErrorIs(t, res.Err, ErrMalformedBlock)
}

func TestStepAfterFinish(t *testing.T) {
	_, res := Step(State{Phase: Authenticated}, []byte{1, 2, 3}, testConfig())
	assert.True(t, res.Close)
	assert.ErrorIs(t, res.Err, ErrAlreadyFinished)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "awaiting_login_block", AwaitingLoginBlock.String())
	assert.Equal(t, "unknown", Phase(99).String())
}
