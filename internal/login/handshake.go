// Package login implements the connection handshake that turns a raw client
// socket into an authenticated session. The state machine is a pure
// function over the bytes received so far; the caller owns the socket,
// writes Result.Response and drops Result.Consumed bytes from its buffer.
package login

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/ember-project/ember/internal/isaac"
	"github.com/ember-project/ember/internal/protocol"
)

// Fixed values of the handshake ritual.
const (
	RequestGameLogin = 14
	TypeNewLogin     = 16
	TypeReconnect    = 18
	RSAMagic         = 10
	DefaultBuild     = 317

	// loginBlockOverhead is the part of the block length that is not the
	// RSA block: magic, build, memory mode and the nine checksums.
	loginBlockOverhead = 36 + 1 + 1 + 2

	challengeLength = 17
)

var (
	ErrBadRequestCode  = errors.New("login: bad request code")
	ErrBadLoginType    = errors.New("login: bad login type")
	ErrBadBlockLength  = errors.New("login: bad login block length")
	ErrBuildMismatch   = errors.New("login: client build mismatch")
	ErrBadMagic        = errors.New("login: bad decrypted block magic")
	ErrMalformedBlock  = errors.New("login: malformed login block")
	ErrInvalidUsername = errors.New("login: invalid username")
	ErrNoRandomSource  = errors.New("login: random source failed")
	ErrAlreadyFinished = errors.New("login: handshake already finished")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9 ]{1,12}$`)

// Phase is the handshake position of a connection.
type Phase int

const (
	AwaitingHandshake Phase = iota
	AwaitingLoginBlock
	Authenticated
	Rejected
)

var phaseNames = map[Phase]string{
	AwaitingHandshake:  "awaiting_handshake",
	AwaitingLoginBlock: "awaiting_login_block",
	Authenticated:      "authenticated",
	Rejected:           "rejected",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// State is the handshake progress of one connection. The zero value is a
// freshly accepted socket.
type State struct {
	Phase Phase

	nameHash int

	// Login block header, kept once read so a short block is never parsed
	// from a shifted position.
	haveHeader  bool
	loginType   int
	blockLength int
}

// Config carries the policy the handshake enforces.
type Config struct {
	// Build is the only client build accepted.
	Build int
	// InvalidUsernameCode is written before closing on a bad username.
	InvalidUsernameCode byte
	// Random supplies the server seed half. Defaults to crypto/rand.
	Random io.Reader
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		Build:               DefaultBuild,
		InvalidUsernameCode: 16,
		Random:              rand.Reader,
	}
}

// Credentials is what a successful handshake yields.
type Credentials struct {
	Username     string
	Password     string
	NameHash     int
	Reconnecting bool
	LowMemory    bool
	Version      int32
	InboundSeed  [4]uint32
	OutboundSeed [4]uint32
}

// Ciphers builds the inbound and outbound keystreams for the session.
func (c *Credentials) Ciphers() (in, out *isaac.Cipher) {
	return isaac.New(c.InboundSeed[:]), isaac.New(c.OutboundSeed[:])
}

// Result is the outcome of one Step.
type Result struct {
	// Consumed bytes must be dropped from the front of the input.
	Consumed int
	// Response, if any, must be written to the client.
	Response []byte
	// Close asks the caller to close the socket after writing Response.
	Close bool
	// Err is the rejection reason when the phase became Rejected.
	Err error
	// Credentials is set when the phase became Authenticated.
	Credentials *Credentials
}

// Step advances the handshake over the bytes received so far. A Result with
// nothing consumed and no response means more input is needed.
func Step(st State, pending []byte, cfg Config) (State, Result) {
	switch st.Phase {
	case AwaitingHandshake:
		return stepHandshake(st, pending, cfg)
	case AwaitingLoginBlock:
		return stepLoginBlock(st, pending, cfg)
	default:
		return st, Result{Close: true, Err: ErrAlreadyFinished}
	}
}

func reject(st State, consumed int, err error, response []byte) (State, Result) {
	st.Phase = Rejected
	return st, Result{Consumed: consumed, Response: response, Close: true, Err: err}
}

func stepHandshake(st State, pending []byte, cfg Config) (State, Result) {
	if len(pending) < 2 {
		return st, Result{}
	}

	request := int(pending[0])
	if request != RequestGameLogin {
		return reject(st, 2, fmt.Errorf("request %d: %w", request, ErrBadRequestCode), nil)
	}
	st.nameHash = int(pending[1])

	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}
	serverHalf := make([]byte, 8)
	if _, err := io.ReadFull(random, serverHalf); err != nil {
		return reject(st, 2, fmt.Errorf("%w: %v", ErrNoRandomSource, err), nil)
	}

	out := protocol.NewOutBuffer(challengeLength)
	out.PutLong(0)
	out.PutByte(0)
	out.PutBytes(serverHalf)
	response, err := out.Bytes()
	if err != nil {
		return reject(st, 2, err, nil)
	}

	st.Phase = AwaitingLoginBlock
	return st, Result{Consumed: 2, Response: response}
}

func stepLoginBlock(st State, pending []byte, cfg Config) (State, Result) {
	consumed := 0
	if !st.haveHeader {
		if len(pending) < 2 {
			return st, Result{}
		}
		st.loginType = int(pending[0])
		if st.loginType != TypeNewLogin && st.loginType != TypeReconnect {
			return reject(st, 2, fmt.Errorf("type %d: %w", st.loginType, ErrBadLoginType), nil)
		}
		st.blockLength = int(pending[1])
		if st.blockLength-loginBlockOverhead <= 0 {
			return reject(st, 2, fmt.Errorf("length %d: %w", st.blockLength, ErrBadBlockLength), nil)
		}
		st.haveHeader = true
		consumed = 2
	}

	block := pending[consumed:]
	if len(block) < st.blockLength {
		return st, Result{Consumed: consumed}
	}
	block = block[:st.blockLength]
	consumed += st.blockLength

	creds, err := parseLoginBlock(block, cfg)
	if err != nil {
		return reject(st, consumed, err, nil)
	}
	creds.NameHash = st.nameHash
	creds.Reconnecting = st.loginType == TypeReconnect

	if !usernamePattern.MatchString(creds.Username) {
		return reject(st, consumed, fmt.Errorf("%q: %w", creds.Username, ErrInvalidUsername),
			[]byte{cfg.InvalidUsernameCode})
	}

	st.Phase = Authenticated
	return st, Result{Consumed: consumed, Credentials: creds}
}

func parseLoginBlock(block []byte, cfg Config) (*Credentials, error) {
	in := protocol.NewInBuffer(block)

	in.UByte() // magic, always 255
	build := in.UShort()
	if in.Err() == nil && build != cfg.Build {
		return nil, fmt.Errorf("build %d, want %d: %w", build, cfg.Build, ErrBuildMismatch)
	}
	lowMemory := in.UByte() == 1
	for i := 0; i < 9; i++ {
		in.Int() // archive checksums
	}
	in.UByte() // RSA block length
	if magic := in.Byte(); in.Err() == nil && magic != RSAMagic {
		return nil, fmt.Errorf("magic %d: %w", magic, ErrBadMagic)
	}

	clientHalf := in.Long()
	serverHalf := in.Long()
	version := in.Int()
	if err := in.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlock, err)
	}

	rest := block[len(block)-in.Remaining():]
	username, n := readLoginString(rest)
	password, _ := readLoginString(rest[n:])

	seed := [4]uint32{
		uint32(clientHalf >> 32),
		uint32(clientHalf),
		uint32(serverHalf >> 32),
		uint32(serverHalf),
	}

	return &Credentials{
		Username:     username,
		Password:     password,
		LowMemory:    lowMemory,
		Version:      version,
		InboundSeed:  seed,
		OutboundSeed: isaac.OutboundSeed(seed),
	}, nil
}

// readLoginString reads up to the client string terminator or a NUL and
// returns the string and the bytes used including the terminator.
func readLoginString(data []byte) (string, int) {
	for i, c := range data {
		if c == protocol.StringTerminator || c == 0 {
			return string(data[:i]), i + 1
		}
	}
	return string(data), len(data)
}
