// Package isaac implements the ISAAC keystream generator the client uses to
// obfuscate packet opcodes. One Cipher exists per direction per session and
// it is never shared between goroutines.
package isaac

const (
	sizeLog = 8
	size    = 1 << sizeLog
	half    = size / 2

	goldenRatio uint32 = 0x9e3779b9
)

// OutboundSeedDelta is added to every inbound seed word to derive the
// server-to-client cipher seed.
const OutboundSeedDelta = 50

// Cipher is a deterministic ISAAC word generator.
type Cipher struct {
	results [size]uint32
	mem     [size]uint32

	accumulator uint32
	lastResult  uint32
	counter     uint32

	// count is the number of unread words left in results; words are
	// handed out from the end of the block towards the start.
	count int
}

// New seeds a Cipher. Up to 256 seed words are used; the login
// handshake always supplies four.
func New(seed []uint32) *Cipher {
	c := &Cipher{}
	copy(c.results[:], seed)
	c.init()
	return c
}

// OutboundSeed derives the server-to-client seed from the client-to-server one.
func OutboundSeed(seed [4]uint32) [4]uint32 {
	var out [4]uint32
	for i, w := range seed {
		out[i] = w + OutboundSeedDelta
	}
	return out
}

// Next returns the next keystream word.
func (c *Cipher) Next() uint32 {
	if c.count == 0 {
		c.generate()
		c.count = size
	}
	c.count--
	return c.results[c.count]
}

func mix(s *[8]uint32) {
	s[0] ^= s[1] << 11
	s[3] += s[0]
	s[1] += s[2]
	s[1] ^= s[2] >> 2
	s[4] += s[1]
	s[2] += s[3]
	s[2] ^= s[3] << 8
	s[5] += s[2]
	s[3] += s[4]
	s[3] ^= s[4] >> 16
	s[6] += s[3]
	s[4] += s[5]
	s[4] ^= s[5] << 10
	s[7] += s[4]
	s[5] += s[6]
	s[5] ^= s[6] >> 4
	s[0] += s[5]
	s[6] += s[7]
	s[6] ^= s[7] << 8
	s[1] += s[6]
	s[7] += s[0]
	s[7] ^= s[0] >> 9
	s[2] += s[7]
	s[0] += s[1]
}

func (c *Cipher) init() {
	var s [8]uint32
	for i := range s {
		s[i] = goldenRatio
	}
	for i := 0; i < 4; i++ {
		mix(&s)
	}

	// First pass folds the seed into memory, second pass makes every seed
	// word affect every memory word.
	for i := 0; i < size; i += 8 {
		for k := 0; k < 8; k++ {
			s[k] += c.results[i+k]
		}
		mix(&s)
		copy(c.mem[i:i+8], s[:])
	}
	for i := 0; i < size; i += 8 {
		for k := 0; k < 8; k++ {
			s[k] += c.mem[i+k]
		}
		mix(&s)
		copy(c.mem[i:i+8], s[:])
	}

	c.generate()
	c.count = size
}

// generate refills results with the next block of 256 words.
func (c *Cipher) generate() {
	c.counter++
	c.lastResult += c.counter

	i := 0
	for j := half; i < half; j++ {
		c.round(i, j)
		i++
	}
	for j := 0; j < half; j++ {
		c.round(i, j)
		i++
	}
}

// round performs one step of the mixing network for memory slot i, pulling
// the paired word from slot j. The accumulator shift depends on i mod 4.
func (c *Cipher) round(i, j int) {
	switch i & 3 {
	case 0:
		c.accumulator ^= c.accumulator << 13
	case 1:
		c.accumulator ^= c.accumulator >> 6
	case 2:
		c.accumulator ^= c.accumulator << 2
	case 3:
		c.accumulator ^= c.accumulator >> 16
	}
	c.accumulator += c.mem[j]

	x := c.mem[i]
	y := c.mem[(x>>2)&(size-1)] + c.accumulator + c.lastResult
	c.mem[i] = y
	c.lastResult = c.mem[(y>>(sizeLog+2))&(size-1)] + x
	c.results[i] = c.lastResult
}
