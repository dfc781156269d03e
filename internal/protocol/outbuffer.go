package protocol

import "fmt"

// StringTerminator ends every string on the wire.
const StringTerminator = 10

// OutBuffer writes a frame into a fixed-capacity region. The first error is
// sticky: once a write fails every later write is ignored and Bytes reports
// the error, so a mis-sized packet is dropped whole instead of being sent
// truncated.
type OutBuffer struct {
	buf []byte
	pos int
	err error

	// Backpatch position of an open variable frame, -1 when none.
	lengthAt   int
	lengthSize int
}

// NewOutBuffer allocates a buffer that holds at most capacity bytes.
func NewOutBuffer(capacity int) *OutBuffer {
	return &OutBuffer{
		buf:      make([]byte, capacity),
		lengthAt: -1,
	}
}

// Err returns the first error recorded by a write, if any.
func (b *OutBuffer) Err() error {
	return b.err
}

// Len returns the number of bytes written so far.
func (b *OutBuffer) Len() int {
	return b.pos
}

// Cap returns the buffer capacity.
func (b *OutBuffer) Cap() int {
	return len(b.buf)
}

// Bytes returns the written bytes, or the sticky error.
func (b *OutBuffer) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.lengthAt >= 0 {
		return nil, fmt.Errorf("variable frame left open at offset %d: %w", b.lengthAt, ErrNoFrame)
	}
	return b.buf[:b.pos], nil
}

func (b *OutBuffer) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *OutBuffer) reserve(n int) bool {
	if b.err != nil {
		return false
	}
	if b.pos+n > len(b.buf) {
		b.fail(fmt.Errorf("write of %d bytes at %d/%d: %w", n, b.pos, len(b.buf), ErrBufferOverflow))
		return false
	}
	return true
}

func (b *OutBuffer) put(v byte) {
	b.buf[b.pos] = v
	b.pos++
}

// PutHeader writes an opcode obfuscated with the next keystream word.
func (b *OutBuffer) PutHeader(ks Keystream, opcode int) {
	if !b.reserve(1) {
		return
	}
	b.put(byte(uint32(opcode) + ks.Next()))
}

// PutVarHeader writes an obfuscated opcode followed by a one-byte length
// placeholder. FinishVarHeader fills the placeholder in.
func (b *OutBuffer) PutVarHeader(ks Keystream, opcode int) {
	b.openFrame(ks, opcode, 1)
}

// PutVarShortHeader is PutVarHeader with a two-byte big-endian length.
func (b *OutBuffer) PutVarShortHeader(ks Keystream, opcode int) {
	b.openFrame(ks, opcode, 2)
}

func (b *OutBuffer) openFrame(ks Keystream, opcode, lengthSize int) {
	if !b.reserve(1 + lengthSize) {
		return
	}
	b.put(byte(uint32(opcode) + ks.Next()))
	b.lengthAt = b.pos
	b.lengthSize = lengthSize
	b.pos += lengthSize
}

// FinishVarHeader backpatches the one-byte length of the open frame.
func (b *OutBuffer) FinishVarHeader() {
	b.closeFrame(1)
}

// FinishVarShortHeader backpatches the two-byte length of the open frame.
func (b *OutBuffer) FinishVarShortHeader() {
	b.closeFrame(2)
}

func (b *OutBuffer) closeFrame(lengthSize int) {
	if b.err != nil {
		return
	}
	if b.lengthAt < 0 || b.lengthSize != lengthSize {
		b.fail(ErrNoFrame)
		return
	}

	n := b.pos - b.lengthAt - lengthSize
	limit := 1<<(8*lengthSize) - 1
	if n > limit {
		b.fail(fmt.Errorf("body of %d bytes exceeds %d: %w", n, limit, ErrPayloadTooLarge))
		return
	}

	if lengthSize == 1 {
		b.buf[b.lengthAt] = byte(n)
	} else {
		b.buf[b.lengthAt] = byte(n >> 8)
		b.buf[b.lengthAt+1] = byte(n)
	}
	b.lengthAt = -1
	b.lengthSize = 0
}

// PutByte writes one byte. Only the value transform of opts applies.
func (b *OutBuffer) PutByte(v int, opts ...Option) {
	e := resolve(opts)
	if !b.reserve(1) {
		return
	}
	b.put(encodeLow(v, e.value))
}

// PutShort writes two bytes in big or little order.
func (b *OutBuffer) PutShort(v int, opts ...Option) {
	e := resolve(opts)
	switch e.order {
	case Big:
		if !b.reserve(2) {
			return
		}
		b.put(byte(v >> 8))
		b.put(encodeLow(v, e.value))
	case Little:
		if !b.reserve(2) {
			return
		}
		b.put(encodeLow(v, e.value))
		b.put(byte(v >> 8))
	default:
		b.fail(fmt.Errorf("short with %s order: %w", e.order, ErrUnsupportedOrder))
	}
}

// PutInt writes four bytes in any of the four orders.
func (b *OutBuffer) PutInt(v int, opts ...Option) {
	e := resolve(opts)
	if !b.reserve(4) {
		return
	}
	low := encodeLow(v, e.value)
	switch e.order {
	case Big:
		b.put(byte(v >> 24))
		b.put(byte(v >> 16))
		b.put(byte(v >> 8))
		b.put(low)
	case Little:
		b.put(low)
		b.put(byte(v >> 8))
		b.put(byte(v >> 16))
		b.put(byte(v >> 24))
	case Middle:
		b.put(byte(v >> 8))
		b.put(low)
		b.put(byte(v >> 24))
		b.put(byte(v >> 16))
	case InverseMiddle:
		b.put(byte(v >> 16))
		b.put(byte(v >> 24))
		b.put(low)
		b.put(byte(v >> 8))
	}
}

// PutLong writes eight bytes in big or little order.
func (b *OutBuffer) PutLong(v int64, opts ...Option) {
	e := resolve(opts)
	if e.order != Big && e.order != Little {
		b.fail(fmt.Errorf("long with %s order: %w", e.order, ErrUnsupportedOrder))
		return
	}
	if !b.reserve(8) {
		return
	}
	low := encodeLow(int(v), e.value)
	if e.order == Big {
		for shift := 56; shift > 0; shift -= 8 {
			b.put(byte(v >> shift))
		}
		b.put(low)
		return
	}
	b.put(low)
	for shift := 8; shift < 64; shift += 8 {
		b.put(byte(v >> shift))
	}
}

// PutBytes writes raw bytes.
func (b *OutBuffer) PutBytes(data []byte) {
	if !b.reserve(len(data)) {
		return
	}
	b.pos += copy(b.buf[b.pos:], data)
}

// PutBytesReverse writes data back to front with t applied to every byte.
func (b *OutBuffer) PutBytesReverse(data []byte, t ValueType) {
	if !b.reserve(len(data)) {
		return
	}
	for i := len(data) - 1; i >= 0; i-- {
		b.put(encodeLow(int(data[i]), t))
	}
}

// PutString writes s followed by the string terminator.
func (b *OutBuffer) PutString(s string) {
	if !b.reserve(len(s) + 1) {
		return
	}
	b.pos += copy(b.buf[b.pos:], s)
	b.put(StringTerminator)
}
