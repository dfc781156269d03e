package protocol

import "fmt"

// InBuffer reads fields from a decoded payload. Like OutBuffer its first
// error is sticky; reads past the end return zero values.
type InBuffer struct {
	data []byte
	pos  int
	err  error
}

// NewInBuffer wraps a payload.
func NewInBuffer(data []byte) *InBuffer {
	return &InBuffer{data: data}
}

// Err returns the first read error, if any.
func (b *InBuffer) Err() error {
	return b.err
}

// Remaining returns the number of unread bytes.
func (b *InBuffer) Remaining() int {
	return len(b.data) - b.pos
}

func (b *InBuffer) take(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || b.pos+n > len(b.data) {
		b.err = fmt.Errorf("read of %d bytes at %d/%d: %w", n, b.pos, len(b.data), ErrBufferUnderflow)
		return nil
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out
}

// UByte reads one byte as 0-255 with the inverse of the value transform.
func (b *InBuffer) UByte(opts ...Option) int {
	e := resolve(opts)
	p := b.take(1)
	if p == nil {
		return 0
	}
	return decodeLow(p[0], e.value)
}

// Byte reads one byte as a signed value.
func (b *InBuffer) Byte(opts ...Option) int {
	return int(int8(b.UByte(opts...)))
}

// UShort reads two bytes as 0-65535.
func (b *InBuffer) UShort(opts ...Option) int {
	e := resolve(opts)
	switch e.order {
	case Big:
		p := b.take(2)
		if p == nil {
			return 0
		}
		return int(p[0])<<8 | decodeLow(p[1], e.value)
	case Little:
		p := b.take(2)
		if p == nil {
			return 0
		}
		return decodeLow(p[0], e.value) | int(p[1])<<8
	default:
		if b.err == nil {
			b.err = fmt.Errorf("short with %s order: %w", e.order, ErrUnsupportedOrder)
		}
		return 0
	}
}

// Short reads two bytes as a signed value.
func (b *InBuffer) Short(opts ...Option) int {
	v := b.UShort(opts...)
	if v > 32767 {
		v -= 0x10000
	}
	return v
}

// UInt reads four bytes in any of the four orders.
func (b *InBuffer) UInt(opts ...Option) uint32 {
	e := resolve(opts)
	p := b.take(4)
	if p == nil {
		return 0
	}
	var b0, b1, b2, b3 uint32 // b0 least significant
	switch e.order {
	case Big:
		b3, b2, b1, b0 = uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(decodeLow(p[3], e.value))
	case Little:
		b0, b1, b2, b3 = uint32(decodeLow(p[0], e.value)), uint32(p[1]), uint32(p[2]), uint32(p[3])
	case Middle:
		b1, b0, b3, b2 = uint32(p[0]), uint32(decodeLow(p[1], e.value)), uint32(p[2]), uint32(p[3])
	case InverseMiddle:
		b2, b3, b0, b1 = uint32(p[0]), uint32(p[1]), uint32(decodeLow(p[2], e.value)), uint32(p[3])
	}
	return b3<<24 | b2<<16 | b1<<8 | b0
}

// Int reads four bytes as a signed value.
func (b *InBuffer) Int(opts ...Option) int32 {
	return int32(b.UInt(opts...))
}

// Long reads eight bytes in big or little order.
func (b *InBuffer) Long(opts ...Option) int64 {
	e := resolve(opts)
	if e.order != Big && e.order != Little {
		if b.err == nil {
			b.err = fmt.Errorf("long with %s order: %w", e.order, ErrUnsupportedOrder)
		}
		return 0
	}
	p := b.take(8)
	if p == nil {
		return 0
	}
	var v uint64
	if e.order == Big {
		for i := 0; i < 7; i++ {
			v = v<<8 | uint64(p[i])
		}
		v = v<<8 | uint64(decodeLow(p[7], e.value))
	} else {
		for i := 7; i > 0; i-- {
			v = v<<8 | uint64(p[i])
		}
		v = v<<8 | uint64(decodeLow(p[0], e.value))
	}
	return int64(v)
}

// Bytes reads n raw bytes into a new slice.
func (b *InBuffer) Bytes(n int) []byte {
	p := b.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// BytesReverse reads n bytes that the client stored back to front, undoing
// t on each.
func (b *InBuffer) BytesReverse(n int, t ValueType) []byte {
	p := b.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = byte(decodeLow(p[i], t))
	}
	return out
}

// ReadString reads bytes up to the string terminator, which is consumed.
// A missing terminator reads to the end of the payload.
func (b *InBuffer) ReadString() string {
	if b.err != nil {
		return ""
	}
	start := b.pos
	for b.pos < len(b.data) {
		c := b.data[b.pos]
		b.pos++
		if c == StringTerminator {
			return string(b.data[start : b.pos-1])
		}
	}
	return string(b.data[start:])
}
