// Package protocol implements the wire codec of the game client protocol:
// fixed-capacity output buffers with obfuscated headers, payload readers,
// the incremental frame decoder and the opcode tables. Integers are written
// with one of four value transforms and four byte orders, chosen per field
// to match what the client expects.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferOverflow is recorded when a write exceeds the buffer capacity.
	ErrBufferOverflow = errors.New("protocol: buffer overflow")

	// ErrBufferUnderflow is recorded when a read runs past the payload.
	ErrBufferUnderflow = errors.New("protocol: buffer underflow")

	// ErrUnsupportedOrder is recorded when a byte order is used on a width
	// the client never encodes that way.
	ErrUnsupportedOrder = errors.New("protocol: unsupported byte order")

	// ErrPayloadTooLarge is recorded when a variable frame body does not fit
	// its length field.
	ErrPayloadTooLarge = errors.New("protocol: payload too large for length field")

	// ErrNoFrame is recorded when a variable header is finished without
	// having been started.
	ErrNoFrame = errors.New("protocol: no variable frame open")
)

// Keystream is a source of opcode obfuscation words. An *isaac.Cipher
// satisfies it.
type Keystream interface {
	Next() uint32
}

// Option selects how an integer is encoded. ValueType and ByteOrder both
// implement it, so calls read like PutShort(v, A, Little).
type Option interface {
	apply(*encoding)
}

// ValueType transforms the low byte of an integer.
type ValueType int

const (
	// Normal writes the byte unchanged.
	Normal ValueType = iota
	// A adds 128.
	A
	// C negates.
	C
	// S subtracts from 128.
	S
)

var valueTypeNames = map[ValueType]string{
	Normal: "normal",
	A:      "a",
	C:      "c",
	S:      "s",
}

func (t ValueType) String() string {
	if s, ok := valueTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("value_type(%d)", int(t))
}

func (t ValueType) apply(e *encoding) { e.value = t }

// ByteOrder selects the order multi-byte integers are laid out in.
type ByteOrder int

const (
	// Big is most significant byte first.
	Big ByteOrder = iota
	// Little is least significant byte first.
	Little
	// Middle lays an int out as bytes 2,1,4,3 (1 = most significant).
	Middle
	// InverseMiddle lays an int out as bytes 3,4,1,2.
	InverseMiddle
)

var byteOrderNames = map[ByteOrder]string{
	Big:           "big",
	Little:        "little",
	Middle:        "middle",
	InverseMiddle: "inverse_middle",
}

func (o ByteOrder) String() string {
	if s, ok := byteOrderNames[o]; ok {
		return s
	}
	return fmt.Sprintf("byte_order(%d)", int(o))
}

func (o ByteOrder) apply(e *encoding) { e.order = o }

type encoding struct {
	value ValueType
	order ByteOrder
}

func resolve(opts []Option) encoding {
	var e encoding
	for _, o := range opts {
		if o != nil {
			o.apply(&e)
		}
	}
	return e
}

// encodeLow applies a write-side transform to a byte.
func encodeLow(v int, t ValueType) byte {
	switch t {
	case A:
		return byte(v + 128)
	case C:
		return byte(-v)
	case S:
		return byte(128 - v)
	default:
		return byte(v)
	}
}

// decodeLow undoes encodeLow and returns the raw 0-255 value.
func decodeLow(b byte, t ValueType) int {
	v := int(b)
	switch t {
	case A:
		v -= 128
	case C:
		v = -v
	case S:
		v = 128 - v
	}
	return v & 0xff
}
