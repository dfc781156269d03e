package protocol

import "fmt"

type frameStage int

const (
	stageOpcode frameStage = iota
	stageLength
	stagePayload
)

// FrameState is the partial-frame progress carried between reads. The zero
// value expects a new opcode.
type FrameState struct {
	stage  frameStage
	opcode int
	length int
	// lengthBytes is the width of a pending variable length field.
	lengthBytes int
}

// Opcode returns the opcode of the frame in progress.
func (s FrameState) Opcode() int {
	return s.opcode
}

// Idle reports whether no frame is partially decoded.
func (s FrameState) Idle() bool {
	return s.stage == stageOpcode
}

// DecodeFrame advances the frame decoder over pending and returns the new
// state, a completed packet (nil if more bytes are needed) and the number of
// bytes consumed. The keystream advances exactly once per frame, when the
// opcode byte is consumed; the decoded opcode is kept in the returned state
// so a suspended frame resumes without touching the keystream again.
func DecodeFrame(st FrameState, pending []byte, ks Keystream, sizes *SizeTable) (FrameState, *Packet, int, error) {
	consumed := 0

	if st.stage == stageOpcode {
		if len(pending) < 1 {
			return st, nil, 0, nil
		}
		st.opcode = int((uint32(pending[0]) - ks.Next()) & 0xff)
		consumed++

		switch size := sizes[st.opcode]; size {
		case VarByte:
			st.stage, st.lengthBytes = stageLength, 1
		case VarShort:
			st.stage, st.lengthBytes = stageLength, 2
		default:
			if size < 0 {
				return FrameState{}, nil, consumed, fmt.Errorf("opcode %d has invalid size %d", st.opcode, size)
			}
			st.stage, st.length = stagePayload, size
		}
	}

	if st.stage == stageLength {
		rest := pending[consumed:]
		if len(rest) < st.lengthBytes {
			return st, nil, consumed, nil
		}
		if st.lengthBytes == 1 {
			st.length = int(rest[0])
		} else {
			st.length = int(rest[0])<<8 | int(rest[1])
		}
		consumed += st.lengthBytes
		st.stage = stagePayload
	}

	rest := pending[consumed:]
	if len(rest) < st.length {
		return st, nil, consumed, nil
	}

	payload := make([]byte, st.length)
	copy(payload, rest[:st.length])
	consumed += st.length

	return FrameState{}, &Packet{Opcode: st.opcode, Length: st.length, Payload: payload}, consumed, nil
}
