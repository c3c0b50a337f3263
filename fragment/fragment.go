// Package fragment splits an encoded instruction into MTU-sized pieces and
// reassembles them on the receiving side, grounded on the slipstream-go
// protocol.FragmentPacket/Reassembler pattern (header layout,
// single-outstanding-set-per-id reassembly) generalized to a 16-bit
// instruction id and a packed index/final-flag header.
package fragment

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the plaintext fragment header: instruction_id(2) ||
// index_and_final(2).
const HeaderSize = 4

// ErrShortFragment is returned when a received fragment is too small to
// carry even a header.
var ErrShortFragment = errors.New("fragment: too short")

const finalFlagBit = uint16(1) << 15

// Split breaks payload into fragments of at most mtu bytes on the wire,
// after accounting for the crypto and header overhead the caller already
// reserved room for: payload here is the already-encoded instruction, and
// cap is the maximum fragment payload size (mtu - 12 - 16 - 4, computed by
// the caller). instructionID is the low 16 bits of the instruction's
// new_num.
func Split(instructionID uint16, payload []byte, cap int) [][]byte {
	if cap <= 0 {
		cap = 1
	}
	n := (len(payload) + cap - 1) / cap
	if n == 0 {
		n = 1
	}

	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		start := i * cap
		end := start + cap
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		frag := make([]byte, HeaderSize+len(chunk))
		binary.BigEndian.PutUint16(frag[0:2], instructionID)
		idx := uint16(i)
		if i == n-1 {
			idx |= finalFlagBit
		}
		binary.BigEndian.PutUint16(frag[2:4], idx)
		copy(frag[HeaderSize:], chunk)
		out[i] = frag
	}
	return out
}

// parsed is the decoded form of one fragment header.
type parsed struct {
	instructionID uint16
	index         uint16
	final         bool
	body          []byte
}

func parse(frag []byte) (parsed, error) {
	if len(frag) < HeaderSize {
		return parsed{}, ErrShortFragment
	}
	idAndFlag := binary.BigEndian.Uint16(frag[2:4])
	return parsed{
		instructionID: binary.BigEndian.Uint16(frag[0:2]),
		index:         idAndFlag &^ finalFlagBit,
		final:         idAndFlag&finalFlagBit != 0,
		body:          frag[HeaderSize:],
	}, nil
}
