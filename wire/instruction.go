// Package wire encodes and decodes the Instruction record in protocol-buffers
// wire format, using google.golang.org/protobuf/encoding/protowire directly
// rather than generated message code: there is no .proto file for this
// profile, and protowire gives byte-exact field framing without a codegen
// step.
package wire

import (
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers must match the reference mosh server.
const (
	fieldOldNum       protowire.Number = 1
	fieldNewNum       protowire.Number = 2
	fieldAckNum       protowire.Number = 3
	fieldThrowawayNum protowire.Number = 4
	fieldDiff         protowire.Number = 5
	fieldChaff        protowire.Number = 6
)

// ErrMalformed is returned by Unmarshal when the input is not a well-formed
// encoding of an Instruction.
var ErrMalformed = errors.New("wire: malformed instruction")

// Instruction is the SSP record exchanged between client and server. Diff
// carries the opaque tunneled payload; Chaff is optional padding the
// client never sets but must tolerate on decode.
type Instruction struct {
	OldNum       int64
	NewNum       int64
	AckNum       int64
	ThrowawayNum int64
	Diff         []byte
	Chaff        []byte
}

// Marshal appends the protobuf wire encoding of ins to dst and returns the
// extended slice. Zero-valued numeric fields and an empty diff are still
// emitted: mosh instructions are small and fixed-shape, so omitting defaults
// buys nothing and would complicate byte-exact interop. Chaff is emitted only
// when non-empty.
func Marshal(dst []byte, ins Instruction) []byte {
	dst = protowire.AppendTag(dst, fieldOldNum, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(ins.OldNum))
	dst = protowire.AppendTag(dst, fieldNewNum, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(ins.NewNum))
	dst = protowire.AppendTag(dst, fieldAckNum, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(ins.AckNum))
	dst = protowire.AppendTag(dst, fieldThrowawayNum, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(ins.ThrowawayNum))
	dst = protowire.AppendTag(dst, fieldDiff, protowire.BytesType)
	dst = protowire.AppendBytes(dst, ins.Diff)
	if len(ins.Chaff) > 0 {
		dst = protowire.AppendTag(dst, fieldChaff, protowire.BytesType)
		dst = protowire.AppendBytes(dst, ins.Chaff)
	}
	return dst
}

// Unmarshal parses buf into an Instruction. Unknown fields are skipped
// (forward compatible with a server that adds fields this client ignores).
func Unmarshal(buf []byte) (Instruction, error) {
	var ins Instruction
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return Instruction{}, ErrMalformed
		}
		buf = buf[n:]

		switch num {
		case fieldOldNum, fieldNewNum, fieldAckNum, fieldThrowawayNum:
			if typ != protowire.VarintType {
				return Instruction{}, ErrMalformed
			}
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return Instruction{}, ErrMalformed
			}
			buf = buf[n:]
			switch num {
			case fieldOldNum:
				ins.OldNum = int64(v)
			case fieldNewNum:
				ins.NewNum = int64(v)
			case fieldAckNum:
				ins.AckNum = int64(v)
			case fieldThrowawayNum:
				ins.ThrowawayNum = int64(v)
			}
		case fieldDiff, fieldChaff:
			if typ != protowire.BytesType {
				return Instruction{}, ErrMalformed
			}
			b, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return Instruction{}, ErrMalformed
			}
			buf = buf[n:]
			if num == fieldDiff {
				ins.Diff = append([]byte(nil), b...)
			} else {
				ins.Chaff = append([]byte(nil), b...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return Instruction{}, ErrMalformed
			}
			buf = buf[n:]
		}
	}
	return ins, nil
}

