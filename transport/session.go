// Package transport is the session orchestrator: the public facade wiring
// crypto, fragmentation, the SSP state machine, and the stream buffers
// into a synchronous, caller-driven API with no internal concurrency.
package transport

import (
	"moshtun/crypto"
	"moshtun/fragment"
	"moshtun/ssp"
	"moshtun/stream"
	"moshtun/wire"
)

// DefaultMTU is used when New is called with mtu=0.
const DefaultMTU = 500

// overhead is the non-payload bytes every UDP packet carries: 12-byte
// nonce, 16-byte OCB3 tag, 4-byte fragment header.
const overhead = 12 + 16 + 4

// Session is the client-side tunnel core: construct with a key and MTU,
// feed it inbound UDP datagrams and outbound application bytes, call Tick
// on a host timer, and read delivered bytes back out.
type Session struct {
	codec       *crypto.Codec
	mtu         int
	ssp         *ssp.Session
	stream      *stream.Channel
	reassembler *fragment.Reassembler

	totalSentBytes uint64
	totalRecvBytes uint64
}

// New constructs a Session from a base64 key and an MTU (0 selects
// DefaultMTU). Returns ErrKey if the key is malformed.
func New(keyB64 string, mtu uint16) (*Session, error) {
	codec, err := crypto.NewCodec(keyB64, crypto.RoleClient)
	if err != nil {
		return nil, ErrKey
	}
	if mtu == 0 {
		mtu = DefaultMTU
	}
	return &Session{
		codec:       codec,
		mtu:         int(mtu),
		ssp:         ssp.NewSession(),
		stream:      stream.NewChannel(),
		reassembler: fragment.NewReassembler(),
	}, nil
}

// RecvUDP processes one inbound UDP datagram. On success it returns the
// bytes newly delivered to the rx buffer by this datagram (nil if the
// datagram only advanced a partial fragment set, or if its instruction was
// stale/duplicate). A decryption failure returns ErrCrypto and leaves all
// session state unchanged. A malformed fragment or instruction is dropped
// silently.
func (s *Session) RecvUDP(packet []byte, nowMs int64) ([]byte, error) {
	plaintext, err := s.codec.Open(packet)
	if err != nil {
		return nil, ErrCrypto
	}

	assembled, complete, err := s.reassembler.Ingest(plaintext)
	if err != nil || !complete {
		return nil, nil
	}

	ins, err := wire.Unmarshal(assembled)
	if err != nil {
		return nil, nil
	}

	diff, delivered := s.ssp.Ingest(ins, nowMs)
	if !delivered {
		return nil, nil
	}
	s.stream.PushRx(diff)
	s.totalRecvBytes += uint64(len(diff))
	return diff, nil
}

// SendData appends data to the tx buffer, immediately builds one
// instruction from the front of that buffer (up to ssp.InstructionMax
// bytes), and returns its encrypted, fragmented UDP payloads. Returns
// ErrOverflow without consuming any tx bytes if the pending-unacked set is
// already at ssp.PendingCap.
func (s *Session) SendData(data []byte, nowMs int64) ([][]byte, error) {
	if s.ssp.PendingCount() >= ssp.PendingCap {
		return nil, ErrOverflow
	}

	s.stream.PushTx(data)
	drained := s.stream.DrainTx(ssp.InstructionMax)

	ins, encoded := s.ssp.MakeInstruction(drained, nowMs)
	s.totalSentBytes += uint64(len(drained))
	return s.sealFragments(ins.NewNum, encoded)
}

// Tick drives retransmission and heartbeat emission.
func (s *Session) Tick(nowMs int64) ([][]byte, error) {
	retransmits, heartbeat := s.ssp.Tick(nowMs)

	var out [][]byte
	for _, r := range retransmits {
		frags, err := s.sealFragments(r.NewNum, r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, frags...)
	}
	if heartbeat != nil {
		frags, err := s.sealFragments(heartbeat.NewNum, heartbeat.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, frags...)
	}
	return out, nil
}

// sealFragments splits an encoded instruction into MTU-sized fragments and
// encrypts each one into a standalone UDP payload.
func (s *Session) sealFragments(newNum int64, encoded []byte) ([][]byte, error) {
	perFragCap := s.mtu - overhead
	instructionID := uint16(newNum)
	frags := fragment.Split(instructionID, encoded, perFragCap)

	out := make([][]byte, 0, len(frags))
	for _, f := range frags {
		sealed, err := s.codec.Seal(f)
		if err != nil {
			return nil, err
		}
		out = append(out, sealed)
	}
	return out, nil
}

// ReadPending drains and returns everything currently buffered for the
// host to consume.
func (s *Session) ReadPending() []byte {
	return s.stream.ReadRx()
}

// HasPendingRead reports whether ReadPending would return anything.
func (s *Session) HasPendingRead() bool {
	return s.stream.HasPendingRx()
}

// GetStats returns a snapshot of the session's live state.
func (s *Session) GetStats() Stats {
	return Stats{
		SRTTMs:         s.ssp.SRTTMs(),
		RTOMs:          uint32(s.ssp.RTOMs()),
		SendNum:        s.ssp.SendNum(),
		RecvNum:        s.ssp.RecvNum(),
		PendingCount:   uint32(s.ssp.PendingCount()),
		TotalSentBytes: s.totalSentBytes,
		TotalRecvBytes: s.totalRecvBytes,
	}
}

// Free zeroes the OCB3 key-derived values and drops the AES block cipher.
// After this call the Session is unusable.
func (s *Session) Free() {
	s.codec.Zero()
}
