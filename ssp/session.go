// Package ssp implements the State Synchronization Protocol state machine:
// send/recv instruction numbers, the pending-unacked set, the RTT
// estimator, and the decisions of what to emit on send, receive, and tick.
// It owns no crypto or fragmentation; transport.Session wires those in
// around it.
package ssp

import "moshtun/wire"

// Window bounds how far behind recv_num a throwaway_num may still lag:
// throwaway_num = max(0, recv_num - Window).
const Window = 1024

// InstructionMax caps how many tx bytes one instruction may carry.
const InstructionMax = 16384

// PendingCap is the bound on concurrently unacked outbound instructions.
// Implementations SHOULD refuse new sends past this cap rather than let
// the pending set grow without bound while the peer is unresponsive.
const PendingCap = 1024

// HeartbeatIntervalMs is the idle period after which Tick emits an
// empty-diff heartbeat instruction.
const HeartbeatIntervalMs = 3000

// Session is the SSP state machine for one direction-pair. Not safe for
// concurrent use; callers serialize access under a single-threaded
// cooperative model.
type Session struct {
	sendNum int64
	recvNum int64
	peerAck int64

	pending pendingSet
	rtt     *rttEstimator

	hasSent    bool
	lastSendMs int64
}

// NewSession returns a freshly constructed SSP state machine: send_num=0,
// recv_num=-1, peer_ack_num=-1.
func NewSession() *Session {
	return &Session{
		recvNum: -1,
		peerAck: -1,
		rtt:     newRTTEstimator(),
	}
}

// SendNum returns the next outgoing new_num.
func (s *Session) SendNum() int64 { return s.sendNum }

// RecvNum returns the highest in-order new_num accepted from the peer.
func (s *Session) RecvNum() int64 { return s.recvNum }

// PeerAckNum returns the highest ack_num the peer has sent us.
func (s *Session) PeerAckNum() int64 { return s.peerAck }

// PendingCount reports the number of not-yet-acked outbound instructions.
func (s *Session) PendingCount() int { return s.pending.len() }

// SRTTMs returns the current smoothed RTT estimate, 0 before any sample.
func (s *Session) SRTTMs() float64 { return s.rtt.srtt() }

// RTOMs returns the current retransmission timeout.
func (s *Session) RTOMs() float64 { return s.rtt.rto() }

// MakeInstruction builds and encodes a new outbound instruction carrying
// diff. It advances send_num and records a pending entry so Tick can
// retransmit it. Returns
// both the logical record (for callers that want its fields, e.g. stats)
// and its protobuf-wire encoding, ready for fragmentation.
func (s *Session) MakeInstruction(diff []byte, nowMs int64) (wire.Instruction, []byte) {
	newNum := s.sendNum
	s.sendNum++

	throwaway := s.recvNum - Window
	if throwaway < 0 {
		throwaway = 0
	}

	ins := wire.Instruction{
		OldNum:       s.peerAck,
		NewNum:       newNum,
		AckNum:       s.recvNum,
		ThrowawayNum: throwaway,
		Diff:         diff,
	}
	encoded := wire.Marshal(nil, ins)

	s.pending.add(pendingEntry{
		newNum:     newNum,
		sendTimeMs: nowMs,
		payload:    encoded,
		tries:      1,
	})
	s.hasSent = true
	s.lastSendMs = nowMs

	return ins, encoded
}

// Ingest processes a successfully decrypted-and-reassembled instruction
// from the peer. It returns the diff to append to the rx buffer and
// whether it was newly delivered: a stale or duplicate new_num yields
// (nil, false) but its ack_num is still honored.
func (s *Session) Ingest(ins wire.Instruction, nowMs int64) (diff []byte, delivered bool) {
	// Karn's algorithm: only sample RTT from an instruction whose ack_num
	// exactly matches a pending entry that was never retransmitted, before
	// that entry is pruned below.
	for _, e := range s.pending.entries {
		if e.newNum == ins.AckNum && e.tries == 1 {
			s.rtt.sample(float64(nowMs - e.sendTimeMs))
			break
		}
	}

	if ins.AckNum > s.peerAck {
		s.peerAck = ins.AckNum
	}
	s.pending.pruneAcked(s.peerAck)

	if ins.NewNum <= s.recvNum {
		return nil, false
	}
	s.recvNum = ins.NewNum
	return ins.Diff, true
}

// Retransmit pairs an encoded instruction with the new_num it carries, so
// the caller can derive the fragment header's instruction_id (the low 16
// bits of new_num) without re-parsing the wire bytes.
type Retransmit struct {
	NewNum  int64
	Payload []byte
}

// Tick returns retransmit entries for every pending instruction whose
// send_time is at least rto() ms in the past, and, if none of those fired
// and no instruction has been sent in HeartbeatIntervalMs ms, a freshly
// built empty-diff heartbeat entry. heartbeat is nil when none is due. A
// retransmit already reaches the peer this tick, so it substitutes for the
// heartbeat rather than racing it: the two are never both due in a single
// Tick call.
func (s *Session) Tick(nowMs int64) (retransmits []Retransmit, heartbeat *Retransmit) {
	rtoMs := int64(s.rtt.rto())
	for _, e := range s.pending.dueForRetransmit(nowMs, rtoMs) {
		retransmits = append(retransmits, Retransmit{NewNum: e.newNum, Payload: e.payload})
	}

	if len(retransmits) == 0 && s.hasSent && nowMs-s.lastSendMs >= HeartbeatIntervalMs {
		ins, encoded := s.MakeInstruction(nil, nowMs)
		heartbeat = &Retransmit{NewNum: ins.NewNum, Payload: encoded}
	}
	return retransmits, heartbeat
}
