package ssp

import (
	"testing"

	"moshtun/wire"
)

func TestMakeInstructionAdvancesSendNum(t *testing.T) {
	s := NewSession()
	ins1, _ := s.MakeInstruction([]byte("a"), 1000)
	ins2, _ := s.MakeInstruction([]byte("b"), 1010)

	if ins1.NewNum != 0 || ins2.NewNum != 1 {
		t.Fatalf("new_num sequence = %d, %d; want 0, 1", ins1.NewNum, ins2.NewNum)
	}
	if s.PendingCount() != 2 {
		t.Fatalf("PendingCount() = %d, want 2", s.PendingCount())
	}
}

func TestMakeInstructionFieldsMatchSpec(t *testing.T) {
	s := NewSession()
	ins, _ := s.MakeInstruction([]byte("payload"), 1000)

	if ins.OldNum != -1 {
		t.Fatalf("OldNum = %d, want -1 (initial peer_ack_num)", ins.OldNum)
	}
	if ins.AckNum != -1 {
		t.Fatalf("AckNum = %d, want -1 (initial recv_num)", ins.AckNum)
	}
	if ins.ThrowawayNum != 0 {
		t.Fatalf("ThrowawayNum = %d, want 0", ins.ThrowawayNum)
	}
}

func TestIngestDeliversInOrderAndDiscardsStale(t *testing.T) {
	// Instructions with new_num = 5, 3, 7, 5, 6 arriving in that order
	// deliver 5 then 7; 3 is stale, the second 5 is a duplicate, 6 is stale
	// after 7.
	s := NewSession()
	var delivered []int64
	for _, n := range []int64{5, 3, 7, 5, 6} {
		ins := wire.Instruction{NewNum: n, AckNum: -1, Diff: []byte{byte(n)}}
		if _, ok := s.Ingest(ins, 0); ok {
			delivered = append(delivered, n)
		}
	}
	if len(delivered) != 2 || delivered[0] != 5 || delivered[1] != 7 {
		t.Fatalf("delivered sequence = %v, want [5 7]", delivered)
	}
}

func TestIngestPrunesAckedPending(t *testing.T) {
	s := NewSession()
	s.MakeInstruction([]byte("x"), 1000)
	s.MakeInstruction([]byte("y"), 1001)

	if s.PendingCount() != 2 {
		t.Fatalf("PendingCount() = %d, want 2", s.PendingCount())
	}

	s.Ingest(wire.Instruction{NewNum: 0, AckNum: 0}, 1100)
	if s.PendingCount() != 1 {
		t.Fatalf("PendingCount() after ack 0 = %d, want 1", s.PendingCount())
	}
}

func TestIngestSamplesRTTOnExactAck(t *testing.T) {
	s := NewSession()
	s.MakeInstruction([]byte("x"), 1000)

	s.Ingest(wire.Instruction{NewNum: 0, AckNum: 0}, 1100)

	got := s.SRTTMs()
	if got < 84 || got > 116 {
		t.Fatalf("SRTTMs() = %v, want approx 100", got)
	}
}

func TestTickRetransmitsWithIncreasingTries(t *testing.T) {
	s := NewSession()
	s.MakeInstruction([]byte("x"), 0)

	rto := int64(s.RTOMs())

	for i, at := range []int64{rto, 2 * rto, 3 * rto} {
		retrans, _ := s.Tick(at)
		if len(retrans) != 1 {
			t.Fatalf("tick %d: got %d retransmits, want 1", i, len(retrans))
		}
	}
	if s.pending.entries[0].tries != 4 {
		t.Fatalf("tries = %d, want 4", s.pending.entries[0].tries)
	}
}

func TestTickStopsRetransmittingOnceAcked(t *testing.T) {
	s := NewSession()
	s.MakeInstruction([]byte("x"), 0)
	s.Ingest(wire.Instruction{NewNum: 0, AckNum: 0}, 50)

	rto := int64(s.RTOMs())
	retrans, _ := s.Tick(rto)
	if len(retrans) != 0 {
		t.Fatalf("expected no retransmits once acked, got %d", len(retrans))
	}
}

func TestTickEmitsHeartbeatAfterIdle(t *testing.T) {
	s := NewSession()
	s.MakeInstruction([]byte("x"), 0)

	_, hb := s.Tick(2999)
	if hb != nil {
		t.Fatal("expected no heartbeat before 3000ms idle")
	}
	_, hb = s.Tick(3000)
	if hb == nil {
		t.Fatal("expected heartbeat at 3000ms idle")
	}
}

func TestTickSuppressesHeartbeatWhenRetransmitDue(t *testing.T) {
	s := NewSession()
	s.MakeInstruction([]byte("x"), 0)

	// At 3100ms the pending entry is both overdue for retransmit (rto is
	// 250ms by default) and the heartbeat interval has elapsed, but a tick
	// must only ever emit one of the two.
	retrans, hb := s.Tick(3100)
	if len(retrans) != 1 {
		t.Fatalf("got %d retransmits, want 1", len(retrans))
	}
	if hb != nil {
		t.Fatal("expected no heartbeat when a retransmit already fired this tick")
	}
}

func TestTickNoHeartbeatBeforeFirstSend(t *testing.T) {
	s := NewSession()
	_, hb := s.Tick(10000)
	if hb != nil {
		t.Fatal("expected no heartbeat before any send_data call")
	}
}
