package transport

import (
	"bytes"
	"encoding/binary"
	"testing"

	"moshtun/crypto"
	"moshtun/fragment"
	"moshtun/wire"
)

const testKeyB64 = "4NeCCgvZFe2RnPgrcU1PQw"

// serverPeer stands in for the remote mosh server: it decrypts client-role
// packets and can build and encrypt server-role instructions of its own,
// since transport.Session is always the client role.
type serverPeer struct {
	codec *crypto.Codec
}

func newServerPeer(t *testing.T) *serverPeer {
	t.Helper()
	codec, err := crypto.NewCodec(testKeyB64, crypto.RoleServer)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return &serverPeer{codec: codec}
}

func (p *serverPeer) decrypt(t *testing.T, packet []byte) wire.Instruction {
	t.Helper()
	plain, err := p.codec.Open(packet)
	if err != nil {
		t.Fatalf("server Open: %v", err)
	}
	ins, err := wire.Unmarshal(plain[fragment.HeaderSize:])
	if err != nil {
		t.Fatalf("server Unmarshal: %v", err)
	}
	return ins
}

// send fragments and encrypts ins as a server-role instruction addressed to
// the client, the way transport.Session.sealFragments does for the other
// direction.
func (p *serverPeer) send(t *testing.T, instructionID uint16, ins wire.Instruction, mtu int) [][]byte {
	t.Helper()
	encoded := wire.Marshal(nil, ins)
	frags := fragment.Split(instructionID, encoded, mtu-overhead)

	out := make([][]byte, 0, len(frags))
	for _, f := range frags {
		sealed, err := p.codec.Seal(f)
		if err != nil {
			t.Fatalf("server Seal: %v", err)
		}
		out = append(out, sealed)
	}
	return out
}

func TestScenario1FirstPacketShape(t *testing.T) {
	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payloads, err := s.SendData([]byte{0x41, 0x42, 0x43}, 1000)
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(payloads))
	}
	pkt := payloads[0]
	if len(pkt) > 500 {
		t.Fatalf("packet length %d exceeds mtu 500", len(pkt))
	}
	if len(pkt) < 12 {
		t.Fatal("packet too short to carry a nonce")
	}
	field := binary.BigEndian.Uint64(pkt[4:12])
	if field&(uint64(1)<<63) != 0 {
		t.Fatal("expected role bit 0 (client) on first packet")
	}
	if field&^(uint64(1)<<63) != 0 {
		t.Fatal("expected counter 0 on first packet")
	}
}

func TestScenario2RoundTripSetsAckAndSamplesRTT(t *testing.T) {
	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	peer := newServerPeer(t)

	payloads, err := s.SendData([]byte{0x41, 0x42, 0x43}, 1000)
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	sent := peer.decrypt(t, payloads[0])

	reply := peer.send(t, 0, wire.Instruction{
		OldNum: -1,
		NewNum: 0,
		AckNum: sent.NewNum,
	}, 500)

	if _, err := s.RecvUDP(reply[0], 1100); err != nil {
		t.Fatalf("RecvUDP: %v", err)
	}

	stats := s.GetStats()
	if stats.PendingCount != 0 {
		t.Fatalf("PendingCount = %d, want 0", stats.PendingCount)
	}
	if stats.SRTTMs < 84 || stats.SRTTMs > 116 {
		t.Fatalf("SRTTMs = %v, want approx 100", stats.SRTTMs)
	}
}

func TestScenario3HeartbeatAfterIdle(t *testing.T) {
	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	peer := newServerPeer(t)
	sent, err := s.SendData([]byte("x"), 0)
	if err != nil {
		t.Fatalf("SendData: %v", err)
	}
	// The peer acks instruction 0, so nothing is due for retransmission at
	// the idle tick below and its one payload is the heartbeat.
	ack := peer.send(t, 0, wire.Instruction{
		OldNum: -1,
		NewNum: 0,
		AckNum: peer.decrypt(t, sent[0]).NewNum,
	}, 500)
	if _, err := s.RecvUDP(ack[0], 100); err != nil {
		t.Fatalf("RecvUDP: %v", err)
	}
	before := s.GetStats().SendNum

	payloads, err := s.Tick(3100)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads from heartbeat tick, want 1", len(payloads))
	}
	after := s.GetStats().SendNum
	if after != before+1 {
		t.Fatalf("SendNum went from %d to %d, want +1", before, after)
	}
}

func TestScenario4RetransmissionWithIncreasingTries(t *testing.T) {
	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.SendData([]byte("x"), 0); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	rto := int64(s.GetStats().RTOMs)
	for i, at := range []int64{rto, 2 * rto, 3 * rto} {
		payloads, err := s.Tick(at)
		if err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
		if len(payloads) != 1 {
			t.Fatalf("tick %d: got %d payloads, want 1", i, len(payloads))
		}
	}
}

func TestScenario5FragmentationAndLossTolerance(t *testing.T) {
	peer := newServerPeer(t)
	payload := bytes.Repeat([]byte{0x7A}, 2000)
	ins := wire.Instruction{OldNum: -1, NewNum: 0, AckNum: -1, Diff: payload}

	packets := peer.send(t, 0, ins, 500)
	if len(packets) < 5 {
		t.Fatalf("got %d packets, want >= 5", len(packets))
	}

	// Dropping any single packet prevents delivery.
	withDrop, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i, p := range packets {
		if i == len(packets)/2 {
			continue
		}
		if _, err := withDrop.RecvUDP(p, 0); err != nil {
			t.Fatalf("RecvUDP: %v", err)
		}
	}
	if withDrop.HasPendingRead() {
		t.Fatal("expected no delivery with a fragment missing")
	}

	// Delivering all fragments, out of order, yields exactly one delivery.
	full, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	shuffled := append([][]byte(nil), packets...)
	for i := len(shuffled) - 1; i >= 0; i-- {
		j := (i * 7) % len(shuffled)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	for _, p := range shuffled {
		if _, err := full.RecvUDP(p, 0); err != nil {
			t.Fatalf("RecvUDP: %v", err)
		}
	}
	if !full.HasPendingRead() {
		t.Fatal("expected delivery once all fragments arrive")
	}
	got := full.ReadPending()
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestScenario6CorruptedTagRejected(t *testing.T) {
	peer := newServerPeer(t)
	packets := peer.send(t, 0, wire.Instruction{OldNum: -1, NewNum: 0, AckNum: -1, Diff: []byte("hello")}, 500)

	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	corrupt := append([]byte(nil), packets[0]...)
	corrupt[len(corrupt)-1] ^= 0xFF

	if _, err := s.RecvUDP(corrupt, 0); err != ErrCrypto {
		t.Fatalf("RecvUDP = %v, want ErrCrypto", err)
	}
	if s.HasPendingRead() {
		t.Fatal("expected no state change after a rejected packet")
	}
}

func TestRecvUDPRejectsReplay(t *testing.T) {
	peer := newServerPeer(t)
	packets := peer.send(t, 0, wire.Instruction{OldNum: -1, NewNum: 0, AckNum: -1, Diff: []byte("x")}, 500)

	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.RecvUDP(packets[0], 0); err != nil {
		t.Fatalf("first RecvUDP: %v", err)
	}
	if _, err := s.RecvUDP(packets[0], 1); err != ErrCrypto {
		t.Fatalf("replayed RecvUDP = %v, want ErrCrypto", err)
	}
}

func TestSendDataRejectsOverPendingCap(t *testing.T) {
	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 1024; i++ {
		if _, err := s.SendData([]byte("x"), int64(i)); err != nil {
			t.Fatalf("SendData %d: %v", i, err)
		}
	}
	if _, err := s.SendData([]byte("x"), 1024); err != ErrOverflow {
		t.Fatalf("SendData at cap = %v, want ErrOverflow", err)
	}
	if s.GetStats().PendingCount != 1024 {
		t.Fatalf("PendingCount = %d, want 1024 (rejected send must not grow the pending set)", s.GetStats().PendingCount)
	}
}

func TestFreeMakesSessionUnusable(t *testing.T) {
	s, err := New(testKeyB64, 500)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Free()

	defer func() {
		if recover() == nil {
			t.Fatal("expected SendData to panic on a freed session")
		}
	}()
	s.SendData([]byte("x"), 0)
}

func TestNewRejectsBadKey(t *testing.T) {
	if _, err := New("not-a-key", 500); err != ErrKey {
		t.Fatalf("New = %v, want ErrKey", err)
	}
}

func TestNewDefaultsMTU(t *testing.T) {
	s, err := New(testKeyB64, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.mtu != DefaultMTU {
		t.Fatalf("mtu = %d, want %d", s.mtu, DefaultMTU)
	}
}
