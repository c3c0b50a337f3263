package transport

import "errors"

// The error taxonomy this package exposes, as sentinel values meant to be
// compared with errors.Is.
var (
	// ErrKey is returned by New when the key material is malformed.
	// Fail-closed: surfaced at construction only.
	ErrKey = errors.New("transport: malformed key")

	// ErrCrypto is returned by RecvUDP on AEAD tag mismatch, a nonce role-bit
	// mismatch, or a nonce outside the accepted replay window (too far
	// behind, or already seen). Fail-open: the caller logs and continues,
	// session state unchanged.
	ErrCrypto = errors.New("transport: packet rejected")

	// ErrOverflow is returned by SendData when the pending-unacked set is
	// already at ssp.PendingCap: the caller should hold data in its own
	// buffer and retry once outstanding instructions are acked, rather than
	// let an unresponsive peer grow this session's retransmit queue
	// without bound.
	ErrOverflow = errors.New("transport: pending cap exceeded")
)
