// Package crypto implements a fixed AES-128-OCB3 key plus a per-direction
// nonce counter, wrapped the way golang.org/x/crypto's
// chacha20poly1305.New is conventionally wrapped behind a Nonce +
// StrictCounter pair — here specialised to one role, one peer, one AEAD,
// since this is a client-only core with no rekeying.
package crypto

import (
	"crypto/cipher"
	"encoding/base64"

	"moshtun/crypto/ocb3"
)

// Codec is the session's Crypto component: Seal advances the local send
// counter and emits a full UDP payload (nonce || ciphertext || tag); Open
// validates the peer's role bit and checks the nonce counter against the
// replay window before decrypting.
type Codec struct {
	aead      cipher.AEAD
	localRole Role
	peerRole  Role
	send      sendCounter
	recv      *recvGuard
}

// NewCodec builds a Codec from a 22-character base64 token decoding to a
// 16-byte AES-128 key. localRole is this endpoint's direction; the peer's
// role is always the opposite bit.
func NewCodec(keyB64 string, localRole Role) (*Codec, error) {
	// mosh's 22-character session key has no '=' padding (22 base64 chars
	// is exactly 128 bits with 4 trailing zero pad bits), so RawStdEncoding
	// is the primary decoder; StdEncoding is accepted too for keys supplied
	// with explicit padding.
	key, err := base64.RawStdEncoding.DecodeString(keyB64)
	if err != nil || len(key) != 16 {
		if padded, padErr := base64.StdEncoding.DecodeString(keyB64); padErr == nil && len(padded) == 16 {
			key, err = padded, nil
		}
	}
	if err != nil || len(key) != 16 {
		return nil, ErrKey
	}

	aead, err := ocb3.New(key)
	if err != nil {
		return nil, ErrKey
	}

	peer := RoleServer
	if localRole == RoleServer {
		peer = RoleClient
	}

	return &Codec{
		aead:      aead,
		localRole: localRole,
		peerRole:  peer,
		recv:      newRecvGuard(),
	}, nil
}

// Seal encrypts plaintext and returns a full UDP payload: 12-byte nonce
// followed by OCB3 ciphertext-and-tag. Advances the local nonce counter.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	counter, err := c.send.take()
	if err != nil {
		return nil, ErrCrypto
	}

	out := make([]byte, ocb3.NonceSize, ocb3.NonceSize+len(plaintext)+ocb3.TagSize)
	encodeNonce(out, c.localRole, counter)
	nonce := out[:ocb3.NonceSize]

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	return append(out, sealed...), nil
}

// Open parses the wire nonce, rejects anything not from the peer's role or
// outside the accepted replay window, then decrypts.
func (c *Codec) Open(packet []byte) ([]byte, error) {
	if len(packet) < ocb3.NonceSize+ocb3.TagSize {
		return nil, ErrCrypto
	}
	nonce := packet[:ocb3.NonceSize]
	role, counter := decodeNonce(nonce)
	if role != c.peerRole {
		return nil, ErrCrypto
	}
	if !c.recv.check(counter) {
		return nil, ErrCrypto
	}

	plaintext, err := c.aead.Open(nil, nonce, packet[ocb3.NonceSize:], nil)
	if err != nil {
		return nil, ErrCrypto
	}
	c.recv.accept(counter)
	return plaintext, nil
}

// Zero scrubs the underlying cipher's derived key material. After this
// call the Codec is unusable.
func (c *Codec) Zero() {
	if z, ok := c.aead.(ocb3.Zeroer); ok {
		z.Zero()
	}
}
