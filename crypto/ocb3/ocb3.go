// Package ocb3 implements AES-128-OCB3 (RFC 7253) as a crypto/cipher.AEAD,
// the way golang.org/x/crypto/chacha20poly1305.New returns one: a plain
// constructor over a fixed key, no nonce or associated-data state of its own.
//
// There is no maintained third-party OCB3 package in the Go ecosystem this
// module could reach for (see DESIGN.md), so the mode is implemented here
// directly over the standard library's crypto/aes block cipher.
package ocb3

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"errors"
)

const (
	// NonceSize is the OCB3 nonce length used by this profile: 96 bits.
	NonceSize = 12
	// TagSize is the full 128-bit authentication tag.
	TagSize = 16

	blockSize = 16
)

var (
	ErrOpen         = errors.New("ocb3: message authentication failed")
	ErrNonceSize    = errors.New("ocb3: bad nonce length")
	ErrKeySize      = errors.New("ocb3: bad key length")
	ErrNotSupported = errors.New("ocb3: associated data is not supported by this profile")
)

type aeadOCB3 struct {
	block cipher.Block
	lStar [blockSize]byte
	lDoll [blockSize]byte
	l     [][blockSize]byte // l[i] = L_i, grown lazily
}

// New returns a cipher.AEAD implementing AES-128-OCB3 for key (must be 16
// bytes, i.e. AES-128). Associated data is not supported: callers must
// always pass an empty additionalData, since this profile never uses it.
func New(key []byte) (cipher.AEAD, error) {
	if len(key) != 16 {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	a := &aeadOCB3{block: block}
	var zero [blockSize]byte
	block.Encrypt(a.lStar[:], zero[:])
	a.lDoll = double(a.lStar)
	a.l = append(a.l, double(a.lDoll))
	return a, nil
}

func (a *aeadOCB3) NonceSize() int { return NonceSize }
func (a *aeadOCB3) Overhead() int  { return TagSize }

// Zero overwrites the cached key-derived blinding values. The AEAD is
// unusable afterwards. Implements the optional Zeroer interface that
// transport.Session.Free uses on teardown.
func (a *aeadOCB3) Zero() {
	for i := range a.lStar {
		a.lStar[i] = 0
	}
	for i := range a.lDoll {
		a.lDoll[i] = 0
	}
	for i := range a.l {
		for j := range a.l[i] {
			a.l[i][j] = 0
		}
	}
	a.block = nil
}

// Zeroer is implemented by AEADs (such as this package's) that can scrub
// their derived key material on demand.
type Zeroer interface {
	Zero()
}

// lAt returns L_i, growing the cached table as needed.
func (a *aeadOCB3) lAt(i int) [blockSize]byte {
	for len(a.l) <= i {
		a.l = append(a.l, double(a.l[len(a.l)-1]))
	}
	return a.l[i]
}

// Seal implements cipher.AEAD. additionalData must be empty.
func (a *aeadOCB3) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != NonceSize {
		panic(ErrNonceSize)
	}
	if len(additionalData) != 0 {
		panic(ErrNotSupported)
	}

	offset := a.initialOffset(nonce)
	ret, out := sliceForAppend(dst, len(plaintext)+TagSize)
	ciphertext := out[:len(plaintext)]

	var checksum [blockSize]byte
	full := len(plaintext) / blockSize
	for i := 0; i < full; i++ {
		xorBlock(&offset, a.lAt(ntz(i+1)))
		var tmp [blockSize]byte
		xorInto(tmp[:], plaintext[i*blockSize:(i+1)*blockSize], offset[:])
		a.block.Encrypt(tmp[:], tmp[:])
		xorInto(ciphertext[i*blockSize:(i+1)*blockSize], tmp[:], offset[:])
		xorInto(checksum[:], checksum[:], plaintext[i*blockSize:(i+1)*blockSize])
	}

	rem := plaintext[full*blockSize:]
	if len(rem) > 0 {
		xorBlock(&offset, a.lStar)
		var pad [blockSize]byte
		a.block.Encrypt(pad[:], offset[:])
		xorInto(ciphertext[full*blockSize:], rem, pad[:len(rem)])

		var padded [blockSize]byte
		copy(padded[:], rem)
		padded[len(rem)] = 0x80
		xorInto(checksum[:], checksum[:], padded[:])
	}

	var tagInput [blockSize]byte
	xorInto(tagInput[:], checksum[:], offset[:])
	xorInto(tagInput[:], tagInput[:], a.lDoll[:])
	var tag [blockSize]byte
	a.block.Encrypt(tag[:], tagInput[:])

	copy(out[len(plaintext):], tag[:])
	return ret
}

// Open implements cipher.AEAD. additionalData must be empty.
func (a *aeadOCB3) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, ErrNonceSize
	}
	if len(additionalData) != 0 {
		return nil, ErrNotSupported
	}
	if len(ciphertext) < TagSize {
		return nil, ErrOpen
	}

	ct := ciphertext[:len(ciphertext)-TagSize]
	gotTag := ciphertext[len(ciphertext)-TagSize:]

	offset := a.initialOffset(nonce)
	ret, out := sliceForAppend(dst, len(ct))

	var checksum [blockSize]byte
	full := len(ct) / blockSize
	for i := 0; i < full; i++ {
		xorBlock(&offset, a.lAt(ntz(i+1)))
		var tmp [blockSize]byte
		xorInto(tmp[:], ct[i*blockSize:(i+1)*blockSize], offset[:])
		a.block.Decrypt(tmp[:], tmp[:])
		xorInto(out[i*blockSize:(i+1)*blockSize], tmp[:], offset[:])
		xorInto(checksum[:], checksum[:], out[i*blockSize:(i+1)*blockSize])
	}

	rem := ct[full*blockSize:]
	if len(rem) > 0 {
		xorBlock(&offset, a.lStar)
		var pad [blockSize]byte
		a.block.Encrypt(pad[:], offset[:])
		xorInto(out[full*blockSize:], rem, pad[:len(rem)])

		var padded [blockSize]byte
		copy(padded[:], out[full*blockSize:])
		padded[len(rem)] = 0x80
		xorInto(checksum[:], checksum[:], padded[:])
	}

	var tagInput [blockSize]byte
	xorInto(tagInput[:], checksum[:], offset[:])
	xorInto(tagInput[:], tagInput[:], a.lDoll[:])
	var wantTag [blockSize]byte
	a.block.Encrypt(wantTag[:], tagInput[:])

	if subtle.ConstantTimeCompare(wantTag[:], gotTag) != 1 {
		// Zero plaintext before reporting failure: never leak a decrypted
		// buffer that failed authentication.
		for i := range out {
			out[i] = 0
		}
		return nil, ErrOpen
	}
	return ret, nil
}

// initialOffset derives Offset_0 from the 96-bit nonce, per RFC 7253 §4,
// specialised to TAGLEN=128 and a fixed 96-bit nonce (so the constant
// 7-bit tag-length prefix and the zero-padding before nonce collapse to a
// fixed 4-byte prefix of [0,0,0,1]).
func (a *aeadOCB3) initialOffset(nonce []byte) [blockSize]byte {
	var top [blockSize]byte
	top[3] = 0x01
	copy(top[4:], nonce)
	bottom := top[15] & 0x3F
	top[15] &^= 0x3F

	var ktop [blockSize]byte
	a.block.Encrypt(ktop[:], top[:])

	var stretch [blockSize + 8]byte
	copy(stretch[:blockSize], ktop[:])
	for i := 0; i < 8; i++ {
		stretch[blockSize+i] = ktop[i] ^ ktop[i+1]
	}

	var offset [blockSize]byte
	shifted := shiftLeftBits(stretch[:], int(bottom))
	copy(offset[:], shifted[:blockSize])
	return offset
}

func double(in [blockSize]byte) [blockSize]byte {
	var out [blockSize]byte
	msb := in[0] >> 7
	for i := 0; i < blockSize-1; i++ {
		out[i] = (in[i] << 1) | (in[i+1] >> 7)
	}
	out[blockSize-1] = in[blockSize-1] << 1
	if msb == 1 {
		out[blockSize-1] ^= 0x87
	}
	return out
}

// ntz returns the number of trailing zero bits of i (i >= 1), used to pick
// L_ntz(i) for the i-th full block offset per RFC 7253.
func ntz(i int) int {
	n := 0
	for i&1 == 0 {
		n++
		i >>= 1
	}
	return n
}

func xorBlock(dst *[blockSize]byte, src [blockSize]byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func xorInto(dst, a, b []byte) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dst[i] = a[i] ^ b[i]
	}
}

// shiftLeftBits left-shifts src by nbits (0..63), producing a same-length
// result; bits shifted in from beyond the end of src are zero.
func shiftLeftBits(src []byte, nbits int) []byte {
	n := len(src)
	out := make([]byte, n)
	byteShift := nbits / 8
	bitShift := uint(nbits % 8)
	for i := 0; i < n; i++ {
		srcIdx := i + byteShift
		if srcIdx >= n {
			continue
		}
		b := src[srcIdx] << bitShift
		if bitShift > 0 && srcIdx+1 < n {
			b |= src[srcIdx+1] >> (8 - bitShift)
		}
		out[i] = b
	}
	return out
}

func sliceForAppend(in []byte, n int) (head, tail []byte) {
	if total := len(in) + n; cap(in) >= total {
		head = in[:total]
	} else {
		head = make([]byte, total)
		copy(head, in)
	}
	tail = head[len(in):]
	return
}
