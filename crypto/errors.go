package crypto

import "errors"

var (
	// ErrKey is returned by NewCodec when the supplied key material is malformed.
	ErrKey = errors.New("crypto: malformed key")
	// ErrCrypto covers every packet-level failure: bad tag, wrong role bit,
	// or a nonce outside the accepted replay window.
	ErrCrypto = errors.New("crypto: packet rejected")
)
