package uacrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// Key material lengths for the AES-256 / HMAC-SHA256 policies.
const (
	SigningKeyLength    = 32
	EncryptingKeyLength = 32
	IVLength            = 16
)

// Keys is the symmetric key set of one direction of a channel.
type Keys struct {
	SigningKey    []byte
	EncryptingKey []byte
	IV            []byte
}

// DeriveKeys expands secret (the shared channel secret) and nonce into a key
// set using HKDF-SHA256. info separates directions, e.g. "client" / "server".
func DeriveKeys(secret, nonce []byte, info string) (Keys, error) {
	if len(secret) == 0 {
		return Keys{}, uaerrors.NewSecurityError("derive", io.ErrUnexpectedEOF)
	}
	r := hkdf.New(sha256.New, secret, nonce, []byte(info))
	buf := make([]byte, SigningKeyLength+EncryptingKeyLength+IVLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Keys{}, uaerrors.NewSecurityError("derive", err)
	}
	return Keys{
		SigningKey:    buf[:SigningKeyLength],
		EncryptingKey: buf[SigningKeyLength : SigningKeyLength+EncryptingKeyLength],
		IV:            buf[SigningKeyLength+EncryptingKeyLength:],
	}, nil
}

// EncryptingKey32 returns the encrypting key as the fixed array noise expects.
func (k Keys) EncryptingKey32() [32]byte {
	var out [32]byte
	copy(out[:], k.EncryptingKey)
	return out
}
