package uacrypto

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/flynn/noise"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// NoiseTagSize is the AEAD tag appended to each encrypted block.
const NoiseTagSize = 16

// ErrUnknownCipher is returned for a cipher name NoiseCipherByName does not know.
var ErrUnknownCipher = errors.New("unknown noise cipher")

// NoiseCipherByName maps "aesgcm" / "chachapoly" to the noise cipher function.
func NoiseCipherByName(name string) (noise.CipherFunc, error) {
	switch name {
	case "aesgcm", "AESGCM":
		return noise.CipherAESGCM, nil
	case "chachapoly", "ChaChaPoly":
		return noise.CipherChaChaPoly, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
}

// NoiseCrypter seals each plain block independently with a noise AEAD cipher,
// so a plain block of N bytes becomes a cipher block of N+NoiseTagSize bytes.
// Nonces are drawn from a shared counter, which keeps them unique across every
// chunk of every message that uses the same crypter.
type NoiseCrypter struct {
	c         noise.Cipher
	plainSize int
	nonce     atomic.Uint64
}

// NewNoiseCrypter returns a crypter over blocks of plainBlockSize bytes.
func NewNoiseCrypter(fn noise.CipherFunc, key [32]byte, plainBlockSize int) (*NoiseCrypter, error) {
	if plainBlockSize <= 0 {
		return nil, uaerrors.NewSecurityError("noise.new", fmt.Errorf("plain block size %d", plainBlockSize))
	}
	return &NoiseCrypter{c: fn.Cipher(key), plainSize: plainBlockSize}, nil
}

// PlainBlockSize returns the plaintext block size.
func (n *NoiseCrypter) PlainBlockSize() int { return n.plainSize }

// CipherBlockSize returns the ciphertext block size.
func (n *NoiseCrypter) CipherBlockSize() int { return n.plainSize + NoiseTagSize }

// Encrypt seals plain block by block.
func (n *NoiseCrypter) Encrypt(plain []byte) ([]byte, error) {
	if len(plain)%n.plainSize != 0 {
		return nil, uaerrors.NewSecurityError("noise.encrypt", fmt.Errorf("length %d not a multiple of %d", len(plain), n.plainSize))
	}
	blocks := len(plain) / n.plainSize
	first := n.nonce.Add(uint64(blocks)) - uint64(blocks)
	out := make([]byte, 0, blocks*n.CipherBlockSize())
	for i := 0; i < blocks; i++ {
		out = n.c.Encrypt(out, first+uint64(i), nil, plain[i*n.plainSize:(i+1)*n.plainSize])
	}
	return out, nil
}

// Decrypt opens ct block by block. Nonces are consumed in the same order as
// Encrypt, so a receiving crypter must see chunks in emission order.
func (n *NoiseCrypter) Decrypt(ct []byte) ([]byte, error) {
	cb := n.CipherBlockSize()
	if len(ct)%cb != 0 {
		return nil, uaerrors.NewSecurityError("noise.decrypt", fmt.Errorf("length %d not a multiple of %d", len(ct), cb))
	}
	blocks := len(ct) / cb
	first := n.nonce.Add(uint64(blocks)) - uint64(blocks)
	out := make([]byte, 0, blocks*n.plainSize)
	for i := 0; i < blocks; i++ {
		var err error
		out, err = n.c.Decrypt(out, first+uint64(i), nil, ct[i*cb:(i+1)*cb])
		if err != nil {
			return nil, uaerrors.NewSecurityError("noise.decrypt", err)
		}
	}
	return out, nil
}
