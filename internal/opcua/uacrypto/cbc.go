package uacrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// CBCCrypter encrypts chunk bodies with AES-CBC. Plain and cipher block sizes
// are both aes.BlockSize. Every call restarts from the configured IV, matching
// the per-chunk IV reuse of symmetric OPC UA policies.
type CBCCrypter struct {
	block cipher.Block
	iv    []byte
}

// NewCBCCrypter builds a crypter from a 16, 24 or 32 byte key and a 16 byte IV.
func NewCBCCrypter(key, iv []byte) (*CBCCrypter, error) {
	b, err := aes.NewCipher(key)
	if err != nil {
		return nil, uaerrors.NewSecurityError("cbc.new", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, uaerrors.NewSecurityError("cbc.new", fmt.Errorf("iv is %d bytes, want %d", len(iv), aes.BlockSize))
	}
	v := make([]byte, len(iv))
	copy(v, iv)
	return &CBCCrypter{block: b, iv: v}, nil
}

// BlockSize returns the plain (and cipher) block size.
func (c *CBCCrypter) BlockSize() int { return aes.BlockSize }

// Encrypt returns the ciphertext of plain, which must be a whole number of blocks.
func (c *CBCCrypter) Encrypt(plain []byte) ([]byte, error) {
	if len(plain)%aes.BlockSize != 0 {
		return nil, uaerrors.NewSecurityError("cbc.encrypt", fmt.Errorf("length %d not a multiple of %d", len(plain), aes.BlockSize))
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, plain)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *CBCCrypter) Decrypt(ct []byte) ([]byte, error) {
	if len(ct)%aes.BlockSize != 0 {
		return nil, uaerrors.NewSecurityError("cbc.decrypt", fmt.Errorf("length %d not a multiple of %d", len(ct), aes.BlockSize))
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, ct)
	return out, nil
}
