package uacrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// HMACSHA256Size is the signature length produced by HMACSigner.
const HMACSHA256Size = sha256.Size

// HMACSigner signs chunks with HMAC-SHA256 (symmetric signing).
type HMACSigner struct {
	key []byte
}

// NewHMACSigner returns a signer for key. The key is copied.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) == 0 {
		return nil, uaerrors.NewSecurityError("hmac.new", errors.New("empty signing key"))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k}, nil
}

// Size returns the signature length.
func (s *HMACSigner) Size() int { return HMACSHA256Size }

// Sign returns the HMAC of data.
func (s *HMACSigner) Sign(data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify reports whether sig is the HMAC of data.
func (s *HMACSigner) Verify(data, sig []byte) bool {
	expected, _ := s.Sign(data)
	return hmac.Equal(expected, sig)
}
