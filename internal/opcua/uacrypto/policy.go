package uacrypto

import (
	"fmt"
	"strings"
)

// Mode is the message security mode of a channel.
type Mode string

const (
	ModeNone           Mode = "none"
	ModeSign           Mode = "sign"
	ModeSignAndEncrypt Mode = "sign_and_encrypt"
)

// ParseMode accepts the config spellings of a security mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNone:
		return ModeNone, nil
	case ModeSign:
		return ModeSign, nil
	case ModeSignAndEncrypt, "signandencrypt":
		return ModeSignAndEncrypt, nil
	}
	return "", fmt.Errorf("unknown security mode %q", s)
}

// Policy bundles everything the chunk engine needs to sign and encrypt.
// The zero value applies no security.
type Policy struct {
	Name            string
	SignatureLength int
	Sign            func([]byte) ([]byte, error)
	PlainBlockSize  int
	CipherBlockSize int
	Encrypt         func([]byte) ([]byte, error)
}

// Signs reports whether the policy appends a signature.
func (p Policy) Signs() bool { return p.SignatureLength > 0 }

// Encrypts reports whether the policy encrypts chunk bodies.
func (p Policy) Encrypts() bool { return p.Encrypt != nil }

// NonePolicy applies no security.
func NonePolicy() Policy { return Policy{Name: "None"} }

// SignPolicy signs with HMAC-SHA256.
func SignPolicy(keys Keys) (Policy, error) {
	s, err := NewHMACSigner(keys.SigningKey)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Name: "Sign-HMACSHA256", SignatureLength: s.Size(), Sign: s.Sign}, nil
}

// CBCPolicy signs with HMAC-SHA256 and encrypts with AES-256-CBC.
func CBCPolicy(keys Keys) (Policy, error) {
	p, err := SignPolicy(keys)
	if err != nil {
		return Policy{}, err
	}
	c, err := NewCBCCrypter(keys.EncryptingKey, keys.IV)
	if err != nil {
		return Policy{}, err
	}
	p.Name = "Aes256Cbc-HMACSHA256"
	p.PlainBlockSize = c.BlockSize()
	p.CipherBlockSize = c.BlockSize()
	p.Encrypt = c.Encrypt
	return p, nil
}

// NoisePolicy signs with HMAC-SHA256 and seals blocks with a noise AEAD cipher.
func NoisePolicy(keys Keys, cipherName string, plainBlockSize int) (Policy, *NoiseCrypter, error) {
	p, err := SignPolicy(keys)
	if err != nil {
		return Policy{}, nil, err
	}
	fn, err := NoiseCipherByName(cipherName)
	if err != nil {
		return Policy{}, nil, err
	}
	c, err := NewNoiseCrypter(fn, keys.EncryptingKey32(), plainBlockSize)
	if err != nil {
		return Policy{}, nil, err
	}
	p.Name = "Noise" + fn.CipherName() + "-HMACSHA256"
	p.PlainBlockSize = c.PlainBlockSize()
	p.CipherBlockSize = c.CipherBlockSize()
	p.Encrypt = c.Encrypt
	return p, c, nil
}
