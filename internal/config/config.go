// Package config loads the framing settings of opcua-chunker from YAML.
// Values from the file act as defaults; command line flags override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
	"github.com/sanderd17/node-opcua/internal/opcua/chunk"
	"github.com/sanderd17/node-opcua/internal/opcua/secure"
	"github.com/sanderd17/node-opcua/internal/opcua/uacrypto"
)

// Cipher names accepted by security.cipher.
const (
	CipherCBC        = "cbc"
	CipherAESGCM     = "aesgcm"
	CipherChaChaPoly = "chachapoly"
)

// DefaultNoiseBlockSize is the plain block size used for noise ciphers.
const DefaultNoiseBlockSize = 64

// Config is an opcua-chunker configuration file.
type Config struct {
	MessageType     string         `yaml:"message_type"`
	ChunkSize       int            `yaml:"chunk_size"`
	SecureChannelID uint32         `yaml:"secure_channel_id"`
	RequestID       uint32         `yaml:"request_id"`
	TokenID         uint32         `yaml:"token_id"`
	Security        SecurityConfig `yaml:"security"`
}

// SecurityConfig selects signing and encryption for framed chunks.
type SecurityConfig struct {
	Mode      string `yaml:"mode"`       // none | sign | sign_and_encrypt
	Cipher    string `yaml:"cipher"`     // cbc | aesgcm | chachapoly
	BlockSize int    `yaml:"block_size"` // plain block size, noise ciphers only
	PolicyURI string `yaml:"policy_uri"` // written into OPN security headers
	Secret    string `yaml:"secret"`
	Nonce     string `yaml:"nonce"`

	// SenderCertificate is a path to a DER certificate carried by OPN chunks.
	SenderCertificate string `yaml:"sender_certificate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MessageType: string(secure.MessageTypeMessage),
		ChunkSize:   chunk.DefaultChunkSize,
		RequestID:   1,
		Security: SecurityConfig{
			Mode:      string(uacrypto.ModeNone),
			Cipher:    CipherCBC,
			BlockSize: DefaultNoiseBlockSize,
			PolicyURI: secure.SecurityPolicyNone,
		},
	}
}

// Validate checks every field and returns all problems joined together.
// Each problem is a *errors.ConfigError naming the offending field.
func (c *Config) Validate() error {
	var errs []error
	if len(c.MessageType) != 3 {
		errs = append(errs, uaerrors.NewConfigError("message_type", fmt.Errorf("%q is not a 3-character tag", c.MessageType)))
	}
	if c.ChunkSize < 0 || c.ChunkSize > chunk.MaxChunkSize {
		errs = append(errs, uaerrors.NewConfigError("chunk_size", fmt.Errorf("%d outside [0, %d]", c.ChunkSize, chunk.MaxChunkSize)))
	}
	if c.RequestID == 0 {
		errs = append(errs, uaerrors.NewConfigError("request_id", errors.New("must be > 0")))
	}

	mode, err := uacrypto.ParseMode(c.Security.Mode)
	if err != nil {
		errs = append(errs, uaerrors.NewConfigError("security.mode", err))
	}
	if mode != uacrypto.ModeNone && mode != "" && c.Security.Secret == "" {
		errs = append(errs, uaerrors.NewConfigError("security.secret", fmt.Errorf("required for mode %s", mode)))
	}
	if mode == uacrypto.ModeSignAndEncrypt {
		switch c.Security.Cipher {
		case CipherCBC:
		case CipherAESGCM, CipherChaChaPoly:
			if c.Security.BlockSize <= 0 {
				errs = append(errs, uaerrors.NewConfigError("security.block_size", fmt.Errorf("must be > 0, got %d", c.Security.BlockSize)))
			}
		default:
			errs = append(errs, uaerrors.NewConfigError("security.cipher", fmt.Errorf("unknown cipher %q", c.Security.Cipher)))
		}
	}
	return errors.Join(errs...)
}

// SecurityPolicy derives the channel keys and returns the signing and
// encryption functions for the configured mode.
func (c *Config) SecurityPolicy() (uacrypto.Policy, error) {
	mode, err := uacrypto.ParseMode(c.Security.Mode)
	if err != nil {
		return uacrypto.Policy{}, uaerrors.NewConfigError("security.mode", err)
	}
	if mode == uacrypto.ModeNone {
		return uacrypto.NonePolicy(), nil
	}
	keys, err := uacrypto.DeriveKeys([]byte(c.Security.Secret), []byte(c.Security.Nonce), "client")
	if err != nil {
		return uacrypto.Policy{}, uaerrors.NewConfigError("security.secret", err)
	}
	if mode == uacrypto.ModeSign {
		return uacrypto.SignPolicy(keys)
	}
	if c.Security.Cipher == CipherCBC {
		return uacrypto.CBCPolicy(keys)
	}
	p, _, err := uacrypto.NoisePolicy(keys, c.Security.Cipher, c.Security.BlockSize)
	if err != nil {
		return uacrypto.Policy{}, uaerrors.NewConfigError("security.cipher", err)
	}
	return p, nil
}

// SecurityHeader builds the header for messages of type t: asymmetric with the
// configured policy and certificate for OPN, symmetric with the token id
// otherwise.
func (c *Config) SecurityHeader(t secure.MessageType) (secure.SecurityHeader, error) {
	if !t.IsOpen() {
		return &secure.SymmetricSecurityHeader{TokenID: c.TokenID}, nil
	}
	h := &secure.AsymmetricSecurityHeader{SecurityPolicyURI: c.Security.PolicyURI}
	if h.SecurityPolicyURI == "" {
		h.SecurityPolicyURI = secure.SecurityPolicyNone
	}
	if path := strings.TrimSpace(c.Security.SenderCertificate); path != "" {
		cert, err := os.ReadFile(path)
		if err != nil {
			return nil, uaerrors.NewConfigError("security.sender_certificate", err)
		}
		h.SenderCertificate = cert
	}
	return h, nil
}
