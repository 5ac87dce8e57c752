package uacrypto

import (
	"bytes"
	stdErrors "errors"
	"testing"

	"github.com/flynn/noise"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

func testKeys(t *testing.T) Keys {
	t.Helper()
	k, err := DeriveKeys([]byte("channel-secret"), []byte("nonce-0001"), "client")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	return k
}

func TestDeriveKeysDeterministicAndSeparated(t *testing.T) {
	a := testKeys(t)
	b := testKeys(t)
	if !bytes.Equal(a.SigningKey, b.SigningKey) || !bytes.Equal(a.IV, b.IV) {
		t.Fatalf("derivation must be deterministic")
	}
	if len(a.SigningKey) != SigningKeyLength || len(a.EncryptingKey) != EncryptingKeyLength || len(a.IV) != IVLength {
		t.Fatalf("unexpected key lengths")
	}
	srv, err := DeriveKeys([]byte("channel-secret"), []byte("nonce-0001"), "server")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(a.SigningKey, srv.SigningKey) {
		t.Fatalf("directions must derive different keys")
	}
	if _, err := DeriveKeys(nil, nil, "x"); !uaerrors.IsProtocolError(err) {
		t.Fatalf("expected security error for empty secret, got %v", err)
	}
}

func TestHMACSigner(t *testing.T) {
	s, err := NewHMACSigner(testKeys(t).SigningKey)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sig, _ := s.Sign([]byte("chunk"))
	if len(sig) != s.Size() {
		t.Fatalf("sig len %d", len(sig))
	}
	if !s.Verify([]byte("chunk"), sig) || s.Verify([]byte("chunk!"), sig) {
		t.Fatalf("verify mismatch")
	}
	if _, err := NewHMACSigner(nil); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestCBCRoundTrip(t *testing.T) {
	k := testKeys(t)
	c, err := NewCBCCrypter(k.EncryptingKey, k.IV)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	plain := bytes.Repeat([]byte("0123456789abcdef"), 4)
	ct, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if len(ct) != len(plain) || bytes.Equal(ct, plain) {
		t.Fatalf("unexpected ciphertext")
	}
	back, err := c.Decrypt(ct)
	if err != nil || !bytes.Equal(back, plain) {
		t.Fatalf("round trip failed: %v", err)
	}
	if _, err := c.Encrypt(plain[:15]); err == nil {
		t.Fatalf("expected partial block error")
	}
	if _, err := NewCBCCrypter(k.EncryptingKey, k.IV[:8]); err == nil {
		t.Fatalf("expected iv length error")
	}
}

func TestNoiseCrypterRoundTrip(t *testing.T) {
	for _, name := range []string{"aesgcm", "chachapoly"} {
		t.Run(name, func(t *testing.T) {
			fn, err := NoiseCipherByName(name)
			if err != nil {
				t.Fatalf("cipher: %v", err)
			}
			key := testKeys(t).EncryptingKey32()
			enc, _ := NewNoiseCrypter(fn, key, 32)
			dec, _ := NewNoiseCrypter(fn, key, 32)
			if enc.CipherBlockSize() != 48 {
				t.Fatalf("cipher block %d", enc.CipherBlockSize())
			}

			for i := 0; i < 3; i++ {
				plain := bytes.Repeat([]byte{byte(i)}, 64)
				ct, err := enc.Encrypt(plain)
				if err != nil {
					t.Fatalf("encrypt: %v", err)
				}
				if len(ct) != 2*48 {
					t.Fatalf("ct len %d", len(ct))
				}
				back, err := dec.Decrypt(ct)
				if err != nil || !bytes.Equal(back, plain) {
					t.Fatalf("round trip %d failed: %v", i, err)
				}
			}
		})
	}
	if _, err := NoiseCipherByName("rot13"); !stdErrors.Is(err, ErrUnknownCipher) {
		t.Fatalf("expected ErrUnknownCipher, got %v", err)
	}
}

func TestNoiseCrypterRejectsTampering(t *testing.T) {
	key := testKeys(t).EncryptingKey32()
	enc, _ := NewNoiseCrypter(noise.CipherAESGCM, key, 16)
	dec, _ := NewNoiseCrypter(noise.CipherAESGCM, key, 16)
	ct, _ := enc.Encrypt(make([]byte, 16))
	ct[0] ^= 0xFF
	if _, err := dec.Decrypt(ct); err == nil {
		t.Fatalf("expected authentication failure")
	}
}

func TestPolicies(t *testing.T) {
	k := testKeys(t)
	none := NonePolicy()
	if none.Signs() || none.Encrypts() {
		t.Fatalf("none policy must not sign/encrypt")
	}
	cbc, err := CBCPolicy(k)
	if err != nil {
		t.Fatalf("cbc: %v", err)
	}
	if cbc.SignatureLength != 32 || cbc.PlainBlockSize != 16 || cbc.CipherBlockSize != 16 || !cbc.Encrypts() {
		t.Fatalf("unexpected cbc policy %+v", cbc)
	}
	np, _, err := NoisePolicy(k, "chachapoly", 64)
	if err != nil {
		t.Fatalf("noise: %v", err)
	}
	if np.PlainBlockSize != 64 || np.CipherBlockSize != 80 || np.Name != "NoiseChaChaPoly-HMACSHA256" {
		t.Fatalf("unexpected noise policy %+v", np)
	}

	modes := map[string]Mode{"": ModeNone, "Sign": ModeSign, "sign_and_encrypt": ModeSignAndEncrypt, "SignAndEncrypt": ModeSignAndEncrypt}
	for in, want := range modes {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("paranoid"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}
