package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := New("test-master-secret")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if !svc.Configured() {
		t.Fatal("expected configured service")
	}

	plain := []byte(`{"subject":"s1","documents":2}`)
	sealed, err := svc.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		t.Fatalf("envelope not self-describing json: %v", err)
	}
	if env.Algorithm != "aes-256-gcm" {
		t.Fatalf("unexpected algorithm %q", env.Algorithm)
	}
	if len(env.IV) == 0 || len(env.AuthTag) != 16 || len(env.Ciphertext) == 0 {
		t.Fatal("envelope missing iv, tag or ciphertext")
	}

	got, err := svc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	svc, _ := New("test-master-secret")
	sealed, err := svc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(sealed, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	env.Ciphertext[0] ^= 0xff
	tampered, _ := json.Marshal(env)
	if _, err := svc.Decrypt(tampered); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestUnconfiguredServiceRefuses(t *testing.T) {
	svc, err := New("")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if svc.Configured() {
		t.Fatal("empty secret must not configure the service")
	}
	if _, err := svc.Encrypt([]byte("x")); !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
}

func TestDeriveKeyIsPurposeBound(t *testing.T) {
	a, err := DeriveKey("secret", "export-encryption", 32)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	b, err := DeriveKey("secret", "download-token", 32)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("keys for different purposes must differ")
	}
}
