package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const algorithmGCM = "aes-256-gcm"

// gcmTagSize is the length of the authentication tag GCM appends to the
// ciphertext; it is split out so the envelope is self-describing.
const gcmTagSize = 16

var ErrKeyUnavailable = errors.New("encryption key unavailable")

// Envelope carries everything needed to decrypt besides the shared secret, so
// no side-channel key lookup is required.
type Envelope struct {
	Algorithm  string `json:"algorithm"`
	IV         []byte `json:"iv"`
	AuthTag    []byte `json:"authTag"`
	Ciphertext []byte `json:"ciphertext"`
}

type Service struct {
	key []byte
}

// New derives a 32-byte AES key from the master secret. An empty secret
// yields an unconfigured service; callers decide whether that is fatal.
func New(masterSecret string) (*Service, error) {
	if masterSecret == "" {
		return &Service{key: nil}, nil
	}
	key, err := DeriveKey(masterSecret, "export-encryption", 32)
	if err != nil {
		return nil, err
	}
	return &Service{key: key}, nil
}

// DeriveKey expands the master secret into an independent key per purpose
// using HKDF-SHA256.
func DeriveKey(masterSecret, purpose string, size int) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(purpose))
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return key, nil
}

func (s *Service) Configured() bool {
	return len(s.key) == 32
}

// Encrypt seals the plaintext and returns a JSON-encoded self-describing
// envelope.
func (s *Service) Encrypt(plain []byte) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrKeyUnavailable
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nil, iv, plain, nil)
	env := Envelope{
		Algorithm:  algorithmGCM,
		IV:         iv,
		AuthTag:    sealed[len(sealed)-gcmTagSize:],
		Ciphertext: sealed[:len(sealed)-gcmTagSize],
	}
	return json.Marshal(env)
}

// Decrypt parses an envelope produced by Encrypt and opens it.
func (s *Service) Decrypt(data []byte) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrKeyUnavailable
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Algorithm != algorithmGCM {
		return nil, fmt.Errorf("unsupported algorithm %q", env.Algorithm)
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(env.IV) != gcm.NonceSize() {
		return nil, errors.New("envelope iv has wrong length")
	}
	sealed := append(append([]byte{}, env.Ciphertext...), env.AuthTag...)
	return gcm.Open(nil, env.IV, sealed, nil)
}
