package export

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"privacyd/internal/platform/crypto"
)

// tokenClaims is the signed payload of a download token. Tokens are bearer
// credentials: anyone holding one can fetch the artifact until it expires.
type tokenClaims struct {
	ArtifactID string    `json:"artifactId"`
	FileName   string    `json:"fileName"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Signer issues and verifies HMAC-SHA256 signed download tokens. The signing
// key is derived from the master secret so it never ships in config on its
// own.
type Signer struct {
	key []byte
	now func() time.Time
}

func NewSigner(masterSecret string) (*Signer, error) {
	if masterSecret == "" {
		return &Signer{now: time.Now}, nil
	}
	key, err := crypto.DeriveKey(masterSecret, "download-token", 32)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, now: time.Now}, nil
}

func (s *Signer) Configured() bool {
	return len(s.key) == 32
}

// Issue signs a token binding the artifact id and file name until expiry.
func (s *Signer) Issue(artifactID, fileName string, expiresAt time.Time) (string, error) {
	if !s.Configured() {
		return "", crypto.ErrKeyUnavailable
	}
	payload, err := json.Marshal(tokenClaims{
		ArtifactID: artifactID,
		FileName:   fileName,
		ExpiresAt:  expiresAt.UTC(),
	})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.sign(encoded), nil
}

// Verify checks the signature before anything else, then the expiry, and only
// then returns the claims. A tampered token never reveals whether the
// artifact exists.
func (s *Signer) Verify(token string) (artifactID, fileName string, err error) {
	if !s.Configured() {
		return "", "", crypto.ErrKeyUnavailable
	}
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok {
		return "", "", ErrTokenInvalid
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(encoded))) {
		return "", "", ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", ErrTokenInvalid
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", "", ErrTokenInvalid
	}
	if !s.now().Before(claims.ExpiresAt) {
		return "", "", ErrTokenExpired
	}
	return claims.ArtifactID, claims.FileName, nil
}

func (s *Signer) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprint(mac, encoded)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
