package attestation

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrEmptyKey   = errors.New("empty signing key")
	ErrInvalidKey = errors.New("invalid signing key")
)

// Signer produces and checks signatures over attestation payloads. It is the
// pluggable trust boundary: the registry never inspects key material itself.
type Signer interface {
	// Sign signs payload with the private key.
	Sign(payload []byte, privateKey string) (string, error)
	// PublicKey returns the public key matching privateKey.
	PublicKey(privateKey string) (string, error)
	// Verify reports whether signature is valid for payload under publicKey.
	Verify(signature, publicKey string, payload []byte) bool
}

const hkdfInfo = "palisade capability attestation v1"

// Ed25519Signer signs with Ed25519 keys derived from a secret string using
// HKDF-SHA256. Public keys and signatures are standard base64.
type Ed25519Signer struct {
	salt []byte
}

// NewEd25519Signer creates a signer. The salt scopes derived keys to one
// deployment; nil is allowed.
func NewEd25519Signer(salt []byte) *Ed25519Signer {
	return &Ed25519Signer{salt: salt}
}

func (s *Ed25519Signer) derive(secret string) (ed25519.PrivateKey, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, []byte(secret), s.salt, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (s *Ed25519Signer) Sign(payload []byte, privateKey string) (string, error) {
	key, err := s.derive(privateKey)
	if err != nil {
		return "", fmt.Errorf("Sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload)), nil
}

func (s *Ed25519Signer) PublicKey(privateKey string) (string, error) {
	key, err := s.derive(privateKey)
	if err != nil {
		return "", fmt.Errorf("PublicKey: %w", err)
	}
	pub := key.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}

func (s *Ed25519Signer) Verify(signature, publicKey string, payload []byte) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}

// GenerateSecret returns a random signing secret suitable for
// Ed25519Signer.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("GenerateSecret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
