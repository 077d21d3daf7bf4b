package attestation

import (
	"errors"
	"testing"
)

func TestEd25519Signer_RoundTrip(t *testing.T) {
	s := NewEd25519Signer([]byte("deployment-a"))
	payload := []byte("abc123:1700000000")

	sig, err := s.Sign(payload, testSecret)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub, err := s.PublicKey(testSecret)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if !s.Verify(sig, pub, payload) {
		t.Fatal("expected signature to verify")
	}
	if s.Verify(sig, pub, []byte("abc123:1700000001")) {
		t.Fatal("expected signature over a different payload to fail")
	}
}

func TestEd25519Signer_DeterministicKeys(t *testing.T) {
	s := NewEd25519Signer(nil)
	a, _ := s.PublicKey(testSecret)
	b, _ := s.PublicKey(testSecret)
	if a != b {
		t.Fatal("expected the same secret to derive the same key")
	}
	c, _ := s.PublicKey("other-secret")
	if a == c {
		t.Fatal("expected different secrets to derive different keys")
	}
	salted, _ := NewEd25519Signer([]byte("deployment-b")).PublicKey(testSecret)
	if a == salted {
		t.Fatal("expected salt to change the derived key")
	}
}

func TestEd25519Signer_RejectsMalformed(t *testing.T) {
	s := NewEd25519Signer(nil)
	payload := []byte("p")
	sig, _ := s.Sign(payload, testSecret)
	pub, _ := s.PublicKey(testSecret)

	if s.Verify("not base64!", pub, payload) {
		t.Fatal("expected malformed signature to fail")
	}
	if s.Verify(sig, "c2hvcnQ=", payload) {
		t.Fatal("expected short public key to fail")
	}
	if _, err := s.Sign(payload, ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, _ := GenerateSecret()
	if a == "" || a == b {
		t.Fatal("expected distinct non-empty secrets")
	}
}

func BenchmarkVerify(b *testing.B) {
	s := NewEd25519Signer(nil)
	payload := []byte("abc123:1700000000")
	sig, _ := s.Sign(payload, testSecret)
	pub, _ := s.PublicKey(testSecret)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Verify(sig, pub, payload)
	}
}
