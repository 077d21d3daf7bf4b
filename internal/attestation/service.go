package attestation

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/metrics"
	"go.uber.org/zap"
)

// Attestation defaults.
const (
	DefaultAlgorithm = "SHA256-Ed25519"
	DefaultTTL       = 365 * 24 * time.Hour
	DefaultClockSkew = 5 * time.Minute
)

// ErrSignerPanic reports a signer that panicked while issuing an attestation.
var ErrSignerPanic = errors.New("signer panicked")

// Reasons an attestation fails. They stay internal to the package: callers
// only ever see a boolean.
var (
	errNoAttestation    = errors.New("no attestation")
	errExpired          = errors.New("attestation expired")
	errFromFuture       = errors.New("attestation timestamp in the future")
	errAlgorithm        = errors.New("algorithm mismatch")
	errHashMismatch     = errors.New("capability hash mismatch")
	errMissingSignature = errors.New("empty signature or public key")
	errUntrustedKey     = errors.New("public key not trusted")
	errBadSignature     = errors.New("signature rejected")
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Signer    Signer
	Clock     capability.Clock
	Algorithm string
	TTL       time.Duration // how long an attestation stays valid after issue
	ClockSkew time.Duration // tolerated future drift of attestation timestamps
	// TrustedKeys restricts accepted public keys. Empty accepts any key whose
	// signature verifies.
	TrustedKeys []string
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Service issues and verifies capability attestations.
type Service struct {
	signer    Signer
	clock     capability.Clock
	algorithm string
	ttl       time.Duration
	skew      time.Duration
	trusted   map[string]struct{}
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates a Service, filling unset fields with defaults.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		signer:    cfg.Signer,
		clock:     cfg.Clock,
		algorithm: cfg.Algorithm,
		ttl:       cfg.TTL,
		skew:      cfg.ClockSkew,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if s.signer == nil {
		s.signer = NewEd25519Signer(nil)
	}
	if s.clock == nil {
		s.clock = capability.SystemClock
	}
	if s.algorithm == "" {
		s.algorithm = DefaultAlgorithm
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.skew <= 0 {
		s.skew = DefaultClockSkew
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if len(cfg.TrustedKeys) > 0 {
		s.trusted = make(map[string]struct{}, len(cfg.TrustedKeys))
		for _, k := range cfg.TrustedKeys {
			s.trusted[k] = struct{}{}
		}
	}
	return s
}

// Algorithm returns the algorithm identifier the service issues and accepts.
func (s *Service) Algorithm() string { return s.algorithm }

// signingPayload is the byte string a signature covers.
func signingPayload(hash string, timestamp int64) []byte {
	return []byte(hash + ":" + strconv.FormatInt(timestamp, 10))
}

// CreateAttestation hashes the tool, stamps the current time and asks the
// signer for a signature over both.
func (s *Service) CreateAttestation(tool *capability.ToolCapability, signerKey, attester string) (capability.Attestation, error) {
	hash := tool.Hash()
	timestamp := s.clock.Now().Unix()

	publicKey, signature, err := s.sign(signingPayload(hash, timestamp), signerKey)
	if err != nil {
		s.logger.Warn("attestation signing failed",
			zap.String("tool_name", tool.ToolName),
			zap.String("attester", attester),
			zap.Error(err),
		)
		return capability.Attestation{}, fmt.Errorf("CreateAttestation: %w", err)
	}

	return capability.Attestation{
		CapabilityHash: hash,
		Signature:      signature,
		PublicKey:      publicKey,
		Timestamp:      timestamp,
		Algorithm:      s.algorithm,
		Attester:       attester,
	}, nil
}

// sign derives the public key and signs payload. A signer that panics
// yields ErrSignerPanic.
func (s *Service) sign(payload []byte, signerKey string) (publicKey, signature string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("signer panicked during signing", zap.Any("panic", r))
			publicKey, signature, err = "", "", ErrSignerPanic
		}
	}()
	publicKey, err = s.signer.PublicKey(signerKey)
	if err != nil {
		return "", "", err
	}
	signature, err = s.signer.Sign(payload, signerKey)
	if err != nil {
		return "", "", err
	}
	return publicKey, signature, nil
}

// Attest returns a copy of tool carrying a fresh attestation.
func (s *Service) Attest(tool capability.ToolCapability, signerKey, attester string) (capability.ToolCapability, error) {
	a, err := s.CreateAttestation(&tool, signerKey, attester)
	if err != nil {
		return tool, err
	}
	return tool.WithAttestation(a), nil
}

// AttestBundle attests every tool in b in place. It stops at the first
// signing failure, leaving earlier tools attested.
func (s *Service) AttestBundle(b *capability.Bundle, signerKey, attester string) error {
	for _, c := range capability.Categories {
		tools := b.Tools(c)
		for i := range tools {
			attested, err := s.Attest(tools[i], signerKey, attester)
			if err != nil {
				return fmt.Errorf("AttestBundle: %s: %w", tools[i].ToolName, err)
			}
			tools[i] = attested
		}
	}
	return nil
}

// VerifyCapabilityHash reports whether the tool still hashes to the value it
// was attested with. A tool without attestation fails.
func (s *Service) VerifyCapabilityHash(tool *capability.ToolCapability) bool {
	if tool.Attestation == nil {
		return false
	}
	return tool.Hash() == tool.Attestation.CapabilityHash
}

// VerifyIntegrity reports whether the tool's attestation is in its validity
// window, uses the configured algorithm, matches the tool's current hash and
// carries a signature the signer accepts.
func (s *Service) VerifyIntegrity(tool *capability.ToolCapability, now time.Time) bool {
	return s.record(tool.ToolName, s.check(tool, now))
}

// record counts one verification outcome and logs the rejection reason.
func (s *Service) record(toolName string, err error) bool {
	s.metrics.AttestationVerification(err == nil)
	if err != nil {
		s.logger.Debug("attestation rejected",
			zap.String("tool_name", toolName),
			zap.String("reason", err.Error()),
		)
		return false
	}
	return true
}

func (s *Service) check(tool *capability.ToolCapability, now time.Time) error {
	a := tool.Attestation
	if a == nil {
		return errNoAttestation
	}
	if err := s.checkEnvelope(a, now); err != nil {
		return err
	}
	if !s.VerifyCapabilityHash(tool) {
		return errHashMismatch
	}
	if !s.verifySignature(a) {
		return errBadSignature
	}
	return nil
}

// checkEnvelope applies the checks that need no tool: age, algorithm,
// non-empty key material and key trust.
func (s *Service) checkEnvelope(a *capability.Attestation, now time.Time) error {
	age := now.Unix() - a.Timestamp
	if age > int64(s.ttl/time.Second) {
		return errExpired
	}
	if -age > int64(s.skew/time.Second) {
		return errFromFuture
	}
	if a.Algorithm != s.algorithm {
		return errAlgorithm
	}
	if a.Signature == "" || a.PublicKey == "" {
		return errMissingSignature
	}
	if s.trusted != nil {
		if _, ok := s.trusted[a.PublicKey]; !ok {
			return errUntrustedKey
		}
	}
	return nil
}

// verifySignature asks the signer to check the signature. A signer that
// panics counts as a rejection.
func (s *Service) verifySignature(a *capability.Attestation) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("signer panicked during verification", zap.Any("panic", r))
			ok = false
		}
	}()
	return s.signer.Verify(a.Signature, a.PublicKey, signingPayload(a.CapabilityHash, a.Timestamp))
}
