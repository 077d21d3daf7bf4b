package capability

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTool = errors.New("invalid tool capability")

// AttestationVerifier checks the attestation attached to a tool.
// Any failure, including an unreachable signing backend, reports false.
type AttestationVerifier interface {
	VerifyIntegrity(tool *ToolCapability, now time.Time) bool
}

// ToolCapability is one tool a worker claims, with the scope it may run
// under and its trust state.
type ToolCapability struct {
	ToolName     string       `json:"tool_name"`
	Required     bool         `json:"required"`
	Alternatives []string     `json:"alternatives"`
	Attestation  *Attestation `json:"attestation,omitempty"`
	Permissions  Permissions  `json:"permissions"`
	Expiration   Expiration   `json:"expiration"`
	Verified     bool         `json:"verified"`
}

// WithAlternatives returns a copy whose alternatives are names, in order.
func (t ToolCapability) WithAlternatives(names ...string) ToolCapability {
	out := t.Clone()
	out.Alternatives = append([]string(nil), names...)
	return out
}

// WithAttestation returns a copy carrying a. Attaching replaces any
// previous attestation and marks the tool verified.
func (t ToolCapability) WithAttestation(a Attestation) ToolCapability {
	out := t.Clone()
	out.Attestation = &a
	out.Verified = true
	return out
}

// WithPermissions returns a copy with perms.
func (t ToolCapability) WithPermissions(perms Permissions) ToolCapability {
	out := t.Clone()
	out.Permissions = perms
	return out
}

// WithExpiration returns a copy with exp.
func (t ToolCapability) WithExpiration(exp Expiration) ToolCapability {
	out := t.Clone()
	out.Expiration = exp.clone()
	return out
}

// IsExpired reports whether now is past the tool's expiry.
func (t *ToolCapability) IsExpired(now time.Time) bool {
	return now.Unix() > t.Expiration.ExpiresAt
}

// IsRevoked reports whether the tool was revoked.
func (t *ToolCapability) IsRevoked() bool {
	return t.Expiration.Revoked
}

// IsSatisfied reports whether the tool is live and the checker finds either
// its primary name or one of its alternatives.
func (t *ToolCapability) IsSatisfied(checker ToolChecker, now time.Time) bool {
	if checker == nil || t.IsExpired(now) || t.IsRevoked() {
		return false
	}
	if checker.Available(t.ToolName) {
		return true
	}
	for _, alt := range t.Alternatives {
		if checker.Available(alt) {
			return true
		}
	}
	return false
}

// Revoke marks the tool revoked. Calling it again overwrites the reason,
// time and revoker; the tool never becomes unrevoked.
func (t *ToolCapability) Revoke(reason, revokedBy string, now time.Time) {
	t.Expiration.revoke(reason, revokedBy, now)
}

// HasPermission reports whether the named permission scope is granted.
func (t *ToolCapability) HasPermission(name string) bool {
	return t.Permissions.Allows(name)
}

// HasAttestation reports whether an attestation is attached.
func (t *ToolCapability) HasAttestation() bool {
	return t.Attestation != nil
}

// VerifyAttestation delegates to v. A nil verifier verifies nothing.
func (t *ToolCapability) VerifyAttestation(v AttestationVerifier, now time.Time) bool {
	if v == nil || t.Attestation == nil {
		return false
	}
	return v.VerifyIntegrity(t, now)
}

// Names returns the primary tool name followed by its alternatives.
func (t *ToolCapability) Names() []string {
	names := make([]string, 0, 1+len(t.Alternatives))
	names = append(names, t.ToolName)
	return append(names, t.Alternatives...)
}

// Clone returns a deep copy.
func (t ToolCapability) Clone() ToolCapability {
	out := t
	if t.Alternatives != nil {
		out.Alternatives = append([]string{}, t.Alternatives...)
	}
	if t.Attestation != nil {
		a := *t.Attestation
		out.Attestation = &a
	}
	out.Expiration = t.Expiration.clone()
	return out
}

// Validate checks declaration limits and the revocation invariant.
func (t *ToolCapability) Validate() error {
	switch {
	case t.ToolName == "":
		return fmt.Errorf("%w: empty tool name", ErrInvalidTool)
	case len(t.ToolName) > MaxToolNameLength:
		return fmt.Errorf("%w: tool name longer than %d", ErrInvalidTool, MaxToolNameLength)
	case len(t.Alternatives) > MaxAlternativeTools:
		return fmt.Errorf("%w: %s: more than %d alternatives", ErrInvalidTool, t.ToolName, MaxAlternativeTools)
	case t.Permissions.CPULimitPercent > 100:
		return fmt.Errorf("%w: %s: cpu limit above 100%%", ErrInvalidTool, t.ToolName)
	case t.Permissions.MemoryLimitMB > MaxWireInteger || t.Permissions.TimeoutSeconds > MaxWireInteger:
		return fmt.Errorf("%w: %s: resource limit above %d", ErrInvalidTool, t.ToolName, uint64(MaxWireInteger))
	case !wireSafe(t.Expiration.ExpiresAt):
		return fmt.Errorf("%w: %s: expires_at out of range", ErrInvalidTool, t.ToolName)
	case t.Expiration.RevokedAt != nil && !wireSafe(*t.Expiration.RevokedAt):
		return fmt.Errorf("%w: %s: revoked_at out of range", ErrInvalidTool, t.ToolName)
	case t.Attestation != nil && !wireSafe(t.Attestation.Timestamp):
		return fmt.Errorf("%w: %s: attestation timestamp out of range", ErrInvalidTool, t.ToolName)
	case t.Verified && t.Attestation == nil:
		return fmt.Errorf("%w: %s: verified without attestation", ErrInvalidTool, t.ToolName)
	}
	for _, alt := range t.Alternatives {
		if alt == "" || len(alt) > MaxToolNameLength {
			return fmt.Errorf("%w: %s: invalid alternative %q", ErrInvalidTool, t.ToolName, alt)
		}
	}
	if err := t.Expiration.validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidTool, t.ToolName, err)
	}
	return nil
}

func wireSafe(v int64) bool {
	return v >= -MaxWireInteger && v <= MaxWireInteger
}
