package capability

import (
	"errors"
	"time"
)

// Attestation binds a capability hash to a signing key at a point in time.
type Attestation struct {
	CapabilityHash string `json:"capability_hash"`
	Signature      string `json:"signature"`
	PublicKey      string `json:"public_key"`
	Timestamp      int64  `json:"timestamp"` // unix seconds
	Algorithm      string `json:"algorithm"`
	Attester       string `json:"attester"`
}

// Expiration tracks when a capability stops being usable and whether it was
// revoked. The three revocation fields are set together by Revoke and are
// nil on a capability that was never revoked.
type Expiration struct {
	ExpiresAt        int64   `json:"expires_at"` // unix seconds
	Revoked          bool    `json:"revoked"`
	RevocationReason *string `json:"revocation_reason,omitempty"`
	RevokedAt        *int64  `json:"revoked_at,omitempty"`
	RevokedBy        *string `json:"revoked_by,omitempty"`
}

var errRevocationGroup = errors.New("revocation reason, time and revoker must be set exactly when revoked")

// ExpiresAfter returns a live expiration ttl after now.
func ExpiresAfter(now time.Time, ttl time.Duration) Expiration {
	return Expiration{ExpiresAt: now.Add(ttl).Unix()}
}

func (e *Expiration) revoke(reason, by string, now time.Time) {
	at := now.Unix()
	e.Revoked = true
	e.RevocationReason = &reason
	e.RevokedAt = &at
	e.RevokedBy = &by
}

func (e Expiration) validate() error {
	present := 0
	if e.RevocationReason != nil {
		present++
	}
	if e.RevokedAt != nil {
		present++
	}
	if e.RevokedBy != nil {
		present++
	}
	if (e.Revoked && present != 3) || (!e.Revoked && present != 0) {
		return errRevocationGroup
	}
	return nil
}

func (e Expiration) clone() Expiration {
	out := e
	if e.RevocationReason != nil {
		v := *e.RevocationReason
		out.RevocationReason = &v
	}
	if e.RevokedAt != nil {
		v := *e.RevokedAt
		out.RevokedAt = &v
	}
	if e.RevokedBy != nil {
		v := *e.RevokedBy
		out.RevokedBy = &v
	}
	return out
}
