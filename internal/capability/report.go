package capability

import "time"

// SecurityReport is the trust state of a single tool. The four booleans are
// independent and together explain why a tool did or did not verify.
type SecurityReport struct {
	ToolName            string      `json:"tool_name"`
	Category            Category    `json:"category"`
	HasAttestation      bool        `json:"has_attestation"`
	AttestationVerified bool        `json:"attestation_verified"`
	IsExpired           bool        `json:"is_expired"`
	IsRevoked           bool        `json:"is_revoked"`
	Permissions         Permissions `json:"permissions"`
	Expiration          Expiration  `json:"expiration"`
}

// Statistics are aggregate counts for one bundle.
type Statistics struct {
	TotalTools    int `json:"total_tools"`
	RequiredTools int `json:"required_tools"`
	VerifiedTools int `json:"verified_tools"`
	FlagsCount    int `json:"flags_count"`
	MetadataCount int `json:"metadata_count"`
}

// SecurityReport describes every tool in category order.
func (b *Bundle) SecurityReport(v AttestationVerifier, now time.Time) []SecurityReport {
	reports := make([]SecurityReport, 0, b.ToolCount())
	b.eachTool(func(c Category, t *ToolCapability) bool {
		reports = append(reports, SecurityReport{
			ToolName:            t.ToolName,
			Category:            c,
			HasAttestation:      t.HasAttestation(),
			AttestationVerified: t.VerifyAttestation(v, now),
			IsExpired:           t.IsExpired(now),
			IsRevoked:           t.IsRevoked(),
			Permissions:         t.Permissions,
			Expiration:          t.Expiration.clone(),
		})
		return true
	})
	return reports
}

// Statistics counts tools, required tools and tools whose attestation v
// accepts.
func (b *Bundle) Statistics(v AttestationVerifier, now time.Time) Statistics {
	s := Statistics{
		FlagsCount:    len(b.Flags),
		MetadataCount: len(b.Metadata),
	}
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		s.TotalTools++
		if t.Required {
			s.RequiredTools++
		}
		if t.VerifyAttestation(v, now) {
			s.VerifiedTools++
		}
		return true
	})
	return s
}
