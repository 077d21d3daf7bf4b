package registry

import (
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"go.uber.org/zap"
)

// safeVerifier turns a panicking verifier into a rejection so one bad
// attestation backend cannot abort a batch query.
type safeVerifier struct {
	inner  capability.AttestationVerifier
	logger *zap.Logger
}

func (v *safeVerifier) VerifyIntegrity(tool *capability.ToolCapability, now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if v.logger != nil {
				v.logger.Error("attestation verifier panicked",
					zap.String("tool_name", tool.ToolName),
					zap.Any("panic", r),
				)
			}
			ok = false
		}
	}()
	return v.inner.VerifyIntegrity(tool, now)
}
