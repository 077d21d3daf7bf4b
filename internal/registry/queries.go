package registry

import (
	"slices"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
)

// FindWithCapability returns workers with at least one live tool in c that
// checker reports available. An unknown category matches nothing.
func (r *Registry) FindWithCapability(c capability.Category, checker capability.ToolChecker) []capability.Bundle {
	return r.filter("find_with_capability", func(b *capability.Bundle, now time.Time) bool {
		return b.HasCapability(c, checker, now)
	})
}

// FindVerifiedWorkers returns workers whose every tool is live, unrevoked
// and attested.
func (r *Registry) FindVerifiedWorkers() []capability.Bundle {
	return r.filter("find_verified_workers", func(b *capability.Bundle, now time.Time) bool {
		return b.VerifyAllCapabilities(r.verifier, now)
	})
}

// FindWorkersWithPermission returns workers with at least one tool in c
// granting the named permission.
func (r *Registry) FindWorkersWithPermission(c capability.Category, permission string) []capability.Bundle {
	return r.filter("find_with_permission", func(b *capability.Bundle, _ time.Time) bool {
		return b.HasRequiredPermission(c, permission)
	})
}

// FindWorkersWithFlag returns workers with the flag set to true.
func (r *Registry) FindWorkersWithFlag(flag string) []capability.Bundle {
	return r.filter("find_with_flag", func(b *capability.Bundle, _ time.Time) bool {
		return b.HasFlag(flag)
	})
}

// FindWorkersWithMetadata returns workers whose metadata key equals value.
func (r *Registry) FindWorkersWithMetadata(key, value string) []capability.Bundle {
	return r.filter("find_with_metadata", func(b *capability.Bundle, _ time.Time) bool {
		v, ok := b.MetadataValue(key)
		return ok && v == value
	})
}

// FindWorkersWithAllRequiredTools returns workers whose required tools are
// all satisfied by checker.
func (r *Registry) FindWorkersWithAllRequiredTools(checker capability.ToolChecker) []capability.Bundle {
	return r.filter("find_with_all_required_tools", func(b *capability.Bundle, now time.Time) bool {
		return b.HasAllRequiredTools(checker, now)
	})
}

// AllToolNames returns every primary and alternative tool name across all
// workers, deduplicated and sorted.
func (r *Registry) AllToolNames() []string {
	r.metrics.Query("all_tool_names")

	r.mu.RLock()
	seen := make(map[string]struct{})
	for _, b := range r.bundles {
		for _, name := range b.AllToolNames() {
			seen[name] = struct{}{}
		}
	}
	r.mu.RUnlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// SecurityReport returns the per-tool trust report for one worker.
func (r *Registry) SecurityReport(id string) ([]capability.SecurityReport, bool) {
	r.metrics.Query("security_report")
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[id]
	if !ok {
		return nil, false
	}
	return b.SecurityReport(r.verifier, now), true
}

// VerifyAllWorkers reports, per worker id, whether the worker verifies.
func (r *Registry) VerifyAllWorkers() map[string]bool {
	r.metrics.Query("verify_all_workers")
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.bundles))
	for id, b := range r.bundles {
		out[id] = b.VerifyAllCapabilities(r.verifier, now)
	}
	return out
}

// Statistics aggregates worker and tool counts across the registry.
func (r *Registry) Statistics() Statistics {
	r.metrics.Query("statistics")
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Statistics{TotalWorkers: len(r.bundles)}
	for _, b := range r.bundles {
		bs := b.Statistics(r.verifier, now)
		s.TotalTools += bs.TotalTools
		s.RequiredTools += bs.RequiredTools
		s.VerifiedTools += bs.VerifiedTools
		if b.VerifyAllCapabilities(r.verifier, now) {
			s.VerifiedWorkers++
		}
	}
	return s
}
