package capability

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

var ErrInvalidBundle = errors.New("invalid capability bundle")

// Bundle is the full capability declaration of one worker.
type Bundle struct {
	ID               string            `json:"id"`
	StaticAnalysis   []ToolCapability  `json:"static_analysis_tools"`
	SecurityScanning []ToolCapability  `json:"security_scanning_tools"`
	DynamicAnalysis  []ToolCapability  `json:"dynamic_analysis_tools"`
	Fuzzing          []ToolCapability  `json:"fuzzing_tools"`
	TestFramework    []ToolCapability  `json:"test_framework_tools"`
	Flags            map[string]bool   `json:"flags"`
	Metadata         map[string]string `json:"metadata"`
}

var categorySlots = map[Category]func(*Bundle) *[]ToolCapability{
	CategoryStaticAnalysis:   func(b *Bundle) *[]ToolCapability { return &b.StaticAnalysis },
	CategorySecurityScanning: func(b *Bundle) *[]ToolCapability { return &b.SecurityScanning },
	CategoryDynamicAnalysis:  func(b *Bundle) *[]ToolCapability { return &b.DynamicAnalysis },
	CategoryFuzzing:          func(b *Bundle) *[]ToolCapability { return &b.Fuzzing },
	CategoryTestFramework:    func(b *Bundle) *[]ToolCapability { return &b.TestFramework },
}

// NewBundle creates an empty bundle for a worker.
func NewBundle(id string) Bundle {
	return Bundle{
		ID:       id,
		Flags:    map[string]bool{},
		Metadata: map[string]string{},
	}
}

func (b *Bundle) slot(c Category) *[]ToolCapability {
	get, ok := categorySlots[c]
	if !ok {
		return nil
	}
	return get(b)
}

// Tools returns the tools declared under c. Unknown categories have none.
func (b *Bundle) Tools(c Category) []ToolCapability {
	if s := b.slot(c); s != nil {
		return *s
	}
	return nil
}

// eachTool visits every tool in category order until fn returns false.
func (b *Bundle) eachTool(fn func(c Category, t *ToolCapability) bool) {
	for _, c := range Categories {
		tools := *b.slot(c)
		for i := range tools {
			if !fn(c, &tools[i]) {
				return
			}
		}
	}
}

// Add appends tool to category c in place. It reports false for an unknown
// category.
func (b *Bundle) Add(c Category, tool ToolCapability) bool {
	s := b.slot(c)
	if s == nil {
		return false
	}
	*s = append(*s, tool.Clone())
	return true
}

// With returns a copy of b with tool appended to category c.
// An unknown category leaves the copy unchanged.
func (b Bundle) With(c Category, tool ToolCapability) Bundle {
	out := b.Clone()
	out.Add(c, tool)
	return out
}

func (b Bundle) WithStaticAnalysis(tool ToolCapability) Bundle {
	return b.With(CategoryStaticAnalysis, tool)
}

func (b Bundle) WithSecurityScanning(tool ToolCapability) Bundle {
	return b.With(CategorySecurityScanning, tool)
}

func (b Bundle) WithDynamicAnalysis(tool ToolCapability) Bundle {
	return b.With(CategoryDynamicAnalysis, tool)
}

func (b Bundle) WithFuzzing(tool ToolCapability) Bundle {
	return b.With(CategoryFuzzing, tool)
}

func (b Bundle) WithTestFramework(tool ToolCapability) Bundle {
	return b.With(CategoryTestFramework, tool)
}

// WithFlag returns a copy with the flag set.
func (b Bundle) WithFlag(name string) Bundle {
	out := b.Clone()
	if out.Flags == nil {
		out.Flags = map[string]bool{}
	}
	out.Flags[name] = true
	return out
}

// WithMetadata returns a copy with key set to value.
func (b Bundle) WithMetadata(key, value string) Bundle {
	out := b.Clone()
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	out.Metadata[key] = value
	return out
}

// HasCapability reports whether any tool in category c is satisfied.
// A category with no declared tools is never satisfied.
func (b *Bundle) HasCapability(c Category, checker ToolChecker, now time.Time) bool {
	tools := b.Tools(c)
	for i := range tools {
		if tools[i].IsSatisfied(checker, now) {
			return true
		}
	}
	return false
}

// HasAllRequiredTools reports whether every required tool, in any
// category, is satisfied. Optional tools are ignored.
func (b *Bundle) HasAllRequiredTools(checker ToolChecker, now time.Time) bool {
	ok := true
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		if t.Required && !t.IsSatisfied(checker, now) {
			ok = false
		}
		return ok
	})
	return ok
}

// VerifyAllCapabilities reports whether every tool is live, unrevoked and
// carries an attestation that v accepts.
func (b *Bundle) VerifyAllCapabilities(v AttestationVerifier, now time.Time) bool {
	ok := true
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		if t.IsExpired(now) || t.IsRevoked() || !t.VerifyAttestation(v, now) {
			ok = false
		}
		return ok
	})
	return ok
}

// HasRequiredPermission reports whether any tool in category c grants the
// named permission.
func (b *Bundle) HasRequiredPermission(c Category, permission string) bool {
	tools := b.Tools(c)
	for i := range tools {
		if tools[i].HasPermission(permission) {
			return true
		}
	}
	return false
}

// RevokeAll revokes every tool with the same reason and revoker. Each tool
// takes its own timestamp from clock as it is processed.
func (b *Bundle) RevokeAll(reason, revokedBy string, clock Clock) int {
	if clock == nil {
		clock = SystemClock
	}
	n := 0
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		t.Revoke(reason, revokedBy, clock.Now())
		n++
		return true
	})
	return n
}

// AllToolNames returns every primary and alternative name, in declaration
// order, duplicates included.
func (b *Bundle) AllToolNames() []string {
	var names []string
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		names = append(names, t.Names()...)
		return true
	})
	return names
}

// ToolCount returns the number of tools across all categories.
func (b *Bundle) ToolCount() int {
	n := 0
	for _, c := range Categories {
		n += len(*b.slot(c))
	}
	return n
}

// HasRevokedTool reports whether any tool in the bundle is revoked.
func (b *Bundle) HasRevokedTool() bool {
	revoked := false
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		revoked = t.IsRevoked()
		return !revoked
	})
	return revoked
}

// HasFlag reports whether the flag is set to true.
func (b *Bundle) HasFlag(name string) bool {
	return b.Flags[name]
}

// MetadataValue looks up a metadata entry.
func (b *Bundle) MetadataValue(key string) (string, bool) {
	v, ok := b.Metadata[key]
	return v, ok
}

// Clone returns a deep copy; nil slices and maps stay nil.
func (b Bundle) Clone() Bundle {
	out := Bundle{ID: b.ID}
	for _, c := range Categories {
		src := *b.slot(c)
		if src == nil {
			continue
		}
		dst := make([]ToolCapability, len(src))
		for i := range src {
			dst[i] = src[i].Clone()
		}
		*out.slot(c) = dst
	}
	out.Flags = maps.Clone(b.Flags)
	out.Metadata = maps.Clone(b.Metadata)
	return out
}

// Validate checks the bundle id, declaration limits and every tool.
func (b *Bundle) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidBundle)
	}
	if n := b.ToolCount(); n > MaxToolsPerWorker {
		return fmt.Errorf("%w: %s declares %d tools, limit is %d", ErrInvalidBundle, b.ID, n, MaxToolsPerWorker)
	}
	if len(b.Flags) > MaxCapabilityFlags {
		return fmt.Errorf("%w: %s has more than %d flags", ErrInvalidBundle, b.ID, MaxCapabilityFlags)
	}
	if len(b.Metadata) > MaxMetadataEntries {
		return fmt.Errorf("%w: %s has more than %d metadata entries", ErrInvalidBundle, b.ID, MaxMetadataEntries)
	}
	var err error
	b.eachTool(func(_ Category, t *ToolCapability) bool {
		if verr := t.Validate(); verr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrInvalidBundle, b.ID, verr)
			return false
		}
		return true
	})
	return err
}
