package declaration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"gopkg.in/yaml.v3"
)

var ErrInvalidManifest = errors.New("invalid capability manifest")

// Manifest is the YAML document a worker ships to declare its tools.
//
//	id: scanner-7
//	flags: {sandboxed: true}
//	metadata: {region: eu-west-1}
//	tools:
//	  static_analysis:
//	    - name: semgrep
//	      required: true
//	      alternatives: [opengrep]
//	      ttl: 72h
//	      permissions: {filesystem_access: true, memory_limit_mb: 512}
type Manifest struct {
	ID       string                    `yaml:"id" json:"id"`
	Flags    map[string]bool           `yaml:"flags,omitempty" json:"flags,omitempty"`
	Metadata map[string]string         `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Tools    map[string][]ManifestTool `yaml:"tools" json:"tools"`
}

// ManifestTool declares one tool. Unset permission fields and ttl fall back
// to the factory's configuration.
type ManifestTool struct {
	Name         string               `yaml:"name" json:"name"`
	Required     bool                 `yaml:"required,omitempty" json:"required,omitempty"`
	Alternatives []string             `yaml:"alternatives,omitempty" json:"alternatives,omitempty"`
	TTL          string               `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Permissions  *ManifestPermissions `yaml:"permissions,omitempty" json:"permissions,omitempty"`
}

// ManifestPermissions overrides individual permission fields.
type ManifestPermissions struct {
	FilesystemAccess *bool   `yaml:"filesystem_access,omitempty" json:"filesystem_access,omitempty"`
	NetworkAccess    *bool   `yaml:"network_access,omitempty" json:"network_access,omitempty"`
	ProcessSpawn     *bool   `yaml:"process_spawn,omitempty" json:"process_spawn,omitempty"`
	EnvAccess        *bool   `yaml:"env_access,omitempty" json:"env_access,omitempty"`
	SystemAccess     *bool   `yaml:"system_access,omitempty" json:"system_access,omitempty"`
	MemoryLimitMB    *uint64 `yaml:"memory_limit_mb,omitempty" json:"memory_limit_mb,omitempty"`
	CPULimitPercent  *uint8  `yaml:"cpu_limit_percent,omitempty" json:"cpu_limit_percent,omitempty"`
	TimeoutSeconds   *uint64 `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadManifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("LoadManifest: %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest decodes YAML and validates it against the manifest schema.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	// The schema validator works on JSON values, so round-trip the generic
	// YAML tree through encoding/json first.
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := validateJSON(manifestSchema, asJSON); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return &m, nil
}

// Bundle builds the worker's bundle. Tools are created through f, so their
// expiry is relative to f's clock. The result is validated.
func (m *Manifest) Bundle(f *capability.Factory) (capability.Bundle, error) {
	for name := range m.Tools {
		if _, ok := capability.ParseCategory(name); !ok {
			return capability.Bundle{}, fmt.Errorf("%w: %s: unknown category %q", ErrInvalidManifest, m.ID, name)
		}
	}

	bb := capability.NewBuilder(m.ID)
	for k, v := range m.Metadata {
		bb.Metadata(k, v)
	}

	// Walk categories in declaration order so tool order is stable.
	for _, c := range capability.Categories {
		for _, mt := range m.Tools[c.String()] {
			tool, err := mt.build(f)
			if err != nil {
				return capability.Bundle{}, fmt.Errorf("%w: %s: %w", ErrInvalidManifest, m.ID, err)
			}
			bb.Add(c, tool)
		}
	}
	b := bb.Build()
	for flag, on := range m.Flags {
		b.Flags[flag] = on
	}
	if err := b.Validate(); err != nil {
		return capability.Bundle{}, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return b, nil
}

func (mt ManifestTool) build(f *capability.Factory) (capability.ToolCapability, error) {
	exp := f.ExpiresIn(f.Config().Expiration)
	if mt.TTL != "" {
		ttl, err := time.ParseDuration(mt.TTL)
		if err != nil {
			return capability.ToolCapability{}, fmt.Errorf("%s: ttl: %w", mt.Name, err)
		}
		if ttl <= 0 {
			return capability.ToolCapability{}, fmt.Errorf("%s: ttl must be positive", mt.Name)
		}
		exp = f.ExpiresIn(ttl)
	}

	perms := f.Config().Permissions
	mt.Permissions.apply(&perms)

	tool := f.NewSecureTool(mt.Name, mt.Required, perms, exp)
	if len(mt.Alternatives) > 0 {
		tool = tool.WithAlternatives(mt.Alternatives...)
	}
	return tool, nil
}

func (mp *ManifestPermissions) apply(p *capability.Permissions) {
	if mp == nil {
		return
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	setBool(&p.FilesystemAccess, mp.FilesystemAccess)
	setBool(&p.NetworkAccess, mp.NetworkAccess)
	setBool(&p.ProcessSpawn, mp.ProcessSpawn)
	setBool(&p.EnvAccess, mp.EnvAccess)
	setBool(&p.SystemAccess, mp.SystemAccess)
	if mp.MemoryLimitMB != nil {
		p.MemoryLimitMB = *mp.MemoryLimitMB
	}
	if mp.CPULimitPercent != nil {
		p.CPULimitPercent = *mp.CPULimitPercent
	}
	if mp.TimeoutSeconds != nil {
		p.TimeoutSeconds = *mp.TimeoutSeconds
	}
}
