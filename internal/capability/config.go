package capability

import "time"

// Defaults applied to tools built without explicit permissions or expiration.
const (
	DefaultMemoryLimitMB   = 128
	DefaultCPULimitPercent = 50
	DefaultTimeoutSeconds  = 30

	DefaultExpiration = 24 * time.Hour
	MaxExpiration     = 365 * 24 * time.Hour
)

// Declaration limits.
const (
	MaxToolNameLength    = 256
	MaxAlternativeTools  = 10
	MaxCapabilityFlags   = 100
	MaxMetadataEntries   = 50
	MaxToolsPerWorker    = 100
	MaxRegisteredWorkers = 1000

	// CapabilityHashLength is the length of a hex SHA-256 digest.
	CapabilityHashLength = 64

	// MaxWireInteger bounds every integer field. Bundles travel as JSON
	// numbers, which are exact only up to 2^53-1.
	MaxWireInteger = 1<<53 - 1
)

// Config holds the values new tools are created with.
type Config struct {
	Permissions   Permissions
	Expiration    time.Duration // lifetime of a newly created tool
	MaxExpiration time.Duration // upper bound for any requested lifetime
}

// DefaultPermissions grants no scopes and the default resource limits.
func DefaultPermissions() Permissions {
	return Permissions{
		MemoryLimitMB:   DefaultMemoryLimitMB,
		CPULimitPercent: DefaultCPULimitPercent,
		TimeoutSeconds:  DefaultTimeoutSeconds,
	}
}

// DefaultConfig returns the stock construction defaults.
func DefaultConfig() Config {
	return Config{
		Permissions:   DefaultPermissions(),
		Expiration:    DefaultExpiration,
		MaxExpiration: MaxExpiration,
	}
}

// Factory builds tools from a Config and a Clock, so expiries are
// reproducible when the clock is fixed.
type Factory struct {
	cfg   Config
	clock Clock
}

// NewFactory creates a Factory. Zero durations fall back to the defaults and
// a nil clock uses SystemClock.
func NewFactory(cfg Config, clock Clock) *Factory {
	if cfg.Expiration <= 0 {
		cfg.Expiration = DefaultExpiration
	}
	if cfg.MaxExpiration <= 0 {
		cfg.MaxExpiration = MaxExpiration
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Factory{cfg: cfg, clock: clock}
}

// Config returns the factory's configuration.
func (f *Factory) Config() Config { return f.cfg }

// NewTool creates a tool with the configured permissions and lifetime.
func (f *Factory) NewTool(name string, required bool) ToolCapability {
	return ToolCapability{
		ToolName:    name,
		Required:    required,
		Permissions: f.cfg.Permissions,
		Expiration:  f.ExpiresIn(f.cfg.Expiration),
	}
}

// NewSecureTool creates a tool with explicit permissions and expiration.
func (f *Factory) NewSecureTool(name string, required bool, perms Permissions, exp Expiration) ToolCapability {
	return ToolCapability{
		ToolName:    name,
		Required:    required,
		Permissions: perms,
		Expiration:  exp,
	}
}

// ExpiresIn returns an expiration ttl from now, capped at MaxExpiration.
func (f *Factory) ExpiresIn(ttl time.Duration) Expiration {
	if ttl > f.cfg.MaxExpiration {
		ttl = f.cfg.MaxExpiration
	}
	return ExpiresAfter(f.clock.Now(), ttl)
}
