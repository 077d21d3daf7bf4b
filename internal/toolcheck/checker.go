package toolcheck

import (
	"os/exec"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"go.uber.org/zap"
)

const defaultCacheTTL = 60 * time.Second

// LookPathChecker reports a tool available when an executable of that name
// is on $PATH.
type LookPathChecker struct {
	lookPath func(string) (string, error)
}

// NewLookPathChecker creates a checker backed by exec.LookPath.
func NewLookPathChecker() *LookPathChecker {
	return &LookPathChecker{lookPath: exec.LookPath}
}

func (c *LookPathChecker) Available(tool string) bool {
	if tool == "" {
		return false
	}
	_, err := c.lookPath(tool)
	return err == nil
}

// CachedChecker memoizes another checker. Expired entries are served stale
// while one goroutine re-probes in the background.
type CachedChecker struct {
	probe  capability.ToolChecker
	cache  *Cache
	logger *zap.Logger
}

// CachedCheckerConfig configures a CachedChecker.
type CachedCheckerConfig struct {
	Probe    capability.ToolChecker
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewCachedChecker creates a CachedChecker. A nil probe defaults to
// LookPathChecker.
func NewCachedChecker(cfg CachedCheckerConfig) *CachedChecker {
	probe := cfg.Probe
	if probe == nil {
		probe = NewLookPathChecker()
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedChecker{
		probe:  probe,
		cache:  NewCache(ttl),
		logger: logger,
	}
}

func (c *CachedChecker) Available(tool string) bool {
	res := c.cache.Get(tool)
	if res.Hit {
		if res.NeedsRefresh {
			go c.refreshInBackground(tool, res.Available)
		}
		return res.Available
	}

	available := c.probe.Available(tool)
	c.cache.Set(tool, available)
	return available
}

func (c *CachedChecker) refreshInBackground(tool string, previous bool) {
	available := c.probe.Available(tool)
	if available != previous {
		c.logger.Info("tool availability changed",
			zap.String("tool_name", tool),
			zap.Bool("available", available),
		)
	}
	c.cache.Set(tool, available)
}

// Snapshot probes every name once and returns the answers as a fixed set,
// so a query sees one consistent view even if availability changes while it
// runs.
func Snapshot(checker capability.ToolChecker, names []string) capability.ToolSet {
	set := make(capability.ToolSet, len(names))
	for _, name := range names {
		if checker.Available(name) {
			set[name] = struct{}{}
		}
	}
	return set
}
