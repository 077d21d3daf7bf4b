package toolcheck

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"go.uber.org/zap"
)

// countingProbe answers from a mutable set and counts calls.
type countingProbe struct {
	mu        sync.Mutex
	available map[string]bool
	calls     int
}

func (p *countingProbe) Available(tool string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.available[tool]
}

func (p *countingProbe) set(tool string, ok bool) {
	p.mu.Lock()
	p.available[tool] = ok
	p.mu.Unlock()
}

func (p *countingProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestLookPathChecker(t *testing.T) {
	c := &LookPathChecker{lookPath: func(name string) (string, error) {
		if name == "semgrep" {
			return "/usr/local/bin/semgrep", nil
		}
		return "", errors.New("executable file not found in $PATH")
	}}

	if !c.Available("semgrep") {
		t.Fatal("expected semgrep available")
	}
	if c.Available("bandit") {
		t.Fatal("expected bandit unavailable")
	}
	if c.Available("") {
		t.Fatal("expected empty name unavailable")
	}
}

func TestCachedChecker_CachesProbe(t *testing.T) {
	probe := &countingProbe{available: map[string]bool{"semgrep": true}}
	c := NewCachedChecker(CachedCheckerConfig{Probe: probe, CacheTTL: 30 * time.Second, Logger: zap.NewNop()})

	if !c.Available("semgrep") || !c.Available("semgrep") {
		t.Fatal("expected semgrep available")
	}
	if c.Available("bandit") || c.Available("bandit") {
		t.Fatal("expected bandit unavailable")
	}
	if got := probe.callCount(); got != 2 {
		t.Fatalf("expected 2 probes (one per tool), got %d", got)
	}
}

func TestCachedChecker_StaleServesThenRefreshes(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	probe := &countingProbe{available: map[string]bool{"semgrep": true}}
	c := NewCachedChecker(CachedCheckerConfig{Probe: probe, CacheTTL: time.Millisecond, Logger: logger})

	if !c.Available("semgrep") {
		t.Fatal("expected semgrep available")
	}
	probe.set("semgrep", false)
	time.Sleep(5 * time.Millisecond)

	// Stale value is served while the refresh runs.
	if !c.Available("semgrep") {
		t.Fatal("expected stale availability to be served")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		res := c.cache.Get("semgrep")
		if res.Hit && !res.Available {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected background refresh to record the new availability")
}

func TestSnapshot(t *testing.T) {
	probe := &countingProbe{available: map[string]bool{"semgrep": true, "afl-fuzz": true}}
	set := Snapshot(probe, []string{"semgrep", "bandit", "afl-fuzz"})

	if len(set) != 2 || !set.Available("semgrep") || !set.Available("afl-fuzz") {
		t.Fatalf("unexpected snapshot %v", set)
	}
	probe.set("semgrep", false)
	if !set.Available("semgrep") {
		t.Fatal("expected snapshot to be unaffected by later changes")
	}

	var _ capability.ToolChecker = set
}
