package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/metrics"
	"github.com/triage-ai/palisade/services/capability_registry/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrRegistryFull  = errors.New("registry is full")
	ErrWorkerChanged = errors.New("update changed the worker id")
	ErrWorkerRevoked = errors.New("worker has revoked capabilities")
)

// Config configures a Registry.
type Config struct {
	// Verifier checks attestations. Nil verifies nothing, so no worker
	// counts as verified.
	Verifier   capability.AttestationVerifier
	Clock      capability.Clock
	Writer     storage.EventWriter
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	MaxWorkers int
}

// Statistics aggregates counts over every registered worker.
type Statistics struct {
	TotalWorkers    int `json:"total_workers"`
	VerifiedWorkers int `json:"verified_workers"`
	TotalTools      int `json:"total_tools"`
	RequiredTools   int `json:"required_tools"`
	VerifiedTools   int `json:"verified_tools"`
}

// Registry is an in-memory store of worker bundles keyed by worker id.
// Mutations take the write lock; queries share the read lock. Two queries
// racing a mutation may observe different registry states.
//
// Bundles go in and come out as copies, so callers never alias registry
// state. Query results are sorted by worker id.
type Registry struct {
	verifier   capability.AttestationVerifier
	clock      capability.Clock
	writer     storage.EventWriter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	maxWorkers int

	mu      sync.RWMutex
	bundles map[string]*capability.Bundle
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	r := &Registry{
		clock:      cfg.Clock,
		writer:     cfg.Writer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		maxWorkers: cfg.MaxWorkers,
		bundles:    make(map[string]*capability.Bundle),
	}
	if cfg.Verifier != nil {
		r.verifier = &safeVerifier{inner: cfg.Verifier, logger: cfg.Logger}
	}
	if r.clock == nil {
		r.clock = capability.SystemClock
	}
	if r.writer == nil {
		r.writer = storage.NopWriter{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.maxWorkers <= 0 {
		r.maxWorkers = capability.MaxRegisteredWorkers
	}
	return r
}

// Register validates b and stores a copy under b.ID. A bundle already
// registered under that id is replaced whole; nothing is merged.
func (r *Registry) Register(b capability.Bundle, actor string) error {
	if err := r.register(b, actor, false); err != nil {
		return fmt.Errorf("Register: %w", err)
	}
	return nil
}

// RegisterUnlessRevoked is Register, except that it refuses to replace a
// bundle holding any revoked tool. The check and the store happen under one
// lock, so a concurrent revoke cannot be overwritten.
func (r *Registry) RegisterUnlessRevoked(b capability.Bundle, actor string) error {
	if err := r.register(b, actor, true); err != nil {
		return fmt.Errorf("RegisterUnlessRevoked: %w", err)
	}
	return nil
}

func (r *Registry) register(b capability.Bundle, actor string, keepRevoked bool) error {
	if err := b.Validate(); err != nil {
		return err
	}
	stored := b.Clone()

	r.mu.Lock()
	prev, exists := r.bundles[stored.ID]
	if exists && keepRevoked && prev.HasRevokedTool() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerRevoked, stored.ID)
	}
	if !exists && len(r.bundles) >= r.maxWorkers {
		r.mu.Unlock()
		return fmt.Errorf("%w: limit is %d workers", ErrRegistryFull, r.maxWorkers)
	}
	r.bundles[stored.ID] = &stored
	n := len(r.bundles)
	r.mu.Unlock()

	r.logger.Info("worker registered",
		zap.String("worker_id", stored.ID),
		zap.Int("tool_count", stored.ToolCount()),
		zap.Bool("replaced", exists),
		zap.String("actor", actor),
	)
	r.record(storage.ActionRegister, stored.ID, actor, "", stored.ToolCount(), n)
	return nil
}

// Get returns a copy of the bundle registered under id.
func (r *Registry) Get(id string) (capability.Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[id]
	if !ok {
		return capability.Bundle{}, false
	}
	return b.Clone(), true
}

// Update applies fn to the bundle registered under id while holding the
// write lock. The edited bundle must keep its id and stay valid, otherwise
// the stored bundle is left untouched and the error returned. Reports false
// if id is not registered.
func (r *Registry) Update(id string, fn func(b *capability.Bundle)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bundles[id]
	if !ok {
		return false, nil
	}

	edited := cur.Clone()
	fn(&edited)
	if edited.ID != id {
		return true, fmt.Errorf("Update: %w: %s -> %s", ErrWorkerChanged, id, edited.ID)
	}
	if err := edited.Validate(); err != nil {
		return true, fmt.Errorf("Update: %w", err)
	}
	r.bundles[id] = &edited
	return true, nil
}

// ListIDs returns every registered worker id, sorted.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDs()
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bundles[id]
	return ok
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bundles)
}

// Remove deletes the bundle registered under id. Reports false if absent.
func (r *Registry) Remove(id, actor string) bool {
	r.mu.Lock()
	b, ok := r.bundles[id]
	if ok {
		delete(r.bundles, id)
	}
	n := len(r.bundles)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Info("worker removed", zap.String("worker_id", id), zap.String("actor", actor))
	r.record(storage.ActionRemove, id, actor, "", b.ToolCount(), n)
	return true
}

// Clear removes every bundle and returns how many were removed.
func (r *Registry) Clear(actor string) int {
	r.mu.Lock()
	n := len(r.bundles)
	tools := 0
	for _, b := range r.bundles {
		tools += b.ToolCount()
	}
	clear(r.bundles)
	r.mu.Unlock()

	r.logger.Info("registry cleared", zap.Int("workers", n), zap.String("actor", actor))
	r.record(storage.ActionClear, "", actor, "", tools, 0)
	return n
}

// RevokeWorkerCapabilities revokes every tool of the worker with the same
// reason and revoker. Reports false, changing nothing, if id is not
// registered.
func (r *Registry) RevokeWorkerCapabilities(id, reason, revokedBy string) bool {
	r.mu.Lock()
	b, ok := r.bundles[id]
	var revoked int
	if ok {
		revoked = b.RevokeAll(reason, revokedBy, r.clock)
	}
	n := len(r.bundles)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.logger.Warn("worker capabilities revoked",
		zap.String("worker_id", id),
		zap.String("reason", reason),
		zap.String("revoked_by", revokedBy),
		zap.Int("tool_count", revoked),
	)
	r.record(storage.ActionRevoke, id, revokedBy, reason, revoked, n)
	return true
}

func (r *Registry) record(action, workerID, actor, reason string, tools, size int) {
	e := storage.NewEvent(action, workerID, r.clock.Now())
	e.Actor = actor
	e.Reason = reason
	e.ToolCount = int32(tools)
	r.writer.Write(e)

	r.metrics.LifecycleOperation(action)
	r.metrics.SetRegisteredWorkers(size)
}

// sortedIDs must be called with r.mu held.
func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.bundles))
	for id := range r.bundles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// filter returns copies of the bundles match accepts, sorted by id. The
// clock is read once and the same instant is used for every bundle.
func (r *Registry) filter(query string, match func(b *capability.Bundle, now time.Time) bool) []capability.Bundle {
	r.metrics.Query(query)
	now := r.clock.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []capability.Bundle
	for _, id := range r.sortedIDs() {
		b := r.bundles[id]
		if match(b, now) {
			out = append(out, b.Clone())
		}
	}
	return out
}
