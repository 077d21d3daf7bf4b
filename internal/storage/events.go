package storage

import (
	"time"

	"github.com/google/uuid"
)

// EventWriter persists registry lifecycle events.
// Write must never block the caller.
type EventWriter interface {
	Write(event *CapabilityEvent)
	Close()
}

// Lifecycle actions recorded by the registry.
const (
	ActionRegister = "register"
	ActionRemove   = "remove"
	ActionRevoke   = "revoke"
	ActionClear    = "clear"
)

// CapabilityEvent is one registry mutation.
type CapabilityEvent struct {
	EventID   string
	Timestamp time.Time
	Action    string
	WorkerID  string // empty for clear
	Actor     string
	Reason    string
	ToolCount int32 // tools affected
}

// NewEvent stamps a fresh event id.
func NewEvent(action, workerID string, at time.Time) *CapabilityEvent {
	return &CapabilityEvent{
		EventID:   uuid.NewString(),
		Timestamp: at,
		Action:    action,
		WorkerID:  workerID,
	}
}

// NopWriter discards events.
type NopWriter struct{}

func (NopWriter) Write(*CapabilityEvent) {}
func (NopWriter) Close()                 {}
