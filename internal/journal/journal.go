// Package journal exports script lifecycle events to external systems for
// audit and analytics. The journal is append-only and is never read back:
// the catalog remains the only source of restorable state.
package journal

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop"
	EventExit         EventType = "exit"
	EventRestart      EventType = "restart"
	EventGiveUp       EventType = "giveup"
	EventSpawnFailure EventType = "spawn_failure"
)

// Event is one lifecycle occurrence for a managed script.
type Event struct {
	Type       EventType `json:"type"`
	ScriptID   string    `json:"script_id"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for journal events. Implementations must be safe
// for concurrent use; sends are best-effort and must not block supervision.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
