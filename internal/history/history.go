package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of supervision event.
type EventType string

const (
	EventSpawn  EventType = "spawn"
	EventExit   EventType = "exit"
	EventReload EventType = "reload"
	EventBuild  EventType = "build"
)

// Record describes one inner process run within a supervision session.
type Record struct {
	Session    string `json:"session"`    // liveness token path, unique per session
	Generation int    `json:"generation"` // 1 for the first spawn, incremented on every respawn
	PID        int    `json:"pid"`
	ExitCode   int    `json:"exit_code"`
	Reason     string `json:"reason,omitempty"`
}

// Event represents a supervision event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SendTimeout bounds a single Emit call.
const SendTimeout = 2 * time.Second

// Emit sends e to sink, if any, logging failures instead of returning them.
// History is best effort and never changes supervision outcomes.
func Emit(ctx context.Context, sink Sink, log *slog.Logger, typ EventType, rec Record) {
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SendTimeout)
	defer cancel()
	e := Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
	if err := sink.Send(ctx, e); err != nil && log != nil {
		log.Warn("history sink failed", "event", typ, "error", err)
	}
}
