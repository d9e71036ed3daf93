// Package lifecycle provides a typed publish/subscribe registry for
// application lifecycle events.
package lifecycle

import (
	"context"
	"time"
)

// EventType names a kind of lifecycle event.
type EventType string

// Built-in lifecycle event types.
const (
	InitStart         EventType = "INIT_START"
	InitComplete      EventType = "INIT_COMPLETE"
	InitError         EventType = "INIT_ERROR"
	RouteChanged      EventType = "ROUTE_CHANGED"
	SessionStart      EventType = "SESSION_START"
	SessionEnd        EventType = "SESSION_END"
	FocusGained       EventType = "FOCUS_GAINED"
	FocusLost         EventType = "FOCUS_LOST"
	DataChanged       EventType = "DATA_CHANGED"
	DataSyncRequested EventType = "DATA_SYNC_REQUESTED"
	ShutdownStart     EventType = "SHUTDOWN_START"
	ShutdownComplete  EventType = "SHUTDOWN_COMPLETE"
)

// ThemeChanged is an application-defined event emitted when the theme setting changes.
const ThemeChanged EventType = "THEME_CHANGED"

// AllEvents subscribes a listener to every event type.
const AllEvents EventType = "*"

var builtin = map[EventType]bool{
	InitStart: true, InitComplete: true, InitError: true,
	RouteChanged: true, SessionStart: true, SessionEnd: true,
	FocusGained: true, FocusLost: true,
	DataChanged: true, DataSyncRequested: true,
	ShutdownStart: true, ShutdownComplete: true,
}

// IsBuiltin reports whether t is one of the predefined lifecycle types.
func IsBuiltin(t EventType) bool {
	return builtin[t]
}

// Event is an immutable message delivered to listeners.
type Event struct {
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Listener handles an event. A returned error is logged and does not stop
// delivery to other listeners.
type Listener func(ctx context.Context, ev Event) error

// RouteChangedPayload builds the ROUTE_CHANGED payload.
func RouteChangedPayload(previous, current, navigationType string) map[string]any {
	return map[string]any{
		"previous":       previous,
		"current":        current,
		"navigationType": navigationType,
	}
}
