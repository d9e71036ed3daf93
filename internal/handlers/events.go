package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lifelog/internal/contextutil"
	"lifelog/internal/lifecycle"
)

// Emitter publishes lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, t lifecycle.EventType, payload map[string]any) lifecycle.Event
}

// EventBus is the subset of the lifecycle bus the event endpoints need.
type EventBus interface {
	Emitter
	On(t lifecycle.EventType, listener lifecycle.Listener) func()
}

// DefaultStreamBuffer is the number of events buffered per stream client.
const DefaultStreamBuffer = 64

var errSlowConsumer = errors.New("event stream client is not keeping up")

// EventHandler lets clients publish lifecycle events and follow the bus.
type EventHandler struct {
	bus        EventBus
	bufferSize int
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(bus EventBus) *EventHandler {
	return &EventHandler{bus: bus, bufferSize: DefaultStreamBuffer}
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Publish emits a client-reported event such as FOCUS_GAINED or
// ROUTE_CHANGED and returns the delivered event.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	t := lifecycle.EventType(strings.TrimSpace(req.Type))
	if t == "" || t == lifecycle.AllEvents {
		writeError(w, http.StatusBadRequest, "Validation error: event type is required")
		return
	}

	ev := h.bus.Emit(r.Context(), t, req.Payload)
	writeJSON(w, r, http.StatusAccepted, ev)
}

// Stream sends bus events to the client as Server-Sent Events until the
// client disconnects. ?type= may list event types (comma separated) to keep.
func (h *EventHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.ErrorContext(ctx, "streaming not supported by response writer")
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	var filter map[lifecycle.EventType]bool
	if raw := r.URL.Query().Get("type"); raw != "" {
		filter = make(map[lifecycle.EventType]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter[lifecycle.EventType(t)] = true
			}
		}
	}

	events := make(chan lifecycle.Event, h.bufferSize)
	unsubscribe := h.bus.On(lifecycle.AllEvents, func(_ context.Context, ev lifecycle.Event) error {
		if filter != nil && !filter[ev.Type] {
			return nil
		}
		select {
		case events <- ev:
			return nil
		default:
			return errSlowConsumer
		}
	})
	defer unsubscribe()

	// Set up Server-Sent Events headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	logger.DebugContext(ctx, "event stream opened")
	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "event stream closed")
			return
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				logger.ErrorContext(ctx, "failed to encode event", "event_type", string(ev.Type), "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				logger.DebugContext(ctx, "event stream write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
