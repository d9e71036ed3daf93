package handlers

import (
	"context"
	"net/http"

	"lifelog/internal/lifecycle"
	"lifelog/internal/observer"
)

// SyncObserver is the observer surface behind the sync endpoints.
type SyncObserver interface {
	StateReader
	ForceRefresh(ctx context.Context) []observer.ChangeResult
}

// SyncHandler exposes manual refresh and the observer state.
type SyncHandler struct {
	observer SyncObserver
	events   Emitter
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(obs SyncObserver, events Emitter) *SyncHandler {
	return &SyncHandler{observer: obs, events: events}
}

// Refresh emits DATA_SYNC_REQUESTED, then recomputes every collection and
// broadcasts DATA_CHANGED for each. It returns the per-collection results.
func (h *SyncHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.events.Emit(ctx, lifecycle.DataSyncRequested, map[string]any{"source": "api"})
	writeJSON(w, r, http.StatusOK, h.observer.ForceRefresh(ctx))
}

// State returns the cached state of every observed collection.
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.observer.States())
}
