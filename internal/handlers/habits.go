package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifelog/internal/service"
	"lifelog/internal/storage"
)

// HabitHandler serves the habits collection.
type HabitHandler struct {
	habits   *service.HabitService
	notifier ChangeNotifier
}

// NewHabitHandler creates a new HabitHandler. notifier may be nil.
func NewHabitHandler(habits *service.HabitService, notifier ChangeNotifier) *HabitHandler {
	return &HabitHandler{habits: habits, notifier: notifier}
}

// List returns all habits by name.
func (h *HabitHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.habits.List(r.Context()))
}

// Create stores a new habit.
func (h *HabitHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.HabitInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	habit, err := h.habits.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err, "Failed to create habit")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionHabits, "create", habit.ID)
	writeJSON(w, r, http.StatusCreated, habit)
}

// Get returns a single habit.
func (h *HabitHandler) Get(w http.ResponseWriter, r *http.Request) {
	habit, err := h.habits.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err, "Failed to get habit")
		return
	}
	writeJSON(w, r, http.StatusOK, habit)
}

// Update renames a habit and/or replaces its schedule. Both fields are
// validated before anything is stored.
func (h *HabitHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var patch service.HabitPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	habit, err := h.habits.Patch(ctx, chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, r, err, "Failed to update habit")
		return
	}
	notifyChange(ctx, h.notifier, storage.CollectionHabits, "update", habit.ID)
	writeJSON(w, r, http.StatusOK, habit)
}

// Toggle flips completion for ?date= (today when absent).
func (h *HabitHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	habit, err := h.habits.Toggle(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("date"))
	if err != nil {
		handleServiceError(w, r, err, "Failed to toggle habit")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionHabits, "toggle", habit.ID)
	writeJSON(w, r, http.StatusOK, habit)
}

// Delete removes a habit.
func (h *HabitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.habits.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err, "Failed to delete habit")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionHabits, "delete", id)
	w.WriteHeader(http.StatusNoContent)
}
