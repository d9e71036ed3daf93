package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifelog/internal/service"
	"lifelog/internal/storage"
)

// SettingsHandler serves user settings.
type SettingsHandler struct {
	settings *service.SettingsService
	notifier ChangeNotifier
}

// NewSettingsHandler creates a new SettingsHandler. notifier may be nil.
func NewSettingsHandler(settings *service.SettingsService, notifier ChangeNotifier) *SettingsHandler {
	return &SettingsHandler{settings: settings, notifier: notifier}
}

// SettingRequest is the body of PUT /api/settings/{key}.
type SettingRequest struct {
	Value any `json:"value"`
}

// List returns every setting as a key/value object.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.settings.All(r.Context()))
}

// Get returns a single setting.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	setting, err := h.settings.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		handleServiceError(w, r, err, "Failed to get setting")
		return
	}
	writeJSON(w, r, http.StatusOK, setting)
}

// Put creates or replaces a setting.
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	setting, err := h.settings.Set(r.Context(), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		handleServiceError(w, r, err, "Failed to save setting")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionSettings, "set", setting.Key)
	writeJSON(w, r, http.StatusOK, setting)
}

// Delete removes a setting.
func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.settings.Delete(r.Context(), key); err != nil {
		handleServiceError(w, r, err, "Failed to delete setting")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionSettings, "delete", key)
	w.WriteHeader(http.StatusNoContent)
}
