package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifelog/internal/service"
	"lifelog/internal/storage"
)

// PostHandler serves the posts collection.
type PostHandler struct {
	posts    *service.PostService
	notifier ChangeNotifier
}

// NewPostHandler creates a new PostHandler. notifier may be nil.
func NewPostHandler(posts *service.PostService, notifier ChangeNotifier) *PostHandler {
	return &PostHandler{posts: posts, notifier: notifier}
}

// List returns posts, newest first. ?date= selects a single day and
// ?from=&to= an inclusive range.
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		posts []service.Post
		err   error
	)
	switch {
	case q.Get("date") != "":
		posts, err = h.posts.ByDate(ctx, q.Get("date"))
	case q.Get("from") != "" || q.Get("to") != "":
		posts, err = h.posts.Between(ctx, q.Get("from"), q.Get("to"))
	default:
		posts = h.posts.List(ctx)
	}
	if err != nil {
		handleServiceError(w, r, err, "Failed to list posts")
		return
	}
	writeJSON(w, r, http.StatusOK, posts)
}

// Create stores a new post.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.PostInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	post, err := h.posts.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, err, "Failed to create post")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionPosts, "create", post.ID)
	writeJSON(w, r, http.StatusCreated, post)
}

// Get returns a single post.
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err, "Failed to get post")
		return
	}
	writeJSON(w, r, http.StatusOK, post)
}

// Update applies a partial update to a post.
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch service.PostPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	post, err := h.posts.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, r, err, "Failed to update post")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionPosts, "update", post.ID)
	writeJSON(w, r, http.StatusOK, post)
}

// Delete removes a post.
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.posts.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err, "Failed to delete post")
		return
	}
	notifyChange(r.Context(), h.notifier, storage.CollectionPosts, "delete", id)
	w.WriteHeader(http.StatusNoContent)
}
