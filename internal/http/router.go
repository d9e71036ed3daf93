package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lifelog/internal/handlers"
	"lifelog/internal/lifecycle"
	"lifelog/internal/observer"
	"lifelog/internal/service"
	"lifelog/internal/storage"
)

const healthPath = "/api/health"

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Store    *storage.Store
	Bus      *lifecycle.Bus
	Observer *observer.Observer
	Posts    *service.PostService
	Habits   *service.HabitService
	Settings *service.SettingsService
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)

	// Add CORS middleware
	r.Use(CORS)

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Observer)
	postHandler := handlers.NewPostHandler(deps.Posts, deps.Observer)
	habitHandler := handlers.NewHabitHandler(deps.Habits, deps.Observer)
	settingsHandler := handlers.NewSettingsHandler(deps.Settings, deps.Observer)
	eventHandler := handlers.NewEventHandler(deps.Bus)
	syncHandler := handlers.NewSyncHandler(deps.Observer, deps.Bus)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/posts", func(r chi.Router) {
			r.Get("/", postHandler.List)
			r.Post("/", postHandler.Create)
			r.Get("/{id}", postHandler.Get)
			r.Patch("/{id}", postHandler.Update)
			r.Delete("/{id}", postHandler.Delete)
		})

		r.Route("/habits", func(r chi.Router) {
			r.Get("/", habitHandler.List)
			r.Post("/", habitHandler.Create)
			r.Get("/{id}", habitHandler.Get)
			r.Patch("/{id}", habitHandler.Update)
			r.Delete("/{id}", habitHandler.Delete)
			r.Post("/{id}/toggle", habitHandler.Toggle)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", settingsHandler.List)
			r.Get("/{key}", settingsHandler.Get)
			r.Put("/{key}", settingsHandler.Put)
			r.Delete("/{key}", settingsHandler.Delete)
		})

		r.Post("/events", eventHandler.Publish)
		r.Get("/events/stream", eventHandler.Stream)

		r.Post("/sync/refresh", syncHandler.Refresh)
		r.Get("/sync/state", syncHandler.State)
	})

	return r
}
