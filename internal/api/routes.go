package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes builds the chi router
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.respondWithError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireJSON)

		// public
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Post("/messages/send", h.handleSendMessage)
			r.Get("/messages/{otherUserID}", h.handleGetHistory)

			r.Put("/users/location", h.handleUpdateLocation)
			r.Get("/users/nearby", h.handleGetNearby)
			r.Put("/users/push-token", h.handleUpdatePushToken)
			r.Get("/users", h.handleGetUsers)
			r.Get("/users/me", h.handleGetMe)
			r.Get("/users/{userID}", h.handleGetUser)
		})
	})

	return r
}
