package api

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"chatline-backend/internal/models"
	"chatline-backend/internal/repository/zapadapter"
	"chatline-backend/internal/service"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"
)

// contextKey is a private type so context keys cannot collide with other packages
type contextKey string

const userContextKey = contextKey("user")

// currentUser returns the user stored by AuthMiddleware
func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}

// AuthMiddleware validates the bearer token and loads its user into the request context
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Read the Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			h.respondWithError(w, http.StatusUnauthorized, "authorization token not provided")
			return
		}

		// 2. Expect "Bearer <token>", scheme case-insensitive
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			h.respondWithError(w, http.StatusUnauthorized, "malformed authorization header")
			return
		}

		// 3. Check signature and expiry, take the user id from the claims
		userID, err := h.tokenService.Verify(parts[1])
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		// 4. The account may have been removed since the token was issued.
		// Storage failures are not the client's fault and stay 500.
		user, err := h.userService.GetUser(r.Context(), userID)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				h.respondWithError(w, http.StatusUnauthorized, "token user not found")
				return
			}
			h.respondWithServiceError(w, err)
			return
		}

		// 5. Store the user in the request context
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireJSON rejects request bodies that declare a content type other than JSON.
// A missing Content-Type is accepted and treated as JSON.
func (h *Handler) requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodPut {
			next.ServeHTTP(w, r)
			return
		}

		contentType := r.Header.Get("Content-Type")
		if contentType == "" {
			next.ServeHTTP(w, r)
			return
		}

		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "malformed Content-Type header")
			return
		}
		if mt != "application/json" {
			h.respondWithError(w, http.StatusUnsupportedMediaType, "Content-Type header must be application/json")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger tags each request with an id, shared with the database logs, and
// logs it once it completes.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()
		ctx := zapadapter.NewContextWithID(r.Context(), id)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		h.logger.Infow("http request",
			"id", id,
			"method", r.Method,
			"uri", r.URL.RequestURI(),
			"ip", r.RemoteAddr,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
