package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"chatline-backend/internal/auth"
	"chatline-backend/internal/models"
	"chatline-backend/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Handler holds the dependencies of the HTTP handlers
type Handler struct {
	logger         *zap.SugaredLogger
	userService    *service.UserService
	messageService *service.MessageService
	tokenService   *auth.TokenService
	validate       *validator.Validate
	allowedOrigins []string
}

// NewHandler creates a Handler
func NewHandler(
	logger *zap.SugaredLogger,
	userSvc *service.UserService,
	messageSvc *service.MessageService,
	tokenSvc *auth.TokenService,
	allowedOrigins []string,
) *Handler {
	validate := validator.New()
	// report fields by their JSON names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		logger:         logger,
		userService:    userSvc,
		messageService: messageSvc,
		tokenService:   tokenSvc,
		validate:       validate,
		allowedOrigins: allowedOrigins,
	}
}

// === Response helpers ===

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Errorw("Error serializing JSON", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"internal error serializing response"}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithServiceError maps the service error classes onto HTTP statuses
func (h *Handler) respondWithServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		h.logger.Errorw("Unexpected error", "error", err)
		h.respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		code = http.StatusConflict
	}
	h.respondWithError(w, code, svcErr.Error())
}

// decodeAndValidate reads a JSON body into req and runs the struct validation.
// On failure the response is already written.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}

	if err := h.validate.Struct(req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "invalid data"
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// === API response schemas ===

type (
	UserResponse struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}

	ProfileResponse struct {
		UserResponse
		Location *models.Location `json:"location"`
	}

	AuthResponse struct {
		Token string       `json:"token"`
		User  UserResponse `json:"user"`
	}

	NearbyUserResponse struct {
		UserResponse
		DistanceKm float64 `json:"distanceKm"`
	}
)

func newUserResponse(u *models.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email}
}

func newAuthResponse(res *service.AuthResult) AuthResponse {
	return AuthResponse{Token: res.Token, User: newUserResponse(res.User)}
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// === Auth handlers ===

// handleRegister (POST /auth/register)
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required,max=64"`
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,max=72"` // bcrypt reads at most 72 bytes
	}

	// 1. Decode and validate the body
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	// 2. Create the user, a taken email comes back as a conflict
	res, err := h.userService.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	// 3. Answer with the session token, the user is signed in right away
	h.respondWithJSON(w, http.StatusCreated, newAuthResponse(res))
}

// handleLogin (POST /auth/login)
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, newAuthResponse(res))
}

// === Message handlers ===

// handleSendMessage (POST /messages/send)
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sender := currentUser(r)

	var req struct {
		ReceiverID int64  `json:"receiverId" validate:"required,gt=0"`
		Content    string `json:"content" validate:"required"`
	}

	// 1. Decode and validate, nothing is written for a bad request
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	// 2. Persist the message. The push to the receiver is scheduled by the
	// service and never changes this response.
	message, err := h.messageService.Send(r.Context(), sender.ID, req.ReceiverID, req.Content)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, message)
}

// handleGetHistory (GET /messages/{otherUserID})
func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	// 1. Parse the other user id and the optional limit
	otherID, ok := idParam(r, "otherUserID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	// 2. Load the latest messages of the pair, oldest first
	messages, err := h.messageService.History(r.Context(), user.ID, otherID, limit)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}
	// 3. An empty conversation is [] rather than null
	if messages == nil {
		messages = []*models.Message{}
	}

	h.respondWithJSON(w, http.StatusOK, messages)
}

// === User handlers ===

// handleUpdateLocation (PUT /users/location)
func (h *Handler) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		Latitude  *float64 `json:"latitude" validate:"required,latitude"`
		Longitude *float64 `json:"longitude" validate:"required,longitude"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	// pointers tell a missing coordinate apart from 0
	loc := models.Location{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.userService.UpdateLocation(r.Context(), user.ID, loc); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Location updated successfully"})
}

// handleGetNearby (GET /users/nearby)
func (h *Handler) handleGetNearby(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	radius := 0.0
	if v := r.URL.Query().Get("radiusKm"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			h.respondWithError(w, http.StatusBadRequest, "radiusKm must be a positive number")
			return
		}
		radius = f
	}

	nearby, err := h.userService.Nearby(r.Context(), user.ID, radius)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	response := make([]NearbyUserResponse, 0, len(nearby))
	for _, n := range nearby {
		response = append(response, NearbyUserResponse{
			UserResponse: newUserResponse(n.User),
			DistanceKm:   n.DistanceKm,
		})
	}
	h.respondWithJSON(w, http.StatusOK, response)
}

// handleUpdatePushToken (PUT /users/push-token)
func (h *Handler) handleUpdatePushToken(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req struct {
		PushToken string `json:"pushToken" validate:"max=4096"`
	}
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.userService.UpdatePushToken(r.Context(), user.ID, req.PushToken); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]string{"message": "Push token updated successfully"})
}

// handleGetUsers (GET /users)
func (h *Handler) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	users, err := h.userService.ListUsers(r.Context(), user.ID)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, newUserResponse(u))
	}
	h.respondWithJSON(w, http.StatusOK, response)
}

// handleGetMe (GET /users/me)
func (h *Handler) handleGetMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	h.respondWithJSON(w, http.StatusOK, ProfileResponse{
		UserResponse: newUserResponse(user),
		Location:     h.userService.Location(user),
	})
}

// handleGetUser (GET /users/{userID})
func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "userID")
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.userService.GetUser(r.Context(), id)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, newUserResponse(user))
}
