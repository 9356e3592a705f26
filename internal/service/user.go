package service

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"chatline-backend/internal/auth"
	"chatline-backend/internal/crypto"
	"chatline-backend/internal/models"
	"chatline-backend/internal/notify"
	"chatline-backend/internal/repository"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// NearbyNotifier tells users that someone arrived in their area. The finder is
// run later, outside the request.
type NearbyNotifier interface {
	NotifyLocationUpdate(userID int64, findNearby notify.NearbyFinder) bool
}

// UserOptions holds the tunables of UserService
type UserOptions struct {
	NearbyRadiusKm     float64
	MinPasswordEntropy float64
}

// UserService handles the user business logic
type UserService struct {
	logger       *zap.SugaredLogger
	store        repository.UserStore
	tokenService *auth.TokenService
	cipher       *crypto.LocationCipher
	notifier     NearbyNotifier
	opts         UserOptions
}

// AuthResult is returned by a successful registration or login
type AuthResult struct {
	Token string
	User  *models.User
}

// NearbyUser is another user within the requested radius
type NearbyUser struct {
	User       *models.User
	DistanceKm float64
}

// NewUserService creates a user service
func NewUserService(
	logger *zap.SugaredLogger,
	store repository.UserStore,
	tokenService *auth.TokenService,
	cipher *crypto.LocationCipher,
	notifier NearbyNotifier,
	opts UserOptions,
) *UserService {
	if opts.NearbyRadiusKm <= 0 {
		opts.NearbyRadiusKm = 5
	}
	return &UserService{
		logger:       logger,
		store:        store,
		tokenService: tokenService,
		cipher:       cipher,
		notifier:     notifier,
		opts:         opts,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new user and signs them in
func (s *UserService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return nil, validationError("username, email and password are required")
	}

	if s.opts.MinPasswordEntropy > 0 {
		if err := passwordvalidator.Validate(password, s.opts.MinPasswordEntropy); err != nil {
			return nil, validationError("%s", err.Error())
		}
	}

	// never store plain text passwords
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Errorw("Error generating bcrypt hash", "error", err)
		return nil, internalError("error processing password")
	}

	now := time.Now().UTC()
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// email uniqueness is left to the store constraint so concurrent sign-ups cannot both win
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, newError(ErrConflict, "user already exists")
		}
		s.logger.Errorw("Error saving user", "email", email, "error", err)
		return nil, internalError("error in registration")
	}

	return s.signIn(user)
}

// Login authenticates a user and returns a session token
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// same answer as a wrong password to avoid account enumeration
			return nil, newError(ErrUnauthorized, "invalid credentials")
		}
		s.logger.Errorw("Error loading user for login", "error", err)
		return nil, internalError("error in login")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, newError(ErrUnauthorized, "invalid credentials")
	}

	return s.signIn(user)
}

func (s *UserService) signIn(user *models.User) (*AuthResult, error) {
	token, err := s.tokenService.NewToken(user.ID)
	if err != nil {
		s.logger.Errorw("Error generating token", "userId", user.ID, "error", err)
		return nil, internalError("error generating token")
	}
	return &AuthResult{Token: token, User: user}, nil
}

// GetUser looks a user up by id
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, notFoundError("user not found")
		}
		s.logger.Errorw("Error getting user", "userId", id, "error", err)
		return nil, internalError("error getting user")
	}
	return user, nil
}

// ListUsers returns every user except the caller
func (s *UserService) ListUsers(ctx context.Context, exceptID int64) ([]*models.User, error) {
	users, err := s.store.GetAllUsers(ctx, exceptID)
	if err != nil {
		s.logger.Errorw("Error getting users", "error", err)
		return nil, internalError("error getting users")
	}
	return users, nil
}

// UpdatePushToken registers the device token of a user. An empty token unregisters it.
func (s *UserService) UpdatePushToken(ctx context.Context, userID int64, token string) error {
	if err := s.store.UpdatePushToken(ctx, userID, strings.TrimSpace(token)); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return notFoundError("user not found")
		}
		s.logger.Errorw("Error updating push token", "userId", userID, "error", err)
		return internalError("error updating push token")
	}
	return nil
}

func validLocation(loc models.Location) bool {
	return !math.IsNaN(loc.Latitude) && !math.IsNaN(loc.Longitude) &&
		loc.Latitude >= -90 && loc.Latitude <= 90 &&
		loc.Longitude >= -180 && loc.Longitude <= 180
}

// UpdateLocation stores the encrypted location of a user and tells the users
// within the configured radius about it
func (s *UserService) UpdateLocation(ctx context.Context, userID int64, loc models.Location) error {
	if !validLocation(loc) {
		return validationError("latitude must be within [-90, 90] and longitude within [-180, 180]")
	}

	payload, err := s.cipher.Encrypt(loc)
	if err != nil {
		s.logger.Errorw("Error encrypting location", "userId", userID, "error", err)
		return internalError("error updating location")
	}

	if err := s.store.UpdateLocation(ctx, userID, payload.Ciphertext, payload.IV); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return notFoundError("user not found")
		}
		s.logger.Errorw("Error updating location", "userId", userID, "error", err)
		return internalError("error updating location")
	}

	if s.notifier != nil {
		// the scan decrypts every stored location, it must not run on the request
		s.notifier.NotifyLocationUpdate(userID, func(ctx context.Context) ([]int64, error) {
			return s.nearbyUserIDs(ctx, userID, loc)
		})
	}
	return nil
}

func (s *UserService) nearbyUserIDs(ctx context.Context, userID int64, origin models.Location) ([]int64, error) {
	nearby, err := s.nearbyFrom(ctx, userID, origin, s.opts.NearbyRadiusKm)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(nearby))
	for _, n := range nearby {
		ids = append(ids, n.User.ID)
	}
	return ids, nil
}

// Location decrypts the stored location of user, nil when unavailable
func (s *UserService) Location(user *models.User) *models.Location {
	if !user.HasLocation() {
		return nil
	}
	loc, err := s.cipher.Open(user.LocationCiphertext, user.LocationIV)
	if err != nil {
		s.logger.Warnw("Stored location could not be decrypted", "userId", user.ID, "error", err)
		return nil
	}
	return &loc
}

// Nearby lists the users within radiusKm of the caller, nearest first.
// A radius of zero uses the configured default.
func (s *UserService) Nearby(ctx context.Context, userID int64, radiusKm float64) ([]NearbyUser, error) {
	if radiusKm == 0 {
		radiusKm = s.opts.NearbyRadiusKm
	}
	if radiusKm < 0 || math.IsNaN(radiusKm) {
		return nil, validationError("radiusKm must be positive")
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	origin := s.Location(user)
	if origin == nil {
		return nil, validationError("share your location first")
	}

	nearby, err := s.nearbyFrom(ctx, userID, *origin, radiusKm)
	if err != nil {
		s.logger.Errorw("Error computing nearby users", "userId", userID, "error", err)
		return nil, internalError("error getting nearby users")
	}
	return nearby, nil
}

func (s *UserService) nearbyFrom(ctx context.Context, userID int64, origin models.Location, radiusKm float64) ([]NearbyUser, error) {
	candidates, err := s.store.GetUsersWithLocation(ctx, userID)
	if err != nil {
		return nil, err
	}

	nearby := []NearbyUser{}
	for _, c := range candidates {
		loc := s.Location(c)
		if loc == nil {
			continue
		}
		if d := distanceKm(origin, *loc); d <= radiusKm {
			nearby = append(nearby, NearbyUser{User: c, DistanceKm: d})
		}
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceKm < nearby[j].DistanceKm
	})
	return nearby, nil
}
